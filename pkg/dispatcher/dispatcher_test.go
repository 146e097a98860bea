package dispatcher

import (
	"strings"
	"testing"
	"time"

	"github.com/comx-labs/modemsim/pkg/registry"
)

// fakeSerial records every write and never actually closes/reopens
// anything, letting tests assert on reply sequencing without real I/O.
type fakeSerial struct {
	writes  []string
	reopens int
}

func (f *fakeSerial) Write(data []byte) error {
	f.writes = append(f.writes, string(data))
	return nil
}

func (f *fakeSerial) WriteString(s string) error {
	f.writes = append(f.writes, s)
	return nil
}

func (f *fakeSerial) Reopen() error {
	f.reopens++
	return nil
}

func newTestDispatcher() (*CommandDispatcher, *fakeSerial) {
	fs := &fakeSerial{}
	d := New()
	d.Serial = fs
	d.Servers = registry.NewServerRegistry()
	d.Clients = registry.NewClientRegistry()
	d.Sleeper = func(time.Duration) {} // no real delays in tests
	return d, fs
}

func TestATReplyOK(t *testing.T) {
	d, fs := newTestDispatcher()
	d.Process("AT\r\n")
	if len(fs.writes) != 1 || fs.writes[0] != "\r\nOK" {
		t.Fatalf("got %v", fs.writes)
	}
}

func TestEchoLaw(t *testing.T) {
	d, fs := newTestDispatcher()
	d.state.Echo = true
	d.Process("AT\r\n")
	if len(fs.writes) != 2 || fs.writes[0] != "AT\r\n" || fs.writes[1] != "\r\nOK" {
		t.Fatalf("got %v", fs.writes)
	}
}

func TestEchoSuppressedWhenOff(t *testing.T) {
	d, fs := newTestDispatcher()
	d.Process("AT\r\n")
	if len(fs.writes) != 1 {
		t.Fatalf("got %v", fs.writes)
	}
}

func TestATE0DisablesEcho(t *testing.T) {
	d, fs := newTestDispatcher()
	d.state.Echo = true
	d.Process("ATE0\r\n")
	if d.state.Echo {
		t.Fatalf("expected echo disabled")
	}
	if len(fs.writes) != 2 || fs.writes[0] != "ATE0\r\n" || fs.writes[1] != "\r\nOK" {
		t.Fatalf("got %v", fs.writes)
	}
}

func TestUnknownCommandYieldsBareError(t *testing.T) {
	d, fs := newTestDispatcher()
	d.Process("AT+FOO\r\n")
	if len(fs.writes) != 1 || fs.writes[0] != "ERROR" {
		t.Fatalf("got %v", fs.writes)
	}
}

func TestATIReportsVersion(t *testing.T) {
	d, fs := newTestDispatcher()
	d.Process("ATI\r\n")
	want := "\r\nModem Simul v" + Version
	if len(fs.writes) != 1 || fs.writes[0] != want {
		t.Fatalf("got %v, want %q", fs.writes, want)
	}
}

func TestPinFlow(t *testing.T) {
	d, fs := newTestDispatcher()
	d.state.PinReady = false
	d.Process("AT+CPIN?\r\nAT+CPIN=1234\r\nAT+CPIN?\r\n")
	want := []string{
		"\r\n+CPIN: SIM PIN",
		"\r\n+CPIN: READY\r\n\r\nSMS DONE\r\n\r\nPB DONE",
		"\r\n+CPIN: READY",
	}
	if len(fs.writes) != len(want) {
		t.Fatalf("got %v", fs.writes)
	}
	for i := range want {
		if fs.writes[i] != want[i] {
			t.Errorf("write %d: got %q, want %q", i, fs.writes[i], want[i])
		}
	}
}

func TestCfunDelaysOnlyWhenChanged(t *testing.T) {
	d, fs := newTestDispatcher()
	var delays []time.Duration
	d.Sleeper = func(dur time.Duration) { delays = append(delays, dur) }

	d.Process("AT+CFUN=1\r\n") // already 1, no delay
	d.Process("AT+CFUN=6\r\n") // changed, delay
	d.Process("AT+CFUN=6\r\n") // unchanged, no delay

	if len(delays) != 1 || delays[0] != cfunDelayMinimal {
		t.Fatalf("got delays %v", delays)
	}
	for _, w := range fs.writes {
		if w != "\r\nOK" {
			t.Errorf("unexpected write %q", w)
		}
	}
}

func TestNetopenDelay(t *testing.T) {
	d, _ := newTestDispatcher()
	var delays []time.Duration
	d.Sleeper = func(dur time.Duration) { delays = append(delays, dur) }
	d.Process("AT+NETOPEN\r\n")
	if len(delays) != 1 || delays[0] != netopenDelay {
		t.Fatalf("got %v", delays)
	}
}

func TestIPAddr(t *testing.T) {
	d, fs := newTestDispatcher()
	d.Process("AT+IPADDR\r\n")
	if len(fs.writes) != 1 || fs.writes[0] != "\r\n+IPADDR: 127.127.127.127" {
		t.Fatalf("got %v", fs.writes)
	}
}

func TestServerStartIdempotent(t *testing.T) {
	d, fs := newTestDispatcher()
	d.Process("AT+SERVERSTART=0,0\r\n")
	d.Process("AT+SERVERSTART=0,0\r\n")
	if len(fs.writes) != 2 || fs.writes[0] != "\r\nOK" || fs.writes[1] != "\r\nOK" {
		t.Fatalf("got %v", fs.writes)
	}
}

func TestServerStartBadPort(t *testing.T) {
	d, fs := newTestDispatcher()
	d.Process("AT+SERVERSTART=notaport,0\r\n")
	if len(fs.writes) != 1 || fs.writes[0] != "\r\nERROR" {
		t.Fatalf("got %v", fs.writes)
	}
}

func TestATOWithNoClientSelected(t *testing.T) {
	d, fs := newTestDispatcher()
	d.Process("ATO\r\n")
	if len(fs.writes) != 1 || fs.writes[0] != "\r\nSERVERSTART ERROR: no clients connected" {
		t.Fatalf("got %v", fs.writes)
	}
}

func TestATZResetsState(t *testing.T) {
	d, fs := newTestDispatcher()
	d.state.Echo = true
	d.state.PinReady = false
	d.state.Cfun = 6
	d.Process("AT+SERVERSTART=0,0\r\n")

	d.Process("ATZ\r\n")

	if d.state.Echo || !d.state.PinReady || d.state.Cfun != 1 {
		t.Fatalf("state not reset: %+v", d.state)
	}
	if fs.reopens != 1 {
		t.Fatalf("expected one reopen, got %d", fs.reopens)
	}
	if _, id := d.Clients.Selected(); id != "" {
		t.Fatalf("expected selection cleared")
	}
}

func TestNormalizationSplitsMultipleCommands(t *testing.T) {
	d, fs := newTestDispatcher()
	d.Process("AT\r\nATI\r\n")
	if len(fs.writes) != 2 {
		t.Fatalf("got %v", fs.writes)
	}
	if !strings.HasPrefix(fs.writes[1], "\r\nModem Simul") {
		t.Errorf("got %q", fs.writes[1])
	}
}

func TestEscapeAndEmptyLinesProduceNoOutput(t *testing.T) {
	d, fs := newTestDispatcher()
	d.Process("+++\r\n\r\n")
	if len(fs.writes) != 0 {
		t.Fatalf("got %v", fs.writes)
	}
}
