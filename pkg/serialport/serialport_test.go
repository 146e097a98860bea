package serialport

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"go.bug.st/serial"
)

// fakePort is a minimal rawPort used to exercise DrainAll without real
// hardware. Each call to Read pops the next queued chunk (or returns 0,
// nil once the queue is empty, like a timed-out non-blocking read).
type fakePort struct {
	mu      sync.Mutex
	chunks  [][]byte
	written bytes.Buffer
	closed  bool
}

func (f *fakePort) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.chunks) == 0 {
		return 0, nil
	}
	chunk := f.chunks[0]
	f.chunks = f.chunks[1:]
	n := copy(p, chunk)
	return n, nil
}

func (f *fakePort) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written.Write(p)
}

func (f *fakePort) Close() error {
	f.closed = true
	return nil
}

func (f *fakePort) SetReadTimeout(time.Duration) error { return nil }

func newTestPort(t *testing.T, chunks ...[]byte) (*Port, *fakePort) {
	t.Helper()
	fp := &fakePort{chunks: chunks}
	cfg, err := NewConfig("/dev/fake", 9600, 8, 'N', 1)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	p := New(cfg, nil)
	p.open = func(string, *serial.Mode) (rawPort, error) { return fp, nil }
	if err := p.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	return p, fp
}

func TestDrainAllAccumulatesUntilQuiet(t *testing.T) {
	p, _ := newTestPort(t, []byte("AT"), []byte("+CPIN?\r\n"))
	got, err := p.DrainAll(true)
	if err != nil {
		t.Fatalf("DrainAll: %v", err)
	}
	want := "AT+CPIN?\r\n"
	if string(got) != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestDrainAllEmptyReturnsNil(t *testing.T) {
	p, _ := newTestPort(t)
	got, err := p.DrainAll(true)
	if err != nil {
		t.Fatalf("DrainAll: %v", err)
	}
	if got != nil {
		t.Errorf("got %q, want nil", got)
	}
}

func TestDrainAllInvalidUTF8DroppedWhenDecoding(t *testing.T) {
	p, _ := newTestPort(t, []byte{0xff, 0xfe, 0xfd})
	got, err := p.DrainAll(true)
	if err != nil {
		t.Fatalf("DrainAll: %v", err)
	}
	if got != nil {
		t.Errorf("expected noisy bytes to be dropped, got %q", got)
	}
}

func TestDrainAllRawBypassesDecode(t *testing.T) {
	p, _ := newTestPort(t, []byte{0xff, 0xfe, 0xfd})
	got, err := p.DrainAll(false)
	if err != nil {
		t.Fatalf("DrainAll: %v", err)
	}
	if !bytes.Equal(got, []byte{0xff, 0xfe, 0xfd}) {
		t.Errorf("got %v, want raw bytes", got)
	}
}

func TestWriteAndReopen(t *testing.T) {
	p, fp := newTestPort(t)
	if err := p.WriteString("\r\nOK"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if fp.written.String() != "\r\nOK" {
		t.Errorf("got %q written", fp.written.String())
	}

	if err := p.Reopen(); err != nil {
		t.Fatalf("Reopen: %v", err)
	}
	if !fp.closed {
		t.Errorf("expected old port closed on reopen")
	}
}

func TestNewConfigRejectsBadFraming(t *testing.T) {
	cases := []struct {
		name     string
		dataBits int
		parity   rune
		stopBits float64
	}{
		{"bad data bits", 9, 'N', 1},
		{"bad parity", 8, 'X', 1},
		{"bad stop bits", 8, 'N', 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewConfig("/dev/ttyUSB0", 9600, tc.dataBits, tc.parity, tc.stopBits); err == nil {
				t.Errorf("expected error")
			}
		})
	}
}
