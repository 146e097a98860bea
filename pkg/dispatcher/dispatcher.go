// Package dispatcher implements the AT command table: modem state, the
// line parser, and the reply protocol, driving the registries and
// bridges that do the real work.
package dispatcher

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/comx-labs/modemsim/pkg/bridge"
	"github.com/comx-labs/modemsim/pkg/events"
	"github.com/comx-labs/modemsim/pkg/logger"
	"github.com/comx-labs/modemsim/pkg/metrics"
	"github.com/comx-labs/modemsim/pkg/registry"
)

// Version is reported by ATI.
const Version = "1.0.0"

const (
	cfunDelayOn      = 10 * time.Second
	cfunDelayMinimal = 8 * time.Second
	netopenDelay     = 6 * time.Second
)

// SerialPort is the subset of serialport.Port the dispatcher writes
// replies through and reopens on ATZ.
type SerialPort interface {
	Write(data []byte) error
	WriteString(s string) error
	Reopen() error
}

// ModemState holds the mutable modem flags owned exclusively by the
// dispatcher.
type ModemState struct {
	Echo     bool
	PinReady bool
	Cfun     int
}

// newModemState returns the start-of-run defaults (also ATZ's reset
// target): echo off, PIN ready, cfun normal.
func newModemState() ModemState {
	return ModemState{Echo: false, PinReady: true, Cfun: 1}
}

// CommandDispatcher holds modem state and drives the registries, the
// bridge, and the HTTP bridge in response to one decoded serial chunk
// at a time.
type CommandDispatcher struct {
	Serial  SerialPort
	Servers *registry.ServerRegistry
	Clients *registry.ClientRegistry
	Bridge  *bridge.Bridge
	Http    *bridge.HttpBridge
	Log     *logger.Logger
	Events  *events.Bus

	// Sleeper realizes the CFUN/NETOPEN delay stubs; defaults to
	// time.Sleep but is overridable in tests.
	Sleeper func(time.Duration)

	// mu guards state: it is written by the event loop's goroutine
	// (dispatch/setCfun/reset) and read by every HTTP handler goroutine
	// the monitor server spawns once enabled, so every access goes
	// through it.
	mu    sync.Mutex
	state ModemState
}

// New constructs a CommandDispatcher with start-of-run modem state.
func New() *CommandDispatcher {
	return &CommandDispatcher{state: newModemState()}
}

// State returns a copy of the current modem state, for monitor
// snapshots. Safe to call concurrently with command processing.
func (d *CommandDispatcher) State() ModemState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *CommandDispatcher) echoEnabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state.Echo
}

func (d *CommandDispatcher) setEcho(v bool) {
	d.mu.Lock()
	d.state.Echo = v
	d.mu.Unlock()
}

func (d *CommandDispatcher) pinReady() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state.PinReady
}

func (d *CommandDispatcher) setPinReady(v bool) {
	d.mu.Lock()
	d.state.PinReady = v
	d.mu.Unlock()
}

func (d *CommandDispatcher) sleep(dur time.Duration) {
	if d.Sleeper != nil {
		d.Sleeper(dur)
		return
	}
	time.Sleep(dur)
}

func (d *CommandDispatcher) publish(kind events.Kind, fields map[string]any) {
	if d.Events == nil {
		return
	}
	d.Events.Publish(events.Event{Kind: kind, Fields: fields})
}

// Process normalizes chunk per spec (strip one trailing newline, split
// on newline, strip one trailing carriage return from each piece) and
// executes each resulting command in order.
func (d *CommandDispatcher) Process(chunk string) {
	chunk = strings.TrimSuffix(chunk, "\n")
	for _, line := range strings.Split(chunk, "\n") {
		cmd := strings.TrimSuffix(line, "\r")
		d.dispatch(cmd)
	}
}

func (d *CommandDispatcher) dispatch(cmd string) {
	if cmd == "" {
		return
	}

	if d.echoEnabled() {
		if err := d.Serial.WriteString(cmd + "\r\n"); err != nil {
			d.logErr("writing echo", err)
			return
		}
	}

	// +++ is echoed like any other non-empty line (the source echoes
	// unconditionally before dispatch) but otherwise does nothing.
	if cmd == "+++" {
		return
	}

	reply, ok := d.execute(cmd)
	if !ok {
		if d.Log != nil {
			d.Log.Warn("unknown command", "cmd", cmd)
		}
		metrics.IncCommand(cmd, metrics.ResultError)
		if err := d.Serial.WriteString("ERROR"); err != nil {
			d.logErr("writing error reply", err)
		}
		return
	}

	metrics.IncCommand(cmd, metrics.ResultOK)
	d.publish(events.KindCommand, map[string]any{"cmd": cmd})

	if reply == "" {
		return
	}
	if err := d.Serial.WriteString(reply); err != nil {
		d.logErr("writing reply", err)
	}
}

func (d *CommandDispatcher) logErr(msg string, err error) {
	if d.Log != nil {
		d.Log.Error(msg, "error", err)
	}
}

// execute runs one non-empty, non-escape command and returns its reply
// plus whether the command was recognized. An empty reply with ok=true
// means the command legitimately writes nothing itself (ATO: the
// bridge writes its own frames).
func (d *CommandDispatcher) execute(cmd string) (string, bool) {
	switch {
	case cmd == "AT":
		return "\r\nOK", true

	case cmd == "ATZ":
		d.reset()
		return "\r\nOK", true

	case cmd == "ATI":
		return fmt.Sprintf("\r\nModem Simul v%s", Version), true

	case cmd == "ATE0":
		d.setEcho(false)
		return "\r\nOK", true

	case cmd == "ATO":
		return d.enterBridge(), true

	case cmd == "AT+CFUN=1":
		return d.setCfun(1, cfunDelayOn), true

	case cmd == "AT+CFUN=6":
		return d.setCfun(6, cfunDelayMinimal), true

	case cmd == "AT+CPIN?":
		if d.pinReady() {
			return "\r\n+CPIN: READY", true
		}
		return "\r\n+CPIN: SIM PIN", true

	case strings.HasPrefix(cmd, "AT+CPIN="):
		d.setPinReady(true)
		return "\r\n+CPIN: READY\r\n\r\nSMS DONE\r\n\r\nPB DONE", true

	case cmd == "AT+CIPMODE=1":
		return "\r\nOK", true

	case cmd == "AT+NETOPEN":
		d.sleep(netopenDelay)
		return "\r\nOK", true

	case cmd == "AT+IPADDR":
		return "\r\n+IPADDR: 127.127.127.127", true

	case strings.HasPrefix(cmd, "AT+CHTTPACT="):
		return d.runHttpBridge(strings.TrimPrefix(cmd, "AT+CHTTPACT=")), true

	case strings.HasPrefix(cmd, "AT+SERVERSTART="):
		return d.startServer(strings.TrimPrefix(cmd, "AT+SERVERSTART=")), true

	default:
		return "", false
	}
}

// reset implements the ATZ law: registries empty, counter zero,
// selection unset, serial reopened, modem state back to defaults.
func (d *CommandDispatcher) reset() {
	if d.Clients != nil {
		d.Clients.Reset()
	}
	if d.Servers != nil {
		d.Servers.CloseAll()
	}
	if d.Serial != nil {
		if err := d.Serial.Reopen(); err != nil {
			d.logErr("reopening serial on ATZ", err)
		}
	}
	d.mu.Lock()
	d.state = newModemState()
	d.mu.Unlock()
}

func (d *CommandDispatcher) setCfun(value int, delay time.Duration) string {
	d.mu.Lock()
	changed := d.state.Cfun != value
	d.state.Cfun = value
	d.mu.Unlock()
	if changed {
		d.sleep(delay)
	}
	return "\r\nOK"
}

// enterBridge runs ATO: bridge the currently selected client, or reply
// with the source's literal error text exactly once if no client is
// selected or the selection is stale.
func (d *CommandDispatcher) enterBridge() string {
	entry, id := d.Clients.Selected()
	if entry == nil {
		if id == "" {
			return "\r\nSERVERSTART ERROR: no clients connected"
		}
		return fmt.Sprintf("\r\nSERVERSTART ERROR: client id %s not found", id)
	}

	outcome, err := d.Bridge.Run(entry)
	if err != nil {
		d.logErr("bridge session", err)
	}
	if outcome == bridge.OutcomeClosed {
		if err := d.Clients.Remove(entry.ID); err != nil {
			d.logErr("removing closed client", err)
		}
		d.publish(events.KindClientClosed, map[string]any{"client_id": entry.ID})
	}
	return ""
}

func (d *CommandDispatcher) runHttpBridge(args string) string {
	reply, err := d.Http.Act(args)
	if err != nil {
		d.logErr("http bridge", err)
		return "\r\nERROR"
	}
	return reply
}

// startServer implements AT+SERVERSTART=<port>,<unused>.
func (d *CommandDispatcher) startServer(args string) string {
	portArg := args
	if idx := strings.Index(args, ","); idx >= 0 {
		portArg = args[:idx]
	}
	reply, err := d.Servers.Start(portArg)
	if err != nil {
		d.logErr("starting server", err)
	}
	return reply
}
