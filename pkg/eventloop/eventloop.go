// Package eventloop implements the top-level scheduler: drain serial
// and dispatch commands, or poll for new TCP clients and bridge them
// immediately, or idle briefly when neither had work.
package eventloop

import (
	"context"
	"fmt"
	"time"

	"github.com/comx-labs/modemsim/pkg/bridge"
	"github.com/comx-labs/modemsim/pkg/dispatcher"
	"github.com/comx-labs/modemsim/pkg/events"
	"github.com/comx-labs/modemsim/pkg/logger"
	"github.com/comx-labs/modemsim/pkg/registry"
)

// idleSleep is how long the loop rests when neither branch had work.
const idleSleep = 100 * time.Millisecond

// SerialPort is the subset of serialport.Port the loop reads from.
type SerialPort interface {
	DrainAll(decode bool) ([]byte, error)
}

// EventLoop is the process's top-level scheduler.
type EventLoop struct {
	Serial     SerialPort
	Dispatcher *dispatcher.CommandDispatcher
	Servers    *registry.ServerRegistry
	Clients    *registry.ClientRegistry
	Bridge     *bridge.Bridge
	Log        *logger.Logger
	Events     *events.Bus

	// Sleep realizes the 100ms idle pause; overridable in tests.
	Sleep func(time.Duration)
}

// Run drives the loop until ctx is canceled. Any serial I/O error
// propagates out; a lost client socket is handled inline and does not
// stop the loop.
func (l *EventLoop) Run(ctx context.Context) error {
	sleep := l.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		buf, err := l.Serial.DrainAll(true)
		if err != nil {
			return err
		}
		if len(buf) > 0 {
			l.Dispatcher.Process(string(buf))
			continue
		}

		if l.acceptPending() {
			continue
		}

		sleep(idleSleep)
	}
}

// acceptPending polls ServerRegistry for new connections, registers
// each, announces it on serial, and bridges it immediately. It reports
// whether any work was done this iteration.
func (l *EventLoop) acceptPending() bool {
	ready := l.Servers.ReadySockets()
	if len(ready) == 0 {
		return false
	}

	for _, a := range ready {
		entry := l.Clients.Register(a.Conn)

		announce := fmt.Sprintf("\r\n+CLIENT: %s,0,%s:%d", entry.ID, entry.PeerAddr, entry.PeerPort)
		if err := l.Bridge.Serial.Write([]byte(announce)); err != nil {
			if l.Log != nil {
				l.Log.Error("writing client announcement", "error", err)
			}
			continue
		}
		if l.Events != nil {
			l.Events.Publish(events.Event{
				Kind:     events.KindClientAccept,
				ClientID: entry.ID,
				Fields:   map[string]any{"peer_addr": entry.PeerAddr, "peer_port": entry.PeerPort},
			})
		}

		outcome, err := l.Bridge.Run(entry)
		if err != nil && l.Log != nil {
			l.Log.Error("bridge session", "error", err, "client_id", entry.ID)
		}
		if outcome == bridge.OutcomeClosed {
			if err := l.Clients.Remove(entry.ID); err != nil && l.Log != nil {
				l.Log.Error("removing closed client", "error", err)
			}
			if l.Events != nil {
				l.Events.Publish(events.Event{Kind: events.KindClientClosed, ClientID: entry.ID})
			}
		}
	}
	return true
}
