// Package bridge implements the serial<->TCP shuttle for one selected
// client, and the one-shot HTTP-request bridging used by CHTTPACT.
package bridge

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/comx-labs/modemsim/pkg/events"
	"github.com/comx-labs/modemsim/pkg/logger"
	"github.com/comx-labs/modemsim/pkg/metrics"
	"github.com/comx-labs/modemsim/pkg/modemerr"
	"github.com/comx-labs/modemsim/pkg/registry"
	"github.com/google/uuid"
)

// escapeSequence is the in-band escape that returns control to command
// mode mid-stream.
var escapeSequence = []byte("+++")

// peekDeadline is how long the peer-close probe waits for a byte before
// treating the socket as "quiet, not closed". It stands in for the
// would-block/MSG_DONTWAIT semantics a raw peek has on a real socket.
const peekDeadline = 5 * time.Millisecond

// tcpReadChunk is the maximum size the bridge asks the TCP peer for on
// each iteration, per spec.
const tcpReadChunk = 65535

// Bridge shuttles bytes between the serial port and one accepted TCP
// client until the host sends the escape sequence or the client
// disconnects.
type Bridge struct {
	Serial SerialWriter
	Events *events.Bus
	Log    *logger.Logger
	Baud   int
}

// SerialWriter is the subset of serialport.Port the bridge needs: raw
// (undecoded) draining and writing.
type SerialWriter interface {
	DrainAll(decode bool) ([]byte, error)
	Write(data []byte) error
}

// Outcome describes how a bridge session ended.
type Outcome int

const (
	// OutcomeStandby means the host sent the +++ escape; the client
	// stays registered and selected.
	OutcomeStandby Outcome = iota
	// OutcomeClosed means the TCP peer closed the connection; the
	// caller must remove the client from the registry.
	OutcomeClosed
)

// Run drives one bridge session against entry until it ends, writing
// the CONNECT preamble first and the OK/CLOSED reply on exit. The
// caller is responsible for removing entry from the registry on
// OutcomeClosed.
func (b *Bridge) Run(entry *registry.ClientEntry) (Outcome, error) {
	sessionID := uuid.NewString()
	if b.Events != nil {
		b.Events.Publish(events.Event{
			Kind:      events.KindBridgeStart,
			ClientID:  entry.ID,
			SessionID: sessionID,
		})
	}
	if b.Log != nil {
		b.Log.Info("bridge session starting", "client_id", entry.ID, "session", sessionID)
	}

	if err := b.Serial.Write([]byte(fmt.Sprintf("\r\nCONNECT %d\r\n", b.Baud))); err != nil {
		return OutcomeClosed, err
	}

	for {
		serialBuf, err := b.Serial.DrainAll(false)
		if err != nil {
			return OutcomeClosed, err
		}

		standby := false
		if idx := bytes.Index(serialBuf, escapeSequence); idx >= 0 {
			standby = true
			serialBuf = serialBuf[:idx]
			if b.Events != nil {
				b.Events.Publish(events.Event{Kind: events.KindBridgeEscape, ClientID: entry.ID, SessionID: sessionID})
			}
		}

		tcpBuf, err := b.recvTCP(entry.Conn, entry.Reader)
		if err != nil {
			return OutcomeClosed, err
		}

		if len(tcpBuf) > 0 {
			if err := b.Serial.Write(tcpBuf); err != nil {
				return OutcomeClosed, err
			}
			metrics.AddBytes(metrics.DirectionGPRSToSerial, len(tcpBuf))
			if b.Log != nil {
				b.Log.Debug("GPRS->SERIAL", "client_id", entry.ID, "bytes", len(tcpBuf))
			}
		}

		if len(serialBuf) > 0 {
			if _, err := entry.Conn.Write(serialBuf); err != nil {
				return OutcomeClosed, modemerr.IO("writing to client socket", err)
			}
			metrics.AddBytes(metrics.DirectionSerialToGPRS, len(serialBuf))
			if b.Log != nil {
				b.Log.Debug("SERIAL->GPRS", "client_id", entry.ID, "bytes", len(serialBuf))
			}
		}

		if standby {
			if err := b.Serial.Write([]byte("\r\nOK")); err != nil {
				return OutcomeClosed, err
			}
			metrics.IncBridgeSession(metrics.ReasonStandby)
			return OutcomeStandby, nil
		}

		closed, err := b.peerClosed(entry.Conn, entry.Reader)
		if err != nil {
			return OutcomeClosed, err
		}
		if closed {
			if err := b.Serial.Write([]byte("\r\nCLOSED")); err != nil {
				return OutcomeClosed, err
			}
			metrics.IncBridgeSession(metrics.ReasonClosed)
			return OutcomeClosed, nil
		}
	}
}

// recvTCP reads up to tcpReadChunk bytes with the client's standard
// 1-second read timeout; a timed-out or gracefully-EOFed read yields
// empty without being treated as an error here (peer-close detection
// happens separately, without consuming bytes).
func (b *Bridge) recvTCP(conn *net.TCPConn, r *bufio.Reader) ([]byte, error) {
	conn.SetReadDeadline(time.Now().Add(registry.ReadTimeout()))
	buf := make([]byte, tcpReadChunk)
	n, err := r.Read(buf)
	if err != nil {
		if isTimeout(err) || isEOF(err) {
			return nil, nil
		}
		return nil, modemerr.IO("reading from client socket", err)
	}
	return buf[:n], nil
}

// peerClosed attempts a non-consuming one-byte peek to distinguish "the
// peer closed its side" from "quiet moment". Implemented via a buffered
// reader's Peek (which never discards what it buffers) under a very
// short read deadline standing in for MSG_PEEK|MSG_DONTWAIT.
func (b *Bridge) peerClosed(conn *net.TCPConn, r *bufio.Reader) (bool, error) {
	conn.SetReadDeadline(time.Now().Add(peekDeadline))
	defer conn.SetReadDeadline(time.Time{})

	_, err := r.Peek(1)
	switch {
	case err == nil:
		return false, nil
	case isEOF(err):
		return true, nil
	case isTimeout(err):
		return false, nil
	default:
		return false, modemerr.IO("probing client socket for close", err)
	}
}

// isTimeout reports whether err is a network timeout (our stand-in for
// would-block on a non-blocking read/peek).
func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// isEOF reports whether err signals a graceful close. bufio.Reader
// wraps the underlying error, but a plain net.Conn Read on a closed
// peer returns io.EOF directly or net.ErrClosed once we've closed our
// own side; both (and os.ErrClosed) are treated as "closed" here.
func isEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrClosed)
}
