// Package serialport wraps go.bug.st/serial into the duplex, drain-all
// channel the modem simulator's core talks to the host over.
package serialport

import (
	"io"
	"time"
	"unicode/utf8"

	"github.com/comx-labs/modemsim/pkg/logger"
	"github.com/comx-labs/modemsim/pkg/modemerr"
	"go.bug.st/serial"
)

// pollInterval is the quiescent timer the drain loop waits on between
// reads: short enough not to stall command turnaround, long enough that
// a host mid-transmission isn't cut off.
const pollInterval = 100 * time.Millisecond

// rawReadBytes is the chunk size offered to the underlying driver on
// each poll of the drain loop.
const rawReadBytes = 4096

// rawPort is the subset of go.bug.st/serial.Port this package depends
// on, so tests can substitute a fake without touching real hardware.
type rawPort interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// opener abstracts serial.Open for tests.
type opener func(portName string, mode *serial.Mode) (rawPort, error)

func defaultOpener(portName string, mode *serial.Mode) (rawPort, error) {
	return serial.Open(portName, mode)
}

// Config is the immutable, validated serial framing configuration (the
// SerialConfig entity from the data model). Construct it with
// NewConfig; do not mutate fields afterward.
type Config struct {
	Port     string
	BaudRate int
	DataBits int     // one of 5,6,7,8
	Parity   rune    // one of N,E,O,M,S
	StopBits float64 // one of 1, 1.5, 2
}

// NewConfig validates the framing tuple and returns an immutable Config.
// Baud-rate-against-driver-table validation is an external concern (see
// spec §1); this only checks the values are in the shapes the core
// understands.
func NewConfig(port string, baud, dataBits int, parity rune, stopBits float64) (Config, error) {
	switch dataBits {
	case 5, 6, 7, 8:
	default:
		return Config{}, modemerr.Config("invalid data bits", nil)
	}
	switch parity {
	case 'N', 'E', 'O', 'M', 'S':
	default:
		return Config{}, modemerr.Config("invalid parity", nil)
	}
	switch stopBits {
	case 1, 1.5, 2:
	default:
		return Config{}, modemerr.Config("invalid stop bits", nil)
	}
	if port == "" {
		return Config{}, modemerr.Config("serial port path required", nil)
	}
	if baud <= 0 {
		return Config{}, modemerr.Config("invalid baud rate", nil)
	}
	return Config{Port: port, BaudRate: baud, DataBits: dataBits, Parity: parity, StopBits: stopBits}, nil
}

func (c Config) mode() *serial.Mode {
	m := &serial.Mode{BaudRate: c.BaudRate, DataBits: c.DataBits}
	switch c.Parity {
	case 'E':
		m.Parity = serial.EvenParity
	case 'O':
		m.Parity = serial.OddParity
	case 'M':
		m.Parity = serial.MarkParity
	case 'S':
		m.Parity = serial.SpaceParity
	default:
		m.Parity = serial.NoParity
	}
	switch c.StopBits {
	case 1.5:
		m.StopBits = serial.OnePointFiveStopBits
	case 2:
		m.StopBits = serial.TwoStopBits
	default:
		m.StopBits = serial.OneStopBit
	}
	return m
}

// Port is the byte-oriented duplex channel to the host.
type Port struct {
	cfg    Config
	open   opener
	port   rawPort
	log    *logger.Logger
	buf    []byte
}

// New creates a Port bound to cfg but does not open it yet.
func New(cfg Config, log *logger.Logger) *Port {
	return &Port{cfg: cfg, open: defaultOpener, log: log, buf: make([]byte, rawReadBytes)}
}

// Open acquires the device. There is no retry.
func (p *Port) Open() error {
	port, err := p.open(p.cfg.Port, p.cfg.mode())
	if err != nil {
		return modemerr.IO("opening serial port", err)
	}
	if err := port.SetReadTimeout(pollInterval); err != nil {
		port.Close()
		return modemerr.IO("setting serial read timeout", err)
	}
	p.port = port
	return nil
}

// Close is idempotent.
func (p *Port) Close() error {
	if p.port == nil {
		return nil
	}
	err := p.port.Close()
	p.port = nil
	if err != nil {
		return modemerr.IO("closing serial port", err)
	}
	return nil
}

// Reopen closes then reopens the port, used by the ATZ reset path.
func (p *Port) Reopen() error {
	if err := p.Close(); err != nil {
		return err
	}
	return p.Open()
}

// Write writes all bytes with no additional framing.
func (p *Port) Write(data []byte) error {
	if p.port == nil {
		return modemerr.IO("write on closed serial port", nil)
	}
	if _, err := p.port.Write(data); err != nil {
		return modemerr.IO("writing to serial port", err)
	}
	return nil
}

// WriteString is a convenience wrapper around Write.
func (p *Port) WriteString(s string) error {
	return p.Write([]byte(s))
}

// DrainAll sleeps briefly to let the host finish transmitting, then
// repeatedly reads everything currently buffered; whenever a read
// returns bytes it sleeps again and polls once more, stopping the first
// time a poll comes back empty. This is the only reliable
// end-of-message heuristic available on a line with no framing.
//
// If decode is true the accumulated bytes are treated as UTF-8; a
// decode failure is logged as noise and nil is returned instead of an
// error (the serial bus staying readable is more important than any one
// malformed chunk).
func (p *Port) DrainAll(decode bool) ([]byte, error) {
	if p.port == nil {
		return nil, modemerr.IO("read on closed serial port", nil)
	}

	time.Sleep(pollInterval)

	var out []byte
	for {
		n, err := p.port.Read(p.buf)
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, modemerr.IO("reading serial port", err)
		}
		if n == 0 {
			break
		}
		out = append(out, p.buf[:n]...)
		time.Sleep(pollInterval)
	}

	if len(out) == 0 {
		return nil, nil
	}

	if decode && !utf8.Valid(out) {
		if p.log != nil {
			p.log.Warn("bus is noisy, dropping data", "bytes", len(out))
		}
		return nil, nil
	}

	return out, nil
}
