// Package registry holds the ServerRegistry (listening TCP sockets) and
// ClientRegistry (accepted TCP connections) that the command dispatcher
// owns exclusively.
package registry

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/comx-labs/modemsim/pkg/metrics"
	"github.com/comx-labs/modemsim/pkg/modemerr"
)

// Accepted is a newly accepted connection together with the listening
// port it arrived on, as handed from ReadySockets to the event loop.
type Accepted struct {
	Port int
	Conn *net.TCPConn
}

// ServerRegistry maps a TCP port number to its listening socket.
// Start is idempotent: a second start on an already-listening port
// replies OK without rebinding.
type ServerRegistry struct {
	mu        sync.Mutex
	listeners map[int]*net.TCPListener
}

// NewServerRegistry creates an empty registry.
func NewServerRegistry() *ServerRegistry {
	return &ServerRegistry{listeners: make(map[int]*net.TCPListener)}
}

// Start binds 0.0.0.0:port with SO_REUSEADDR semantics if no listener
// already exists for that port (whether it was started under that
// number or is the port a start on 0 was bound to). The listen backlog
// is the operating system's default; it is not set to 5. portArg is parsed here
// so the command-table caller (AT+SERVERSTART=<port>,<unused>) can hand
// over its raw argument untouched; a non-integer portArg is a
// ParameterError.
func (r *ServerRegistry) Start(portArg string) (string, error) {
	port, err := strconv.Atoi(portArg)
	if err != nil {
		return "\r\nERROR", modemerr.Parameter(fmt.Sprintf("invalid server port %q", portArg), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.listeners[port]; ok {
		return "\r\nOK", nil
	}
	for _, l := range r.listeners {
		if l.Addr().(*net.TCPAddr).Port == port {
			return "\r\nOK", nil
		}
	}

	addr := &net.TCPAddr{IP: net.IPv4zero, Port: port}
	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return "\r\nERROR", modemerr.IO(fmt.Sprintf("binding port %d", port), err)
	}

	r.listeners[port] = l
	metrics.ActiveServers.Set(float64(len(r.listeners)))
	return "\r\nOK", nil
}

// ReadySockets performs a zero-timeout readiness poll of every listener
// and returns the connections accepted during that poll, ordered by
// port. A listener with nothing pending contributes nothing; this is
// the Go realization of a select()-with-zero-timeout over the listening
// sockets.
func (r *ServerRegistry) ReadySockets() []Accepted {
	r.mu.Lock()
	ports := make([]int, 0, len(r.listeners))
	listeners := make(map[int]*net.TCPListener, len(r.listeners))
	for p, l := range r.listeners {
		ports = append(ports, p)
		listeners[p] = l
	}
	r.mu.Unlock()

	sort.Ints(ports)

	var out []Accepted
	for _, p := range ports {
		l := listeners[p]
		l.SetDeadline(time.Now())
		conn, err := l.AcceptTCP()
		l.SetDeadline(time.Time{})
		if err != nil {
			continue
		}
		out = append(out, Accepted{Port: p, Conn: conn})
	}
	return out
}

// CloseAll closes every listener and empties the map.
func (r *ServerRegistry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.listeners {
		l.Close()
	}
	r.listeners = make(map[int]*net.TCPListener)
	metrics.ActiveServers.Set(0)
}
