package registry

import (
	"bufio"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/comx-labs/modemsim/pkg/metrics"
	"github.com/comx-labs/modemsim/pkg/modemerr"
)

// clientReadTimeout is the per-socket read timeout set on every
// accepted connection, per the data model.
const clientReadTimeout = 1 * time.Second

// bridgeBufferSize sizes the bufio.Reader so a single Read can return up
// to the 65535-byte chunk the bridge forwards in one go, while still
// letting the peer-close Peek leave unread bytes genuinely unconsumed.
const bridgeBufferSize = 65536

// ClientEntry is one accepted TCP connection.
type ClientEntry struct {
	ID       string
	PeerAddr string
	PeerPort int
	Conn     *net.TCPConn
	Reader   *bufio.Reader
}

// ClientRegistry maps a monotonically increasing client id to its
// accepted connection, and tracks which one is currently selected.
type ClientRegistry struct {
	mu       sync.Mutex
	order    []string // insertion order, for "last remaining" fallback
	clients  map[string]*ClientEntry
	counter  int
	selected string // "" means unset
}

// NewClientRegistry creates an empty registry.
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{clients: make(map[string]*ClientEntry)}
}

// Register wraps an already-accepted connection into a ClientEntry,
// assigns it the next decimal client id, clears any read deadline (the
// bridge applies ReadTimeout on each read), and selects it. It returns
// the new entry.
func (r *ClientRegistry) Register(conn *net.TCPConn) *ClientEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn.SetReadDeadline(time.Time{})

	id := strconv.Itoa(r.counter)
	r.counter++

	remote := conn.RemoteAddr().(*net.TCPAddr)
	entry := &ClientEntry{
		ID:       id,
		PeerAddr: remote.IP.String(),
		PeerPort: remote.Port,
		Conn:     conn,
		Reader:   bufio.NewReaderSize(conn, bridgeBufferSize),
	}

	r.clients[id] = entry
	r.order = append(r.order, id)
	r.selected = id

	metrics.ActiveClients.Set(float64(len(r.clients)))
	return entry
}

// Select explicitly selects a client id. It does not validate that the
// id exists; Selected() reports whether the selection names a live
// entry.
func (r *ClientRegistry) Select(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.selected = id
}

// Selected returns the currently selected entry, or nil if unset or if
// the selection no longer names a live entry.
func (r *ClientRegistry) Selected() (*ClientEntry, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.selected
	return r.clients[id], id
}

// Get returns the entry for id, if any.
func (r *ClientRegistry) Get(id string) (*ClientEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.clients[id]
	return e, ok
}

// ClientSnapshot is a read-only view of one registered client, for the
// observational monitor surface.
type ClientSnapshot struct {
	ID       string `json:"id"`
	PeerAddr string `json:"peer_addr"`
	PeerPort int    `json:"peer_port"`
	Selected bool   `json:"selected"`
}

// List returns a snapshot of every registered client in insertion
// order.
func (r *ClientRegistry) List() []ClientSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ClientSnapshot, 0, len(r.order))
	for _, id := range r.order {
		e := r.clients[id]
		out = append(out, ClientSnapshot{
			ID:       e.ID,
			PeerAddr: e.PeerAddr,
			PeerPort: e.PeerPort,
			Selected: id == r.selected,
		})
	}
	return out
}

// Remove closes the socket and removes id from the registry. If the
// removed entry was selected, selection falls back to the
// most-recently-inserted remaining entry, or becomes unset if none
// remain.
func (r *ClientRegistry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.clients[id]
	if !ok {
		return nil
	}
	delete(r.clients, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	if r.selected == id {
		if n := len(r.order); n > 0 {
			r.selected = r.order[n-1]
		} else {
			r.selected = ""
		}
	}

	metrics.ActiveClients.Set(float64(len(r.clients)))

	if err := entry.Conn.Close(); err != nil {
		return modemerr.IO("closing client connection", err)
	}
	return nil
}

// CloseAll closes every socket and empties the registry.
func (r *ClientRegistry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.clients {
		e.Conn.Close()
	}
	r.clients = make(map[string]*ClientEntry)
	r.order = nil
	r.selected = ""
	metrics.ActiveClients.Set(0)
}

// Reset clears the registry and the id counter, used by ATZ.
func (r *ClientRegistry) Reset() {
	r.CloseAll()
	r.mu.Lock()
	r.counter = 0
	r.mu.Unlock()
}

// ReadTimeout returns the fixed per-socket read timeout new clients get.
func ReadTimeout() time.Duration { return clientReadTimeout }
