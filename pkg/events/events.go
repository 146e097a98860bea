// Package events provides a tiny in-process pub/sub bus the dispatcher,
// bridge, and event loop use to publish modem lifecycle events. The
// monitor package subscribes to fan them out over a websocket; nothing
// about the core's behavior depends on whether anyone is listening.
package events

import (
	"sync"
	"time"
)

// Kind identifies the sort of thing that happened.
type Kind string

const (
	KindCommand      Kind = "command"
	KindClientAccept Kind = "client_accept"
	KindClientClosed Kind = "client_closed"
	KindBridgeEscape Kind = "bridge_escape"
	KindBridgeStart  Kind = "bridge_start"
)

// Event is one published occurrence.
type Event struct {
	Kind      Kind           `json:"kind"`
	ClientID  string         `json:"client_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
	Time      time.Time      `json:"time"`
}

// Bus is a fan-out publisher. The zero value is unusable; use New.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Publish fans e out to all current subscribers. A slow subscriber that
// hasn't drained its channel simply misses the event rather than
// blocking the core loop.
func (b *Bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe registers a new listener and returns its channel plus an
// unsubscribe function.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan Event, buffer)
	b.subs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
}
