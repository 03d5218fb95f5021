package serialmux

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Stats counts the lines a mux has read and the deliveries it skipped
// because a subscriber's buffer was full.
type Stats struct {
	Lines       uint64 `json:"lines"`
	Dropped     uint64 `json:"dropped"`
	Subscribers int    `json:"subscribers"`
}

// registry is the subscriber set shared by the real and disabled muxes.
// Once closed, new subscribers get an already closed channel.
type registry struct {
	buffer int

	mu     sync.Mutex
	subs   map[string]chan string
	closed bool

	lines   atomic.Uint64
	dropped atomic.Uint64
}

func newRegistry(buffer int) registry {
	return registry{buffer: buffer, subs: make(map[string]chan string)}
}

func (r *registry) subscribe() (string, chan string) {
	id := uuid.NewString()
	ch := make(chan string, r.buffer)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		close(ch)
		return id, ch
	}
	r.subs[id] = ch
	return id, ch
}

func (r *registry) unsubscribe(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.subs[id]; ok {
		close(ch)
		delete(r.subs, id)
	}
}

// shutdown closes every subscriber. It reports false when already closed.
func (r *registry) shutdown() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.closed = true
	for id, ch := range r.subs {
		close(ch)
		delete(r.subs, id)
	}
	return true
}

func (r *registry) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// publish hands line to every subscriber without blocking.
func (r *registry) publish(line string) {
	r.lines.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.subs {
		select {
		case ch <- line:
		default:
			if n := r.dropped.Add(1); n%1000 == 1 {
				logf("subscriber behind, %d lines dropped so far", n)
			}
		}
	}
}

func (r *registry) stats() Stats {
	r.mu.Lock()
	n := len(r.subs)
	r.mu.Unlock()
	return Stats{Lines: r.lines.Load(), Dropped: r.dropped.Load(), Subscribers: n}
}
