// Package monitor drives the consumer side of a live session. On every tick
// a Consumer drains the router's updates into a Store, prepares the streams
// that went stale and publishes the resulting snapshots to readers on other
// goroutines.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/cardio.report/internal/monitoring"
	"github.com/banshee-data/cardio.report/internal/physio"
	"github.com/banshee-data/cardio.report/internal/store"
	"github.com/banshee-data/cardio.report/internal/stream"
	"github.com/banshee-data/cardio.report/internal/timeutil"
)

var logf = monitoring.Prefixed("monitor")

// DefaultInterval is the consumer tick period.
const DefaultInterval = 100 * time.Millisecond

// Poller is satisfied by *stream.Router.
type Poller interface {
	Poll() ([]stream.Update, error)
}

// Sink receives every snapshot whose version changed. Sinks run on the
// consumer goroutine and must not block for long.
type Sink func(*store.Snapshot)

// Options configures a Consumer.
type Options struct {
	// Tabs, when set, renders the active tab to Display after each tick
	// that produced a new version of its stream.
	Tabs    *store.Tabs
	Display io.Writer
	// With Tabs set, only the active tab's stream is prepared; other
	// streams keep accumulating updates and are prepared when activated.
	// PrepareAll prepares every stale stream regardless of the active tab.
	PrepareAll bool
	Sinks      []Sink
	Clock      timeutil.Clock
}

type snapshots map[string]*store.Snapshot

// Consumer owns a Store. Tick and Run are called from one goroutine; the
// read accessors are safe from any goroutine.
type Consumer struct {
	src   Poller
	store *store.Store
	opts  Options

	// mu serialises Tick against tab switches and recording reads.
	mu        sync.Mutex
	recording stream.RecordingUpdate
	rendered  uint64

	latest atomic.Pointer[snapshots]
	ticks  atomic.Uint64
}

// NewConsumer returns a consumer reading src into s.
func NewConsumer(src Poller, s *store.Store, opts Options) *Consumer {
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.Display == nil {
		opts.Display = io.Discard
	}
	c := &Consumer{src: src, store: s, opts: opts}
	c.latest.Store(&snapshots{})
	return c
}

// AddSink registers a sink. It must be called before Run.
func (c *Consumer) AddSink(s Sink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opts.Sinks = append(c.opts.Sinks, s)
}

// Tick drains pending updates, prepares the stale active stream (every
// stale stream when no tabs are configured or PrepareAll is set) and hands new
// snapshot versions to the sinks. It returns the number of updates applied,
// or physio.ErrChannelClosed once the router has shut down and nothing is
// left to drain.
func (c *Consumer) Tick() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	updates, err := c.src.Poll()
	if err != nil {
		return 0, err
	}
	for _, u := range updates {
		c.store.Submit(u)
	}
	c.recording = c.store.Recording()
	c.ticks.Add(1)

	prev := *c.latest.Load()
	var next snapshots
	var changed []*store.Snapshot
	for _, id := range c.streams() {
		if c.store.Dirty(id) == 0 && prev[id] != nil {
			continue
		}
		snap, err := c.store.Prepare(id)
		if err != nil {
			logf("prepare %s: %v", id, err)
			continue
		}
		if old := prev[id]; old != nil && old.Version == snap.Version {
			continue
		}
		if next == nil {
			next = make(snapshots, len(prev)+1)
			for k, v := range prev {
				next[k] = v
			}
		}
		next[id] = snap
		changed = append(changed, snap)
	}
	if next != nil {
		c.latest.Store(&next)
	}

	for _, snap := range changed {
		for _, sink := range c.opts.Sinks {
			sink(snap)
		}
	}
	c.render()
	return len(updates), nil
}

func (c *Consumer) streams() []string {
	if c.opts.PrepareAll || c.opts.Tabs == nil || c.opts.Tabs.Active() == nil {
		return c.store.Streams()
	}
	id := c.opts.Tabs.Active().Stream()
	for _, known := range c.store.Streams() {
		if known == id {
			return []string{id}
		}
	}
	return nil
}

func (c *Consumer) render() {
	t := c.opts.Tabs
	if t == nil || t.Active() == nil {
		return
	}
	snap := (*c.latest.Load())[t.Active().Stream()]
	if snap == nil || snap.Version == c.rendered {
		return
	}
	if _, err := t.Render(c.opts.Display, c.store); err != nil {
		logf("render %s: %v", t.Active().Stream(), err)
		return
	}
	c.rendered = snap.Version
}

// Run ticks every interval until ctx ends or the router closes. A final
// tick drains what the router emitted before shutting down.
func (c *Consumer) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := c.opts.Clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			if _, err := c.Tick(); err != nil {
				if errors.Is(err, physio.ErrChannelClosed) {
					logf("router closed after %d ticks", c.ticks.Load())
					return nil
				}
				return err
			}
		}
	}
}

// Ticks returns the number of completed ticks.
func (c *Consumer) Ticks() uint64 { return c.ticks.Load() }

// Snapshot returns the latest published snapshot of one stream.
func (c *Consumer) Snapshot(id string) (*store.Snapshot, bool) {
	snap, ok := (*c.latest.Load())[id]
	return snap, ok
}

// Snapshots returns the latest snapshot of every stream, ordered by ID.
func (c *Consumer) Snapshots() []*store.Snapshot {
	m := *c.latest.Load()
	out := make([]*store.Snapshot, 0, len(m))
	for _, s := range m {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stream < out[j].Stream })
	return out
}

// Recording returns the last recording transition the consumer applied.
func (c *Consumer) Recording() stream.RecordingUpdate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recording
}

// ActivateTab switches the displayed tab and forces a redraw on the next
// tick.
func (c *Consumer) ActivateTab(i int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.opts.Tabs == nil {
		return fmt.Errorf("%w: no tabs configured", store.ErrNoTab)
	}
	if _, err := c.opts.Tabs.Activate(i); err != nil {
		return err
	}
	c.rendered = 0
	return nil
}

// ActiveTab returns the index and stream of the active tab.
func (c *Consumer) ActiveTab() (int, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.opts.Tabs == nil || c.opts.Tabs.Active() == nil {
		return 0, "", false
	}
	return c.opts.Tabs.ActiveIndex(), c.opts.Tabs.Active().Stream(), true
}
