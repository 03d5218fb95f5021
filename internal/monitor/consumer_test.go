package monitor

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/cardio.report/internal/config"
	"github.com/banshee-data/cardio.report/internal/physio"
	"github.com/banshee-data/cardio.report/internal/store"
	"github.com/banshee-data/cardio.report/internal/stream"
	"github.com/banshee-data/cardio.report/internal/timeutil"
)

var epoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newRouter(t *testing.T) *stream.Router {
	t.Helper()
	r, err := stream.New(config.DefaultParams(), stream.Options{Clock: timeutil.NewMockClock(epoch)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func feed(t *testing.T, r *stream.Router, id string, seconds float64) {
	t.Helper()
	ecg := physio.Synthesize(physio.SynthOptions{
		FS: 250, Seconds: seconds, HeartBPM: 70, ModDepthBPM: 3, ModHz: 0.2, Noise: 0.01, Seed: 3,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, err := r.Submit(ctx, stream.ProcessECG{Stream: id, Chunk: ecg})
	require.NoError(t, err)
	require.NoError(t, r.Sync(ctx))
}

func TestTickPublishesChangedSnapshots(t *testing.T) {
	r := newRouter(t)
	var got []*store.Snapshot
	c := NewConsumer(r, store.New(config.DefaultParams()), Options{
		Sinks: []Sink{func(s *store.Snapshot) { got = append(got, s) }},
	})

	n, err := c.Tick()
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, c.Snapshots())

	feed(t, r, "ecg-1", 40)
	n, err = c.Tick()
	require.NoError(t, err)
	assert.Positive(t, n)
	require.Len(t, got, 1)

	snap, ok := c.Snapshot("ecg-1")
	require.True(t, ok)
	assert.Same(t, got[0], snap)
	assert.Equal(t, store.ECG, snap.Modality)
	require.NotNil(t, snap.Time)
	assert.InDelta(t, 60.0/70, snap.Time.AVNN, 0.05)

	// Nothing new: no recompute, no sink call, same pointer.
	_, err = c.Tick()
	require.NoError(t, err)
	assert.Len(t, got, 1)
	again, _ := c.Snapshot("ecg-1")
	assert.Same(t, snap, again)
	assert.Equal(t, uint64(3), c.Ticks())

	_, ok = c.Snapshot("missing")
	assert.False(t, ok)
}

func TestSnapshotsAreOrdered(t *testing.T) {
	r := newRouter(t)
	c := NewConsumer(r, store.New(config.DefaultParams()), Options{})
	feed(t, r, "b", 20)
	feed(t, r, "a", 20)
	_, err := c.Tick()
	require.NoError(t, err)

	snaps := c.Snapshots()
	require.Len(t, snaps, 2)
	assert.Equal(t, "a", snaps[0].Stream)
	assert.Equal(t, "b", snaps[1].Stream)
}

func TestTabsRenderOnNewVersion(t *testing.T) {
	r := newRouter(t)
	var display bytes.Buffer
	tabs := store.NewTabs(store.NewECGTab("ecg-1"), store.NewEEGTab("eeg-1"))
	c := NewConsumer(r, store.New(config.DefaultParams()), Options{Tabs: tabs, Display: &display})

	feed(t, r, "ecg-1", 30)
	_, err := c.Tick()
	require.NoError(t, err)
	assert.Contains(t, display.String(), "ecg-1")

	display.Reset()
	_, err = c.Tick()
	require.NoError(t, err)
	assert.Empty(t, display.String(), "unchanged snapshot is not redrawn")

	require.NoError(t, c.ActivateTab(0))
	_, err = c.Tick()
	require.NoError(t, err)
	assert.NotEmpty(t, display.String(), "activation forces a redraw")

	assert.ErrorIs(t, c.ActivateTab(5), store.ErrNoTab)
	idx, id, ok := c.ActiveTab()
	assert.True(t, ok)
	assert.Equal(t, 0, idx)
	assert.Equal(t, "ecg-1", id)
}

func TestActivateTabWithoutTabs(t *testing.T) {
	c := NewConsumer(newRouter(t), store.New(config.DefaultParams()), Options{})
	assert.ErrorIs(t, c.ActivateTab(0), store.ErrNoTab)
	_, _, ok := c.ActiveTab()
	assert.False(t, ok)
}

func TestRunStopsWhenRouterCloses(t *testing.T) {
	r := newRouter(t)
	clock := timeutil.NewMockClock(epoch)
	var versions []uint64
	c := NewConsumer(r, store.New(config.DefaultParams()), Options{Clock: clock})
	c.AddSink(func(s *store.Snapshot) { versions = append(versions, s.Version) })

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background(), 50*time.Millisecond) }()

	feed(t, r, "ecg-1", 20)
	require.Eventually(t, func() bool {
		clock.Advance(50 * time.Millisecond)
		_, ok := c.Snapshot("ecg-1")
		return ok
	}, 5*time.Second, time.Millisecond)

	require.NoError(t, r.Close())
	require.Eventually(t, func() bool {
		clock.Advance(50 * time.Millisecond)
		select {
		case err := <-done:
			assert.NoError(t, err)
			return true
		default:
			return false
		}
	}, 5*time.Second, time.Millisecond)
	assert.NotEmpty(t, versions)
}

func TestRunHonoursContext(t *testing.T) {
	c := NewConsumer(newRouter(t), store.New(config.DefaultParams()), Options{Clock: timeutil.NewMockClock(epoch)})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.Run(ctx, 0), context.Canceled)
}

type failingPoller struct{ err error }

func (p failingPoller) Poll() ([]stream.Update, error) { return nil, p.err }

func TestTickPropagatesPollError(t *testing.T) {
	boom := errors.New("poll failed")
	c := NewConsumer(failingPoller{boom}, store.New(config.DefaultParams()), Options{})
	_, err := c.Tick()
	assert.ErrorIs(t, err, boom)

	clock := timeutil.NewMockClock(epoch)
	c = NewConsumer(failingPoller{boom}, store.New(config.DefaultParams()), Options{Clock: clock})
	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background(), time.Second) }()
	require.Eventually(t, func() bool {
		clock.Advance(time.Second)
		select {
		case err := <-done:
			assert.ErrorIs(t, err, boom)
			return true
		default:
			return false
		}
	}, 5*time.Second, time.Millisecond)
}

func TestInactiveStreamsAreNotPrepared(t *testing.T) {
	r := newRouter(t)
	tabs := store.NewTabs(store.NewECGTab("a"), store.NewECGTab("b"))
	s := store.New(config.DefaultParams())
	c := NewConsumer(r, s, Options{Tabs: tabs})

	feed(t, r, "a", 20)
	feed(t, r, "b", 20)
	_, err := c.Tick()
	require.NoError(t, err)

	_, ok := c.Snapshot("a")
	assert.True(t, ok)
	_, ok = c.Snapshot("b")
	assert.False(t, ok, "inactive stream is not prepared")
	assert.NotZero(t, s.Dirty("b"))

	require.NoError(t, c.ActivateTab(1))
	_, err = c.Tick()
	require.NoError(t, err)
	_, ok = c.Snapshot("b")
	assert.True(t, ok)
	assert.Zero(t, s.Dirty("b"))
}

func TestPrepareAllIgnoresActiveTab(t *testing.T) {
	r := newRouter(t)
	tabs := store.NewTabs(store.NewECGTab("a"), store.NewECGTab("b"))
	s := store.New(config.DefaultParams())
	c := NewConsumer(r, s, Options{Tabs: tabs, PrepareAll: true})

	feed(t, r, "b", 20)
	_, err := c.Tick()
	require.NoError(t, err)
	snap, ok := c.Snapshot("b")
	require.True(t, ok)
	assert.Equal(t, uint64(1), snap.Version)
	assert.Zero(t, s.Dirty("b"))
}
