package main

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/cardio.report/internal/config"
	"github.com/banshee-data/cardio.report/internal/db"
	"github.com/banshee-data/cardio.report/internal/physio"
	"github.com/banshee-data/cardio.report/internal/serialmux"
	"github.com/banshee-data/cardio.report/internal/store"
	"github.com/banshee-data/cardio.report/internal/stream"
)

func TestFlagDefaults(t *testing.T) {
	tests := []struct {
		name string
		got  any
		want any
	}{
		{"listen", *listen, ":8080"},
		{"source", *source, sourceSerial},
		{"baud", *baud, serialmux.DefaultBaudRate},
		{"units", *units, "s"},
		{"chunk", *chunkSize, 250},
		{"metrics-every", *metricsEvery, 5 * time.Second},
		{"drop", *dropCommands, false},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("-%s default = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestResolveSource(t *testing.T) {
	restore := func(dev bool, src, url string) {
		*devMode, *source, *natsURL = dev, src, url
	}
	defer restore(*devMode, *source, *natsURL)

	restore(true, "bogus", "")
	got, err := resolveSource()
	require.NoError(t, err)
	assert.Equal(t, sourceDev, got)

	restore(false, sourceNATS, "")
	_, err = resolveSource()
	assert.Error(t, err)

	restore(false, sourceNATS, "nats://127.0.0.1:4222")
	got, err = resolveSource()
	require.NoError(t, err)
	assert.Equal(t, sourceNATS, got)

	restore(false, "bogus", "")
	_, err = resolveSource()
	assert.Error(t, err)
}

type fakeRouter struct {
	mu   sync.Mutex
	cmds []stream.Command
	err  error
}

func (r *fakeRouter) Submit(_ context.Context, cmd stream.Command) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return 0, r.err
	}
	r.cmds = append(r.cmds, cmd)
	return uint64(len(r.cmds)), nil
}

func (r *fakeRouter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cmds)
}

func TestFeederFromSyntheticSerial(t *testing.T) {
	port := serialmux.NewSyntheticPort(physio.SynthOptions{FS: 250, Seconds: 4, HeartBPM: 60, Seed: 1}, 0)
	mux := serialmux.NewSerialMux(port)
	defer mux.Close()

	router := &fakeRouter{}
	f := &feeder{router: router, stream: "ecg-1"}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 2)
	go func() { done <- mux.Monitor(ctx) }()
	go func() { done <- f.fromSerial(ctx, mux, 250, 50, serialmux.SyntheticColumn) }()

	require.Eventually(t, func() bool { return router.count() >= 5 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	<-done
	<-done

	router.mu.Lock()
	first := router.cmds[0].(stream.ProcessECG)
	router.mu.Unlock()
	assert.Equal(t, "ecg-1", first.Stream)
	assert.Equal(t, 250.0, first.Chunk.FS)
	assert.Len(t, first.Chunk.Data, 50)
	assert.Positive(t, f.Chunks("ecg-1"))
	assert.Zero(t, f.Chunks("other"))
}

func TestFeederToleratesFullQueue(t *testing.T) {
	f := &feeder{router: &fakeRouter{err: stream.ErrQueueFull}, stream: "ecg-1"}
	chunk := physio.TimeSeries{FS: 250, Data: []float64{0, 1}}
	require.NoError(t, f.submit(context.Background(), chunk))
	assert.Equal(t, int64(1), f.dropped.Load())
	assert.Zero(t, f.chunks.Load())

	f.router = &fakeRouter{err: physio.ErrChannelClosed}
	assert.ErrorIs(t, f.submit(context.Background(), chunk), physio.ErrChannelClosed)
}

func TestSessionLog(t *testing.T) {
	database, err := db.NewDB(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	defer database.Close()

	params, err := json.Marshal(config.FromParams(config.DefaultParams()))
	require.NoError(t, err)
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	l := newSessionLog(database, sourceDev, params, 5*time.Second, func(string) int64 { return 42 })
	l.now = func() time.Time { return now }

	snap := &store.Snapshot{Stream: "ecg-1", Modality: store.ECG, Version: 1, FS: 250}
	l.Observe(snap)
	now = now.Add(time.Second)
	l.Observe(&store.Snapshot{Stream: "ecg-1", Modality: store.ECG, Version: 2, FS: 250, LastFailure: "rr"})
	now = now.Add(5 * time.Second)
	l.Observe(&store.Snapshot{Stream: "ecg-1", Modality: store.ECG, Version: 3, FS: 250})

	sessions, err := database.Sessions(10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	id := sessions[0].ID
	assert.Equal(t, "ecg-1", sessions[0].Stream)
	assert.Equal(t, sourceDev, sessions[0].Source)
	assert.Equal(t, db.StatusActive, sessions[0].Status)

	rows, err := database.Metrics(id)
	require.NoError(t, err)
	require.Len(t, rows, 2, "version 2 falls inside the write interval")
	assert.Equal(t, uint64(1), rows[0].Version)
	assert.Equal(t, uint64(3), rows[1].Version)

	// A second stream whose latest snapshot still carries a failure.
	l.Observe(&store.Snapshot{Stream: "ecg-2", Modality: store.ECG, Version: 1, FS: 250, LastFailure: "detect"})

	l.Finish()
	got, err := database.Session(id)
	require.NoError(t, err)
	assert.Equal(t, db.StatusFinished, got.Status, "a failure followed by a clean snapshot does not mark the session")
	assert.Equal(t, int64(42), got.Chunks)
	assert.Empty(t, got.LastFailure)

	sessions, err = database.Sessions(10)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	byStream := map[string]db.Session{}
	for _, sess := range sessions {
		byStream[sess.Stream] = sess
	}
	require.Contains(t, byStream, "ecg-2")
	assert.Equal(t, db.StatusFailed, byStream["ecg-2"].Status)
	assert.Equal(t, "detect", byStream["ecg-2"].LastFailure)
}
