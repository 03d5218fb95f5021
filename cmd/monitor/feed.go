package main

import (
	"context"
	"errors"
	"log"
	"sync/atomic"

	"github.com/nats-io/nats.go"

	"github.com/banshee-data/cardio.report/internal/acquire"
	"github.com/banshee-data/cardio.report/internal/physio"
	"github.com/banshee-data/cardio.report/internal/serialmux"
	"github.com/banshee-data/cardio.report/internal/stream"
)

// submitter is satisfied by *stream.Router.
type submitter interface {
	Submit(ctx context.Context, cmd stream.Command) (uint64, error)
}

// feeder hands acquired chunks of one stream to the router.
type feeder struct {
	router submitter
	stream string

	chunks  atomic.Int64
	dropped atomic.Int64
}

// submit forwards a chunk. A full queue under the drop policy loses the
// chunk and is not an error.
func (f *feeder) submit(ctx context.Context, chunk physio.TimeSeries) error {
	_, err := f.router.Submit(ctx, stream.ProcessECG{Stream: f.stream, Chunk: chunk})
	switch {
	case err == nil:
		f.chunks.Add(1)
		return nil
	case errors.Is(err, stream.ErrQueueFull):
		if n := f.dropped.Add(1); n == 1 || n%100 == 0 {
			log.Printf("router queue full, %d chunks dropped", n)
		}
		return nil
	}
	return err
}

// Chunks returns how many chunks of stream were accepted.
func (f *feeder) Chunks(stream string) int64 {
	if stream != f.stream {
		return 0
	}
	return f.chunks.Load()
}

// fromSerial chunks lines from the mux until ctx ends or the router stops
// accepting commands.
func (f *feeder) fromSerial(ctx context.Context, mux serialmux.SerialMuxInterface, fs float64, chunkSize, column int) error {
	id, lines := mux.Subscribe()
	defer mux.Unsubscribe(id)
	return serialmux.ChunkSamples(ctx, lines, fs, chunkSize, column, func(chunk physio.TimeSeries) error {
		return f.submit(ctx, chunk)
	})
}

// fromNATS submits every frame published on subject until ctx ends.
func (f *feeder) fromNATS(ctx context.Context, nc *nats.Conn, subject string, fs float64) error {
	sub, err := acquire.Subscribe(nc, subject, fs, func(chunk physio.TimeSeries) {
		if err := f.submit(ctx, chunk); err != nil && ctx.Err() == nil {
			log.Printf("submit frame: %v", err)
		}
	})
	if err != nil {
		return err
	}
	<-ctx.Done()
	log.Printf("nats: %d frames received, %d dropped", sub.Frames(), sub.Dropped())
	return sub.Unsubscribe()
}
