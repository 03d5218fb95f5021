// Package acquire carries waveforms and metric snapshots over NATS. Frames
// are little-endian float32 samples, one chunk per message.
package acquire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/banshee-data/cardio.report/internal/monitoring"
	"github.com/banshee-data/cardio.report/internal/physio"
	"github.com/banshee-data/cardio.report/internal/store"
)

var logf = monitoring.Prefixed("nats")

// Connect dials url with reconnects that never give up.
func Connect(url, name string) (*nats.Conn, error) {
	return nats.Connect(
		url,
		nats.Name(name),
		nats.Timeout(3*time.Second),
		nats.ReconnectWait(500*time.Millisecond),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logf("disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logf("reconnected to %s", nc.ConnectedUrl())
		}),
	)
}

// DecodeFrame converts a frame of little-endian float32 samples.
func DecodeFrame(data []byte) ([]float64, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("%w: frame length %d is not a multiple of 4", physio.ErrConfiguration, len(data))
	}
	out := make([]float64, len(data)/4)
	for i := range out {
		v := float64(math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:])))
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: sample %d is not finite", physio.ErrConfiguration, i)
		}
		out[i] = v
	}
	return out, nil
}

// EncodeFrame is the inverse of DecodeFrame, narrowing samples to float32.
func EncodeFrame(samples []float64) []byte {
	out := make([]byte, 4*len(samples))
	for i, v := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(float32(v)))
	}
	return out
}

// Subscriber counts what a subscription has received.
type Subscriber struct {
	sub     *nats.Subscription
	frames  atomic.Int64
	dropped atomic.Int64
}

// Frames returns the number of frames delivered as chunks.
func (s *Subscriber) Frames() int64 { return s.frames.Load() }

// Dropped returns the number of malformed or empty frames skipped.
func (s *Subscriber) Dropped() int64 { return s.dropped.Load() }

// Unsubscribe stops delivery.
func (s *Subscriber) Unsubscribe() error {
	if s.sub == nil {
		return nil
	}
	return s.sub.Unsubscribe()
}

// handler decodes each message into a chunk at fs and passes it to emit.
func (s *Subscriber) handler(fs float64, emit func(physio.TimeSeries)) nats.MsgHandler {
	return func(msg *nats.Msg) {
		samples, err := DecodeFrame(msg.Data)
		if err != nil || len(samples) == 0 {
			if s.dropped.Add(1) == 1 && err != nil {
				logf("dropping frame on %s: %v", msg.Subject, err)
			}
			return
		}
		s.frames.Add(1)
		emit(physio.TimeSeries{FS: fs, Data: samples})
	}
}

// Subscribe delivers every frame published on subject to emit as a chunk
// sampled at fs. emit runs on the connection's dispatch goroutine, one
// message at a time.
func Subscribe(nc *nats.Conn, subject string, fs float64, emit func(physio.TimeSeries)) (*Subscriber, error) {
	if err := physio.ValidateFS(fs); err != nil {
		return nil, err
	}
	s := &Subscriber{}
	sub, err := nc.Subscribe(subject, s.handler(fs, emit))
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	s.sub = sub
	return s, nil
}

// Publisher is satisfied by *nats.Conn.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// PublishSnapshot publishes the snapshot's flat metrics as JSON.
func PublishSnapshot(p Publisher, subject string, snap *store.Snapshot) error {
	if snap == nil {
		return fmt.Errorf("nil snapshot")
	}
	flat, err := snap.Flatten()
	if err != nil {
		return err
	}
	b, err := json.Marshal(flat)
	if err != nil {
		return fmt.Errorf("encode snapshot %s v%d: %w", snap.Stream, snap.Version, err)
	}
	if err := p.Publish(subject, b); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// PublishChunk publishes a waveform chunk as one frame.
func PublishChunk(p Publisher, subject string, chunk physio.TimeSeries) error {
	if chunk.Len() == 0 {
		return nil
	}
	if err := p.Publish(subject, EncodeFrame(chunk.Data)); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}
