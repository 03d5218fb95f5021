// Package stream runs the analysis pipeline on a dedicated worker fed by a
// bounded command queue. Results come back as owned, immutable updates on a
// bounded update queue that the consumer polls without blocking.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/cardio.report/internal/config"
	"github.com/banshee-data/cardio.report/internal/monitoring"
	"github.com/banshee-data/cardio.report/internal/physio"
	"github.com/banshee-data/cardio.report/internal/pipeline"
	"github.com/banshee-data/cardio.report/internal/timeutil"
)

// ErrQueueFull is returned by Submit under the Drop policy when the command
// queue has no room.
var ErrQueueFull = errors.New("command queue full")

// QueuePolicy decides what Submit does when the command queue is full.
type QueuePolicy string

const (
	// Block waits for room or for the context to end.
	Block QueuePolicy = "block"
	// Drop rejects the command with ErrQueueFull.
	Drop QueuePolicy = "drop"
)

const (
	DefaultCommandQueue = 64
	DefaultUpdateQueue  = 256
)

// Options configures a Router. Zero values select the defaults.
type Options struct {
	CommandQueue int
	UpdateQueue  int
	Policy       QueuePolicy
	OpenSink     SinkOpener
	Observer     Observer
	Clock        timeutil.Clock
}

var logf = monitoring.Prefixed("router")

// Router owns one worker goroutine. All pipeline work happens on that
// worker; the caller only submits commands and polls updates.
type Router struct {
	params config.Params
	opts   Options

	cmds    chan envelope
	updates chan Update

	// sendMu orders sequence numbers with queue insertion and guards closed.
	sendMu sync.Mutex
	closed bool
	seq    uint64

	done chan struct{}

	state     atomic.Int32
	recording atomic.Int32

	// Worker-owned.
	sessions  map[string]*session
	sink      Sink
	recStream string
	recPath   string
}

type envelope struct {
	seq uint64
	cmd Command
}

// New validates p and starts the worker.
func New(p config.Params, opts Options) (*Router, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid router parameters: %w", err)
	}
	if opts.CommandQueue <= 0 {
		opts.CommandQueue = DefaultCommandQueue
	}
	if opts.UpdateQueue <= 0 {
		opts.UpdateQueue = DefaultUpdateQueue
	}
	switch opts.Policy {
	case "":
		opts.Policy = Block
	case Block, Drop:
	default:
		return nil, fmt.Errorf("%w: unknown queue policy %q", physio.ErrConfiguration, opts.Policy)
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	r := &Router{
		params:   p,
		opts:     opts,
		cmds:     make(chan envelope, opts.CommandQueue),
		updates:  make(chan Update, opts.UpdateQueue),
		done:     make(chan struct{}),
		sessions: map[string]*session{},
	}
	go r.run()
	return r, nil
}

// Params returns the configuration every command is processed with.
func (r *Router) Params() config.Params { return r.params }

// State reports whether the worker is currently processing a command.
func (r *Router) State() State { return State(r.state.Load()) }

// Recording reports the recording sub-state.
func (r *Router) Recording() RecordingState { return RecordingState(r.recording.Load()) }

// Submit queues cmd and returns its sequence number. The command's data is
// copied, so the caller may reuse its buffers. Under the Block policy Submit
// waits for room until ctx ends; under Drop it fails fast with ErrQueueFull.
func (r *Router) Submit(ctx context.Context, cmd Command) (uint64, error) {
	if cmd == nil {
		return 0, fmt.Errorf("%w: nil command", physio.ErrConfiguration)
	}
	return r.enqueue(ctx, own(cmd), r.opts.Policy)
}

func (r *Router) enqueue(ctx context.Context, cmd Command, policy QueuePolicy) (uint64, error) {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()
	if r.closed {
		return 0, physio.ErrChannelClosed
	}
	env := envelope{seq: r.seq + 1, cmd: cmd}
	if policy == Drop {
		select {
		case r.cmds <- env:
		default:
			r.opts.Observer.Dropped("command")
			return 0, ErrQueueFull
		}
	} else {
		select {
		case r.cmds <- env:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	r.seq = env.seq
	r.opts.Observer.QueueDepth("command", len(r.cmds))
	return env.seq, nil
}

// Sync blocks until every command submitted before it has been handled. It
// always waits for queue room, whatever the policy.
func (r *Router) Sync(ctx context.Context) error {
	done := make(chan struct{})
	if _, err := r.enqueue(ctx, syncCmd{done: done}, Block); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-r.done:
		return physio.ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Poll returns every update currently queued without blocking. Once the
// router is closed and the queue is drained it returns ErrChannelClosed.
func (r *Router) Poll() ([]Update, error) {
	var out []Update
	for {
		select {
		case u := <-r.updates:
			out = append(out, u)
			continue
		default:
		}
		break
	}
	r.opts.Observer.QueueDepth("update", len(r.updates))
	if len(out) == 0 {
		select {
		case <-r.done:
			return nil, physio.ErrChannelClosed
		default:
		}
	}
	return out, nil
}

// Close stops accepting commands, lets the worker finish the queued ones
// and waits for it to exit. Any open recording is closed.
func (r *Router) Close() error {
	r.sendMu.Lock()
	if r.closed {
		r.sendMu.Unlock()
		return physio.ErrChannelClosed
	}
	r.closed = true
	close(r.cmds)
	r.sendMu.Unlock()
	<-r.done
	return nil
}

// Done is closed when the worker has exited.
func (r *Router) Done() <-chan struct{} { return r.done }

func (r *Router) run() {
	defer close(r.done)
	defer r.closeSink()
	for env := range r.cmds {
		if c, ok := env.cmd.(syncCmd); ok {
			close(c.done)
			continue
		}
		r.state.Store(int32(Processing))
		r.handle(env)
		r.state.Store(int32(Idle))
		r.opts.Observer.CommandHandled(env.cmd.kind())
	}
}

func (r *Router) handle(env envelope) {
	switch c := env.cmd.(type) {
	case ProcessECG:
		r.processECG(env.seq, c)
	case IngestEvents:
		r.ingestEvents(env.seq, c)
	case StartRecording:
		r.startRecording(env.seq, c)
	case StopRecording:
		r.stopRecording(env.seq)
	case ResetStream:
		delete(r.sessions, c.Stream)
		r.emit(ResetUpdate{Header: r.header(c.Stream, env.seq)})
	default:
		logf("ignoring unknown command %T", c)
	}
}

func (r *Router) header(stream string, seq uint64) Header {
	return Header{Stream: stream, Seq: seq, At: r.opts.Clock.Now()}
}

// emit pushes u, evicting the oldest queued update when the queue is full.
// Updates are full-state, so a newer one supersedes what was evicted.
func (r *Router) emit(u Update) {
	for {
		select {
		case r.updates <- u:
			r.opts.Observer.UpdateEmitted(u.kind())
			return
		default:
		}
		select {
		case <-r.updates:
			r.opts.Observer.Dropped("update")
		default:
		}
	}
}

func (r *Router) fail(stream string, seq uint64, err error) {
	var se *pipeline.StageError
	if !errors.As(err, &se) {
		se = &pipeline.StageError{Stage: pipeline.StageIngest, Err: err}
	}
	r.opts.Observer.StageFailed(string(se.Stage))
	logf("stream %q command %d: %v", stream, seq, se)
	r.emit(FailureUpdate{Header: r.header(stream, seq), Err: se})
}

func (r *Router) processECG(seq uint64, c ProcessECG) {
	start := r.opts.Clock.Now()
	chunk, err := physio.NewTimeSeries(c.Chunk.FS, c.Chunk.Data)
	if err != nil {
		r.fail(c.Stream, seq, err)
		return
	}
	if chunk.Len() == 0 {
		r.fail(c.Stream, seq, fmt.Errorf("%w: empty chunk", physio.ErrEmptyInput))
		return
	}

	s := r.sessions[c.Stream]
	if s == nil {
		s, err = newSession(chunk.FS, r.params.WithFS(chunk.FS))
		if err != nil {
			r.fail(c.Stream, seq, err)
			return
		}
		r.sessions[c.Stream] = s
	} else if s.det == nil {
		r.fail(c.Stream, seq, fmt.Errorf("%w: stream %q carries annotations only", physio.ErrConfiguration, c.Stream))
		return
	} else if err := s.checkFS(chunk.FS); err != nil {
		r.fail(c.Stream, seq, err)
		return
	}

	r.record(c.Stream, seq, chunk)

	offset := s.appendChunk(chunk.Data)
	r.emit(ECGUpdate{Header: r.header(c.Stream, seq), Chunk: chunk, Offset: offset})
	r.analyse(c.Stream, seq, s)
	r.opts.Observer.ChunkProcessed(r.opts.Clock.Since(start).Seconds())
}

func (r *Router) ingestEvents(seq uint64, c IngestEvents) {
	ev, err := physio.NewEvents(c.Events.FS, c.Events.Items)
	if err != nil {
		r.fail(c.Stream, seq, err)
		return
	}
	if ev.Len() == 0 {
		r.fail(c.Stream, seq, fmt.Errorf("%w: no events", physio.ErrEmptyInput))
		return
	}
	s := r.sessions[c.Stream]
	if s == nil {
		s = newEventSession(ev.FS, r.params)
		r.sessions[c.Stream] = s
	} else if err := s.checkFS(ev.FS); err != nil {
		r.fail(c.Stream, seq, err)
		return
	}
	if dropped := s.addEvents(ev); dropped > 0 {
		logf("stream %q: dropped %d events at or before the newest beat", c.Stream, dropped)
	}
	r.analyse(c.Stream, seq, s)
}

// analyse publishes the current beats and, when there are enough, the
// pipeline results over the retained window.
func (r *Router) analyse(stream string, seq uint64, s *session) {
	r.emit(EventsUpdate{Header: r.header(stream, seq), Events: s.events(), WindowStart: s.start})

	if len(s.beats) < 2 {
		if s.det != nil {
			r.fail(stream, seq, &pipeline.StageError{
				Stage: pipeline.StageDetect,
				Err:   fmt.Errorf("%w: %d beats detected so far", physio.ErrInsufficientSignal, len(s.beats)),
			})
			return
		}
		r.fail(stream, seq, &pipeline.StageError{
			Stage: pipeline.StageRR,
			Err:   fmt.Errorf("%w: need at least 2 events, got %d", physio.ErrEmptyInput, len(s.beats)),
		})
		return
	}

	a := pipeline.Analyze(s.series(), s.windowEvents(), r.params.WithFS(s.fs))
	for _, f := range a.Failures {
		r.opts.Observer.StageFailed(string(f.Stage))
	}
	if f := a.Failure(pipeline.StageRR); f != nil {
		r.fail(stream, seq, f)
		return
	}
	r.emit(HRVUpdate{Header: r.header(stream, seq), Analysis: a, WindowStart: s.start})
}
