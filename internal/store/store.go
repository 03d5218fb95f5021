// Package store keeps the consumer-side view of every stream. Updates are
// applied with Submit, which only stores raw data and marks categories
// dirty; Prepare recomputes the dirty categories of one stream and returns
// an immutable Snapshot.
//
// A Store is owned by a single goroutine and is not safe for concurrent use.
package store

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/banshee-data/cardio.report/internal/config"
	"github.com/banshee-data/cardio.report/internal/hrv"
	"github.com/banshee-data/cardio.report/internal/monitoring"
	"github.com/banshee-data/cardio.report/internal/physio"
	"github.com/banshee-data/cardio.report/internal/pipeline"
	"github.com/banshee-data/cardio.report/internal/rr"
	"github.com/banshee-data/cardio.report/internal/sqi"
	"github.com/banshee-data/cardio.report/internal/stream"
)

// ErrUnknownStream is returned by Prepare for a stream with no data.
var ErrUnknownStream = errors.New("unknown stream")

// TraceSeconds is how much of the waveform a snapshot trace covers.
const TraceSeconds = 10.0

// Observer is told about every Prepare call.
type Observer interface {
	Prepared(recomputed bool)
}

var logf = monitoring.Prefixed("store")

// Store holds one entry per stream.
type Store struct {
	params    config.Params
	entries   map[string]*entry
	observer  Observer
	recording stream.RecordingUpdate
}

type entry struct {
	id       string
	modality Modality
	fs       float64
	windowN  int

	wave    []float64
	start   int // absolute index of wave[0]
	waveSeq uint64

	events    physio.Events
	eventsSeq uint64

	pupil []physio.PupilSample

	// Derived values; replaced wholesale, never mutated in place.
	rr        physio.RRSeries
	time      *hrv.TimeMetrics
	frequency *hrv.FrequencyMetrics
	nonlinear *hrv.NonlinearMetrics
	sqi       *sqi.Report
	histogram []rr.Bin
	rrFigure  []RRPoint
	psdFigure []hrv.PSDPoint
	eeg       *EEGBands
	summary   *PupilSummary
	failures  map[Category]error

	// lastFailure is cleared by an analysis newer than failureSeq.
	lastFailure string
	failureSeq  uint64
	dirty       Category
	version     uint64
	snap        *Snapshot
}

// New returns an empty store that recomputes with p.
func New(p config.Params) *Store {
	return &Store{params: p, entries: map[string]*entry{}}
}

// SetObserver installs o; nil disables observation.
func (s *Store) SetObserver(o Observer) { s.observer = o }

// Params returns the configuration used for recomputation.
func (s *Store) Params() config.Params { return s.params }

// Streams returns the known stream IDs in sorted order.
func (s *Store) Streams() []string {
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Dirty returns the stale categories of a stream.
func (s *Store) Dirty(id string) Category {
	if e := s.entries[id]; e != nil {
		return e.dirty
	}
	return 0
}

// Recording returns the most recent recording transition seen.
func (s *Store) Recording() stream.RecordingUpdate { return s.recording }

func (s *Store) entry(id string, modality Modality, fs float64) *entry {
	e := s.entries[id]
	if e != nil && e.modality == modality && e.fs == fs {
		return e
	}
	if e != nil {
		logf("stream %q changed to %s at %v Hz; discarding previous state", id, modality, fs)
	}
	e = &entry{
		id:       id,
		modality: modality,
		fs:       fs,
		windowN:  int(math.Round(s.params.AnalysisWindowS * fs)),
		dirty:    All,
	}
	s.entries[id] = e
	return e
}

// Submit applies a router update. HRV updates older than the stream's most
// recent events are discarded.
func (s *Store) Submit(u stream.Update) {
	switch u := u.(type) {
	case stream.ECGUpdate:
		e := s.entry(u.Stream, ECG, u.Chunk.FS)
		e.appendWave(u.Offset, u.Chunk.Data)
		e.waveSeq = u.Seq
		e.dirty |= Waveform | SQI

	case stream.EventsUpdate:
		e := s.entry(u.Stream, ECG, u.Events.FS)
		e.events = u.Events
		e.eventsSeq = u.Seq
		e.dirty |= Derived

	case stream.HRVUpdate:
		e := s.entries[u.Stream]
		if e == nil || u.Seq < e.eventsSeq {
			logf("discarding stale hrv update %d for stream %q", u.Seq, u.Stream)
			return
		}
		e.applyAnalysis(u)

	case stream.FailureUpdate:
		e := s.entries[u.Stream]
		if e == nil {
			return
		}
		e.lastFailure = u.Err.Error()
		e.failureSeq = u.Seq
		e.dirty |= Status

	case stream.RecordingUpdate:
		s.recording = u

	case stream.ResetUpdate:
		delete(s.entries, u.Stream)
	}
}

// SubmitSeries appends a non-ECG waveform chunk, such as EEG, to a stream.
// Offsets are implicit: chunks are assumed contiguous.
func (s *Store) SubmitSeries(id string, modality Modality, chunk physio.TimeSeries) error {
	if modality == Eye {
		return fmt.Errorf("%w: eye streams take pupil samples", physio.ErrConfiguration)
	}
	if err := physio.ValidateFS(chunk.FS); err != nil {
		return err
	}
	e := s.entry(id, modality, chunk.FS)
	e.appendWave(e.start+len(e.wave), chunk.Data)
	e.dirty |= Waveform | Frequency
	return nil
}

// SubmitPupil appends eye-tracker samples to a stream. Only the most recent
// analysis window is kept.
func (s *Store) SubmitPupil(id string, samples []physio.PupilSample) {
	e := s.entry(id, Eye, 0)
	e.pupil = append(e.pupil, samples...)
	if n := len(e.pupil); n > 0 {
		cutoff := e.pupil[n-1].T - s.params.AnalysisWindowS
		i := sort.Search(n, func(i int) bool { return e.pupil[i].T >= cutoff })
		if i > 0 {
			e.pupil = append(e.pupil[:0:0], e.pupil[i:]...)
		}
	}
	e.dirty |= Waveform
}

// SetInterpFS changes the tachogram resampling rate. Only the frequency
// results of ECG streams go stale.
func (s *Store) SetInterpFS(fs float64) error {
	cfg := s.params.Frequency
	cfg.InterpFS = fs
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.params.Frequency = cfg
	for _, e := range s.entries {
		if e.modality == ECG {
			e.dirty |= Frequency | PSDFigure
		}
	}
	return nil
}

// appendWave places data at absolute offset. A gap or overlap restarts the
// retained waveform at offset.
func (e *entry) appendWave(offset int, data []float64) {
	if offset != e.start+len(e.wave) {
		e.wave = nil
		e.start = offset
	}
	e.wave = append(e.wave, data...)
	if excess := len(e.wave) - e.windowN; e.windowN > 0 && excess > 0 {
		e.wave = append(e.wave[:0:0], e.wave[excess:]...)
		e.start += excess
	}
}

// applyAnalysis adopts the router's results and clears the categories they
// cover.
func (e *entry) applyAnalysis(u stream.HRVUpdate) {
	a := u.Analysis
	e.rr = a.RR
	e.histogram = a.Histogram
	e.time = a.Time
	e.frequency = a.Frequency
	e.nonlinear = a.Nonlinear
	covered := RR | Histogram | Time | Frequency | Nonlinear
	e.setFailure(Time, stageFailure(a, pipeline.StageTime))
	e.setFailure(Frequency, stageFailure(a, pipeline.StageFrequency))
	e.setFailure(Nonlinear, stageFailure(a, pipeline.StageNonlinear))
	e.setFailure(RR, nil)
	if a.SQI != nil && u.Seq >= e.waveSeq {
		e.sqi = a.SQI
		covered |= SQI
	}
	e.dirty &^= covered
	e.dirty |= RRFigure | PSDFigure
	if e.lastFailure != "" && u.Seq > e.failureSeq {
		e.lastFailure = ""
		e.dirty |= Status
	}
}

func stageFailure(a pipeline.Analysis, stage pipeline.Stage) error {
	if f := a.Failure(stage); f != nil {
		return f
	}
	return nil
}
