package stream

import (
	"time"

	"github.com/banshee-data/cardio.report/internal/physio"
	"github.com/banshee-data/cardio.report/internal/pipeline"
)

// Header identifies the stream and the command an update came from. Seq is
// the sequence number Submit returned for that command.
type Header struct {
	Stream string
	Seq    uint64
	At     time.Time
}

// Update is a message from the worker. Every update owns its data.
type Update interface {
	Meta() Header
	kind() string
}

// ECGUpdate carries a processed chunk. Offset is the absolute index of the
// chunk's first sample within the stream.
type ECGUpdate struct {
	Header
	Chunk  physio.TimeSeries
	Offset int
}

// EventsUpdate carries every beat currently inside the analysis window, in
// absolute sample indices. WindowStart is the absolute index of the oldest
// retained sample.
type EventsUpdate struct {
	Header
	Events      physio.Events
	WindowStart int
}

// HRVUpdate carries the analysis of the current window. Analysis.Events are
// relative to WindowStart.
type HRVUpdate struct {
	Header
	Analysis    pipeline.Analysis
	WindowStart int
}

// FailureUpdate reports a command that could not be processed. The stream
// keeps its previous state.
type FailureUpdate struct {
	Header
	Err *pipeline.StageError
}

// RecordingUpdate reports a recording sub-state transition. Err is set when
// entering RecordingError.
type RecordingUpdate struct {
	Header
	State RecordingState
	Path  string
	Err   *pipeline.StageError
}

// ResetUpdate tells consumers to drop a stream.
type ResetUpdate struct {
	Header
}

func (h Header) Meta() Header { return h }

func (ECGUpdate) kind() string       { return "ecg" }
func (EventsUpdate) kind() string    { return "events" }
func (HRVUpdate) kind() string       { return "hrv" }
func (FailureUpdate) kind() string   { return "failure" }
func (RecordingUpdate) kind() string { return "recording" }
func (ResetUpdate) kind() string     { return "reset" }
