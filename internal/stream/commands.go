package stream

import "github.com/banshee-data/cardio.report/internal/physio"

// Command is a request to the streaming worker. The set is closed; use one
// of the types in this file.
type Command interface {
	kind() string
}

// ProcessECG appends a waveform chunk to a stream and reanalyses it.
type ProcessECG struct {
	Stream string
	Chunk  physio.TimeSeries
}

// IngestEvents adds externally supplied beat or stimulus annotations to a
// stream, in the stream's absolute sample coordinates.
type IngestEvents struct {
	Stream string
	Events physio.Events
}

// StartRecording opens a recording sink at Path. Chunks from Stream are
// appended in arrival order; an empty Stream records every stream.
type StartRecording struct {
	Stream string
	Path   string
	FS     float64
}

// StopRecording closes the current sink.
type StopRecording struct{}

// ResetStream discards all state held for a stream.
type ResetStream struct {
	Stream string
}

// sync is queued by Router.Sync; done is closed once every earlier command
// has been handled.
type syncCmd struct {
	done chan struct{}
}

func (ProcessECG) kind() string     { return "process_ecg" }
func (IngestEvents) kind() string   { return "ingest_events" }
func (StartRecording) kind() string { return "start_recording" }
func (StopRecording) kind() string  { return "stop_recording" }
func (ResetStream) kind() string    { return "reset_stream" }
func (syncCmd) kind() string        { return "sync" }

// own returns a copy of cmd that shares no memory with the caller.
func own(cmd Command) Command {
	switch c := cmd.(type) {
	case ProcessECG:
		c.Chunk.Data = append([]float64(nil), c.Chunk.Data...)
		return c
	case *ProcessECG:
		return own(*c)
	case IngestEvents:
		c.Events.Items = append([]physio.Event(nil), c.Events.Items...)
		return c
	case *IngestEvents:
		return own(*c)
	case *StartRecording:
		return *c
	case *StopRecording:
		return *c
	case *ResetStream:
		return *c
	}
	return cmd
}
