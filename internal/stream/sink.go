package stream

import "github.com/banshee-data/cardio.report/internal/physio"

// Sink receives recorded chunks. Append must persist the chunk before it
// returns so recordings are never reordered on disk.
type Sink interface {
	Append(chunk physio.TimeSeries) error
	Close() error
}

// SinkOpener opens a sink at path for chunks sampled at fs.
type SinkOpener func(path string, fs float64) (Sink, error)
