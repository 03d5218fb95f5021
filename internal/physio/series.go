// Package physio holds the waveform, event and RR types passed between the
// analysis stages.
package physio

import (
	"fmt"
	"math"
)

// TimeSeries is a uniformly sampled waveform. Data must not be modified once
// the series has been handed to another stage.
type TimeSeries struct {
	FS   float64   `json:"fs_hz"`
	Data []float64 `json:"data"`
}

// NewTimeSeries copies data into a new series after validating the sampling
// rate and the samples.
func NewTimeSeries(fs float64, data []float64) (TimeSeries, error) {
	if err := ValidateFS(fs); err != nil {
		return TimeSeries{}, err
	}
	for i, v := range data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return TimeSeries{}, fmt.Errorf("%w: sample %d is not finite", ErrConfiguration, i)
		}
	}
	out := make([]float64, len(data))
	copy(out, data)
	return TimeSeries{FS: fs, Data: out}, nil
}

// ValidateFS rejects non-positive or non-finite sampling rates.
func ValidateFS(fs float64) error {
	if !(fs > 0) || math.IsInf(fs, 0) {
		return fmt.Errorf("%w: sampling rate must be positive, got %v", ErrConfiguration, fs)
	}
	return nil
}

// Len returns the number of samples.
func (ts TimeSeries) Len() int { return len(ts.Data) }

// Duration returns the series length in seconds.
func (ts TimeSeries) Duration() float64 {
	if ts.FS <= 0 {
		return 0
	}
	return float64(len(ts.Data)) / ts.FS
}

// Slice returns a copy of samples [from, to), clamped to the series bounds.
func (ts TimeSeries) Slice(from, to int) TimeSeries {
	if from < 0 {
		from = 0
	}
	if to > len(ts.Data) {
		to = len(ts.Data)
	}
	if from >= to {
		return TimeSeries{FS: ts.FS}
	}
	out := make([]float64, to-from)
	copy(out, ts.Data[from:to])
	return TimeSeries{FS: ts.FS, Data: out}
}

// Concat returns a new series holding ts followed by next. Both must share
// the same sampling rate.
func (ts TimeSeries) Concat(next TimeSeries) (TimeSeries, error) {
	if len(ts.Data) > 0 && ts.FS != next.FS {
		return TimeSeries{}, fmt.Errorf("%w: sampling rate changed from %v to %v Hz", ErrConfiguration, ts.FS, next.FS)
	}
	out := make([]float64, 0, len(ts.Data)+len(next.Data))
	out = append(out, ts.Data...)
	out = append(out, next.Data...)
	return TimeSeries{FS: next.FS, Data: out}, nil
}
