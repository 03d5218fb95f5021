// Package rr turns beat events into RR-interval series and flags artifacts.
package rr

import (
	"fmt"
	"math"

	"github.com/banshee-data/cardio.report/internal/dsp"
	"github.com/banshee-data/cardio.report/internal/physio"
)

// Config controls artifact classification.
type Config struct {
	// Tolerance is the fractional deviation from the local median beyond
	// which an interval is flagged.
	Tolerance float64 `json:"artifact_tolerance"`
	// Neighbors is how many intervals on each side form the local median.
	Neighbors int `json:"artifact_neighbors"`
}

// DefaultConfig flags intervals more than 20% away from the median of the
// five intervals on either side.
func DefaultConfig() Config {
	return Config{Tolerance: 0.2, Neighbors: 5}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if !(c.Tolerance > 0 && c.Tolerance < 1) {
		return fmt.Errorf("%w: artifact_tolerance must be in (0, 1), got %v", physio.ErrConfiguration, c.Tolerance)
	}
	if c.Neighbors < 1 {
		return fmt.Errorf("%w: artifact_neighbors must be at least 1, got %d", physio.ErrConfiguration, c.Neighbors)
	}
	return nil
}

// Build converts consecutive event gaps into intervals and classifies each
// one against the median of its neighbours. Flagged intervals are kept.
func Build(events physio.Events, cfg Config) (physio.RRSeries, error) {
	if err := cfg.Validate(); err != nil {
		return physio.RRSeries{}, err
	}
	if events.Len() < 2 {
		return physio.RRSeries{}, fmt.Errorf("%w: need at least 2 events, got %d", physio.ErrEmptyInput, events.Len())
	}
	if err := physio.ValidateFS(events.FS); err != nil {
		return physio.RRSeries{}, err
	}
	n := events.Len() - 1
	out := physio.RRSeries{
		Intervals: make([]float64, n),
		Flags:     make([]physio.Artifact, n),
	}
	for i := 0; i < n; i++ {
		gap := events.Items[i+1].Index - events.Items[i].Index
		if gap <= 0 {
			return physio.RRSeries{}, fmt.Errorf("%w: events %d and %d are not strictly increasing",
				physio.ErrConfiguration, i, i+1)
		}
		out.Intervals[i] = float64(gap) / events.FS
	}
	Classify(out.Intervals, out.Flags, cfg)
	return out, nil
}

// Classify writes an artifact flag for every interval into flags.
//
//   - longer than (1+tol) times the local median: Missed, a beat was skipped
//     and two intervals merged;
//   - shorter than (1-tol) times the local median and, together with an
//     adjacent short interval, within tol of the median: Extra, a spurious
//     beat split one interval in two;
//   - any other short interval: Ectopic.
func Classify(intervals []float64, flags []physio.Artifact, cfg Config) {
	n := len(intervals)
	med := make([]float64, n)
	for i := range intervals {
		med[i] = localMedian(intervals, i, cfg.Neighbors)
	}
	short := func(i int) bool {
		return i >= 0 && i < n && med[i] > 0 && intervals[i] < (1-cfg.Tolerance)*med[i]
	}
	for i, v := range intervals {
		flags[i] = physio.Normal
		m := med[i]
		if m <= 0 {
			continue
		}
		switch {
		case v > (1+cfg.Tolerance)*m:
			flags[i] = physio.Missed
		case short(i):
			flags[i] = physio.Ectopic
			for _, j := range []int{i - 1, i + 1} {
				if short(j) && math.Abs(v+intervals[j]-m) <= cfg.Tolerance*m {
					flags[i] = physio.Extra
					break
				}
			}
		}
	}
}

// localMedian is the median of up to k intervals on each side of i,
// excluding i itself. It returns 0 when i has no neighbours.
func localMedian(intervals []float64, i, k int) float64 {
	lo, hi := i-k, i+k
	if lo < 0 {
		lo = 0
	}
	if hi > len(intervals)-1 {
		hi = len(intervals) - 1
	}
	window := make([]float64, 0, 2*k)
	for j := lo; j <= hi; j++ {
		if j != i {
			window = append(window, intervals[j])
		}
	}
	return dsp.Median(window)
}
