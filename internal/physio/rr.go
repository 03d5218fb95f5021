package physio

import (
	"fmt"
	"strings"
)

// Artifact classifies a single RR interval.
type Artifact uint8

const (
	Normal Artifact = iota
	Ectopic
	Missed
	Extra
)

func (a Artifact) String() string {
	switch a {
	case Normal:
		return "normal"
	case Ectopic:
		return "ectopic"
	case Missed:
		return "missed"
	case Extra:
		return "extra"
	default:
		return fmt.Sprintf("artifact(%d)", uint8(a))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (a Artifact) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Artifact) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "normal":
		*a = Normal
	case "ectopic":
		*a = Ectopic
	case "missed":
		*a = Missed
	case "extra":
		*a = Extra
	default:
		return fmt.Errorf("unknown artifact %q", string(b))
	}
	return nil
}

// RRSeries holds intervals in seconds between consecutive beats, each with an
// artifact flag. Flags has the same length as Intervals.
type RRSeries struct {
	Intervals []float64  `json:"intervals_s"`
	Flags     []Artifact `json:"flags"`
}

// NewRRSeries builds a series of Normal intervals. Every interval must be
// strictly positive.
func NewRRSeries(intervals []float64) (RRSeries, error) {
	out := RRSeries{
		Intervals: make([]float64, len(intervals)),
		Flags:     make([]Artifact, len(intervals)),
	}
	for i, v := range intervals {
		if !(v > 0) {
			return RRSeries{}, fmt.Errorf("%w: interval %d is not positive (%v)", ErrConfiguration, i, v)
		}
		out.Intervals[i] = v
	}
	return out, nil
}

// Len returns the number of intervals.
func (rr RRSeries) Len() int { return len(rr.Intervals) }

// Sum returns the total duration covered by the intervals.
func (rr RRSeries) Sum() float64 {
	var s float64
	for _, v := range rr.Intervals {
		s += v
	}
	return s
}

// Normal returns a series containing only intervals flagged Normal.
func (rr RRSeries) Normal() RRSeries {
	out := RRSeries{}
	for i, v := range rr.Intervals {
		if i < len(rr.Flags) && rr.Flags[i] != Normal {
			continue
		}
		out.Intervals = append(out.Intervals, v)
		out.Flags = append(out.Flags, Normal)
	}
	return out
}

// ArtifactCount returns how many intervals carry a non-Normal flag.
func (rr RRSeries) ArtifactCount() int {
	n := 0
	for _, f := range rr.Flags {
		if f != Normal {
			n++
		}
	}
	return n
}

// HeartRateBPM converts each interval to an instantaneous heart rate.
func (rr RRSeries) HeartRateBPM() []float64 {
	out := make([]float64, len(rr.Intervals))
	for i, v := range rr.Intervals {
		out[i] = 60 / v
	}
	return out
}
