// Package hrv computes heart-rate-variability statistics from RR series:
// time-domain, frequency-domain (Welch PSD of the resampled tachogram) and
// nonlinear (Poincaré, sample entropy, DFA).
package hrv

import (
	"fmt"
	"math"

	"github.com/banshee-data/cardio.report/internal/dsp"
	"github.com/banshee-data/cardio.report/internal/physio"
)

// NN50Threshold is the successive-difference cutoff used by pNN50, seconds.
const NN50Threshold = 0.050

// TimeMetrics holds the time-domain statistics. Durations are seconds; PNN50
// is a fraction in [0, 1].
type TimeMetrics struct {
	AVNN      float64 `json:"avnn_s"`
	SDNN      float64 `json:"sdnn_s"`
	RMSSD     float64 `json:"rmssd_s"`
	PNN50     float64 `json:"pnn50"`
	MeanHR    float64 `json:"mean_hr_bpm"`
	Beats     int     `json:"n_beats"`
	Intervals int     `json:"n_intervals"`
}

// ComputeTime derives the time-domain statistics. Mean and variance use
// Welford accumulation.
func ComputeTime(rr physio.RRSeries) (TimeMetrics, error) {
	n := rr.Len()
	if n == 0 {
		return TimeMetrics{}, fmt.Errorf("%w: no RR intervals", physio.ErrEmptyInput)
	}
	if n < 2 {
		return TimeMetrics{}, fmt.Errorf("%w: time-domain metrics need at least 2 intervals, got %d",
			physio.ErrTooFewSamples, n)
	}

	var acc dsp.Welford
	for _, v := range rr.Intervals {
		acc.Add(v)
	}
	var sumSq float64
	nn50 := 0
	for i := 1; i < n; i++ {
		d := rr.Intervals[i] - rr.Intervals[i-1]
		sumSq += d * d
		if math.Abs(d) > NN50Threshold {
			nn50++
		}
	}
	diffs := float64(n - 1)
	return TimeMetrics{
		AVNN:      acc.Mean(),
		SDNN:      math.Sqrt(acc.SampleVariance()),
		RMSSD:     math.Sqrt(sumSq / diffs),
		PNN50:     float64(nn50) / diffs,
		MeanHR:    60 / acc.Mean(),
		Beats:     n + 1,
		Intervals: n,
	}, nil
}
