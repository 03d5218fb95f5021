package hrv

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/banshee-data/cardio.report/internal/dsp"
	"github.com/banshee-data/cardio.report/internal/physio"
)

// Sub-metric names used in NonlinearMetrics.Errors.
const (
	MetricPoincare      = "poincare"
	MetricSampleEntropy = "sample_entropy"
	MetricDFA           = "dfa_alpha1"
)

// NonlinearConfig controls the entropy and fluctuation analyses.
type NonlinearConfig struct {
	SampEnM int `json:"sampen_m"`
	// SampEnRFactor scales SDNN into the sample entropy tolerance.
	SampEnRFactor float64 `json:"sampen_r_factor"`
	DFAMinScale   int     `json:"dfa_min_scale"`
	DFAMaxScale   int     `json:"dfa_max_scale"`
}

// DefaultNonlinearConfig uses m = 2, r = 0.2 SDNN and the short-term DFA
// range of 4 to 16 beats.
func DefaultNonlinearConfig() NonlinearConfig {
	return NonlinearConfig{SampEnM: 2, SampEnRFactor: 0.2, DFAMinScale: 4, DFAMaxScale: 16}
}

// Validate checks the configuration.
func (c NonlinearConfig) Validate() error {
	switch {
	case c.SampEnM < 1:
		return fmt.Errorf("%w: sampen_m must be at least 1, got %d", physio.ErrConfiguration, c.SampEnM)
	case c.SampEnRFactor <= 0:
		return fmt.Errorf("%w: sampen_r_factor must be positive, got %v", physio.ErrConfiguration, c.SampEnRFactor)
	case c.DFAMinScale < 2:
		return fmt.Errorf("%w: dfa_min_scale must be at least 2, got %d", physio.ErrConfiguration, c.DFAMinScale)
	case c.DFAMaxScale <= c.DFAMinScale:
		return fmt.Errorf("%w: dfa_max_scale (%d) must exceed dfa_min_scale (%d)",
			physio.ErrConfiguration, c.DFAMaxScale, c.DFAMinScale)
	}
	return nil
}

// NonlinearMetrics holds Poincaré, entropy and DFA results. Each sub-metric
// has its own minimum length; one that could not be computed is left at zero
// and its failure is recorded in Errors under its metric name.
type NonlinearMetrics struct {
	SD1           float64
	SD2           float64
	SD1SD2        float64
	SampleEntropy float64
	DFAAlpha1     float64
	Errors        map[string]error
}

// Valid reports whether the named sub-metric was computed.
func (m NonlinearMetrics) Valid(name string) bool {
	return m.Errors[name] == nil
}

// MarshalJSON writes only the computed fields plus a failures object.
func (m NonlinearMetrics) MarshalJSON() ([]byte, error) {
	out := map[string]any{}
	if m.Valid(MetricPoincare) {
		out["sd1_s"] = m.SD1
		out["sd2_s"] = m.SD2
		out["sd1_sd2"] = m.SD1SD2
	}
	if m.Valid(MetricSampleEntropy) {
		out["sample_entropy"] = m.SampleEntropy
	}
	if m.Valid(MetricDFA) {
		out["dfa_alpha1"] = m.DFAAlpha1
	}
	if len(m.Errors) > 0 {
		failures := map[string]string{}
		for k, err := range m.Errors {
			failures[k] = err.Error()
		}
		out["failures"] = failures
	}
	return json.Marshal(out)
}

// ComputeNonlinear runs every sub-metric independently. It returns an error
// only when none of them could be computed.
func ComputeNonlinear(rr physio.RRSeries, cfg NonlinearConfig) (NonlinearMetrics, error) {
	if err := cfg.Validate(); err != nil {
		return NonlinearMetrics{}, err
	}
	var out NonlinearMetrics
	fail := func(name string, err error) {
		if out.Errors == nil {
			out.Errors = map[string]error{}
		}
		out.Errors[name] = err
	}

	x := rr.Intervals
	var acc dsp.Welford
	for _, v := range x {
		acc.Add(v)
	}
	sdnn := math.Sqrt(acc.SampleVariance())

	if sd1, sd2, err := poincare(x, sdnn); err != nil {
		fail(MetricPoincare, err)
	} else {
		out.SD1, out.SD2 = sd1, sd2
		if sd2 > 0 {
			out.SD1SD2 = sd1 / sd2
		}
	}
	if v, err := SampleEntropy(x, cfg.SampEnM, cfg.SampEnRFactor*math.Max(sdnn, 1e-4)); err != nil {
		fail(MetricSampleEntropy, err)
	} else {
		out.SampleEntropy = v
	}
	if v, err := DFA(x, cfg.DFAMinScale, cfg.DFAMaxScale); err != nil {
		fail(MetricDFA, err)
	} else {
		out.DFAAlpha1 = v
	}

	if len(out.Errors) == 3 {
		names := make([]string, 0, len(out.Errors))
		for k := range out.Errors {
			names = append(names, k)
		}
		sort.Strings(names)
		errs := make([]error, 0, len(names))
		for _, k := range names {
			errs = append(errs, fmt.Errorf("%s: %w", k, out.Errors[k]))
		}
		return out, errors.Join(errs...)
	}
	return out, nil
}

// poincare returns SD1 (population spread of successive differences) and SD2
// derived from SDNN.
func poincare(x []float64, sdnn float64) (sd1, sd2 float64, err error) {
	if len(x) < 3 {
		return 0, 0, fmt.Errorf("%w: Poincaré metrics need at least 3 intervals, got %d", physio.ErrTooFewSamples, len(x))
	}
	var acc dsp.Welford
	for i := 1; i < len(x); i++ {
		acc.Add(x[i] - x[i-1])
	}
	sd1 = math.Sqrt(0.5 * acc.PopulationVariance())
	sd2 = math.Sqrt(math.Max(2*sdnn*sdnn-sd1*sd1, 0))
	return sd1, sd2, nil
}

// SampleEntropy returns -ln(A/B) where B counts template pairs of length m
// and A pairs of length m+1 whose Chebyshev distance is below r.
func SampleEntropy(x []float64, m int, r float64) (float64, error) {
	n := len(x)
	if n <= m+1 {
		return 0, fmt.Errorf("%w: sample entropy needs more than %d intervals, got %d", physio.ErrTooFewSamples, m+1, n)
	}
	var countM, countM1 int
	for i := 0; i < n-m; i++ {
		for j := i + 1; j < n-m; j++ {
			if chebyshev(x, i, j, m) < r {
				countM++
				if chebyshev(x, i, j, m+1) < r {
					countM1++
				}
			}
		}
	}
	if countM == 0 || countM1 == 0 {
		return 0, fmt.Errorf("%w: no matching templates (m=%d: %d, m=%d: %d)",
			physio.ErrTooFewSamples, m, countM, m+1, countM1)
	}
	return -math.Log(float64(countM1) / float64(countM)), nil
}

func chebyshev(x []float64, i, j, length int) float64 {
	var d float64
	for k := 0; k < length; k++ {
		d = math.Max(d, math.Abs(x[i+k]-x[j+k]))
	}
	return d
}

// DFA returns the detrended fluctuation scaling exponent over window sizes
// minScale..maxScale (capped at len(x)), using non-overlapping windows of
// the integrated, mean-removed series.
func DFA(x []float64, minScale, maxScale int) (float64, error) {
	n := len(x)
	if n < 2*minScale {
		return 0, fmt.Errorf("%w: DFA needs at least %d intervals, got %d", physio.ErrTooFewSamples, 2*minScale, n)
	}
	var mean float64
	for _, v := range x {
		mean += v
	}
	mean /= float64(n)
	profile := make([]float64, n)
	var acc float64
	for i, v := range x {
		acc += v - mean
		profile[i] = acc
	}

	if maxScale > n {
		maxScale = n
	}
	var logN, logF []float64
	for w := minScale; w <= maxScale; w++ {
		idx := make([]float64, w)
		for i := range idx {
			idx[i] = float64(i)
		}
		var total float64
		segments := 0
		for start := 0; start+w <= n; start += w {
			seg := profile[start : start+w]
			total += detrendedMSE(idx, seg)
			segments++
		}
		rms := math.Sqrt(total / float64(segments))
		if rms > 0 && !math.IsInf(rms, 0) && !math.IsNaN(rms) {
			logN = append(logN, math.Log(float64(w)))
			logF = append(logF, math.Log(rms))
		}
	}
	if len(logN) < 2 {
		return 0, fmt.Errorf("%w: DFA found fewer than 2 usable scales", physio.ErrTooFewSamples)
	}
	return dsp.Slope(logN, logF), nil
}

func detrendedMSE(xs, ys []float64) float64 {
	intercept, slope := dsp.LinearFit(xs, ys)
	var sum float64
	for i := range xs {
		d := ys[i] - (slope*xs[i] + intercept)
		sum += d * d
	}
	return sum / float64(len(xs))
}
