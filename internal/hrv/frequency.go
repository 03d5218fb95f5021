package hrv

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/interp"

	"github.com/banshee-data/cardio.report/internal/dsp"
	"github.com/banshee-data/cardio.report/internal/physio"
)

// Interpolation selects how the tachogram is resampled.
type Interpolation string

const (
	Cubic  Interpolation = "cubic"
	Linear Interpolation = "linear"
)

// Band is a half-open frequency range [Lo, Hi) in Hz.
type Band struct {
	Name   string
	Lo, Hi float64
}

// Standard short-term HRV bands.
var (
	VLF = Band{Name: "vlf", Lo: 0.0033, Hi: 0.04}
	LF  = Band{Name: "lf", Lo: 0.04, Hi: 0.15}
	HF  = Band{Name: "hf", Lo: 0.15, Hi: 0.4}
)

// FrequencyConfig controls tachogram resampling and spectral estimation.
type FrequencyConfig struct {
	InterpFS      float64       `json:"interp_fs"`
	Interpolation Interpolation `json:"interpolation"`
	// SegmentS is the Welch segment length in seconds of resampled signal.
	SegmentS float64 `json:"welch_segment_s"`
	// MinIntervals is the shortest RR series accepted, roughly two minutes
	// at an adult resting rate.
	MinIntervals int `json:"min_frequency_intervals"`
}

// DefaultFrequencyConfig resamples at 4 Hz with cubic splines and 64 s Welch
// segments.
func DefaultFrequencyConfig() FrequencyConfig {
	return FrequencyConfig{
		InterpFS:      4,
		Interpolation: Cubic,
		SegmentS:      64,
		MinIntervals:  120,
	}
}

// Validate checks the configuration.
func (c FrequencyConfig) Validate() error {
	if err := physio.ValidateFS(c.InterpFS); err != nil {
		return fmt.Errorf("interp_fs: %w", err)
	}
	if c.Interpolation != Cubic && c.Interpolation != Linear {
		return fmt.Errorf("%w: interpolation must be %q or %q, got %q",
			physio.ErrConfiguration, Cubic, Linear, c.Interpolation)
	}
	if c.SegmentS <= 0 {
		return fmt.Errorf("%w: welch_segment_s must be positive, got %v", physio.ErrConfiguration, c.SegmentS)
	}
	if c.MinIntervals < 3 {
		return fmt.Errorf("%w: min_frequency_intervals must be at least 3, got %d", physio.ErrConfiguration, c.MinIntervals)
	}
	return nil
}

// PSDPoint is one bin of the tachogram spectrum.
type PSDPoint struct {
	FreqHz float64 `json:"freq_hz"`
	Power  float64 `json:"power_s2_per_hz"`
}

// FrequencyMetrics holds band powers in ms², normalised units as fractions
// of LF+HF, and the spectrum they were integrated from.
type FrequencyMetrics struct {
	VLF      float64    `json:"vlf_ms2"`
	LF       float64    `json:"lf_ms2"`
	HF       float64    `json:"hf_ms2"`
	Total    float64    `json:"total_ms2"`
	LFNu     float64    `json:"lf_nu"`
	HFNu     float64    `json:"hf_nu"`
	LFHF     float64    `json:"lf_hf"`
	LFPeak   float64    `json:"lf_peak_hz"`
	HFPeak   float64    `json:"hf_peak_hz"`
	InterpFS float64    `json:"interp_fs_hz"`
	PSD      []PSDPoint `json:"psd"`
}

// ComputeFrequency resamples the RR tachogram onto a uniform grid, removes
// the mean and integrates the Welch PSD over the VLF, LF and HF bands.
func ComputeFrequency(rr physio.RRSeries, cfg FrequencyConfig) (FrequencyMetrics, error) {
	if err := cfg.Validate(); err != nil {
		return FrequencyMetrics{}, err
	}
	if rr.Len() < cfg.MinIntervals {
		return FrequencyMetrics{}, fmt.Errorf("%w: frequency metrics need at least %d intervals, got %d",
			physio.ErrTooFewSamples, cfg.MinIntervals, rr.Len())
	}

	grid, err := Resample(rr, cfg.InterpFS, cfg.Interpolation)
	if err != nil {
		return FrequencyMetrics{}, err
	}
	mean := floats.Sum(grid) / float64(len(grid))
	floats.AddConst(-mean, grid)

	psd := dsp.Welch(grid, cfg.InterpFS, int(math.Round(cfg.SegmentS*cfg.InterpFS)))
	lf := psd.BandPower(LF.Lo, LF.Hi)
	hf := psd.BandPower(HF.Lo, HF.Hi)
	if lf+hf <= 0 {
		return FrequencyMetrics{}, fmt.Errorf("%w: tachogram has no LF or HF power", physio.ErrTooFewSamples)
	}
	vlf := psd.BandPower(VLF.Lo, VLF.Hi)

	const toMS2 = 1e6
	out := FrequencyMetrics{
		VLF:      vlf * toMS2,
		LF:       lf * toMS2,
		HF:       hf * toMS2,
		Total:    (vlf + lf + hf) * toMS2,
		LFNu:     lf / (lf + hf),
		HFNu:     hf / (lf + hf),
		LFPeak:   peakFrequency(psd, LF),
		HFPeak:   peakFrequency(psd, HF),
		InterpFS: cfg.InterpFS,
		PSD:      make([]PSDPoint, len(psd.Freqs)),
	}
	if hf > 0 {
		out.LFHF = lf / hf
	}
	for k := range psd.Freqs {
		out.PSD[k] = PSDPoint{FreqHz: psd.Freqs[k], Power: psd.Power[k]}
	}
	return out, nil
}

// Resample evaluates the tachogram (interval value at the time of the beat
// that ends it) on a uniform grid at fs between the first and last beat.
func Resample(rr physio.RRSeries, fs float64, method Interpolation) ([]float64, error) {
	n := rr.Len()
	if n < 3 {
		return nil, fmt.Errorf("%w: resampling needs at least 3 intervals, got %d", physio.ErrTooFewSamples, n)
	}
	xs := make([]float64, n)
	var t float64
	for i, v := range rr.Intervals {
		t += v
		xs[i] = t
	}

	var pred interp.FittablePredictor
	switch method {
	case Linear:
		pred = &interp.PiecewiseLinear{}
	default:
		pred = &interp.NaturalCubic{}
	}
	if err := pred.Fit(xs, rr.Intervals); err != nil {
		return nil, fmt.Errorf("failed to fit tachogram: %w", err)
	}

	span := xs[n-1] - xs[0]
	m := int(math.Floor(span*fs)) + 1
	out := make([]float64, m)
	for i := range out {
		x := xs[0] + float64(i)/fs
		if x > xs[n-1] {
			x = xs[n-1]
		}
		out[i] = pred.Predict(x)
	}
	return out, nil
}

func peakFrequency(psd dsp.PSD, b Band) float64 {
	best, bestP := 0.0, -1.0
	for k, f := range psd.Freqs {
		if f >= b.Lo && f < b.Hi && psd.Power[k] > bestP {
			best, bestP = f, psd.Power[k]
		}
	}
	return best
}
