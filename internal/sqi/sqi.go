// Package sqi grades ECG signal quality from the waveform and its RR series.
//
// Evaluation never fails: inputs too short to judge are reported as Bad with
// a reason, since the grade is advisory.
package sqi

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/cardio.report/internal/dsp"
	"github.com/banshee-data/cardio.report/internal/physio"
)

// Status is the qualitative grade.
type Status string

const (
	Good      Status = "good"
	Uncertain Status = "uncertain"
	Bad       Status = "bad"
)

// Thresholds maps the quality indices to a Status. A signal is Bad when any
// Bad limit is crossed, Uncertain when any Uncertain limit is crossed, and
// Good otherwise.
type Thresholds struct {
	MinDurationS float64 `json:"sqi_min_duration_s"`
	// Kurtosis below KurtosisMin marks the waveform as not peaky enough to
	// be a clean ECG (Uncertain).
	KurtosisMin float64 `json:"sqi_kurtosis_min"`
	SNRGood     float64 `json:"sqi_snr_good"`
	SNRBad      float64 `json:"sqi_snr_bad"`
	CVUncertain float64 `json:"sqi_cv_uncertain"`
	CVBad       float64 `json:"sqi_cv_bad"`
	// QRS band used as the in-band region of the SNR proxy, Hz.
	BandLowHz  float64 `json:"sqi_band_low_hz"`
	BandHighHz float64 `json:"sqi_band_high_hz"`
	// Energy below BaselineHz or above NoiseHz counts as out-of-band.
	BaselineHz float64 `json:"sqi_baseline_hz"`
	NoiseHz    float64 `json:"sqi_noise_hz"`
}

// DefaultThresholds returns the documented starting point for grading.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinDurationS: 5,
		KurtosisMin:  5,
		SNRGood:      3,
		SNRBad:       1,
		CVUncertain:  0.2,
		CVBad:        0.5,
		BandLowHz:    5,
		BandHighHz:   15,
		BaselineHz:   0.5,
		NoiseHz:      40,
	}
}

// Validate checks that the limits are ordered and the bands are sane.
func (t Thresholds) Validate() error {
	switch {
	case t.MinDurationS < 0:
		return fmt.Errorf("%w: sqi_min_duration_s must not be negative", physio.ErrConfiguration)
	case t.SNRBad > t.SNRGood:
		return fmt.Errorf("%w: sqi_snr_bad (%v) exceeds sqi_snr_good (%v)", physio.ErrConfiguration, t.SNRBad, t.SNRGood)
	case t.CVUncertain > t.CVBad:
		return fmt.Errorf("%w: sqi_cv_uncertain (%v) exceeds sqi_cv_bad (%v)", physio.ErrConfiguration, t.CVUncertain, t.CVBad)
	case t.BandLowHz <= 0 || t.BandHighHz <= t.BandLowHz:
		return fmt.Errorf("%w: sqi band [%v, %v) is empty", physio.ErrConfiguration, t.BandLowHz, t.BandHighHz)
	case t.NoiseHz <= t.BandHighHz || t.BaselineHz >= t.BandLowHz:
		return fmt.Errorf("%w: sqi noise bands overlap the QRS band", physio.ErrConfiguration)
	}
	return nil
}

// Report is the outcome of an evaluation.
type Report struct {
	Kurtosis        float64  `json:"kurtosis"`
	SNR             float64  `json:"snr"`
	SNRdB           float64  `json:"snr_db"`
	RRCV            float64  `json:"rr_cv"`
	SpectralEntropy float64  `json:"spectral_entropy"`
	SpikeRatio      float64  `json:"spike_ratio"`
	Status          Status   `json:"status"`
	Reasons         []string `json:"reasons,omitempty"`
}

// Evaluate computes waveform kurtosis, an in-band/out-of-band SNR proxy and
// the RR coefficient of variation, then grades them against th.
func Evaluate(series physio.TimeSeries, rr physio.RRSeries, th Thresholds) Report {
	var r Report
	var reasons []string
	bad, uncertain := false, false

	if series.FS <= 0 || series.Duration() < th.MinDurationS {
		bad = true
		reasons = append(reasons, fmt.Sprintf("waveform shorter than %.1f s", th.MinDurationS))
	}
	if rr.Len() < 2 {
		bad = true
		reasons = append(reasons, "fewer than 2 RR intervals")
	}

	if series.Len() >= 4 && series.FS > 0 {
		r.Kurtosis = Kurtosis(series.Data)
		r.SpikeRatio = SpikeRatio(series.Data)
		psd := dsp.Welch(series.Data, series.FS, int(math.Round(2*series.FS)))
		r.SNR = SNR(psd, th)
		if r.SNR > 0 {
			r.SNRdB = 10 * math.Log10(r.SNR)
		}
		r.SpectralEntropy = psd.SpectralEntropy()

		switch {
		case r.SNR < th.SNRBad:
			bad = true
			reasons = append(reasons, fmt.Sprintf("snr %.2f below %.2f", r.SNR, th.SNRBad))
		case r.SNR < th.SNRGood:
			uncertain = true
			reasons = append(reasons, fmt.Sprintf("snr %.2f below %.2f", r.SNR, th.SNRGood))
		}
		if r.Kurtosis < th.KurtosisMin {
			uncertain = true
			reasons = append(reasons, fmt.Sprintf("kurtosis %.2f below %.2f", r.Kurtosis, th.KurtosisMin))
		}
	}
	if rr.Len() >= 2 {
		r.RRCV = CoefficientOfVariation(rr.Intervals)
		switch {
		case r.RRCV > th.CVBad:
			bad = true
			reasons = append(reasons, fmt.Sprintf("rr cv %.2f above %.2f", r.RRCV, th.CVBad))
		case r.RRCV > th.CVUncertain:
			uncertain = true
			reasons = append(reasons, fmt.Sprintf("rr cv %.2f above %.2f", r.RRCV, th.CVUncertain))
		}
	}

	switch {
	case bad:
		r.Status = Bad
	case uncertain:
		r.Status = Uncertain
	default:
		r.Status = Good
	}
	r.Reasons = reasons
	return r
}

// Kurtosis is the fourth central moment over the squared second (not excess
// kurtosis); 0 for a constant signal.
func Kurtosis(x []float64) float64 {
	mean := stat.Mean(x, nil)
	m2 := stat.MomentAbout(2, x, mean, nil)
	if m2 == 0 {
		return 0
	}
	return stat.MomentAbout(4, x, mean, nil) / (m2 * m2)
}

// SNR is the ratio of QRS-band energy to baseline and high-frequency energy.
func SNR(psd dsp.PSD, th Thresholds) float64 {
	signal := psd.BandPower(th.BandLowHz, th.BandHighHz)
	noise := psd.BandPower(0, th.BaselineHz) + psd.BandPower(th.NoiseHz, math.Inf(1))
	if signal <= 0 {
		return 0
	}
	return signal / math.Max(noise, 1e-9*signal)
}

// CoefficientOfVariation is the population standard deviation over the mean.
func CoefficientOfVariation(x []float64) float64 {
	var acc dsp.Welford
	for _, v := range x {
		acc.Add(v)
	}
	if acc.Mean() == 0 {
		return 0
	}
	return math.Sqrt(acc.PopulationVariance()) / math.Abs(acc.Mean())
}

// SpikeRatio is the fraction of first differences larger than five times
// their median absolute value.
func SpikeRatio(x []float64) float64 {
	if len(x) < 2 {
		return 0
	}
	diffs := make([]float64, len(x)-1)
	for i := 1; i < len(x); i++ {
		diffs[i-1] = math.Abs(x[i] - x[i-1])
	}
	limit := 5 * dsp.Median(diffs)
	if limit == 0 {
		return 0
	}
	spikes := 0
	for _, d := range diffs {
		if d > limit {
			spikes++
		}
	}
	return float64(spikes) / float64(len(diffs))
}
