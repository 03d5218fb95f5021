package dsp

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
	"gonum.org/v1/gonum/floats"
)

// PSD is a one-sided power spectral density estimate.
type PSD struct {
	Freqs []float64 // Hz
	Power []float64 // input units squared per Hz
	DF    float64   // bin width, Hz
}

// Welch estimates the PSD of x by averaging Hann-windowed periodograms of
// segLen-sample segments with 50% overlap. Each segment has its own mean
// removed. segLen is clamped to len(x). The result is empty when fewer than
// two samples are available.
func Welch(x []float64, fs float64, segLen int) PSD {
	n := len(x)
	if segLen > n {
		segLen = n
	}
	if segLen < 2 || fs <= 0 {
		return PSD{}
	}
	step := segLen / 2
	if step < 1 {
		step = 1
	}

	ones := make([]float64, segLen)
	for i := range ones {
		ones[i] = 1
	}
	w := window.Hann(ones)
	scale := 1 / (fs * floats.Dot(w, w))

	fft := fourier.NewFFT(segLen)
	nBins := segLen/2 + 1
	power := make([]float64, nBins)
	seg := make([]float64, segLen)
	var coeffs []complex128
	segments := 0
	for start := 0; start+segLen <= n; start += step {
		copy(seg, x[start:start+segLen])
		mean := floats.Sum(seg) / float64(segLen)
		for i := range seg {
			seg[i] = (seg[i] - mean) * w[i]
		}
		coeffs = fft.Coefficients(coeffs, seg)
		for k, c := range coeffs {
			p := (real(c)*real(c) + imag(c)*imag(c)) * scale
			if k != 0 && !(segLen%2 == 0 && k == nBins-1) {
				p *= 2
			}
			power[k] += p
		}
		segments++
	}
	df := fs / float64(segLen)
	freqs := make([]float64, nBins)
	for k := range freqs {
		freqs[k] = float64(k) * df
		power[k] /= float64(segments)
	}
	return PSD{Freqs: freqs, Power: power, DF: df}
}

// BandPower integrates the PSD over lo <= f < hi.
func (p PSD) BandPower(lo, hi float64) float64 {
	var sum float64
	for k, f := range p.Freqs {
		if f >= lo && f < hi {
			sum += p.Power[k]
		}
	}
	return sum * p.DF
}

// TotalPower integrates the whole PSD.
func (p PSD) TotalPower() float64 {
	return floats.Sum(p.Power) * p.DF
}

// SpectralEntropy is the Shannon entropy of the normalised PSD divided by
// log(bins), so it lies in [0, 1]. A flat spectrum scores 1.
func (p PSD) SpectralEntropy() float64 {
	total := floats.Sum(p.Power)
	if total <= 0 || len(p.Power) < 2 {
		return 0
	}
	var h float64
	for _, v := range p.Power {
		if v <= 0 {
			continue
		}
		q := v / total
		h -= q * math.Log(q)
	}
	return h / math.Log(float64(len(p.Power)))
}
