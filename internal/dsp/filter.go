// Package dsp contains the numerical kernels shared by the detector, the HRV
// engines and the SQI evaluator.
package dsp

import "math"

// Biquad is a second-order IIR section in direct form I, with coefficients
// normalised so that a0 == 1.
type Biquad struct {
	b0, b1, b2, a1, a2 float64
	x1, x2, y1, y2     float64
}

func newBiquad(b0, b1, b2, a0, a1, a2 float64) Biquad {
	return Biquad{b0: b0 / a0, b1: b1 / a0, b2: b2 / a0, a1: a1 / a0, a2: a2 / a0}
}

// LowPass returns a Butterworth (Q = 1/sqrt2) low-pass section.
func LowPass(cutoffHz, fs float64) Biquad {
	w0 := 2 * math.Pi * cutoffHz / fs
	cosw, alpha := math.Cos(w0), math.Sin(w0)/math.Sqrt2
	return newBiquad((1-cosw)/2, 1-cosw, (1-cosw)/2, 1+alpha, -2*cosw, 1-alpha)
}

// HighPass returns a Butterworth (Q = 1/sqrt2) high-pass section.
func HighPass(cutoffHz, fs float64) Biquad {
	w0 := 2 * math.Pi * cutoffHz / fs
	cosw, alpha := math.Cos(w0), math.Sin(w0)/math.Sqrt2
	return newBiquad((1+cosw)/2, -(1 + cosw), (1+cosw)/2, 1+alpha, -2*cosw, 1-alpha)
}

// DCGain is the response of the section to a constant input.
func (b *Biquad) DCGain() float64 {
	return (b.b0 + b.b1 + b.b2) / (1 + b.a1 + b.a2)
}

// Prime loads the state the section would hold after an infinitely long
// constant input x, so a signal that starts with an offset produces no step
// transient.
func (b *Biquad) Prime(x float64) {
	y := b.DCGain() * x
	b.x1, b.x2 = x, x
	b.y1, b.y2 = y, y
}

// Step filters one sample.
func (b *Biquad) Step(x float64) float64 {
	y := b.b0*x + b.b1*b.x1 + b.b2*b.x2 - b.a1*b.y1 - b.a2*b.y2
	b.x2, b.x1 = b.x1, x
	b.y2, b.y1 = b.y1, y
	return y
}

// BandPass cascades a high-pass and a low-pass section. The zero value is not
// usable; use NewBandPass.
type BandPass struct {
	hp, lp Biquad
	primed bool
}

// NewBandPass builds a band-pass filter passing [lowHz, highHz].
func NewBandPass(lowHz, highHz, fs float64) *BandPass {
	return &BandPass{hp: HighPass(lowHz, fs), lp: LowPass(highHz, fs)}
}

// Step filters one sample. The first sample primes both sections.
func (f *BandPass) Step(x float64) float64 {
	if !f.primed {
		f.hp.Prime(x)
		f.lp.Prime(f.hp.DCGain() * x)
		f.primed = true
	}
	return f.lp.Step(f.hp.Step(x))
}
