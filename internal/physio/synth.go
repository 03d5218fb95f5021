package physio

import (
	"math"
	"math/rand"
)

// SynthOptions controls the synthetic ECG generator.
type SynthOptions struct {
	FS       float64 // sampling rate, Hz
	Seconds  float64 // duration
	HeartBPM float64 // mean heart rate
	// Respiratory sinus arrhythmia: the instantaneous rate is modulated by
	// ModDepthBPM at ModHz.
	ModDepthBPM float64
	ModHz       float64
	Noise       float64 // peak amplitude of uniform noise
	Seed        int64
}

// Synthesize returns a non-clinical ECG-shaped waveform built from gaussian
// P, Q, R, S and T waves riding on a slow baseline. Output is fully
// determined by opts.
func Synthesize(opts SynthOptions) TimeSeries {
	if opts.FS <= 0 || opts.Seconds <= 0 {
		return TimeSeries{FS: opts.FS}
	}
	if opts.HeartBPM <= 0 {
		opts.HeartBPM = 72
	}
	n := int(math.Round(opts.FS * opts.Seconds))
	rng := rand.New(rand.NewSource(opts.Seed))
	data := make([]float64, n)
	phase := 0.0
	for i := 0; i < n; i++ {
		t := float64(i) / opts.FS
		bpm := opts.HeartBPM + opts.ModDepthBPM*math.Sin(2*math.Pi*opts.ModHz*t)
		phase += bpm / 60 / opts.FS
		if phase >= 1 {
			phase -= 1
		}

		baseline := 0.05 * math.Sin(2*math.Pi*0.2*t)
		p := 0.08 * gauss(phase, 0.18, 0.03)
		q := -0.12 * gauss(phase, 0.30, 0.01)
		r := 1.00 * gauss(phase, 0.32, 0.008)
		s := -0.25 * gauss(phase, 0.35, 0.012)
		tw := 0.25 * gauss(phase, 0.60, 0.06)
		noise := 0.0
		if opts.Noise > 0 {
			noise = opts.Noise * (2*rng.Float64() - 1)
		}
		data[i] = baseline + p + q + r + s + tw + noise
	}
	return TimeSeries{FS: opts.FS, Data: data}
}

func gauss(x, mu, sigma float64) float64 {
	z := (x - mu) / sigma
	return math.Exp(-0.5 * z * z)
}
