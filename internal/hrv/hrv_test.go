package hrv

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/cardio.report/internal/physio"
)

func series(t *testing.T, intervals ...float64) physio.RRSeries {
	t.Helper()
	rr, err := physio.NewRRSeries(intervals)
	require.NoError(t, err)
	return rr
}

// modulated returns n intervals around base seconds with a sinusoidal
// modulation of depth seconds at freq Hz, sampled at each beat time.
func modulated(t *testing.T, n int, base, depth, freq float64) physio.RRSeries {
	t.Helper()
	out := make([]float64, n)
	var at float64
	for i := range out {
		out[i] = base + depth*math.Sin(2*math.Pi*freq*at)
		at += out[i]
	}
	return series(t, out...)
}

var regressionRR = []float64{
	0.82, 0.78, 0.80, 0.79, 0.83, 0.77, 0.84, 0.88, 0.86, 0.81,
	0.79, 0.82, 0.85, 0.78, 0.80, 0.79, 0.83, 0.84, 0.82, 0.81,
}

func TestComputeTimeScenario(t *testing.T) {
	m, err := ComputeTime(series(t, 0.80, 0.82, 0.78, 0.81))
	require.NoError(t, err)

	assert.InDelta(t, 0.8025, m.AVNN, 1e-12)
	assert.InDelta(t, 0.0171, m.SDNN, 1e-4)
	// Root mean square of the three successive differences 0.02, -0.04, 0.03.
	assert.InDelta(t, math.Sqrt(0.0029/3), m.RMSSD, 1e-12)
	assert.Equal(t, 0.0, m.PNN50)
	assert.Equal(t, 4, m.Intervals)
	assert.Equal(t, 5, m.Beats)
	assert.InDelta(t, 60/0.8025, m.MeanHR, 1e-9)
}

func TestComputeTimePNN50(t *testing.T) {
	m, err := ComputeTime(series(t, 0.80, 0.90, 0.88, 0.70))
	require.NoError(t, err)
	assert.InDelta(t, 2.0/3, m.PNN50, 1e-12)
}

func TestComputeTimeTooShort(t *testing.T) {
	_, err := ComputeTime(physio.RRSeries{})
	assert.ErrorIs(t, err, physio.ErrEmptyInput)

	_, err = ComputeTime(series(t, 0.8))
	assert.ErrorIs(t, err, physio.ErrTooFewSamples)
}

func TestComputeNonlinearRegression(t *testing.T) {
	m, err := ComputeNonlinear(series(t, regressionRR...), DefaultNonlinearConfig())
	require.NoError(t, err)
	assert.Empty(t, m.Errors)

	assert.InDelta(t, 0.02640511156760194, m.SD1, 1e-9)
	assert.InDelta(t, 0.03157499975325861, m.SD2, 1e-9)
	assert.InDelta(t, m.SD1/m.SD2, m.SD1SD2, 1e-12)
	assert.InDelta(t, 0.40546510810816444, m.SampleEntropy, 1e-9)
	assert.InDelta(t, 0.8558325863087242, m.DFAAlpha1, 1e-9)
}

func TestComputeNonlinearPartial(t *testing.T) {
	m, err := ComputeNonlinear(series(t, 0.80, 0.82, 0.78, 0.81, 0.80), DefaultNonlinearConfig())
	require.NoError(t, err)

	assert.True(t, m.Valid(MetricPoincare))
	assert.Greater(t, m.SD1, 0.0)
	assert.False(t, m.Valid(MetricDFA))
	assert.ErrorIs(t, m.Errors[MetricDFA], physio.ErrTooFewSamples)

	b, err := json.Marshal(m)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Contains(t, decoded, "sd1_s")
	assert.NotContains(t, decoded, "dfa_alpha1")
	assert.Contains(t, decoded["failures"], MetricDFA)
}

func TestComputeNonlinearAllFail(t *testing.T) {
	m, err := ComputeNonlinear(series(t, 0.8, 0.9), DefaultNonlinearConfig())
	assert.ErrorIs(t, err, physio.ErrTooFewSamples)
	assert.Len(t, m.Errors, 3)
}

func TestNonlinearConfigValidate(t *testing.T) {
	cfg := DefaultNonlinearConfig()
	cfg.DFAMaxScale = cfg.DFAMinScale
	_, err := ComputeNonlinear(series(t, regressionRR...), cfg)
	assert.ErrorIs(t, err, physio.ErrConfiguration)
}

func TestSampleEntropyIdenticalSeriesFails(t *testing.T) {
	_, err := SampleEntropy([]float64{1, 2, 3}, 2, 0.1)
	assert.ErrorIs(t, err, physio.ErrTooFewSamples)
}

func TestComputeFrequencyBands(t *testing.T) {
	tests := []struct {
		name     string
		freq     float64
		dominant func(FrequencyMetrics) float64
		peak     func(FrequencyMetrics) float64
	}{
		{"LF modulation", 0.1, func(m FrequencyMetrics) float64 { return m.LFNu }, func(m FrequencyMetrics) float64 { return m.LFPeak }},
		{"HF modulation", 0.25, func(m FrequencyMetrics) float64 { return m.HFNu }, func(m FrequencyMetrics) float64 { return m.HFPeak }},
	}
	for _, tt := range tests {
		for _, method := range []Interpolation{Cubic, Linear} {
			t.Run(tt.name+"/"+string(method), func(t *testing.T) {
				cfg := DefaultFrequencyConfig()
				cfg.Interpolation = method
				m, err := ComputeFrequency(modulated(t, 300, 0.8, 0.05, tt.freq), cfg)
				require.NoError(t, err)

				assert.Greater(t, tt.dominant(m), 0.8)
				assert.InDelta(t, 1, m.LFNu+m.HFNu, 1e-12)
				assert.InDelta(t, tt.freq, tt.peak(m), 4/256.0)
				assert.InDelta(t, m.LF/m.HF, m.LFHF, 1e-9)
				assert.InDelta(t, m.VLF+m.LF+m.HF, m.Total, 1e-9)
				assert.Equal(t, 4.0, m.InterpFS)
				require.NotEmpty(t, m.PSD)
				assert.Equal(t, 0.0, m.PSD[0].FreqHz)
			})
		}
	}
}

func TestComputeFrequencyPowerUnits(t *testing.T) {
	// A 50 ms sinusoid carries 0.05^2/2 s^2 = 1250 ms^2 of variance.
	m, err := ComputeFrequency(modulated(t, 400, 0.8, 0.05, 0.25), DefaultFrequencyConfig())
	require.NoError(t, err)
	assert.InDelta(t, 1250, m.HF, 200)
}

func TestComputeFrequencyTooFew(t *testing.T) {
	_, err := ComputeFrequency(modulated(t, 50, 0.8, 0.05, 0.1), DefaultFrequencyConfig())
	assert.ErrorIs(t, err, physio.ErrTooFewSamples)

	cfg := DefaultFrequencyConfig()
	cfg.InterpFS = 0
	_, err = ComputeFrequency(modulated(t, 300, 0.8, 0.05, 0.1), cfg)
	assert.ErrorIs(t, err, physio.ErrConfiguration)

	cfg = DefaultFrequencyConfig()
	cfg.Interpolation = "quadratic"
	assert.ErrorIs(t, cfg.Validate(), physio.ErrConfiguration)
}

func TestResampleGrid(t *testing.T) {
	rr := series(t, 1, 1, 1, 1)
	grid, err := Resample(rr, 2, Linear)
	require.NoError(t, err)
	// Beats at 1..4 s sampled every 0.5 s.
	assert.Len(t, grid, 7)
	for _, v := range grid {
		assert.InDelta(t, 1, v, 1e-12)
	}
}
