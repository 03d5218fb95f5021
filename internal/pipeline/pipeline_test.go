package pipeline

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/cardio.report/internal/config"
	"github.com/banshee-data/cardio.report/internal/physio"
)

func synthetic(seconds float64) physio.TimeSeries {
	return physio.Synthesize(physio.SynthOptions{
		FS: 250, Seconds: seconds, HeartBPM: 72, ModDepthBPM: 4, ModHz: 0.25, Noise: 0.02, Seed: 7,
	})
}

// eventsFromRR places beats so that the gaps reproduce intervals.
func eventsFromRR(t *testing.T, fs float64, intervals []float64) physio.Events {
	t.Helper()
	times := make([]float64, len(intervals)+1)
	for i, v := range intervals {
		times[i+1] = times[i] + v
	}
	ev, err := physio.EventsFromTimes(times, fs, "R")
	require.NoError(t, err)
	return ev
}

func TestRunWaveform(t *testing.T) {
	series := synthetic(60)
	a, err := Run(&series, nil, config.DefaultParams())
	require.NoError(t, err)

	assert.GreaterOrEqual(t, a.Events.Len(), 65)
	require.NotNil(t, a.Time)
	assert.InDelta(t, 60.0/72, a.Time.AVNN, 0.02)
	require.NotNil(t, a.SQI)
	assert.Len(t, a.Histogram, 12)

	// A minute of beats is too short for the frequency engine.
	require.NotNil(t, a.Failure(StageFrequency))
	assert.ErrorIs(t, a.Failure(StageFrequency), physio.ErrTooFewSamples)
	assert.Nil(t, a.Frequency)
}

func TestRunDeterministic(t *testing.T) {
	series := synthetic(30)
	first, err := Run(&series, nil, config.DefaultParams())
	require.NoError(t, err)
	second, err := Run(&series, nil, config.DefaultParams())
	require.NoError(t, err)

	a, err := Flatten(first)
	require.NoError(t, err)
	b, err := Flatten(second)
	require.NoError(t, err)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("repeated runs differ (-first +second):\n%s", diff)
	}
	assert.Equal(t, first.Events, second.Events)
	assert.Equal(t, first.RR, second.RR)
}

func TestRunFlatLine(t *testing.T) {
	flat := physio.TimeSeries{FS: 250, Data: make([]float64, 2500)}
	a, err := Run(&flat, nil, config.DefaultParams())

	var se *StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StageDetect, se.Stage)
	assert.ErrorIs(t, err, physio.ErrInsufficientSignal)
	assert.Nil(t, a.Time)
	assert.Zero(t, a.RR.Len())
}

func TestRunEventsOnlySkipsDetector(t *testing.T) {
	intervals := make([]float64, 300)
	var at float64
	for i := range intervals {
		intervals[i] = 0.8 + 0.04*math.Sin(2*math.Pi*0.1*at)
		at += intervals[i]
	}
	events := eventsFromRR(t, 1000, intervals)

	// The params sampling rate does not apply to annotations.
	a, err := Run(nil, &events, config.DefaultParams())
	require.NoError(t, err)
	assert.Equal(t, events, a.Events)
	assert.Nil(t, a.SQI)
	require.NotNil(t, a.Frequency)
	assert.Greater(t, a.Frequency.LFNu, 0.8)
	require.NotNil(t, a.Nonlinear)
	assert.InDelta(t, a.RR.Sum(), events.Times()[events.Len()-1]-events.Times()[0], 1e-9)
}

func TestRunIngestErrors(t *testing.T) {
	_, err := Run(nil, nil, config.DefaultParams())
	assert.ErrorIs(t, err, physio.ErrEmptyInput)

	single := eventsFromRR(t, 250, nil)
	_, err = Run(nil, &single, config.DefaultParams())
	var se *StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StageRR, se.Stage)
	assert.ErrorIs(t, err, physio.ErrEmptyInput)

	series := synthetic(10)
	outside := physio.Events{FS: 250, Items: []physio.Event{{Index: 10}, {Index: 5000}}}
	_, err = Run(&series, &outside, config.DefaultParams())
	assert.ErrorIs(t, err, physio.ErrConfiguration)

	p := config.DefaultParams()
	p.FS = 0
	_, err = Run(&series, nil, p)
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StageIngest, se.Stage)
}

func TestRunAdoptsWaveformRate(t *testing.T) {
	series := physio.Synthesize(physio.SynthOptions{FS: 500, Seconds: 20, HeartBPM: 60, Seed: 3})
	a, err := Run(&series, nil, config.DefaultParams())
	require.NoError(t, err)
	assert.Equal(t, 500.0, a.Events.FS)
	require.NotNil(t, a.Time)
	assert.InDelta(t, 1.0, a.Time.AVNN, 0.01)
}

func TestFlatten(t *testing.T) {
	intervals := make([]float64, 200)
	var at float64
	for i := range intervals {
		intervals[i] = 0.8 + 0.03*math.Sin(2*math.Pi*0.25*at)
		at += intervals[i]
	}
	events := eventsFromRR(t, 250, intervals)
	series := synthetic(10)
	a := Analyze(&series, events, config.DefaultParams())

	flat, err := Flatten(a)
	require.NoError(t, err)

	for _, key := range []string{
		"n_events", "n_intervals", "n_artifacts",
		"avnn_s", "sdnn_s", "rmssd_s", "pnn50", "mean_hr_bpm",
		"vlf_ms2", "lf_ms2", "hf_ms2", "lf_hf", "lf_nu", "interp_fs_hz",
		"sd1_s", "sd2_s", "sample_entropy", "dfa_alpha1",
		"sqi_status", "sqi_kurtosis", "sqi_snr_db", "sqi_rr_cv",
	} {
		assert.Contains(t, flat, key)
	}
	assert.NotContains(t, flat, "psd")
	assert.Equal(t, 4.0, flat["interp_fs_hz"])
	assert.Equal(t, 201, flat["n_events"])
}

func TestFlattenFailures(t *testing.T) {
	events := eventsFromRR(t, 1000, []float64{0.8, 0.82, 0.78, 0.81})
	a := Analyze(nil, events, config.DefaultParams())

	flat, err := Flatten(a)
	require.NoError(t, err)
	assert.InDelta(t, 0.8025, flat["avnn_s"], 1e-9)
	assert.NotContains(t, flat, "lf_ms2")

	failures, ok := flat["failures"].(map[string]string)
	require.True(t, ok)
	assert.Contains(t, failures, "frequency")
	assert.Contains(t, failures, "nonlinear.dfa_alpha1")
}

func TestAnalyzeRR(t *testing.T) {
	intervals := []float64{0.8, 0.82, 0.78, 0.81, 0.8, 1.6, 0.79, 0.8}
	series, err := physio.NewRRSeries(intervals)
	require.NoError(t, err)

	a := AnalyzeRR(series, config.DefaultParams())
	require.NotNil(t, a.Time)
	assert.Equal(t, 8, a.RR.Len())
	assert.Equal(t, physio.Missed, a.RR.Flags[5])
	assert.Equal(t, physio.Normal, series.Flags[5], "input flags are untouched")
	assert.NotNil(t, a.Failure(StageFrequency))
	assert.Nil(t, a.SQI)

	empty := AnalyzeRR(physio.RRSeries{}, config.DefaultParams())
	require.NotNil(t, empty.Failure(StageRR))
	assert.ErrorIs(t, empty.Failure(StageRR), physio.ErrEmptyInput)
}
