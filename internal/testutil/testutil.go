// Package testutil provides shared test helpers and signal fixtures.
package testutil

import (
	"encoding/json"
	"math"
	"net/http/httptest"
	"testing"

	"github.com/banshee-data/cardio.report/internal/physio"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// DecodeBody decodes a recorded JSON response into a value of type T.
func DecodeBody[T any](t testing.TB, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

// SyntheticECG returns a clean, deterministic ECG of the given length at
// 250 Hz and 60 bpm.
func SyntheticECG(seconds float64) physio.TimeSeries {
	return physio.Synthesize(physio.SynthOptions{FS: 250, Seconds: seconds, HeartBPM: 60, Seed: 1})
}

// Beats returns n+1 beat events at fs whose intervals are modulated around
// 0.8 s at a respiratory 0.25 Hz, starting at 1 s.
func Beats(t testing.TB, fs float64, n int) physio.Events {
	t.Helper()
	times := make([]float64, n+1)
	at := 1.0
	for i := range times {
		times[i] = at
		at += 0.8 + 0.04*math.Sin(2*math.Pi*0.25*at)
	}
	ev, err := physio.EventsFromTimes(times, fs, "R")
	if err != nil {
		t.Fatalf("EventsFromTimes: %v", err)
	}
	return ev
}
