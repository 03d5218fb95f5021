package units

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestIsValid(t *testing.T) {
	for _, u := range []string{"s", "ms"} {
		if !IsValid(u) {
			t.Errorf("IsValid(%q) = false", u)
		}
	}
	for _, u := range []string{"", "us", "MS"} {
		if IsValid(u) {
			t.Errorf("IsValid(%q) = true", u)
		}
	}
	if got := GetValidUnitsString(); got != "s, ms" {
		t.Errorf("GetValidUnitsString() = %q", got)
	}
}

func TestConvertInterval(t *testing.T) {
	tests := []struct {
		unit string
		want float64
	}{
		{Seconds, 0.031},
		{Milliseconds, 31},
		{"minutes", 0.031},
	}
	for _, tt := range tests {
		if got := ConvertInterval(0.031, tt.unit); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("ConvertInterval(0.031, %q) = %v, want %v", tt.unit, got, tt.want)
		}
	}
}

func TestHeartRate(t *testing.T) {
	if got := IntervalToBPM(0.8); got != 75 {
		t.Errorf("IntervalToBPM(0.8) = %v", got)
	}
	if got := IntervalToBPM(0); got != 0 {
		t.Errorf("IntervalToBPM(0) = %v", got)
	}
	if got := BPMToInterval(75); got != 0.8 {
		t.Errorf("BPMToInterval(75) = %v", got)
	}
	if !math.IsInf(BPMToInterval(0), 1) {
		t.Error("BPMToInterval(0) should be +Inf")
	}
}

func TestConvertFlat(t *testing.T) {
	in := map[string]any{
		"rmssd_s":     0.031,
		"hf_ms2":      1250.0,
		"n_intervals": 200,
		"stream":      "ecg_s",
	}
	want := map[string]any{
		"rmssd_ms":    31.0,
		"hf_ms2":      1250.0,
		"n_intervals": 200,
		"stream":      "ecg_s",
	}
	got := ConvertFlat(in, Milliseconds)
	if diff := cmp.Diff(want, got, cmp.Comparer(func(a, b float64) bool { return math.Abs(a-b) < 1e-9 })); diff != "" {
		t.Errorf("ConvertFlat mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(in, ConvertFlat(in, Seconds)); diff != "" {
		t.Errorf("seconds should be identity:\n%s", diff)
	}
}
