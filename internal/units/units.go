// Package units provides shared constants and conversions for interval units.
// Analysis works in seconds throughout; conversion happens at the edges.
package units

import (
	"math"
	"strings"
)

// Unit constants
const (
	Seconds      = "s"
	Milliseconds = "ms"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{Seconds, Milliseconds}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return strings.Join(ValidUnits, ", ")
}

// ConvertInterval converts a duration in seconds to the target units.
// Unknown units leave the value in seconds.
func ConvertInterval(seconds float64, targetUnits string) float64 {
	switch targetUnits {
	case Milliseconds:
		return seconds * 1000
	default:
		return seconds
	}
}

// IntervalToBPM converts an RR interval in seconds to beats per minute;
// 0 for non-positive intervals.
func IntervalToBPM(seconds float64) float64 {
	if seconds <= 0 {
		return 0
	}
	return 60 / seconds
}

// BPMToInterval is the inverse of IntervalToBPM.
func BPMToInterval(bpm float64) float64 {
	if bpm <= 0 {
		return math.Inf(1)
	}
	return 60 / bpm
}

// ConvertFlat returns a copy of a flat metrics object with every numeric
// "_s" key converted to targetUnits and renamed with the matching suffix.
func ConvertFlat(flat map[string]any, targetUnits string) map[string]any {
	out := make(map[string]any, len(flat))
	for k, v := range flat {
		f, ok := v.(float64)
		if targetUnits == Seconds || !ok || !strings.HasSuffix(k, "_"+Seconds) {
			out[k] = v
			continue
		}
		out[strings.TrimSuffix(k, Seconds)+targetUnits] = ConvertInterval(f, targetUnits)
	}
	return out
}
