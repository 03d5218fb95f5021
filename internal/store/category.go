package store

import "strings"

// Category is a bitmask of snapshot parts that can go stale independently.
type Category uint16

const (
	Waveform Category = 1 << iota
	RR
	Time
	Frequency
	Nonlinear
	SQI
	RRFigure
	PSDFigure
	Histogram
	Status

	// Derived is everything computed from the beat events.
	Derived = RR | Time | Frequency | Nonlinear | SQI | RRFigure | PSDFigure | Histogram
	All     = Waveform | Derived | Status
)

var categoryNames = []struct {
	c    Category
	name string
}{
	{Waveform, "waveform"},
	{RR, "rr"},
	{Time, "time"},
	{Frequency, "frequency"},
	{Nonlinear, "nonlinear"},
	{SQI, "sqi"},
	{RRFigure, "rr_figure"},
	{PSDFigure, "psd_figure"},
	{Histogram, "histogram"},
	{Status, "status"},
}

// Has reports whether every bit of other is set in c.
func (c Category) Has(other Category) bool { return c&other == other }

func (c Category) String() string {
	if c == 0 {
		return "none"
	}
	var parts []string
	for _, n := range categoryNames {
		if c&n.c != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}
