package physio

import (
	"fmt"
	"math"
)

// Event marks a sample index: a detected beat, an annotation or a stimulus.
type Event struct {
	Index    int     `json:"index"`
	Label    string  `json:"label,omitempty"`
	Duration float64 `json:"duration_s,omitempty"`
}

// Events is an ordered set of events at a given sampling rate. Indices are
// strictly increasing.
type Events struct {
	FS    float64 `json:"fs_hz"`
	Items []Event `json:"events"`
}

// NewEvents validates and copies items.
func NewEvents(fs float64, items []Event) (Events, error) {
	if err := ValidateFS(fs); err != nil {
		return Events{}, err
	}
	for i, ev := range items {
		if ev.Index < 0 {
			return Events{}, fmt.Errorf("%w: event %d has negative index %d", ErrConfiguration, i, ev.Index)
		}
		if i > 0 && ev.Index <= items[i-1].Index {
			return Events{}, fmt.Errorf("%w: event indices must be strictly increasing (%d after %d)",
				ErrConfiguration, ev.Index, items[i-1].Index)
		}
	}
	out := make([]Event, len(items))
	copy(out, items)
	return Events{FS: fs, Items: out}, nil
}

// EventsFromIndices builds unlabelled events from sample indices.
func EventsFromIndices(fs float64, indices []int) (Events, error) {
	items := make([]Event, len(indices))
	for i, idx := range indices {
		items[i] = Event{Index: idx}
	}
	return NewEvents(fs, items)
}

// EventsFromTimes converts event times in seconds to sample indices using
// round(max(t, 0) * fs). Times that round onto the same sample are rejected.
func EventsFromTimes(times []float64, fs float64, label string) (Events, error) {
	if err := ValidateFS(fs); err != nil {
		return Events{}, err
	}
	items := make([]Event, 0, len(times))
	for _, t := range times {
		idx := int(math.Round(math.Max(t, 0) * fs))
		items = append(items, Event{Index: idx, Label: label})
	}
	return NewEvents(fs, items)
}

// Len returns the number of events.
func (e Events) Len() int { return len(e.Items) }

// Validate checks that every index falls inside a series of seriesLen
// samples.
func (e Events) Validate(seriesLen int) error {
	for _, ev := range e.Items {
		if ev.Index >= seriesLen {
			return fmt.Errorf("%w: event index %d outside series of %d samples", ErrConfiguration, ev.Index, seriesLen)
		}
	}
	return nil
}

// Indices returns the event sample indices.
func (e Events) Indices() []int {
	out := make([]int, len(e.Items))
	for i, ev := range e.Items {
		out[i] = ev.Index
	}
	return out
}

// Times returns event onsets in seconds.
func (e Events) Times() []float64 {
	out := make([]float64, len(e.Items))
	for i, ev := range e.Items {
		out[i] = float64(ev.Index) / e.FS
	}
	return out
}

// Shift returns a copy with every index moved by delta, dropping events that
// would become negative.
func (e Events) Shift(delta int) Events {
	out := Events{FS: e.FS, Items: make([]Event, 0, len(e.Items))}
	for _, ev := range e.Items {
		ev.Index += delta
		if ev.Index < 0 {
			continue
		}
		out.Items = append(out.Items, ev)
	}
	return out
}
