package runbundle

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/banshee-data/cardio.report/internal/physio"
)

// EventFilter maps the columns of an events file and selects the event
// types to keep. Column names and types are matched case-insensitively.
type EventFilter struct {
	OnsetColumn string
	TypeColumn  string
	// DurationColumn and LabelColumn are optional; empty disables them.
	DurationColumn string
	LabelColumn    string
	// AllowedTypes is the allow-list of event types. Empty keeps every row.
	AllowedTypes []string
}

// DefaultEventFilter keeps stimulus rows of a bundle written by WriteBundle.
func DefaultEventFilter() EventFilter {
	return EventFilter{
		OnsetColumn:    "onset",
		TypeColumn:     "event_type",
		DurationColumn: "duration",
		LabelColumn:    "event_type",
		AllowedTypes:   []string{"stim"},
	}
}

// Allows reports whether eventType passes the allow-list.
func (f EventFilter) Allows(eventType string) bool {
	if len(f.AllowedTypes) == 0 {
		return true
	}
	eventType = strings.TrimSpace(eventType)
	for _, t := range f.AllowedTypes {
		if strings.EqualFold(strings.TrimSpace(t), eventType) {
			return true
		}
	}
	return false
}

// Record is one row kept by ReadEvents. Duration is nil when the column is
// absent or the cell is not a number.
type Record struct {
	Onset     float64  `json:"onset"`
	Duration  *float64 `json:"duration,omitempty"`
	EventType string   `json:"event_type"`
	Label     string   `json:"label,omitempty"`
}

// ReadEvents parses a tab-separated events file with a header row. A
// missing onset column falls back to the first column and a missing type
// column to the one after the onset.
func ReadEvents(r io.Reader, f EventFilter) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: events file has no header", physio.ErrEmptyInput)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read events header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	lookup := func(name string) (int, bool) {
		if name == "" {
			return 0, false
		}
		i, ok := cols[strings.ToLower(name)]
		return i, ok
	}

	onsetIdx, ok := lookup(f.OnsetColumn)
	if !ok {
		onsetIdx = 0
	}
	typeIdx, ok := lookup(f.TypeColumn)
	if !ok {
		typeIdx = onsetIdx + 1
	}
	durIdx, hasDur := lookup(f.DurationColumn)
	labelIdx, hasLabel := lookup(f.LabelColumn)

	var out []Record
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read events line %d: %w", line, err)
		}
		eventType := cell(row, typeIdx)
		if !f.Allows(eventType) {
			continue
		}
		onset, err := strconv.ParseFloat(cell(row, onsetIdx), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: invalid onset %q", physio.ErrConfiguration, line, cell(row, onsetIdx))
		}
		rec := Record{Onset: onset, EventType: eventType}
		if hasDur {
			if d, err := strconv.ParseFloat(cell(row, durIdx), 64); err == nil {
				rec.Duration = &d
			}
		}
		if hasLabel {
			rec.Label = cell(row, labelIdx)
		}
		out = append(out, rec)
	}
	return out, nil
}

// ReadEventsFile opens path and calls ReadEvents.
func ReadEventsFile(path string, f EventFilter) ([]Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open events: %w", err)
	}
	defer file.Close()
	return ReadEvents(file, f)
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// ToEvents converts records to sample-indexed events at fs, sorted by
// onset. Negative onsets clamp to sample 0; two records landing on the same
// sample are an error.
func ToEvents(records []Record, fs float64) (physio.Events, error) {
	if err := physio.ValidateFS(fs); err != nil {
		return physio.Events{}, err
	}
	sorted := make([]Record, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Onset < sorted[j].Onset })

	items := make([]physio.Event, len(sorted))
	for i, r := range sorted {
		items[i] = physio.Event{
			Index: int(math.Round(math.Max(r.Onset, 0) * fs)),
			Label: r.Label,
		}
		if r.Duration != nil {
			items[i].Duration = *r.Duration
		}
	}
	return physio.NewEvents(fs, items)
}
