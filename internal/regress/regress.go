// Package regress checks pipeline output against named fixtures with
// per-field numeric tolerances, and can rewrite the expected values.
package regress

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/banshee-data/cardio.report/internal/config"
	"github.com/banshee-data/cardio.report/internal/monitoring"
	"github.com/banshee-data/cardio.report/internal/physio"
	"github.com/banshee-data/cardio.report/internal/pipeline"
)

// Kind is the type of a fixture's input file.
type Kind string

const (
	// Waveform inputs hold one sample per line and go through detection.
	Waveform Kind = "waveform"
	// RR inputs hold one interval in seconds per line.
	RR Kind = "rr"
	// Events inputs hold one beat time in seconds per line.
	Events Kind = "events"
)

// DefaultTolerance applies when neither the fixture nor the file sets one.
const DefaultTolerance = 1e-6

// Fixture is one named regression case. Input is resolved relative to the
// fixture file.
type Fixture struct {
	Name      string             `json:"name"`
	Input     string             `json:"input"`
	Kind      Kind               `json:"kind"`
	FS        float64            `json:"fs_hz,omitempty"`
	Column    int                `json:"column,omitempty"`
	Expected  map[string]float64 `json:"expected"`
	Tolerance map[string]float64 `json:"tolerance,omitempty"`
}

// File is a set of fixtures.
type File struct {
	DefaultTolerance float64   `json:"default_tolerance,omitempty"`
	Fixtures         []Fixture `json:"fixtures"`

	path string
}

// Load reads a fixture file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixtures: %w", err)
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: failed to parse fixtures %s: %v", physio.ErrConfiguration, path, err)
	}
	seen := map[string]bool{}
	for i, fx := range f.Fixtures {
		switch {
		case fx.Name == "":
			return nil, fmt.Errorf("%w: fixture %d has no name", physio.ErrConfiguration, i)
		case seen[fx.Name]:
			return nil, fmt.Errorf("%w: duplicate fixture %q", physio.ErrConfiguration, fx.Name)
		}
		seen[fx.Name] = true
		switch fx.Kind {
		case Waveform, RR, Events:
		default:
			return nil, fmt.Errorf("%w: fixture %q has unknown kind %q", physio.ErrConfiguration, fx.Name, fx.Kind)
		}
	}
	f.path = path
	return &f, nil
}

// Save writes the file back to where it was loaded from.
func (f *File) Save() error {
	if f.path == "" {
		return errors.New("fixture file has no path")
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal fixtures: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write fixtures: %w", err)
	}
	return os.Rename(tmp, f.path)
}

// Mismatch is one field outside tolerance. Missing means the pipeline did
// not produce the field at all.
type Mismatch struct {
	Field     string  `json:"field"`
	Expected  float64 `json:"expected"`
	Actual    float64 `json:"actual,omitempty"`
	Tolerance float64 `json:"tolerance"`
	Missing   bool    `json:"missing,omitempty"`
}

// Result is the outcome of one fixture.
type Result struct {
	Name       string     `json:"name"`
	Pass       bool       `json:"pass"`
	Error      string     `json:"error,omitempty"`
	Mismatches []Mismatch `json:"mismatches,omitempty"`
	Rewritten  bool       `json:"rewritten,omitempty"`
}

// Report summarises a run.
type Report struct {
	Passed  int      `json:"passed"`
	Failed  int      `json:"failed"`
	Results []Result `json:"results"`
}

// OK reports whether every fixture passed.
func (r Report) OK() bool { return r.Failed == 0 }

// Options controls Run.
type Options struct {
	// Rewrite replaces each fixture's expected values with the computed
	// ones. The file is only modified in memory; call Save to persist it.
	Rewrite bool
}

var logf = monitoring.Prefixed("regress")

// Run evaluates every fixture with p. A fixture whose input cannot be read
// or whose pipeline aborts fails with Error set.
func Run(f *File, p config.Params, opts Options) Report {
	var rep Report
	for i := range f.Fixtures {
		fx := &f.Fixtures[i]
		res := f.runOne(fx, p, opts)
		if res.Pass {
			rep.Passed++
		} else {
			rep.Failed++
			logf("fixture %q failed", fx.Name)
		}
		rep.Results = append(rep.Results, res)
	}
	return rep
}

func (f *File) runOne(fx *Fixture, p config.Params, opts Options) Result {
	res := Result{Name: fx.Name}
	actual, err := f.compute(*fx, p)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	if opts.Rewrite {
		fx.Expected = rewrite(fx.Expected, actual)
		res.Rewritten = true
	}

	fields := make([]string, 0, len(fx.Expected))
	for k := range fx.Expected {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	for _, k := range fields {
		want := fx.Expected[k]
		tol := f.tolerance(*fx, k)
		got, ok := actual[k]
		switch {
		case !ok:
			res.Mismatches = append(res.Mismatches, Mismatch{Field: k, Expected: want, Tolerance: tol, Missing: true})
		case !(math.Abs(got-want) <= tol):
			res.Mismatches = append(res.Mismatches, Mismatch{Field: k, Expected: want, Actual: got, Tolerance: tol})
		}
	}
	res.Pass = len(res.Mismatches) == 0
	return res
}

func (f *File) tolerance(fx Fixture, field string) float64 {
	if t, ok := fx.Tolerance[field]; ok {
		return t
	}
	if t, ok := fx.Tolerance["*"]; ok {
		return t
	}
	if f.DefaultTolerance > 0 {
		return f.DefaultTolerance
	}
	return DefaultTolerance
}

// rewrite updates the expected fields that were computed; an empty
// expectation adopts every numeric field.
func rewrite(expected, actual map[string]float64) map[string]float64 {
	out := map[string]float64{}
	if len(expected) == 0 {
		for k, v := range actual {
			out[k] = v
		}
		return out
	}
	for k, v := range expected {
		if got, ok := actual[k]; ok {
			v = got
		}
		out[k] = v
	}
	return out
}

// compute runs the pipeline for one fixture and returns the numeric fields
// of its flat output.
func (f *File) compute(fx Fixture, p config.Params) (map[string]float64, error) {
	input := fx.Input
	if !filepath.IsAbs(input) && f.path != "" {
		input = filepath.Join(filepath.Dir(f.path), input)
	}
	values, err := physio.ReadColumnFile(input, fx.Column)
	if err != nil {
		return nil, err
	}

	var a pipeline.Analysis
	switch fx.Kind {
	case Waveform:
		fs := fx.FS
		if fs == 0 {
			fs = p.FS
		}
		series, err := physio.NewTimeSeries(fs, values)
		if err != nil {
			return nil, err
		}
		if a, err = pipeline.Run(&series, nil, p); err != nil {
			return nil, err
		}
	case RR:
		series, err := physio.NewRRSeries(values)
		if err != nil {
			return nil, err
		}
		a = pipeline.AnalyzeRR(series, p)
	case Events:
		fs := fx.FS
		if fs == 0 {
			fs = 1000
		}
		events, err := physio.EventsFromTimes(values, fs, "")
		if err != nil {
			return nil, err
		}
		if a, err = pipeline.Run(nil, &events, p); err != nil {
			return nil, err
		}
	}

	flat, err := pipeline.Flatten(a)
	if err != nil {
		return nil, err
	}
	out := map[string]float64{}
	for k, v := range flat {
		switch n := v.(type) {
		case float64:
			out[k] = n
		case int:
			out[k] = float64(n)
		}
	}
	return out, nil
}
