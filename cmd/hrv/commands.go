package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/banshee-data/cardio.report/internal/config"
	"github.com/banshee-data/cardio.report/internal/physio"
	"github.com/banshee-data/cardio.report/internal/pipeline"
	"github.com/banshee-data/cardio.report/internal/recorder"
	"github.com/banshee-data/cardio.report/internal/regress"
	"github.com/banshee-data/cardio.report/internal/rr"
	"github.com/banshee-data/cardio.report/internal/runbundle"
	"github.com/banshee-data/cardio.report/internal/sqi"
)

// Input kinds.
const (
	inputWaveform = "waveform"
	inputEvents   = "events"
	inputRR       = "rr"
)

func ingestErr(err error) error {
	return &pipeline.StageError{Stage: pipeline.StageIngest, Err: err}
}

func readSeries(path string, column int, fs float64) (physio.TimeSeries, error) {
	values, err := physio.ReadColumnFile(path, column)
	if err != nil {
		return physio.TimeSeries{}, ingestErr(err)
	}
	series, err := physio.NewTimeSeries(fs, values)
	if err != nil {
		return physio.TimeSeries{}, ingestErr(err)
	}
	return series, nil
}

// analyse runs the pipeline over one input file of the given kind. Beat
// times are read in seconds and placed on the configured sampling grid.
func analyse(f analysisFlags, path string, p config.Params) (pipeline.Analysis, error) {
	switch f.kind {
	case inputWaveform, "":
		series, err := readSeries(path, f.column, p.FS)
		if err != nil {
			return pipeline.Analysis{}, err
		}
		return pipeline.Run(&series, nil, p)
	case inputEvents:
		times, err := physio.ReadColumnFile(path, f.column)
		if err != nil {
			return pipeline.Analysis{}, ingestErr(err)
		}
		events, err := physio.EventsFromTimes(times, p.FS, "R")
		if err != nil {
			return pipeline.Analysis{}, ingestErr(err)
		}
		return pipeline.Run(nil, &events, p)
	case inputRR:
		values, err := physio.ReadColumnFile(path, f.column)
		if err != nil {
			return pipeline.Analysis{}, ingestErr(err)
		}
		series, err := physio.NewRRSeries(values)
		if err != nil {
			return pipeline.Analysis{}, ingestErr(err)
		}
		a := pipeline.AnalyzeRR(series, p)
		if fail := a.Failure(pipeline.StageRR); fail != nil {
			return a, fail
		}
		return a, nil
	default:
		return pipeline.Analysis{}, fmt.Errorf("%w: unknown -kind %q", errUsage, f.kind)
	}
}

// groupCommand builds a command that prints one metric group and fails
// when that group's stage failed.
func groupCommand(name string, stage pipeline.Stage, fill func(out map[string]any, a pipeline.Analysis) error) func(*env, []string) error {
	return func(e *env, args []string) error {
		var f analysisFlags
		fs := newFlagSet(name, e)
		f.register(fs, true)
		path, err := parse(fs, args)
		if err != nil {
			return err
		}
		p, err := f.params()
		if err != nil {
			return err
		}
		a, err := analyse(f, path, p)
		if err != nil {
			return err
		}
		if fail := a.Failure(stage); fail != nil {
			return fail
		}
		out := map[string]any{
			"n_intervals": a.RR.Len(),
			"n_artifacts": a.RR.ArtifactCount(),
		}
		if err := fill(out, a); err != nil {
			return err
		}
		return e.emit(out)
	}
}

var (
	runTime = groupCommand("time", pipeline.StageTime, func(out map[string]any, a pipeline.Analysis) error {
		return pipeline.MergeFields(out, "", a.Time)
	})
	runPSD = groupCommand("psd", pipeline.StageFrequency, func(out map[string]any, a pipeline.Analysis) error {
		return pipeline.MergeFields(out, "", a.Frequency)
	})
	runNonlinear = groupCommand("nonlinear", pipeline.StageNonlinear, func(out map[string]any, a pipeline.Analysis) error {
		if err := pipeline.MergeFields(out, "", a.Nonlinear, "failures"); err != nil {
			return err
		}
		if len(a.Nonlinear.Errors) > 0 {
			failures := map[string]string{}
			for name, err := range a.Nonlinear.Errors {
				failures[string(pipeline.StageNonlinear)+"."+name] = err.Error()
			}
			out["failures"] = failures
		}
		return nil
	})
)

func runDetect(e *env, args []string) error {
	var f analysisFlags
	fs := newFlagSet("detect", e)
	f.register(fs, false)
	path, err := parse(fs, args)
	if err != nil {
		return err
	}
	p, err := f.params()
	if err != nil {
		return err
	}
	series, err := readSeries(path, f.column, p.FS)
	if err != nil {
		return err
	}
	events, err := pipeline.Detect(series, p)
	if err != nil {
		return err
	}
	out := map[string]any{
		"fs_hz":         events.FS,
		"duration_s":    series.Duration(),
		"n_events":      events.Len(),
		"event_times_s": events.Times(),
	}
	if events.Len() > 0 {
		out["mean_hr_bpm"] = 60 * float64(events.Len()) / series.Duration()
	}
	return e.emit(out)
}

func runRR(e *env, args []string) error {
	var f analysisFlags
	fs := newFlagSet("rr", e)
	f.register(fs, false)
	fs.StringVar(&f.kind, "kind", inputWaveform, "input kind: waveform or events")
	path, err := parse(fs, args)
	if err != nil {
		return err
	}
	p, err := f.params()
	if err != nil {
		return err
	}

	var events physio.Events
	switch f.kind {
	case inputWaveform:
		series, err := readSeries(path, f.column, p.FS)
		if err != nil {
			return err
		}
		if events, err = pipeline.Detect(series, p); err != nil {
			return err
		}
	case inputEvents:
		times, err := physio.ReadColumnFile(path, f.column)
		if err != nil {
			return ingestErr(err)
		}
		if events, err = physio.EventsFromTimes(times, p.FS, "R"); err != nil {
			return ingestErr(err)
		}
	default:
		return fmt.Errorf("%w: unknown -kind %q", errUsage, f.kind)
	}

	series, err := rr.Build(events, p.RR)
	if err != nil {
		return &pipeline.StageError{Stage: pipeline.StageRR, Err: err}
	}
	flags := make([]string, series.Len())
	for i, a := range series.Flags {
		flags[i] = a.String()
	}
	return e.emit(map[string]any{
		"n_events":    events.Len(),
		"n_intervals": series.Len(),
		"n_artifacts": series.ArtifactCount(),
		"avnn_s":      rr.AverageRR(series),
		"mean_hr_bpm": rr.HeartRate(series),
		"intervals_s": series.Intervals,
		"artifacts":   flags,
	})
}

// runSQI grades a waveform. Detection or RR failures do not fail the
// command; the grade then reflects the missing rhythm.
func runSQI(e *env, args []string) error {
	var f analysisFlags
	fs := newFlagSet("sqi", e)
	f.register(fs, false)
	path, err := parse(fs, args)
	if err != nil {
		return err
	}
	p, err := f.params()
	if err != nil {
		return err
	}
	series, err := readSeries(path, f.column, p.FS)
	if err != nil {
		return err
	}
	var intervals physio.RRSeries
	if events, err := pipeline.Detect(series, p); err == nil {
		if built, err := rr.Build(events, p.RR); err == nil {
			intervals = built
		}
	}
	report := sqi.Evaluate(series, intervals, p.SQI)
	out := map[string]any{"n_intervals": intervals.Len()}
	if err := pipeline.MergeFields(out, "sqi_", report); err != nil {
		return err
	}
	return e.emit(out)
}

func runPipeline(e *env, args []string) error {
	var f analysisFlags
	fs := newFlagSet("pipeline", e)
	f.register(fs, true)
	path, err := parse(fs, args)
	if err != nil {
		return err
	}
	p, err := f.params()
	if err != nil {
		return err
	}
	a, err := analyse(f, path, p)
	if err != nil {
		return err
	}
	out, err := pipeline.Flatten(a)
	if err != nil {
		return err
	}
	out["fs_hz"] = p.FS
	return e.emit(out)
}

func runRegress(e *env, args []string) error {
	var f analysisFlags
	fs := newFlagSet("regress", e)
	f.register(fs, false)
	rewrite := fs.Bool("rewrite", false, "replace expected values with the computed ones and save")
	path, err := parse(fs, args)
	if err != nil {
		return err
	}
	p, err := f.params()
	if err != nil {
		return err
	}
	file, err := regress.Load(path)
	if err != nil {
		return ingestErr(err)
	}
	rep := regress.Run(file, p, regress.Options{Rewrite: *rewrite})
	if *rewrite {
		if err := file.Save(); err != nil {
			return err
		}
	}
	if err := e.emit(rep); err != nil {
		return err
	}
	if !rep.OK() {
		return fmt.Errorf("%d of %d fixtures failed", rep.Failed, rep.Passed+rep.Failed)
	}
	return nil
}

func runBundleEvents(e *env, args []string) error {
	fs := newFlagSet("bundle-events", e)
	rate := fs.Float64("fs", 1000, "sampling rate in Hz for event indices")
	types := fs.String("types", "stim", "comma-separated event types to keep; empty keeps all")
	onset := fs.String("onset-col", "onset", "onset column name")
	typeCol := fs.String("type-col", "event_type", "event type column name")
	path, err := parse(fs, args)
	if err != nil {
		return err
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, runbundle.EventsFile)
	}

	filter := runbundle.DefaultEventFilter()
	filter.OnsetColumn = *onset
	filter.TypeColumn = *typeCol
	filter.AllowedTypes = nil
	for _, t := range strings.Split(*types, ",") {
		if t = strings.TrimSpace(t); t != "" {
			filter.AllowedTypes = append(filter.AllowedTypes, t)
		}
	}
	records, err := runbundle.ReadEventsFile(path, filter)
	if err != nil {
		return ingestErr(err)
	}
	events, err := runbundle.ToEvents(records, *rate)
	if err != nil {
		return ingestErr(err)
	}
	labels := map[string]int{}
	for _, ev := range events.Items {
		labels[ev.Label]++
	}
	return e.emit(map[string]any{
		"fs_hz":         events.FS,
		"n_events":      events.Len(),
		"event_times_s": events.Times(),
		"label_counts":  labels,
	})
}

func runSimulate(e *env, args []string) error {
	fs := newFlagSet("simulate-run", e)
	designPath := fs.String("design", "", "design `file` (.yaml, .yml or .toml)")
	trialsPath := fs.String("trials", "", "trial list `file` (.csv)")
	outDir := fs.String("out", "", "bundle output `directory`")
	var opts runbundle.SimOptions
	fs.StringVar(&opts.Sub, "sub", "", "subject label")
	fs.StringVar(&opts.Ses, "ses", "", "session label")
	fs.StringVar(&opts.Run, "run", "", "run label")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if *designPath == "" || *trialsPath == "" || *outDir == "" {
		return fmt.Errorf("%w: -design, -trials and -out are required", errUsage)
	}

	design, err := runbundle.LoadDesign(*designPath)
	if err != nil {
		return ingestErr(err)
	}
	trials, err := runbundle.ReadTrialsFile(*trialsPath)
	if err != nil {
		return ingestErr(err)
	}
	bundle, err := runbundle.Simulate(design, trials, opts)
	if err != nil {
		return ingestErr(err)
	}
	if err := runbundle.WriteBundle(*outDir, bundle); err != nil {
		return err
	}
	m := bundle.Manifest
	out := map[string]any{
		"bundle_dir":   *outDir,
		"design":       m.Design,
		"total_trials": m.TotalTrials,
		"total_events": m.TotalEvents,
		"isi_ms":       m.ISIMs,
	}
	if m.Seed != nil {
		out["seed"] = *m.Seed
	}
	if m.RandomizationPolicy != nil {
		out["randomization_policy"] = *m.RandomizationPolicy
	}
	return e.emit(out)
}

func runReplay(e *env, args []string) error {
	var f analysisFlags
	fs := newFlagSet("replay", e)
	fs.StringVar(&f.configPath, "config", "", "pipeline configuration `file` (.json)")
	path, err := parse(fs, args)
	if err != nil {
		return err
	}
	p, err := f.params()
	if err != nil {
		return err
	}
	rp, err := recorder.Open(path)
	if err != nil {
		return &pipeline.StageError{Stage: pipeline.StageRecording, Err: err}
	}
	defer rp.Close()
	series, err := rp.ReadAll()
	if err != nil {
		return &pipeline.StageError{Stage: pipeline.StageRecording, Err: err}
	}
	a, err := pipeline.Run(&series, nil, p.WithFS(series.FS))
	if err != nil {
		return err
	}
	out, err := pipeline.Flatten(a)
	if err != nil {
		return err
	}
	out["fs_hz"] = series.FS
	out["duration_s"] = series.Duration()
	out["frames"] = rp.Header().TotalFrames
	return e.emit(out)
}
