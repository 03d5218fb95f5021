// Command hrv runs the analysis pipeline over files and prints one flat JSON
// object per invocation.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/banshee-data/cardio.report/internal/config"
	"github.com/banshee-data/cardio.report/internal/pipeline"
	"github.com/banshee-data/cardio.report/internal/version"
)

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

var errUsage = errors.New("usage")

type command struct {
	name  string
	usage string
	run   func(env *env, args []string) error
}

var commands = []command{
	{"detect", "detect [flags] ECG_FILE         detect R peaks", runDetect},
	{"rr", "rr [flags] FILE                   build the RR series", runRR},
	{"time", "time [flags] FILE                 time-domain HRV", runTime},
	{"psd", "psd [flags] FILE                  frequency-domain HRV and spectrum", runPSD},
	{"nonlinear", "nonlinear [flags] FILE            Poincare, entropy and DFA", runNonlinear},
	{"sqi", "sqi [flags] ECG_FILE              signal quality", runSQI},
	{"pipeline", "pipeline [flags] FILE             every stage", runPipeline},
	{"regress", "regress [-rewrite] FIXTURES       check fixtures", runRegress},
	{"bundle-events", "bundle-events [flags] BUNDLE      events of a run bundle", runBundleEvents},
	{"simulate-run", "simulate-run [flags] -design D -trials T -out DIR", runSimulate},
	{"replay", "replay [flags] RECORDING          analyse a recording", runReplay},
	{"version", "version                           print the build", runVersion},
}

// env carries the output streams so commands can be tested.
type env struct {
	stdout io.Writer
	stderr io.Writer
}

func (e *env) emit(v any) error {
	enc := json.NewEncoder(e.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	e := &env{stdout: stdout, stderr: stderr}
	if len(args) < 1 {
		printUsage(stderr)
		return exitUsage
	}
	name, rest := args[0], args[1:]
	if name == "help" || name == "-h" || name == "--help" {
		printUsage(stdout)
		return exitOK
	}
	for _, c := range commands {
		if c.name != name {
			continue
		}
		err := c.run(e, rest)
		switch {
		case err == nil:
			return exitOK
		case errors.Is(err, flag.ErrHelp):
			return exitOK
		case errors.Is(err, errUsage):
			fmt.Fprintf(stderr, "hrv %s: %v\n", name, err)
			return exitUsage
		}
		var se *pipeline.StageError
		if errors.As(err, &se) {
			fmt.Fprintf(stderr, "hrv %s: %s stage failed: %v\n", name, se.Stage, se.Err)
		} else {
			fmt.Fprintf(stderr, "hrv %s: %v\n", name, err)
		}
		return exitFailure
	}
	fmt.Fprintf(stderr, "Unknown command: %s\n\n", name)
	printUsage(stderr)
	return exitUsage
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "hrv - heart rate variability analysis")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: hrv <command> [options]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, c := range commands {
		fmt.Fprintf(w, "  %s\n", c.usage)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Analysis commands accept -config FILE.json, -fs HZ, -col N and")
	fmt.Fprintln(w, "-kind waveform|events|rr. Output is a flat JSON object; keys carry")
	fmt.Fprintln(w, "their unit as a suffix. Exit status is 1 when a stage fails.")
}

func runVersion(e *env, args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("%w: version takes no arguments", errUsage)
	}
	_, err := fmt.Fprintln(e.stdout, version.String())
	return err
}

// analysisFlags are shared by the commands that read one input file.
type analysisFlags struct {
	configPath string
	fs         float64
	column     int
	kind       string
}

func (f *analysisFlags) register(fs *flag.FlagSet, kinds bool) {
	fs.StringVar(&f.configPath, "config", "", "pipeline configuration `file` (.json)")
	fs.Float64Var(&f.fs, "fs", 0, "sampling rate in Hz (overrides the configuration)")
	fs.IntVar(&f.column, "col", 0, "zero-based column to read from each line")
	if kinds {
		fs.StringVar(&f.kind, "kind", inputWaveform, "input kind: waveform, events or rr")
	}
}

func (f *analysisFlags) params() (config.Params, error) {
	p := config.DefaultParams()
	if f.configPath != "" {
		cfg, err := config.LoadPipelineConfig(f.configPath)
		if err != nil {
			return config.Params{}, &pipeline.StageError{Stage: pipeline.StageIngest, Err: err}
		}
		if p, err = cfg.Resolve(); err != nil {
			return config.Params{}, &pipeline.StageError{Stage: pipeline.StageIngest, Err: err}
		}
	}
	if f.fs != 0 {
		p = p.WithFS(f.fs)
		if err := p.Validate(); err != nil {
			return config.Params{}, &pipeline.StageError{Stage: pipeline.StageIngest, Err: err}
		}
	}
	return p, nil
}

// parse parses args and returns the single positional argument.
func parse(fs *flag.FlagSet, args []string) (string, error) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() != 1 {
		return "", fmt.Errorf("%w: expected one input file, got %d", errUsage, fs.NArg())
	}
	return fs.Arg(0), nil
}

func newFlagSet(name string, e *env) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	return fs
}
