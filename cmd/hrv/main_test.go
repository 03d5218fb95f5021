package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/cardio.report/internal/recorder"
	"github.com/banshee-data/cardio.report/internal/runbundle"
	"github.com/banshee-data/cardio.report/internal/testutil"
)

func invoke(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func decode(t *testing.T, out string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &m), out)
	return m
}

func writeLines(t *testing.T, dir, name string, values []float64) string {
	t.Helper()
	var b strings.Builder
	for _, v := range values {
		b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		b.WriteByte('\n')
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func ecgFile(t *testing.T) string {
	return writeLines(t, t.TempDir(), "ecg.txt", testutil.SyntheticECG(90).Data)
}

func beatsFile(t *testing.T) string {
	return writeLines(t, t.TempDir(), "beats.txt", testutil.Beats(t, 250, 300).Times())
}

func TestUsage(t *testing.T) {
	code, _, stderr := invoke(t)
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "Usage: hrv")

	code, stdout, _ := invoke(t, "help")
	assert.Equal(t, exitOK, code)
	for _, c := range commands {
		assert.Contains(t, stdout, c.name)
	}

	code, _, stderr = invoke(t, "bogus")
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "Unknown command: bogus")

	code, _, _ = invoke(t, "detect")
	assert.Equal(t, exitUsage, code, "missing input file")

	code, _, _ = invoke(t, "time", "-kind", "tachogram", beatsFile(t))
	assert.Equal(t, exitUsage, code)
}

func TestVersion(t *testing.T) {
	code, stdout, _ := invoke(t, "version")
	assert.Equal(t, exitOK, code)
	assert.True(t, strings.HasPrefix(stdout, "cardio.report "), stdout)
}

func TestDetect(t *testing.T) {
	code, stdout, stderr := invoke(t, "detect", ecgFile(t))
	require.Equal(t, exitOK, code, stderr)
	out := decode(t, stdout)
	assert.Equal(t, 250.0, out["fs_hz"])
	assert.InDelta(t, 90, out["n_events"], 3)
	assert.InDelta(t, 60, out["mean_hr_bpm"], 3)
	assert.Len(t, out["event_times_s"], int(out["n_events"].(float64)))
}

func TestRR(t *testing.T) {
	t.Run("waveform", func(t *testing.T) {
		code, stdout, stderr := invoke(t, "rr", ecgFile(t))
		require.Equal(t, exitOK, code, stderr)
		out := decode(t, stdout)
		assert.InDelta(t, 1.0, out["avnn_s"], 0.02)
		assert.Len(t, out["artifacts"], int(out["n_intervals"].(float64)))
	})
	t.Run("events", func(t *testing.T) {
		code, stdout, stderr := invoke(t, "rr", "-kind", "events", beatsFile(t))
		require.Equal(t, exitOK, code, stderr)
		out := decode(t, stdout)
		assert.Equal(t, 300.0, out["n_intervals"])
		assert.InDelta(t, 0.8, out["avnn_s"], 0.01)
	})
}

func TestMetricGroups(t *testing.T) {
	beats := beatsFile(t)
	tests := []struct {
		cmd  string
		keys []string
	}{
		{"time", []string{"avnn_s", "sdnn_s", "rmssd_s", "pnn50"}},
		{"psd", []string{"lf_ms2", "hf_ms2", "lf_hf", "psd"}},
		{"nonlinear", []string{"sd1_s", "sd2_s", "dfa_alpha1"}},
		{"pipeline", []string{"avnn_s", "hf_ms2", "sd1_s", "fs_hz", "n_events"}},
	}
	for _, tt := range tests {
		t.Run(tt.cmd, func(t *testing.T) {
			code, stdout, stderr := invoke(t, tt.cmd, "-kind", "events", beats)
			require.Equal(t, exitOK, code, stderr)
			out := decode(t, stdout)
			for _, k := range tt.keys {
				assert.Contains(t, out, k)
			}
		})
	}
}

func TestTimeFromIntervals(t *testing.T) {
	intervals := make([]float64, 200)
	for i := range intervals {
		intervals[i] = 0.8
		if i%2 == 1 {
			intervals[i] = 0.82
		}
	}
	path := writeLines(t, t.TempDir(), "rr.txt", intervals)
	code, stdout, stderr := invoke(t, "time", "-kind", "rr", path)
	require.Equal(t, exitOK, code, stderr)
	out := decode(t, stdout)
	assert.InDelta(t, 0.81, out["avnn_s"], 1e-9)
	assert.InDelta(t, 0.02, out["rmssd_s"], 1e-9)
	assert.Equal(t, 0.0, out["n_artifacts"])
}

func TestStageFailureExitsOne(t *testing.T) {
	dir := t.TempDir()
	code, _, stderr := invoke(t, "time", filepath.Join(dir, "missing.txt"))
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, stderr, "ingest stage failed")

	empty := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	code, _, stderr = invoke(t, "time", "-kind", "rr", empty)
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, stderr, "stage failed")

	code, _, stderr = invoke(t, "detect", "-fs", "-5", ecgFile(t))
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, stderr, "ingest stage failed")
}

func TestSQI(t *testing.T) {
	code, stdout, stderr := invoke(t, "sqi", ecgFile(t))
	require.Equal(t, exitOK, code, stderr)
	out := decode(t, stdout)
	assert.Contains(t, out, "sqi_status")
	assert.Positive(t, out["n_intervals"])
}

func TestRegress(t *testing.T) {
	dir := t.TempDir()
	writeLines(t, dir, "beats.txt", testutil.Beats(t, 250, 300).Times())
	fixtures := filepath.Join(dir, "fixtures.json")
	require.NoError(t, os.WriteFile(fixtures, []byte(`{
  "fixtures": [
    {"name": "beats", "input": "beats.txt", "kind": "events", "fs_hz": 250,
     "expected": {"avnn_s": 1.5}}
  ]
}`), 0o644))

	code, stdout, stderr := invoke(t, "regress", fixtures)
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, stderr, "1 of 1 fixtures failed")
	assert.Equal(t, 1.0, decode(t, stdout)["failed"])

	code, _, stderr = invoke(t, "regress", "-rewrite", fixtures)
	require.Equal(t, exitOK, code, stderr)

	code, stdout, stderr = invoke(t, "regress", fixtures)
	require.Equal(t, exitOK, code, stderr)
	assert.Equal(t, 1.0, decode(t, stdout)["passed"])
}

func TestSimulateAndBundleEvents(t *testing.T) {
	dir := t.TempDir()
	design := filepath.Join(dir, "design.yaml")
	require.NoError(t, os.WriteFile(design, []byte("name: oddball\ntiming:\n  isi_ms: 500\n"), 0o644))
	var trials strings.Builder
	trials.WriteString("trial,condition,duration_ms,resp_key,resp_rt_ms\n")
	for i := 1; i <= 6; i++ {
		fmt.Fprintf(&trials, "%d,go,200,J,300\n", i)
	}
	trialsPath := filepath.Join(dir, "trials.csv")
	require.NoError(t, os.WriteFile(trialsPath, []byte(trials.String()), 0o644))
	out := filepath.Join(dir, "bundle")

	code, _, _ := invoke(t, "simulate-run", "-design", design)
	assert.Equal(t, exitUsage, code)

	code, stdout, stderr := invoke(t, "simulate-run", "-design", design, "-trials", trialsPath, "-out", out, "-sub", "01")
	require.Equal(t, exitOK, code, stderr)
	summary := decode(t, stdout)
	assert.Equal(t, "oddball", summary["design"])
	assert.Equal(t, 6.0, summary["total_trials"])
	assert.FileExists(t, filepath.Join(out, runbundle.ManifestFile))

	code, stdout, stderr = invoke(t, "bundle-events", "-fs", "500", out)
	require.Equal(t, exitOK, code, stderr)
	events := decode(t, stdout)
	assert.Equal(t, 6.0, events["n_events"])
	assert.Equal(t, map[string]any{"stim": 6.0}, events["label_counts"])

	code, stdout, stderr = invoke(t, "bundle-events", "-types", "", filepath.Join(out, runbundle.EventsFile))
	require.Equal(t, exitOK, code, stderr)
	assert.Equal(t, 12.0, decode(t, stdout)["n_events"], "stimulus and response rows")
}

func TestReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session")
	rec, err := recorder.Create(path, 250)
	require.NoError(t, err)
	ecg := testutil.SyntheticECG(60)
	for from := 0; from < ecg.Len(); from += 1000 {
		require.NoError(t, rec.Append(ecg.Slice(from, min(from+1000, ecg.Len()))))
	}
	require.NoError(t, rec.Close())

	code, stdout, stderr := invoke(t, "replay", path)
	require.Equal(t, exitOK, code, stderr)
	out := decode(t, stdout)
	assert.Equal(t, 250.0, out["fs_hz"])
	assert.InDelta(t, 60, out["duration_s"], 1e-9)
	assert.Equal(t, 15.0, out["frames"])
	assert.InDelta(t, 1.0, out["avnn_s"], 0.02)

	code, _, stderr = invoke(t, "replay", filepath.Join(t.TempDir(), "none"))
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, stderr, "recording stage failed")
}
