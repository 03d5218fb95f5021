package runbundle

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/banshee-data/cardio.report/internal/version"
)

// Row is one line of a bundle's events file. Times are seconds.
type Row struct {
	Onset     float64
	Duration  float64
	Trial     int
	Block     int
	EventType string
	StimID    string
	Condition string
	RespKey   string
	RespRT    *float64
	Value     string
}

// Bundle is a simulated run.
type Bundle struct {
	Manifest Manifest
	Rows     []Row
}

// SimOptions carries the run identity. Now defaults to time.Now.
type SimOptions struct {
	Sub, Ses, Run string
	Now           func() time.Time
}

// Simulate schedules trials according to design. Trials are reordered when
// the design has a randomization section, using its seed (0 when absent),
// so a run is reproducible. Each trial yields a stim event, plus a response
// event at stimulus offset when the trial carries response data. The next
// onset follows the stimulus duration plus the ISI, jittered uniformly
// within ±isi_jitter_ms and clamped at zero.
func Simulate(design Design, trials []Trial, opts SimOptions) (Bundle, error) {
	if err := design.Validate(); err != nil {
		return Bundle{}, err
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	var seed uint64
	if r := design.Randomization; r != nil && r.Seed != nil {
		seed = *r.Seed
	}
	rng := rand.New(rand.NewSource(int64(seed)))

	order := make([]Trial, len(trials))
	copy(order, trials)
	if r := design.Randomization; r != nil {
		if r.Policy == PolicyBlockShuffle {
			shuffleByBlock(order, rng)
		} else {
			rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		}
	}

	isiMs, jitterMs := DefaultISIMs, 0.0
	if t := design.Timing; t != nil {
		if t.ISIMs != nil {
			isiMs = *t.ISIMs
		}
		if t.ISIJitterMs != nil {
			jitterMs = *t.ISIJitterMs
		}
	}
	isi, jitter := isiMs/1000, jitterMs/1000

	var rows []Row
	var onset float64
	for _, t := range order {
		dur := t.DurationMs / 1000
		var rt *float64
		if t.RespRTMs != nil {
			v := *t.RespRTMs / 1000
			rt = &v
		}
		stim := Row{
			Onset: onset, Duration: dur, Trial: t.Trial, Block: t.Block,
			EventType: "stim", StimID: t.StimID, Condition: t.Condition,
			RespKey: t.RespKey, RespRT: rt, Value: t.Value,
		}
		rows = append(rows, stim)
		if t.hasResponse() {
			resp := stim
			resp.Onset, resp.Duration, resp.EventType = onset+dur, 0, "response"
			rows = append(rows, resp)
		}
		offset := 0.0
		if jitter > 0 {
			offset = -jitter + 2*jitter*rng.Float64()
		}
		onset += dur + math.Max(isi+offset, 0)
	}

	m := Manifest{
		Sub: opts.Sub, Ses: opts.Ses, Run: opts.Run,
		Task:          design.Name,
		Design:        design.Name,
		TotalTrials:   len(order),
		TotalEvents:   len(rows),
		ISIMs:         isiMs,
		StartTimeUnix: float64(opts.Now().UnixNano()) / 1e9,
		Generator:     version.String(),
	}
	if r := design.Randomization; r != nil {
		m.Seed = r.Seed
		policy := r.Policy
		if policy == "" {
			policy = PolicyPermute
		}
		m.RandomizationPolicy = &policy
	}
	if jitterMs > 0 {
		m.ISIJitterMs = &jitterMs
	}
	return Bundle{Manifest: m, Rows: rows}, nil
}

// shuffleByBlock permutes trials within each run of equal block numbers,
// leaving the block order intact.
func shuffleByBlock(trials []Trial, rng *rand.Rand) {
	for start := 0; start < len(trials); {
		end := start + 1
		for end < len(trials) && trials[end].Block == trials[start].Block {
			end++
		}
		seg := trials[start:end]
		rng.Shuffle(len(seg), func(i, j int) { seg[i], seg[j] = seg[j], seg[i] })
		start = end
	}
}

var eventColumns = []string{
	"onset", "duration", "trial", "block", "event_type",
	"stim_id", "condition", "resp_key", "resp_rt", "value",
}

// WriteBundle writes the manifest, the events file and its column sidecar
// into dir, creating it if needed.
func WriteBundle(dir string, b Bundle) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create bundle directory: %w", err)
	}
	if err := WriteManifest(filepath.Join(dir, ManifestFile), b.Manifest); err != nil {
		return err
	}
	if err := writeRows(filepath.Join(dir, EventsFile), b.Rows); err != nil {
		return err
	}
	meta := map[string]any{"columns": map[string]any{}}
	cols := meta["columns"].(map[string]any)
	for _, c := range eventColumns {
		switch c {
		case "onset", "duration", "resp_rt":
			cols[c] = map[string]string{"units": "seconds"}
		default:
			cols[c] = map[string]string{}
		}
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal events metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, EventsMetaFile), data, 0o644); err != nil {
		return fmt.Errorf("failed to write events metadata: %w", err)
	}
	return nil
}

func writeRows(path string, rows []Row) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create events file: %w", err)
	}
	w := csv.NewWriter(f)
	w.Comma = '\t'
	ff := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	if err := w.Write(eventColumns); err != nil {
		f.Close()
		return fmt.Errorf("failed to write events header: %w", err)
	}
	for _, r := range rows {
		rt := ""
		if r.RespRT != nil {
			rt = ff(*r.RespRT)
		}
		rec := []string{
			ff(r.Onset), ff(r.Duration), strconv.Itoa(r.Trial), strconv.Itoa(r.Block), r.EventType,
			r.StimID, r.Condition, r.RespKey, rt, r.Value,
		}
		if err := w.Write(rec); err != nil {
			f.Close()
			return fmt.Errorf("failed to write events row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("failed to flush events file: %w", err)
	}
	return f.Close()
}
