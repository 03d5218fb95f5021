package runbundle

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/banshee-data/cardio.report/internal/physio"
)

// Randomization policies.
const (
	PolicyPermute      = "permute"
	PolicyBlockShuffle = "block-shuffle"
)

// Default inter-stimulus interval when the design gives none.
const DefaultISIMs = 750.0

// Design is an experiment design file.
type Design struct {
	Name          string         `yaml:"name" toml:"name"`
	Timing        *Timing        `yaml:"timing" toml:"timing"`
	Randomization *Randomization `yaml:"randomization" toml:"randomization"`
}

type Timing struct {
	ISIMs              *float64 `yaml:"isi_ms" toml:"isi_ms"`
	ResponseDeadlineMs *float64 `yaml:"response_deadline_ms" toml:"response_deadline_ms"`
	ISIJitterMs        *float64 `yaml:"isi_jitter_ms" toml:"isi_jitter_ms"`
}

// Randomization selects how trials are reordered. An empty policy permutes
// all trials.
type Randomization struct {
	Policy string  `yaml:"policy" toml:"policy"`
	Seed   *uint64 `yaml:"seed" toml:"seed"`
}

// Validate checks the design.
func (d Design) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: design has no name", physio.ErrConfiguration)
	}
	if t := d.Timing; t != nil {
		if t.ISIMs != nil && *t.ISIMs < 0 {
			return fmt.Errorf("%w: isi_ms must not be negative", physio.ErrConfiguration)
		}
		if t.ISIJitterMs != nil && *t.ISIJitterMs < 0 {
			return fmt.Errorf("%w: isi_jitter_ms must not be negative", physio.ErrConfiguration)
		}
	}
	if r := d.Randomization; r != nil {
		switch r.Policy {
		case "", PolicyPermute, PolicyBlockShuffle:
		default:
			return fmt.Errorf("%w: unknown randomization policy %q", physio.ErrConfiguration, r.Policy)
		}
	}
	return nil
}

// LoadDesign reads a design from a .yaml, .yml or .toml file.
func LoadDesign(path string) (Design, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Design{}, fmt.Errorf("failed to read design: %w", err)
	}
	var d Design
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &d)
	case ".toml":
		err = toml.Unmarshal(data, &d)
	default:
		return Design{}, fmt.Errorf("%w: design must be YAML or TOML, got %q", physio.ErrConfiguration, ext)
	}
	if err != nil {
		return Design{}, fmt.Errorf("%w: failed to parse design %s: %v", physio.ErrConfiguration, path, err)
	}
	if err := d.Validate(); err != nil {
		return Design{}, err
	}
	return d, nil
}

// Trial is one scheduled stimulus.
type Trial struct {
	Trial      int
	Block      int
	StimID     string
	Condition  string
	DurationMs float64
	RespKey    string
	RespRTMs   *float64
	Value      string
}

// hasResponse reports whether the trial produces a response event.
func (t Trial) hasResponse() bool {
	return t.RespKey != "" || t.RespRTMs != nil || t.Value != ""
}

// ReadTrials parses a comma-separated trial list. duration_ms is required;
// trial defaults to the row number, block to 1 and stim_id to
// "trial-<n>". Spaces in stimulus IDs become dashes.
func ReadTrials(r io.Reader) ([]Trial, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read trials header: %w", err)
	}
	cols := map[string]int{}
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := cols["duration_ms"]; !ok {
		return nil, fmt.Errorf("%w: trials file has no duration_ms column", physio.ErrConfiguration)
	}
	get := func(row []string, name string) string {
		i, ok := cols[name]
		if !ok {
			return ""
		}
		return cell(row, i)
	}

	var out []Trial
	for n := 1; ; n++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read trial %d: %w", n, err)
		}
		t := Trial{Trial: n, Block: 1}
		if t.DurationMs, err = strconv.ParseFloat(get(row, "duration_ms"), 64); err != nil || t.DurationMs < 0 {
			return nil, fmt.Errorf("%w: trial %d: invalid duration_ms %q", physio.ErrConfiguration, n, get(row, "duration_ms"))
		}
		if v := get(row, "trial"); v != "" {
			if t.Trial, err = strconv.Atoi(v); err != nil {
				return nil, fmt.Errorf("%w: trial %d: invalid trial %q", physio.ErrConfiguration, n, v)
			}
			if t.Trial == 0 {
				t.Trial = n
			}
		}
		if v := get(row, "block"); v != "" {
			if t.Block, err = strconv.Atoi(v); err != nil {
				return nil, fmt.Errorf("%w: trial %d: invalid block %q", physio.ErrConfiguration, n, v)
			}
		}
		t.StimID = get(row, "stim_id")
		if t.StimID == "" {
			t.StimID = fmt.Sprintf("trial-%d", t.Trial)
		}
		t.StimID = strings.ReplaceAll(t.StimID, " ", "-")
		t.Condition = get(row, "condition")
		t.RespKey = get(row, "resp_key")
		t.Value = get(row, "value")
		if v := get(row, "resp_rt_ms"); v != "" {
			rt, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: trial %d: invalid resp_rt_ms %q", physio.ErrConfiguration, n, v)
			}
			t.RespRTMs = &rt
		}
		out = append(out, t)
	}
}

// ReadTrialsFile opens path and calls ReadTrials.
func ReadTrialsFile(path string) ([]Trial, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trials: %w", err)
	}
	defer f.Close()
	return ReadTrials(f)
}
