// Package runbundle reads and writes experiment run bundles: a JSON manifest
// describing how a run was scheduled and a tab-separated events file with
// one row per stimulus or response.
package runbundle

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/banshee-data/cardio.report/internal/physio"
)

// Bundle file names.
const (
	ManifestFile   = "manifest.json"
	EventsFile     = "events.tsv"
	EventsMetaFile = "events.json"
)

// Manifest describes one run.
type Manifest struct {
	Sub                 string   `json:"sub,omitempty"`
	Ses                 string   `json:"ses,omitempty"`
	Run                 string   `json:"run,omitempty"`
	Task                string   `json:"task"`
	Design              string   `json:"design"`
	TotalTrials         int      `json:"total_trials"`
	TotalEvents         int      `json:"total_events"`
	Seed                *uint64  `json:"seed"`
	RandomizationPolicy *string  `json:"randomization_policy"`
	ISIMs               float64  `json:"isi_ms"`
	ISIJitterMs         *float64 `json:"isi_jitter_ms"`
	StartTimeUnix       float64  `json:"start_time_unix"`
	// Generator records the build that produced the bundle.
	Generator string `json:"generator,omitempty"`
}

// ReadManifest loads a manifest from path.
func ReadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("%w: failed to parse manifest %s: %v", physio.ErrConfiguration, path, err)
	}
	return m, nil
}

// WriteManifest writes m to path as indented JSON.
func WriteManifest(path string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}
