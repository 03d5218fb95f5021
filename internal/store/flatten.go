package store

import (
	"github.com/banshee-data/cardio.report/internal/pipeline"
)

// Flatten renders the snapshot's metrics as one flat object, using the same
// keys as pipeline.Flatten plus stream identity. Traces and figures are
// left out.
func (s *Snapshot) Flatten() (map[string]any, error) {
	out := map[string]any{
		"stream":      s.Stream,
		"modality":    string(s.Modality),
		"version":     s.Version,
		"fs_hz":       s.FS,
		"n_events":    s.Events.Len(),
		"n_intervals": s.RR.Len(),
		"n_artifacts": s.RR.ArtifactCount(),
	}
	groups := []struct {
		prefix string
		v      any
		ok     bool
		skip   []string
	}{
		{"", s.Time, s.Time != nil, nil},
		{"", s.Frequency, s.Frequency != nil, []string{"psd"}},
		{"", s.Nonlinear, s.Nonlinear != nil, []string{"failures"}},
		{"sqi_", s.SQI, s.SQI != nil, nil},
		{"eeg_", s.EEG, s.EEG != nil, nil},
		{"pupil_", s.Pupil, s.Pupil != nil, nil},
	}
	for _, g := range groups {
		if !g.ok {
			continue
		}
		if err := pipeline.MergeFields(out, g.prefix, g.v, g.skip...); err != nil {
			return nil, err
		}
	}
	if s.LastFailure != "" {
		out["last_failure"] = s.LastFailure
	}
	if len(s.Failures) > 0 {
		failures := make(map[string]string, len(s.Failures))
		for k, v := range s.Failures {
			failures[k] = v
		}
		out["failures"] = failures
	}
	return out, nil
}
