package pipeline

import (
	"encoding/json"
	"fmt"
)

// Flatten renders an analysis as one flat JSON object. Keys carry their unit
// as a suffix (_s, _hz, _ms2, _bpm); unsuffixed keys are dimensionless. The
// PSD trace is left out; stage failures are listed under "failures" keyed by
// stage name.
func Flatten(a Analysis) (map[string]any, error) {
	out := map[string]any{
		"n_events":    a.Events.Len(),
		"n_intervals": a.RR.Len(),
		"n_artifacts": a.RR.ArtifactCount(),
	}
	if a.Time != nil {
		if err := MergeFields(out, "", a.Time); err != nil {
			return nil, err
		}
	}
	if a.Frequency != nil {
		if err := MergeFields(out, "", a.Frequency, "psd"); err != nil {
			return nil, err
		}
	}
	if a.Nonlinear != nil {
		if err := MergeFields(out, "", a.Nonlinear, "failures"); err != nil {
			return nil, err
		}
	}
	if a.SQI != nil {
		if err := MergeFields(out, "sqi_", a.SQI); err != nil {
			return nil, err
		}
	}

	failures := map[string]string{}
	for _, f := range a.Failures {
		failures[string(f.Stage)] = f.Err.Error()
	}
	if a.Nonlinear != nil {
		for name, err := range a.Nonlinear.Errors {
			failures[string(StageNonlinear)+"."+name] = err.Error()
		}
	}
	if len(failures) > 0 {
		out["failures"] = failures
	}
	return out, nil
}

// MergeFields copies the JSON fields of v into dst under prefix, skipping the
// listed keys.
func MergeFields(dst map[string]any, prefix string, v any, skip ...string) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %T: %w", v, err)
	}
	var fields map[string]any
	if err := json.Unmarshal(b, &fields); err != nil {
		return fmt.Errorf("failed to decode %T: %w", v, err)
	}
	for _, k := range skip {
		delete(fields, k)
	}
	for k, val := range fields {
		dst[prefix+k] = val
	}
	return nil
}
