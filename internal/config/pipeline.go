package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/cardio.report/internal/detector"
	"github.com/banshee-data/cardio.report/internal/hrv"
	"github.com/banshee-data/cardio.report/internal/physio"
	"github.com/banshee-data/cardio.report/internal/rr"
	"github.com/banshee-data/cardio.report/internal/sqi"
)

// DefaultConfigPath is the path to the canonical pipeline defaults file.
const DefaultConfigPath = "config/pipeline.defaults.json"

// PipelineConfig is the on-disk configuration record. Every field is
// optional; Resolve fills omitted fields from the stage defaults, so
// partial files are safe.
type PipelineConfig struct {
	FS *float64 `json:"fs,omitempty"`

	// Detector
	LowcutHz           *float64 `json:"lowcut_hz,omitempty"`
	HighcutHz          *float64 `json:"highcut_hz,omitempty"`
	IntegrationWindowS *float64 `json:"integration_window_s,omitempty"`
	MinRRS             *float64 `json:"min_rr_s,omitempty"`
	ThresholdScale     *float64 `json:"threshold_scale,omitempty"`
	SearchBackS        *float64 `json:"search_back_s,omitempty"`
	LearningS          *float64 `json:"learning_s,omitempty"`

	// RR artifact rule
	ArtifactTolerance *float64 `json:"artifact_tolerance,omitempty"`
	ArtifactNeighbors *int     `json:"artifact_neighbors,omitempty"`

	// Frequency domain
	InterpFS              *float64 `json:"interp_fs,omitempty"`
	Interpolation         *string  `json:"interpolation,omitempty"` // "cubic" or "linear"
	WelchSegmentS         *float64 `json:"welch_segment_s,omitempty"`
	MinFrequencyIntervals *int     `json:"min_frequency_intervals,omitempty"`

	// Nonlinear
	SampEnM       *int     `json:"sampen_m,omitempty"`
	SampEnRFactor *float64 `json:"sampen_r_factor,omitempty"`
	DFAMinScale   *int     `json:"dfa_min_scale,omitempty"`
	DFAMaxScale   *int     `json:"dfa_max_scale,omitempty"`

	// SQI grading
	SQIMinDurationS *float64 `json:"sqi_min_duration_s,omitempty"`
	SQIKurtosisMin  *float64 `json:"sqi_kurtosis_min,omitempty"`
	SQISNRGood      *float64 `json:"sqi_snr_good,omitempty"`
	SQISNRBad       *float64 `json:"sqi_snr_bad,omitempty"`
	SQICVUncertain  *float64 `json:"sqi_cv_uncertain,omitempty"`
	SQICVBad        *float64 `json:"sqi_cv_bad,omitempty"`

	// Streaming
	AnalysisWindowS    *float64 `json:"analysis_window_s,omitempty"`
	PupilMinConfidence *float64 `json:"pupil_min_confidence,omitempty"`
}

// Params is the resolved, immutable configuration handed to one pipeline
// invocation, or to a router and store at construction. It is passed by
// value.
type Params struct {
	FS        float64             `json:"fs"`
	Detector  detector.Config     `json:"detector"`
	RR        rr.Config           `json:"rr"`
	Frequency hrv.FrequencyConfig `json:"frequency"`
	Nonlinear hrv.NonlinearConfig `json:"nonlinear"`
	SQI       sqi.Thresholds      `json:"sqi"`
	// AnalysisWindowS bounds the waveform a streaming session retains.
	AnalysisWindowS    float64 `json:"analysis_window_s"`
	PupilMinConfidence float64 `json:"pupil_min_confidence"`
}

// Default sampling rate and streaming limits.
const (
	DefaultFS                 = 250.0
	DefaultAnalysisWindowS    = 300.0
	DefaultPupilMinConfidence = 0.6
)

// DefaultParams returns every stage's documented defaults.
func DefaultParams() Params {
	return Params{
		FS:                 DefaultFS,
		Detector:           detector.DefaultConfig(),
		RR:                 rr.DefaultConfig(),
		Frequency:          hrv.DefaultFrequencyConfig(),
		Nonlinear:          hrv.DefaultNonlinearConfig(),
		SQI:                sqi.DefaultThresholds(),
		AnalysisWindowS:    DefaultAnalysisWindowS,
		PupilMinConfidence: DefaultPupilMinConfidence,
	}
}

// Validate checks every stage configuration against the sampling rate.
func (p Params) Validate() error {
	if err := physio.ValidateFS(p.FS); err != nil {
		return fmt.Errorf("fs: %w", err)
	}
	if err := p.Detector.Validate(p.FS); err != nil {
		return err
	}
	if err := p.RR.Validate(); err != nil {
		return err
	}
	if err := p.Frequency.Validate(); err != nil {
		return err
	}
	if err := p.Nonlinear.Validate(); err != nil {
		return err
	}
	if err := p.SQI.Validate(); err != nil {
		return err
	}
	if p.AnalysisWindowS <= 0 {
		return fmt.Errorf("%w: analysis_window_s must be positive, got %v", physio.ErrConfiguration, p.AnalysisWindowS)
	}
	if p.PupilMinConfidence < 0 || p.PupilMinConfidence > 1 {
		return fmt.Errorf("%w: pupil_min_confidence must be between 0 and 1, got %v",
			physio.ErrConfiguration, p.PupilMinConfidence)
	}
	return nil
}

// WithFS returns a copy of p for a different sampling rate.
func (p Params) WithFS(fs float64) Params {
	p.FS = fs
	return p
}

// LoadPipelineConfig loads a PipelineConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadPipelineConfig(path string) (*PipelineConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("%w: config file must have .json extension, got %q", physio.ErrConfiguration, ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("%w: config file too large: %d bytes (max %d)",
			physio.ErrConfiguration, fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &PipelineConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config JSON: %v", physio.ErrConfiguration, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents. Panics if the file cannot be loaded, intended
// for test setup.
func MustLoadDefaultConfig() *PipelineConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from cmd/hrv/ subpackages
	}
	for _, path := range candidates {
		if cfg, err := LoadPipelineConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate resolves the record and checks the result.
func (c *PipelineConfig) Validate() error {
	_, err := c.Resolve()
	return err
}

// Resolve fills every omitted field from DefaultParams and validates the
// result.
func (c *PipelineConfig) Resolve() (Params, error) {
	p := DefaultParams()
	if c == nil {
		return p, nil
	}
	setFloat(&p.FS, c.FS)

	setFloat(&p.Detector.LowCutHz, c.LowcutHz)
	setFloat(&p.Detector.HighCutHz, c.HighcutHz)
	setFloat(&p.Detector.IntegrationWindowS, c.IntegrationWindowS)
	setFloat(&p.Detector.MinRRS, c.MinRRS)
	setFloat(&p.Detector.ThresholdScale, c.ThresholdScale)
	setFloat(&p.Detector.SearchBackS, c.SearchBackS)
	setFloat(&p.Detector.LearningS, c.LearningS)

	setFloat(&p.RR.Tolerance, c.ArtifactTolerance)
	setInt(&p.RR.Neighbors, c.ArtifactNeighbors)

	setFloat(&p.Frequency.InterpFS, c.InterpFS)
	if c.Interpolation != nil {
		p.Frequency.Interpolation = hrv.Interpolation(*c.Interpolation)
	}
	setFloat(&p.Frequency.SegmentS, c.WelchSegmentS)
	setInt(&p.Frequency.MinIntervals, c.MinFrequencyIntervals)

	setInt(&p.Nonlinear.SampEnM, c.SampEnM)
	setFloat(&p.Nonlinear.SampEnRFactor, c.SampEnRFactor)
	setInt(&p.Nonlinear.DFAMinScale, c.DFAMinScale)
	setInt(&p.Nonlinear.DFAMaxScale, c.DFAMaxScale)

	setFloat(&p.SQI.MinDurationS, c.SQIMinDurationS)
	setFloat(&p.SQI.KurtosisMin, c.SQIKurtosisMin)
	setFloat(&p.SQI.SNRGood, c.SQISNRGood)
	setFloat(&p.SQI.SNRBad, c.SQISNRBad)
	setFloat(&p.SQI.CVUncertain, c.SQICVUncertain)
	setFloat(&p.SQI.CVBad, c.SQICVBad)

	setFloat(&p.AnalysisWindowS, c.AnalysisWindowS)
	setFloat(&p.PupilMinConfidence, c.PupilMinConfidence)

	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}

// FromParams returns a fully populated record for p, stored alongside
// recordings so a session can be replayed with the same settings.
func FromParams(p Params) *PipelineConfig {
	interp := string(p.Frequency.Interpolation)
	return &PipelineConfig{
		FS:                    ptrFloat64(p.FS),
		LowcutHz:              ptrFloat64(p.Detector.LowCutHz),
		HighcutHz:             ptrFloat64(p.Detector.HighCutHz),
		IntegrationWindowS:    ptrFloat64(p.Detector.IntegrationWindowS),
		MinRRS:                ptrFloat64(p.Detector.MinRRS),
		ThresholdScale:        ptrFloat64(p.Detector.ThresholdScale),
		SearchBackS:           ptrFloat64(p.Detector.SearchBackS),
		LearningS:             ptrFloat64(p.Detector.LearningS),
		ArtifactTolerance:     ptrFloat64(p.RR.Tolerance),
		ArtifactNeighbors:     ptrInt(p.RR.Neighbors),
		InterpFS:              ptrFloat64(p.Frequency.InterpFS),
		Interpolation:         &interp,
		WelchSegmentS:         ptrFloat64(p.Frequency.SegmentS),
		MinFrequencyIntervals: ptrInt(p.Frequency.MinIntervals),
		SampEnM:               ptrInt(p.Nonlinear.SampEnM),
		SampEnRFactor:         ptrFloat64(p.Nonlinear.SampEnRFactor),
		DFAMinScale:           ptrInt(p.Nonlinear.DFAMinScale),
		DFAMaxScale:           ptrInt(p.Nonlinear.DFAMaxScale),
		SQIMinDurationS:       ptrFloat64(p.SQI.MinDurationS),
		SQIKurtosisMin:        ptrFloat64(p.SQI.KurtosisMin),
		SQISNRGood:            ptrFloat64(p.SQI.SNRGood),
		SQISNRBad:             ptrFloat64(p.SQI.SNRBad),
		SQICVUncertain:        ptrFloat64(p.SQI.CVUncertain),
		SQICVBad:              ptrFloat64(p.SQI.CVBad),
		AnalysisWindowS:       ptrFloat64(p.AnalysisWindowS),
		PupilMinConfidence:    ptrFloat64(p.PupilMinConfidence),
	}
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrInt(v int) *int             { return &v }

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}
