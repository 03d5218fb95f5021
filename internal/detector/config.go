package detector

import (
	"fmt"

	"github.com/banshee-data/cardio.report/internal/physio"
)

// Config holds the QRS detector parameters. All durations are seconds.
type Config struct {
	LowCutHz           float64 `json:"lowcut_hz"`
	HighCutHz          float64 `json:"highcut_hz"`
	IntegrationWindowS float64 `json:"integration_window_s"`
	// MinRRS is the refractory period. It must exceed the integration window
	// so refined R-peak positions stay strictly increasing.
	MinRRS float64 `json:"min_rr_s"`
	// ThresholdScale triggers search-back when no beat has been accepted for
	// ThresholdScale times the recent mean RR.
	ThresholdScale float64 `json:"threshold_scale"`
	// SearchBackS bounds how far back search-back may look.
	SearchBackS float64 `json:"search_back_s"`
	// LearningS is the initial span used to seed the signal and noise levels.
	LearningS float64 `json:"learning_s"`
}

// DefaultConfig returns the classical Pan-Tompkins settings.
func DefaultConfig() Config {
	return Config{
		LowCutHz:           5,
		HighCutHz:          15,
		IntegrationWindowS: 0.150,
		MinRRS:             0.25,
		ThresholdScale:     1.66,
		SearchBackS:        2.0,
		LearningS:          2.0,
	}
}

// Validate checks the configuration against a sampling rate.
func (c Config) Validate(fs float64) error {
	if err := physio.ValidateFS(fs); err != nil {
		return err
	}
	switch {
	case c.LowCutHz <= 0:
		return fmt.Errorf("%w: lowcut_hz must be positive, got %v", physio.ErrConfiguration, c.LowCutHz)
	case c.HighCutHz <= c.LowCutHz:
		return fmt.Errorf("%w: highcut_hz (%v) must exceed lowcut_hz (%v)", physio.ErrConfiguration, c.HighCutHz, c.LowCutHz)
	case c.HighCutHz >= fs/2:
		return fmt.Errorf("%w: highcut_hz (%v) must be below Nyquist (%v)", physio.ErrConfiguration, c.HighCutHz, fs/2)
	case c.IntegrationWindowS*fs < 1:
		return fmt.Errorf("%w: integration_window_s (%v) shorter than one sample", physio.ErrConfiguration, c.IntegrationWindowS)
	case c.MinRRS <= c.IntegrationWindowS:
		return fmt.Errorf("%w: min_rr_s (%v) must exceed integration_window_s (%v)", physio.ErrConfiguration, c.MinRRS, c.IntegrationWindowS)
	case c.ThresholdScale <= 1:
		return fmt.Errorf("%w: threshold_scale must be greater than 1, got %v", physio.ErrConfiguration, c.ThresholdScale)
	case c.SearchBackS <= 0:
		return fmt.Errorf("%w: search_back_s must be positive, got %v", physio.ErrConfiguration, c.SearchBackS)
	case c.LearningS < 0:
		return fmt.Errorf("%w: learning_s must not be negative, got %v", physio.ErrConfiguration, c.LearningS)
	}
	return nil
}
