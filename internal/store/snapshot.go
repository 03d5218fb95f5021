package store

import (
	"github.com/banshee-data/cardio.report/internal/hrv"
	"github.com/banshee-data/cardio.report/internal/physio"
	"github.com/banshee-data/cardio.report/internal/rr"
	"github.com/banshee-data/cardio.report/internal/sqi"
)

// Modality is the kind of signal a stream carries.
type Modality string

const (
	ECG Modality = "ecg"
	EEG Modality = "eeg"
	Eye Modality = "eye"
)

// RRPoint is one tachogram point: the interval ending at TimeS.
type RRPoint struct {
	TimeS     float64         `json:"t_s"`
	IntervalS float64         `json:"rr_s"`
	Flag      physio.Artifact `json:"flag"`
}

// EEGBands holds absolute band powers (signal units squared) and the alpha
// fraction of their sum.
type EEGBands struct {
	Delta       float64 `json:"delta"`
	Theta       float64 `json:"theta"`
	Alpha       float64 `json:"alpha"`
	Beta        float64 `json:"beta"`
	AlphaRel    float64 `json:"alpha_rel"`
	AlphaPeakHz float64 `json:"alpha_peak_hz"`
}

// PupilSummary describes the retained pupil samples that passed the
// confidence threshold.
type PupilSummary struct {
	Samples        int     `json:"n_samples"`
	Valid          int     `json:"n_valid"`
	ValidFraction  float64 `json:"valid_fraction"`
	MeanDiameterMM float64 `json:"mean_diameter_mm"`
	SDDiameterMM   float64 `json:"sd_diameter_mm"`
}

// Snapshot is an immutable view of one stream, produced by Prepare. Nothing
// reachable from a Snapshot is modified after it is returned, so it may be
// handed to other goroutines. Groups that could not be computed are nil and
// explained in Failures, keyed by category name.
type Snapshot struct {
	Stream   string   `json:"stream"`
	Modality Modality `json:"modality"`
	Version  uint64   `json:"version"`
	FS       float64  `json:"fs_hz"`

	// Trace is the most recent part of the retained waveform; TraceStart is
	// the absolute index of its first sample.
	Trace      physio.TimeSeries `json:"trace"`
	TraceStart int               `json:"trace_start"`

	Events    physio.Events         `json:"events"`
	RR        physio.RRSeries       `json:"rr"`
	Time      *hrv.TimeMetrics      `json:"time,omitempty"`
	Frequency *hrv.FrequencyMetrics `json:"frequency,omitempty"`
	Nonlinear *hrv.NonlinearMetrics `json:"nonlinear,omitempty"`
	SQI       *sqi.Report           `json:"sqi,omitempty"`

	RRFigure  []RRPoint      `json:"rr_figure,omitempty"`
	PSDFigure []hrv.PSDPoint `json:"psd_figure,omitempty"`
	Histogram []rr.Bin       `json:"histogram,omitempty"`

	EEG   *EEGBands     `json:"eeg,omitempty"`
	Pupil *PupilSummary `json:"pupil,omitempty"`

	LastFailure string            `json:"last_failure,omitempty"`
	Failures    map[string]string `json:"failures,omitempty"`
}
