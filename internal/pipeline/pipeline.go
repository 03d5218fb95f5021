// Package pipeline chains detection, RR construction, the HRV engines and
// SQI. The batch commands and the streaming router both call Analyze with
// the same Params, which is what keeps their outputs identical.
package pipeline

import (
	"fmt"

	"github.com/banshee-data/cardio.report/internal/config"
	"github.com/banshee-data/cardio.report/internal/detector"
	"github.com/banshee-data/cardio.report/internal/hrv"
	"github.com/banshee-data/cardio.report/internal/physio"
	"github.com/banshee-data/cardio.report/internal/rr"
	"github.com/banshee-data/cardio.report/internal/sqi"
)

// Analysis is the outcome of one pipeline invocation. A metric group is nil
// when its stage did not run or failed; failures are listed in Failures in
// stage order.
type Analysis struct {
	Events    physio.Events
	RR        physio.RRSeries
	Histogram []rr.Bin
	Time      *hrv.TimeMetrics
	Frequency *hrv.FrequencyMetrics
	Nonlinear *hrv.NonlinearMetrics
	SQI       *sqi.Report
	Failures  []*StageError
}

// Failure returns the error recorded for stage, or nil.
func (a Analysis) Failure(stage Stage) *StageError {
	for _, f := range a.Failures {
		if f.Stage == stage {
			return f
		}
	}
	return nil
}

// Detect runs the QRS detector over series.
func Detect(series physio.TimeSeries, p config.Params) (physio.Events, error) {
	events, err := detector.Detect(series, p.Detector)
	if err != nil {
		return physio.Events{}, stageErr(StageDetect, err)
	}
	return events, nil
}

// Analyze derives RR, HRV and SQI from events. series may be nil when only
// annotations are available, in which case SQI is skipped. When the RR
// series cannot be built the HRV engines are not run.
func Analyze(series *physio.TimeSeries, events physio.Events, p config.Params) Analysis {
	a := Analysis{Events: events}
	intervals, err := rr.Build(events, p.RR)
	if err != nil {
		a.Failures = append(a.Failures, stageErr(StageRR, err))
	} else {
		a.computeHRV(intervals, p)
	}

	if series != nil {
		report := sqi.Evaluate(*series, a.RR, p.SQI)
		a.SQI = &report
	}
	return a
}

// AnalyzeRR runs the HRV engines over an RR series supplied directly, such
// as an exported tachogram. Artifact flags are recomputed with p.RR.
func AnalyzeRR(series physio.RRSeries, p config.Params) Analysis {
	var a Analysis
	if series.Len() == 0 {
		a.Failures = append(a.Failures, stageErr(StageRR, physio.ErrEmptyInput))
		return a
	}
	if err := p.RR.Validate(); err != nil {
		a.Failures = append(a.Failures, stageErr(StageRR, err))
		return a
	}
	intervals := physio.RRSeries{
		Intervals: append([]float64(nil), series.Intervals...),
		Flags:     make([]physio.Artifact, series.Len()),
	}
	rr.Classify(intervals.Intervals, intervals.Flags, p.RR)
	a.computeHRV(intervals, p)
	return a
}

// computeHRV fills the RR-derived groups. Partial nonlinear results are
// kept; their failures travel in the metrics themselves.
func (a *Analysis) computeHRV(intervals physio.RRSeries, p config.Params) {
	a.RR = intervals
	a.Histogram = rr.Histogram(intervals, rr.HistogramBins)

	if m, err := hrv.ComputeTime(intervals); err != nil {
		a.Failures = append(a.Failures, stageErr(StageTime, err))
	} else {
		a.Time = &m
	}
	if m, err := hrv.ComputeFrequency(intervals, p.Frequency); err != nil {
		a.Failures = append(a.Failures, stageErr(StageFrequency, err))
	} else {
		a.Frequency = &m
	}
	if m, err := hrv.ComputeNonlinear(intervals, p.Nonlinear); err != nil {
		a.Failures = append(a.Failures, stageErr(StageNonlinear, err))
	} else {
		a.Nonlinear = &m
	}
}

// Run is the batch entry point. When events is nil the detector is run over
// series; otherwise the supplied annotations are used and the detector is
// skipped. Detector and RR failures abort the run and are returned as a
// *StageError; later stage failures are reported in Analysis.Failures.
func Run(series *physio.TimeSeries, events *physio.Events, p config.Params) (Analysis, error) {
	if err := p.Validate(); err != nil {
		return Analysis{}, stageErr(StageIngest, err)
	}
	var ev physio.Events
	switch {
	case events != nil:
		ev = *events
		if series != nil {
			if ev.FS != series.FS {
				return Analysis{}, stageErr(StageIngest, fmt.Errorf("%w: events at %v Hz do not match waveform at %v Hz",
					physio.ErrConfiguration, ev.FS, series.FS))
			}
			if err := ev.Validate(series.Len()); err != nil {
				return Analysis{}, stageErr(StageIngest, err)
			}
		}
	case series != nil:
		if series.FS != p.FS {
			p = p.WithFS(series.FS)
			if err := p.Validate(); err != nil {
				return Analysis{}, stageErr(StageIngest, err)
			}
		}
		detected, err := Detect(*series, p)
		if err != nil {
			return Analysis{}, err
		}
		ev = detected
	default:
		return Analysis{}, stageErr(StageIngest, physio.ErrEmptyInput)
	}

	a := Analyze(series, ev, p)
	if f := a.Failure(StageRR); f != nil {
		return a, f
	}
	return a, nil
}
