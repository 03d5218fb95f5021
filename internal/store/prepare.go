package store

import (
	"fmt"
	"math"

	"github.com/banshee-data/cardio.report/internal/dsp"
	"github.com/banshee-data/cardio.report/internal/hrv"
	"github.com/banshee-data/cardio.report/internal/physio"
	"github.com/banshee-data/cardio.report/internal/rr"
	"github.com/banshee-data/cardio.report/internal/sqi"
)

// Prepare recomputes the dirty categories of one stream and returns its
// snapshot. The version is bumped only when something was dirty; otherwise
// the previous snapshot is returned unchanged. Other streams are untouched.
func (s *Store) Prepare(id string) (*Snapshot, error) {
	e := s.entries[id]
	if e == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStream, id)
	}
	if e.dirty == 0 && e.snap != nil {
		s.observe(false)
		return e.snap, nil
	}

	switch e.modality {
	case ECG:
		s.recomputeECG(e)
	case EEG:
		s.recomputeEEG(e)
	case Eye:
		s.recomputeEye(e)
	}
	e.dirty = 0

	e.version++
	e.snap = e.snapshot()
	s.observe(true)
	return e.snap, nil
}

func (s *Store) observe(recomputed bool) {
	if s.observer != nil {
		s.observer.Prepared(recomputed)
	}
}

func (e *entry) setFailure(c Category, err error) {
	if err == nil {
		delete(e.failures, c)
		return
	}
	if e.failures == nil {
		e.failures = map[Category]error{}
	}
	e.failures[c] = err
}

// take reports whether c is dirty and clears it.
func (e *entry) take(c Category) bool {
	if e.dirty&c == 0 {
		return false
	}
	e.dirty &^= c
	return true
}

func (e *entry) series() physio.TimeSeries {
	return physio.TimeSeries{FS: e.fs, Data: e.wave}
}

func (s *Store) recomputeECG(e *entry) {
	// Waveform is only needed for the trace, which snapshot() copies.
	e.take(Waveform)

	if e.take(RR) {
		series, err := rr.Build(e.events, s.params.RR)
		e.rr = series
		e.setFailure(RR, err)
	}
	if e.take(Histogram) {
		e.histogram = rr.Histogram(e.rr, rr.HistogramBins)
	}
	if e.take(Time) {
		e.time = nil
		m, err := hrv.ComputeTime(e.rr)
		if err == nil {
			e.time = &m
		}
		e.setFailure(Time, err)
	}
	if e.take(Frequency) {
		e.frequency = nil
		m, err := hrv.ComputeFrequency(e.rr, s.params.Frequency)
		if err == nil {
			e.frequency = &m
		}
		e.setFailure(Frequency, err)
	}
	if e.take(Nonlinear) {
		e.nonlinear = nil
		m, err := hrv.ComputeNonlinear(e.rr, s.params.Nonlinear)
		if err == nil {
			e.nonlinear = &m
		}
		e.setFailure(Nonlinear, err)
	}
	if e.take(SQI) {
		e.sqi = nil
		if len(e.wave) > 0 {
			r := sqi.Evaluate(e.series(), e.rr, s.params.SQI)
			e.sqi = &r
		}
	}
	if e.take(RRFigure) {
		e.rrFigure = rrFigure(e.events, e.rr)
	}
	if e.take(PSDFigure) {
		e.psdFigure = nil
		if e.frequency != nil {
			e.psdFigure = e.frequency.PSD
		}
	}
}

func (s *Store) recomputeEEG(e *entry) {
	e.take(Waveform)
	if e.take(Frequency) {
		e.eeg = nil
		bands, err := eegBands(e.series())
		if err == nil {
			e.eeg = &bands
		}
		e.setFailure(Frequency, err)
	}
	e.dirty &^= Derived
}

func (s *Store) recomputeEye(e *entry) {
	if e.take(Waveform) {
		summary := summarisePupil(e.pupil, s.params.PupilMinConfidence)
		e.summary = &summary
	}
	e.dirty &^= Derived
}

func (e *entry) snapshot() *Snapshot {
	snap := &Snapshot{
		Stream:      e.id,
		Modality:    e.modality,
		Version:     e.version,
		FS:          e.fs,
		Events:      e.events,
		RR:          e.rr,
		Time:        e.time,
		Frequency:   e.frequency,
		Nonlinear:   e.nonlinear,
		SQI:         e.sqi,
		RRFigure:    e.rrFigure,
		PSDFigure:   e.psdFigure,
		Histogram:   e.histogram,
		EEG:         e.eeg,
		Pupil:       e.summary,
		LastFailure: e.lastFailure,
	}
	if n := len(e.wave); n > 0 {
		keep := int(math.Round(TraceSeconds * e.fs))
		if keep > n {
			keep = n
		}
		snap.Trace = physio.TimeSeries{FS: e.fs, Data: append([]float64(nil), e.wave[n-keep:]...)}
		snap.TraceStart = e.start + n - keep
	}
	if len(e.failures) > 0 {
		snap.Failures = make(map[string]string, len(e.failures))
		for c, err := range e.failures {
			snap.Failures[c.String()] = err.Error()
		}
	}
	return snap
}

// rrFigure pairs each interval with the time of the beat that ends it.
func rrFigure(events physio.Events, series physio.RRSeries) []RRPoint {
	if series.Len() == 0 || events.Len() != series.Len()+1 {
		return nil
	}
	times := events.Times()
	out := make([]RRPoint, series.Len())
	for i, v := range series.Intervals {
		out[i] = RRPoint{TimeS: times[i+1], IntervalS: v, Flag: series.Flags[i]}
	}
	return out
}

// Conventional EEG bands, Hz.
var eegBandEdges = []struct {
	lo, hi float64
}{
	{1, 4},   // delta
	{4, 8},   // theta
	{8, 13},  // alpha
	{13, 30}, // beta
}

func eegBands(series physio.TimeSeries) (EEGBands, error) {
	if series.Duration() < 2 {
		return EEGBands{}, fmt.Errorf("%w: EEG band power needs at least 2 s, got %.2f s",
			physio.ErrTooFewSamples, series.Duration())
	}
	psd := dsp.Welch(series.Data, series.FS, int(math.Round(2*series.FS)))
	var p [4]float64
	for i, b := range eegBandEdges {
		p[i] = psd.BandPower(b.lo, math.Min(b.hi, series.FS/2))
	}
	out := EEGBands{Delta: p[0], Theta: p[1], Alpha: p[2], Beta: p[3]}
	if total := p[0] + p[1] + p[2] + p[3]; total > 0 {
		out.AlphaRel = p[2] / total
	}
	best := -1.0
	for k, f := range psd.Freqs {
		if f >= eegBandEdges[2].lo && f < eegBandEdges[2].hi && psd.Power[k] > best {
			best, out.AlphaPeakHz = psd.Power[k], f
		}
	}
	return out, nil
}

func summarisePupil(samples []physio.PupilSample, minConfidence float64) PupilSummary {
	valid := physio.FilterConfidence(samples, minConfidence)
	out := PupilSummary{Samples: len(samples), Valid: len(valid)}
	if len(samples) > 0 {
		out.ValidFraction = float64(len(valid)) / float64(len(samples))
	}
	var acc dsp.Welford
	for _, v := range valid {
		acc.Add(v.DiameterMM)
	}
	out.MeanDiameterMM = acc.Mean()
	out.SDDiameterMM = math.Sqrt(acc.SampleVariance())
	return out
}
