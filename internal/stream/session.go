package stream

import (
	"fmt"
	"math"

	"github.com/banshee-data/cardio.report/internal/config"
	"github.com/banshee-data/cardio.report/internal/detector"
	"github.com/banshee-data/cardio.report/internal/physio"
)

// session is the worker-owned state of one stream. Indices are absolute
// sample positions since the stream started.
type session struct {
	fs       float64
	det      *detector.Detector
	wave     []float64
	start    int // absolute index of wave[0]
	beats    []physio.Event
	windowN  int
	received int // total samples appended
}

func newSession(fs float64, p config.Params) (*session, error) {
	det, err := detector.New(fs, p.Detector)
	if err != nil {
		return nil, err
	}
	return &session{
		fs:      fs,
		det:     det,
		windowN: int(math.Round(p.AnalysisWindowS * fs)),
	}, nil
}

// newEventSession holds annotations only; it has no detector until a
// waveform arrives.
func newEventSession(fs float64, p config.Params) *session {
	return &session{fs: fs, windowN: int(math.Round(p.AnalysisWindowS * fs))}
}

// appendChunk runs the detector over the chunk, retains it and returns the
// absolute offset of its first sample.
func (s *session) appendChunk(data []float64) int {
	offset := s.received
	for _, idx := range s.det.Process(data) {
		s.addBeat(physio.Event{Index: idx, Label: detector.BeatLabel})
	}
	s.wave = append(s.wave, data...)
	s.received += len(data)
	s.trim()
	return offset
}

// addEvents merges annotations that fall after the newest known beat.
// Earlier ones are dropped; the count of dropped events is returned.
func (s *session) addEvents(ev physio.Events) int {
	dropped := 0
	for _, e := range ev.Items {
		if !s.addBeat(e) {
			dropped++
		}
	}
	s.trim()
	return dropped
}

func (s *session) addBeat(e physio.Event) bool {
	if n := len(s.beats); n > 0 && e.Index <= s.beats[n-1].Index {
		return false
	}
	s.beats = append(s.beats, e)
	return true
}

// trim keeps at most windowN samples and drops beats that fall before the
// retained waveform. Annotation-only sessions are trimmed by time relative
// to the newest beat.
func (s *session) trim() {
	if s.det != nil {
		if excess := len(s.wave) - s.windowN; excess > 0 {
			s.wave = append(s.wave[:0:0], s.wave[excess:]...)
			s.start += excess
		}
	} else if n := len(s.beats); n > 0 {
		if floor := s.beats[n-1].Index - s.windowN; floor > s.start {
			s.start = floor
		}
	}
	i := 0
	for i < len(s.beats) && s.beats[i].Index < s.start {
		i++
	}
	if i > 0 {
		s.beats = append(s.beats[:0:0], s.beats[i:]...)
	}
}

// series returns a copy of the retained waveform, or nil for annotation-only
// sessions.
func (s *session) series() *physio.TimeSeries {
	if s.det == nil {
		return nil
	}
	return &physio.TimeSeries{FS: s.fs, Data: append([]float64(nil), s.wave...)}
}

// events returns the retained beats in absolute coordinates.
func (s *session) events() physio.Events {
	return physio.Events{FS: s.fs, Items: append([]physio.Event(nil), s.beats...)}
}

// windowEvents returns the retained beats relative to the window start.
func (s *session) windowEvents() physio.Events {
	return s.events().Shift(-s.start)
}

func (s *session) checkFS(fs float64) error {
	if fs != s.fs {
		return fmt.Errorf("%w: stream is sampled at %v Hz, got %v Hz", physio.ErrConfiguration, s.fs, fs)
	}
	return nil
}
