package stream

import (
	"fmt"

	"github.com/banshee-data/cardio.report/internal/physio"
	"github.com/banshee-data/cardio.report/internal/pipeline"
)

func (r *Router) setRecording(s RecordingState) {
	r.recording.Store(int32(s))
	r.opts.Observer.RecordingState(int(s))
}

func (r *Router) recordingUpdate(seq uint64, err error) {
	u := RecordingUpdate{
		Header: r.header(r.recStream, seq),
		State:  r.Recording(),
		Path:   r.recPath,
	}
	if err != nil {
		u.Err = &pipeline.StageError{Stage: pipeline.StageRecording, Err: err}
		r.opts.Observer.StageFailed(string(pipeline.StageRecording))
		logf("recording %q: %v", r.recPath, err)
	}
	r.emit(u)
}

func (r *Router) startRecording(seq uint64, c StartRecording) {
	r.closeSink()
	r.recStream, r.recPath = c.Stream, c.Path
	r.setRecording(RecordingStarting)
	r.recordingUpdate(seq, nil)

	if r.opts.OpenSink == nil {
		r.setRecording(RecordingError)
		r.recordingUpdate(seq, fmt.Errorf("%w: no recording sink configured", physio.ErrRecordingIO))
		return
	}
	if err := physio.ValidateFS(c.FS); err != nil {
		r.setRecording(RecordingError)
		r.recordingUpdate(seq, err)
		return
	}
	sink, err := r.opts.OpenSink(c.Path, c.FS)
	if err != nil {
		r.setRecording(RecordingError)
		r.recordingUpdate(seq, fmt.Errorf("%w: failed to open sink: %v", physio.ErrRecordingIO, err))
		return
	}
	r.sink = sink
	r.setRecording(RecordingActive)
	r.recordingUpdate(seq, nil)
}

func (r *Router) stopRecording(seq uint64) {
	err := r.closeSink()
	if err != nil {
		r.setRecording(RecordingError)
		r.recordingUpdate(seq, fmt.Errorf("%w: failed to close sink: %v", physio.ErrRecordingIO, err))
		return
	}
	r.setRecording(RecordingOff)
	r.recordingUpdate(seq, nil)
}

// record appends chunk to the active sink. A write failure closes the sink
// and moves to RecordingError; chunks are then dropped until recording is
// started again. Processing is unaffected either way.
func (r *Router) record(stream string, seq uint64, chunk physio.TimeSeries) {
	if r.sink == nil || r.Recording() != RecordingActive {
		return
	}
	if r.recStream != "" && r.recStream != stream {
		return
	}
	if err := r.sink.Append(chunk); err != nil {
		r.closeSink()
		r.setRecording(RecordingError)
		r.recordingUpdate(seq, fmt.Errorf("%w: %v", physio.ErrRecordingIO, err))
	}
}

func (r *Router) closeSink() error {
	if r.sink == nil {
		return nil
	}
	err := r.sink.Close()
	r.sink = nil
	return err
}
