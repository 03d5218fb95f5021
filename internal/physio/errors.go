package physio

import "errors"

// Error taxonomy shared by every analysis stage. Stages wrap these with
// context using fmt.Errorf("...: %w", err) so callers can match with
// errors.Is.
var (
	// ErrInsufficientSignal means the detector found fewer than two beats.
	ErrInsufficientSignal = errors.New("insufficient signal")
	// ErrEmptyInput means a stage received no usable data at all.
	ErrEmptyInput = errors.New("empty input")
	// ErrTooFewSamples means a stage received data but too little of it for a
	// statistically meaningful result.
	ErrTooFewSamples = errors.New("too few samples")
	// ErrConfiguration covers invalid parameters such as a non-positive
	// sampling rate.
	ErrConfiguration = errors.New("configuration error")
	// ErrRecordingIO is a recording sink failure.
	ErrRecordingIO = errors.New("recording io error")
	// ErrChannelClosed means the router or its worker has terminated.
	ErrChannelClosed = errors.New("channel closed")
)
