package stream

// State is the worker's processing state.
type State int32

const (
	Idle State = iota
	Processing
)

func (s State) String() string {
	if s == Processing {
		return "processing"
	}
	return "idle"
}

// RecordingState is the recording sub-state. It changes independently of
// State.
type RecordingState int32

const (
	RecordingOff RecordingState = iota
	RecordingStarting
	RecordingActive
	RecordingError
)

func (s RecordingState) String() string {
	switch s {
	case RecordingStarting:
		return "starting"
	case RecordingActive:
		return "recording"
	case RecordingError:
		return "error"
	default:
		return "off"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s RecordingState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
