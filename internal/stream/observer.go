package stream

// Observer receives router activity. monitoring.RouterMetrics implements it
// for Prometheus.
type Observer interface {
	CommandHandled(kind string)
	UpdateEmitted(kind string)
	StageFailed(stage string)
	Dropped(queue string)
	QueueDepth(queue string, n int)
	ChunkProcessed(seconds float64)
	RecordingState(state int)
}

type nopObserver struct{}

func (nopObserver) CommandHandled(string)  {}
func (nopObserver) UpdateEmitted(string)   {}
func (nopObserver) StageFailed(string)     {}
func (nopObserver) Dropped(string)         {}
func (nopObserver) QueueDepth(string, int) {}
func (nopObserver) ChunkProcessed(float64) {}
func (nopObserver) RecordingState(int)     {}
