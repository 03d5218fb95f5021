package monitoring

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRouterMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRouterMetrics(reg)

	m.CommandHandled("process_ecg")
	m.CommandHandled("process_ecg")
	if got := testutil.ToFloat64(m.commands.WithLabelValues("process_ecg")); got != 2 {
		t.Fatalf("expected 2 process_ecg commands, got %f", got)
	}

	m.Dropped("update")
	if got := testutil.ToFloat64(m.dropped.WithLabelValues("update")); got != 1 {
		t.Fatalf("expected update drop counter 1, got %f", got)
	}

	m.QueueDepth("command", 7)
	if got := testutil.ToFloat64(m.queueDepth.WithLabelValues("command")); got != 7 {
		t.Fatalf("expected command queue gauge 7, got %f", got)
	}

	m.RecordingState(3)
	if got := testutil.ToFloat64(m.recordingState); got != 3 {
		t.Fatalf("expected recording state 3, got %f", got)
	}

	m.ChunkProcessed(0.004)
	if samples := testutil.CollectAndCount(m.chunkLatency); samples != 1 {
		t.Fatalf("expected latency histogram to record 1 sample, got %d", samples)
	}

	m.StageFailed("detect")
	m.Prepared(true)
	m.Prepared(false)
	if got := testutil.ToFloat64(m.prepares.WithLabelValues("cached")); got != 1 {
		t.Fatalf("expected 1 cached prepare, got %f", got)
	}
}
