package monitoring

import (
	"fmt"
	"sync"
	"testing"
)

func capture(t *testing.T) *[]string {
	t.Helper()
	var (
		mu  sync.Mutex
		out []string
	)
	prev := SetLogger(func(format string, v ...any) {
		mu.Lock()
		defer mu.Unlock()
		out = append(out, fmt.Sprintf(format, v...))
	})
	t.Cleanup(func() { SetLogger(prev) })
	return &out
}

func TestSetLoggerReturnsPrevious(t *testing.T) {
	lines := capture(t)
	Logf("stream %s ready", "ecg-1")
	if len(*lines) != 1 || (*lines)[0] != "stream ecg-1 ready" {
		t.Fatalf("captured %q", *lines)
	}

	prev := SetLogger(nil)
	Logf("muted")
	if len(*lines) != 1 {
		t.Errorf("muted logger still wrote: %q", *lines)
	}
	prev("restored %d", 1)
	if got := (*lines)[len(*lines)-1]; got != "restored 1" {
		t.Errorf("previous logger wrote %q", got)
	}
	SetLogger(prev)
}

func TestPrefixedFollowsSwap(t *testing.T) {
	logRouter := Prefixed("router")
	lines := capture(t)
	logRouter("chunk %d dropped", 4)
	if got := (*lines)[0]; got != "[router] chunk 4 dropped" {
		t.Errorf("Prefixed output = %q", got)
	}
}

func TestConcurrentSwap(t *testing.T) {
	capture(t)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			Logf("tick")
		}()
		go func() {
			defer wg.Done()
			SetLogger(SetLogger(nil))
		}()
	}
	wg.Wait()
}
