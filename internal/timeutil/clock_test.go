package timeutil

import (
	"testing"
	"time"
)

var start = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestRealClock(t *testing.T) {
	clock := RealClock{}
	past := clock.Now().Add(-time.Second)
	if d := clock.Since(past); d < time.Second {
		t.Errorf("Since() = %v, want >= 1s", d)
	}

	ticker := clock.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	select {
	case <-ticker.C():
	case <-time.After(time.Second):
		t.Error("ticker did not fire")
	}
}

func TestMockClockSetAndAdvance(t *testing.T) {
	clock := NewMockClock(start)
	clock.Advance(time.Hour)
	if want := start.Add(time.Hour); !clock.Now().Equal(want) {
		t.Errorf("Now() = %v, want %v", clock.Now(), want)
	}
	if d := clock.Since(start); d != time.Hour {
		t.Errorf("Since() = %v, want 1h", d)
	}

	later := start.Add(24 * time.Hour)
	clock.Set(later)
	if !clock.Now().Equal(later) {
		t.Errorf("Now() = %v, want %v", clock.Now(), later)
	}
}

func TestMockTickerFiresOnDeadline(t *testing.T) {
	clock := NewMockClock(start)
	ticker := clock.NewTicker(100 * time.Millisecond)

	clock.Advance(60 * time.Millisecond)
	select {
	case <-ticker.C():
		t.Fatal("ticker fired before its deadline")
	default:
	}

	clock.Advance(40 * time.Millisecond)
	select {
	case got := <-ticker.C():
		if want := start.Add(100 * time.Millisecond); !got.Equal(want) {
			t.Errorf("tick at %v, want %v", got, want)
		}
	default:
		t.Fatal("ticker did not fire at its deadline")
	}

	// Missed ticks collapse into one pending tick and the deadline stays on
	// the original grid.
	clock.Advance(250 * time.Millisecond)
	<-ticker.C()
	clock.Advance(40 * time.Millisecond)
	select {
	case <-ticker.C():
		t.Error("ticker fired off its grid")
	default:
	}
	clock.Advance(10 * time.Millisecond)
	select {
	case <-ticker.C():
	default:
		t.Error("ticker did not fire at 400ms")
	}
}

func TestMockTickerStop(t *testing.T) {
	clock := NewMockClock(start)
	a := clock.NewTicker(time.Second)
	b := clock.NewTicker(time.Second)
	if n := clock.Tickers(); n != 2 {
		t.Fatalf("Tickers() = %d, want 2", n)
	}

	a.Stop()
	clock.Advance(5 * time.Second)
	select {
	case <-a.C():
		t.Error("stopped ticker fired")
	default:
	}
	select {
	case <-b.C():
	default:
		t.Error("live ticker did not fire")
	}
	if n := clock.Tickers(); n != 1 {
		t.Errorf("Tickers() = %d after Stop, want 1", n)
	}
}

func TestMockTickerTrigger(t *testing.T) {
	clock := NewMockClock(start)
	ticker := clock.NewTicker(time.Hour).(*MockTicker)
	ticker.Trigger(start)
	ticker.Trigger(start.Add(time.Second))

	select {
	case got := <-ticker.C():
		if !got.Equal(start) {
			t.Errorf("got %v, want %v", got, start)
		}
	default:
		t.Error("Trigger did not send a tick")
	}
	select {
	case <-ticker.C():
		t.Error("a full channel should drop the second trigger")
	default:
	}
}
