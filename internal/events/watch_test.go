package events

import (
	"testing"
	"time"
)

func TestWatchGetSet(t *testing.T) {
	w := NewWatch(0)
	if got := w.Get(); got != 0 {
		t.Fatalf("Get() = %d, want 0", got)
	}
	w.Set(7)
	if got := w.Get(); got != 7 {
		t.Fatalf("Get() = %d, want 7", got)
	}
}

func TestWatchChangedWakesWaiter(t *testing.T) {
	w := NewWatch(0)
	_, changed := w.Changed()

	done := make(chan uint64, 1)
	go func() {
		<-changed
		done <- w.Get()
	}()

	w.Set(42)

	select {
	case v := <-done:
		if v != 42 {
			t.Fatalf("waiter observed %d, want 42", v)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken within 1s of Set")
	}
}

func TestWatchChangedChannelIsFreshAfterSet(t *testing.T) {
	w := NewWatch(0)
	_, first := w.Changed()
	w.Set(1)
	select {
	case <-first:
	default:
		t.Fatal("expected the pre-Set channel to be closed")
	}

	_, second := w.Changed()
	select {
	case <-second:
		t.Fatal("expected a fresh channel after Set, got one already closed")
	default:
	}
}
