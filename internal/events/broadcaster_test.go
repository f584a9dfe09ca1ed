package events

import "testing"

func TestSubscribePublishDelivers(t *testing.T) {
	h := NewOutputHandle("out")
	sub := h.Subscribe()
	defer sub.Close()

	if !h.IsConnected() {
		t.Fatal("IsConnected() = false after Subscribe")
	}
	if got := h.ConnectCount(); got != 1 {
		t.Fatalf("ConnectCount() = %d, want 1", got)
	}

	e := New(KindTrigger, 1, "node-a", "out", nil)
	h.Publish(e)

	select {
	case got := <-sub.Events():
		if got.ID != e.ID {
			t.Fatalf("received event id %q, want %q", got.ID, e.ID)
		}
	default:
		t.Fatal("expected a buffered event, got none")
	}
}

func TestUnsubscribeDecrementsConnectCount(t *testing.T) {
	h := NewOutputHandle("out")
	sub := h.Subscribe()
	sub.Close()
	if h.IsConnected() {
		t.Fatal("IsConnected() = true after Close")
	}
	if got := h.ConnectCount(); got != 0 {
		t.Fatalf("ConnectCount() = %d, want 0", got)
	}
}

func TestPublishFanOutToMultipleSubscribers(t *testing.T) {
	h := NewOutputHandle("out")
	sub1 := h.Subscribe()
	sub2 := h.Subscribe()
	defer sub1.Close()
	defer sub2.Close()

	h.Publish(New(KindTrigger, 1, "node-a", "out", nil))

	for i, s := range []*Subscription{sub1, sub2} {
		select {
		case <-s.Events():
		default:
			t.Fatalf("subscriber %d did not receive the published event", i)
		}
	}
}

func TestPublishDropsOldestWhenBufferFull(t *testing.T) {
	h := NewOutputHandle("out")
	sub := h.Subscribe()
	defer sub.Close()

	for i := 0; i < subscriberBuffer+10; i++ {
		h.Publish(New(KindTrigger, uint64(i), "node-a", "out", nil))
	}

	if got := sub.Lagged(); got == 0 {
		t.Fatal("expected Lagged() > 0 after overflowing the subscriber buffer")
	}
	// Draining should not block and should yield at most subscriberBuffer events.
	drained := 0
	for {
		select {
		case <-sub.Events():
			drained++
		default:
			if drained > subscriberBuffer {
				t.Fatalf("drained %d events, buffer bound is %d", drained, subscriberBuffer)
			}
			return
		}
	}
}

func TestStaleForCycle(t *testing.T) {
	e := New(KindTrigger, 5, "node-a", "out", nil)
	if !e.StaleForCycle(6) {
		t.Fatal("expected event with CycleID 5 to be stale for current cycle 6")
	}
	if e.StaleForCycle(5) {
		t.Fatal("did not expect event with CycleID 5 to be stale for current cycle 5")
	}
}
