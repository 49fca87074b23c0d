package bus

import (
	"testing"
	"time"
)

func telegramFor(i int) Telegram {
	return Telegram{
		Timestamp: time.Now().UTC(),
		Address:   "IKO:test:A1",
		NewValue:  Int(int64(i)),
		Origin:    OriginAPI,
	}
}

func TestBroadcasterRingBounded(t *testing.T) {
	br := NewBroadcaster(500)

	for i := 0; i < 1200; i++ {
		br.Publish(telegramFor(i))
	}

	recent := br.Recent(0)
	if len(recent) != 500 {
		t.Fatalf("ring should cap at 500, got %d", len(recent))
	}
	// Oldest entry in the ring is 1200-500 = 700.
	if v, _ := recent[0].NewValue.AsInt(); v != 700 { //nolint:errcheck // values set above
		t.Errorf("oldest entry = %d, want 700", v)
	}
	if v, _ := recent[len(recent)-1].NewValue.AsInt(); v != 1199 { //nolint:errcheck // values set above
		t.Errorf("newest entry = %d, want 1199", v)
	}
}

func TestBroadcasterRecentLimit(t *testing.T) {
	br := NewBroadcaster(500)
	for i := 0; i < 10; i++ {
		br.Publish(telegramFor(i))
	}
	recent := br.Recent(3)
	if len(recent) != 3 {
		t.Fatalf("Recent(3) = %d entries", len(recent))
	}
	if v, _ := recent[0].NewValue.AsInt(); v != 7 { //nolint:errcheck // values set above
		t.Errorf("Recent(3)[0] = %d, want 7", v)
	}
}

func TestBroadcasterDeliveryOrder(t *testing.T) {
	br := NewBroadcaster(500)
	sub := br.Subscribe(64)

	for i := 0; i < 50; i++ {
		br.Publish(telegramFor(i))
	}

	for i := 0; i < 50; i++ {
		select {
		case tel := <-sub.C:
			if v, _ := tel.NewValue.AsInt(); v != int64(i) { //nolint:errcheck // values set above
				t.Fatalf("out of order: got %d, want %d", v, i)
			}
		default:
			t.Fatalf("missing telegram %d", i)
		}
	}
}

func TestBroadcasterDisconnectsSlowSubscriber(t *testing.T) {
	br := NewBroadcaster(500)
	slow := br.Subscribe(4)  // tiny buffer, never drained
	fast := br.Subscribe(64) // drained below

	total := 40
	received := 0
	for i := 0; i < total; i++ {
		br.Publish(telegramFor(i))
		// Drain the fast subscriber as we go.
		for {
			select {
			case _, ok := <-fast.C:
				if !ok {
					t.Fatal("fast subscriber must not be disconnected")
				}
				received++
				continue
			default:
			}
			break
		}
	}

	if received != total {
		t.Errorf("fast subscriber received %d of %d telegrams", received, total)
	}
	if br.SubscriberCount() != 1 {
		t.Errorf("slow subscriber should be dropped, count = %d", br.SubscriberCount())
	}

	// The slow subscriber's channel must be closed after its buffered
	// telegrams are drained.
	closed := false
	for !closed {
		select {
		case _, ok := <-slow.C:
			if !ok {
				closed = true
			}
		case <-time.After(time.Second):
			t.Fatal("slow subscriber channel was not closed")
		}
	}
}

func TestBroadcasterUnsubscribe(t *testing.T) {
	br := NewBroadcaster(500)
	sub := br.Subscribe(8)
	br.Unsubscribe(sub)
	br.Unsubscribe(sub) // idempotent

	if _, ok := <-sub.C; ok {
		t.Error("channel should be closed after Unsubscribe")
	}
	if br.SubscriberCount() != 0 {
		t.Error("subscriber should be removed")
	}
}

func TestBroadcasterMinimumRing(t *testing.T) {
	br := NewBroadcaster(10) // below the minimum, should be raised
	for i := 0; i < 600; i++ {
		br.Publish(telegramFor(i))
	}
	if got := len(br.Recent(0)); got < 500 {
		t.Errorf("ring smaller than the 500-entry floor: %d", got)
	}
}
