package framebus

import (
	"testing"
	"time"
)

func TestPublishSubscribeDelivery(t *testing.T) {
	b := New()
	_, ch := b.Subscribe(Filter{DeviceID: "dev1", Channel: -1}, 4)

	b.Publish("dev1", 1, DataI, []byte("frame"), nil)

	select {
	case ev := <-ch:
		if ev.DeviceID != "dev1" || string(ev.Payload) != "frame" {
			t.Fatalf("got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestWildcardSubscriberSeesAllDevices(t *testing.T) {
	b := New()
	_, ch := b.Subscribe(Filter{Channel: -1}, 4)

	b.Publish("devA", 1, DataI, []byte("a"), nil)
	b.Publish("devB", 1, DataI, []byte("b"), nil)

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case ev := <-ch:
			got[string(ev.Payload)] = true
		case <-time.After(time.Second):
			t.Fatal("timed out")
		}
	}
	if !got["a"] || !got["b"] {
		t.Fatalf("got %v", got)
	}
}

func TestFilterExcludesOtherDevices(t *testing.T) {
	b := New()
	_, ch := b.Subscribe(Filter{DeviceID: "dev1", Channel: -1}, 4)
	b.Publish("dev2", 1, DataI, []byte("x"), nil)

	select {
	case ev := <-ch:
		t.Fatalf("unexpected event for filtered-out device: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSlowSubscriberDropsOldest(t *testing.T) {
	b := New()
	_, ch := b.Subscribe(Filter{DeviceID: "dev1", Channel: -1}, 1)

	b.Publish("dev1", 1, DataI, []byte("first"), nil)
	b.Publish("dev1", 1, DataI, []byte("second"), nil)

	select {
	case ev := <-ch:
		if string(ev.Payload) != "second" {
			t.Fatalf("expected freshest frame to survive, got %q", ev.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
}

func TestSequenceIncreasesPerStream(t *testing.T) {
	b := New()
	ev1 := b.Publish("dev1", 1, DataI, []byte("a"), nil)
	ev2 := b.Publish("dev1", 1, DataI, []byte("b"), nil)
	ev3 := b.Publish("dev1", 2, DataI, []byte("c"), nil)

	if ev2.Seq != ev1.Seq+1 {
		t.Fatalf("expected monotonic seq within stream: %d -> %d", ev1.Seq, ev2.Seq)
	}
	if ev3.Seq != 1 {
		t.Fatalf("expected independent sequence for different channel, got %d", ev3.Seq)
	}
}

func TestRecentRingBounded(t *testing.T) {
	b := New()
	for i := 0; i < RecentBufferSize+10; i++ {
		b.Publish("dev1", 1, DataI, []byte{byte(i)}, nil)
	}
	recent := b.Recent("dev1", 1)
	if len(recent) != RecentBufferSize {
		t.Fatalf("expected %d, got %d", RecentBufferSize, len(recent))
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	id, ch := b.Subscribe(Filter{DeviceID: "dev1", Channel: -1}, 4)
	b.Unsubscribe(id)

	_, ok := <-ch
	if ok {
		t.Fatal("expected channel closed after unsubscribe")
	}
}
