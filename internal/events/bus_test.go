package events

import "testing"

func TestPublishDeliversToSubscribersOfType(t *testing.T) {
	b := NewBus()
	np := b.Subscribe(EventNowPlaying)
	tc := b.Subscribe(EventTrackChange)

	if n := b.Publish(EventNowPlaying, Payload{KeyStreamID: "MPD"}); n != 1 {
		t.Fatalf("delivered=%d, want 1", n)
	}
	got := <-np
	if got.StreamID() != "MPD" {
		t.Fatalf("stream id=%q", got.StreamID())
	}
	select {
	case p := <-tc:
		t.Fatalf("track_change subscriber got %v", p)
	default:
	}
}

func TestPublishDropsWhenSubscriberFull(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe(EventNowPlaying)
	for i := 0; i < cap(sub); i++ {
		b.Publish(EventNowPlaying, Payload{})
	}
	if n := b.Publish(EventNowPlaying, Payload{}); n != 0 {
		t.Fatalf("delivered=%d to a full subscriber", n)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe(EventVolume)
	b.Unsubscribe(EventVolume, sub)

	if _, ok := <-sub; ok {
		t.Fatal("channel still open")
	}
	if n := b.Publish(EventVolume, Payload{}); n != 0 {
		t.Fatalf("delivered=%d after unsubscribe", n)
	}
	// A second unsubscribe must not panic on the closed channel.
	b.Unsubscribe(EventVolume, sub)
}

func TestPayloadStreamIDMissing(t *testing.T) {
	if got := (Payload{KeyStreamID: 7}).StreamID(); got != "" {
		t.Fatalf("StreamID=%q for non-string value", got)
	}
}
