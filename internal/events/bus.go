/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "sync"

// EventType enumerates event categories.
type EventType string

const (
	// EventNowPlaying fires whenever a stream's record is republished.
	EventNowPlaying EventType = "now_playing"
	// EventTrackChange fires when a stream starts a different title/artist.
	EventTrackChange EventType = "track_change"
	// EventVolume fires after a subscriber changes its client volume.
	EventVolume EventType = "volume"
)

// Payload keys shared by publishers and consumers.
const (
	KeyStreamID = "stream_id"
	KeyRecord   = "record"
	KeyClientID = "client_id"
	KeyPercent  = "percent"
)

// Payload generic event payload.
type Payload map[string]any

// StreamID returns the stream a payload refers to, or "".
func (p Payload) StreamID() string {
	s, _ := p[KeyStreamID].(string)
	return s
}

// Subscriber receives event payloads.
type Subscriber chan Payload

// Bus implements a simple in-process pubsub. Publishing never blocks: a
// subscriber whose buffer is full misses the event.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for event type.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	ch := make(Subscriber, 32)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers and reports how many received it.
func (b *Bus) Publish(eventType EventType, payload Payload) int {
	b.mu.RLock()
	subs := append([]Subscriber(nil), b.subs[eventType]...)
	b.mu.RUnlock()
	delivered := 0
	for _, sub := range subs {
		select {
		case sub <- payload:
			delivered++
		default:
		}
	}
	return delivered
}

// Unsubscribe removes the subscriber and closes its channel.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			subs = append(subs[:i], subs[i+1:]...)
			close(sub)
			break
		}
	}
	b.subs[eventType] = subs
}
