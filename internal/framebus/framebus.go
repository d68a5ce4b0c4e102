// Package framebus implements the publish/subscribe frame bus (C6):
// reassembled media frames and telemetry fan out to subscribers keyed by
// (device_id, channel) or wildcard, per spec.md §4.6.
package framebus

import (
	"sync"

	"github.com/google/uuid"
)

// DataType classifies a published frame's payload.
type DataType uint8

const (
	DataI DataType = iota
	DataP
	DataB
	DataAudio
)

// LocationTelemetry is the optional last-known location snapshot attached
// to a published event.
type LocationTelemetry struct {
	LatitudeE6  int32
	LongitudeE6 int32
	SpeedDeci   uint16
	HeadingDeg  uint16
	TimeBCD     [6]byte
}

// Event is a single frame-bus publication. It is a snapshot by value:
// subscribers never hold a reference into session memory.
type Event struct {
	DeviceID  string
	Channel   uint8
	DataType  DataType
	Payload   []byte
	Telemetry *LocationTelemetry
	Seq       uint64
}

// streamKey identifies one (device_id, channel) stream for sequencing and
// recent-frame retention.
type streamKey struct {
	deviceID string
	channel  uint8
}

// RecentBufferSize is how many recent frames each stream retains for
// pull-based consumers.
const RecentBufferSize = 30

// SubscriberID identifies a registered subscriber, for Unsubscribe.
type SubscriberID string

type subscriber struct {
	id       SubscriberID
	deviceID string // "" = wildcard
	channel  int    // -1 = wildcard
	ch       chan Event
}

// Bus is the process-wide frame fan-out. Dispatch to bounded channel
// subscribers is non-blocking: a full channel has its oldest pending
// frame dropped to make room (freshness over completeness).
type Bus struct {
	mu          sync.Mutex
	subscribers map[SubscriberID]*subscriber
	seqs        map[streamKey]uint64
	recent      map[streamKey][]Event

	onDrop    func()
	onPublish func()
}

// SetHooks installs optional instrumentation callbacks; either may be nil.
// onPublish fires once per Publish call, onDrop once per dropped event
// (a full subscriber channel forced to evict its oldest pending frame).
func (b *Bus) SetHooks(onPublish, onDrop func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onPublish = onPublish
	b.onDrop = onDrop
}

// New constructs an empty Bus.
func New() *Bus {
	return &Bus{
		subscribers: make(map[SubscriberID]*subscriber),
		seqs:        make(map[streamKey]uint64),
		recent:      make(map[streamKey][]Event),
	}
}

// Filter selects which events a subscriber receives. Empty DeviceID or a
// negative Channel mean "any".
type Filter struct {
	DeviceID string
	Channel  int
}

// Subscribe registers a new bounded-channel subscriber and returns its id
// plus the channel to read events from. bufSize bounds how many pending
// events may queue before drop-oldest kicks in.
func (b *Bus) Subscribe(filter Filter, bufSize int) (SubscriberID, <-chan Event) {
	if bufSize <= 0 {
		bufSize = 16
	}
	id := SubscriberID(uuid.NewString())
	sub := &subscriber{
		id:       id,
		deviceID: filter.DeviceID,
		channel:  filter.Channel,
		ch:       make(chan Event, bufSize),
	}
	b.mu.Lock()
	b.subscribers[id] = sub
	b.mu.Unlock()
	return id, sub.ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(id SubscriberID) {
	b.mu.Lock()
	sub, ok := b.subscribers[id]
	delete(b.subscribers, id)
	b.mu.Unlock()
	if ok {
		close(sub.ch)
	}
}

// Publish assigns the next sequence number for (deviceID, channel),
// records it in the recent-frame ring, and fans it out to matching
// subscribers without blocking.
func (b *Bus) Publish(deviceID string, channel uint8, dataType DataType, payload []byte, telemetry *LocationTelemetry) Event {
	key := streamKey{deviceID: deviceID, channel: channel}

	b.mu.Lock()
	b.seqs[key]++
	ev := Event{
		DeviceID:  deviceID,
		Channel:   channel,
		DataType:  dataType,
		Payload:   payload,
		Telemetry: telemetry,
		Seq:       b.seqs[key],
	}
	ring := append(b.recent[key], ev)
	if len(ring) > RecentBufferSize {
		ring = ring[len(ring)-RecentBufferSize:]
	}
	b.recent[key] = ring

	matches := make([]*subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		if sub.deviceID != "" && sub.deviceID != deviceID {
			continue
		}
		if sub.channel >= 0 && sub.channel != int(channel) {
			continue
		}
		matches = append(matches, sub)
	}
	onPublish, onDrop := b.onPublish, b.onDrop
	b.mu.Unlock()

	if onPublish != nil {
		onPublish()
	}
	for _, sub := range matches {
		if dropped := deliverNonBlocking(sub.ch, ev); dropped && onDrop != nil {
			onDrop()
		}
	}
	return ev
}

// deliverNonBlocking sends ev on ch, dropping the oldest pending event
// first if ch is full. It reports whether an eviction was needed.
func deliverNonBlocking(ch chan Event, ev Event) bool {
	select {
	case ch <- ev:
		return false
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- ev:
	default:
	}
	return true
}

// Recent returns up to RecentBufferSize most-recent events for
// (deviceID, channel), oldest first.
func (b *Bus) Recent(deviceID string, channel uint8) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ring := b.recent[streamKey{deviceID: deviceID, channel: channel}]
	out := make([]Event, len(ring))
	copy(out, ring)
	return out
}
