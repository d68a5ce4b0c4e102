// Package reassembler implements stream-frame reassembly for live video
// (0x9201/0x9202/0x9206/0x9207) and fragmented-list reassembly for
// stored-video-list responses (0x1205), per spec.md §4.3.
package reassembler

import (
	"time"

	"github.com/fleetcam/jt808d/internal/codec"
	"github.com/fleetcam/jt808d/internal/message"
)

// MaxLiveChains is the per-session cap on concurrently open live-frame
// chains; the oldest by last-activity is evicted when full.
const MaxLiveChains = 32

// ChainTimeout is how long a chain may sit idle before it is discarded.
const ChainTimeout = 5 * time.Second

// LiveKey identifies a live-frame assembly by (channel, timestamp), the
// timestamp being the frame's BCD sextet as a string. There is no
// sequence-number key: frames with the same channel and timestamp always
// share a chain.
type LiveKey struct {
	Channel   uint8
	Timestamp string
}

type liveChain struct {
	key          LiveKey
	dataType     uint8
	payload      []byte
	lastActivity time.Time
	degraded     bool
}

// LiveFrameEvent is emitted when a chain completes with its "end" fragment.
type LiveFrameEvent struct {
	Channel  uint8
	Payload  []byte
	DataType uint8
	Degraded bool
}

// LiveReassembler holds the live-frame chains for one session.
type LiveReassembler struct {
	chains map[LiveKey]*liveChain
}

// NewLiveReassembler constructs an empty reassembler.
func NewLiveReassembler() *LiveReassembler {
	return &LiveReassembler{chains: make(map[LiveKey]*liveChain)}
}

// Ingest feeds one parsed live-video frame into the reassembler. It
// returns a LiveFrameEvent (non-nil) exactly when the fragment's
// package_type is "end" and the chain completes.
func (r *LiveReassembler) Ingest(f *message.LiveVideoFrame, now time.Time) *LiveFrameEvent {
	key := LiveKey{Channel: f.Channel, Timestamp: codec.BCDToTime6(f.TimestampBCD[:])}

	chain, exists := r.chains[key]
	switch f.PackageType {
	case message.PackageStart:
		chain = &liveChain{key: key, dataType: f.DataType, lastActivity: now}
		chain.payload = append(chain.payload, f.Payload...)
		r.chains[key] = chain
		r.evictIfOverCapacity(key)
		return nil

	case message.PackageMiddle:
		if !exists {
			chain = &liveChain{key: key, dataType: f.DataType, lastActivity: now, degraded: true}
			r.chains[key] = chain
			r.evictIfOverCapacity(key)
		}
		chain.payload = append(chain.payload, f.Payload...)
		chain.lastActivity = now
		return nil

	case message.PackageEnd:
		if !exists {
			chain = &liveChain{key: key, dataType: f.DataType, lastActivity: now, degraded: true}
		}
		chain.payload = append(chain.payload, f.Payload...)
		delete(r.chains, key)
		return &LiveFrameEvent{
			Channel:  chain.key.Channel,
			Payload:  chain.payload,
			DataType: chain.dataType,
			Degraded: chain.degraded,
		}

	default:
		return nil
	}
}

// evictIfOverCapacity drops the oldest chain by last-activity when the
// session holds more than MaxLiveChains, skipping the just-created key.
func (r *LiveReassembler) evictIfOverCapacity(skip LiveKey) {
	if len(r.chains) <= MaxLiveChains {
		return
	}
	var oldestKey LiveKey
	var oldestTime time.Time
	first := true
	for k, c := range r.chains {
		if k == skip {
			continue
		}
		if first || c.lastActivity.Before(oldestTime) {
			oldestKey = k
			oldestTime = c.lastActivity
			first = false
		}
	}
	if !first {
		delete(r.chains, oldestKey)
	}
}

// EvictStale discards chains idle for longer than ChainTimeout. It
// produces no emission, per spec.md property 7.
func (r *LiveReassembler) EvictStale(now time.Time) int {
	evicted := 0
	for k, c := range r.chains {
		if now.Sub(c.lastActivity) > ChainTimeout {
			delete(r.chains, k)
			evicted++
		}
	}
	return evicted
}

// ChainCount reports the number of in-flight chains, for diagnostics.
func (r *LiveReassembler) ChainCount() int {
	return len(r.chains)
}
