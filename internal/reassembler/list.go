package reassembler

import (
	"encoding/binary"
	"time"

	"github.com/fleetcam/jt808d/internal/message"
)

// ListAssemblyTimeout is how long a fragmented-list assembly may sit
// without growth before it is best-effort flushed.
const ListAssemblyTimeout = 10 * time.Second

// ListAssembly tracks one in-flight fragmented 0x1205 list response.
type ListAssembly struct {
	ExpectedCount uint16
	ExpectedBytes int
	Received      []byte
	LastActivity  time.Time
}

// ListReassembler holds at most one in-flight list assembly per session.
type ListReassembler struct {
	current *ListAssembly
}

// NewListReassembler constructs an empty reassembler.
func NewListReassembler() *ListReassembler {
	return &ListReassembler{}
}

// ListOutcome describes what Ingest did with one 0x1205 body.
type ListOutcome struct {
	// Complete is non-nil when the assembly reached its expected size;
	// the caller should publish these entries and ack 0x9205.
	Complete []message.StoredVideoEntry
	// Flushed is non-nil when a stale or superseded assembly was
	// best-effort parsed and abandoned.
	Flushed []message.StoredVideoEntry
	// Started reports whether this body began a new assembly.
	Started bool
}

// Ingest processes one 0x1205 body known to be part of (or starting) a
// fragmented list response. Detection of "is this 1205 a list fragment at
// all" is the caller's job (see LooksLikeListCount / LooksLikeCompleteList /
// HasActive); Ingest assumes the caller already decided this body belongs
// here.
func (r *ListReassembler) Ingest(body []byte, now time.Time) ListOutcome {
	var out ListOutcome

	if count, ok := message.LooksLikeListCount(body); ok {
		if r.current != nil {
			stale := now.Sub(r.current.LastActivity) > ListAssemblyTimeout
			differs := r.current.ExpectedCount != count
			if stale || differs {
				out.Flushed = r.bestEffortParse()
			} else {
				// Same count restarting cleanly; treat as a fresh start anyway,
				// discarding whatever partial bytes had accumulated.
				out.Flushed = r.bestEffortParse()
			}
		}
		r.current = &ListAssembly{
			ExpectedCount: count,
			ExpectedBytes: 2 + 18*int(count),
			Received:      append([]byte(nil), body[:2]...),
			LastActivity:  now,
		}
		out.Started = true
		if len(r.current.Received) >= r.current.ExpectedBytes {
			out.Complete = r.finish()
		}
		return out
	}

	if r.current == nil {
		// Not a count header and no assembly active: not our concern.
		return out
	}

	if now.Sub(r.current.LastActivity) > ListAssemblyTimeout {
		out.Flushed = r.bestEffortParse()
		r.current = nil
		return out
	}

	chunk := body
	if len(chunk) >= 2 {
		if lead := binary.BigEndian.Uint16(chunk[0:2]); lead == r.current.ExpectedCount {
			chunk = chunk[2:]
		}
	}
	r.current.Received = append(r.current.Received, chunk...)
	r.current.LastActivity = now

	if len(r.current.Received) >= r.current.ExpectedBytes {
		out.Complete = r.finish()
	}
	return out
}

// HasActive reports whether a list assembly is currently in flight.
func (r *ListReassembler) HasActive() bool {
	return r.current != nil
}

// Watch should be called periodically (spec.md: every 2s) to flush any
// assembly that has gone stale without a new Ingest call arriving.
func (r *ListReassembler) Watch(now time.Time) (flushed []message.StoredVideoEntry) {
	if r.current == nil {
		return nil
	}
	if now.Sub(r.current.LastActivity) > ListAssemblyTimeout {
		flushed = r.bestEffortParse()
		r.current = nil
	}
	return flushed
}

func (r *ListReassembler) finish() []message.StoredVideoEntry {
	entries := r.parseCurrent()
	r.current = nil
	return entries
}

func (r *ListReassembler) bestEffortParse() []message.StoredVideoEntry {
	return r.parseCurrent()
}

func (r *ListReassembler) parseCurrent() []message.StoredVideoEntry {
	if r.current == nil {
		return nil
	}
	body := r.current.Received
	if len(body) < 2 {
		return nil
	}
	list, err := message.ParseStoredVideoListBody(body)
	if err != nil {
		return nil
	}
	return list.Entries
}
