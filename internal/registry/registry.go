// Package registry holds the process-wide indices by terminal id and by
// peer IP, per spec.md §4.5. It stores only identity handles; a Session
// owns its own lifetime and the Registry never extends it.
package registry

import (
	"net"
	"sync"
)

// Handle is a weak reference to a session: enough to look it up, never
// enough to keep it alive. Implementations of Session satisfy this.
type Handle interface {
	TerminalID() string
	PeerIP() net.IP
}

// VideoRequestSnapshot is the small slice of per-device negotiation state
// that is copied across sockets of the same device at join time.
type VideoRequestSnapshot struct {
	Sent      bool
	Candidate int
}

// Registry is the shared, process-wide index. All mutations are
// serialised under a single mutex; no blocking work is permitted while
// holding it. The only Handle methods it calls are TerminalID and PeerIP,
// from Join and Remove, so callers must not hold a lock those methods take.
type Registry struct {
	mu         sync.Mutex
	byTerminal map[string]map[Handle]struct{}
	byPeerIP   map[string]map[Handle]struct{}
	videoSnap  map[string]VideoRequestSnapshot
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{
		byTerminal: make(map[string]map[Handle]struct{}),
		byPeerIP:   make(map[string]map[Handle]struct{}),
		videoSnap:  make(map[string]VideoRequestSnapshot),
	}
}

// Join adds h to both indices under its current TerminalID/PeerIP, and
// returns the last VideoRequestSnapshot recorded for this terminal id via
// UpdateVideoSnapshot, so a freshly accepted video-bearing socket does not
// re-issue negotiation (spec.md §4.5).
func (r *Registry) Join(h Handle) VideoRequestSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	tid := h.TerminalID()
	merged := r.videoSnap[tid]

	r.addLocked(r.byTerminal, tid, h)
	r.addLocked(r.byPeerIP, h.PeerIP().String(), h)

	return merged
}

// UpdateVideoSnapshot records snap as the current negotiation state for
// terminalID, for any other socket of the same device to pick up on its
// next Join. Callers pass a plain value they already hold; Registry never
// calls back into a session to obtain one (spec.md §4.5: no blocking work
// under the registry lock).
func (r *Registry) UpdateVideoSnapshot(terminalID string, snap VideoRequestSnapshot) {
	if !snap.Sent {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.videoSnap[terminalID] = snap
}

// Remove deletes h from both indices. Safe to call more than once. Once
// the last socket for a terminal id leaves, its video snapshot is cleared
// so a later, unrelated connection starts negotiation fresh.
func (r *Registry) Remove(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tid := h.TerminalID()
	r.removeLocked(r.byTerminal, tid, h)
	r.removeLocked(r.byPeerIP, h.PeerIP().String(), h)
	if _, ok := r.byTerminal[tid]; !ok {
		delete(r.videoSnap, tid)
	}
}

// ByTerminal returns a snapshot slice of sessions registered under id.
func (r *Registry) ByTerminal(id string) []Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return snapshot(r.byTerminal[id])
}

// ByPeerIP returns a snapshot slice of sessions registered under ip.
func (r *Registry) ByPeerIP(ip net.IP) []Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return snapshot(r.byPeerIP[ip.String()])
}

// TerminalIDs returns a snapshot of every terminal id currently registered.
func (r *Registry) TerminalIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.byTerminal))
	for id := range r.byTerminal {
		ids = append(ids, id)
	}
	return ids
}

func (r *Registry) addLocked(idx map[string]map[Handle]struct{}, key string, h Handle) {
	set, ok := idx[key]
	if !ok {
		set = make(map[Handle]struct{})
		idx[key] = set
	}
	set[h] = struct{}{}
}

func (r *Registry) removeLocked(idx map[string]map[Handle]struct{}, key string, h Handle) {
	set, ok := idx[key]
	if !ok {
		return
	}
	delete(set, h)
	if len(set) == 0 {
		delete(idx, key)
	}
}

func snapshot(set map[Handle]struct{}) []Handle {
	out := make([]Handle, 0, len(set))
	for h := range set {
		out = append(out, h)
	}
	return out
}
