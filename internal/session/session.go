// Package session implements the per-connection device state machine
// (C4): lifecycle (NEW -> IDENTIFIED -> REGISTERED/AUTHED), the live-video
// negotiation sub-machine, list-query pacing, and stored-video download
// tracking, per spec.md §4.4.
package session

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/fleetcam/jt808d/internal/codec"
	"github.com/fleetcam/jt808d/internal/framebus"
	"github.com/fleetcam/jt808d/internal/message"
	"github.com/fleetcam/jt808d/internal/reassembler"
	"github.com/fleetcam/jt808d/internal/registry"
)

// Lifecycle is the top-level connection state.
type Lifecycle int

const (
	StateNew Lifecycle = iota
	StateIdentified
	StateRegistered
	StateAuthed
)

func (l Lifecycle) String() string {
	switch l {
	case StateNew:
		return "NEW"
	case StateIdentified:
		return "IDENTIFIED"
	case StateRegistered:
		return "REGISTERED"
	case StateAuthed:
		return "AUTHED"
	default:
		return "UNKNOWN"
	}
}

// VideoState is the live-video negotiation sub-machine state.
type VideoState int

const (
	VideoIdle VideoState = iota
	VideoRequested
	VideoConfirmed
	VideoControlSent
	VideoAwaitingData
	VideoStreaming
	VideoFailed
)

func (v VideoState) String() string {
	switch v {
	case VideoIdle:
		return "IDLE"
	case VideoRequested:
		return "REQUESTED"
	case VideoConfirmed:
		return "CONFIRMED"
	case VideoControlSent:
		return "CONTROL_SENT"
	case VideoAwaitingData:
		return "AWAITING_DATA"
	case VideoStreaming:
		return "STREAMING"
	case VideoFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// CandidateConfig is one entry in the negotiation candidate list, spec.md §4.4.
type CandidateConfig struct {
	Channel    uint8
	DataType   uint8
	StreamType uint8
}

// Candidates is the fixed, ordered list of configurations to try.
var Candidates = []CandidateConfig{
	{Channel: 1, DataType: 1, StreamType: 0},
	{Channel: 0, DataType: 1, StreamType: 0},
	{Channel: 1, DataType: 0, StreamType: 0},
	{Channel: 0, DataType: 0, StreamType: 0},
	{Channel: 1, DataType: 1, StreamType: 1},
}

const inboxCap = 64 * 1024

// Sender writes a fully-framed message to the device. Implementations
// must serialise their own writes; Session never calls Send concurrently
// with itself, but a transport may still reuse net.Conn.Write directly.
type Sender interface {
	Send(framed []byte) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func([]byte) error

func (f SenderFunc) Send(b []byte) error { return f(b) }

// Config is the subset of server configuration a session needs.
type Config struct {
	VideoServerIP     [4]byte
	VideoTCPPort      uint16
	VideoUDPPort      uint16
	TryVideoListFirst bool
	ListBufferTimeout time.Duration
	FrameChainTimeout time.Duration
	VideoNegoTimeout  time.Duration
	QueryCooldown     time.Duration
}

// ChunkChain accumulates stored-video download chunks for one
// (channel, start_time) key.
type ChunkChain struct {
	Chunks       [][]byte
	LastActivity time.Time
}

// Session is one device connection's complete state, per spec.md §3
// "Device Session".
type Session struct {
	mu sync.Mutex

	cfg    Config
	sender Sender
	reg    *registry.Registry
	bus    *framebus.Bus

	peer net.Addr

	inbox []byte

	lifecycle     Lifecycle
	terminalID    string
	authenticated bool

	outboundSeq uint16

	identifiedAt time.Time
	registeredAt time.Time
	lastFrameAt  time.Time

	locationMsgCount  int
	lastLocation      *framebus.LocationTelemetry
	initialQueryFired bool
	lastQueryTs       time.Time

	videoState        VideoState
	videoCandidateIdx int
	videoStateSince   time.Time
	videoAttempts     []int
	videoFailReason   string

	pendingAcks map[uint16]uint16 // reply_id -> outbound seq awaiting ack

	liveFrames *reassembler.LiveReassembler
	listAsm    *reassembler.ListReassembler

	storedVideos []message.StoredVideoEntry

	downloadBuffers map[downloadKey]*ChunkChain

	closed bool
	onLog  func(string)

	onFrameReassembled func()
	onChainEvicted     func()
	onListFlushed      func()

	now func() time.Time // injectable clock for tests
}

type downloadKey struct {
	channel   uint8
	startTime string
}

// New constructs a Session for a freshly accepted connection.
func New(peer net.Addr, sender Sender, reg *registry.Registry, bus *framebus.Bus, cfg Config) *Session {
	return &Session{
		cfg:             cfg,
		sender:          sender,
		reg:             reg,
		bus:             bus,
		peer:            peer,
		lifecycle:       StateNew,
		pendingAcks:     make(map[uint16]uint16),
		liveFrames:      reassembler.NewLiveReassembler(),
		listAsm:         reassembler.NewListReassembler(),
		downloadBuffers: make(map[downloadKey]*ChunkChain),
		now:             time.Now,
	}
}

// TerminalID implements registry.Handle.
func (s *Session) TerminalID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminalID
}

// PeerIP implements registry.Handle.
func (s *Session) PeerIP() net.IP {
	if tcp, ok := s.peer.(*net.TCPAddr); ok {
		return tcp.IP
	}
	if udp, ok := s.peer.(*net.UDPAddr); ok {
		return udp.IP
	}
	host, _, err := net.SplitHostPort(s.peer.String())
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}

// Lifecycle returns the current top-level state, for diagnostics.
func (s *Session) Lifecycle() Lifecycle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lifecycle
}

// VideoState returns the current negotiation sub-state.
func (s *Session) VideoState() VideoState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.videoState
}

// Authenticated reports whether the session has completed an auth exchange.
func (s *Session) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

// StoredVideos returns a snapshot of the device's published stored-video list.
func (s *Session) StoredVideos() []message.StoredVideoEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]message.StoredVideoEntry, len(s.storedVideos))
	copy(out, s.storedVideos)
	return out
}

// Feed appends newly-read bytes to the session's inbox and extracts every
// complete frame currently available, driving the state machine for each.
// The inbox is bounded to 64 KiB; if it grows past that without yielding a
// frame, the oldest half is discarded to bound memory (a diagnostic
// resource-exhaustion guard, not a protocol requirement).
func (s *Session) Feed(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	now := s.now()
	s.inbox = append(s.inbox, data...)

	for {
		res := codec.Extract(s.inbox)
		switch {
		case res.Frame != nil:
			if res.Warning != "" {
				s.logf("frame warning: %s", res.Warning)
			}
			s.inbox = s.inbox[res.Consumed:]
			s.lastFrameAt = now
			s.handleFrameLocked(res.Frame, now)
		case res.Resync > 0:
			s.inbox = s.inbox[res.Resync:]
		case res.Consumed > 0:
			// Structural error: discard to the trailing flag and continue.
			s.inbox = s.inbox[res.Consumed:]
		case res.NeedMore:
			if len(s.inbox) > inboxCap {
				s.logf("inbox exceeded %s without a frame; discarding oldest half", humanize.Bytes(uint64(len(s.inbox))))
				s.inbox = s.inbox[len(s.inbox)/2:]
				continue
			}
			return
		default:
			return
		}
	}
}

// logf routes a diagnostic line to the installed logger, if any. The
// transport layer installs one that forwards to log.Printf; unit tests
// leave it nil so they never depend on log package side effects.
func (s *Session) logf(format string, args ...interface{}) {
	if s.onLog == nil {
		return
	}
	s.onLog(fmt.Sprintf("session[%s]: ", s.peer) + fmt.Sprintf(format, args...))
}

// SetLogger installs a callback for diagnostic log lines.
func (s *Session) SetLogger(f func(string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onLog = f
}

// SetMetricsHooks installs optional counters for reassembly outcomes. Any
// argument may be nil.
func (s *Session) SetMetricsHooks(onFrameReassembled, onChainEvicted, onListFlushed func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFrameReassembled = onFrameReassembled
	s.onChainEvicted = onChainEvicted
	s.onListFlushed = onListFlushed
}
