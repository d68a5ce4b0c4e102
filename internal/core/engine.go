// Package core assembles the codec, reassembler, registry and frame bus
// into the engine's external interface (spec.md §6): device inventory,
// stored-video queries and downloads, and live-frame subscription.
package core

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fleetcam/jt808d/internal/framebus"
	"github.com/fleetcam/jt808d/internal/message"
	"github.com/fleetcam/jt808d/internal/registry"
	"github.com/fleetcam/jt808d/internal/session"
	"github.com/fleetcam/jt808d/internal/store"
)

// Engine is the process-wide façade over the registry and frame bus.
type Engine struct {
	Registry *registry.Registry
	Bus      *framebus.Bus
	Store    *store.Store

	mu      sync.Mutex
	handles map[string]downloadHandle
}

type downloadHandle struct {
	terminalID string
	fileName   string
}

// New constructs an Engine over a shared registry, frame bus and optional
// archival store.
func New(reg *registry.Registry, bus *framebus.Bus, st *store.Store) *Engine {
	return &Engine{Registry: reg, Bus: bus, Store: st, handles: make(map[string]downloadHandle)}
}

// DeviceInfo summarises one registered terminal for ListDevices.
type DeviceInfo struct {
	TerminalID    string
	SocketCount   int
	Authenticated bool
	Lifecycle     string
	VideoState    string
}

// ListDevices returns a snapshot of every currently registered terminal.
func (e *Engine) ListDevices() []DeviceInfo {
	ids := e.Registry.TerminalIDs()
	out := make([]DeviceInfo, 0, len(ids))
	for _, id := range ids {
		handles := e.Registry.ByTerminal(id)
		info := DeviceInfo{TerminalID: id, SocketCount: len(handles)}
		for _, h := range handles {
			if sess, ok := h.(*session.Session); ok {
				info.Authenticated = info.Authenticated || sess.Authenticated()
				info.Lifecycle = sess.Lifecycle().String()
				info.VideoState = sess.VideoState().String()
			}
		}
		out = append(out, info)
	}
	return out
}

func (e *Engine) firstSession(terminalID string) (*session.Session, error) {
	for _, h := range e.Registry.ByTerminal(terminalID) {
		if sess, ok := h.(*session.Session); ok {
			return sess, nil
		}
	}
	return nil, fmt.Errorf("core: no active session for terminal %q", terminalID)
}

// QueryStoredVideos forces a fresh 0x9205 stored-video list query to the
// device, subject to the session's own cooldown.
func (e *Engine) QueryStoredVideos(terminalID string) error {
	sess, err := e.firstSession(terminalID)
	if err != nil {
		return err
	}
	return sess.QueryStoredVideos()
}

// ListStoredVideos returns the most recently reassembled stored-video list
// for a terminal.
func (e *Engine) ListStoredVideos(terminalID string) ([]message.StoredVideoEntry, error) {
	sess, err := e.firstSession(terminalID)
	if err != nil {
		return nil, err
	}
	entries := sess.StoredVideos()
	if e.Store != nil {
		now := time.Now()
		for _, entry := range entries {
			_ = e.Store.RecordStoredVideoEntry(terminalID, entry.Channel,
				hex6(entry.StartTime), hex6(entry.EndTime), entry.AlarmMask, entry.VideoType, now)
		}
	}
	return entries, nil
}

// RequestDownload issues a 0x9102 download request for entry and returns an
// opaque handle the caller can later resolve through ReadDownload.
func (e *Engine) RequestDownload(terminalID string, entry message.StoredVideoEntry) (string, error) {
	sess, err := e.firstSession(terminalID)
	if err != nil {
		return "", err
	}
	sess.RequestDownload(entry)

	handle := uuid.NewString()
	e.mu.Lock()
	e.handles[handle] = downloadHandle{terminalID: terminalID, fileName: downloadHandleName(entry)}
	e.mu.Unlock()
	return handle, nil
}

// ReadDownload returns the bytes received so far for a handle returned by
// RequestDownload. ok is false if the handle is unknown or its session or
// download buffer is no longer tracked; a download with no bytes yet
// yields an empty slice and true.
func (e *Engine) ReadDownload(handle string) (data []byte, ok bool) {
	e.mu.Lock()
	h, found := e.handles[handle]
	e.mu.Unlock()
	if !found {
		return nil, false
	}
	sess, err := e.firstSession(h.terminalID)
	if err != nil {
		return nil, false
	}
	return sess.DownloadBytes(h.fileName)
}

// SubscribeFrames registers a live-frame subscriber for deviceID/channel
// (channel<0 means every channel).
func (e *Engine) SubscribeFrames(deviceID string, channel int, bufSize int) (framebus.SubscriberID, <-chan framebus.Event) {
	return e.Bus.Subscribe(framebus.Filter{DeviceID: deviceID, Channel: channel}, bufSize)
}

// UnsubscribeFrames releases a subscriber registered via SubscribeFrames.
func (e *Engine) UnsubscribeFrames(id framebus.SubscriberID) {
	e.Bus.Unsubscribe(id)
}

func hex6(b [6]byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, 0, 12)
	for _, c := range b {
		out = append(out, hexdigits[c>>4], hexdigits[c&0x0F])
	}
	return string(out)
}

// downloadHandleName must match the naming scheme in
// session.Session.Downloads/DownloadBytes exactly.
func downloadHandleName(entry message.StoredVideoEntry) string {
	return fmt.Sprintf("ch%d-%s.h264", entry.Channel, hex6(entry.StartTime))
}
