package session

import (
	"fmt"
	"time"

	"github.com/fleetcam/jt808d/internal/codec"
	"github.com/fleetcam/jt808d/internal/message"
	"github.com/fleetcam/jt808d/internal/registry"
)

// send frames and transmits body under msgID, consuming the next outbound
// sequence number. Caller holds s.mu.
func (s *Session) send(msgID uint16, replyToSeq uint16, body []byte) {
	s.outboundSeq++
	phone := codec.TerminalIDToBCD(s.terminalID)
	framed, err := codec.Build(msgID, phone, s.outboundSeq, body, nil)
	if err != nil {
		s.logf("build 0x%04x failed: %v", msgID, err)
		return
	}
	if s.sender == nil {
		return
	}
	if err := s.sender.Send(framed); err != nil {
		s.logf("send 0x%04x failed: %v", msgID, err)
	}
}

// sendAck sends the GeneralAck-shaped body {replyToSeq, replyToMsgID,
// result} under ackMsgID.
func (s *Session) sendAck(replyToSeq uint16, ackMsgID uint16, replyToMsgID uint16, result message.AckResult) {
	body := message.EncodeGeneralAck(&message.GeneralAck{
		ReplySeq: replyToSeq,
		ReplyID:  replyToMsgID,
		Result:   result,
	})
	s.send(ackMsgID, replyToSeq, body)
}

// effectivelyActive reports whether the device has progressed far enough
// to begin video negotiation, even absent a completed auth exchange
// (spec.md §4.4: two location reports are sufficient).
func (s *Session) effectivelyActive() bool {
	return s.authenticated || s.locationMsgCount >= 2
}

// maybeStartNegotiation begins the video-request sub-machine the first
// time the device becomes active, unless another socket for the same
// device already has a negotiation in flight (copied in via registry.Join).
func (s *Session) maybeStartNegotiation(now time.Time) {
	if s.videoState != VideoIdle {
		return
	}
	if !s.effectivelyActive() {
		return
	}
	if s.cfg.TryVideoListFirst && !s.initialQueryFired {
		return
	}
	s.startCandidate(0, now)
}

func (s *Session) startCandidate(idx int, now time.Time) {
	if idx >= len(Candidates) {
		s.videoState = VideoFailed
		s.videoFailReason = "exhausted candidate configurations"
		s.logf("video negotiation failed for %s: %s", s.terminalID, s.videoFailReason)
		return
	}
	c := Candidates[idx]
	s.videoCandidateIdx = idx
	s.videoAttempts = append(s.videoAttempts, idx)
	s.videoState = VideoRequested
	s.videoStateSince = now
	if s.reg != nil && s.terminalID != "" {
		s.reg.UpdateVideoSnapshot(s.terminalID, registry.VideoRequestSnapshot{Sent: true, Candidate: idx})
	}

	body := message.EncodeLiveVideoReq(&message.LiveVideoReq{
		IP:         s.cfg.VideoServerIP,
		TCPPort:    s.cfg.VideoTCPPort,
		UDPPort:    s.cfg.VideoUDPPort,
		Channel:    c.Channel,
		DataType:   c.DataType,
		StreamType: c.StreamType,
	})
	s.outboundSeq++
	s.pendingAcks[message.IDLiveVideoReq9101] = s.outboundSeq
	s.sendWithSeq(message.IDLiveVideoReq9101, s.outboundSeq, body)
}

// sendWithSeq is send, but using a sequence number already reserved by
// the caller (so pendingAcks can record it before the frame goes out).
func (s *Session) sendWithSeq(msgID uint16, seq uint16, body []byte) {
	phone := codec.TerminalIDToBCD(s.terminalID)
	framed, err := codec.Build(msgID, phone, seq, body, nil)
	if err != nil {
		s.logf("build 0x%04x failed: %v", msgID, err)
		return
	}
	if s.sender == nil {
		return
	}
	if err := s.sender.Send(framed); err != nil {
		s.logf("send 0x%04x failed: %v", msgID, err)
	}
}

func (s *Session) advanceToNextCandidateOrFail(now time.Time) {
	s.startCandidate(s.videoCandidateIdx+1, now)
}

func (s *Session) sendVideoControl(now time.Time) {
	c := Candidates[s.videoCandidateIdx]
	body := message.EncodeLiveVideoControl(&message.LiveVideoControl{
		ControlType: message.ControlRequestStream,
		Channel:     c.Channel,
		DataType:    c.DataType,
		StreamType:  c.StreamType,
	})
	s.outboundSeq++
	s.pendingAcks[message.IDLiveVideoCtl9202] = s.outboundSeq
	s.videoState = VideoControlSent
	s.videoStateSince = now
	s.sendWithSeq(message.IDLiveVideoCtl9202, s.outboundSeq, body)
}

// maybeFireInitialQuery issues the one automatic stored-video list query,
// triggered by whichever of the three spec.md §4.4 conditions fires first:
// 1.5s after identification, 2s after registration, or once two location
// reports have arrived.
func (s *Session) maybeFireInitialQuery(now time.Time) {
	if s.initialQueryFired {
		return
	}
	triggered := false
	if !s.identifiedAt.IsZero() && now.Sub(s.identifiedAt) >= 1500*time.Millisecond {
		triggered = true
	}
	if !triggered && !s.registeredAt.IsZero() && now.Sub(s.registeredAt) >= 2*time.Second {
		triggered = true
	}
	if !triggered && s.locationMsgCount >= 2 {
		triggered = true
	}
	if !triggered {
		return
	}
	s.initialQueryFired = true
	s.sendListQueryLocked(now, false)
}

// sendListQueryLocked sends a 0x9205 for the full available range, subject
// to the 30s cooldown unless force is set (used to supersede a stale
// assembly). Caller holds s.mu.
func (s *Session) sendListQueryLocked(now time.Time, force bool) bool {
	if !force && !s.lastQueryTs.IsZero() && now.Sub(s.lastQueryTs) < s.cfg.QueryCooldown {
		return false
	}
	s.lastQueryTs = now
	body := message.EncodeListQuery(&message.ListQuery{
		Channel:   0xFF,
		VideoType: 0xFF,
		Start:     message.AllFF,
		End:       message.AllFF,
	})
	s.outboundSeq++
	s.pendingAcks[message.IDListQuery9205] = s.outboundSeq
	s.sendWithSeq(message.IDListQuery9205, s.outboundSeq, body)
	return true
}

// QueryStoredVideos is the external-facing trigger (spec.md §6): force a
// fresh 0x9205, subject to cooldown unless the current assembly is stale.
func (s *Session) QueryStoredVideos() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	force := s.listAsm.HasActive() && now.Sub(s.lastQueryTs) > s.cfg.ListBufferTimeout
	if !s.sendListQueryLocked(now, force) {
		return fmt.Errorf("session: query cooldown active, retry after %s", s.cfg.QueryCooldown-now.Sub(s.lastQueryTs))
	}
	return nil
}

// RequestDownload issues a 0x9102 for the given stored-video entry and
// opens its download buffer.
func (s *Session) RequestDownload(entry message.StoredVideoEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	body := message.EncodeStoredVideoReq(&message.StoredVideoReq{
		Channel:   entry.Channel,
		StartTime: entry.StartTime,
		EndTime:   entry.EndTime,
		AlarmMask: entry.AlarmMask,
		VideoType: entry.VideoType,
		Storage:   0,
	})
	s.send(message.IDStoredVideoReq9102, 0, body)
	key := downloadKey{channel: entry.Channel, startTime: codec.BCDToTime6(entry.StartTime[:])}
	s.downloadBuffers[key] = &ChunkChain{LastActivity: s.now()}
}

// Tick runs periodic maintenance: live-frame chain eviction, list-assembly
// watchdog, and negotiation-timeout retries. Call it regularly (spec.md
// suggests every 1-2s) from the owning transport's timer loop.
func (s *Session) Tick(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if n := s.liveFrames.EvictStale(now); n > 0 && s.onChainEvicted != nil {
		for i := 0; i < n; i++ {
			s.onChainEvicted()
		}
	}
	if flushed := s.listAsm.Watch(now); flushed != nil {
		if len(s.storedVideos) == 0 {
			s.storedVideos = flushed
		}
		if s.onListFlushed != nil {
			s.onListFlushed()
		}
	}

	if s.videoState == VideoRequested && now.Sub(s.videoStateSince) > s.cfg.VideoNegoTimeout {
		s.advanceToNextCandidateOrFail(now)
	}

	s.maybeStartNegotiation(now)
	s.maybeFireInitialQuery(now)
}

// Close tears down the session: marks it closed and removes it from the
// registry. Safe to call more than once. All Session timers are owned by
// the caller's ticker, so there is nothing further to cancel here.
func (s *Session) Close() {
	s.mu.Lock()
	already := s.closed
	s.closed = true
	s.mu.Unlock()
	if already {
		return
	}
	if s.reg != nil {
		s.reg.Remove(s)
	}
}

// IdleSince reports how long it has been since the last frame was ingested,
// for the transport layer's idle-timeout enforcement (spec.md: 300s
// default). now is the reference clock to avoid mixing test and wall
// clocks.
func (s *Session) IdleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastFrameAt.IsZero() {
		return 0
	}
	return now.Sub(s.lastFrameAt)
}

// SetClock overrides the session's time source; used only by tests.
func (s *Session) SetClock(f func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = f
}
