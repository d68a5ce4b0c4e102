package session

import (
	"time"

	"github.com/fleetcam/jt808d/internal/codec"
	"github.com/fleetcam/jt808d/internal/framebus"
	"github.com/fleetcam/jt808d/internal/message"
)

// handleFrameLocked dispatches one decoded frame by message id. Caller
// holds s.mu.
func (s *Session) handleFrameLocked(f *codec.Frame, now time.Time) {
	if s.terminalID == "" {
		id := codec.TerminalIDFromBCD(f.TerminalPhone)
		if id != "" {
			s.terminalID = id
			s.identifiedAt = now
			if s.lifecycle == StateNew {
				s.lifecycle = StateIdentified
			}
			if s.reg != nil {
				// Join calls back into s.TerminalID, which takes s.mu.
				s.mu.Unlock()
				snap := s.reg.Join(s)
				s.mu.Lock()
				if snap.Sent {
					// Another socket for this device already negotiated
					// video; skip straight past REQUESTED so we never
					// double-issue 0x9101 for the same device.
					s.videoState = VideoConfirmed
					s.videoCandidateIdx = snap.Candidate
				}
			}
		}
	}

	switch f.MessageID {
	case message.IDGeneralAck:
		s.handleGeneralAck(f, now)
	case message.IDRegister:
		s.handleRegister(f, now)
	case message.IDAuth:
		s.handleAuth(f, now)
	case message.IDHeartbeat:
		s.sendAck(f.Sequence, message.IDHeartbeatAck, message.IDHeartbeat, message.AckOK)
	case message.IDLogout:
		s.closeLocked()
	case message.IDLocation:
		s.handleLocation(f, now)
	case message.IDStoredVideo1205:
		s.handle1205(f, now)
	case message.IDLiveVideoData9201, message.IDLiveVideoData9206, message.IDLiveVideoData9207:
		s.handleLiveFrame(f, now)
	case message.IDLiveVideoCtl9202:
		s.handle9202(f, now)
	default:
		s.logf("unrecognised message id 0x%04x, ignoring", f.MessageID)
	}

	s.maybeFireInitialQuery(now)
	s.maybeStartNegotiation(now)
}

func (s *Session) handleRegister(f *codec.Frame, now time.Time) {
	if _, err := message.ParseRegister(f.Body); err != nil {
		s.logf("bad 0x0100: %v", err)
		return
	}
	s.lifecycle = StateRegistered
	s.registeredAt = now
	ack := message.EncodeRegisterAck(&message.RegisterAck{Result: 0})
	s.send(message.IDRegisterAck, f.Sequence, ack)
}

func (s *Session) handleAuth(f *codec.Frame, now time.Time) {
	if _, err := message.ParseAuth(f.Body); err != nil {
		s.logf("bad 0x0102: %v", err)
		return
	}
	s.authenticated = true
	s.lifecycle = StateAuthed
	s.sendAck(f.Sequence, message.IDServerGeneralAck, message.IDAuth, message.AckOK)
}

func (s *Session) handleLocation(f *codec.Frame, now time.Time) {
	loc, err := message.ParseLocation(f.Body)
	if err != nil {
		s.logf("bad 0x0200: %v", err)
		return
	}
	s.locationMsgCount++
	s.lastLocation = &framebus.LocationTelemetry{
		LatitudeE6:  loc.LatitudeE6,
		LongitudeE6: loc.LongitudeE6,
		SpeedDeci:   loc.SpeedDeci,
		HeadingDeg:  loc.HeadingDeg,
		TimeBCD:     loc.TimeBCD,
	}
	s.sendAck(f.Sequence, message.IDLocationAck, message.IDLocation, message.AckOK)
}

// handleGeneralAck resolves a pending server->terminal command and
// advances the video negotiation sub-machine.
func (s *Session) handleGeneralAck(f *codec.Frame, now time.Time) {
	ack, err := message.ParseGeneralAck(f.Body)
	if err != nil {
		s.logf("bad 0x0001: %v", err)
		return
	}
	expectedSeq, pending := s.pendingAcks[ack.ReplyID]
	if !pending || expectedSeq != ack.ReplySeq {
		return
	}
	delete(s.pendingAcks, ack.ReplyID)

	switch ack.ReplyID {
	case message.IDLiveVideoReq9101:
		if s.videoState != VideoRequested {
			return
		}
		if ack.Result != message.AckOK {
			s.advanceToNextCandidateOrFail(now)
			return
		}
		s.videoState = VideoConfirmed
		s.videoStateSince = now
		s.sendVideoControl(now)
	case message.IDLiveVideoCtl9202:
		if s.videoState != VideoControlSent {
			return
		}
		if ack.Result != message.AckOK {
			s.videoState = VideoFailed
			s.videoFailReason = "control rejected"
			return
		}
		s.videoState = VideoAwaitingData
		s.videoStateSince = now
	}
}

func (s *Session) handle1205(f *codec.Frame, now time.Time) {
	if s.listAsm.HasActive() {
		s.ingestListBody(f.Body, now)
		return
	}
	if _, ok := message.LooksLikeListCount(f.Body); ok {
		s.ingestListBody(f.Body, now)
		return
	}
	if count, ok := message.LooksLikeCompleteList(f.Body); ok {
		list, err := message.ParseStoredVideoListBody(f.Body)
		if err == nil {
			s.storedVideos = list.Entries
			s.ackListQuery(now)
			_ = count
			return
		}
	}
	// Otherwise this is a stored-video download data chunk.
	s.handleStoredVideoData(f, now)
}

func (s *Session) ingestListBody(body []byte, now time.Time) {
	out := s.listAsm.Ingest(body, now)
	if out.Complete != nil {
		s.storedVideos = out.Complete
		s.ackListQuery(now)
	}
	if out.Flushed != nil && len(s.storedVideos) == 0 {
		s.storedVideos = out.Flushed
	}
}

func (s *Session) ackListQuery(now time.Time) {
	delete(s.pendingAcks, message.IDListQuery9205)
}

func (s *Session) handleStoredVideoData(f *codec.Frame, now time.Time) {
	data, err := message.ParseStoredVideoData(f.Body)
	if err != nil {
		s.logf("bad 0x1205 data chunk: %v", err)
		return
	}
	key := downloadKey{channel: data.Channel, startTime: codec.BCDToTime6(data.TimeBCD[:])}
	chain, ok := s.downloadBuffers[key]
	if !ok {
		chain = &ChunkChain{}
		s.downloadBuffers[key] = chain
	}
	chain.Chunks = append(chain.Chunks, data.Video)
	chain.LastActivity = now

	if s.bus != nil {
		s.bus.Publish(s.terminalID, data.Channel, framebus.DataI, data.Video, &framebus.LocationTelemetry{
			LatitudeE6:  data.LatitudeE6,
			LongitudeE6: data.LongitudeE6,
			TimeBCD:     data.TimeBCD,
		})
	}
}

func (s *Session) handleLiveFrame(f *codec.Frame, now time.Time) {
	lf, err := message.ParseLiveVideoFrame(f.Body)
	if err != nil {
		s.logf("bad live video frame 0x%04x: %v", f.MessageID, err)
		return
	}
	if s.videoState == VideoAwaitingData {
		s.videoState = VideoStreaming
		s.videoStateSince = now
	}
	ev := s.liveFrames.Ingest(lf, now)
	if ev == nil {
		return
	}
	if s.onFrameReassembled != nil {
		s.onFrameReassembled()
	}
	if s.bus == nil {
		return
	}
	s.bus.Publish(s.terminalID, ev.Channel, dataTypeFor(ev.DataType), ev.Payload, s.lastLocation)
}

func dataTypeFor(wireType uint8) framebus.DataType {
	switch wireType {
	case 0:
		return framebus.DataI
	case 1:
		return framebus.DataP
	case 2:
		return framebus.DataB
	case 3:
		return framebus.DataAudio
	default:
		return framebus.DataI
	}
}

func (s *Session) handle9202(f *codec.Frame, now time.Time) {
	if message.Is9202Control(len(f.Body)) {
		// Server only ever sends 0x9202 controls; a terminal sending one
		// back is unexpected but harmless to acknowledge.
		s.sendAck(f.Sequence, message.IDServerGeneralAck, message.IDLiveVideoCtl9202, message.AckOK)
		return
	}
	s.handleLiveFrame(f, now)
}

func (s *Session) closeLocked() {
	s.closed = true
}
