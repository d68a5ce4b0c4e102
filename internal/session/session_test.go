package session

import (
	"testing"
	"time"

	"github.com/fleetcam/jt808d/internal/codec"
	"github.com/fleetcam/jt808d/internal/framebus"
	"github.com/fleetcam/jt808d/internal/message"
	"github.com/fleetcam/jt808d/internal/registry"
)

type fakeAddr string

func (a fakeAddr) Network() string { return "tcp" }
func (a fakeAddr) String() string  { return string(a) }

type capture struct {
	frames [][]byte
}

func (c *capture) Send(b []byte) error {
	cp := append([]byte(nil), b...)
	c.frames = append(c.frames, cp)
	return nil
}

func (c *capture) last() *codec.Frame {
	if len(c.frames) == 0 {
		return nil
	}
	res := codec.Extract(c.frames[len(c.frames)-1])
	return res.Frame
}

func newTestSession(t *testing.T, clock *time.Time) (*Session, *capture) {
	t.Helper()
	cap := &capture{}
	cfg := Config{
		VideoServerIP:     [4]byte{10, 0, 0, 1},
		VideoTCPPort:      7611,
		VideoUDPPort:      7612,
		ListBufferTimeout: 10 * time.Second,
		FrameChainTimeout: 5 * time.Second,
		VideoNegoTimeout:  5 * time.Second,
		QueryCooldown:     30 * time.Second,
	}
	s := New(fakeAddr("10.1.1.1:5000"), cap, registry.New(), framebus.New(), cfg)
	s.SetClock(func() time.Time { return *clock })
	return s, cap
}

func feedRegister(t *testing.T, s *Session, phone [6]byte, seq uint16) {
	t.Helper()
	body := make([]byte, 2+2+5+20+16+1)
	body[45] = 0
	framed, err := codec.Build(message.IDRegister, phone, seq, body, nil)
	if err != nil {
		t.Fatal(err)
	}
	s.Feed(framed)
}

func feedLocation(t *testing.T, s *Session, phone [6]byte, seq uint16) {
	t.Helper()
	body := make([]byte, 28)
	framed, err := codec.Build(message.IDLocation, phone, seq, body, nil)
	if err != nil {
		t.Fatal(err)
	}
	s.Feed(framed)
}

func TestLifecycleIdentifiedOnFirstFrame(t *testing.T) {
	now := time.Unix(1000, 0)
	s, _ := newTestSession(t, &now)
	phone := codec.TerminalIDToBCD("013800138000")

	feedLocation(t, s, phone, 1)

	if s.Lifecycle() != StateIdentified {
		t.Fatalf("expected IDENTIFIED, got %s", s.Lifecycle())
	}
	if s.TerminalID() != "013800138000" {
		t.Fatalf("got terminal id %q", s.TerminalID())
	}
}

func TestRegisterSendsAck(t *testing.T) {
	now := time.Unix(1000, 0)
	s, cap := newTestSession(t, &now)
	phone := codec.TerminalIDToBCD("013800138000")

	feedRegister(t, s, phone, 7)

	if s.Lifecycle() != StateRegistered {
		t.Fatalf("expected REGISTERED, got %s", s.Lifecycle())
	}
	f := cap.last()
	if f == nil || f.MessageID != message.IDRegisterAck {
		t.Fatalf("expected 0x8100 ack, got %+v", f)
	}
}

func TestVideoNegotiationRetriesNextCandidateOnTimeout(t *testing.T) {
	now := time.Unix(2000, 0)
	s, cap := newTestSession(t, &now)
	phone := codec.TerminalIDToBCD("013800138001")

	feedLocation(t, s, phone, 1)
	feedLocation(t, s, phone, 2)

	if s.VideoState() != VideoRequested {
		t.Fatalf("expected REQUESTED after two location reports, got %s", s.VideoState())
	}
	f := cap.last()
	if f == nil || f.MessageID != message.IDLiveVideoReq9101 {
		t.Fatalf("expected 0x9101, got %+v", f)
	}
	firstCandidate := s.videoCandidateIdx

	now = now.Add(6 * time.Second)
	s.Tick(now)

	if s.VideoState() != VideoRequested {
		t.Fatalf("expected still REQUESTED on next candidate, got %s", s.VideoState())
	}
	if s.videoCandidateIdx == firstCandidate {
		t.Fatalf("expected candidate to advance past %d", firstCandidate)
	}
	f2 := cap.last()
	if f2 == nil || f2.MessageID != message.IDLiveVideoReq9101 {
		t.Fatalf("expected a fresh 0x9101 retry, got %+v", f2)
	}
}

func TestVideoNegotiationConfirmThenControlThenStreaming(t *testing.T) {
	now := time.Unix(3000, 0)
	s, cap := newTestSession(t, &now)
	phone := codec.TerminalIDToBCD("013800138002")

	feedLocation(t, s, phone, 1)
	feedLocation(t, s, phone, 2)

	reqFrame := cap.last()
	ackBody := message.EncodeGeneralAck(&message.GeneralAck{
		ReplySeq: reqFrame.Sequence,
		ReplyID:  message.IDLiveVideoReq9101,
		Result:   message.AckOK,
	})
	ackFramed, _ := codec.Build(message.IDGeneralAck, phone, 99, ackBody, nil)
	s.Feed(ackFramed)

	if s.VideoState() != VideoControlSent {
		t.Fatalf("expected CONTROL_SENT after 9101 ack, got %s", s.VideoState())
	}
	ctrlFrame := cap.last()
	if ctrlFrame.MessageID != message.IDLiveVideoCtl9202 {
		t.Fatalf("expected 0x9202 control, got 0x%04x", ctrlFrame.MessageID)
	}

	ctrlAckBody := message.EncodeGeneralAck(&message.GeneralAck{
		ReplySeq: ctrlFrame.Sequence,
		ReplyID:  message.IDLiveVideoCtl9202,
		Result:   message.AckOK,
	})
	ctrlAckFramed, _ := codec.Build(message.IDGeneralAck, phone, 100, ctrlAckBody, nil)
	s.Feed(ctrlAckFramed)

	if s.VideoState() != VideoAwaitingData {
		t.Fatalf("expected AWAITING_DATA, got %s", s.VideoState())
	}

	frameBody := make([]byte, 13)
	frameBody[2] = byte(message.PackageStart)
	f1, _ := codec.Build(message.IDLiveVideoData9201, phone, 101, frameBody, nil)
	s.Feed(f1)

	if s.VideoState() != VideoStreaming {
		t.Fatalf("expected STREAMING after first live frame, got %s", s.VideoState())
	}
}

func TestListQueryCooldownSuppressesImmediateRetry(t *testing.T) {
	now := time.Unix(4000, 0)
	s, cap := newTestSession(t, &now)
	phone := codec.TerminalIDToBCD("013800138003")

	feedLocation(t, s, phone, 1)
	feedLocation(t, s, phone, 2)

	found := false
	for _, raw := range cap.frames {
		if f := codec.Extract(raw).Frame; f != nil && f.MessageID == message.IDListQuery9205 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an automatic 0x9205 after two location reports")
	}

	before := len(cap.frames)
	if err := s.QueryStoredVideos(); err == nil {
		t.Fatalf("expected cooldown error on immediate retry")
	}
	if len(cap.frames) != before {
		t.Fatalf("expected no new frame during cooldown")
	}

	now = now.Add(31 * time.Second)
	if err := s.QueryStoredVideos(); err != nil {
		t.Fatalf("expected query to succeed after cooldown: %v", err)
	}
	if len(cap.frames) != before+1 {
		t.Fatalf("expected exactly one new frame after cooldown elapsed")
	}
}

func TestStoredVideoDataChunksBuffered(t *testing.T) {
	now := time.Unix(5000, 0)
	s, _ := newTestSession(t, &now)
	phone := codec.TerminalIDToBCD("013800138004")
	feedLocation(t, s, phone, 1)

	entry := message.StoredVideoEntry{Channel: 1, StartTime: [6]byte{0x23, 0x01, 0x01, 0x10, 0x00, 0x00}}
	s.RequestDownload(entry)

	body := make([]byte, 18+4)
	body[0] = 1
	copy(body[12:18], entry.StartTime[:])
	framed, _ := codec.Build(message.IDStoredVideo1205, phone, 2, body, nil)
	s.Feed(framed)

	key := downloadKey{channel: 1, startTime: codec.BCDToTime6(entry.StartTime[:])}
	chain, ok := s.downloadBuffers[key]
	if !ok {
		t.Fatalf("expected download buffer for key %+v", key)
	}
	if len(chain.Chunks) != 1 {
		t.Fatalf("expected one buffered chunk, got %d", len(chain.Chunks))
	}
}
