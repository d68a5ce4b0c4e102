// Package message holds typed records for every recognised JT/T 808 /
// JT/T 1078 message body, and the Parse/Encode functions that convert
// between those records and the raw bodies produced by the codec.
package message

import (
	"encoding/binary"
	"fmt"
)

// Message IDs recognised by this engine.
const (
	IDGeneralAck       = 0x0001
	IDHeartbeat        = 0x0002
	IDLogout           = 0x0003
	IDRegister         = 0x0100
	IDAuth             = 0x0102
	IDLocation         = 0x0200
	IDStoredVideo1205  = 0x1205 // overloaded: list response or data chunk
	IDUploadInit1206   = 0x1206
	IDServerGeneralAck = 0x8001
	IDHeartbeatAck     = 0x8002
	IDLocationAck      = 0x8003
	IDRegisterAck      = 0x8100
	IDLiveVideoReq9101 = 0x9101
	IDStoredVideoReq9102 = 0x9102
	IDLiveVideoData9201  = 0x9201
	IDLiveVideoCtl9202   = 0x9202
	IDListQuery9205      = 0x9205
	IDLiveVideoData9206  = 0x9206
	IDLiveVideoData9207  = 0x9207
)

// AckResult is the terminal->server 0x0001 result code.
type AckResult uint8

const (
	AckOK             AckResult = 0
	AckFail           AckResult = 1
	AckBadMessage     AckResult = 2
	AckUnsupported    AckResult = 3
)

// GeneralAck is 0x0001: terminal's ack of a server command.
type GeneralAck struct {
	ReplySeq uint16
	ReplyID  uint16
	Result   AckResult
}

func ParseGeneralAck(body []byte) (*GeneralAck, error) {
	if len(body) < 5 {
		return nil, fmt.Errorf("message: 0x0001 body too short: %d", len(body))
	}
	return &GeneralAck{
		ReplySeq: binary.BigEndian.Uint16(body[0:2]),
		ReplyID:  binary.BigEndian.Uint16(body[2:4]),
		Result:   AckResult(body[4]),
	}, nil
}

func EncodeGeneralAck(a *GeneralAck) []byte {
	b := make([]byte, 5)
	binary.BigEndian.PutUint16(b[0:2], a.ReplySeq)
	binary.BigEndian.PutUint16(b[2:4], a.ReplyID)
	b[4] = byte(a.Result)
	return b
}

// Register is 0x0100.
type Register struct {
	Province     uint16
	City         uint16
	Manufacturer [5]byte
	Model        [20]byte
	TerminalID   [16]byte
	PlateColor   uint8
	Plate        string
}

func ParseRegister(body []byte) (*Register, error) {
	const fixed = 2 + 2 + 5 + 20 + 16 + 1
	if len(body) < fixed {
		return nil, fmt.Errorf("message: 0x0100 body too short: %d", len(body))
	}
	r := &Register{
		Province: binary.BigEndian.Uint16(body[0:2]),
		City:     binary.BigEndian.Uint16(body[2:4]),
	}
	copy(r.Manufacturer[:], body[4:9])
	copy(r.Model[:], body[9:29])
	copy(r.TerminalID[:], body[29:45])
	r.PlateColor = body[45]
	r.Plate = string(body[46:])
	return r, nil
}

// RegisterAck is 0x8100.
type RegisterAck struct {
	Result   uint16
	AuthCode [16]byte
}

func EncodeRegisterAck(a *RegisterAck) []byte {
	b := make([]byte, 2+16)
	binary.BigEndian.PutUint16(b[0:2], a.Result)
	copy(b[2:], a.AuthCode[:])
	return b
}

// Auth is 0x0102.
type Auth struct {
	AuthCode []byte
}

func ParseAuth(body []byte) (*Auth, error) {
	if len(body) > 16 {
		body = body[:16]
	}
	return &Auth{AuthCode: append([]byte(nil), body...)}, nil
}

// Location is the fixed 28-octet prefix of 0x0200, plus any trailer.
type Location struct {
	AlarmMask uint32
	Status    uint32
	LatitudeE6  int32
	LongitudeE6 int32
	AltitudeM   uint16
	SpeedDeci   uint16 // 0.1 km/h units
	HeadingDeg  uint16
	TimeBCD     [6]byte
	Trailer     []byte
}

func ParseLocation(body []byte) (*Location, error) {
	if len(body) < 28 {
		return nil, fmt.Errorf("message: 0x0200 body too short: %d", len(body))
	}
	l := &Location{
		AlarmMask:   binary.BigEndian.Uint32(body[0:4]),
		Status:      binary.BigEndian.Uint32(body[4:8]),
		LatitudeE6:  int32(binary.BigEndian.Uint32(body[8:12])),
		LongitudeE6: int32(binary.BigEndian.Uint32(body[12:16])),
		AltitudeM:   binary.BigEndian.Uint16(body[16:18]),
		SpeedDeci:   binary.BigEndian.Uint16(body[18:20]),
		HeadingDeg:  binary.BigEndian.Uint16(body[20:22]),
	}
	copy(l.TimeBCD[:], body[22:28])
	if len(body) > 28 {
		l.Trailer = append([]byte(nil), body[28:]...)
	}
	return l, nil
}

// StoredVideoEntry is the 18-octet on-wire record from a 0x1205 list response.
type StoredVideoEntry struct {
	Channel    uint8
	StartTime  [6]byte
	EndTime    [6]byte
	AlarmMask  uint32
	VideoType  uint8
}

const StoredVideoEntryLen = 18

func ParseStoredVideoEntry(b []byte) (*StoredVideoEntry, error) {
	if len(b) < StoredVideoEntryLen {
		return nil, fmt.Errorf("message: stored video entry too short: %d", len(b))
	}
	e := &StoredVideoEntry{Channel: b[0]}
	copy(e.StartTime[:], b[1:7])
	copy(e.EndTime[:], b[7:13])
	e.AlarmMask = binary.BigEndian.Uint32(b[13:17])
	e.VideoType = b[17]
	return e, nil
}

func EncodeStoredVideoEntry(e *StoredVideoEntry) []byte {
	b := make([]byte, StoredVideoEntryLen)
	b[0] = e.Channel
	copy(b[1:7], e.StartTime[:])
	copy(b[7:13], e.EndTime[:])
	binary.BigEndian.PutUint32(b[13:17], e.AlarmMask)
	b[17] = e.VideoType
	return b
}

// StoredVideoList is the fully-reassembled body of a 0x1205 list response.
type StoredVideoList struct {
	Entries []StoredVideoEntry
}

// ParseStoredVideoListBody parses a complete (non-fragmented, or already
// reassembled) list body: count u16 followed by N*18-octet entries.
func ParseStoredVideoListBody(body []byte) (*StoredVideoList, error) {
	if len(body) < 2 {
		return nil, fmt.Errorf("message: stored video list body too short")
	}
	count := binary.BigEndian.Uint16(body[0:2])
	out := &StoredVideoList{Entries: make([]StoredVideoEntry, 0, count)}
	pos := 2
	for i := 0; i < int(count); i++ {
		if pos+StoredVideoEntryLen > len(body) {
			break
		}
		e, err := ParseStoredVideoEntry(body[pos : pos+StoredVideoEntryLen])
		if err != nil {
			return nil, err
		}
		out.Entries = append(out.Entries, *e)
		pos += StoredVideoEntryLen
	}
	return out, nil
}

// StoredVideoData is the terminal->server data-chunk variant of 0x1205.
type StoredVideoData struct {
	Channel    uint8
	DataType   uint8
	StreamType uint8
	Codec      uint8
	LatitudeE6  int32
	LongitudeE6 int32
	TimeBCD     [6]byte
	Video       []byte
}

func ParseStoredVideoData(body []byte) (*StoredVideoData, error) {
	const fixed = 1 + 1 + 1 + 1 + 4 + 4 + 6
	if len(body) < fixed {
		return nil, fmt.Errorf("message: 0x1205 data body too short: %d", len(body))
	}
	d := &StoredVideoData{
		Channel:    body[0],
		DataType:   body[1],
		StreamType: body[2],
		Codec:      body[3],
		LatitudeE6:  int32(binary.BigEndian.Uint32(body[4:8])),
		LongitudeE6: int32(binary.BigEndian.Uint32(body[8:12])),
	}
	copy(d.TimeBCD[:], body[12:18])
	d.Video = append([]byte(nil), body[18:]...)
	return d, nil
}

// LiveVideoReq is server->terminal 0x9101: request the terminal to open a
// live video socket to this server.
type LiveVideoReq struct {
	IP         [4]byte
	TCPPort    uint16
	UDPPort    uint16
	Channel    uint8
	DataType   uint8 // 0 AV, 1 V, 2 A
	StreamType uint8 // 0 main, 1 sub
}

func EncodeLiveVideoReq(r *LiveVideoReq) []byte {
	b := make([]byte, 12)
	b[0] = 4
	copy(b[1:5], r.IP[:])
	binary.BigEndian.PutUint16(b[5:7], r.TCPPort)
	binary.BigEndian.PutUint16(b[7:9], r.UDPPort)
	b[9] = r.Channel
	b[10] = r.DataType
	b[11] = r.StreamType
	return b
}

// StoredVideoReq is server->terminal 0x9102: request a stored-video download.
type StoredVideoReq struct {
	Channel   uint8
	StartTime [6]byte
	EndTime   [6]byte
	AlarmMask uint32
	VideoType uint8
	Storage   uint8
}

func EncodeStoredVideoReq(r *StoredVideoReq) []byte {
	b := make([]byte, 19)
	b[0] = r.Channel
	copy(b[1:7], r.StartTime[:])
	copy(b[7:13], r.EndTime[:])
	binary.BigEndian.PutUint32(b[13:17], r.AlarmMask)
	b[17] = r.VideoType
	b[18] = r.Storage
	return b
}

// PackageType distinguishes start/middle/end fragments of a live stream.
type PackageType uint8

const (
	PackageStart  PackageType = 0
	PackageMiddle PackageType = 1
	PackageEnd    PackageType = 2
)

// LiveVideoFrame is the shared body schema for 0x9201/0x9206/0x9207, and
// the length->=13-octet variant of 0x9202.
type LiveVideoFrame struct {
	Channel      uint8
	DataType     uint8
	PackageType  PackageType
	TimestampBCD [6]byte
	LastInterval uint16
	LastSize     uint16
	Payload      []byte
}

func ParseLiveVideoFrame(body []byte) (*LiveVideoFrame, error) {
	const fixed = 1 + 1 + 1 + 6 + 2 + 2
	if len(body) < fixed {
		return nil, fmt.Errorf("message: live video frame body too short: %d", len(body))
	}
	f := &LiveVideoFrame{
		Channel:     body[0],
		DataType:    body[1],
		PackageType: PackageType(body[2]),
	}
	copy(f.TimestampBCD[:], body[3:9])
	f.LastInterval = binary.BigEndian.Uint16(body[9:11])
	f.LastSize = binary.BigEndian.Uint16(body[11:13])
	f.Payload = append([]byte(nil), body[13:]...)
	return f, nil
}

// LiveVideoControl is the short (4-octet) variant of 0x9202: a control
// command rather than a data frame.
type LiveVideoControl struct {
	ControlType uint8 // 0..6
	Channel     uint8
	DataType    uint8
	StreamType  uint8
}

// ControlType values for 0x9202.
const (
	ControlStartStop = 0 // server's own convention
	ControlPause     = 2
	ControlResume    = 3
	ControlClose     = 4
)

// ControlRequestStream is the control_type used to request streaming for a
// channel/data_type/stream combination once a 0x9101 has been confirmed.
const ControlRequestStream uint8 = 1

func ParseLiveVideoControl(body []byte) (*LiveVideoControl, error) {
	if len(body) < 4 {
		return nil, fmt.Errorf("message: 0x9202 control body too short: %d", len(body))
	}
	return &LiveVideoControl{
		ControlType: body[0],
		Channel:     body[1],
		DataType:    body[2],
		StreamType:  body[3],
	}, nil
}

func EncodeLiveVideoControl(c *LiveVideoControl) []byte {
	return []byte{c.ControlType, c.Channel, c.DataType, c.StreamType}
}

// Is9202Control reports whether a 0x9202 body should be parsed as the
// short control schema (length 4) rather than the live-video-frame schema
// (length >= 13). Bodies strictly between 4 and 13 octets are malformed.
func Is9202Control(bodyLen int) bool {
	return bodyLen == 4
}

// ListQuery is server->terminal 0x9205: request the stored-video list or
// initiate playback of a stored range.
type ListQuery struct {
	Channel   uint8
	VideoType uint8
	Start     [6]byte // all-0xFF means "no lower bound"
	End       [6]byte // all-0xFF means "no upper bound"
}

// AllFF is the six-octet "wildcard" time value used by ListQuery.
var AllFF = [6]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

func EncodeListQuery(q *ListQuery) []byte {
	b := make([]byte, 14)
	b[0] = q.Channel
	b[1] = q.VideoType
	copy(b[2:8], q.Start[:])
	copy(b[8:14], q.End[:])
	return b
}

// LooksLikeListCount reports whether a 0x1205 body could plausibly be the
// start of a fragmented list response: a 6-octet body of
// <count:u16><0x00 0x00 0x00 0x00>, with 0 < count <= 1000.
func LooksLikeListCount(body []byte) (count uint16, ok bool) {
	if len(body) != 6 {
		return 0, false
	}
	if body[2] != 0 || body[3] != 0 || body[4] != 0 || body[5] != 0 {
		return 0, false
	}
	c := binary.BigEndian.Uint16(body[0:2])
	if c == 0 || c > 1000 {
		return 0, false
	}
	return c, true
}

// LooksLikeCompleteList reports whether a non-fragmented 0x1205 body is
// plausibly a complete list response: it starts with a plausible count
// and the body length is close to the expected 2+18*count.
func LooksLikeCompleteList(body []byte) (count uint16, ok bool) {
	if len(body) < 2 {
		return 0, false
	}
	c := binary.BigEndian.Uint16(body[0:2])
	if c > 1000 {
		return 0, false
	}
	expected := 2 + 18*int(c)
	diff := len(body) - expected
	if diff < 0 {
		diff = -diff
	}
	if diff > 10 {
		return 0, false
	}
	return c, true
}
