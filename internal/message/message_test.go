package message

import (
	"bytes"
	"testing"
)

func TestGeneralAckRoundTrip(t *testing.T) {
	a := &GeneralAck{ReplySeq: 7, ReplyID: 0x9205, Result: AckOK}
	body := EncodeGeneralAck(a)
	got, err := ParseGeneralAck(body)
	if err != nil {
		t.Fatal(err)
	}
	if *got != *a {
		t.Fatalf("got %+v want %+v", got, a)
	}
}

func TestParseRegister(t *testing.T) {
	body := make([]byte, 0, 64)
	body = append(body, 0x00, 0x1F) // province 31
	body = append(body, 0x01, 0x00) // city 0100
	body = append(body, []byte("ACME1")...)
	model := make([]byte, 20)
	copy(model, []byte("DC100"))
	body = append(body, model...)
	body = append(body, []byte("ABC0000000000001")[:16]...)
	body = append(body, 1) // plate color
	body = append(body, []byte("AB-12345")...)

	r, err := ParseRegister(body)
	if err != nil {
		t.Fatal(err)
	}
	if r.Province != 31 || r.City != 0x0100 {
		t.Errorf("province/city: %+v", r)
	}
	if string(r.Manufacturer[:]) != "ACME1" {
		t.Errorf("manufacturer: %q", r.Manufacturer)
	}
	if r.PlateColor != 1 {
		t.Errorf("plate color: %d", r.PlateColor)
	}
	if r.Plate != "AB-12345" {
		t.Errorf("plate: %q", r.Plate)
	}
}

func TestParseLocation(t *testing.T) {
	body := make([]byte, 28)
	body[3] = 0x01 // alarm mask low byte
	got, err := ParseLocation(body)
	if err != nil {
		t.Fatal(err)
	}
	if got.AlarmMask != 1 {
		t.Errorf("alarm mask: %d", got.AlarmMask)
	}
}

func TestStoredVideoEntryRoundTrip(t *testing.T) {
	e := &StoredVideoEntry{
		Channel:   2,
		StartTime: [6]byte{0x22, 0x01, 0x04, 0x10, 0x00, 0x00},
		EndTime:   [6]byte{0x22, 0x01, 0x04, 0x11, 0x00, 0x00},
		AlarmMask: 0,
		VideoType: 0,
	}
	b := EncodeStoredVideoEntry(e)
	if len(b) != StoredVideoEntryLen {
		t.Fatalf("len=%d", len(b))
	}
	got, err := ParseStoredVideoEntry(b)
	if err != nil {
		t.Fatal(err)
	}
	if *got != *e {
		t.Fatalf("got %+v want %+v", got, e)
	}
}

func TestParseStoredVideoListBody(t *testing.T) {
	entries := []StoredVideoEntry{
		{Channel: 1},
		{Channel: 2},
		{Channel: 1},
	}
	body := []byte{0x00, 0x03}
	for _, e := range entries {
		body = append(body, EncodeStoredVideoEntry(&e)...)
	}
	list, err := ParseStoredVideoListBody(body)
	if err != nil {
		t.Fatal(err)
	}
	if len(list.Entries) != 3 {
		t.Fatalf("got %d entries", len(list.Entries))
	}
	for i, e := range entries {
		if list.Entries[i].Channel != e.Channel {
			t.Errorf("entry %d channel: got %d want %d", i, list.Entries[i].Channel, e.Channel)
		}
	}
}

func TestLooksLikeListCount(t *testing.T) {
	body := []byte{0x00, 0x03, 0x00, 0x00, 0x00, 0x00}
	count, ok := LooksLikeListCount(body)
	if !ok || count != 3 {
		t.Fatalf("got count=%d ok=%v", count, ok)
	}
	if _, ok := LooksLikeListCount([]byte{0x00, 0x03, 0x01, 0x00, 0x00, 0x00}); ok {
		t.Fatalf("non-zero trailer should not look like a list count")
	}
}

func TestLooksLikeCompleteList(t *testing.T) {
	body := []byte{0x00, 0x02}
	body = append(body, make([]byte, 36)...)
	count, ok := LooksLikeCompleteList(body)
	if !ok || count != 2 {
		t.Fatalf("got count=%d ok=%v", count, ok)
	}
}

func TestIs9202ControlByLength(t *testing.T) {
	if !Is9202Control(4) {
		t.Error("length 4 should be control")
	}
	if Is9202Control(13) {
		t.Error("length 13 should not be control")
	}
}

func TestLiveVideoFrameRoundTrip(t *testing.T) {
	body := make([]byte, 0, 20)
	body = append(body, 1, 1, byte(PackageStart))
	body = append(body, []byte{0x22, 0x01, 0x04, 0x15, 0x30, 0x00}...)
	body = append(body, 0x00, 0x01, 0x00, 0x02)
	body = append(body, []byte("hello")...)

	f, err := ParseLiveVideoFrame(body)
	if err != nil {
		t.Fatal(err)
	}
	if f.Channel != 1 || f.DataType != 1 || f.PackageType != PackageStart {
		t.Errorf("got %+v", f)
	}
	if !bytes.Equal(f.Payload, []byte("hello")) {
		t.Errorf("payload: %q", f.Payload)
	}
}
