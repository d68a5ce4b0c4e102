package codec

import (
	"bytes"
	"testing"
)

func TestUnstuffStuffRoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		{0x01, 0x02, 0x03},
		{FlagByte},
		{escByte},
		{FlagByte, escByte, FlagByte},
		bytes.Repeat([]byte{FlagByte, escByte}, 100),
	}
	for _, b := range cases {
		stuffed := Stuff(b)
		for _, c := range stuffed {
			if c == FlagByte {
				t.Fatalf("Stuff(%v) contains interior flag byte: %v", b, stuffed)
			}
		}
		got := UnstuffInto(stuffed)
		if !bytes.Equal(got, b) {
			t.Fatalf("round trip failed: in=%v stuffed=%v out=%v", b, stuffed, got)
		}
	}
}

func TestUnstuffLenientOnStrayEscape(t *testing.T) {
	in := []byte{0x01, escByte, 0x03}
	got := UnstuffInto(in)
	if !bytes.Equal(got, in) {
		t.Fatalf("stray escape should pass through verbatim: got %v", got)
	}
}

func TestBuildExtractRoundTrip(t *testing.T) {
	tid := TerminalIDToBCD("012345678901")
	body := []byte{0x01, 0x02, 0x03, 0x04}
	frame, err := Build(0x0002, tid, 42, body, nil)
	if err != nil {
		t.Fatal(err)
	}

	res := Extract(frame)
	if res.Frame == nil {
		t.Fatalf("expected a frame, got %+v", res)
	}
	if res.Warning != "" {
		t.Fatalf("unexpected warning: %s", res.Warning)
	}
	if res.Frame.MessageID != 0x0002 {
		t.Errorf("message id: got %04x", res.Frame.MessageID)
	}
	if res.Frame.Sequence != 42 {
		t.Errorf("sequence: got %d", res.Frame.Sequence)
	}
	if !bytes.Equal(res.Frame.Body, body) {
		t.Errorf("body: got %v want %v", res.Frame.Body, body)
	}
	if res.Frame.TerminalPhone != tid {
		t.Errorf("terminal phone: got %v want %v", res.Frame.TerminalPhone, tid)
	}
	want := Xor(append(append([]byte{0x00, 0x02, 0x00, 0x04}, tid[:]...), append([]byte{0x00, 0x2A}, body...)...))
	if res.Frame.Checksum != want {
		t.Errorf("checksum: got %02x want %02x", res.Frame.Checksum, want)
	}
	if res.Consumed != len(frame) {
		t.Errorf("consumed: got %d want %d", res.Consumed, len(frame))
	}
}

func TestExtractNeedMore(t *testing.T) {
	res := Extract([]byte{FlagByte, 0x01, 0x02})
	if !res.NeedMore {
		t.Fatalf("expected NeedMore, got %+v", res)
	}
}

func TestExtractResyncSkipsGarbage(t *testing.T) {
	tid := TerminalIDToBCD("012345678901")
	frame, _ := Build(0x0002, tid, 1, nil, nil)
	garbage := []byte{0x11, 0x22, 0x33}
	buf := append(append([]byte{}, garbage...), frame...)

	res := Extract(buf)
	if res.Resync != len(garbage) {
		t.Fatalf("expected Resync(%d), got %+v", len(garbage), res)
	}

	res2 := Extract(buf[res.Resync:])
	if res2.Frame == nil {
		t.Fatalf("expected a frame after resync, got %+v", res2)
	}
}

func TestExtractTailPreserved(t *testing.T) {
	tid := TerminalIDToBCD("012345678901")
	frame, _ := Build(0x0002, tid, 1, nil, nil)
	tail := []byte{0xAB, 0xCD}
	buf := append(append([]byte{}, frame...), tail...)

	res := Extract(buf)
	if res.Frame == nil {
		t.Fatalf("expected frame, got %+v", res)
	}
	remaining := buf[res.Consumed:]
	if !bytes.Equal(remaining, tail) {
		t.Fatalf("tail not preserved: got %v want %v", remaining, tail)
	}
}

func TestExtractBCCMismatchStillDispatched(t *testing.T) {
	tid := TerminalIDToBCD("012345678901")
	frame, _ := Build(0x0002, tid, 1, nil, nil)
	// Corrupt the BCC byte (second-to-last byte before the trailing flag).
	frame[len(frame)-2] ^= 0xFF

	res := Extract(frame)
	if res.Frame == nil {
		t.Fatalf("BCC-mismatched frame should still be returned, got %+v", res)
	}
	if res.Warning == "" {
		t.Fatalf("expected a warning for BCC mismatch")
	}
}

func TestBuildRejectsOverlongBody(t *testing.T) {
	tid := TerminalIDToBCD("012345678901")
	body := make([]byte, MaxBodyLen+1)
	_, err := Build(0x0200, tid, 1, body, nil)
	if err != ErrBodyTooLong {
		t.Fatalf("expected ErrBodyTooLong, got %v", err)
	}
}

func TestTerminalIDRoundTrip(t *testing.T) {
	id := "012345678901"
	bcd := TerminalIDToBCD(id)
	got := TerminalIDFromBCD(bcd)
	if got != id {
		t.Fatalf("terminal id round trip: got %q want %q", got, id)
	}
}

func TestBCDToTime6(t *testing.T) {
	b := []byte{0x22, 0x01, 0x04, 0x15, 0x30, 0x00}
	got := BCDToTime6(b)
	if got != "220104153000" {
		t.Fatalf("got %q", got)
	}
}
