// Package udpmux provides best-effort classification of raw UDP payloads
// as RTP or H.264 Annex-B, for the diagnostic fallback path that logs
// unrecognised video-server UDP traffic that never reached the JT/T 808
// framing layer (spec.md §6, §9 Open Questions: "kept as a best-effort
// diagnostic, toggleable via config").
package udpmux

const (
	rtpVersionMask  = 0xC0 // top two bits of the first octet
	rtpVersion2     = 0x80

	annexBStartCode3Len = 3
	annexBStartCode4Len = 4

	nalTypeMin = 1
	nalTypeMax = 23
)

var (
	annexBStartCode3 = [3]byte{0x00, 0x00, 0x01}
	annexBStartCode4 = [4]byte{0x00, 0x00, 0x00, 0x01}
)

// Kind classifies one UDP payload.
type Kind int

const (
	KindUnknown Kind = iota
	KindRTP
	KindAnnexB
)

func (k Kind) String() string {
	switch k {
	case KindRTP:
		return "rtp"
	case KindAnnexB:
		return "annex-b"
	default:
		return "unknown"
	}
}

// Classify applies the RTPv2-header heuristic first, then the Annex-B
// start-code heuristic, and returns KindUnknown if neither matches. This
// is diagnostic sniffing only; it never feeds the framing/session layer.
func Classify(payload []byte) Kind {
	if looksLikeRTP(payload) {
		return KindRTP
	}
	if looksLikeAnnexB(payload) {
		return KindAnnexB
	}
	return KindUnknown
}

// looksLikeRTP checks the RFC 3550 fixed header: version bits == 2, and a
// payload type in the dynamic range typically used for H.264 (96-127).
func looksLikeRTP(b []byte) bool {
	if len(b) < 12 {
		return false
	}
	if b[0]&rtpVersionMask != rtpVersion2 {
		return false
	}
	pt := b[1] & 0x7F
	return pt >= 96 && pt <= 127
}

// looksLikeAnnexB checks for a leading 3- or 4-byte start code followed by
// a plausible NAL unit header (forbidden_zero_bit clear, nal_unit_type in
// range).
func looksLikeAnnexB(b []byte) bool {
	var nalOffset int
	switch {
	case len(b) >= annexBStartCode4Len && [4]byte(b[:4]) == annexBStartCode4:
		nalOffset = 4
	case len(b) >= annexBStartCode3Len && [3]byte(b[:3]) == annexBStartCode3:
		nalOffset = 3
	default:
		return false
	}
	if len(b) <= nalOffset {
		return false
	}
	header := b[nalOffset]
	if header&0x80 != 0 { // forbidden_zero_bit must be 0
		return false
	}
	nalType := header & 0x1F
	return nalType >= nalTypeMin && nalType <= nalTypeMax
}
