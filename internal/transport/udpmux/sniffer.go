package udpmux

import (
	"log"
	"net"

	"golang.org/x/net/ipv4"
)

// Sniffer logs a classification line for every datagram it reads, using
// the destination-address control message (when the OS surfaces it) to
// report which local address/interface the packet arrived on. It never
// forwards payloads anywhere; it exists purely for diagnosing which aux
// UDP ports are receiving raw RTP/Annex-B video instead of framed JT/T
// 808 messages.
type Sniffer struct {
	pc *ipv4.PacketConn
}

// NewSniffer wraps conn for control-message-aware reads.
func NewSniffer(conn *net.UDPConn) (*Sniffer, error) {
	pc := ipv4.NewPacketConn(conn)
	if err := pc.SetControlMessage(ipv4.FlagDst|ipv4.FlagInterface, true); err != nil {
		// Not fatal: some platforms/sockets don't support control
		// messages; classification still works without the dst/ifindex.
		log.Printf("udpmux: control messages unavailable: %v", err)
	}
	return &Sniffer{pc: pc}, nil
}

// Run reads until the underlying connection is closed, logging a
// classification line per datagram. Run it in its own goroutine.
func (s *Sniffer) Run() error {
	buf := make([]byte, 2048)
	for {
		n, cm, src, err := s.pc.ReadFrom(buf)
		if err != nil {
			return err
		}
		kind := Classify(buf[:n])
		if kind == KindUnknown {
			continue
		}
		if cm != nil {
			log.Printf("udpmux: %s datagram (%d bytes) from %s to %s ifindex=%d", kind, n, src, cm.Dst, cm.IfIndex)
		} else {
			log.Printf("udpmux: %s datagram (%d bytes) from %s", kind, n, src)
		}
	}
}

// Close releases the underlying connection.
func (s *Sniffer) Close() error {
	return s.pc.Close()
}
