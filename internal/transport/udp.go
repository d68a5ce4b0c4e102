package transport

import (
	"log"
	"net"
	"sync"
	"time"

	"github.com/fleetcam/jt808d/internal/session"
)

// udpReadBufSize covers the largest plausible single-datagram JT/T 808
// frame. ReadFromUDP truncates an oversized datagram; its frame then lacks
// a closing flag, and Session.Feed discards it as malformed, without a log
// line, once the peer's next datagram arrives (taking that datagram's
// frame with it, whose opening flag it consumes).
const udpReadBufSize = 2048

type noopCloser struct{}

func (noopCloser) Close() error { return nil }

// ServeUDP reads datagrams from pc and feeds each into a per-peer session,
// keyed by remote address string. Device firmware is not assumed to reuse
// a socket across a long-lived UDP "connection", so these sessions rely
// entirely on the idle-timeout sweep in tickLoop for cleanup.
func (s *Server) ServeUDP(pc *net.UDPConn) error {
	log.Printf("transport: device UDP listening on %s", pc.LocalAddr())

	buf := make([]byte, udpReadBufSize)
	var writeMu sync.Mutex

	for {
		n, addr, err := pc.ReadFromUDP(buf)
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if closing {
				return nil
			}
			s.acceptErrLog.Do(func() { log.Printf("transport: udp read error: %v", err) })
			continue
		}
		payload := append([]byte(nil), buf[:n]...)
		sess := s.udpSessionFor(pc, addr, &writeMu)
		sess.Feed(payload)
	}
}

// udpSessionFor returns the session tracked under this peer address,
// creating one on first contact.
func (s *Server) udpSessionFor(pc *net.UDPConn, addr *net.UDPAddr, writeMu *sync.Mutex) *session.Session {
	key := addr.String()

	s.mu.Lock()
	if s.udpPeers == nil {
		s.udpPeers = make(map[string]*session.Session)
	}
	sess, ok := s.udpPeers[key]
	s.mu.Unlock()
	if ok {
		return sess
	}

	sender := session.SenderFunc(func(b []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		pc.SetWriteDeadline(time.Now().Add(2 * time.Second))
		_, err := pc.WriteToUDP(b, addr)
		return err
	})
	sess = session.New(addr, sender, s.Registry, s.Bus, s.Config)
	sess.SetLogger(func(line string) { log.Print(line) })
	s.installMetricsHooks(sess)

	s.mu.Lock()
	if existing, raced := s.udpPeers[key]; raced {
		s.mu.Unlock()
		return existing
	}
	s.udpPeers[key] = sess
	if s.udpPeerKeyBy == nil {
		s.udpPeerKeyBy = make(map[*session.Session]string)
	}
	s.udpPeerKeyBy[sess] = key
	s.mu.Unlock()
	s.track(sess, noopCloser{})
	return sess
}
