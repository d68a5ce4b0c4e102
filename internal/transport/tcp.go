// Package transport runs the device-facing TCP and UDP listeners: one
// goroutine per accepted TCP connection, a shared read loop per UDP
// socket, and the periodic ticker that drives every live Session.
package transport

import (
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"

	"github.com/fleetcam/jt808d/internal/framebus"
	"github.com/fleetcam/jt808d/internal/metrics"
	"github.com/fleetcam/jt808d/internal/registry"
	"github.com/fleetcam/jt808d/internal/session"
)

// readBufSize is the per-read chunk size; Session.Feed handles reassembly
// of partial frames across reads.
const readBufSize = 4096

// tickInterval is how often every live session is ticked for negotiation
// retries, list-assembly watchdogs and chain eviction.
const tickInterval = 1 * time.Second

// Server owns the device TCP listener and the registry/bus it wires
// sessions into.
type Server struct {
	Config   session.Config
	IdleTimeout time.Duration

	Registry *registry.Registry
	Bus      *framebus.Bus
	Metrics  *metrics.Registry

	// MaxConns limits new TCP connections: one accepted while the tracked
	// sessions (TCP and UDP peers together) number MaxConns or more is
	// closed immediately. New UDP peers are not refused. 0 means unbounded.
	MaxConns int

	mu           sync.Mutex
	sessions     map[*session.Session]io.Closer
	udpPeers     map[string]*session.Session
	udpPeerKeyBy map[*session.Session]string
	closing      bool

	acceptErrLog rate.Sometimes
}

// NewServer constructs a Server around a shared registry and frame bus.
func NewServer(cfg session.Config, idleTimeout time.Duration, reg *registry.Registry, bus *framebus.Bus) *Server {
	return &Server{
		Config:      cfg,
		IdleTimeout: idleTimeout,
		Registry:    reg,
		Bus:         bus,
		sessions:    make(map[*session.Session]io.Closer),
		acceptErrLog: rate.Sometimes{Interval: 5 * time.Second},
	}
}

// sessionCount reports the number of currently tracked sessions.
func (s *Server) sessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// installMetricsHooks wires a session's reassembly-outcome counters into
// s.Metrics, if one was configured.
func (s *Server) installMetricsHooks(sess *session.Session) {
	if s.Metrics == nil {
		return
	}
	sess.SetMetricsHooks(
		func() { s.Metrics.FramesReassembled.Inc() },
		func() { s.Metrics.ChainsEvicted.Inc() },
		func() { s.Metrics.ListAssembliesFlushed.Inc() },
	)
}

// track registers a session with whatever needs closing alongside it
// (a TCP conn, or a no-op for UDP peers), for the shared tick loop and
// idle-timeout sweep.
func (s *Server) track(sess *session.Session, closer io.Closer) {
	s.mu.Lock()
	s.sessions[sess] = closer
	s.mu.Unlock()
}

func (s *Server) untrack(sess *session.Session) {
	s.mu.Lock()
	delete(s.sessions, sess)
	if key, ok := s.udpPeerKeyBy[sess]; ok {
		delete(s.udpPeers, key)
		delete(s.udpPeerKeyBy, sess)
	}
	s.mu.Unlock()
}

// Serve accepts connections on ln until it is closed. It blocks; run it in
// its own goroutine.
func (s *Server) Serve(ln net.Listener) error {
	go s.tickLoop()

	log.Printf("transport: device TCP listening on %s", ln.Addr())
	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if closing {
				return nil
			}
			s.acceptErrLog.Do(func() { log.Printf("transport: accept error: %v", err) })
			continue
		}
		if s.MaxConns > 0 && s.sessionCount() >= s.MaxConns {
			log.Printf("transport: rejecting %s, at max connections (%d)", conn.RemoteAddr(), s.MaxConns)
			conn.Close()
			continue
		}
		go s.handleConn(conn)
	}
}

// Close stops accepting and drops every tracked session.
func (s *Server) Close() {
	s.mu.Lock()
	s.closing = true
	sessions := make(map[*session.Session]io.Closer, len(s.sessions))
	for sess, c := range s.sessions {
		sessions[sess] = c
	}
	s.mu.Unlock()

	for sess, c := range sessions {
		sess.Close()
		c.Close()
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	log.Printf("transport: connection from %s", conn.RemoteAddr())

	sender := session.SenderFunc(func(b []byte) error {
		conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		_, err := conn.Write(b)
		return err
	})
	sess := session.New(conn.RemoteAddr(), sender, s.Registry, s.Bus, s.Config)
	sess.SetLogger(func(line string) { log.Print(line) })
	s.installMetricsHooks(sess)

	s.track(sess, conn)
	defer func() {
		s.untrack(sess)
		sess.Close()
	}()

	buf := make([]byte, readBufSize)
	for {
		conn.SetReadDeadline(time.Now().Add(s.IdleTimeout))
		n, err := conn.Read(buf)
		if n > 0 {
			sess.Feed(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

// tickLoop periodically drives every live session's maintenance timers.
func (s *Server) tickLoop() {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for range ticker.C {
		now := time.Now()
		s.mu.Lock()
		if s.closing {
			s.mu.Unlock()
			return
		}
		type tracked struct {
			sess   *session.Session
			closer io.Closer
		}
		sessions := make([]tracked, 0, len(s.sessions))
		for sess, c := range s.sessions {
			sessions = append(sessions, tracked{sess, c})
		}
		s.mu.Unlock()

		if s.Metrics != nil {
			s.Metrics.ActiveSessions.Set(float64(len(sessions)))
			s.Metrics.RegisteredDevices.Set(float64(len(s.Registry.TerminalIDs())))
		}

		for _, t := range sessions {
			t.sess.Tick(now)
			if s.IdleTimeout > 0 && t.sess.IdleSince(now) > s.IdleTimeout {
				log.Printf("transport: closing idle session (terminal=%s, idle %s)",
					t.sess.TerminalID(), humanize.Time(now.Add(-t.sess.IdleSince(now))))
				t.sess.Close()
				t.closer.Close()
				s.untrack(t.sess)
			}
		}
	}
}
