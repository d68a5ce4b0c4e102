// Command jt808d is a JT/T 808-2013 / JT/T 1078-2016 dashcam terminal
// server: it accepts device TCP/UDP connections, negotiates live video,
// reassembles stored-video lists and downloads, and republishes frames on
// an internal bus for downstream consumers.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/fleetcam/jt808d/internal/config"
	"github.com/fleetcam/jt808d/internal/core"
	"github.com/fleetcam/jt808d/internal/framebus"
	"github.com/fleetcam/jt808d/internal/metrics"
	"github.com/fleetcam/jt808d/internal/registry"
	"github.com/fleetcam/jt808d/internal/session"
	"github.com/fleetcam/jt808d/internal/store"
	"github.com/fleetcam/jt808d/internal/transport"
	"github.com/fleetcam/jt808d/internal/transport/udpmux"
	"github.com/fleetcam/jt808d/internal/videofs"
)

func main() {
	tcpPort := flag.Int("tcp-port", 0, "override device TCP port (0: use JT808_DEVICE_TCP_PORT/default)")
	udpPort := flag.Int("udp-port", 0, "override device UDP port (0: use JT808_DEVICE_UDP_PORT/default)")
	adminAddr := flag.String("admin-addr", "", "override admin HTTP bind address (empty: use config)")
	mountDir := flag.String("mount", "", "override videofs mount point (empty: use config)")
	flag.Parse()

	cfg := config.Load()
	if *tcpPort != 0 {
		cfg.DeviceTCPPort = *tcpPort
	}
	if *udpPort != 0 {
		cfg.DeviceUDPPort = *udpPort
	}
	if *adminAddr != "" {
		cfg.AdminAddr = *adminAddr
	}
	if *mountDir != "" {
		cfg.VideoFSMount = *mountDir
	}

	reg := registry.New()
	bus := framebus.New()

	st, err := store.Open(cfg.SQLiteStorePath)
	if err != nil {
		log.Fatalf("jt808d: open store: %v", err)
	}
	defer st.Close()

	m, promReg := metrics.New()
	bus.SetHooks(func() { m.BusPublished.Inc() }, func() { m.BusDrops.Inc() })

	engine := core.New(reg, bus, st)

	sessCfg := session.Config{
		VideoServerIP:     parseIPv4(cfg.VideoServerIP),
		VideoTCPPort:      uint16(cfg.VideoTCPPort),
		VideoUDPPort:      uint16(cfg.VideoUDPPort),
		TryVideoListFirst: cfg.TryVideoListFirst,
		ListBufferTimeout: cfg.ListBufferTimeout,
		FrameChainTimeout: cfg.FrameChainTimeout,
		VideoNegoTimeout:  cfg.VideoNegoTimeout,
		QueryCooldown:     cfg.QueryCooldown,
	}
	srv := transport.NewServer(sessCfg, cfg.MessageIdleTimeout, reg, bus)
	srv.Metrics = m
	srv.MaxConns = cfg.MaxDeviceConnections

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	tcpLn, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.DeviceTCPHost, cfg.DeviceTCPPort))
	if err != nil {
		log.Fatalf("jt808d: listen tcp: %v", err)
	}
	g.Go(func() error { return srv.Serve(tcpLn) })

	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: cfg.DeviceUDPPort})
	if err != nil {
		log.Fatalf("jt808d: listen udp: %v", err)
	}
	g.Go(func() error { return srv.ServeUDP(udpConn) })

	for _, port := range cfg.AuxUDPPorts {
		port := port
		auxConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
		if err != nil {
			log.Printf("jt808d: listen aux udp %d: %v", port, err)
			continue
		}
		if cfg.UDPRawVideoFallback {
			sniffer, err := udpmux.NewSniffer(auxConn)
			if err != nil {
				log.Printf("jt808d: udpmux sniffer on %d: %v", port, err)
			} else {
				g.Go(func() error { return sniffer.Run() })
			}
		} else {
			g.Go(func() error { return srv.ServeUDP(auxConn) })
		}
	}

	adminMux := http.NewServeMux()
	adminMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "ok: %d devices\n", len(reg.TerminalIDs()))
	})
	adminMux.Handle("/metrics", metrics.Handler(promReg))
	adminSrv := &http.Server{Addr: cfg.AdminAddr, Handler: adminMux}
	g.Go(func() error {
		log.Printf("jt808d: admin listening on %s", cfg.AdminAddr)
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	if cfg.VideoFSMount != "" {
		unmount, err := videofs.Mount(gctx, cfg.VideoFSMount, engine.AsVideoFSProvider())
		if err != nil {
			log.Printf("jt808d: videofs mount failed: %v", err)
		} else {
			log.Printf("jt808d: videofs mounted at %s", cfg.VideoFSMount)
			defer unmount()
		}
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Printf("jt808d: shutting down")
		srv.Close()
		adminSrv.Close()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("jt808d: %v", err)
	}
}

func parseIPv4(s string) [4]byte {
	var out [4]byte
	ip := net.ParseIP(s)
	if ip == nil {
		return out
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return out
	}
	copy(out[:], ip4)
	return out
}
