// Package metrics exposes the engine's Prometheus instrumentation: active
// sessions, registry size, reassembly outcomes, and frame-bus backpressure.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the set of collectors this package registers and updates.
type Registry struct {
	ActiveSessions   prometheus.Gauge
	RegisteredDevices prometheus.Gauge
	FramesReassembled prometheus.Counter
	ChainsEvicted     prometheus.Counter
	ListAssembliesFlushed prometheus.Counter
	BusDrops          prometheus.Counter
	BusPublished      prometheus.Counter
}

// New constructs and registers every collector against a fresh registry.
func New() (*Registry, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	m := &Registry{
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "jt808d", Name: "active_sessions", Help: "Currently tracked device sessions (TCP + UDP peers).",
		}),
		RegisteredDevices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "jt808d", Name: "registered_devices", Help: "Distinct terminal IDs currently registered.",
		}),
		FramesReassembled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jt808d", Name: "live_frames_reassembled_total", Help: "Completed live-video frame chains.",
		}),
		ChainsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jt808d", Name: "live_chains_evicted_total", Help: "Live-video chains dropped for staleness or capacity.",
		}),
		ListAssembliesFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jt808d", Name: "list_assemblies_flushed_total", Help: "Stored-video list assemblies best-effort flushed before completion.",
		}),
		BusDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jt808d", Name: "frame_bus_drops_total", Help: "Frame-bus events dropped due to a full subscriber channel.",
		}),
		BusPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jt808d", Name: "frame_bus_published_total", Help: "Events published onto the frame bus.",
		}),
	}
	reg.MustRegister(
		m.ActiveSessions,
		m.RegisteredDevices,
		m.FramesReassembled,
		m.ChainsEvicted,
		m.ListAssembliesFlushed,
		m.BusDrops,
		m.BusPublished,
	)
	return m, reg
}

// Handler returns the /metrics HTTP handler for promReg.
func Handler(promReg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})
}
