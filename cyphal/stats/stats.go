// Package stats exposes a running transport's per-session counters over
// HTTP, the role `stats/common_statsd.go` plays for an aisnode: a registry
// of named snapshots, readable as JSON for a human/script and as Prometheus
// metrics for a scrape target, served over `fasthttp` rather than `net/http`
// to match the teacher's preference on the data path.
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package stats

import (
	"net/http"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/cyphal-go/cytx/cyphal"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Snapshot is the JSON-friendly rendering of a cyphal.Stats value.
type Snapshot struct {
	Transfers    int64 `json:"transfers"`
	Frames       int64 `json:"frames"`
	PayloadBytes int64 `json:"payload_bytes"`
	Errors       int64 `json:"errors"`
	Drops        int64 `json:"drops"`
}

func fromCyphal(s cyphal.Stats) Snapshot {
	return Snapshot{Transfers: s.Transfers, Frames: s.Frames, PayloadBytes: s.PayloadBytes, Errors: s.Errors, Drops: s.Drops}
}

// Source is anything with named, enumerable statistics - an
// core.InputSession/OutputSession, a transport, a redundant transport. lid is
// the logical id (e.g. generated via shortid in cyphal/registry) used as
// both the JSON key and the Prometheus label value.
type Source interface {
	Stat() cyphal.Stats
}

// Registry collects named Sources and renders them as JSON or Prometheus
// metrics on demand; it does not poll - every render reads Stat() fresh.
type Registry struct {
	mu      sync.Mutex
	sources map[string]Source
}

func NewRegistry() *Registry { return &Registry{sources: make(map[string]Source)} }

func (r *Registry) Add(lid string, s Source) {
	r.mu.Lock()
	r.sources[lid] = s
	r.mu.Unlock()
}

func (r *Registry) Remove(lid string) {
	r.mu.Lock()
	delete(r.sources, lid)
	r.mu.Unlock()
}

func (r *Registry) snapshot() map[string]Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Snapshot, len(r.sources))
	for lid, s := range r.sources {
		out[lid] = fromCyphal(s.Stat())
	}
	return out
}

// Describe/Collect implement prometheus.Collector, rendering every tracked
// source's five counters as gauges (they are eventually-consistent
// snapshots, not strictly monotonic counters, so Gauge is the honest metric
// kind per prometheus's own naming convention).
var (
	descTransfers = prometheus.NewDesc("cyphal_session_transfers", "Completed transfers.", []string{"lid"}, nil)
	descFrames    = prometheus.NewDesc("cyphal_session_frames", "Frames processed.", []string{"lid"}, nil)
	descBytes     = prometheus.NewDesc("cyphal_session_payload_bytes", "Payload bytes processed.", []string{"lid"}, nil)
	descErrors    = prometheus.NewDesc("cyphal_session_errors", "Reassembly/send errors.", []string{"lid"}, nil)
	descDrops     = prometheus.NewDesc("cyphal_session_drops", "Dropped frames/transfers.", []string{"lid"}, nil)
)

func (r *Registry) Describe(ch chan<- *prometheus.Desc) {
	ch <- descTransfers
	ch <- descFrames
	ch <- descBytes
	ch <- descErrors
	ch <- descDrops
}

func (r *Registry) Collect(ch chan<- prometheus.Metric) {
	for lid, snap := range r.snapshot() {
		ch <- prometheus.MustNewConstMetric(descTransfers, prometheus.GaugeValue, float64(snap.Transfers), lid)
		ch <- prometheus.MustNewConstMetric(descFrames, prometheus.GaugeValue, float64(snap.Frames), lid)
		ch <- prometheus.MustNewConstMetric(descBytes, prometheus.GaugeValue, float64(snap.PayloadBytes), lid)
		ch <- prometheus.MustNewConstMetric(descErrors, prometheus.GaugeValue, float64(snap.Errors), lid)
		ch <- prometheus.MustNewConstMetric(descDrops, prometheus.GaugeValue, float64(snap.Drops), lid)
	}
}

// Server is a minimal fasthttp server exposing GET /stats (JSON) and
// GET /metrics (Prometheus text exposition, via the net/http-compatible
// promhttp handler adapted into fasthttp with fasthttpadaptor).
type Server struct {
	reg *Registry
	srv *fasthttp.Server
}

func promHTTPHandler(reg *Registry) http.Handler {
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(reg)
	return promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})
}

func NewServer(reg *Registry) *Server {
	s := &Server{reg: reg}
	promHandler := fasthttpadaptor.NewFastHTTPHandler(promHTTPHandler(reg))
	s.srv = &fasthttp.Server{
		Handler: func(ctx *fasthttp.RequestCtx) {
			switch string(ctx.Path()) {
			case "/stats":
				s.serveStats(ctx)
			case "/metrics":
				promHandler(ctx)
			default:
				ctx.SetStatusCode(fasthttp.StatusNotFound)
			}
		},
	}
	return s
}

func (s *Server) serveStats(ctx *fasthttp.RequestCtx) {
	b, err := json.Marshal(s.reg.snapshot())
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetContentType("application/json")
	ctx.SetBody(b)
}

// ListenAndServe blocks serving on addr until the listener fails or is
// closed from another goroutine via Shutdown.
func (s *Server) ListenAndServe(addr string) error { return s.srv.ListenAndServe(addr) }

func (s *Server) Shutdown() error { return s.srv.Shutdown() }
