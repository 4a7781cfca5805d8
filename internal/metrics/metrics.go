// Package metrics declares the prometheus instruments shared by the
// sampler, the worker pool and the control loops.
package metrics

import (
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sweep modes.
const (
	ModeBurnIn   = "burn_in"
	ModeSample   = "sample"
	ModeClassify = "classify"
)

// Round outcomes.
const (
	OutcomeConverged = "converged"
	OutcomeAccepted  = "accepted"
	OutcomeRejected  = "rejected"
	OutcomeRetried   = "retried"
)

var (
	// GibbsSweeps counts full Gibbs sweeps over one chain.
	GibbsSweeps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mocasa_gibbs_sweeps_total",
		Help: "Total Gibbs sweeps by mode",
	}, []string{"mode"})

	// TrainRounds counts completed training rounds by outcome.
	TrainRounds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mocasa_train_rounds_total",
		Help: "Total training rounds by outcome",
	}, []string{"outcome"})

	// ChainsExcluded counts chain estimates dropped as invalid.
	ChainsExcluded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mocasa_chains_excluded_total",
		Help: "Chain parameter estimates excluded as non-finite or non-positive",
	})

	// PoolTasks counts task queue events.
	PoolTasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mocasa_pool_tasks_total",
		Help: "Task queue events by state",
	}, []string{"state"})

	// ClassifyVariantSeconds tracks time spent per classified variant.
	ClassifyVariantSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mocasa_classify_variant_seconds",
		Help:    "Wall time to classify one variant",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
	})
)

// Server serves /metrics over HTTP.
type Server struct {
	server   *http.Server
	listener net.Listener
}

// Serve exposes /metrics on addr until Close is called.
func Serve(addr string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = server.Serve(listener) }()
	return &Server{server: server, listener: listener}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string { return s.listener.Addr().String() }

// Close stops the server.
func (s *Server) Close() error { return s.server.Close() }
