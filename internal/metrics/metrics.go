// Package metrics exposes reaction outcomes as Prometheus series.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config holds configuration for the Prometheus sink.
type Config struct {
	Namespace string `json:"namespace,omitempty"`
	Path      string `json:"path,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{Namespace: "reactd", Path: "/metrics"}
}

// Prometheus counts reaction outcomes and gateway requests on its own registry.
type Prometheus struct {
	config   Config
	registry *prometheus.Registry

	Reactions   *prometheus.CounterVec
	RPCRequests *prometheus.CounterVec
}

// NewPrometheus creates a sink with its own registry, including Go runtime
// and process collectors.
func NewPrometheus(cfg Config) *Prometheus {
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultConfig().Namespace
	}
	if cfg.Path == "" {
		cfg.Path = DefaultConfig().Path
	}
	reg := prometheus.NewRegistry()
	p := &Prometheus{
		config:   cfg,
		registry: reg,
		Reactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "reactions_total",
			Help:      "Reaction dispatch attempts by outcome",
		}, []string{"event", "emoji", "reason"}),
		RPCRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "rpc_requests_total",
			Help:      "Gateway RPC requests by method and result",
		}, []string{"method", "status"}),
	}
	reg.MustRegister(p.Reactions, p.RPCRequests)
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return p
}

// Increment records one dispatch outcome.
func (p *Prometheus) Increment(event, emoji, reason string) {
	p.Reactions.WithLabelValues(event, emoji, reason).Inc()
}

// ObserveRPC records one gateway request.
func (p *Prometheus) ObserveRPC(method string, ok bool) {
	status := "ok"
	if !ok {
		status = "error"
	}
	p.RPCRequests.WithLabelValues(method, status).Inc()
}

// GaugeFunc registers a gauge whose value is read from fn at scrape time.
func (p *Prometheus) GaugeFunc(name, help string, fn func() float64) {
	p.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: p.config.Namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// Registry returns the underlying registry.
func (p *Prometheus) Registry() *prometheus.Registry { return p.registry }

// Path returns the configured scrape path.
func (p *Prometheus) Path() string { return p.config.Path }

// Handler returns an HTTP handler that serves the registry.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Noop discards every observation.
type Noop struct{}

func (Noop) Increment(string, string, string) {}
func (Noop) ObserveRPC(string, bool)          {}
