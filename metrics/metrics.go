// Package metrics exposes auth activity and authorization decisions as
// Prometheus counters.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	auth "github.com/goliatone/go-project-auth"
)

// Recorder is both an auth.ActivitySink and an auth.DecisionObserver
type Recorder struct {
	events    *prometheus.CounterVec
	decisions *prometheus.CounterVec
	purged    prometheus.Counter
	buildInfo *prometheus.GaugeVec
	gatherer  prometheus.Gatherer
}

var (
	_ auth.ActivitySink     = (*Recorder)(nil)
	_ auth.DecisionObserver = (*Recorder)(nil)
)

// New registers the auth collectors on reg. A nil reg uses a fresh registry,
// which keeps tests isolated from the default one.
func New(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	r := &Recorder{
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_events_total",
				Help: "Total number of auth lifecycle events.",
			},
			[]string{"event"},
		),
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authz_decisions_total",
				Help: "Total number of authorization decisions.",
			},
			[]string{"action", "role", "decision"},
		),
		purged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auth_tokens_purged_total",
			Help: "Expired ledger tokens removed by the purge loop.",
		}),
		buildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "auth_build_info",
				Help: "Auth server build information.",
			},
			[]string{"version", "commit"},
		),
		gatherer: reg,
	}

	reg.MustRegister(r.events, r.decisions, r.purged, r.buildInfo)
	return r
}

// Record counts an activity event. It never fails.
func (r *Recorder) Record(_ context.Context, event auth.ActivityEvent) error {
	r.events.WithLabelValues(string(event.EventType)).Inc()
	return nil
}

// ObserveDecision counts an allow or deny
func (r *Recorder) ObserveDecision(action auth.Action, role auth.Role, allowed bool) {
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	r.decisions.WithLabelValues(string(action), role.String(), decision).Inc()
}

// ObservePurge adds n purged tokens
func (r *Recorder) ObservePurge(n int64) {
	if n > 0 {
		r.purged.Add(float64(n))
	}
}

// SetBuildInfo sets auth_build_info{version, commit} to 1
func (r *Recorder) SetBuildInfo(version, commit string) {
	r.buildInfo.WithLabelValues(version, commit).Set(1)
}

// Handler serves the registry in the Prometheus exposition format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}
