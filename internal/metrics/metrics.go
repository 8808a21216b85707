// Package metrics exposes Prometheus counters for allocations, scans and
// disposition transitions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome label values.
const (
	OutcomeAllocated = "allocated"
	OutcomeRecorded  = "recorded"
	OutcomeDuplicate = "duplicate"
	OutcomeUnknown   = "unknown"
	OutcomeConflict  = "conflict"
	OutcomeRejected  = "rejected"
	OutcomeNotFound  = "not_found"
	OutcomeApplied   = "applied"
	OutcomeError     = "error"
)

// TargetInvalid is the target label for requests whose target is neither
// DEPLOY nor RETURN.
const TargetInvalid = "invalid"

// Recorder groups the service counters. A nil *Recorder is valid and
// records nothing.
type Recorder struct {
	Allocations *prometheus.CounterVec
	Scans       *prometheus.CounterVec
	Transitions *prometheus.CounterVec
}

// NewRecorder creates the counters and registers them with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		Allocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "barscan",
			Name:      "allocations_total",
			Help:      "Catalog entry allocations by code category and outcome.",
		}, []string{"category", "outcome"}),
		Scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "barscan",
			Name:      "scans_total",
			Help:      "Scan recordings by code category and outcome.",
		}, []string{"category", "outcome"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "barscan",
			Name:      "transitions_total",
			Help:      "Disposition transitions by target and outcome.",
		}, []string{"target", "outcome"}),
	}
	if reg != nil {
		reg.MustRegister(r.Allocations, r.Scans, r.Transitions)
	}
	return r
}

func (r *Recorder) Allocation(category, outcome string) {
	if r == nil {
		return
	}
	r.Allocations.WithLabelValues(category, outcome).Inc()
}

func (r *Recorder) Scan(category, outcome string) {
	if r == nil {
		return
	}
	r.Scans.WithLabelValues(category, outcome).Inc()
}

func (r *Recorder) Transition(target, outcome string) {
	if r == nil {
		return
	}
	r.Transitions.WithLabelValues(target, outcome).Inc()
}
