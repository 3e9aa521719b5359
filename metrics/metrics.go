// Package metrics exposes Prometheus counters for the workflow.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openforecast/buq-engine/buq"
)

// Workflow counts transition outcomes. Implements buq.TransitionObserver.
type Workflow struct {
	transitions *prometheus.CounterVec
	denied      *prometheus.CounterVec
}

// NewWorkflow registers the workflow counters on the given registerer
// (pass prometheus.DefaultRegisterer in production).
func NewWorkflow(reg prometheus.Registerer) *Workflow {
	factory := promauto.With(reg)
	return &Workflow{
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "buq_workflow_transitions_total",
			Help: "Workflow transitions applied, by action and resulting status.",
		}, []string{"action", "status"}),
		denied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "buq_workflow_transitions_denied_total",
			Help: "Workflow transitions denied, by action and error key.",
		}, []string{"action", "key"}),
	}
}

func (w *Workflow) TransitionApplied(action buq.Action, to buq.Status) {
	w.transitions.WithLabelValues(string(action), string(to)).Inc()
}

func (w *Workflow) TransitionDenied(action buq.Action, key string) {
	w.denied.WithLabelValues(string(action), key).Inc()
}

// Handler returns the /metrics endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
