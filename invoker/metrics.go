package invoker

import (
	"errors"

	"github.com/Quaakee/paragon-escrow-sub000/covenant"
	"github.com/Quaakee/paragon-escrow-sub000/escrowwallet"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeSuccess   = "success"
	outcomeAssertion = "assertion"
	outcomeStale     = "stale"
	outcomeError     = "error"
)

// Metrics counts invocations by transition and outcome.
type Metrics struct {
	invocations *prometheus.CounterVec
}

// NewMetrics creates the engine metrics and registers them with reg when
// it is non-nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		invocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "escrow",
				Subsystem: "invoker",
				Name:      "invocations_total",
				Help: "Transition invocations by transition " +
					"and outcome.",
			},
			[]string{"transition", "outcome"},
		),
	}

	if reg != nil {
		if err := reg.Register(m.invocations); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// outcome classifies the result of an invocation.
func outcome(err error) string {
	switch {
	case err == nil:
		return outcomeSuccess
	case errors.Is(err, covenant.ErrAssertion):
		return outcomeAssertion
	case errors.Is(err, escrowwallet.ErrStaleReference):
		return outcomeStale
	default:
		return outcomeError
	}
}

func (m *Metrics) observe(id covenant.TransitionID, err error) {
	m.invocations.WithLabelValues(id.String(), outcome(err)).Inc()
}
