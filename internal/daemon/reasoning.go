package daemon

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/forgechat/forgechat/pkg/reasoning"
)

// meteredReasoner wraps a reasoning client with the configured per-call
// timeout and call accounting. The engine bounds the whole turn; the
// wrapper bounds each provider round-trip so one slow call cannot eat
// the entire budget.
type meteredReasoner struct {
	inner   reasoning.Client
	timeout time.Duration
	calls   *prometheus.CounterVec
}

func newMeteredReasoner(inner reasoning.Client, timeout time.Duration, calls *prometheus.CounterVec) *meteredReasoner {
	return &meteredReasoner{
		inner:   inner,
		timeout: timeout,
		calls:   calls,
	}
}

// Reason forwards to the wrapped client, counting the outcome under the
// provider and status labels.
func (m *meteredReasoner) Reason(ctx context.Context, bundle reasoning.Bundle) (*reasoning.Outcome, error) {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	outcome, err := m.inner.Reason(ctx, bundle)
	if err != nil {
		m.calls.WithLabelValues(m.inner.Provider(), string(reasoning.Kind(err))).Inc()
		return nil, err
	}

	m.calls.WithLabelValues(m.inner.Provider(), "success").Inc()
	return outcome, nil
}

// Provider returns the wrapped client's provider name.
func (m *meteredReasoner) Provider() string {
	return m.inner.Provider()
}
