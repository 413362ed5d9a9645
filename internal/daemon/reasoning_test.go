package daemon

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgechat/forgechat/internal/metrics"
	"github.com/forgechat/forgechat/pkg/reasoning"
)

type fakeReasoner struct {
	reasonFn func(ctx context.Context, bundle reasoning.Bundle) (*reasoning.Outcome, error)
}

func (f *fakeReasoner) Reason(ctx context.Context, bundle reasoning.Bundle) (*reasoning.Outcome, error) {
	return f.reasonFn(ctx, bundle)
}

func (f *fakeReasoner) Provider() string {
	return "fake"
}

func reasoningCalls(t *testing.T, m *metrics.Metrics, provider, status string) float64 {
	t.Helper()

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != "reasoning_calls_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			matched := 0
			for _, label := range metric.GetLabel() {
				if label.GetName() == "provider" && label.GetValue() == provider {
					matched++
				}
				if label.GetName() == "status" && label.GetValue() == status {
					matched++
				}
			}
			if matched == 2 {
				return metric.GetCounter().GetValue()
			}
		}
	}

	return 0
}

func TestMeteredReasonerCountsSuccess(t *testing.T) {
	m := metrics.NewMetrics()
	inner := &fakeReasoner{
		reasonFn: func(ctx context.Context, bundle reasoning.Bundle) (*reasoning.Outcome, error) {
			return &reasoning.Outcome{Answer: "done"}, nil
		},
	}

	wrapped := newMeteredReasoner(inner, 0, m.ReasoningCallsTotal)

	outcome, err := wrapped.Reason(context.Background(), reasoning.Bundle{})
	require.NoError(t, err)
	assert.Equal(t, "done", outcome.Answer)
	assert.Equal(t, float64(1), reasoningCalls(t, m, "fake", "success"))
}

func TestMeteredReasonerCountsFailureByKind(t *testing.T) {
	m := metrics.NewMetrics()

	t.Run("classified error", func(t *testing.T) {
		inner := &fakeReasoner{
			reasonFn: func(ctx context.Context, bundle reasoning.Bundle) (*reasoning.Outcome, error) {
				return nil, &reasoning.Error{Kind: reasoning.KindMalformed, Err: errors.New("bad payload")}
			},
		}
		wrapped := newMeteredReasoner(inner, 0, m.ReasoningCallsTotal)

		_, err := wrapped.Reason(context.Background(), reasoning.Bundle{})
		require.Error(t, err)
		assert.Equal(t, float64(1), reasoningCalls(t, m, "fake", "malformed"))
	})

	t.Run("unclassified error", func(t *testing.T) {
		inner := &fakeReasoner{
			reasonFn: func(ctx context.Context, bundle reasoning.Bundle) (*reasoning.Outcome, error) {
				return nil, errors.New("boom")
			},
		}
		wrapped := newMeteredReasoner(inner, 0, m.ReasoningCallsTotal)

		_, err := wrapped.Reason(context.Background(), reasoning.Bundle{})
		require.Error(t, err)
		assert.Equal(t, float64(1), reasoningCalls(t, m, "fake", "unavailable"))
	})
}

func TestMeteredReasonerAppliesTimeout(t *testing.T) {
	m := metrics.NewMetrics()

	inner := &fakeReasoner{
		reasonFn: func(ctx context.Context, bundle reasoning.Bundle) (*reasoning.Outcome, error) {
			_, hasDeadline := ctx.Deadline()
			assert.True(t, hasDeadline)

			<-ctx.Done()
			return nil, &reasoning.Error{Kind: reasoning.KindTimeout, Err: ctx.Err()}
		},
	}
	wrapped := newMeteredReasoner(inner, 20*time.Millisecond, m.ReasoningCallsTotal)

	_, err := wrapped.Reason(context.Background(), reasoning.Bundle{})
	require.Error(t, err)
	assert.Equal(t, reasoning.KindTimeout, reasoning.Kind(err))
	assert.Equal(t, float64(1), reasoningCalls(t, m, "fake", "timeout"))
}

func TestMeteredReasonerNoTimeoutWhenUnset(t *testing.T) {
	m := metrics.NewMetrics()

	inner := &fakeReasoner{
		reasonFn: func(ctx context.Context, bundle reasoning.Bundle) (*reasoning.Outcome, error) {
			_, hasDeadline := ctx.Deadline()
			assert.False(t, hasDeadline)
			return &reasoning.Outcome{Answer: "ok"}, nil
		},
	}
	wrapped := newMeteredReasoner(inner, 0, m.ReasoningCallsTotal)

	_, err := wrapped.Reason(context.Background(), reasoning.Bundle{})
	require.NoError(t, err)
}

func TestMeteredReasonerProvider(t *testing.T) {
	m := metrics.NewMetrics()
	wrapped := newMeteredReasoner(&fakeReasoner{}, 0, m.ReasoningCallsTotal)

	assert.Equal(t, "fake", wrapped.Provider())
}
