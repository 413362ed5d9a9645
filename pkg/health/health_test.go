package health

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestController_StartsFull(t *testing.T) {
	c := NewController(3, Probes{})

	assert.Equal(t, LevelFull, c.Level())

	h := c.Health()
	assert.True(t, h.ReasoningServiceUp)
	assert.True(t, h.ToolBackendUp)
	assert.True(t, h.SessionStoreUp)
}

func TestController_ThresholdBeforeDown(t *testing.T) {
	c := NewController(3, Probes{})

	c.ReportReasoningFailure()
	c.ReportReasoningFailure()
	assert.Equal(t, LevelFull, c.Level())

	c.ReportReasoningFailure()
	assert.Equal(t, LevelStatic, c.Level())
	assert.False(t, c.Health().ReasoningServiceUp)
}

func TestController_SuccessResetsFailures(t *testing.T) {
	c := NewController(3, Probes{})

	c.ReportToolFailure()
	c.ReportToolFailure()
	c.ReportToolSuccess()
	c.ReportToolFailure()
	c.ReportToolFailure()
	assert.Equal(t, LevelFull, c.Level())

	c.ReportToolFailure()
	assert.Equal(t, LevelToolLess, c.Level())
}

func TestController_SingleSuccessRecovers(t *testing.T) {
	c := NewController(1, Probes{})

	c.ReportReasoningFailure()
	assert.Equal(t, LevelStatic, c.Level())

	c.ReportReasoningSuccess()
	assert.Equal(t, LevelFull, c.Level())
}

func TestController_LevelPriority(t *testing.T) {
	tests := []struct {
		name      string
		reasoning bool
		tools     bool
		store     bool
		expected  Level
	}{
		{name: "all up", reasoning: true, tools: true, store: true, expected: LevelFull},
		{name: "tools down", reasoning: true, tools: false, store: true, expected: LevelToolLess},
		{name: "reasoning down", reasoning: false, tools: true, store: true, expected: LevelStatic},
		{name: "reasoning and tools down", reasoning: false, tools: false, store: true, expected: LevelStatic},
		{name: "store down", reasoning: true, tools: true, store: false, expected: LevelUnavailable},
		{name: "everything down", reasoning: false, tools: false, store: false, expected: LevelUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewController(1, Probes{})
			if !tt.reasoning {
				c.ReportReasoningFailure()
			}
			if !tt.tools {
				c.ReportToolFailure()
			}
			if !tt.store {
				c.ReportStoreFailure()
			}
			assert.Equal(t, tt.expected, c.Level())
		})
	}
}

func TestController_ProbeDrivesState(t *testing.T) {
	reasoningErr := fmt.Errorf("reasoning down")

	c := NewController(1, Probes{
		Reasoning: func(ctx context.Context) error { return reasoningErr },
		Tools:     func(ctx context.Context) error { return nil },
		Store:     func(ctx context.Context) error { return nil },
	})

	h := c.Probe(context.Background())
	assert.False(t, h.ReasoningServiceUp)
	assert.True(t, h.ToolBackendUp)
	assert.True(t, h.SessionStoreUp)
	assert.False(t, h.CheckedAt.IsZero())
	assert.Equal(t, LevelStatic, c.Level())

	// Recovery via a passing probe.
	reasoningErr = nil
	h = c.Probe(context.Background())
	assert.True(t, h.ReasoningServiceUp)
	assert.Equal(t, LevelFull, c.Level())
}

func TestLevel_Value(t *testing.T) {
	assert.Equal(t, float64(0), LevelFull.Value())
	assert.Equal(t, float64(1), LevelToolLess.Value())
	assert.Equal(t, float64(2), LevelStatic.Value())
	assert.Equal(t, float64(3), LevelUnavailable.Value())
}
