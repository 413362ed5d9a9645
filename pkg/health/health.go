package health

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Level is the degradation level the service currently operates at.
type Level string

const (
	// LevelFull has every dependency healthy.
	LevelFull Level = "FULL"
	// LevelToolLess answers conversationally without tool execution.
	LevelToolLess Level = "TOOL_LESS"
	// LevelStatic serves canned template replies only.
	LevelStatic Level = "STATIC"
	// LevelUnavailable rejects turns with a retry hint.
	LevelUnavailable Level = "UNAVAILABLE"
)

// Value maps the level onto a gauge scale, healthiest first.
func (l Level) Value() float64 {
	switch l {
	case LevelFull:
		return 0
	case LevelToolLess:
		return 1
	case LevelStatic:
		return 2
	default:
		return 3
	}
}

// Health reports per-dependency availability.
type Health struct {
	ReasoningServiceUp bool      `json:"reasoning_service_up"`
	ToolBackendUp      bool      `json:"tool_backend_up"`
	SessionStoreUp     bool      `json:"session_store_up"`
	CheckedAt          time.Time `json:"checked_at"`
}

const (
	DefaultFailureThreshold = 3
	probeTimeout            = 5 * time.Second
)

// Probes are the active dependency checks run on a schedule. Nil
// probes are skipped.
type Probes struct {
	Reasoning func(ctx context.Context) error
	Tools     func(ctx context.Context) error
	Store     func(ctx context.Context) error
}

type depState struct {
	up       bool
	failures int
}

// Controller tracks dependency health from active probes and passive
// failure reports, and derives the degradation level.
type Controller struct {
	threshold int
	probes    Probes

	mu        sync.RWMutex
	reasoning depState
	tools     depState
	store     depState
	checkedAt time.Time
}

// NewController creates a controller with every dependency assumed
// healthy until proven otherwise.
func NewController(threshold int, probes Probes) *Controller {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}

	return &Controller{
		threshold: threshold,
		probes:    probes,
		reasoning: depState{up: true},
		tools:     depState{up: true},
		store:     depState{up: true},
	}
}

// Health returns the current dependency booleans.
func (c *Controller) Health() Health {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Health{
		ReasoningServiceUp: c.reasoning.up,
		ToolBackendUp:      c.tools.up,
		SessionStoreUp:     c.store.up,
		CheckedAt:          c.checkedAt,
	}
}

// Level derives the degradation level by priority: an unavailable
// session store disables the service, a down reasoning service leaves
// static replies, a down tool backend leaves tool-less conversation.
func (c *Controller) Level() Level {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch {
	case !c.store.up:
		return LevelUnavailable
	case !c.reasoning.up:
		return LevelStatic
	case !c.tools.up:
		return LevelToolLess
	default:
		return LevelFull
	}
}

// Probe runs the active checks and folds their results into the
// dependency state.
func (c *Controller) Probe(ctx context.Context) Health {
	c.runProbe(ctx, "reasoning", c.probes.Reasoning, c.ReportReasoningSuccess, c.ReportReasoningFailure)
	c.runProbe(ctx, "tools", c.probes.Tools, c.ReportToolSuccess, c.ReportToolFailure)
	c.runProbe(ctx, "store", c.probes.Store, c.ReportStoreSuccess, c.ReportStoreFailure)

	c.mu.Lock()
	c.checkedAt = time.Now()
	c.mu.Unlock()

	return c.Health()
}

func (c *Controller) runProbe(ctx context.Context, name string, probe func(ctx context.Context) error, onSuccess, onFailure func()) {
	if probe == nil {
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	if err := probe(probeCtx); err != nil {
		log.Debug().
			Str("dependency", name).
			Err(err).
			Msg("Health probe failed")
		onFailure()
		return
	}
	onSuccess()
}

func (c *Controller) ReportReasoningFailure() { c.reportFailure("reasoning_service", &c.reasoning) }
func (c *Controller) ReportReasoningSuccess() { c.reportSuccess("reasoning_service", &c.reasoning) }
func (c *Controller) ReportToolFailure()      { c.reportFailure("tool_backend", &c.tools) }
func (c *Controller) ReportToolSuccess()      { c.reportSuccess("tool_backend", &c.tools) }
func (c *Controller) ReportStoreFailure()     { c.reportFailure("session_store", &c.store) }
func (c *Controller) ReportStoreSuccess()     { c.reportSuccess("session_store", &c.store) }

func (c *Controller) reportFailure(name string, dep *depState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	dep.failures++
	if dep.up && dep.failures >= c.threshold {
		dep.up = false
		log.Warn().
			Str("dependency", name).
			Int("consecutive_failures", dep.failures).
			Msg("Dependency marked down")
	}
}

func (c *Controller) reportSuccess(name string, dep *depState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	dep.failures = 0
	if !dep.up {
		dep.up = true
		log.Info().
			Str("dependency", name).
			Msg("Dependency recovered")
	}
}
