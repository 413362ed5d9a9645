package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultProbeInterval is how often backend health probes run.
	DefaultProbeInterval = 30 * time.Second

	// DefaultJobTimeout bounds a single maintenance job run.
	DefaultJobTimeout = 10 * time.Second
)

// Jobs holds the upkeep hooks the scheduler drives. A nil hook is
// skipped; at least one must be set.
type Jobs struct {
	// Sweep evicts expired sessions and returns the count. The store
	// also evicts lazily on access; the scheduled pass reclaims
	// sessions nobody touches again, including those expired across a
	// restart.
	Sweep func() int

	// Refresh re-fetches tool descriptors so the registry cache never
	// goes stale between turns.
	Refresh func(ctx context.Context) error

	// Probe checks backend health and feeds the degradation
	// controller.
	Probe func(ctx context.Context)
}

// Config sets the job cadences.
type Config struct {
	SweepInterval   time.Duration
	RefreshInterval time.Duration
	ProbeInterval   time.Duration
	JobTimeout      time.Duration
}

func (c *Config) applyDefaults() {
	if c.SweepInterval <= 0 {
		c.SweepInterval = 5 * time.Minute
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 5 * time.Minute
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = DefaultProbeInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = DefaultJobTimeout
	}
}

// Runner drives periodic upkeep on a cron scheduler: expired-session
// sweeps, descriptor refresh and dependency health probes.
type Runner struct {
	cron  *cron.Cron
	chain cron.Chain
	cfg   Config
	jobs  Jobs
}

// New creates a runner for the given jobs.
func New(cfg Config, jobs Jobs) (*Runner, error) {
	if jobs.Sweep == nil && jobs.Refresh == nil && jobs.Probe == nil {
		return nil, fmt.Errorf("at least one maintenance job is required")
	}
	cfg.applyDefaults()

	chain := cron.NewChain(cron.Recover(cronLogger{}))
	c := cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.Recover(cronLogger{})),
	)

	r := &Runner{
		cron:  c,
		chain: chain,
		cfg:   cfg,
		jobs:  jobs,
	}

	if jobs.Sweep != nil {
		if _, err := c.AddFunc(everySpec(cfg.SweepInterval), r.runSweep); err != nil {
			return nil, fmt.Errorf("failed to schedule sweep: %w", err)
		}
	}
	if jobs.Refresh != nil {
		if _, err := c.AddFunc(everySpec(cfg.RefreshInterval), r.runRefresh); err != nil {
			return nil, fmt.Errorf("failed to schedule refresh: %w", err)
		}
	}
	if jobs.Probe != nil {
		if _, err := c.AddFunc(everySpec(cfg.ProbeInterval), r.runProbe); err != nil {
			return nil, fmt.Errorf("failed to schedule probe: %w", err)
		}
	}

	return r, nil
}

// Start begins the schedule. Every configured job also runs once
// immediately so a restarted daemon catches up on work that piled up
// while it was down instead of waiting out a full interval.
func (r *Runner) Start() {
	r.cron.Start()

	if r.jobs.Sweep != nil {
		r.bootRun(r.runSweep)
	}
	if r.jobs.Refresh != nil {
		r.bootRun(r.runRefresh)
	}
	if r.jobs.Probe != nil {
		r.bootRun(r.runProbe)
	}

	log.Info().
		Dur("sweep_interval", r.cfg.SweepInterval).
		Dur("refresh_interval", r.cfg.RefreshInterval).
		Dur("probe_interval", r.cfg.ProbeInterval).
		Msg("Maintenance scheduler started")
}

// bootRun executes a job once through the recovery chain so a panic in
// a catch-up run cannot take the daemon down.
func (r *Runner) bootRun(job func()) {
	wrapped := r.chain.Then(cron.FuncJob(job))
	go wrapped.Run()
}

// Stop halts the schedule and waits briefly for running jobs.
func (r *Runner) Stop() {
	ctx := r.cron.Stop()

	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		log.Warn().Msg("Timed out waiting for maintenance jobs to finish")
	}

	log.Info().Msg("Maintenance scheduler stopped")
}

func (r *Runner) runSweep() {
	evicted := r.jobs.Sweep()
	log.Debug().
		Int("evicted", evicted).
		Msg("Maintenance sweep finished")
}

func (r *Runner) runRefresh() {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.JobTimeout)
	defer cancel()

	if err := r.jobs.Refresh(ctx); err != nil {
		log.Warn().
			Err(err).
			Msg("Descriptor refresh failed, tools stay unavailable until the next pass")
		return
	}
	log.Debug().Msg("Maintenance descriptor refresh finished")
}

func (r *Runner) runProbe() {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.JobTimeout)
	defer cancel()

	r.jobs.Probe(ctx)
	log.Debug().Msg("Maintenance health probe finished")
}

func everySpec(interval time.Duration) string {
	return fmt.Sprintf("@every %s", interval)
}

// cronLogger routes the scheduler's own logging through zerolog.
// Schedule chatter goes to debug; only panics and scheduling errors
// surface at error level.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debug().Fields(keysAndValues).Msg(msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
