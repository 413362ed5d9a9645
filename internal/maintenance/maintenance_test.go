package maintenance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitSignal(t *testing.T, ch chan struct{}, name string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected %s to run", name)
	}
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{}, Jobs{})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "at least one maintenance job")
}

func TestRunnerRunsJobsOnStart(t *testing.T) {
	sweeps := make(chan struct{}, 8)
	refreshes := make(chan struct{}, 8)
	probes := make(chan struct{}, 8)

	// Long cadences so only the catch-up runs fire during the test.
	r, err := New(Config{
		SweepInterval:   time.Hour,
		RefreshInterval: time.Hour,
		ProbeInterval:   time.Hour,
	}, Jobs{
		Sweep: func() int {
			sweeps <- struct{}{}
			return 0
		},
		Refresh: func(ctx context.Context) error {
			refreshes <- struct{}{}
			return nil
		},
		Probe: func(ctx context.Context) {
			probes <- struct{}{}
		},
	})
	require.NoError(t, err)

	r.Start()
	defer r.Stop()

	waitSignal(t, sweeps, "sweep")
	waitSignal(t, refreshes, "refresh")
	waitSignal(t, probes, "probe")
}

func TestRunnerSchedulesRecurring(t *testing.T) {
	sweeps := make(chan struct{}, 8)

	r, err := New(Config{SweepInterval: time.Second}, Jobs{
		Sweep: func() int {
			sweeps <- struct{}{}
			return 1
		},
	})
	require.NoError(t, err)

	r.Start()
	defer r.Stop()

	// One run at start, the next from the schedule.
	for i := 0; i < 2; i++ {
		select {
		case <-sweeps:
		case <-time.After(4 * time.Second):
			t.Fatalf("expected sweep run %d", i+1)
		}
	}
}

func TestRunnerRecoversFromPanic(t *testing.T) {
	refreshes := make(chan struct{}, 8)

	r, err := New(Config{RefreshInterval: time.Second}, Jobs{
		Refresh: func(ctx context.Context) error {
			refreshes <- struct{}{}
			panic("refresh exploded")
		},
	})
	require.NoError(t, err)

	r.Start()
	defer r.Stop()

	// A second run proves the recovery chain swallowed the panic
	// instead of killing the scheduler.
	for i := 0; i < 2; i++ {
		select {
		case <-refreshes:
		case <-time.After(4 * time.Second):
			t.Fatalf("expected refresh run %d despite the panic", i+1)
		}
	}
}

func TestRunnerRefreshFailureDoesNotStopSchedule(t *testing.T) {
	refreshes := make(chan struct{}, 8)

	r, err := New(Config{RefreshInterval: time.Second}, Jobs{
		Refresh: func(ctx context.Context) error {
			refreshes <- struct{}{}
			return errors.New("backend unreachable")
		},
	})
	require.NoError(t, err)

	r.Start()
	defer r.Stop()

	for i := 0; i < 2; i++ {
		select {
		case <-refreshes:
		case <-time.After(4 * time.Second):
			t.Fatalf("expected refresh run %d despite the failure", i+1)
		}
	}
}

func TestRunnerJobTimeout(t *testing.T) {
	deadlines := make(chan bool, 8)

	r, err := New(Config{
		ProbeInterval: time.Hour,
		JobTimeout:    time.Second,
	}, Jobs{
		Probe: func(ctx context.Context) {
			_, ok := ctx.Deadline()
			deadlines <- ok
		},
	})
	require.NoError(t, err)

	r.Start()
	defer r.Stop()

	select {
	case ok := <-deadlines:
		assert.True(t, ok, "probe context should carry a deadline")
	case <-time.After(2 * time.Second):
		t.Fatal("expected probe to run")
	}
}
