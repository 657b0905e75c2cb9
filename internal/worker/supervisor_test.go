package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/STRATINT/connectors/internal/logging"
)

type recordingReporter struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingReporter) add(event string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingReporter) SyncStarted(_ context.Context, id string, _ time.Time) error {
	return r.add("started:" + id)
}

func (r *recordingReporter) SyncSucceeded(_ context.Context, id string, _ time.Time) error {
	return r.add("succeeded:" + id)
}

func (r *recordingReporter) SyncFailed(_ context.Context, id string, _ time.Time) error {
	return r.add("failed:" + id)
}

func (r *recordingReporter) SyncProgress(_ context.Context, id string, progress string) error {
	return r.add("progress:" + id + ":" + progress)
}

func (r *recordingReporter) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func newTestSupervisor(reporter StatusReporter) *Supervisor {
	s := NewSupervisor(reporter, time.Hour, logging.Discard())
	s.newBackOff = func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 2)
	}
	return s
}

func blockUntilCancelled(ctx context.Context, _ ProgressFunc) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestSupervisorReportsSuccessfulRun(t *testing.T) {
	reporter := &recordingReporter{}
	s := newTestSupervisor(reporter)

	require.True(t, s.Start("c1", func(ctx context.Context, progress ProgressFunc) error {
		progress("3 channels")
		return nil
	}))

	require.Eventually(t, func() bool {
		return len(reporter.snapshot()) == 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"started:c1", "progress:c1:3 channels", "succeeded:c1"}, reporter.snapshot())

	require.NoError(t, s.Stop(context.Background(), "c1"))
	assert.False(t, s.Running("c1"))
}

func TestSupervisorRetriesFailingRun(t *testing.T) {
	reporter := &recordingReporter{}
	s := newTestSupervisor(reporter)

	var calls atomic.Int32
	s.Start("c1", func(context.Context, ProgressFunc) error {
		if calls.Add(1) < 3 {
			return errors.New("rate limited")
		}
		return nil
	})

	require.Eventually(t, func() bool { return calls.Load() == 3 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		events := reporter.snapshot()
		return len(events) > 0 && events[len(events)-1] == "succeeded:c1"
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{
		"started:c1", "failed:c1",
		"started:c1", "failed:c1",
		"started:c1", "succeeded:c1",
	}, reporter.snapshot())
	require.NoError(t, s.Stop(context.Background(), "c1"))
}

func TestSupervisorStartIsNoopWhenRunning(t *testing.T) {
	s := newTestSupervisor(&recordingReporter{})

	assert.True(t, s.Start("c1", blockUntilCancelled))
	assert.False(t, s.Start("c1", blockUntilCancelled))
	assert.Equal(t, []string{"c1"}, s.Connectors())

	require.NoError(t, s.StopAll(context.Background()))
	assert.Empty(t, s.Connectors())
}

func TestSupervisorStopIsIdempotent(t *testing.T) {
	reporter := &recordingReporter{}
	s := newTestSupervisor(reporter)
	s.Start("c1", blockUntilCancelled)

	require.NoError(t, s.Stop(context.Background(), "c1"))
	require.NoError(t, s.Stop(context.Background(), "c1"))
	require.NoError(t, s.Stop(context.Background(), "never-started"))

	for _, e := range reporter.snapshot() {
		assert.NotEqual(t, "failed:c1", e, "a cancelled run must not be reported as failed")
	}
}

func TestSupervisorStopTimesOut(t *testing.T) {
	s := newTestSupervisor(&recordingReporter{})
	release := make(chan struct{})
	defer close(release)

	s.Start("c1", func(context.Context, ProgressFunc) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := s.Stop(ctx, "c1")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, s.Running("c1"), "a cancelled worker is no longer live")
	assert.Empty(t, s.Connectors())
}

func TestSupervisorStartReplacesWorkerStillExiting(t *testing.T) {
	s := newTestSupervisor(&recordingReporter{})
	release := make(chan struct{})

	var oldExited atomic.Bool
	s.Start("c1", func(context.Context, ProgressFunc) error {
		<-release
		oldExited.Store(true)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, s.Stop(ctx, "c1"), context.DeadlineExceeded)

	var runs atomic.Int32
	require.True(t, s.Start("c1", func(ctx context.Context, _ ProgressFunc) error {
		runs.Add(1)
		<-ctx.Done()
		return ctx.Err()
	}))
	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)

	close(release)
	require.Eventually(t, oldExited.Load, time.Second, 5*time.Millisecond)

	// The old worker exiting must not unregister its replacement.
	time.Sleep(20 * time.Millisecond)
	assert.True(t, s.Running("c1"))
	assert.Equal(t, []string{"c1"}, s.Connectors())

	require.NoError(t, s.Stop(context.Background(), "c1"))
	assert.False(t, s.Running("c1"))
}

func TestSupervisorStopWaitsForCancelledWorker(t *testing.T) {
	s := newTestSupervisor(&recordingReporter{})
	release := make(chan struct{})

	s.Start("c1", func(context.Context, ProgressFunc) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, s.Stop(ctx, "c1"))

	close(release)
	require.NoError(t, s.Stop(context.Background(), "c1"))
	require.NoError(t, s.StopAll(context.Background()))
}

func TestSupervisorRestartAfterStop(t *testing.T) {
	s := newTestSupervisor(&recordingReporter{})

	s.Start("c1", blockUntilCancelled)
	require.NoError(t, s.Stop(context.Background(), "c1"))
	assert.True(t, s.Start("c1", blockUntilCancelled))
	require.NoError(t, s.Stop(context.Background(), "c1"))
}
