// Package worker runs the background synchronization loop of each connector.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// StatusReporter receives the sync bookkeeping of every run. The connector
// store implements it.
type StatusReporter interface {
	SyncStarted(ctx context.Context, connectorID string, at time.Time) error
	SyncSucceeded(ctx context.Context, connectorID string, at time.Time) error
	SyncFailed(ctx context.Context, connectorID string, at time.Time) error
	SyncProgress(ctx context.Context, connectorID string, progress string) error
}

// ProgressFunc reports human readable progress of the first sync.
type ProgressFunc func(progress string)

// SyncFunc performs one synchronization run. It must return promptly once
// ctx is cancelled.
type SyncFunc func(ctx context.Context, progress ProgressFunc) error

type worker struct {
	cancel context.CancelFunc
	done   chan struct{}

	// stopping is set once the worker was cancelled. A stopping worker no
	// longer counts as running and may be replaced by Start.
	stopping bool
}

// Supervisor owns one goroutine per running connector.
type Supervisor struct {
	reporter StatusReporter
	interval time.Duration
	logger   *slog.Logger

	// newBackOff builds the retry policy applied to a failing run before
	// waiting for the next interval.
	newBackOff func() backoff.BackOff

	mu      sync.Mutex
	workers map[string]*worker
}

// NewSupervisor creates a supervisor that syncs every connector each interval.
func NewSupervisor(reporter StatusReporter, interval time.Duration, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		reporter: reporter,
		interval: interval,
		logger:   logger,
		newBackOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff(backoff.WithMaxElapsedTime(interval))
		},
		workers: make(map[string]*worker),
	}
}

// Start launches the worker of connectorID. It returns false when the worker
// is already running. A worker still exiting after a timed out Stop is
// replaced.
func (s *Supervisor) Start(connectorID string, fn SyncFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.workers[connectorID]; ok {
		if !old.stopping {
			return false
		}
		s.logger.Warn("replacing worker that has not exited yet", "connector_id", connectorID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &worker{cancel: cancel, done: make(chan struct{})}
	s.workers[connectorID] = w

	go s.loop(ctx, connectorID, w, fn)

	s.logger.Info("worker started", "connector_id", connectorID)
	return true
}

// Stop cancels the worker of connectorID and waits for it to exit, bounded by
// ctx. Stopping a connector without a worker succeeds. When ctx expires first
// the worker stays cancelled and Stop may be called again to wait for it.
func (s *Supervisor) Stop(ctx context.Context, connectorID string) error {
	s.mu.Lock()
	w, ok := s.workers[connectorID]
	if ok {
		w.stopping = true
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}

	w.cancel()
	select {
	case <-w.done:
		s.logger.Info("worker stopped", "connector_id", connectorID)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker %s did not stop: %w", connectorID, ctx.Err())
	}
}

// StopAll stops every worker, bounded by ctx.
func (s *Supervisor) StopAll(ctx context.Context) error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.workers))
	for id := range s.workers {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := s.Stop(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Running reports whether connectorID has a live worker. A cancelled worker
// that has not exited yet is not live.
func (s *Supervisor) Running(connectorID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[connectorID]
	return ok && !w.stopping
}

// Connectors returns the ids of every live worker, sorted.
func (s *Supervisor) Connectors() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.workers))
	for id, w := range s.workers {
		if !w.stopping {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (s *Supervisor) loop(ctx context.Context, connectorID string, w *worker, fn SyncFunc) {
	defer func() {
		s.mu.Lock()
		if s.workers[connectorID] == w {
			delete(s.workers, connectorID)
		}
		s.mu.Unlock()
		close(w.done)
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		op := func() error { return s.run(ctx, connectorID, fn) }
		policy := backoff.WithContext(s.newBackOff(), ctx)
		err := backoff.RetryNotify(op, policy, func(err error, next time.Duration) {
			s.logger.Warn("sync failed, retrying", "connector_id", connectorID, "error", err, "backoff", next)
		})
		if err != nil && ctx.Err() == nil {
			s.logger.Error("sync failed, waiting for next interval", "connector_id", connectorID, "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// run performs one sync and reports it. A cancelled run is not reported as
// failed.
func (s *Supervisor) run(ctx context.Context, connectorID string, fn SyncFunc) error {
	s.report(ctx, connectorID, "started", s.reporter.SyncStarted)

	progress := func(p string) {
		if err := s.reporter.SyncProgress(ctx, connectorID, p); err != nil && ctx.Err() == nil {
			s.logger.Warn("failed to report sync progress", "connector_id", connectorID, "error", err)
		}
	}

	err := fn(ctx, progress)
	if ctx.Err() != nil {
		return backoff.Permanent(ctx.Err())
	}
	if err != nil {
		s.report(ctx, connectorID, "failed", s.reporter.SyncFailed)
		return err
	}

	s.report(ctx, connectorID, "succeeded", s.reporter.SyncSucceeded)
	return nil
}

func (s *Supervisor) report(ctx context.Context, connectorID, what string, fn func(context.Context, string, time.Time) error) {
	if err := fn(ctx, connectorID, time.Now().UTC()); err != nil && ctx.Err() == nil {
		s.logger.Warn("failed to report sync status", "connector_id", connectorID, "status", what, "error", err)
	}
}
