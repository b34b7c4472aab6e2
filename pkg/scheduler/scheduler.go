package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"docsync/pkg/domain"
)

const defaultInterval = 5 * time.Minute

// ErrRunInProgress is returned by TriggerNow while another run, manual
// or scheduled, is still in flight.
var ErrRunInProgress = errors.New("a processing run is already in progress")

// Runner executes one batch processing pass.
type Runner interface {
	ProcessAllPending(ctx context.Context) (domain.ProcessReport, error)
}

// Scheduler periodically drives a Runner. All state lives on the struct
// behind one mutex; overlapping runs are impossible by construction.
type Scheduler struct {
	mu         sync.Mutex
	runner     Runner
	interval   time.Duration
	isRunning  bool
	busy       bool
	stopChan   chan struct{}
	nextRun    *time.Time
	lastRunAt  *time.Time
	lastReport *domain.ProcessReport
}

func New(runner Runner, interval time.Duration) (*Scheduler, error) {
	if runner == nil {
		return nil, fmt.Errorf("scheduler: runner is required")
	}
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Scheduler{runner: runner, interval: interval}, nil
}

// Start launches the timer loop. Calling Start on a running scheduler
// does nothing.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	next := time.Now().UTC().Add(s.interval)
	s.nextRun = &next
	go s.loop(s.stopChan)
	slog.Info("scheduler_started", "interval", s.interval.String())
}

// Stop halts future invocations. An in-flight run finishes on its own.
// Calling Stop on a stopped scheduler does nothing.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunning {
		return
	}
	s.isRunning = false
	close(s.stopChan)
	s.stopChan = nil
	s.nextRun = nil
	slog.Info("scheduler_stopped")
}

// Status reports the scheduler state.
func (s *Scheduler) Status() domain.SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := domain.SchedulerStatus{
		IsRunning: s.isRunning,
		Pattern:   "every " + s.interval.String(),
	}
	if s.nextRun != nil {
		next := *s.nextRun
		status.NextRun = &next
	}
	if s.lastRunAt != nil {
		last := *s.lastRunAt
		status.LastRunAt = &last
	}
	if s.lastReport != nil {
		report := *s.lastReport
		status.LastReport = &report
	}
	return status
}

// TriggerNow runs one batch pass immediately, outside the timer. It
// honours the same re-entrancy guard as scheduled runs.
func (s *Scheduler) TriggerNow(ctx context.Context) (domain.ProcessReport, error) {
	if !s.acquire() {
		return domain.ProcessReport{}, ErrRunInProgress
	}
	defer s.release()
	return s.runGuarded(ctx)
}

func (s *Scheduler) loop(stop chan struct{}) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			next := time.Now().UTC().Add(s.interval)
			s.nextRun = &next
			s.mu.Unlock()
			s.runScheduled()
		case <-stop:
			return
		}
	}
}

// runScheduled is the timer callback. Nothing may escape it: errors are
// logged and panics are recovered inside runGuarded.
func (s *Scheduler) runScheduled() {
	if !s.acquire() {
		slog.Warn("scheduler_tick_skipped", "reason", "run in progress")
		return
	}
	defer s.release()
	if report, err := s.runGuarded(context.Background()); err != nil {
		slog.Error("scheduled_run_failed", "error", err)
	} else {
		slog.Info("scheduled_run_finished", "total", report.Total, "processed", report.Processed, "failed", report.Failed)
	}
}

func (s *Scheduler) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return false
	}
	s.busy = true
	return true
}

func (s *Scheduler) release() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

// runGuarded calls the runner with panic containment and records the
// outcome. The caller must hold the busy flag.
func (s *Scheduler) runGuarded(ctx context.Context) (report domain.ProcessReport, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processing run panicked: %v", r)
		}
		now := time.Now().UTC()
		s.mu.Lock()
		s.lastRunAt = &now
		if err == nil {
			reportCopy := report
			s.lastReport = &reportCopy
		}
		s.mu.Unlock()
	}()
	return s.runner.ProcessAllPending(ctx)
}
