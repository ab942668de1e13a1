// Package scheduler drives periodic and on-demand risk cycles from a single loop.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"dlmm-risk-manager/internal/controller"
)

// CycleRunner runs one risk cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context) (*controller.CycleReport, error)
}

type result struct {
	report *controller.CycleReport
	err    error
}

type trigger struct {
	reply chan result
}

// Scheduler runs a cycle at startup, then every interval, plus whenever
// Trigger is called. Cycles never overlap.
type Scheduler struct {
	runner   CycleRunner
	interval time.Duration
	logger   *log.Logger

	triggers chan trigger
	done     chan struct{}

	mu    sync.Mutex
	stats Stats
}

// Stats describes the scheduler's progress for the status endpoint.
type Stats struct {
	Interval    time.Duration
	Cycles      int
	Running     bool
	LastCycleID string
	LastRun     time.Time
	LastError   string
}

// Options contains configuration for creating a Scheduler.
type Options struct {
	Runner   CycleRunner
	Interval time.Duration // Default: 5m
	Logger   *log.Logger
}

// New creates a Scheduler. Call Run to start it.
func New(opts Options) *Scheduler {
	interval := opts.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Scheduler{
		runner:   opts.Runner,
		interval: interval,
		logger:   logger,
		triggers: make(chan trigger, 16),
		done:     make(chan struct{}),
		stats:    Stats{Interval: interval},
	}
}

// Run blocks until ctx is cancelled. A cycle in flight at that moment runs
// to completion; queued triggers are answered with context.Canceled.
func (s *Scheduler) Run(ctx context.Context) {
	defer close(s.done)

	s.logger.Printf("Scheduler started, interval: %v", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runCycle(ctx, "startup")

	for {
		select {
		case <-ctx.Done():
			s.rejectQueued()
			s.logger.Println("Scheduler stopping...")
			return

		case <-ticker.C:
			s.runCycle(ctx, "interval")

		case t := <-s.triggers:
			waiting := append([]trigger{t}, s.takeQueued()...)
			report, err := s.runCycle(ctx, "trigger")
			for _, w := range waiting {
				w.reply <- result{report: report, err: err}
			}
		}
	}
}

// Trigger queues a cycle and waits for its report. Triggers that queue up
// while a cycle is running share the next cycle.
func (s *Scheduler) Trigger(ctx context.Context) (*controller.CycleReport, error) {
	t := trigger{reply: make(chan result, 1)}

	select {
	case s.triggers <- t:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, context.Canceled
	}

	select {
	case r := <-t.reply:
		return r.report, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		// Run may have answered just before exiting.
		select {
		case r := <-t.reply:
			return r.report, r.err
		default:
			return nil, context.Canceled
		}
	}
}

// Stats returns a snapshot of the scheduler's progress.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Done is closed once Run has returned.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

func (s *Scheduler) runCycle(ctx context.Context, reason string) (*controller.CycleReport, error) {
	s.mu.Lock()
	s.stats.Running = true
	s.mu.Unlock()

	// The cycle is bounded by the controller's own timeout, not by shutdown.
	report, err := s.runner.RunCycle(context.WithoutCancel(ctx))
	if err != nil {
		s.logger.Printf("%s cycle failed: %v", reason, err)
	}

	s.mu.Lock()
	s.stats.Running = false
	s.stats.Cycles++
	s.stats.LastRun = time.Now()
	s.stats.LastError = ""
	if err != nil {
		s.stats.LastError = err.Error()
	}
	if report != nil {
		s.stats.LastCycleID = report.CycleID
	}
	s.mu.Unlock()

	return report, err
}

func (s *Scheduler) takeQueued() []trigger {
	var out []trigger
	for {
		select {
		case t := <-s.triggers:
			out = append(out, t)
		default:
			return out
		}
	}
}

func (s *Scheduler) rejectQueued() {
	for _, t := range s.takeQueued() {
		t.reply <- result{err: context.Canceled}
	}
}
