package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

const (
	DefaultInterval = 30 * time.Second
	DefaultWorkers  = 2
)

// ErrPassInProgress is returned by RunOnce while another pass is running.
var ErrPassInProgress = errors.New("evaluation pass already in progress")

// PassRunner runs one evaluation pass.
type PassRunner interface {
	EvaluatePass(ctx context.Context) (*Report, error)
}

type SchedulerOptions struct {
	Interval time.Duration
	Workers  int
	Runner   PassRunner
	// Preflight runs during Start; an error aborts the start.
	Preflight func(ctx context.Context) error
	Logger    *slog.Logger
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	Running    bool          `json:"running"`
	Active     bool          `json:"pass_active"`
	Interval   time.Duration `json:"interval"`
	NextRun    *time.Time    `json:"next_run,omitempty"`
	LastRun    *time.Time    `json:"last_run,omitempty"`
	LastReport *Report       `json:"last_report,omitempty"`
	LastError  string        `json:"last_error,omitempty"`
}

// Scheduler fires evaluation passes on a fixed interval with at most one
// pass active at a time. Fires that find a pass active are dropped.
type Scheduler struct {
	interval  time.Duration
	runner    PassRunner
	preflight func(ctx context.Context) error
	log       *slog.Logger

	// lifecycle serialises Start and Stop.
	lifecycle sync.Mutex
	cancel    context.CancelFunc
	loopDone  chan struct{}

	sem      *semaphore.Weighted
	active   atomic.Bool
	inflight sync.WaitGroup

	mu         sync.RWMutex
	running    bool
	nextRun    *time.Time
	lastRun    *time.Time
	lastReport *Report
	lastErr    error
}

func NewScheduler(opts SchedulerOptions) *Scheduler {
	interval := opts.Interval
	if interval == 0 {
		interval = DefaultInterval
	}
	workers := opts.Workers
	if workers < 1 {
		workers = DefaultWorkers
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		interval:  interval,
		runner:    opts.Runner,
		preflight: opts.Preflight,
		log:       logger.With("component", "alert_scheduler"),
		sem:       semaphore.NewWeighted(int64(workers)),
	}
}

// Start launches the ticker loop. Calling it while running is a no-op. If
// any step fails the partially started loop is shut down before returning.
func (s *Scheduler) Start(ctx context.Context) (err error) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.isRunning() {
		return nil
	}
	if s.interval <= 0 {
		return fmt.Errorf("invalid scheduler interval %s", s.interval)
	}
	if s.runner == nil {
		return fmt.Errorf("scheduler has no pass runner")
	}

	// Passes must outlive the caller's context; Stop cancels the loop.
	base := context.WithoutCancel(ctx)
	loopCtx, cancel := context.WithCancel(base)
	s.cancel = cancel
	s.loopDone = make(chan struct{})

	defer func() {
		if err != nil {
			s.log.Error("scheduler start failed, forcing shutdown", "error", err)
			s.shutdownLoop()
		}
	}()

	ticker := time.NewTicker(s.interval)
	go s.loop(loopCtx, base, ticker, s.loopDone)

	if s.preflight != nil {
		if err := s.preflight(ctx); err != nil {
			return fmt.Errorf("scheduler preflight: %w", err)
		}
	}

	next := time.Now().Add(s.interval)
	s.mu.Lock()
	s.running = true
	s.nextRun = &next
	s.mu.Unlock()

	s.log.Info("scheduler started", "interval", s.interval)
	return nil
}

// Stop unregisters the ticker and waits for any in-flight pass to finish,
// including one started by RunOnce.
// A later Start creates a fresh loop.
func (s *Scheduler) Stop() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if !s.isRunning() {
		// Manual passes run without the loop.
		s.inflight.Wait()
		return
	}
	s.log.Info("stopping scheduler")
	s.shutdownLoop()
	s.inflight.Wait()
	s.log.Info("scheduler stopped")
}

// shutdownLoop cancels the ticker loop and waits for it to exit. Callers
// hold lifecycle.
func (s *Scheduler) shutdownLoop() {
	if s.cancel != nil {
		s.cancel()
		<-s.loopDone
	}
	s.cancel = nil
	s.loopDone = nil

	s.mu.Lock()
	s.running = false
	s.nextRun = nil
	s.mu.Unlock()
}

func (s *Scheduler) loop(ctx, passCtx context.Context, ticker *time.Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			next := t.Add(s.interval)
			s.mu.Lock()
			s.nextRun = &next
			s.mu.Unlock()
			s.fire(passCtx)
		}
	}
}

// fire starts a pass on a pool worker unless one is already active.
func (s *Scheduler) fire(ctx context.Context) {
	if !s.active.CompareAndSwap(false, true) {
		passesSkipped.Inc()
		s.log.Warn("previous pass still running, skipping this tick")
		return
	}
	if !s.sem.TryAcquire(1) {
		s.active.Store(false)
		passesSkipped.Inc()
		s.log.Warn("no free worker, skipping this tick")
		return
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer s.sem.Release(1)
		defer s.active.Store(false)
		_, _ = s.runPass(ctx)
	}()
}

// RunOnce runs one pass now through the same single-active gate as the
// ticker. It returns ErrPassInProgress if a pass is running.
func (s *Scheduler) RunOnce(ctx context.Context) (*Report, error) {
	if s.runner == nil {
		return nil, fmt.Errorf("scheduler has no pass runner")
	}
	if !s.active.CompareAndSwap(false, true) {
		return nil, ErrPassInProgress
	}
	s.inflight.Add(1)
	defer s.inflight.Done()
	defer s.active.Store(false)

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)

	return s.runPass(ctx)
}

func (s *Scheduler) runPass(ctx context.Context) (report *Report, err error) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("evaluation pass panicked: %v", r)
		}
		observePass(started, err)

		s.mu.Lock()
		s.lastRun = &started
		s.lastErr = err
		if report != nil {
			s.lastReport = report
		}
		s.mu.Unlock()

		if err != nil {
			s.log.Error("evaluation pass failed", "error", err)
		}
	}()

	return s.runner.EvaluatePass(ctx)
}

func (s *Scheduler) isRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Status reports whether the scheduler is running and when it fires next.
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		Running:    s.running,
		Active:     s.active.Load(),
		Interval:   s.interval,
		NextRun:    copyTime(s.nextRun),
		LastRun:    copyTime(s.lastRun),
		LastReport: s.lastReport,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
