// Package scheduler runs the engine's batch jobs.
//
// Each registered job has:
//  1. A one-slot semaphore, so a job never overlaps itself in this process
//  2. An optional interval for periodic runs started by Start
//  3. A timeout applied to every run
//
// Every run is recorded in the run log. Failures are logged and counted but
// never returned to anything other than the manual Trigger caller.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/tutu-network/loyalty/internal/domain"
	"github.com/tutu-network/loyalty/internal/infra/observability"
)

// ErrBusy is returned by Trigger when the job is already running.
var ErrBusy = fmt.Errorf("%w: job already running", domain.ErrConflict)

// ErrUnknownJob is returned for a name that was never registered.
var ErrUnknownJob = fmt.Errorf("%w: job", domain.ErrNotFound)

// JobFunc performs one run and returns the snapshot version it published.
type JobFunc func(ctx context.Context, now time.Time) (version int64, err error)

// Job is a named batch job.
type Job struct {
	Name     string
	Interval time.Duration // 0 disables periodic runs
	Run      JobFunc
}

// Config controls scheduler behavior.
type Config struct {
	DefaultTimeout time.Duration // per-run timeout (default: 5m)
}

// DefaultConfig returns safe scheduler defaults.
func DefaultConfig() Config {
	return Config{DefaultTimeout: 5 * time.Minute}
}

type slot struct {
	job Job
	sem chan struct{}
}

// Scheduler owns the batch jobs.
type Scheduler struct {
	mu        sync.RWMutex
	config    Config
	runs      *observability.RunLog
	log       *slog.Logger
	jobs      map[string]*slot
	active    int
	completed int64
	failed    int64
	skipped   int64
	wg        sync.WaitGroup
	now       func() time.Time
}

// New creates a scheduler that records runs in runs.
func New(cfg Config, runs *observability.RunLog, logger *slog.Logger) *Scheduler {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultConfig().DefaultTimeout
	}
	if runs == nil {
		runs = observability.NewRunLog(observability.DefaultRunLogConfig())
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		config: cfg,
		runs:   runs,
		log:    logger.With("component", "scheduler"),
		jobs:   make(map[string]*slot),
		now:    time.Now,
	}
}

// Register adds a job. Registering a name twice replaces the job.
func (s *Scheduler) Register(job Job) {
	s.mu.Lock()
	s.jobs[job.Name] = &slot{job: job, sem: make(chan struct{}, 1)}
	s.mu.Unlock()
}

// RunLog returns the run history.
func (s *Scheduler) RunLog() *observability.RunLog { return s.runs }

// Trigger runs the job now and waits for it. The returned run is also recorded
// in the run log.
func (s *Scheduler) Trigger(ctx context.Context, name string) (observability.Run, error) {
	sl, err := s.slot(name)
	if err != nil {
		return observability.Run{}, err
	}
	select {
	case sl.sem <- struct{}{}:
	default:
		return observability.Run{}, fmt.Errorf("%w: %s", ErrBusy, name)
	}
	run, err := s.execute(observability.WithTrigger(ctx, observability.TriggerManual), sl)
	return run, err
}

// Start launches the periodic loop of every job with an interval. Loops stop
// when ctx is cancelled; Wait blocks until they have.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sl := range s.jobs {
		if sl.job.Interval <= 0 {
			continue
		}
		s.wg.Add(1)
		go s.loop(ctx, sl)
	}
}

// Wait blocks until every loop started by Start has returned.
func (s *Scheduler) Wait() { s.wg.Wait() }

func (s *Scheduler) loop(ctx context.Context, sl *slot) {
	defer s.wg.Done()
	ticker := time.NewTicker(sl.job.Interval)
	defer ticker.Stop()

	s.log.Info("job scheduled", "job", sl.job.Name, "interval", sl.job.Interval.String())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			select {
			case sl.sem <- struct{}{}:
			default:
				s.log.Debug("previous run still active, tick skipped", "job", sl.job.Name)
				continue
			}
			// Errors are recorded by execute.
			_, _ = s.execute(observability.WithTrigger(ctx, observability.TriggerSchedule), sl)
		}
	}
}

// execute runs the job holding its slot and releases it when done.
func (s *Scheduler) execute(ctx context.Context, sl *slot) (observability.Run, error) {
	defer func() { <-sl.sem }()

	s.mu.Lock()
	s.active++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.active--
		s.mu.Unlock()
	}()

	runCtx, cancel := context.WithTimeout(ctx, s.config.DefaultTimeout)
	defer cancel()

	run := s.runs.Start(ctx, sl.job.Name)
	version, err := s.safeRun(runCtx, sl.job)
	s.runs.Finish(run, version, err)

	s.mu.Lock()
	switch run.Status {
	case observability.RunOK:
		s.completed++
	case observability.RunSkipped:
		s.skipped++
	default:
		s.failed++
	}
	s.mu.Unlock()

	switch run.Status {
	case observability.RunOK:
		s.log.Info("job completed", "job", run.Job, "trigger", run.Trigger,
			"version", version, "duration", run.Duration.String())
	case observability.RunSkipped:
		s.log.Info("job skipped", "job", run.Job, "trigger", run.Trigger, "reason", run.Error)
	default:
		s.log.Error("job failed", "job", run.Job, "trigger", run.Trigger, "error", run.Error)
	}
	return *run, err
}

func (s *Scheduler) safeRun(ctx context.Context, job Job) (version int64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name, r)
		}
	}()
	return job.Run(ctx, s.now())
}

func (s *Scheduler) slot(name string) (*slot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sl, ok := s.jobs[name]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownJob, name)
	}
	return sl, nil
}

// JobStats describes one registered job.
type JobStats struct {
	Name     string `json:"name"`
	Interval string `json:"interval,omitempty"`
	Running  bool   `json:"running"`

	LastStatus observability.RunStatus `json:"last_status,omitempty"`
	LastRunAt  *time.Time              `json:"last_run_at,omitempty"`
}

// Stats returns scheduler statistics.
type Stats struct {
	Jobs      []JobStats `json:"jobs"`
	Active    int        `json:"active"`
	Completed int64      `json:"completed"`
	Failed    int64      `json:"failed"`
	Skipped   int64      `json:"skipped"`
}

// Stats returns current scheduler statistics.
func (s *Scheduler) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		Active:    s.active,
		Completed: s.completed,
		Failed:    s.failed,
		Skipped:   s.skipped,
	}
	for _, sl := range s.jobs {
		js := JobStats{Name: sl.job.Name, Running: len(sl.sem) > 0}
		if sl.job.Interval > 0 {
			js.Interval = sl.job.Interval.String()
		}
		if last, ok := s.runs.Last(sl.job.Name); ok {
			js.LastStatus = last.Status
			js.LastRunAt = &last.StartedAt
		}
		st.Jobs = append(st.Jobs, js)
	}
	sort.Slice(st.Jobs, func(i, j int) bool { return st.Jobs[i].Name < st.Jobs[j].Name })
	return st
}
