// Package observability provides the engine's run history, Prometheus metrics
// and structured logger setup.
//
// This provides:
//   - A ring buffer of batch job runs (spend aggregation, tier resolution)
//   - Prometheus collectors for points, discounts, referrals and jobs
//   - slog setup with optional rotating file output
package observability

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tutu-network/loyalty/internal/domain"
)

// ═══════════════════════════════════════════════════════════════════════════
// Run Log — in-memory history of batch job runs
// ═══════════════════════════════════════════════════════════════════════════

// RunStatus is the outcome of a job run.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunOK      RunStatus = "ok"
	RunFailed  RunStatus = "failed"
	// RunSkipped marks a run that lost its lease or was superseded.
	RunSkipped RunStatus = "skipped"
)

// Run is one execution of a batch job.
type Run struct {
	ID        string        `json:"id"`
	Job       string        `json:"job"`
	Trigger   string        `json:"trigger"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   time.Time     `json:"ended_at,omitempty"`
	Duration  time.Duration `json:"duration_ns,omitempty"`
	Status    RunStatus     `json:"status"`
	Version   int64         `json:"snapshot_version,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// RunLog keeps the most recent job runs.
type RunLog struct {
	mu      sync.Mutex
	runs    []Run
	maxRuns int
}

// RunLogConfig configures the run log.
type RunLogConfig struct {
	MaxRuns int // ring buffer size (default 500)
}

// DefaultRunLogConfig returns production defaults.
func DefaultRunLogConfig() RunLogConfig {
	return RunLogConfig{MaxRuns: 500}
}

// NewRunLog creates a run log.
func NewRunLog(cfg RunLogConfig) *RunLog {
	if cfg.MaxRuns <= 0 {
		cfg.MaxRuns = DefaultRunLogConfig().MaxRuns
	}
	return &RunLog{
		runs:    make([]Run, 0, cfg.MaxRuns),
		maxRuns: cfg.MaxRuns,
	}
}

// Start begins a run of job. The caller must call Finish when done.
func (l *RunLog) Start(ctx context.Context, job string) *Run {
	return &Run{
		ID:        uuid.New().String(),
		Job:       job,
		Trigger:   triggerFromContext(ctx),
		StartedAt: time.Now().UTC(),
		Status:    RunRunning,
	}
}

// Finish completes a run and records it. version is the snapshot version the
// run published (0 if none). Lease and staleness errors record a skipped run.
func (l *RunLog) Finish(run *Run, version int64, err error) {
	if run == nil {
		return
	}
	run.EndedAt = time.Now().UTC()
	run.Duration = run.EndedAt.Sub(run.StartedAt)
	run.Version = version
	switch {
	case err == nil:
		run.Status = RunOK
	case errors.Is(err, domain.ErrLeaseHeld), errors.Is(err, domain.ErrStaleSnapshot):
		run.Status = RunSkipped
		run.Error = err.Error()
	default:
		run.Status = RunFailed
		run.Error = err.Error()
	}

	JobRuns.WithLabelValues(run.Job, string(run.Status)).Inc()
	JobDuration.WithLabelValues(run.Job).Observe(run.Duration.Seconds())

	l.mu.Lock()
	defer l.mu.Unlock()

	// Ring buffer: overwrite oldest if at capacity
	if len(l.runs) >= l.maxRuns {
		l.runs = l.runs[1:]
	}
	l.runs = append(l.runs, *run)
}

// Runs returns a copy of the most recent runs, oldest first.
func (l *RunLog) Runs(limit int) []Run {
	l.mu.Lock()
	defer l.mu.Unlock()

	if limit <= 0 || limit > len(l.runs) {
		limit = len(l.runs)
	}
	start := len(l.runs) - limit
	out := make([]Run, limit)
	copy(out, l.runs[start:])
	return out
}

// Last returns the most recent run of job, if any.
func (l *RunLog) Last(job string) (Run, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.runs) - 1; i >= 0; i-- {
		if l.runs[i].Job == job {
			return l.runs[i], true
		}
	}
	return Run{}, false
}

// ─── Context Helpers ────────────────────────────────────────────────────────

type contextKey string

const triggerKey contextKey = "loyalty-run-trigger"

// Trigger values.
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

// WithTrigger returns a context recording what started a run.
func WithTrigger(ctx context.Context, trigger string) context.Context {
	return context.WithValue(ctx, triggerKey, trigger)
}

func triggerFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(triggerKey).(string); ok {
		return v
	}
	return TriggerManual
}
