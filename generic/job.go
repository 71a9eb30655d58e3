/*
job.go - Single-slot batch job with pollable progress

PURPOSE:
  Runs a long batch (the stock-ledger rebuild) so that at most one run
  is in flight, and exposes a status record that other goroutines can
  poll while it runs.

LIFECYCLE:
  Run -> obtain slot (else ErrJobRunning)
      -> new status {id, current: 0, total: 0, running: true}
      -> fn reports through *Progress
      -> status {running: false, finished_at, error?}
      -> release slot

  The status of the last run stays readable after it finishes. Each run
  gets a fresh UUID so pollers can tell runs apart.

SEE ALSO:
  - lock.go: LocalLocker / store/redis.Locker
  - ledger/rebuild.go: The rebuild job body
*/
package generic

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// JobStatus is a point-in-time copy of a job's progress.
type JobStatus struct {
	ID         string     `json:"id,omitempty"`
	Current    int        `json:"current"`
	Total      int        `json:"total"`
	Running    bool       `json:"running"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// JobObserver is notified when a run ends.
type JobObserver interface {
	JobFinished(job string, processed int, err error)
}

type nopJobObserver struct{}

func (nopJobObserver) JobFinished(string, int, error) {}

// JobConfig configures a Job.
type JobConfig struct {
	Name     string
	Locker   Locker // defaults to a private LocalLocker
	Clock    Clock
	Logger   *zap.Logger
	Observer JobObserver
}

// Job serializes runs of one batch.
type Job struct {
	cfg JobConfig

	mu     sync.RWMutex
	status JobStatus
}

func NewJob(cfg JobConfig) *Job {
	if cfg.Locker == nil {
		cfg.Locker = NewLocalLocker()
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Observer == nil {
		cfg.Observer = nopJobObserver{}
	}
	cfg.Logger = cfg.Logger.With(zap.String("job", cfg.Name))
	return &Job{cfg: cfg}
}

// Status returns a copy of the current or last run's status.
func (j *Job) Status() JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

// Run executes fn while holding the job slot. A second concurrent Run
// returns ErrJobRunning without touching the status of the first.
func (j *Job) Run(ctx context.Context, fn func(ctx context.Context, p *Progress) error) (JobStatus, error) {
	release, err := j.cfg.Locker.Obtain(ctx, "job:"+j.cfg.Name)
	if err != nil {
		if errors.Is(err, ErrLockNotObtained) {
			return j.Status(), fmt.Errorf("%s: %w", j.cfg.Name, ErrJobRunning)
		}
		return j.Status(), fmt.Errorf("%s: obtain slot: %w", j.cfg.Name, err)
	}
	defer func() {
		if rerr := release(context.WithoutCancel(ctx)); rerr != nil {
			j.cfg.Logger.Warn("failed to release job slot", zap.Error(rerr))
		}
	}()

	started := j.cfg.Clock()
	j.mu.Lock()
	j.status = JobStatus{ID: uuid.NewString(), Running: true, StartedAt: &started}
	id := j.status.ID
	j.mu.Unlock()

	j.cfg.Logger.Info("job started", zap.String("job_id", id))

	runErr := fn(ctx, &Progress{job: j})

	finished := j.cfg.Clock()
	j.mu.Lock()
	j.status.Running = false
	j.status.FinishedAt = &finished
	if runErr != nil {
		j.status.Error = runErr.Error()
	}
	final := j.status
	j.mu.Unlock()

	j.cfg.Observer.JobFinished(j.cfg.Name, final.Current, runErr)
	if runErr != nil {
		j.cfg.Logger.Error("job aborted", zap.String("job_id", id),
			zap.Int("current", final.Current), zap.Int("total", final.Total), zap.Error(runErr))
	} else {
		j.cfg.Logger.Info("job finished", zap.String("job_id", id),
			zap.Int("processed", final.Current), zap.Duration("took", finished.Sub(started)))
	}
	return final, runErr
}

// =============================================================================
// PROGRESS - Handle passed to the job body
// =============================================================================

type Progress struct {
	job *Job
}

// ID is the current run's identifier.
func (p *Progress) ID() string {
	p.job.mu.RLock()
	defer p.job.mu.RUnlock()
	return p.job.status.ID
}

// SetTotal records the expected number of steps.
func (p *Progress) SetTotal(n int) {
	p.job.mu.Lock()
	p.job.status.Total = n
	p.job.mu.Unlock()
}

// SetCurrent records the number of steps completed.
func (p *Progress) SetCurrent(n int) {
	p.job.mu.Lock()
	p.job.status.Current = n
	p.job.mu.Unlock()
}
