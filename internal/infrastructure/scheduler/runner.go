package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"NewsIndexer/internal/domain"
	"NewsIndexer/internal/metrics"
	"NewsIndexer/internal/retry"
)

// ErrSkipped is returned by an action that had nothing to do. The run is
// recorded as skipped and is not retried.
var ErrSkipped = domain.ErrJobSkipped

const (
	defaultMaxWait = time.Minute
	defaultUnwind  = 10 * time.Second
)

// Action is the work a job performs on each firing.
type Action func(ctx context.Context) error

// Job binds an action to its trigger and retry policy.
type Job struct {
	ID      string
	Trigger Trigger
	Retry   retry.Policy
	// Timeout bounds one firing including retries; zero means no limit.
	Timeout time.Duration
	Action  Action
}

// StateStore persists job runs across restarts.
type StateStore interface {
	Load() (map[string]domain.JobRun, error)
	Save(runs []domain.JobRun) error
}

type jobEntry struct {
	job     Job
	run     domain.JobRun
	running bool
}

// Runner fires registered jobs on their triggers. Each firing runs on its
// own goroutine; a job that is still running when it becomes due again is
// skipped for that tick.
type Runner struct {
	clock   Clock
	sleep   retry.SleepFunc
	store   StateStore
	metrics *metrics.Metrics
	logger  *slog.Logger
	maxWait time.Duration
	// unwind bounds the wait for cancelled runs after a stop deadline.
	unwind time.Duration

	mu        sync.Mutex
	jobs      map[string]*jobEntry
	order     []string
	persisted map[string]domain.JobRun
	loaded    bool

	persistMu sync.Mutex
	inflight  sync.WaitGroup

	loopCancel context.CancelFunc
	loopDone   chan struct{}
	runCancel  context.CancelFunc
}

// Option configures a Runner.
type Option func(*Runner)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(r *Runner) { r.clock = c }
}

// WithSleep replaces the wait used between retries.
func WithSleep(fn retry.SleepFunc) Option {
	return func(r *Runner) { r.sleep = fn }
}

// WithStateStore persists job runs after every change.
func WithStateStore(s StateStore) Option {
	return func(r *Runner) { r.store = s }
}

// WithMetrics records job outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithMaxWait caps how long the loop sleeps before re-checking triggers.
func WithMaxWait(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.maxWait = d
		}
	}
}

// WithUnwindTimeout bounds how long Stop waits for cancelled runs to return
// once its deadline has passed.
func WithUnwindTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.unwind = d
		}
	}
}

// NewRunner builds an idle runner.
func NewRunner(log *slog.Logger, opts ...Option) *Runner {
	r := &Runner{
		clock:   SystemClock(),
		sleep:   retry.Sleep,
		logger:  log,
		maxWait: defaultMaxWait,
		unwind:  defaultUnwind,
		jobs:    make(map[string]*jobEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds job. Persisted counters for the same id are restored.
func (r *Runner) Register(job Job) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	if job.Trigger == nil {
		return fmt.Errorf("job %s: trigger is required", job.ID)
	}
	if job.Action == nil {
		return fmt.Errorf("job %s: action is required", job.ID)
	}
	if err := job.Retry.Validate(); err != nil {
		return fmt.Errorf("job %s: %w", job.ID, err)
	}

	r.mu.Lock()
	if _, exists := r.jobs[job.ID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("job %s already registered", job.ID)
	}
	r.loadPersistedLocked()

	run := domain.JobRun{JobID: job.ID}
	if prev, ok := r.persisted[job.ID]; ok {
		run = prev
	}
	now := r.clock.Now()
	trigger := job.Trigger.String()
	if run.Trigger != trigger || !run.NextRunTime.After(now) {
		run.NextRunTime = job.Trigger.Next(now)
	}
	run.Trigger = trigger
	run.State = domain.JobIdle

	r.jobs[job.ID] = &jobEntry{job: job, run: run}
	r.order = append(r.order, job.ID)
	r.mu.Unlock()

	r.info("job registered", "job", job.ID, "trigger", run.Trigger, "next_run", run.NextRunTime, "retry", job.Retry.String())
	r.persist()
	return nil
}

func (r *Runner) loadPersistedLocked() {
	if r.loaded || r.store == nil {
		return
	}
	r.loaded = true
	runs, err := r.store.Load()
	if err != nil {
		r.warn("job state not restored", "error", err)
		return
	}
	r.persisted = runs
}

// Fire starts every job due at now and returns the ids started. Jobs still
// running from an earlier firing are recorded as skipped.
func (r *Runner) Fire(ctx context.Context, now time.Time) []string {
	var started []string
	var skipped bool

	r.mu.Lock()
	for _, id := range r.order {
		e := r.jobs[id]
		if now.Before(e.run.NextRunTime) {
			continue
		}
		e.run.NextRunTime = e.job.Trigger.Next(now)

		if e.running {
			e.run.Skips++
			skipped = true
			r.metrics.ObserveJob(id, string(domain.JobSkipped), 0)
			r.warn("job still running, skipping tick", "job", id, "run_id", e.run.LastRunID)
			continue
		}

		runID := uuid.NewString()
		e.running = true
		e.run.State = domain.JobRunning
		e.run.LastRunID = runID
		e.run.LastRunTime = now
		started = append(started, id)

		r.inflight.Add(1)
		go r.execute(ctx, e.job, runID)
	}
	r.mu.Unlock()

	if skipped || len(started) > 0 {
		r.persist()
	}
	return started
}

func (r *Runner) execute(ctx context.Context, job Job, runID string) {
	defer r.inflight.Done()

	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	log := r.logger
	if log != nil {
		log = log.With("job", job.ID, "run_id", runID)
		log.Info("job started")
	}

	begin := r.clock.Now()
	attempts, err := retry.Do(ctx, job.Retry, r.sleep, func(ctx context.Context, attempt int) (retry.Outcome, error) {
		err := invoke(ctx, job.Action)
		switch {
		case err == nil:
			return retry.Success, nil
		case errors.Is(err, ErrSkipped):
			return retry.Fatal, err
		}
		outcome := retry.Classify(err)
		if log != nil && outcome == retry.Retryable && attempt <= job.Retry.MaxRetries {
			log.Warn("job attempt failed, retrying", "attempt", attempt, "error", err)
		}
		return outcome, err
	})
	elapsed := r.clock.Now().Sub(begin)

	status := domain.JobSuccess
	switch {
	case errors.Is(err, ErrSkipped):
		status = domain.JobSkipped
	case err != nil:
		status = domain.JobFailed
	}

	r.mu.Lock()
	if e, ok := r.jobs[job.ID]; ok {
		e.running = false
		e.run.State = domain.JobIdle
		e.run.LastStatus = status
		e.run.RetryCount = max(attempts-1, 0)
		e.run.Runs++
		e.run.LastError = ""
		if status == domain.JobFailed {
			e.run.LastError = err.Error()
		}
		if status == domain.JobSkipped {
			e.run.Skips++
		}
	}
	r.mu.Unlock()

	r.metrics.ObserveJob(job.ID, string(status), elapsed.Seconds())
	if log != nil {
		switch status {
		case domain.JobFailed:
			log.Error("job failed", "attempts", attempts, "duration", elapsed, "error", err)
		case domain.JobSkipped:
			log.Info("job skipped", "reason", err)
		default:
			log.Info("job finished", "attempts", attempts, "duration", elapsed)
		}
	}
	r.persist()
}

// invoke runs the action, turning a panic into an error.
func invoke(ctx context.Context, action Action) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("job panicked: %v\n%s", rec, debug.Stack())
		}
	}()
	return action(ctx)
}

// Wait blocks until every in-flight run has finished.
func (r *Runner) Wait() {
	r.inflight.Wait()
}

// Start runs the trigger loop until ctx is cancelled or Stop is called.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.loopCancel != nil {
		r.mu.Unlock()
		return fmt.Errorf("runner already started")
	}
	loopCtx, loopCancel := context.WithCancel(ctx)
	runCtx, runCancel := context.WithCancel(context.WithoutCancel(ctx))
	r.loopCancel = loopCancel
	r.runCancel = runCancel
	r.loopDone = make(chan struct{})
	done := r.loopDone
	r.mu.Unlock()

	r.info("scheduler started", "jobs", len(r.order))
	go func() {
		defer close(done)
		for {
			now := r.clock.Now()
			r.Fire(runCtx, now)
			select {
			case <-loopCtx.Done():
				return
			case <-r.clock.After(r.untilNext(now)):
			}
		}
	}()
	return nil
}

func (r *Runner) untilNext(now time.Time) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	wait := r.maxWait
	for _, e := range r.jobs {
		if d := e.run.NextRunTime.Sub(now); d < wait {
			wait = d
		}
	}
	if wait < 0 {
		wait = 0
	}
	return wait
}

// Stop halts the loop and waits for in-flight runs. When ctx expires first
// the runs' contexts are cancelled, Stop waits up to the unwind timeout for
// them to return, and ctx's error is returned.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	loopCancel, runCancel, loopDone := r.loopCancel, r.runCancel, r.loopDone
	r.loopCancel, r.runCancel, r.loopDone = nil, nil, nil
	r.mu.Unlock()

	if loopCancel == nil {
		return nil
	}
	loopCancel()
	<-loopDone

	finished := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(finished)
	}()

	var err error
	select {
	case <-finished:
		runCancel()
	case <-ctx.Done():
		err = ctx.Err()
		r.warn("stop deadline reached, cancelling running jobs")
		runCancel()
		select {
		case <-finished:
		case <-time.After(r.unwind):
			r.warn("running jobs did not return after cancel", "waited", r.unwind)
		}
	}
	r.persist()
	r.info("scheduler stopped")
	return err
}

// Status returns the run state of one job.
func (r *Runner) Status(id string) (domain.JobRun, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.jobs[id]
	if !ok {
		return domain.JobRun{}, false
	}
	return e.run, true
}

// Statuses returns every job's run state in registration order.
func (r *Runner) Statuses() []domain.JobRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.JobRun, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.jobs[id].run)
	}
	return out
}

func (r *Runner) persist() {
	if r.store == nil {
		return
	}
	r.persistMu.Lock()
	defer r.persistMu.Unlock()

	if err := r.store.Save(r.Statuses()); err != nil {
		r.warn("persist job state", "error", err)
	}
}

func (r *Runner) info(msg string, args ...interface{}) {
	if r.logger != nil {
		r.logger.Info(msg, args...)
	}
}

func (r *Runner) warn(msg string, args ...interface{}) {
	if r.logger != nil {
		r.logger.Warn(msg, args...)
	}
}
