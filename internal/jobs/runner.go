// Package jobs runs analyses asynchronously off the durable job table,
// with exponential backoff and a fixed attempt cap.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/pbaille/journal/internal/classifier"
	"github.com/pbaille/journal/internal/domain"
	"github.com/pbaille/journal/internal/events"
	"github.com/pbaille/journal/internal/logging"
	"github.com/pbaille/journal/internal/metrics"
	"github.com/pbaille/journal/internal/pipeline"
	"github.com/pbaille/journal/internal/store"
)

// Queue is the durable job table
type Queue interface {
	EnqueueJob(ctx context.Context, contentID string, maxAttempts int, now time.Time) (*domain.Job, error)
	ClaimJob(ctx context.Context, now time.Time) (*domain.Job, error)
	CompleteJob(ctx context.Context, id string, now time.Time) error
	RescheduleJob(ctx context.Context, id, lastErr string, runAt, now time.Time) error
	FailJob(ctx context.Context, id, lastErr string, now time.Time) error
	ReleaseJob(ctx context.Context, id string, now time.Time) error
	RequeueStaleJobs(ctx context.Context, cutoff, now time.Time) (int64, error)
}

// Analyzer runs one analysis
type Analyzer interface {
	Analyze(ctx context.Context, contentID string) (*pipeline.Outcome, error)
}

// Publisher receives lifecycle events
type Publisher interface {
	Publish(ctx context.Context, event events.JobEvent) error
}

// Config for the runner and its workers
type Config struct {
	Workers      int
	MaxAttempts  int
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	PollInterval time.Duration
	StaleAfter   time.Duration
}

func DefaultConfig() Config {
	return Config{
		Workers:      2,
		MaxAttempts:  3,
		BackoffBase:  2 * time.Second,
		BackoffMax:   time.Minute,
		PollInterval: 5 * time.Second,
		StaleAfter:   10 * time.Minute,
	}
}

// Runner drives jobs through queued -> running -> succeeded | queued | failed
type Runner struct {
	queue     Queue
	analyzer  Analyzer
	publisher Publisher
	cfg       Config
	now       func() time.Time
	wake      chan struct{}
}

// NewRunner builds a runner; publisher may be nil
func NewRunner(q Queue, a Analyzer, p Publisher, cfg Config) *Runner {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = def.BackoffBase
	}
	if cfg.BackoffMax < cfg.BackoffBase {
		cfg.BackoffMax = cfg.BackoffBase
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	return &Runner{
		queue:     q,
		analyzer:  a,
		publisher: p,
		cfg:       cfg,
		now:       time.Now,
		wake:      make(chan struct{}, 1),
	}
}

// SetClock replaces time.Now, for tests
func (r *Runner) SetClock(now func() time.Time) {
	r.now = now
}

// Enqueue schedules an analysis of contentID and wakes an idle worker
func (r *Runner) Enqueue(ctx context.Context, contentID string) (*domain.Job, error) {
	job, err := r.queue.EnqueueJob(ctx, contentID, r.cfg.MaxAttempts, r.now())
	if err != nil {
		return nil, fmt.Errorf("enqueue analysis: %w", err)
	}
	metrics.JobsEnqueued.Inc()
	logging.Debug().Str("job_id", job.ID).Str("content_id", contentID).Msg("analysis enqueued")

	select {
	case r.wake <- struct{}{}:
	default:
	}
	return job, nil
}

// Backoff is base * 2^(attempt-1), capped at BackoffMax
func (r *Runner) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := r.cfg.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= r.cfg.BackoffMax {
			return r.cfg.BackoffMax
		}
	}
	return d
}

// RunOnce claims and processes at most one ready job.
// It reports whether a job was claimed.
func (r *Runner) RunOnce(ctx context.Context) (bool, error) {
	job, err := r.queue.ClaimJob(ctx, r.now())
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	return true, r.process(ctx, job)
}

// Drain runs ready jobs until none is left or ctx is done
func (r *Runner) Drain(ctx context.Context) (int, error) {
	n := 0
	for ctx.Err() == nil {
		ran, err := r.RunOnce(ctx)
		if err != nil {
			return n, err
		}
		if !ran {
			return n, nil
		}
		n++
	}
	return n, ctx.Err()
}

func (r *Runner) process(ctx context.Context, job *domain.Job) error {
	log := logging.With().
		Str("job_id", job.ID).
		Str("content_id", job.ContentID).
		Int("attempt", job.Attempts).
		Logger()

	if job.Attempts > job.MaxAttempts {
		log.Error().Int("max_attempts", job.MaxAttempts).Msg("job claimed past its attempt cap, failing")
		return r.fail(context.WithoutCancel(ctx), job, errors.New("attempt cap exceeded"), events.ReasonExhausted, r.now())
	}

	start := time.Now()
	outcome, err := r.analyzer.Analyze(ctx, job.ContentID)
	metrics.JobDuration.Observe(time.Since(start).Seconds())

	// bookkeeping must land even when the worker is being stopped
	bg := context.WithoutCancel(ctx)
	now := r.now()

	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		log.Info().Msg("worker stopping, releasing job")
		if rerr := r.queue.ReleaseJob(bg, job.ID, now); rerr != nil {
			return fmt.Errorf("release job %s: %w", job.ID, rerr)
		}
		return ctx.Err()
	}

	switch {
	case err == nil:
		return r.succeed(bg, log, job, now, string(outcome.Source), "")

	case pipeline.IsNotFound(err):
		// nothing left to analyze
		return r.succeed(bg, log, job, now, "", events.ReasonMissing)

	case classifier.IsTimeout(err):
		log.Warn().Err(err).Msg("analysis timed out, not retrying")
		return r.fail(bg, job, err, events.ReasonTimeout, now)

	case job.Attempts >= job.MaxAttempts:
		log.Error().Err(err).Int("max_attempts", job.MaxAttempts).Msg("analysis failed, retries exhausted")
		return r.fail(bg, job, err, events.ReasonExhausted, now)

	default:
		delay := r.Backoff(job.Attempts)
		log.Warn().Err(err).Dur("retry_in", delay).Msg("analysis failed, retrying")
		if rerr := r.queue.RescheduleJob(bg, job.ID, err.Error(), now.Add(delay), now); rerr != nil {
			return fmt.Errorf("reschedule job %s: %w", job.ID, rerr)
		}
		metrics.JobOutcomes.WithLabelValues("retried").Inc()
		return nil
	}
}

func (r *Runner) succeed(ctx context.Context, log zerolog.Logger, job *domain.Job, now time.Time, source, reason string) error {
	if err := r.queue.CompleteJob(ctx, job.ID, now); err != nil {
		return fmt.Errorf("complete job %s: %w", job.ID, err)
	}

	outcome := "succeeded"
	if reason == events.ReasonMissing {
		outcome = "noop"
		log.Info().Msg("content gone, nothing to analyze")
	} else {
		log.Info().Str("source", source).Msg("analysis job succeeded")
	}
	metrics.JobOutcomes.WithLabelValues(outcome).Inc()

	r.publish(ctx, events.JobEvent{
		JobID:     job.ID,
		ContentID: job.ContentID,
		Status:    string(domain.JobSucceeded),
		Attempts:  job.Attempts,
		Source:    source,
		Reason:    reason,
		At:        now,
	})
	return nil
}

func (r *Runner) fail(ctx context.Context, job *domain.Job, cause error, reason string, now time.Time) error {
	if err := r.queue.FailJob(ctx, job.ID, cause.Error(), now); err != nil {
		return fmt.Errorf("fail job %s: %w", job.ID, err)
	}
	metrics.JobOutcomes.WithLabelValues("failed").Inc()

	r.publish(ctx, events.JobEvent{
		JobID:     job.ID,
		ContentID: job.ContentID,
		Status:    string(domain.JobFailed),
		Attempts:  job.Attempts,
		Error:     cause.Error(),
		Reason:    reason,
		At:        now,
	})
	return nil
}

func (r *Runner) publish(ctx context.Context, e events.JobEvent) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.Publish(ctx, e); err != nil {
		logging.Warn().Err(err).Str("job_id", e.JobID).Msg("publish job event failed")
	}
}

// RecoverStale requeues jobs whose worker vanished mid-run
func (r *Runner) RecoverStale(ctx context.Context) (int64, error) {
	now := r.now()
	n, err := r.queue.RequeueStaleJobs(ctx, now.Add(-r.cfg.StaleAfter), now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logging.Warn().Int64("jobs", n).Msg("requeued stale running jobs")
	}
	return n, nil
}
