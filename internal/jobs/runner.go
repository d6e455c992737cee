package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/hackgods/clinic-booking-engine/internal/observability/metrics"
)

var tracer = otel.Tracer("github.com/hackgods/clinic-booking-engine/internal/jobs")

// Queue is the storage the runner needs. *Store implements it.
type Queue interface {
	ClaimDue(ctx context.Context, now time.Time) (*Job, error)
	MarkCompleted(ctx context.Context, id int64, lockedAt time.Time) error
	MarkFailed(ctx context.Context, id int64, lockedAt time.Time, attempts int, lastErr string) error
	Reschedule(ctx context.Context, id int64, lockedAt time.Time, attempts int, runAt time.Time, lastErr string) error
	RequeueStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// Runner polls the queue and dispatches due jobs to registered handlers.
type Runner struct {
	queue      Queue
	registry   *Registry
	metrics    *metrics.BookingMetrics
	logger     zerolog.Logger
	now        func() time.Time
	interval   time.Duration
	lease      time.Duration
	maxPerTick int
}

func NewRunner(queue Queue, registry *Registry, m *metrics.BookingMetrics, logger zerolog.Logger) *Runner {
	return &Runner{
		queue:      queue,
		registry:   registry,
		metrics:    m,
		logger:     logger.With().Str("component", "job-runner").Logger(),
		now:        time.Now,
		interval:   15 * time.Second,
		lease:      5 * time.Minute,
		maxPerTick: 100,
	}
}

func (r *Runner) WithInterval(interval time.Duration) *Runner {
	if interval > 0 {
		r.interval = interval
	}
	return r
}

func (r *Runner) WithLease(lease time.Duration) *Runner {
	if lease > 0 {
		r.lease = lease
	}
	return r
}

// handlerTimeout bounds one dispatch. It ends before the lease does, so a
// handler that honours its context has returned before RequeueStale can hand
// the job to another runner.
func (r *Runner) handlerTimeout() time.Duration {
	return r.lease - r.lease/10
}

// RunOnce claims at most one due job and processes it. It reports whether a
// job was claimed.
func (r *Runner) RunOnce(ctx context.Context) (bool, error) {
	now := r.now()
	job, err := r.queue.ClaimDue(ctx, now)
	if err != nil {
		if errors.Is(err, ErrNoJob) {
			return false, nil
		}
		return false, err
	}

	ctx, span := tracer.Start(ctx, "jobs.dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("job.id", job.ID),
		attribute.String("job.type", string(job.Type)),
		attribute.Int("job.attempts", job.Attempts),
	)

	log := r.logger.With().Int64("job_id", job.ID).Str("job_type", string(job.Type)).Logger()

	var lockedAt time.Time
	if job.LockedAt != nil {
		lockedAt = *job.LockedAt
	}
	done := func(err error) (bool, error) {
		if errors.Is(err, ErrLeaseLost) {
			log.Warn().Msg("lease expired before the job finished; result dropped")
			return true, nil
		}
		return true, err
	}

	handler, ok := r.registry.lookup(job.Type)
	if !ok {
		log.Error().Msg("no handler registered for job type; marking failed")
		r.metrics.ObserveJob(string(job.Type), "failed", 0)
		span.SetStatus(codes.Error, "no handler")
		return done(r.queue.MarkFailed(ctx, job.ID, lockedAt, job.Attempts, "no handler registered for job type"))
	}

	hctx, cancel := context.WithTimeout(ctx, r.handlerTimeout())
	start := time.Now()
	herr := safeHandle(hctx, handler, *job)
	elapsed := time.Since(start).Seconds()
	cancel()

	if herr == nil {
		r.metrics.ObserveJob(string(job.Type), "completed", elapsed)
		log.Debug().Msg("job completed")
		return done(r.queue.MarkCompleted(ctx, job.ID, lockedAt))
	}

	span.RecordError(herr)
	attempts := job.Attempts + 1
	if attempts >= MaxAttempts {
		r.metrics.ObserveJob(string(job.Type), "failed", elapsed)
		log.Error().Err(herr).Int("attempts", attempts).Msg("job failed permanently")
		span.SetStatus(codes.Error, "failed permanently")
		return done(r.queue.MarkFailed(ctx, job.ID, lockedAt, attempts, herr.Error()))
	}

	next := now.Add(BackoffDelay(attempts))
	r.metrics.ObserveJob(string(job.Type), "retried", elapsed)
	log.Warn().Err(herr).Int("attempts", attempts).Time("next_run_at", next).Msg("job failed; rescheduled")
	return done(r.queue.Reschedule(ctx, job.ID, lockedAt, attempts, next, herr.Error()))
}

// Start runs until ctx is cancelled, draining due jobs on every tick.
func (r *Runner) Start(ctx context.Context) {
	r.tick(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("shutdown signal received, stopping job runner")
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	if n, err := r.queue.RequeueStale(ctx, r.now().Add(-r.lease)); err != nil {
		r.logger.Error().Err(err).Msg("requeue stale jobs failed")
	} else if n > 0 {
		r.logger.Warn().Int64("count", n).Msg("expired job leases counted as failed attempts")
	}

	for i := 0; i < r.maxPerTick; i++ {
		if ctx.Err() != nil {
			return
		}
		claimed, err := r.RunOnce(ctx)
		if err != nil {
			r.logger.Error().Err(err).Msg("job run failed")
			return
		}
		if !claimed {
			return
		}
	}
}

func safeHandle(ctx context.Context, h Handler, job Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return h.Handle(ctx, job)
}
