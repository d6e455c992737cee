package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNoJob = errors.New("no due job")
	// ErrLeaseLost means the job was requeued after this runner's lease
	// expired; the update was not applied.
	ErrLeaseLost = errors.New("job lease lost")
)

const leaseExpiredError = "lease expired while running"

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists jobs in Postgres.
type Store struct {
	db  rowQuerier
	now func() time.Time
}

func NewStore(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("jobs: pgx pool required")
	}
	return &Store{db: pool, now: time.Now}
}

func newStoreWithQuerier(q rowQuerier) *Store {
	return &Store{db: q, now: time.Now}
}

const jobColumns = `id, queue, payload, run_at, attempts, status, last_error, locked_at, created_at`

func scanJob(row pgx.Row) (*Job, error) {
	var j Job
	var payload []byte
	err := row.Scan(
		&j.ID,
		&j.Type,
		&payload,
		&j.RunAt,
		&j.Attempts,
		&j.Status,
		&j.LastError,
		&j.LockedAt,
		&j.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoJob
		}
		return nil, err
	}
	j.Payload = append(json.RawMessage(nil), payload...)
	return &j, nil
}

// Enqueue appends a pending job. runAt nil means now.
func (s *Store) Enqueue(ctx context.Context, t Type, payload any, runAt *time.Time) (int64, error) {
	if !t.Known() {
		return 0, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("jobs: marshal payload: %w", err)
	}
	at := s.now().UTC()
	if runAt != nil {
		at = runAt.UTC()
	}

	var id int64
	err = s.db.QueryRow(ctx, `
		INSERT INTO jobs (queue, payload, run_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`, string(t), data, at).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("jobs: enqueue %s: %w", t, err)
	}
	return id, nil
}

// ClaimDue moves the oldest due pending job to running and returns it.
// SKIP LOCKED keeps concurrent runners from ever claiming the same row.
func (s *Store) ClaimDue(ctx context.Context, now time.Time) (*Job, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE jobs
		SET status = 'running',
		    locked_at = $1,
		    updated_at = now()
		WHERE id = (
			SELECT id
			FROM jobs
			WHERE status = 'pending'
			  AND run_at <= $1
			ORDER BY run_at, id
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		  AND status = 'pending'
		RETURNING `+jobColumns, now)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, ErrNoJob) {
			return nil, err
		}
		return nil, fmt.Errorf("jobs: claim: %w", err)
	}
	return job, nil
}

// finish applies a terminal or retry transition to a job this runner still
// holds. The locked_at guard makes a stale runner's write a no-op once the
// job has been requeued and claimed again.
func (s *Store) finish(ctx context.Context, op, sql string, args ...any) error {
	ct, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("jobs: %s: %w", op, err)
	}
	if ct.RowsAffected() == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (s *Store) MarkCompleted(ctx context.Context, id int64, lockedAt time.Time) error {
	return s.finish(ctx, "mark completed", `
		UPDATE jobs
		SET status = 'completed',
		    locked_at = NULL,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'running'
		  AND locked_at = $2
	`, id, lockedAt)
}

func (s *Store) MarkFailed(ctx context.Context, id int64, lockedAt time.Time, attempts int, lastErr string) error {
	return s.finish(ctx, "mark failed", `
		UPDATE jobs
		SET status = 'failed',
		    attempts = $3,
		    last_error = $4,
		    locked_at = NULL,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'running'
		  AND locked_at = $2
	`, id, lockedAt, attempts, lastErr)
}

func (s *Store) Reschedule(ctx context.Context, id int64, lockedAt time.Time, attempts int, runAt time.Time, lastErr string) error {
	return s.finish(ctx, "reschedule", `
		UPDATE jobs
		SET status = 'pending',
		    attempts = $3,
		    run_at = $4,
		    last_error = $5,
		    locked_at = NULL,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'running'
		  AND locked_at = $2
	`, id, lockedAt, attempts, runAt.UTC(), lastErr)
}

// RequeueStale hands running jobs whose lease started before cutoff back to
// pending, e.g. after a worker crashed mid-dispatch. An expired lease counts
// as a failed attempt, so a job that keeps killing its worker ends up failed.
func (s *Store) RequeueStale(ctx context.Context, cutoff time.Time) (int64, error) {
	ct, err := s.db.Exec(ctx, `
		UPDATE jobs
		SET attempts = attempts + 1,
		    status = CASE WHEN attempts + 1 >= $2 THEN 'failed' ELSE 'pending' END,
		    last_error = $3,
		    locked_at = NULL,
		    updated_at = now()
		WHERE status = 'running'
		  AND locked_at < $1
	`, cutoff, MaxAttempts, leaseExpiredError)
	if err != nil {
		return 0, fmt.Errorf("jobs: requeue stale: %w", err)
	}
	return ct.RowsAffected(), nil
}
