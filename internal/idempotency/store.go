// Package idempotency persists the final outcome of a request under its
// client supplied idempotency key. Records are written once and never
// updated, so every replay of a key observes the first stored outcome.
package idempotency

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

var ErrNotFound = errors.New("idempotency record not found")

// Record is one ledger row. Owner identifies the caller that spent the key.
// Outcome is a short machine code owned by the caller; Result is the
// serialized response returned on replay.
type Record struct {
	Key       string
	Owner     string
	Outcome   string
	Result    json.RawMessage
	CreatedAt time.Time
}

// Execer is satisfied by pgxpool.Pool and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type querier interface {
	Execer
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	db querier
}

func NewStore(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("idempotency: pgx pool required")
	}
	return &Store{db: pool}
}

func newStoreWithQuerier(q querier) *Store {
	if q == nil {
		panic("idempotency: querier required")
	}
	return &Store{db: q}
}

// Get returns the record stored for key or ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) (*Record, error) {
	var rec Record
	var raw []byte
	err := s.db.QueryRow(ctx, `
		SELECT idempotency_key, owner, outcome, result, created_at
		FROM booking_idempotency
		WHERE idempotency_key = $1
	`, key).Scan(&rec.Key, &rec.Owner, &rec.Outcome, &raw, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("idempotency: get: %w", err)
	}
	rec.Result = append(json.RawMessage(nil), raw...)
	return &rec, nil
}

// PutIfAbsent stores rec unless the key already exists. It reports whether
// this call created the record; on false the caller must re-read the winner.
func (s *Store) PutIfAbsent(ctx context.Context, rec Record) (bool, error) {
	return PutIfAbsentTx(ctx, s.db, rec)
}

// PutIfAbsentTx is PutIfAbsent against an arbitrary executor so the write can
// join a caller owned transaction.
func PutIfAbsentTx(ctx context.Context, exec Execer, rec Record) (bool, error) {
	if rec.Key == "" {
		return false, errors.New("idempotency: empty key")
	}
	if !json.Valid(rec.Result) {
		return false, errors.New("idempotency: result is not valid JSON")
	}
	ct, err := exec.Exec(ctx, `
		INSERT INTO booking_idempotency (idempotency_key, owner, outcome, result)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, rec.Key, rec.Owner, rec.Outcome, []byte(rec.Result))
	if err != nil {
		return false, fmt.Errorf("idempotency: put: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}
