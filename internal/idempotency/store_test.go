package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return newStoreWithQuerier(mock), mock
}

func TestGetReturnsStoredRecord(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	rows := pgxmock.NewRows([]string{"idempotency_key", "owner", "outcome", "result", "created_at"}).
		AddRow("K1", "user-1", "success", []byte(`{"status":"success"}`), now)
	mock.ExpectQuery("SELECT idempotency_key").WithArgs("K1").WillReturnRows(rows)

	rec, err := store.Get(context.Background(), "K1")
	require.NoError(t, err)
	assert.Equal(t, "success", rec.Outcome)
	assert.Equal(t, "user-1", rec.Owner)
	assert.JSONEq(t, `{"status":"success"}`, string(rec.Result))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMissingKey(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT idempotency_key").WithArgs("nope").WillReturnError(pgx.ErrNoRows)

	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetWrapsDriverErrors(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT idempotency_key").WithArgs("K1").WillReturnError(errors.New("conn reset"))

	_, err := store.Get(context.Background(), "K1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestPutIfAbsentFirstWriterWins(t *testing.T) {
	store, mock := newMockStore(t)
	rec := Record{Key: "K1", Owner: "user-1", Outcome: "success", Result: []byte(`{"status":"success"}`)}

	mock.ExpectExec("INSERT INTO booking_idempotency").
		WithArgs("K1", "user-1", "success", []byte(`{"status":"success"}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO booking_idempotency").
		WithArgs("K1", "user-1", "success", []byte(`{"status":"success"}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	created, err := store.PutIfAbsent(context.Background(), rec)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = store.PutIfAbsent(context.Background(), rec)
	require.NoError(t, err)
	assert.False(t, created, "second writer must not overwrite")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPutIfAbsentRejectsBadInput(t *testing.T) {
	store, _ := newMockStore(t)

	_, err := store.PutIfAbsent(context.Background(), Record{Outcome: "success", Result: []byte(`{}`)})
	assert.Error(t, err)

	_, err = store.PutIfAbsent(context.Background(), Record{Key: "K1", Result: []byte(`{`)})
	assert.Error(t, err)
}
