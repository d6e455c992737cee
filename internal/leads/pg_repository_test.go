package leads

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var leadRowColumns = []string{"id", "name", "phone", "reason", "preferred_time_text", "contact_preference", "source", "status", "appointment_id", "idempotency_key", "created_at", "updated_at"}

func newMockRepo(t *testing.T) (*PgRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return newPgRepositoryWithQuerier(mock), mock
}

func TestPgCreateReportsConflict(t *testing.T) {
	repo, mock := newMockRepo(t)
	key := "form-abc"
	lead := &Lead{ID: uuid.New(), Name: "Tan Mei", Phone: "91234567", Reason: "back pain", PreferredTime: "Sat", ContactPreference: ContactCall, Source: "web", Status: StatusNew, IdempotencyKey: &key}

	mock.ExpectExec("ON CONFLICT \\(idempotency_key\\) DO NOTHING").
		WithArgs(lead.ID, "Tan Mei", "91234567", "back pain", "Sat", ContactCall, "web", StatusNew, &key).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO public_booking_leads").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	created, err := repo.Create(context.Background(), lead)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repo.Create(context.Background(), lead)
	require.NoError(t, err)
	assert.False(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgListByStatusNewestFirst(t *testing.T) {
	repo, mock := newMockRepo(t)
	status := StatusNew
	now := time.Now()
	var noAppt *uuid.UUID
	var noKey *string

	mock.ExpectQuery("WHERE status = \\$1\\s+ORDER BY created_at DESC\\s+LIMIT \\$2").
		WithArgs(StatusNew, 10).
		WillReturnRows(pgxmock.NewRows(leadRowColumns).
			AddRow(uuid.New(), "B", "81234567", "cough", "Mon", ContactEither, "web", StatusNew, noAppt, noKey, now, now).
			AddRow(uuid.New(), "A", "91234567", "fever", "Sun", ContactCall, "web", StatusNew, noAppt, noKey, now.Add(-time.Hour), now))

	leads, err := repo.List(context.Background(), ListFilter{Status: &status, Limit: 1})
	require.NoError(t, err)
	require.Len(t, leads, 2)
	assert.Equal(t, "B", leads[0].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgLinkToAppointmentForcesConfirmed(t *testing.T) {
	repo, mock := newMockRepo(t)
	id, appt := uuid.New(), uuid.New()
	now := time.Now()
	var noKey *string

	mock.ExpectQuery("SET appointment_id = \\$2,\\s+status = 'confirmed'").
		WithArgs(id, appt).
		WillReturnRows(pgxmock.NewRows(leadRowColumns).
			AddRow(id, "Tan Mei", "91234567", "back pain", "Sat", ContactWhatsApp, "web", StatusConfirmed, &appt, noKey, now, now))

	lead, err := repo.LinkToAppointment(context.Background(), id, appt)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, lead.Status)
	require.NotNil(t, lead.AppointmentID)
	assert.Equal(t, appt, *lead.AppointmentID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgUpdateStatusNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectQuery("UPDATE public_booking_leads").
		WithArgs(id, StatusContacted).
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.UpdateStatus(context.Background(), id, StatusContacted)
	assert.ErrorIs(t, err, ErrLeadNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgLinkToUnknownAppointment(t *testing.T) {
	repo, mock := newMockRepo(t)
	id, appt := uuid.New(), uuid.New()

	mock.ExpectQuery("UPDATE public_booking_leads").
		WithArgs(id, appt).
		WillReturnError(&pgconn.PgError{Code: "23503", ConstraintName: "public_booking_leads_appointment_id_fkey"})

	_, err := repo.LinkToAppointment(context.Background(), id, appt)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestPgHasIdempotencyKey(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("SELECT EXISTS").WithArgs("form-abc").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("form-xyz").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

	ok, err := repo.HasIdempotencyKey(context.Background(), "form-abc")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.HasIdempotencyKey(context.Background(), "form-xyz")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}
