package booking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var slotColumns = []string{"id", "clinic_id", "doctor_id", "slot_date", "slot_time", "duration_minutes", "is_available"}

func newMockRepository(t *testing.T) (*PgRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	repo := newPgRepositoryWithPool(mock)
	repo.now = func() time.Time { return time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC) }
	return repo, mock
}

func testClaimParams() ClaimParams {
	return ClaimParams{
		IdempotencyKey: "K1",
		RequestID:      "req-1",
		UserID:         "user-1",
		ClinicID:       uuid.New(),
		SlotID:         uuid.New(),
		PatientID:      uuid.New(),
		VisitReason:    "fever",
	}
}

func expectSlotLock(mock pgxmock.PgxPoolIface, p ClaimParams, available bool) {
	doctor := uuid.New()
	mock.ExpectQuery("FOR UPDATE NOWAIT").
		WithArgs(p.SlotID, p.ClinicID).
		WillReturnRows(pgxmock.NewRows(slotColumns).
			AddRow(p.SlotID, p.ClinicID, &doctor, "2026-03-02", "09:00", 15, available))
}

func expectAppointmentInsert(mock pgxmock.PgxPoolIface, p ClaimParams, number string) *pgxmock.ExpectedQuery {
	return mock.ExpectQuery("INSERT INTO appointments").
		WithArgs(pgxmock.AnyArg(), number, p.ClinicID, p.PatientID, p.SlotID, p.VisitReason, AppointmentConfirmed, p.UserID)
}

func TestClaimCommitsAppointmentAndLedger(t *testing.T) {
	repo, mock := newMockRepository(t)
	p := testClaimParams()
	created := time.Date(2026, 3, 1, 8, 30, 1, 0, time.UTC)

	mock.ExpectBegin()
	expectSlotLock(mock, p, true)
	mock.ExpectExec("UPDATE appointment_slots").
		WithArgs(p.SlotID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("nextval").
		WillReturnRows(pgxmock.NewRows([]string{"nextval"}).AddRow(int64(12)))
	mock.ExpectQuery("INSERT INTO appointments").
		WithArgs(pgxmock.AnyArg(), "APT-20260301-000012", p.ClinicID, p.PatientID, p.SlotID, "fever", AppointmentConfirmed, "user-1").
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(created))
	mock.ExpectExec("INSERT INTO booking_idempotency").
		WithArgs("K1", "user-1", outcomeSuccess, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	appt, err := repo.Claim(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, "APT-20260301-000012", appt.Number)
	assert.Equal(t, p.SlotID, appt.SlotID)
	assert.Equal(t, "2026-03-02", appt.SlotDate)
	assert.Equal(t, "09:00", appt.SlotTime)
	assert.Equal(t, created, appt.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimRollsBackWhenInsertFails(t *testing.T) {
	repo, mock := newMockRepository(t)
	p := testClaimParams()

	mock.ExpectBegin()
	expectSlotLock(mock, p, true)
	mock.ExpectExec("UPDATE appointment_slots").
		WithArgs(p.SlotID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("nextval").
		WillReturnRows(pgxmock.NewRows([]string{"nextval"}).AddRow(int64(1)))
	expectAppointmentInsert(mock, p, "APT-20260301-000001").
		WillReturnError(errors.New("connection reset by peer"))
	mock.ExpectRollback()

	appt, err := repo.Claim(context.Background(), p)
	require.Error(t, err)
	assert.Nil(t, appt)
	assert.NotErrorIs(t, err, ErrSlotUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet(), "the slot flip must not be committed")
}

func TestClaimSlotNotFound(t *testing.T) {
	repo, mock := newMockRepository(t)
	p := testClaimParams()

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE NOWAIT").
		WithArgs(p.SlotID, p.ClinicID).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err := repo.Claim(context.Background(), p)
	assert.ErrorIs(t, err, ErrSlotNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimSlotAlreadyTaken(t *testing.T) {
	repo, mock := newMockRepository(t)
	p := testClaimParams()

	mock.ExpectBegin()
	expectSlotLock(mock, p, false)
	mock.ExpectRollback()

	_, err := repo.Claim(context.Background(), p)
	assert.ErrorIs(t, err, ErrSlotUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimRowLockedMeansInProgress(t *testing.T) {
	repo, mock := newMockRepository(t)
	p := testClaimParams()

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE NOWAIT").
		WithArgs(p.SlotID, p.ClinicID).
		WillReturnError(&pgconn.PgError{Code: pgLockNotAvailable, Message: "could not obtain lock on row"})
	mock.ExpectRollback()

	_, err := repo.Claim(context.Background(), p)
	assert.ErrorIs(t, err, ErrBookingInProgress)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimUniqueSlotViolationMeansUnavailable(t *testing.T) {
	repo, mock := newMockRepository(t)
	p := testClaimParams()

	mock.ExpectBegin()
	expectSlotLock(mock, p, true)
	mock.ExpectExec("UPDATE appointment_slots").
		WithArgs(p.SlotID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("nextval").
		WillReturnRows(pgxmock.NewRows([]string{"nextval"}).AddRow(int64(3)))
	expectAppointmentInsert(mock, p, "APT-20260301-000003").
		WillReturnError(&pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "appointments_slot_id_key"})
	mock.ExpectRollback()

	_, err := repo.Claim(context.Background(), p)
	assert.ErrorIs(t, err, ErrSlotUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimLedgerConflictRollsBack(t *testing.T) {
	repo, mock := newMockRepository(t)
	p := testClaimParams()

	mock.ExpectBegin()
	expectSlotLock(mock, p, true)
	mock.ExpectExec("UPDATE appointment_slots").
		WithArgs(p.SlotID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("nextval").
		WillReturnRows(pgxmock.NewRows([]string{"nextval"}).AddRow(int64(4)))
	expectAppointmentInsert(mock, p, "APT-20260301-000004").
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mock.ExpectExec("INSERT INTO booking_idempotency").
		WithArgs("K1", "user-1", outcomeSuccess, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectRollback()

	_, err := repo.Claim(context.Background(), p)
	assert.ErrorIs(t, err, ErrIdempotencyConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindAvailableAppliesFilters(t *testing.T) {
	repo, mock := newMockRepository(t)
	clinic := uuid.New()
	doctor := uuid.New()
	s1, s2 := uuid.New(), uuid.New()

	mock.ExpectQuery(`doctor_id = \$2 AND slot_date = \$3::date`).
		WithArgs(clinic, doctor, "2026-03-02").
		WillReturnRows(pgxmock.NewRows(slotColumns).
			AddRow(s1, clinic, &doctor, "2026-03-02", "09:00", 15, true).
			AddRow(s2, clinic, &doctor, "2026-03-02", "09:15", 15, true))

	slots, err := repo.FindAvailable(context.Background(), SlotFilter{ClinicID: clinic, DoctorID: &doctor, Date: "2026-03-02"})
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, s1, slots[0].ID)
	assert.Equal(t, "09:15", slots[1].Time)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolvePatient(t *testing.T) {
	repo, mock := newMockRepository(t)
	clinic := uuid.New()
	patient := uuid.New()

	mock.ExpectQuery("FROM patients").
		WithArgs(clinic, "user-1").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(patient))
	mock.ExpectQuery("FROM patients").
		WithArgs(clinic, "stranger").
		WillReturnError(pgx.ErrNoRows)

	got, err := repo.ResolvePatient(context.Background(), "user-1", clinic)
	require.NoError(t, err)
	assert.Equal(t, patient, got)

	_, err = repo.ResolvePatient(context.Background(), "stranger", clinic)
	assert.ErrorIs(t, err, ErrPatientProfileMissing)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFormatAppointmentNumber(t *testing.T) {
	day := time.Date(2026, 12, 31, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, "APT-20261231-000042", formatAppointmentNumber(day, 42))
	assert.Equal(t, "APT-20261231-1234567", formatAppointmentNumber(day, 1234567))
}

func TestPatientEmail(t *testing.T) {
	repo, mock := newMockRepository(t)
	withEmail, withoutEmail := uuid.New(), uuid.New()
	addr := "mei@example.com"
	var none *string

	mock.ExpectQuery("SELECT email").
		WithArgs(withEmail).
		WillReturnRows(pgxmock.NewRows([]string{"email"}).AddRow(&addr))
	mock.ExpectQuery("SELECT email").
		WithArgs(withoutEmail).
		WillReturnRows(pgxmock.NewRows([]string{"email"}).AddRow(none))

	got, err := repo.PatientEmail(context.Background(), withEmail)
	require.NoError(t, err)
	assert.Equal(t, addr, got)

	got, err = repo.PatientEmail(context.Background(), withoutEmail)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}
