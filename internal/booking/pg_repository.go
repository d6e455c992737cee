package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-booking-engine/internal/idempotency"
)

const (
	pgLockNotAvailable = "55P03"
	pgUniqueViolation  = "23505"
)

type dbPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	pool dbPool
	now  func() time.Time
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	if pool == nil {
		panic("booking: pgx pool required")
	}
	return &PgRepository{pool: pool, now: time.Now}
}

func newPgRepositoryWithPool(pool dbPool) *PgRepository {
	return &PgRepository{pool: pool, now: time.Now}
}

// Helpers

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot
	err := row.Scan(
		&s.ID,
		&s.ClinicID,
		&s.DoctorID,
		&s.Date,
		&s.Time,
		&s.DurationMinutes,
		&s.Available,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}
	return &s, nil
}

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func formatAppointmentNumber(day time.Time, seq int64) string {
	return fmt.Sprintf("APT-%s-%06d", day.UTC().Format("20060102"), seq)
}

// Interface methods

func (r *PgRepository) FindAvailable(ctx context.Context, f SlotFilter) ([]Slot, error) {
	var (
		where = []string{"clinic_id = $1", "is_available"}
		args  = []any{f.ClinicID}
	)
	if f.DoctorID != nil {
		args = append(args, *f.DoctorID)
		where = append(where, fmt.Sprintf("doctor_id = $%d", len(args)))
	}
	if f.Date != "" {
		args = append(args, f.Date)
		where = append(where, fmt.Sprintf("slot_date = $%d::date", len(args)))
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, clinic_id, doctor_id, slot_date::text, to_char(slot_time, 'HH24:MI'), duration_minutes, is_available
		FROM appointment_slots
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY slot_date, slot_time
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query available slots: %w", err)
	}
	defer rows.Close()

	var result []Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		result = append(result, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Claim runs the whole claim in one transaction. The slot row is locked with
// NOWAIT so a competing in-flight claim surfaces as ErrBookingInProgress
// instead of blocking; the UNIQUE(slot_id) constraint on appointments is the
// last line of defence against a double booking.
func (r *PgRepository) Claim(ctx context.Context, p ClaimParams) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer func() {
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	slot, err := scanSlot(tx.QueryRow(ctx, `
		SELECT id, clinic_id, doctor_id, slot_date::text, to_char(slot_time, 'HH24:MI'), duration_minutes, is_available
		FROM appointment_slots
		WHERE id = $1
		  AND clinic_id = $2
		FOR UPDATE NOWAIT
	`, p.SlotID, p.ClinicID))
	if err != nil {
		if errors.Is(err, ErrSlotNotFound) {
			return nil, ErrSlotNotFound
		}
		if pgErrorCode(err) == pgLockNotAvailable {
			return nil, ErrBookingInProgress
		}
		return nil, fmt.Errorf("lock slot: %w", err)
	}
	if !slot.Available {
		return nil, ErrSlotUnavailable
	}

	ct, err := tx.Exec(ctx, `
		UPDATE appointment_slots
		SET is_available = false,
		    updated_at = now()
		WHERE id = $1
		  AND is_available
	`, p.SlotID)
	if err != nil {
		return nil, fmt.Errorf("flip slot availability: %w", err)
	}
	if ct.RowsAffected() != 1 {
		return nil, ErrSlotUnavailable
	}

	var seq int64
	if err := tx.QueryRow(ctx, `SELECT nextval('appointment_number_seq')`).Scan(&seq); err != nil {
		return nil, fmt.Errorf("next appointment number: %w", err)
	}

	appt := &Appointment{
		ID:          uuid.New(),
		Number:      formatAppointmentNumber(r.now(), seq),
		ClinicID:    p.ClinicID,
		PatientID:   p.PatientID,
		SlotID:      p.SlotID,
		SlotDate:    slot.Date,
		SlotTime:    slot.Time,
		VisitReason: p.VisitReason,
		Status:      AppointmentConfirmed,
		BookedBy:    p.UserID,
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO appointments (id, appointment_number, clinic_id, patient_id, slot_id, visit_reason, status, booked_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, appt.ID, appt.Number, appt.ClinicID, appt.PatientID, appt.SlotID, appt.VisitReason, appt.Status, appt.BookedBy).Scan(&appt.CreatedAt)
	if err != nil {
		if pgErrorCode(err) == pgUniqueViolation {
			return nil, ErrSlotUnavailable
		}
		return nil, fmt.Errorf("insert appointment: %w", err)
	}

	rec, err := ledgerRecord(p.IdempotencyKey, p.UserID, outcomeSuccess, SuccessResult(appt, p.RequestID))
	if err != nil {
		return nil, err
	}
	created, err := idempotency.PutIfAbsentTx(ctx, tx, rec)
	if err != nil {
		return nil, fmt.Errorf("record idempotency: %w", err)
	}
	if !created {
		return nil, ErrIdempotencyConflict
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return appt, nil
}

// ResolvePatient finds the clinic's patient record for an authenticated user.
func (r *PgRepository) ResolvePatient(ctx context.Context, userID string, clinicID uuid.UUID) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.pool.QueryRow(ctx, `
		SELECT id
		FROM patients
		WHERE clinic_id = $1
		  AND user_id = $2
		LIMIT 1
	`, clinicID, userID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrPatientProfileMissing
		}
		return uuid.Nil, fmt.Errorf("resolve patient: %w", err)
	}
	return id, nil
}

// PatientEmail returns the contact email on file, or "" when there is none.
func (r *PgRepository) PatientEmail(ctx context.Context, patientID uuid.UUID) (string, error) {
	var email *string
	err := r.pool.QueryRow(ctx, `
		SELECT email
		FROM patients
		WHERE id = $1
	`, patientID).Scan(&email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("patient email: %w", err)
	}
	if email == nil {
		return "", nil
	}
	return *email, nil
}
