package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking-engine/internal/idempotency"
	"github.com/hackgods/clinic-booking-engine/internal/jobs"
)

var (
	ErrSlotNotFound          = errors.New("slot not found")
	ErrSlotUnavailable       = errors.New("slot is no longer available")
	ErrBookingInProgress     = errors.New("slot is currently being booked, please retry")
	ErrPatientProfileMissing = errors.New("patient profile not found")

	// ErrIdempotencyConflict means a concurrent request recorded the same key
	// first; the claim was rolled back and the winner must be returned.
	ErrIdempotencyConflict = errors.New("idempotency key already recorded")
)

// SlotStore is the source of truth for availability.
type SlotStore interface {
	// FindAvailable lists open slots ordered by date then time.
	FindAvailable(ctx context.Context, f SlotFilter) ([]Slot, error)

	// Claim flips the slot to unavailable, creates the appointment and writes
	// the success ledger record atomically. Either all of it commits or none.
	Claim(ctx context.Context, p ClaimParams) (*Appointment, error)
}

type Ledger interface {
	Get(ctx context.Context, key string) (*idempotency.Record, error)
	PutIfAbsent(ctx context.Context, rec idempotency.Record) (bool, error)
}

// PatientResolver maps an authenticated user to the clinic's patient record.
// It returns ErrPatientProfileMissing when no profile exists.
type PatientResolver interface {
	ResolvePatient(ctx context.Context, userID string, clinicID uuid.UUID) (uuid.UUID, error)
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, t jobs.Type, payload any, runAt *time.Time) (int64, error)
}
