package leads

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrLeadNotFound  = errors.New("lead not found")
	ErrInvalidStatus = errors.New("invalid lead status")

	ErrAppointmentNotFound = errors.New("appointment not found")
)

type Repository interface {
	// Create inserts the lead. created is false when a lead with the same
	// idempotency key already exists; nothing is written in that case.
	Create(ctx context.Context, lead *Lead) (created bool, err error)
	// HasIdempotencyKey reports whether a committed lead carries key.
	HasIdempotencyKey(ctx context.Context, key string) (bool, error)
	Get(ctx context.Context, id uuid.UUID) (*Lead, error)
	List(ctx context.Context, f ListFilter) ([]Lead, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status) (*Lead, error)
	LinkToAppointment(ctx context.Context, id, appointmentID uuid.UUID) (*Lead, error)
}
