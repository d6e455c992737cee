package leads

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking-engine/internal/jobs"
	"github.com/hackgods/clinic-booking-engine/internal/observability/metrics"
)

var ErrSystemFailure = errors.New("lead system failure")

const (
	msgReceived      = "Thank you. We’ve received your request. Our care team will contact you shortly to confirm your appointment."
	msgSystemFailure = "We could not save your request due to a system issue. Please try again or call the clinic."
)

type JobEnqueuer interface {
	Enqueue(ctx context.Context, t jobs.Type, payload any, runAt *time.Time) (int64, error)
}

type Service struct {
	repo    Repository
	dedup   Deduper
	jobs    JobEnqueuer
	metrics *metrics.BookingMetrics
	logger  zerolog.Logger
}

// NewService wires lead intake. dedup, jobQueue and m may be nil.
func NewService(repo Repository, dedup Deduper, jobQueue JobEnqueuer, m *metrics.BookingMetrics, logger zerolog.Logger) *Service {
	return &Service{
		repo:    repo,
		dedup:   dedup,
		jobs:    jobQueue,
		metrics: m,
		logger:  logger.With().Str("component", "leads").Logger(),
	}
}

// Submit records a public booking request. Duplicate submissions under the
// same idempotency key get the same answer and write nothing.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	req.normalize()
	if err := validateSubmit(req); err != nil {
		s.metrics.ObserveLead("invalid")
		var verr *ValidationError
		errors.As(err, &verr)
		return SubmitResult{Status: SubmitFailed, Message: verr.Message}, err
	}

	if req.IdempotencyKey != "" && s.dedup != nil {
		seen, err := s.dedup.Seen(ctx, req.IdempotencyKey)
		switch {
		case err != nil:
			s.logger.Warn().Err(err).Msg("lead dedup check failed; relying on database")
		case seen && s.stored(ctx, req.IdempotencyKey):
			s.metrics.ObserveLead("duplicate")
			return SubmitResult{Status: SubmitPending, Message: msgReceived}, nil
		}
	}

	lead := &Lead{
		ID:                uuid.New(),
		Name:              req.Name,
		Phone:             NormalizePhone(req.Phone),
		Reason:            req.Reason,
		PreferredTime:     req.PreferredTime,
		ContactPreference: req.ContactPreference,
		Source:            req.Source,
		Status:            StatusNew,
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		lead.IdempotencyKey = &key
	}

	created, err := s.repo.Create(ctx, lead)
	if err != nil {
		s.forget(ctx, req.IdempotencyKey)
		s.metrics.ObserveLead("failed")
		s.logger.Error().Err(err).Str("source", lead.Source).Msg("failed to persist public booking request")
		return SubmitResult{Status: SubmitFailed, Message: msgSystemFailure}, fmt.Errorf("%w: %v", ErrSystemFailure, err)
	}
	if !created {
		s.metrics.ObserveLead("duplicate")
		return SubmitResult{Status: SubmitPending, Message: msgReceived}, nil
	}

	s.enqueueReceived(ctx, lead)
	s.metrics.ObserveLead("accepted")
	s.logger.Info().Str("lead_id", lead.ID.String()).Str("contact_preference", string(lead.ContactPreference)).Msg("public booking request received")
	return SubmitResult{Status: SubmitPending, Message: msgReceived}, nil
}

// stored confirms a Redis hit against the database. The first submission may
// still be in flight or may have failed; in both cases the insert below,
// serialised by the unique key, decides.
func (s *Service) stored(ctx context.Context, key string) bool {
	ok, err := s.repo.HasIdempotencyKey(ctx, key)
	if err != nil {
		s.logger.Warn().Err(err).Msg("lead key lookup failed; relying on insert")
		return false
	}
	return ok
}

func (s *Service) forget(ctx context.Context, key string) {
	if key == "" || s.dedup == nil {
		return
	}
	if err := s.dedup.Forget(context.WithoutCancel(ctx), key); err != nil {
		s.logger.Warn().Err(err).Msg("could not clear lead dedup key")
	}
}

func (s *Service) enqueueReceived(ctx context.Context, lead *Lead) {
	if s.jobs == nil {
		return
	}
	payload := jobs.LeadReceivedPayload{
		LeadID:            lead.ID.String(),
		PreferredTime:     lead.PreferredTime,
		ContactPreference: string(lead.ContactPreference),
	}
	if _, err := s.jobs.Enqueue(context.WithoutCancel(ctx), jobs.TypeLeadReceived, payload, nil); err != nil {
		s.logger.Warn().Err(err).Str("lead_id", lead.ID.String()).Msg("failed to enqueue lead notification")
	}
}

// List returns the staff queue, newest first.
func (s *Service) List(ctx context.Context, f ListFilter) ([]Lead, error) {
	if f.Status != nil && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, *f.Status)
	}
	return s.repo.List(ctx, f)
}

func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) (*Lead, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	lead, err := s.repo.UpdateStatus(ctx, id, status)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("lead_id", id.String()).Str("status", string(status)).Msg("lead status updated")
	return lead, nil
}

// LinkToAppointment attaches the appointment staff booked for this lead and
// marks the lead confirmed.
func (s *Service) LinkToAppointment(ctx context.Context, id, appointmentID uuid.UUID) (*Lead, error) {
	if appointmentID == uuid.Nil {
		return nil, &ValidationError{Field: "AppointmentID", Message: "Appointment id is required."}
	}
	lead, err := s.repo.LinkToAppointment(ctx, id, appointmentID)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("lead_id", id.String()).Str("appointment_id", appointmentID.String()).Msg("lead linked to appointment")
	return lead, nil
}
