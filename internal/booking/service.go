package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/hackgods/clinic-booking-engine/internal/idempotency"
	"github.com/hackgods/clinic-booking-engine/internal/jobs"
	"github.com/hackgods/clinic-booking-engine/internal/observability/metrics"
	redisclient "github.com/hackgods/clinic-booking-engine/internal/redis"
)

// ErrSystemFailure marks infrastructure failures. They are never cached, so a
// retry with the same idempotency key is safe.
var ErrSystemFailure = errors.New("booking system failure")

var tracer = otel.Tracer("github.com/hackgods/clinic-booking-engine/internal/booking")

type Options struct {
	DefaultClinicID uuid.UUID
	ClaimTimeout    time.Duration
}

type Service struct {
	slots    SlotStore
	ledger   Ledger
	patients PatientResolver
	locker   redisclient.Locker
	jobs     JobEnqueuer
	metrics  *metrics.BookingMetrics
	logger   zerolog.Logger
	opts     Options
}

// NewService wires the engine. locker, jobs and m may be nil.
func NewService(
	slots SlotStore,
	ledger Ledger,
	patients PatientResolver,
	locker redisclient.Locker,
	jobQueue JobEnqueuer,
	m *metrics.BookingMetrics,
	logger zerolog.Logger,
	opts Options,
) *Service {
	if opts.ClaimTimeout <= 0 {
		opts.ClaimTimeout = 3 * time.Second
	}
	return &Service{
		slots:    slots,
		ledger:   ledger,
		patients: patients,
		locker:   locker,
		jobs:     jobQueue,
		metrics:  m,
		logger:   logger.With().Str("component", "booking").Logger(),
		opts:     opts,
	}
}

// Book turns a slot selection into a confirmed appointment. The returned
// result is always populated with a user safe status and message; err
// carries the taxonomy (ValidationError, ErrSlotNotFound, ErrSlotUnavailable,
// ErrBookingInProgress, ErrPatientProfileMissing, ErrSystemFailure).
func (s *Service) Book(ctx context.Context, req BookingRequest) (BookingResult, error) {
	ctx, span := tracer.Start(ctx, "booking.Book")
	defer span.End()

	start := time.Now()
	res, err := s.book(ctx, req)

	outcome := outcomeLabel(err)
	s.metrics.ObserveBooking(outcome, res.Idempotent, time.Since(start).Seconds())
	span.SetAttributes(
		attribute.String("booking.outcome", outcome),
		attribute.Bool("booking.idempotent", res.Idempotent),
	)
	if errors.Is(err, ErrSystemFailure) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "system failure")
	}
	return res, err
}

func (s *Service) book(ctx context.Context, req BookingRequest) (BookingResult, error) {
	req.normalize(s.opts.DefaultClinicID)
	if err := validateRequest(req); err != nil {
		return failureResult(err, req.RequestID), err
	}

	if res, found, err := s.replay(ctx, req); found {
		return res, err
	}

	if req.PatientID == uuid.Nil {
		patientID, err := s.patients.ResolvePatient(ctx, req.UserID, req.ClinicID)
		if err != nil {
			if errors.Is(err, ErrPatientProfileMissing) {
				s.logger.Info().Str("clinic_id", req.ClinicID.String()).Msg("booking rejected: no patient profile")
				return failureResult(err, req.RequestID), err
			}
			return s.systemFailure(req, "resolve patient", err)
		}
		req.PatientID = patientID
	}

	params := ClaimParams{
		IdempotencyKey: req.IdempotencyKey,
		RequestID:      req.RequestID,
		UserID:         req.UserID,
		ClinicID:       req.ClinicID,
		SlotID:         req.SlotID,
		PatientID:      req.PatientID,
		VisitReason:    req.VisitReason,
	}

	appt, err := s.claim(ctx, params)
	switch {
	case err == nil:
		s.metrics.ObserveClaim(true)
		s.enqueueConfirmation(ctx, appt)
		s.logger.Info().
			Str("slot_id", appt.SlotID.String()).
			Str("appointment_id", appt.ID.String()).
			Msg("appointment booked")
		return SuccessResult(appt, req.RequestID), nil

	case errors.Is(err, ErrIdempotencyConflict):
		return s.readWinner(ctx, req)

	case errors.Is(err, ErrSlotNotFound):
		return s.recordFailure(ctx, req, outcomeSlotNotFound, err)

	case errors.Is(err, ErrSlotUnavailable):
		s.metrics.ObserveClaim(false)
		return s.recordFailure(ctx, req, outcomeSlotUnavailable, err)

	case errors.Is(err, ErrBookingInProgress):
		s.metrics.ObserveClaim(false)
		s.logger.Info().Str("slot_id", req.SlotID.String()).Msg("booking rejected: claim in progress")
		return failureResult(err, req.RequestID), err

	default:
		return s.systemFailure(req, "claim slot", err)
	}
}

// AvailableSlots lists open slots for the listing call.
func (s *Service) AvailableSlots(ctx context.Context, f SlotFilter) ([]Slot, error) {
	if err := validateFilter(f); err != nil {
		return nil, err
	}
	slots, err := s.slots.FindAvailable(ctx, f)
	if err != nil {
		s.logger.Error().Err(err).Str("clinic_id", f.ClinicID.String()).Msg("slot listing failed")
		return nil, fmt.Errorf("%w: list slots: %v", ErrSystemFailure, err)
	}
	return slots, nil
}

// replay returns the stored outcome for the request key. found is false when
// the key has no terminal record yet; a lookup failure counts as found so the
// caller stops with a system failure instead of claiming blind.
func (s *Service) replay(ctx context.Context, req BookingRequest) (res BookingResult, found bool, err error) {
	rec, err := s.ledger.Get(ctx, req.IdempotencyKey)
	if err != nil {
		if errors.Is(err, idempotency.ErrNotFound) {
			return BookingResult{}, false, nil
		}
		res, err = s.systemFailure(req, "ledger lookup", err)
		return res, true, err
	}
	if err := s.checkOwner(req, rec); err != nil {
		return failureResult(err, req.RequestID), true, err
	}
	res, err = replayRecord(rec)
	if errors.Is(err, ErrSystemFailure) {
		s.logger.Error().Err(err).Str("idempotency_key", req.IdempotencyKey).Msg("unreadable ledger record")
	}
	return res, true, err
}

// claim runs the store claim under the per slot lock. A Redis outage does not
// block bookings: the transaction's row lock and the unique slot constraint
// still hold.
func (s *Service) claim(ctx context.Context, p ClaimParams) (*Appointment, error) {
	var appt *Appointment
	run := func(ctx context.Context) error {
		claimCtx, cancel := context.WithTimeout(ctx, s.opts.ClaimTimeout)
		defer cancel()

		a, err := s.slots.Claim(claimCtx, p)
		if err != nil {
			return err
		}
		appt = a
		return nil
	}

	if s.locker == nil {
		err := run(ctx)
		return appt, err
	}

	err := s.locker.WithSlotLock(ctx, p.SlotID, run)
	switch {
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		return nil, ErrBookingInProgress
	case errors.Is(err, redisclient.ErrLockBackend):
		s.logger.Warn().Err(err).Str("slot_id", p.SlotID.String()).Msg("could not obtain redis lock; proceeding without redis lock")
		err = run(ctx)
	}
	return appt, err
}

// recordFailure caches a definitive business failure so identical retries
// short-circuit. If another request already recorded the key, its result wins.
func (s *Service) recordFailure(ctx context.Context, req BookingRequest, outcome string, cause error) (BookingResult, error) {
	res := failureResult(cause, req.RequestID)
	s.logger.Info().
		Str("slot_id", req.SlotID.String()).
		Str("code", outcome).
		Msg("booking rejected")

	rec, err := ledgerRecord(req.IdempotencyKey, req.UserID, outcome, res)
	if err != nil {
		s.logger.Warn().Err(err).Msg("could not encode failure for ledger")
		return res, cause
	}

	created, err := s.ledger.PutIfAbsent(ctx, rec)
	if err != nil {
		// The decision stands; the next retry simply re-checks the slot.
		s.logger.Warn().Err(err).Str("idempotency_key", req.IdempotencyKey).Msg("could not record failure in ledger")
		return res, cause
	}
	if !created {
		return s.readWinner(ctx, req)
	}
	return res, cause
}

func (s *Service) readWinner(ctx context.Context, req BookingRequest) (BookingResult, error) {
	rec, err := s.ledger.Get(ctx, req.IdempotencyKey)
	if err != nil {
		return s.systemFailure(req, "read ledger winner", err)
	}
	if err := s.checkOwner(req, rec); err != nil {
		return failureResult(err, req.RequestID), err
	}
	return replayRecord(rec)
}

// checkOwner rejects a key another user already spent so its stored outcome
// is never handed to a different caller.
func (s *Service) checkOwner(req BookingRequest, rec *idempotency.Record) error {
	if rec.Owner == "" || rec.Owner == req.UserID {
		return nil
	}
	s.logger.Warn().Str("idempotency_key", req.IdempotencyKey).Msg("idempotency key reused by a different user")
	return &ValidationError{Field: "IdempotencyKey", Message: msgKeyReused}
}

func (s *Service) systemFailure(req BookingRequest, stage string, cause error) (BookingResult, error) {
	s.logger.Error().
		Err(cause).
		Str("stage", stage).
		Str("slot_id", req.SlotID.String()).
		Str("clinic_id", req.ClinicID.String()).
		Msg("booking system failure")
	err := fmt.Errorf("%w: %s: %v", ErrSystemFailure, stage, cause)
	return failureResult(err, req.RequestID), err
}

func (s *Service) enqueueConfirmation(ctx context.Context, appt *Appointment) {
	if s.jobs == nil {
		return
	}
	payload := jobs.BookingConfirmationPayload{
		AppointmentID:     appt.ID.String(),
		AppointmentNumber: appt.Number,
		ClinicID:          appt.ClinicID.String(),
		PatientID:         appt.PatientID.String(),
		SlotDate:          appt.SlotDate,
		SlotTime:          appt.SlotTime,
	}
	if _, err := s.jobs.Enqueue(context.WithoutCancel(ctx), jobs.TypeBookingConfirmation, payload, nil); err != nil {
		s.logger.Warn().Err(err).Str("appointment_id", appt.ID.String()).Msg("failed to enqueue booking confirmation")
	}
}
