package booking

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hackgods/clinic-booking-engine/internal/idempotency"
)

// Ledger outcome codes. Only terminal outcomes are ever recorded.
const (
	outcomeSuccess         = "success"
	outcomeSlotNotFound    = "slot_not_found"
	outcomeSlotUnavailable = "slot_unavailable"
)

const (
	msgConfirmed       = "Your appointment has been confirmed."
	msgSlotNotFound    = "Selected slot no longer exists. Please choose another time."
	msgSlotUnavailable = "Sorry, this slot has just been taken. Please choose another time."
	msgInProgress      = "A booking is already in progress for this slot. Please wait a moment or try a different time."
	msgNoPatient       = "We could not find your patient profile. Please contact the clinic to complete your registration."
	msgSystemFailure   = "We could not complete your booking at this time. Please try again or call the clinic."
	msgKeyReused       = "This request key has already been used. Please start a new booking."
)

// SuccessResult is the response stored and returned for a new appointment.
func SuccessResult(appt *Appointment, requestID string) BookingResult {
	return BookingResult{
		Status:            StatusSuccess,
		Message:           msgConfirmed,
		RequestID:         requestID,
		AppointmentID:     appt.ID.String(),
		AppointmentNumber: appt.Number,
	}
}

func failureResult(err error, requestID string) BookingResult {
	res := BookingResult{Status: StatusFailed, RequestID: requestID}
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		res.Message = verr.Message
	case errors.Is(err, ErrSlotNotFound):
		res.Message = msgSlotNotFound
	case errors.Is(err, ErrSlotUnavailable):
		res.Status = StatusConflict
		res.Message = msgSlotUnavailable
	case errors.Is(err, ErrBookingInProgress):
		res.Status = StatusConflict
		res.Message = msgInProgress
	case errors.Is(err, ErrPatientProfileMissing):
		res.Message = msgNoPatient
	default:
		res.Message = msgSystemFailure
	}
	return res
}

func ledgerRecord(key, owner, outcome string, res BookingResult) (idempotency.Record, error) {
	data, err := json.Marshal(res)
	if err != nil {
		return idempotency.Record{}, fmt.Errorf("marshal booking result: %w", err)
	}
	return idempotency.Record{Key: key, Owner: owner, Outcome: outcome, Result: data}, nil
}

// replayRecord turns a stored record back into the response and error the
// original request produced, marked as idempotent.
func replayRecord(rec *idempotency.Record) (BookingResult, error) {
	var res BookingResult
	if err := json.Unmarshal(rec.Result, &res); err != nil {
		return BookingResult{Status: StatusFailed, Message: msgSystemFailure},
			fmt.Errorf("%w: decode ledger record: %v", ErrSystemFailure, err)
	}
	res.Idempotent = true

	switch rec.Outcome {
	case outcomeSuccess:
		return res, nil
	case outcomeSlotNotFound:
		return res, ErrSlotNotFound
	case outcomeSlotUnavailable:
		return res, ErrSlotUnavailable
	default:
		return res, fmt.Errorf("%w: unknown ledger outcome %q", ErrSystemFailure, rec.Outcome)
	}
}

// outcomeLabel is the metrics and tracing label for err.
func outcomeLabel(err error) string {
	var verr *ValidationError
	switch {
	case err == nil:
		return outcomeSuccess
	case errors.As(err, &verr):
		return "validation"
	case errors.Is(err, ErrSlotNotFound):
		return outcomeSlotNotFound
	case errors.Is(err, ErrSlotUnavailable):
		return outcomeSlotUnavailable
	case errors.Is(err, ErrBookingInProgress):
		return "in_progress"
	case errors.Is(err, ErrPatientProfileMissing):
		return "identity"
	default:
		return "system_failure"
	}
}
