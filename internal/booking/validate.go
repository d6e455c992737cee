package booking

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var ErrValidation = errors.New("invalid booking request")

// ValidationError names the offending field and carries a message that is
// safe to show to the patient.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrValidation, e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

var fieldMessages = map[string]string{
	"IdempotencyKey": "A request key is required and must be at most 255 characters.",
	"UserID":         "You must be signed in to book an appointment.",
	"VisitReason":    "Please tell us the reason for your visit (up to 500 characters).",
	"RequestID":      "Request id is too long.",
}

func validateRequest(req BookingRequest) error {
	if err := structValidator().Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			field := verrs[0].Field()
			return &ValidationError{Field: field, Message: fieldMessages[field]}
		}
		return &ValidationError{Field: "request", Message: "Please check your booking details and try again."}
	}
	if req.SlotID == uuid.Nil {
		return &ValidationError{Field: "SlotID", Message: "Please choose a time slot."}
	}
	if req.ClinicID == uuid.Nil {
		return &ValidationError{Field: "ClinicID", Message: "Clinic is not configured for booking."}
	}
	return nil
}

func validateFilter(f SlotFilter) error {
	if f.ClinicID == uuid.Nil {
		return &ValidationError{Field: "ClinicID", Message: "Clinic is required."}
	}
	if f.Date != "" {
		if _, err := time.Parse(time.DateOnly, f.Date); err != nil {
			return &ValidationError{Field: "Date", Message: "Date must be formatted as YYYY-MM-DD."}
		}
	}
	return nil
}
