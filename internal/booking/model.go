package booking

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	AppointmentConfirmed AppointmentStatus = "confirmed"
)

// Slot is one bookable clinic/doctor time unit. Date is YYYY-MM-DD and Time
// is HH:MM in clinic local time.
type Slot struct {
	ID              uuid.UUID  `json:"id"`
	ClinicID        uuid.UUID  `json:"clinicId"`
	DoctorID        *uuid.UUID `json:"doctorId,omitempty"`
	Date            string     `json:"date"`
	Time            string     `json:"time"`
	DurationMinutes int        `json:"durationMinutes"`
	Available       bool       `json:"available"`
}

type SlotFilter struct {
	ClinicID uuid.UUID
	DoctorID *uuid.UUID
	Date     string
}

type Appointment struct {
	ID          uuid.UUID
	Number      string
	ClinicID    uuid.UUID
	PatientID   uuid.UUID
	SlotID      uuid.UUID
	SlotDate    string
	SlotTime    string
	VisitReason string
	Status      AppointmentStatus
	BookedBy    string
	CreatedAt   time.Time
}

// BookingRequest is the authenticated booking call. UserID comes from the
// external auth layer, never from the request body.
type BookingRequest struct {
	IdempotencyKey string    `validate:"required,max=255"`
	UserID         string    `validate:"required,max=255"`
	ClinicID       uuid.UUID `validate:"-"`
	SlotID         uuid.UUID `validate:"-"`
	PatientID      uuid.UUID `validate:"-"`
	VisitReason    string    `validate:"required,max=500"`
	RequestID      string    `validate:"omitempty,max=128"`
}

func (r *BookingRequest) normalize(defaultClinic uuid.UUID) {
	r.IdempotencyKey = strings.TrimSpace(r.IdempotencyKey)
	r.UserID = strings.TrimSpace(r.UserID)
	r.VisitReason = strings.TrimSpace(r.VisitReason)
	if r.ClinicID == uuid.Nil {
		r.ClinicID = defaultClinic
	}
}

// ClaimParams carries everything the store needs to claim a slot and record
// the success outcome in one transaction.
type ClaimParams struct {
	IdempotencyKey string
	RequestID      string
	UserID         string
	ClinicID       uuid.UUID
	SlotID         uuid.UUID
	PatientID      uuid.UUID
	VisitReason    string
}

type BookingStatus string

const (
	StatusSuccess  BookingStatus = "success"
	StatusPending  BookingStatus = "pending"
	StatusFailed   BookingStatus = "failed"
	StatusConflict BookingStatus = "conflict"
)

// BookingResult is the wire level response of a booking attempt.
type BookingResult struct {
	Status            BookingStatus `json:"status"`
	Message           string        `json:"message"`
	RequestID         string        `json:"requestId,omitempty"`
	AppointmentID     string        `json:"appointmentId,omitempty"`
	AppointmentNumber string        `json:"appointmentNumber,omitempty"`
	Idempotent        bool          `json:"idempotent,omitempty"`
}
