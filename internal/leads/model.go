// Package leads captures unauthenticated booking requests from the public
// website. A lead is a callback request for staff, never an appointment.
package leads

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusNew       Status = "new"
	StatusContacted Status = "contacted"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusContacted, StatusConfirmed, StatusCancelled:
		return true
	}
	return false
}

type ContactPreference string

const (
	ContactWhatsApp ContactPreference = "whatsapp"
	ContactCall     ContactPreference = "call"
	ContactEither   ContactPreference = "either"
)

const defaultSource = "web"

type Lead struct {
	ID                uuid.UUID         `json:"id"`
	Name              string            `json:"name"`
	Phone             string            `json:"phone"`
	Reason            string            `json:"reason"`
	PreferredTime     string            `json:"preferredTime"`
	ContactPreference ContactPreference `json:"contactPreference"`
	Source            string            `json:"source"`
	Status            Status            `json:"status"`
	AppointmentID     *uuid.UUID        `json:"appointmentId,omitempty"`
	IdempotencyKey    *string           `json:"-"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
}

// SubmitRequest is the public form payload.
type SubmitRequest struct {
	Name              string            `json:"name" validate:"required,max=120"`
	Phone             string            `json:"phone" validate:"required,max=32,sgmobile"`
	Reason            string            `json:"reason" validate:"required,min=4,max=500"`
	PreferredTime     string            `json:"preferredTime" validate:"required,max=200"`
	ContactPreference ContactPreference `json:"contactPreference" validate:"required,oneof=whatsapp call either"`
	Source            string            `json:"source" validate:"omitempty,max=50"`
	IdempotencyKey    string            `json:"idempotencyKey" validate:"omitempty,max=255"`
}

func (r *SubmitRequest) normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.Phone = strings.TrimSpace(r.Phone)
	r.Reason = strings.TrimSpace(r.Reason)
	r.PreferredTime = strings.TrimSpace(r.PreferredTime)
	r.ContactPreference = ContactPreference(strings.ToLower(strings.TrimSpace(string(r.ContactPreference))))
	r.Source = strings.TrimSpace(r.Source)
	r.IdempotencyKey = strings.TrimSpace(r.IdempotencyKey)
	if r.Source == "" {
		r.Source = defaultSource
	}
}

type SubmitStatus string

const (
	SubmitPending SubmitStatus = "pending"
	SubmitFailed  SubmitStatus = "failed"
)

type SubmitResult struct {
	Status  SubmitStatus `json:"status"`
	Message string       `json:"message"`
}

// ListFilter narrows the staff lead queue. Limit is clamped to 10..200.
type ListFilter struct {
	Status *Status
	Limit  int
}

const (
	defaultListLimit = 50
	minListLimit     = 10
	maxListLimit     = 200
)

func (f ListFilter) limit() int {
	switch {
	case f.Limit <= 0:
		return defaultListLimit
	case f.Limit < minListLimit:
		return minListLimit
	case f.Limit > maxListLimit:
		return maxListLimit
	}
	return f.Limit
}
