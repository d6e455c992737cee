// Package jobs is the durable deferred-work queue. Side effects such as
// notification emails are enqueued here instead of running inline.
package jobs

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type is the closed set of job kinds the runner knows how to dispatch.
type Type string

const (
	TypeBookingConfirmation Type = "booking.confirmation"
	TypeLeadReceived        Type = "lead.received"
)

// KnownTypes lists every job type. Registry.Validate requires a handler for each.
var KnownTypes = []Type{
	TypeBookingConfirmation,
	TypeLeadReceived,
}

func (t Type) Known() bool {
	for _, k := range KnownTypes {
		if k == t {
			return true
		}
	}
	return false
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// MaxAttempts is the failure ceiling after which a job is marked failed.
const MaxAttempts = 5

type Job struct {
	ID        int64
	Type      Type
	Payload   json.RawMessage
	RunAt     time.Time
	Attempts  int
	Status    Status
	LastError *string
	LockedAt  *time.Time
	CreatedAt time.Time
}

// BackoffDelay is the wait before the next run after the given number of
// failed attempts: 2^attempts minutes.
func BackoffDelay(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	return time.Duration(1<<uint(attempts)) * time.Minute
}

type BookingConfirmationPayload struct {
	AppointmentID     string `json:"appointment_id"`
	AppointmentNumber string `json:"appointment_number"`
	ClinicID          string `json:"clinic_id"`
	PatientID         string `json:"patient_id"`
	SlotDate          string `json:"slot_date"`
	SlotTime          string `json:"slot_time"`
}

type LeadReceivedPayload struct {
	LeadID            string `json:"lead_id"`
	PreferredTime     string `json:"preferred_time"`
	ContactPreference string `json:"contact_preference"`
}

// Decode unmarshals a job payload into the typed struct for its Type.
func Decode[T any](j Job) (T, error) {
	var v T
	if err := json.Unmarshal(j.Payload, &v); err != nil {
		return v, fmt.Errorf("jobs: decode %s payload: %w", j.Type, err)
	}
	return v, nil
}
