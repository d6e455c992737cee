package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking-engine/internal/jobs"
	"github.com/hackgods/clinic-booking-engine/internal/leads"
)

type PatientDirectory interface {
	PatientEmail(ctx context.Context, patientID uuid.UUID) (string, error)
}

type LeadLookup interface {
	Get(ctx context.Context, id uuid.UUID) (*leads.Lead, error)
}

// Handlers turns queued jobs into emails.
type Handlers struct {
	sender     EmailSender
	patients   PatientDirectory
	leads      LeadLookup
	staffInbox string
	logger     zerolog.Logger
}

func NewHandlers(sender EmailSender, patients PatientDirectory, leadLookup LeadLookup, staffInbox string, logger zerolog.Logger) *Handlers {
	return &Handlers{
		sender:     sender,
		patients:   patients,
		leads:      leadLookup,
		staffInbox: strings.TrimSpace(staffInbox),
		logger:     logger.With().Str("component", "notify").Logger(),
	}
}

// Register installs a handler for every job type.
func (h *Handlers) Register(reg *jobs.Registry) error {
	if err := reg.Register(jobs.TypeBookingConfirmation, jobs.HandlerFunc(h.BookingConfirmation)); err != nil {
		return err
	}
	return reg.Register(jobs.TypeLeadReceived, jobs.HandlerFunc(h.LeadReceived))
}

func (h *Handlers) BookingConfirmation(ctx context.Context, job jobs.Job) error {
	p, err := jobs.Decode[jobs.BookingConfirmationPayload](job)
	if err != nil {
		return err
	}

	to := h.staffInbox
	if patientID, err := uuid.Parse(p.PatientID); err == nil && h.patients != nil {
		email, err := h.patients.PatientEmail(ctx, patientID)
		if err != nil {
			return fmt.Errorf("look up patient email: %w", err)
		}
		if email != "" {
			to = email
		}
	}
	if to == "" {
		h.logger.Warn().Str("appointment_id", p.AppointmentID).Msg("no recipient for booking confirmation; skipping")
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Your appointment is confirmed.\n\n")
	fmt.Fprintf(&b, "Appointment number: %s\n", p.AppointmentNumber)
	fmt.Fprintf(&b, "Date: %s\n", p.SlotDate)
	fmt.Fprintf(&b, "Time: %s\n\n", p.SlotTime)
	b.WriteString("If you need to change this appointment, please call the clinic.\n")

	return h.sender.Send(ctx, EmailMessage{
		To:      to,
		Subject: "Appointment confirmed: " + p.AppointmentNumber,
		Body:    b.String(),
	})
}

func (h *Handlers) LeadReceived(ctx context.Context, job jobs.Job) error {
	p, err := jobs.Decode[jobs.LeadReceivedPayload](job)
	if err != nil {
		return err
	}
	if h.staffInbox == "" {
		h.logger.Warn().Str("lead_id", p.LeadID).Msg("STAFF_INBOX_EMAIL not set; skipping lead notification")
		return nil
	}

	leadID, err := uuid.Parse(p.LeadID)
	if err != nil {
		return fmt.Errorf("invalid lead id %q: %w", p.LeadID, err)
	}
	lead, err := h.leads.Get(ctx, leadID)
	if err != nil {
		if errors.Is(err, leads.ErrLeadNotFound) {
			h.logger.Warn().Str("lead_id", p.LeadID).Msg("lead no longer exists; skipping notification")
			return nil
		}
		return fmt.Errorf("load lead: %w", err)
	}

	var b strings.Builder
	b.WriteString("A new booking request came in from the website.\n\n")
	fmt.Fprintf(&b, "Name: %s\n", lead.Name)
	fmt.Fprintf(&b, "Phone: %s\n", lead.Phone)
	fmt.Fprintf(&b, "Preferred time: %s\n", p.PreferredTime)
	fmt.Fprintf(&b, "Contact via: %s\n", p.ContactPreference)
	fmt.Fprintf(&b, "Reason: %s\n", lead.Reason)

	return h.sender.Send(ctx, EmailMessage{
		To:      h.staffInbox,
		ToName:  "Clinic staff",
		Subject: "New booking request: " + lead.Name,
		Body:    b.String(),
	})
}
