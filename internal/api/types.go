package api

import (
	"encoding/json"
	"net/http"

	"github.com/hackgods/clinic-booking-engine/internal/booking"
	"github.com/hackgods/clinic-booking-engine/internal/leads"
)

type CreateBookingRequest struct {
	ClinicID       string `json:"clinicId"`
	SlotID         string `json:"slotId"`
	PatientID      string `json:"patientId"`
	VisitReason    string `json:"visitReason"`
	IdempotencyKey string `json:"idempotencyKey"`
}

type SlotsResponse struct {
	Slots []booking.Slot `json:"slots"`
}

type LeadsResponse struct {
	Leads []leads.Lead `json:"leads"`
}

type UpdateLeadStatusRequest struct {
	Status string `json:"status"`
}

type LinkLeadRequest struct {
	AppointmentID string `json:"appointmentId"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
