package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking-engine/internal/booking"
	"github.com/hackgods/clinic-booking-engine/internal/leads"
)

const maxBodyBytes = 64 << 10

func listSlotsHandler(svc BookingService, defaultClinic uuid.UUID) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		f := booking.SlotFilter{ClinicID: defaultClinic, Date: q.Get("date")}

		if raw := q.Get("clinic_id"); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_clinic_id", "clinic_id must be a valid UUID")
				return
			}
			f.ClinicID = id
		}
		if raw := q.Get("doctor_id"); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
				return
			}
			f.DoctorID = &id
		}

		slots, err := svc.AvailableSlots(r.Context(), f)
		if err != nil {
			var verr *booking.ValidationError
			if errors.As(err, &verr) {
				writeError(w, http.StatusBadRequest, "invalid_request", verr.Message)
				return
			}
			writeError(w, http.StatusServiceUnavailable, "unavailable", "Could not load available times. Please try again.")
			return
		}
		if slots == nil {
			slots = []booking.Slot{}
		}
		writeJSON(w, http.StatusOK, SlotsResponse{Slots: slots})
	}
}

func createBookingHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body CreateBookingRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		req := booking.BookingRequest{
			UserID:      getUserID(r.Context()),
			VisitReason: body.VisitReason,
			RequestID:   GetRequestID(r.Context()),
		}

		var ok bool
		if req.SlotID, ok = parseOptionalUUID(w, body.SlotID, "invalid_slot_id", "slotId must be a valid UUID"); !ok {
			return
		}
		if req.ClinicID, ok = parseOptionalUUID(w, body.ClinicID, "invalid_clinic_id", "clinicId must be a valid UUID"); !ok {
			return
		}
		if req.PatientID, ok = parseOptionalUUID(w, body.PatientID, "invalid_patient_id", "patientId must be a valid UUID"); !ok {
			return
		}

		req.IdempotencyKey = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
		if req.IdempotencyKey == "" {
			req.IdempotencyKey = strings.TrimSpace(body.IdempotencyKey)
		}
		if req.IdempotencyKey == "" {
			req.IdempotencyKey = "booking-" + uuid.NewString()
		}

		res, err := svc.Book(r.Context(), req)
		writeJSON(w, bookingStatusCode(w, res, err), res)
	}
}

// bookingStatusCode maps the engine taxonomy onto HTTP. Replayed failures map
// the same way as the original attempt.
func bookingStatusCode(w http.ResponseWriter, res booking.BookingResult, err error) int {
	var verr *booking.ValidationError
	switch {
	case err == nil && res.Idempotent:
		return http.StatusOK
	case err == nil:
		return http.StatusCreated
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, booking.ErrSlotNotFound):
		return http.StatusNotFound
	case errors.Is(err, booking.ErrSlotUnavailable):
		return http.StatusConflict
	case errors.Is(err, booking.ErrBookingInProgress):
		w.Header().Set("Retry-After", "2")
		return http.StatusConflict
	case errors.Is(err, booking.ErrPatientProfileMissing):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusServiceUnavailable
	}
}

func parseOptionalUUID(w http.ResponseWriter, raw, code, details string) (uuid.UUID, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.Nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, code, details)
		return uuid.Nil, false
	}
	return id, true
}

func submitLeadHandler(svc LeadService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req leads.SubmitRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if req.IdempotencyKey == "" {
			req.IdempotencyKey = r.Header.Get("Idempotency-Key")
		}

		res, err := svc.Submit(r.Context(), req)
		switch {
		case err == nil:
			writeJSON(w, http.StatusAccepted, res)
		case errors.Is(err, leads.ErrValidation):
			writeJSON(w, http.StatusBadRequest, res)
		default:
			writeJSON(w, http.StatusServiceUnavailable, res)
		}
	}
}

func listLeadsHandler(svc LeadService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var f leads.ListFilter
		if raw := r.URL.Query().Get("status"); raw != "" {
			status := leads.Status(raw)
			f.Status = &status
		}
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a number")
				return
			}
			f.Limit = n
		}

		list, err := svc.List(r.Context(), f)
		if err != nil {
			handleLeadError(w, err)
			return
		}
		if list == nil {
			list = []leads.Lead{}
		}
		writeJSON(w, http.StatusOK, LeadsResponse{Leads: list})
	}
}

func updateLeadStatusHandler(svc LeadService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_lead_id", "id must be a valid UUID")
			return
		}
		var body UpdateLeadStatusRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		lead, err := svc.UpdateStatus(r.Context(), id, leads.Status(body.Status))
		if err != nil {
			handleLeadError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, lead)
	}
}

func linkLeadHandler(svc LeadService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_lead_id", "id must be a valid UUID")
			return
		}
		var body LinkLeadRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		appointmentID, err := uuid.Parse(body.AppointmentID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "appointmentId must be a valid UUID")
			return
		}

		lead, err := svc.LinkToAppointment(r.Context(), id, appointmentID)
		if err != nil {
			handleLeadError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, lead)
	}
}

func handleLeadError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, leads.ErrLeadNotFound):
		writeError(w, http.StatusNotFound, "lead_not_found", err.Error())
	case errors.Is(err, leads.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, leads.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, "invalid_status", err.Error())
	case errors.Is(err, leads.ErrValidation):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
	}
}
