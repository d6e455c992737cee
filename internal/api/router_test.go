package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-booking-engine/internal/booking"
	"github.com/hackgods/clinic-booking-engine/internal/leads"
)

type stubBookings struct {
	gotReq    booking.BookingRequest
	gotFilter booking.SlotFilter
	res       booking.BookingResult
	err       error
	slots     []booking.Slot
	slotsErr  error
}

func (s *stubBookings) Book(_ context.Context, req booking.BookingRequest) (booking.BookingResult, error) {
	s.gotReq = req
	return s.res, s.err
}

func (s *stubBookings) AvailableSlots(_ context.Context, f booking.SlotFilter) ([]booking.Slot, error) {
	s.gotFilter = f
	return s.slots, s.slotsErr
}

type stubLeads struct {
	gotSubmit leads.SubmitRequest
	gotFilter leads.ListFilter
	gotStatus leads.Status
	gotAppt   uuid.UUID
	res       leads.SubmitResult
	lead      *leads.Lead
	list      []leads.Lead
	err       error
}

func (s *stubLeads) Submit(_ context.Context, req leads.SubmitRequest) (leads.SubmitResult, error) {
	s.gotSubmit = req
	return s.res, s.err
}

func (s *stubLeads) List(_ context.Context, f leads.ListFilter) ([]leads.Lead, error) {
	s.gotFilter = f
	return s.list, s.err
}

func (s *stubLeads) UpdateStatus(_ context.Context, _ uuid.UUID, status leads.Status) (*leads.Lead, error) {
	s.gotStatus = status
	return s.lead, s.err
}

func (s *stubLeads) LinkToAppointment(_ context.Context, _ uuid.UUID, appointmentID uuid.UUID) (*leads.Lead, error) {
	s.gotAppt = appointmentID
	return s.lead, s.err
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func newTestRouter(t *testing.T, b *stubBookings, l *stubLeads) (http.Handler, uuid.UUID) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})

	clinic := uuid.New()
	return NewRouter(RouterConfig{
		Bookings:        b,
		Leads:           l,
		Postgres:        stubPinger{},
		Redis:           client,
		Logger:          zerolog.Nop(),
		Metrics:         http.NotFoundHandler(),
		DefaultClinicID: clinic,
		Env:             "test",
		Version:         "test",
	}), clinic
}

func do(h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateBookingSuccess(t *testing.T) {
	b := &stubBookings{res: booking.BookingResult{Status: booking.StatusSuccess, Message: "Your appointment has been confirmed.", AppointmentID: uuid.NewString()}}
	h, _ := newTestRouter(t, b, &stubLeads{})
	slot := uuid.New()

	rec := do(h, http.MethodPost, "/bookings", `{"slotId":"`+slot.String()+`","visitReason":"fever"}`, map[string]string{
		"X-User-ID":       "user-1",
		"Idempotency-Key": "K1",
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "K1", b.gotReq.IdempotencyKey)
	assert.Equal(t, "user-1", b.gotReq.UserID)
	assert.Equal(t, slot, b.gotReq.SlotID)
	assert.Equal(t, rec.Header().Get("X-Request-ID"), b.gotReq.RequestID)

	var body booking.BookingResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, booking.StatusSuccess, body.Status)
}

func TestCreateBookingGeneratesKey(t *testing.T) {
	b := &stubBookings{res: booking.BookingResult{Status: booking.StatusSuccess}}
	h, _ := newTestRouter(t, b, &stubLeads{})

	rec := do(h, http.MethodPost, "/bookings", `{"slotId":"`+uuid.NewString()+`","visitReason":"fever"}`, map[string]string{"X-User-ID": "user-1"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, strings.HasPrefix(b.gotReq.IdempotencyKey, "booking-"))
}

func TestCreateBookingRequiresUser(t *testing.T) {
	b := &stubBookings{}
	h, _ := newTestRouter(t, b, &stubLeads{})

	rec := do(h, http.MethodPost, "/bookings", `{"slotId":"`+uuid.NewString()+`","visitReason":"fever"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, b.gotReq.IdempotencyKey, "service must not be called")
}

func TestCreateBookingRejectsMalformedSlot(t *testing.T) {
	b := &stubBookings{}
	h, _ := newTestRouter(t, b, &stubLeads{})

	rec := do(h, http.MethodPost, "/bookings", `{"slotId":"S1","visitReason":"fever"}`, map[string]string{"X-User-ID": "user-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_slot_id")
}

func TestCreateBookingStatusCodes(t *testing.T) {
	tests := []struct {
		name       string
		res        booking.BookingResult
		err        error
		want       int
		retryAfter string
	}{
		{name: "replay", res: booking.BookingResult{Status: booking.StatusSuccess, Idempotent: true}, want: http.StatusOK},
		{name: "validation", res: booking.BookingResult{Status: booking.StatusFailed}, err: &booking.ValidationError{Field: "VisitReason"}, want: http.StatusBadRequest},
		{name: "not found", res: booking.BookingResult{Status: booking.StatusFailed}, err: booking.ErrSlotNotFound, want: http.StatusNotFound},
		{name: "taken", res: booking.BookingResult{Status: booking.StatusConflict}, err: booking.ErrSlotUnavailable, want: http.StatusConflict},
		{name: "in progress", res: booking.BookingResult{Status: booking.StatusConflict}, err: booking.ErrBookingInProgress, want: http.StatusConflict, retryAfter: "2"},
		{name: "no profile", res: booking.BookingResult{Status: booking.StatusFailed}, err: booking.ErrPatientProfileMissing, want: http.StatusUnprocessableEntity},
		{name: "system", res: booking.BookingResult{Status: booking.StatusFailed}, err: booking.ErrSystemFailure, want: http.StatusServiceUnavailable},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := &stubBookings{res: tc.res, err: tc.err}
			h, _ := newTestRouter(t, b, &stubLeads{})

			rec := do(h, http.MethodPost, "/bookings", `{"slotId":"`+uuid.NewString()+`","visitReason":"fever"}`, map[string]string{"X-User-ID": "user-1"})
			assert.Equal(t, tc.want, rec.Code)
			assert.Equal(t, tc.retryAfter, rec.Header().Get("Retry-After"))

			var body booking.BookingResult
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tc.res.Status, body.Status)
		})
	}
}

func TestListSlotsDefaultsClinic(t *testing.T) {
	slot := booking.Slot{ID: uuid.New(), Date: "2026-03-02", Time: "09:00", DurationMinutes: 15, Available: true}
	b := &stubBookings{slots: []booking.Slot{slot}}
	h, clinic := newTestRouter(t, b, &stubLeads{})

	rec := do(h, http.MethodGet, "/slots?date=2026-03-02", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, clinic, b.gotFilter.ClinicID)
	assert.Equal(t, "2026-03-02", b.gotFilter.Date)

	var body SlotsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Slots, 1)
	assert.Equal(t, slot.ID, body.Slots[0].ID)
}

func TestListSlotsValidation(t *testing.T) {
	b := &stubBookings{slotsErr: &booking.ValidationError{Field: "Date", Message: "Date must be formatted as YYYY-MM-DD."}}
	h, _ := newTestRouter(t, b, &stubLeads{})

	rec := do(h, http.MethodGet, "/slots?date=tomorrow", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(h, http.MethodGet, "/slots?doctor_id=nope", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitLead(t *testing.T) {
	l := &stubLeads{res: leads.SubmitResult{Status: leads.SubmitPending, Message: "Thank you."}}
	h, _ := newTestRouter(t, &stubBookings{}, l)

	rec := do(h, http.MethodPost, "/leads", `{"name":"Tan Mei","phone":"91234567","reason":"back pain","preferredTime":"Sat","contactPreference":"whatsapp"}`,
		map[string]string{"Idempotency-Key": "form-1"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "Tan Mei", l.gotSubmit.Name)
	assert.Equal(t, "form-1", l.gotSubmit.IdempotencyKey)

	l.res = leads.SubmitResult{Status: leads.SubmitFailed, Message: "Please enter a valid Singapore mobile number."}
	l.err = &leads.ValidationError{Field: "Phone"}
	rec = do(h, http.MethodPost, "/leads", `{"phone":"123"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	l.err = leads.ErrSystemFailure
	rec = do(h, http.MethodPost, "/leads", `{"phone":"91234567"}`, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAdminRoutesRequireRole(t *testing.T) {
	l := &stubLeads{}
	h, _ := newTestRouter(t, &stubBookings{}, l)

	rec := do(h, http.MethodGet, "/admin/leads", "", map[string]string{"X-User-ID": "u"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(h, http.MethodGet, "/admin/leads", "", map[string]string{"X-User-ID": "u", "X-User-Role": "patient"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(h, http.MethodGet, "/admin/leads?status=new&limit=20", "", map[string]string{"X-User-ID": "u", "X-User-Role": "staff"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, l.gotFilter.Status)
	assert.Equal(t, leads.StatusNew, *l.gotFilter.Status)
	assert.Equal(t, 20, l.gotFilter.Limit)
	assert.JSONEq(t, `{"leads":[]}`, rec.Body.String())
}

func TestAdminLeadMutations(t *testing.T) {
	id := uuid.New()
	appt := uuid.New()
	l := &stubLeads{lead: &leads.Lead{ID: id, Status: leads.StatusConfirmed, AppointmentID: &appt}}
	h, _ := newTestRouter(t, &stubBookings{}, l)
	admin := map[string]string{"X-User-ID": "u", "X-User-Role": "admin"}

	rec := do(h, http.MethodPatch, "/admin/leads/"+id.String()+"/status", `{"status":"contacted"}`, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, leads.StatusContacted, l.gotStatus)

	rec = do(h, http.MethodPost, "/admin/leads/"+id.String()+"/link", `{"appointmentId":"`+appt.String()+`"}`, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, appt, l.gotAppt)

	l.err = leads.ErrLeadNotFound
	rec = do(h, http.MethodPatch, "/admin/leads/"+id.String()+"/status", `{"status":"contacted"}`, admin)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	l.err = leads.ErrInvalidStatus
	rec = do(h, http.MethodPatch, "/admin/leads/"+id.String()+"/status", `{"status":"archived"}`, admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(h, http.MethodPost, "/admin/leads/not-a-uuid/link", `{}`, admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReadiness(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()

	h := NewHealthHandler(stubPinger{}, client, "test", "v1")
	rec := httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	mr.Close()
	rec = httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"degraded"`)

	h = NewHealthHandler(stubPinger{err: errors.New("refused")}, client, "test", "v1")
	rec = httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	h := RecoveryMiddleware(zerolog.Nop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
