package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/hackgods/dna-testing-scheduling/internal/apperr"
	"github.com/hackgods/dna-testing-scheduling/internal/appointment"
	"github.com/hackgods/dna-testing-scheduling/internal/auth"
	"github.com/hackgods/dna-testing-scheduling/internal/catalog"
	"github.com/hackgods/dna-testing-scheduling/internal/expiry"
	"github.com/hackgods/dna-testing-scheduling/internal/gateway"
	"github.com/hackgods/dna-testing-scheduling/internal/kit"
	"github.com/hackgods/dna-testing-scheduling/internal/metrics"
	"github.com/hackgods/dna-testing-scheduling/internal/payment"
	redisclient "github.com/hackgods/dna-testing-scheduling/internal/redis"
	"github.com/hackgods/dna-testing-scheduling/internal/reservation"
	"github.com/hackgods/dna-testing-scheduling/internal/sample"
	"github.com/hackgods/dna-testing-scheduling/internal/slot"
)

const (
	testSecret   = "test-secret"
	testChecksum = "checksum"
)

type testServer struct {
	handler   http.Handler
	serviceID uuid.UUID
}

func newTestServer(t *testing.T, limiter *rate.Limiter) *testServer {
	t.Helper()
	locker := redisclient.NewLocalLocker()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	alloc := slot.NewAllocator(slot.NewMemoryStore(), locker, m, zerolog.Nop())
	kits := kit.NewManager(kit.NewMemoryStore(), zerolog.Nop())
	serviceID := uuid.New()
	cat := catalog.Static{serviceID: {ID: serviceID, Name: "Paternity", Price: 5_000_000}}

	apptStore := appointment.NewMemoryStore()
	appts := appointment.NewService(apptStore, appointment.Deps{
		Slots:   alloc,
		Kits:    kits,
		Samples: sample.NewMemoryStore(),
		Catalog: cat,
		Locker:  locker,
		Metrics: m,
	}, time.Hour, zerolog.Nop())

	coord := payment.NewCoordinator(payment.NewMemoryStore(apptStore), appts, nil, locker, nil, m, zerolog.Nop())
	appts.SetBalanceRequester(coord)

	reservations := reservation.NewService(reservation.NewMemoryStore(), reservation.Deps{
		Slots:        alloc,
		Appointments: appts,
		Catalog:      cat,
		Locker:       locker,
		Metrics:      m,
	}, expiry.NewPolicy(24*time.Hour), zerolog.Nop())
	alloc.SetReclaimers(reservations, appts)
	coord.SetReservationPayments(reservations)

	h := NewRouter(RouterConfig{
		Slots:              alloc,
		Reservations:       reservations,
		Appointments:       appts,
		Payments:           coord,
		Kits:               kits,
		Gatherer:           reg,
		Limiter:            limiter,
		Logger:             zerolog.Nop(),
		JWTSecret:          testSecret,
		GatewayChecksumKey: testChecksum,
		Env:                "test",
		Version:            "dev",
	})
	return &testServer{handler: h, serviceID: serviceID}
}

func token(t *testing.T, p auth.Principal) string {
	t.Helper()
	tok, err := IssueToken(testSecret, p, time.Hour)
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(t *testing.T, p *auth.Principal, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		req = httptest.NewRequest(method, path, bytes.NewReader(raw))
	}
	if p != nil {
		req.Header.Set("Authorization", "Bearer "+token(t, *p))
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *testServer) createSlot(t *testing.T, limit int) SlotResponse {
	t.Helper()
	admin := auth.Principal{ID: uuid.New(), Role: auth.RoleAdmin}
	rec := s.do(t, &admin, http.MethodPost, "/api/v1/slots", CreateSlotRequest{
		StaffIDs:         []string{uuid.NewString()},
		ServiceID:        s.serviceID.String(),
		Windows:          []slot.TimeWindow{{Year: 2026, Month: 11, Day: 3, StartTime: "09:00", EndTime: "10:00"}},
		AppointmentLimit: limit,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[SlotResponse](t, rec)
}

func signedWebhook(t *testing.T, orderCode, amount int64, reference string) []byte {
	t.Helper()
	fields := map[string]string{
		"orderCode":   strconv.FormatInt(orderCode, 10),
		"amount":      strconv.FormatInt(amount, 10),
		"code":        "00",
		"reference":   reference,
		"description": "deposit",
	}
	body, err := json.Marshal(map[string]any{
		"code":    "00",
		"success": true,
		"data": map[string]any{
			"orderCode":   orderCode,
			"amount":      amount,
			"code":        "00",
			"reference":   reference,
			"description": "deposit",
		},
		"signature": gateway.Sign(testChecksum, fields),
	})
	require.NoError(t, err)
	return body
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, nil, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = s.do(t, nil, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, nil, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadinessReportsPostgresDown(t *testing.T) {
	h := NewHealthHandler(PingFunc(func(context.Context) error { return errors.New("down") }), nil, "test", "")
	rec := httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	resp := decodeBody[ReadinessResponse](t, rec)
	assert.Equal(t, "down", resp.Dependencies["postgres"])
}

func TestAuthentication(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, nil, http.MethodGet, "/api/v1/appointments", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/appointments", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	forged, err := IssueToken("other-secret", auth.Principal{ID: uuid.New(), Role: auth.RoleAdmin}, time.Hour)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/api/v1/appointments", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, &auth.System, http.MethodGet, "/api/v1/appointments", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestParseTokenRoundTrip(t *testing.T) {
	p := auth.Principal{ID: uuid.New(), Role: auth.RoleLabTechnician}
	got, err := parseToken(testSecret, token(t, p))
	require.NoError(t, err)
	assert.Equal(t, p, got)

	expired, err := IssueToken(testSecret, p, -time.Minute)
	require.NoError(t, err)
	_, err = parseToken(testSecret, expired)
	assert.Error(t, err)
}

func TestValidationErrorsNameJSONFields(t *testing.T) {
	s := newTestServer(t, nil)
	cust := auth.Principal{ID: uuid.New(), Role: auth.RoleCustomer}

	rec := s.do(t, &cust, http.MethodPost, "/api/v1/reservations", map[string]any{"slot_id": "nope"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	resp := decodeBody[ValidationErrorResponse](t, rec)
	assert.Equal(t, string(apperr.KindInvalidInput), resp.Error)
	fields := map[string]bool{}
	for _, f := range resp.Fields {
		fields[f.Field] = true
	}
	assert.True(t, fields["service_id"])
	assert.True(t, fields["slot_id"])
}

func TestReservationConvertAndWebhookConfirm(t *testing.T) {
	s := newTestServer(t, nil)
	cust := auth.Principal{ID: uuid.New(), Role: auth.RoleCustomer}
	sl := s.createSlot(t, 1)

	rec := s.do(t, &cust, http.MethodPost, "/api/v1/reservations", CreateReservationRequest{
		ServiceID:     s.serviceID.String(),
		SlotID:        sl.ID.String(),
		PreferredDate: "2026-11-03",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decodeBody[ReservationResponse](t, rec)
	assert.Equal(t, "pending", res.Status)
	assert.Equal(t, int64(1_000_000), res.DepositAmount)

	rec = s.do(t, &cust, http.MethodPost, "/api/v1/reservations", CreateReservationRequest{
		ServiceID: s.serviceID.String(),
		SlotID:    sl.ID.String(),
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, &cust, http.MethodPost, "/api/v1/reservations/"+res.ID.String()+"/convert", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	conv := decodeBody[ConvertReservationResponse](t, rec)
	assert.Equal(t, "converted", conv.Reservation.Status)
	assert.Equal(t, "pending", conv.Appointment.Status)
	apptPath := "/api/v1/appointments/" + conv.Appointment.ID.String()

	rec = s.do(t, &cust, http.MethodPost, apptPath+"/payments", RequestPaymentRequest{Method: "online"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	pay := decodeBody[PaymentResponse](t, rec)
	assert.Equal(t, "deposit", pay.Stage)
	assert.Equal(t, int64(1_000_000), pay.Amount)

	body := signedWebhook(t, pay.PaymentNo, pay.Amount, "FT-1")
	for range 2 {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", bytes.NewReader(body))
		rec = httptest.NewRecorder()
		s.handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec = s.do(t, &cust, http.MethodGet, apptPath, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	appt := decodeBody[AppointmentResponse](t, rec)
	assert.Equal(t, "confirmed", appt.Status)
	assert.Equal(t, int64(1_000_000), appt.AmountPaid)
	assert.Equal(t, int64(4_000_000), appt.RemainingAmount)

	rec = s.do(t, &cust, http.MethodGet, "/api/v1/reservations/"+res.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "deposit_paid", decodeBody[ReservationResponse](t, rec).PaymentStatus)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	s := newTestServer(t, nil)
	body := signedWebhook(t, 100001, 10, "FT-1")
	body = bytes.Replace(body, []byte(`"amount":10`), []byte(`"amount":11`), 1)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhookForUnknownPaymentIsAcknowledged(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", bytes.NewReader(signedWebhook(t, 999, 10, "FT-9")))
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ignored", decodeBody[WebhookResponse](t, rec).Status)
}

func TestErrorKindsMapToStatus(t *testing.T) {
	s := newTestServer(t, nil)
	cust := auth.Principal{ID: uuid.New(), Role: auth.RoleCustomer}
	sl := s.createSlot(t, 2)

	rec := s.do(t, &cust, http.MethodGet, "/api/v1/appointments/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, &cust, http.MethodGet, "/api/v1/appointments/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, &cust, http.MethodPost, "/api/v1/appointments", BookAppointmentRequest{
		ServiceID: s.serviceID.String(),
		SlotID:    sl.ID.String(),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	appt := decodeBody[AppointmentResponse](t, rec)

	rec = s.do(t, &cust, http.MethodPost, "/api/v1/appointments/"+appt.ID.String()+"/confirm", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, &cust, http.MethodPost, "/api/v1/appointments/"+appt.ID.String()+"/cancel", CancelRequest{Reason: "changed plans"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "cancelled", decodeBody[AppointmentResponse](t, rec).Status)

	rec = s.do(t, &cust, http.MethodPost, "/api/v1/appointments/"+appt.ID.String()+"/cancel", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	staff := auth.Principal{ID: uuid.New(), Role: auth.RoleStaff}
	rec = s.do(t, &staff, http.MethodPost, "/api/v1/appointments/"+appt.ID.String()+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestListAvailableSlots(t *testing.T) {
	s := newTestServer(t, nil)
	cust := auth.Principal{ID: uuid.New(), Role: auth.RoleCustomer}
	sl := s.createSlot(t, 3)

	rec := s.do(t, &cust, http.MethodGet, "/api/v1/slots?from=2026-11-01&to=2026-11-30&service_id="+s.serviceID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	list := decodeBody[[]SlotResponse](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, sl.ID, list[0].ID)
	assert.Equal(t, 3, list[0].Remaining)

	rec = s.do(t, &cust, http.MethodGet, "/api/v1/slots?from=2026-12-01", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[[]SlotResponse](t, rec))

	rec = s.do(t, &cust, http.MethodGet, "/api/v1/slots?from=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestKitLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t, nil)
	staff := auth.Principal{ID: uuid.New(), Role: auth.RoleStaff}
	cust := auth.Principal{ID: uuid.New(), Role: auth.RoleCustomer}

	rec := s.do(t, &cust, http.MethodPost, "/api/v1/kits", CreateKitRequest{Type: "regular"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, &staff, http.MethodPost, "/api/v1/kits", CreateKitRequest{Type: "regular"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	k := decodeBody[KitResponse](t, rec)
	assert.Equal(t, "available", k.Status)

	rec = s.do(t, &staff, http.MethodPost, "/api/v1/kits/"+k.ID.String()+"/assign", AssignKitToUserRequest{UserID: cust.ID.String()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "assigned", decodeBody[KitResponse](t, rec).Status)

	rec = s.do(t, &staff, http.MethodDelete, "/api/v1/kits/"+k.ID.String(), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, &cust, http.MethodGet, "/api/v1/kits/"+k.ID.String(), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, rate.NewLimiter(rate.Every(time.Hour), 1))
	cust := auth.Principal{ID: uuid.New(), Role: auth.RoleCustomer}

	rec := s.do(t, &cust, http.MethodGet, "/api/v1/reservations", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, &cust, http.MethodGet, "/api/v1/reservations", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = s.do(t, nil, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusForKinds(t *testing.T) {
	tests := map[apperr.Kind]int{
		apperr.KindNotFound:                http.StatusNotFound,
		apperr.KindUnauthorized:            http.StatusForbidden,
		apperr.KindInvalidInput:            http.StatusBadRequest,
		apperr.KindAmountMismatch:          http.StatusUnprocessableEntity,
		apperr.KindExpired:                 http.StatusGone,
		apperr.KindCapacityExceeded:        http.StatusConflict,
		apperr.KindDuplicatePendingPayment: http.StatusConflict,
		apperr.KindInternal:                http.StatusInternalServerError,
	}
	for kind, want := range tests {
		assert.Equal(t, want, statusFor(kind), kind)
	}
}
