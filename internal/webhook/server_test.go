package webhook

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/groupgate/group-gate-bot/internal/payments"
	"github.com/groupgate/group-gate-bot/types"
)

type testGateway struct {
	verifyOK  bool
	verifyErr error
	normErr   error
	path      string
}

func (g *testGateway) Name() string { return "testpay" }

func (g *testGateway) BuildPaymentURL(int64, int64, float64, string, string, payments.Options) (string, error) {
	return "", nil
}

func (g *testGateway) BuildSubscriptionURL(int64, int64, float64, string, string, payments.Options, payments.SubscriptionOptions) (string, error) {
	return "", nil
}

func (g *testGateway) Verify(*payments.Notification) (bool, error) {
	return g.verifyOK, g.verifyErr
}

func (g *testGateway) Normalize(*payments.Notification) (types.PaymentRecord, error) {
	if g.normErr != nil {
		return types.PaymentRecord{}, g.normErr
	}
	return types.PaymentRecord{
		Provider:  "testpay",
		PaymentID: "pay-1",
		UserID:    42,
		GroupID:   -100123,
		Amount:    50,
		Currency:  "ZAR",
		Status:    types.PaymentStatusComplete,
	}, nil
}

func (g *testGateway) WebhookPath() string { return g.path }

type okPaymentStore struct {
	err error
}

func (s *okPaymentStore) RecordPayment(types.PaymentRecord) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return true, nil
}

func newTestRouter(t *testing.T, gw payments.Gateway, store types.PaymentStore) http.Handler {
	t.Helper()
	registry := payments.NewRegistry(store, zap.NewNop())
	if gw != nil {
		registry.Register(gw, true)
	}
	return NewServer(registry, zap.NewNop()).router()
}

func post(router http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

const completeBody = "m_payment_id=sub_42_1&payment_status=COMPLETE&signature=abc"

func TestHealth(t *testing.T) {
	router := newTestRouter(t, nil, &okPaymentStore{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNotificationAccepted(t *testing.T) {
	router := newTestRouter(t, &testGateway{verifyOK: true}, &okPaymentStore{})

	w := post(router, "/payments/webhook/testpay", completeBody)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
}

func TestNotificationUnknownProvider(t *testing.T) {
	router := newTestRouter(t, &testGateway{verifyOK: true}, &okPaymentStore{})

	w := post(router, "/payments/webhook/nosuch", completeBody)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNotificationBadSignature(t *testing.T) {
	router := newTestRouter(t, &testGateway{verifyOK: false}, &okPaymentStore{})

	w := post(router, "/payments/webhook/testpay", completeBody)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNotificationMalformedField(t *testing.T) {
	router := newTestRouter(t, &testGateway{
		verifyOK: true,
		normErr:  &payments.FormatError{Field: "amount_gross", Value: "fifty"},
	}, &okPaymentStore{})

	w := post(router, "/payments/webhook/testpay", completeBody)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReturnAndCancelPages(t *testing.T) {
	router := newTestRouter(t, nil, &okPaymentStore{})

	for _, path := range []string{"/payments/return", "/payments/cancel"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, path)
		assert.NotEmpty(t, w.Body.String(), path)
	}
}

// Duplicate form keys never reach verification.
func TestNotificationDuplicateFieldRejected(t *testing.T) {
	router := newTestRouter(t, &testGateway{verifyOK: true}, &okPaymentStore{})

	w := post(router, "/payments/webhook/testpay", completeBody+"&payment_status=COMPLETE")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNotificationMalformedBody(t *testing.T) {
	router := newTestRouter(t, &testGateway{verifyOK: true}, &okPaymentStore{})

	w := post(router, "/payments/webhook/testpay", "a=%zz")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNotificationStoreFailure(t *testing.T) {
	router := newTestRouter(t, &testGateway{verifyOK: true}, &okPaymentStore{err: errors.New("db down")})

	w := post(router, "/payments/webhook/testpay", completeBody)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestNotificationVerifyFailure(t *testing.T) {
	router := newTestRouter(t, &testGateway{verifyErr: errors.New("validate endpoint unreachable")}, &okPaymentStore{})

	w := post(router, "/payments/webhook/testpay", completeBody)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestFixedProviderPathRoutes(t *testing.T) {
	router := newTestRouter(t, &testGateway{verifyOK: true, path: "/testpay/itn"}, &okPaymentStore{})

	w := post(router, "/testpay/itn", completeBody)
	require.Equal(t, http.StatusOK, w.Code)
}
