package payments

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/groupgate/group-gate-bot/types"
)

type stubGateway struct {
	name      string
	verifyOK  bool
	verifyErr error
	record    types.PaymentRecord
	normErr   error
}

func (g *stubGateway) Name() string { return g.name }

func (g *stubGateway) BuildPaymentURL(int64, int64, float64, string, string, Options) (string, error) {
	return "https://example.com/pay", nil
}

func (g *stubGateway) BuildSubscriptionURL(int64, int64, float64, string, string, Options, SubscriptionOptions) (string, error) {
	return "https://example.com/pay", nil
}

func (g *stubGateway) Verify(*Notification) (bool, error) { return g.verifyOK, g.verifyErr }

func (g *stubGateway) Normalize(*Notification) (types.PaymentRecord, error) {
	return g.record, g.normErr
}

func (g *stubGateway) WebhookPath() string { return "" }

type memPaymentStore struct {
	seen map[string]bool
	err  error
}

func newMemPaymentStore() *memPaymentStore {
	return &memPaymentStore{seen: make(map[string]bool)}
}

func (s *memPaymentStore) RecordPayment(p types.PaymentRecord) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	if s.seen[p.PaymentID] {
		return false, nil
	}
	s.seen[p.PaymentID] = true
	return true, nil
}

func completeNotification() *Notification {
	return NotificationFromFields([]Field{
		{"m_payment_id", "sub_42_1741953600000"},
		{"payment_status", "COMPLETE"},
	})
}

func settledRecord() types.PaymentRecord {
	return types.PaymentRecord{
		Provider:  "stub",
		PaymentID: "pay-1",
		UserID:    42,
		GroupID:   -100123,
		Amount:    50,
		Currency:  "ZAR",
		Status:    types.PaymentStatusComplete,
	}
}

func TestDispatchUnknownProvider(t *testing.T) {
	r := NewRegistry(newMemPaymentStore(), zap.NewNop())

	err := r.Dispatch("nosuch", completeNotification())
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestDispatchBadSignatureTouchesNothing(t *testing.T) {
	store := newMemPaymentStore()
	r := NewRegistry(store, zap.NewNop())
	r.Register(&stubGateway{name: "stub", verifyOK: false, record: settledRecord()}, true)

	called := false
	r.SetSuccessCallback(func(types.PaymentRecord) { called = true })

	err := r.Dispatch("stub", completeNotification())
	assert.ErrorIs(t, err, ErrBadSignature)
	assert.Empty(t, store.seen)
	assert.False(t, called)
}

func TestDispatchVerifyError(t *testing.T) {
	r := NewRegistry(newMemPaymentStore(), zap.NewNop())
	r.Register(&stubGateway{name: "stub", verifyErr: errors.New("network down")}, true)

	err := r.Dispatch("stub", completeNotification())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrBadSignature)
}

func TestDispatchNonCompleteAcknowledged(t *testing.T) {
	store := newMemPaymentStore()
	r := NewRegistry(store, zap.NewNop())
	r.Register(&stubGateway{name: "stub", verifyOK: true, record: settledRecord()}, true)

	called := false
	r.SetSuccessCallback(func(types.PaymentRecord) { called = true })

	n := NotificationFromFields([]Field{
		{"m_payment_id", "sub_42_1741953600000"},
		{"payment_status", "CANCELLED"},
	})
	err := r.Dispatch("stub", n)
	assert.NoError(t, err)
	assert.Empty(t, store.seen)
	assert.False(t, called)
}

func TestDispatchSettlesOnceForDuplicateDeliveries(t *testing.T) {
	store := newMemPaymentStore()
	r := NewRegistry(store, zap.NewNop())
	r.Register(&stubGateway{name: "stub", verifyOK: true, record: settledRecord()}, true)

	var settled []types.PaymentRecord
	r.SetSuccessCallback(func(rec types.PaymentRecord) { settled = append(settled, rec) })

	require.NoError(t, r.Dispatch("stub", completeNotification()))
	require.NoError(t, r.Dispatch("stub", completeNotification()))
	require.NoError(t, r.Dispatch("stub", completeNotification()))

	require.Len(t, settled, 1)
	assert.Equal(t, "pay-1", settled[0].PaymentID)
	assert.Equal(t, int64(42), settled[0].UserID)
}

func TestDispatchStoreError(t *testing.T) {
	store := newMemPaymentStore()
	store.err = errors.New("db down")
	r := NewRegistry(store, zap.NewNop())
	r.Register(&stubGateway{name: "stub", verifyOK: true, record: settledRecord()}, true)

	err := r.Dispatch("stub", completeNotification())
	assert.Error(t, err)
}

func TestGetNormalizesName(t *testing.T) {
	r := NewRegistry(newMemPaymentStore(), zap.NewNop())
	r.Register(&stubGateway{name: "stub"}, true)

	gw, ok := r.Get("  STUB ")
	require.True(t, ok)
	assert.Equal(t, "stub", gw.Name())
	assert.Equal(t, "stub", r.Default().Name())
}

// A gateway whose Name is not already lowercase must still be reachable
// through lookup and dispatch.
func TestRegisterNormalizesName(t *testing.T) {
	r := NewRegistry(newMemPaymentStore(), zap.NewNop())
	r.Register(&stubGateway{name: " StubPay ", verifyOK: true, record: settledRecord()}, true)

	gw, ok := r.Get("stubpay")
	require.True(t, ok)
	assert.Equal(t, " StubPay ", gw.Name())
	require.NotNil(t, r.Default())

	assert.NoError(t, r.Dispatch("stubpay", completeNotification()))
}

func TestPolicyCredentials(t *testing.T) {
	policies := &stubPolicyStore{policy: &types.GroupPolicy{
		GroupID: -100123,
		CustomPaymentSettings: map[string]map[string]string{
			"payfast": {
				"merchant_id":  "10000100",
				"merchant_key": "46f0cd694581a",
				"passphrase":   "group-passphrase",
			},
		},
	}}
	src := NewPolicyCredentials(policies)

	opts, err := src.Credentials("payfast", -100123)
	require.NoError(t, err)
	assert.Equal(t, "10000100", opts.MerchantID)
	assert.Equal(t, "group-passphrase", opts.Passphrase)

	// Unknown group: no overrides, no error.
	policies.policy = nil
	opts, err = src.Credentials("payfast", -9)
	require.NoError(t, err)
	assert.Empty(t, opts.MerchantID)
	assert.Empty(t, opts.Passphrase)
}

type stubPolicyStore struct {
	policy *types.GroupPolicy
}

func (s *stubPolicyStore) RegisterGroupPolicy(types.GroupPolicy) error { return nil }

func (s *stubPolicyStore) GetGroupPolicy(int64) (*types.GroupPolicy, error) {
	return s.policy, nil
}

func (s *stubPolicyStore) UpdateGroupPolicy(types.GroupPolicy) error { return nil }

func (s *stubPolicyStore) SetPaymentSetting(int64, string, string, string) error { return nil }

func (s *stubPolicyStore) ListEnforcedPolicies() ([]types.GroupPolicy, error) { return nil, nil }
