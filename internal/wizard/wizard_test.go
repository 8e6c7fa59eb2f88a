package wizard

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/groupgate/group-gate-bot/types"
)

type memSessionStore struct {
	sessions map[string]*types.Session
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{sessions: make(map[string]*types.Session)}
}

func sessionKey(chatID, userID int64) string {
	return fmt.Sprintf("%d:%d", chatID, userID)
}

func (s *memSessionStore) GetSession(chatID, userID int64) (*types.Session, error) {
	session, ok := s.sessions[sessionKey(chatID, userID)]
	if !ok {
		return nil, nil
	}
	copied := *session
	return &copied, nil
}

func (s *memSessionStore) SetSession(session *types.Session) error {
	copied := *session
	s.sessions[sessionKey(session.ChatID, session.UserID)] = &copied
	return nil
}

func (s *memSessionStore) ClearSession(chatID, userID int64) error {
	delete(s.sessions, sessionKey(chatID, userID))
	return nil
}

type memPolicyStore struct {
	policies map[int64]*types.GroupPolicy
}

func newMemPolicyStore() *memPolicyStore {
	return &memPolicyStore{policies: make(map[int64]*types.GroupPolicy)}
}

func (s *memPolicyStore) RegisterGroupPolicy(policy types.GroupPolicy) error {
	copied := policy
	s.policies[policy.GroupID] = &copied
	return nil
}

func (s *memPolicyStore) GetGroupPolicy(groupID int64) (*types.GroupPolicy, error) {
	policy, ok := s.policies[groupID]
	if !ok {
		return nil, nil
	}
	copied := *policy
	return &copied, nil
}

func (s *memPolicyStore) UpdateGroupPolicy(policy types.GroupPolicy) error {
	copied := policy
	s.policies[policy.GroupID] = &copied
	return nil
}

func (s *memPolicyStore) SetPaymentSetting(groupID int64, provider, key, value string) error {
	policy, ok := s.policies[groupID]
	if !ok {
		policy = &types.GroupPolicy{GroupID: groupID}
		s.policies[groupID] = policy
	}
	if policy.CustomPaymentSettings == nil {
		policy.CustomPaymentSettings = make(map[string]map[string]string)
	}
	if policy.CustomPaymentSettings[provider] == nil {
		policy.CustomPaymentSettings[provider] = make(map[string]string)
	}
	policy.CustomPaymentSettings[provider][key] = value
	return nil
}

func (s *memPolicyStore) ListEnforcedPolicies() ([]types.GroupPolicy, error) {
	return nil, nil
}

const (
	chatID  = int64(-100123)
	userID  = int64(42)
	groupID = int64(-100123)
)

func newTestWizard(t *testing.T) (*Wizard, *memSessionStore, *memPolicyStore) {
	t.Helper()
	sessions := newMemSessionStore()
	policies := newMemPolicyStore()
	require.NoError(t, policies.RegisterGroupPolicy(types.GroupPolicy{
		GroupID:      groupID,
		Title:        "VIP Traders",
		IsRegistered: true,
	}))
	return NewWizard(sessions, policies, "ZAR", zap.NewNop()), sessions, policies
}

func TestTextWithoutSessionNotHandled(t *testing.T) {
	w, _, _ := newTestWizard(t)

	res, err := w.HandleText(chatID, userID, "hello everyone")
	require.NoError(t, err)
	assert.False(t, res.Handled)
}

func TestPriceEntry(t *testing.T) {
	w, sessions, policies := newTestWizard(t)

	prompt, err := w.StartPriceEntry(chatID, userID, groupID, true)
	require.NoError(t, err)
	assert.NotEmpty(t, prompt)

	for _, bad := range []string{"abc", "-5", "0", "NaN", "Inf"} {
		res, err := w.HandleText(chatID, userID, bad)
		require.NoError(t, err)
		assert.True(t, res.Handled, bad)
		assert.False(t, res.Done, bad)
	}

	// Invalid input keeps the state active.
	session, err := sessions.GetSession(chatID, userID)
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, types.StateAwaitingPrice, session.State)

	res, err := w.HandleText(chatID, userID, " 50.5 ")
	require.NoError(t, err)
	assert.True(t, res.Done)
	assert.True(t, res.ReturnToSettings)
	assert.Equal(t, groupID, res.GroupID)

	policy, err := policies.GetGroupPolicy(groupID)
	require.NoError(t, err)
	assert.Equal(t, 50.5, policy.SubscriptionPrice)
	assert.Equal(t, "ZAR", policy.SubscriptionCurrency)

	session, err = sessions.GetSession(chatID, userID)
	require.NoError(t, err)
	assert.Nil(t, session)
}

func TestWelcomeEntryStoresVerbatim(t *testing.T) {
	w, _, policies := newTestWizard(t)

	_, err := w.StartWelcomeEntry(chatID, userID, groupID, false)
	require.NoError(t, err)

	res, err := w.HandleText(chatID, userID, "  Welcome to <VIP>!  ")
	require.NoError(t, err)
	assert.True(t, res.Done)
	assert.False(t, res.ReturnToSettings)

	policy, err := policies.GetGroupPolicy(groupID)
	require.NoError(t, err)
	assert.Equal(t, "Welcome to <VIP>!", policy.WelcomeMessage)
}

func TestCredentialProgression(t *testing.T) {
	w, _, policies := newTestWizard(t)

	_, err := w.StartPaymentSetup(chatID, userID, groupID)
	require.NoError(t, err)

	res, err := w.HandleText(chatID, userID, "10000100")
	require.NoError(t, err)
	assert.True(t, res.Handled)
	assert.False(t, res.Done)

	res, err = w.HandleText(chatID, userID, "46f0cd694581a")
	require.NoError(t, err)
	assert.False(t, res.Done)

	res, err = w.HandleText(chatID, userID, "jt7NOE43FZPn")
	require.NoError(t, err)
	assert.True(t, res.Done)

	policy, err := policies.GetGroupPolicy(groupID)
	require.NoError(t, err)
	assert.Equal(t, "10000100", policy.PaymentSetting("payfast", "merchant_id"))
	assert.Equal(t, "46f0cd694581a", policy.PaymentSetting("payfast", "merchant_key"))
	assert.Equal(t, "jt7NOE43FZPn", policy.PaymentSetting("payfast", "passphrase"))
	assert.Equal(t, "payfast", policy.PaymentMethod)
}

// A credential that happens to start with "/" is a value, not a command,
// and only the literal cancel token aborts.
func TestCredentialValueStartingWithSlash(t *testing.T) {
	w, _, policies := newTestWizard(t)

	_, err := w.StartPaymentSetup(chatID, userID, groupID)
	require.NoError(t, err)

	res, err := w.HandleText(chatID, userID, "/10000100")
	require.NoError(t, err)
	assert.True(t, res.Handled)
	assert.False(t, res.Cancelled)

	policy, err := policies.GetGroupPolicy(groupID)
	require.NoError(t, err)
	assert.Equal(t, "/10000100", policy.PaymentSetting("payfast", "merchant_id"))
}

func TestCredentialPassphraseSkip(t *testing.T) {
	w, _, policies := newTestWizard(t)

	_, err := w.StartPaymentSetup(chatID, userID, groupID)
	require.NoError(t, err)

	_, err = w.HandleText(chatID, userID, "10000100")
	require.NoError(t, err)
	_, err = w.HandleText(chatID, userID, "46f0cd694581a")
	require.NoError(t, err)

	res, err := w.HandleText(chatID, userID, "SKIP")
	require.NoError(t, err)
	assert.True(t, res.Done)

	policy, err := policies.GetGroupPolicy(groupID)
	require.NoError(t, err)
	assert.Empty(t, policy.PaymentSetting("payfast", "passphrase"))
}

func TestCancelKeepsCommittedSteps(t *testing.T) {
	w, sessions, policies := newTestWizard(t)

	_, err := w.StartPaymentSetup(chatID, userID, groupID)
	require.NoError(t, err)

	_, err = w.HandleText(chatID, userID, "10000100")
	require.NoError(t, err)

	res, err := w.HandleText(chatID, userID, "cancel")
	require.NoError(t, err)
	assert.True(t, res.Handled)
	assert.True(t, res.Cancelled)

	// The merchant id was persisted before the abort and stays.
	policy, err := policies.GetGroupPolicy(groupID)
	require.NoError(t, err)
	assert.Equal(t, "10000100", policy.PaymentSetting("payfast", "merchant_id"))
	assert.Empty(t, policy.PaymentSetting("payfast", "merchant_key"))

	session, err := sessions.GetSession(chatID, userID)
	require.NoError(t, err)
	assert.Nil(t, session)
}

func TestCancelVariants(t *testing.T) {
	for _, token := range []string{"cancel", "CANCEL", "/cancel", " /Cancel "} {
		t.Run(token, func(t *testing.T) {
			w, _, _ := newTestWizard(t)
			_, err := w.StartPriceEntry(chatID, userID, groupID, true)
			require.NoError(t, err)

			res, err := w.HandleText(chatID, userID, token)
			require.NoError(t, err)
			assert.True(t, res.Cancelled)
			assert.True(t, res.ReturnToSettings)
		})
	}
}

func TestTrialDaysBounds(t *testing.T) {
	w, _, policies := newTestWizard(t)

	_, err := w.StartTrialDaysEntry(chatID, userID, groupID)
	require.NoError(t, err)

	for _, bad := range []string{"0", "31", "-1", "seven", "7.5"} {
		res, err := w.HandleText(chatID, userID, bad)
		require.NoError(t, err)
		assert.True(t, res.Handled, bad)
		assert.False(t, res.Done, bad)
	}

	res, err := w.HandleText(chatID, userID, "14")
	require.NoError(t, err)
	assert.True(t, res.Done)

	policy, err := policies.GetGroupPolicy(groupID)
	require.NoError(t, err)
	assert.True(t, policy.UserTrialEnabled)
	assert.Equal(t, 14, policy.UserTrialDays)
}

func TestStartingNewStepReplacesActiveOne(t *testing.T) {
	w, _, policies := newTestWizard(t)

	_, err := w.StartPriceEntry(chatID, userID, groupID, false)
	require.NoError(t, err)
	_, err = w.StartWelcomeEntry(chatID, userID, groupID, false)
	require.NoError(t, err)

	// "50" is now a welcome message, not a price.
	res, err := w.HandleText(chatID, userID, "50")
	require.NoError(t, err)
	assert.True(t, res.Done)

	policy, err := policies.GetGroupPolicy(groupID)
	require.NoError(t, err)
	assert.Equal(t, "50", policy.WelcomeMessage)
	assert.Zero(t, policy.SubscriptionPrice)
}
