package access

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/groupgate/group-gate-bot/types"
)

type fakeUserStore struct {
	types.UserStore

	joined       map[int64]bool
	adminSubs    map[int64]bool
	trialSubs    map[int64]bool
	prompted     map[int64]bool
	adminGrants  int
	trialGrants  int
	promptChecks int
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{
		joined:    make(map[int64]bool),
		adminSubs: make(map[int64]bool),
		trialSubs: make(map[int64]bool),
		prompted:  make(map[int64]bool),
	}
}

func (s *fakeUserStore) IsJoinedGroup(userID, groupID int64) (bool, error) {
	return s.joined[userID], nil
}

func (s *fakeUserStore) EnsureAdminSubscription(userID, groupID int64, validity time.Duration) (bool, error) {
	s.adminGrants++
	if s.adminSubs[userID] {
		return false, nil
	}
	s.adminSubs[userID] = true
	return true, nil
}

func (s *fakeUserStore) GrantTrialSubscription(userID, groupID int64, days int) (bool, error) {
	s.trialGrants++
	if s.trialSubs[userID] {
		return false, nil
	}
	s.trialSubs[userID] = true
	return true, nil
}

func (s *fakeUserStore) TouchSubscriptionPrompt(userID int64, minInterval time.Duration) (bool, error) {
	s.promptChecks++
	if s.prompted[userID] {
		return false, nil
	}
	s.prompted[userID] = true
	return true, nil
}

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func enforcedPolicy() *types.GroupPolicy {
	return &types.GroupPolicy{
		GroupID:              -100123,
		Title:                "VIP Traders",
		IsRegistered:         true,
		SubscriptionRequired: true,
	}
}

func activeSub(until time.Time) *types.GroupSubscription {
	return &types.GroupSubscription{
		UserID:       42,
		GroupID:      -100123,
		IsSubscribed: true,
		ExpiresAt:    &until,
	}
}

func evaluate(t *testing.T, store types.UserStore, in Input) Outcome {
	t.Helper()
	in.Now = now
	out, err := NewEngine(store, zap.NewNop()).Evaluate(in)
	require.NoError(t, err)
	return out
}

func TestOpenGroupAllowsEverything(t *testing.T) {
	store := newFakeUserStore()

	for _, policy := range []*types.GroupPolicy{
		nil,
		{GroupID: -100123, IsRegistered: false, SubscriptionRequired: true},
		{GroupID: -100123, IsRegistered: true, SubscriptionRequired: false},
	} {
		out := evaluate(t, store, Input{UserID: 42, GroupID: -100123, Policy: policy, Kind: EventMessage})
		assert.Equal(t, types.DecisionAllow, out.Decision)
		assert.False(t, out.Prompt)
	}
	assert.Zero(t, store.adminGrants)
	assert.Zero(t, store.promptChecks)
}

func TestPlatformAdminGetsSyntheticSubscription(t *testing.T) {
	store := newFakeUserStore()
	in := Input{UserID: 42, GroupID: -100123, Policy: enforcedPolicy(), IsPlatformAdmin: true, Kind: EventMessage}

	out := evaluate(t, store, in)
	assert.Equal(t, types.DecisionAllow, out.Decision)

	// A second event must not create a second entitlement.
	out = evaluate(t, store, in)
	assert.Equal(t, types.DecisionAllow, out.Decision)
	assert.Equal(t, 2, store.adminGrants)
	assert.True(t, store.adminSubs[42])
}

func TestActiveSubscriptionAllows(t *testing.T) {
	store := newFakeUserStore()
	policy := enforcedPolicy()
	policy.RestrictNonSubsViewing = true

	out := evaluate(t, store, Input{
		UserID: 42, GroupID: -100123,
		Policy:       policy,
		Subscription: activeSub(now.Add(time.Hour)),
		Kind:         EventMessage,
	})
	assert.Equal(t, types.DecisionAllow, out.Decision)
}

func TestExpiredSubscriptionRestricted(t *testing.T) {
	store := newFakeUserStore()
	policy := enforcedPolicy()
	policy.RestrictNonSubsViewing = true

	out := evaluate(t, store, Input{
		UserID: 42, GroupID: -100123,
		Policy:       policy,
		Subscription: activeSub(now.Add(-time.Hour)),
		Kind:         EventMessage,
	})
	assert.Equal(t, types.DecisionRestrictView, out.Decision)
}

func TestGracePeriodCoversExistingMembersOnly(t *testing.T) {
	store := newFakeUserStore()
	store.joined[42] = true

	policy := enforcedPolicy()
	policy.RestrictNonSubsViewing = true
	monetized := now.Add(-time.Hour)
	policy.MonetizationDate = &monetized
	policy.ExistingUserGracePeriodHours = 48

	out := evaluate(t, store, Input{UserID: 42, GroupID: -100123, Policy: policy, Kind: EventMessage})
	assert.Equal(t, types.DecisionAllow, out.Decision)

	// A user with no membership record gets no grace.
	out = evaluate(t, store, Input{UserID: 43, GroupID: -100123, Policy: policy, Kind: EventMessage})
	assert.Equal(t, types.DecisionRestrictView, out.Decision)
}

func TestGracePeriodExpires(t *testing.T) {
	store := newFakeUserStore()
	store.joined[42] = true

	policy := enforcedPolicy()
	policy.RestrictNonSubsViewing = true
	monetized := now.Add(-72 * time.Hour)
	policy.MonetizationDate = &monetized
	policy.ExistingUserGracePeriodHours = 48

	out := evaluate(t, store, Input{UserID: 42, GroupID: -100123, Policy: policy, Kind: EventMessage})
	assert.Equal(t, types.DecisionRestrictView, out.Decision)
}

func TestTrialGrantedOnFirstJoinOnly(t *testing.T) {
	store := newFakeUserStore()
	policy := enforcedPolicy()
	policy.UserTrialEnabled = true
	policy.UserTrialDays = 7
	policy.RestrictNonSubsViewing = true

	out := evaluate(t, store, Input{UserID: 42, GroupID: -100123, Policy: policy, Kind: EventMemberJoin})
	assert.Equal(t, types.DecisionGrantTrial, out.Decision)
	assert.Equal(t, 7, out.TrialDays)

	// A duplicate join delivery finds the trial already granted: allow, not
	// a second grant.
	out = evaluate(t, store, Input{UserID: 42, GroupID: -100123, Policy: policy, Kind: EventMemberJoin})
	assert.Equal(t, types.DecisionAllow, out.Decision)
	assert.Equal(t, 2, store.trialGrants)
}

func TestNoTrialForMessagesOrPriorSubscribers(t *testing.T) {
	store := newFakeUserStore()
	policy := enforcedPolicy()
	policy.UserTrialEnabled = true
	policy.UserTrialDays = 7
	policy.RestrictNonSubsSending = true

	// Trials attach to joins, never to plain messages.
	out := evaluate(t, store, Input{UserID: 42, GroupID: -100123, Policy: policy, Kind: EventMessage})
	assert.Equal(t, types.DecisionRestrictSend, out.Decision)
	assert.Zero(t, store.trialGrants)

	// A rejoining user with a lapsed subscription gets no second trial.
	out = evaluate(t, store, Input{
		UserID: 42, GroupID: -100123,
		Policy:       policy,
		Subscription: activeSub(now.Add(-time.Hour)),
		Kind:         EventMemberJoin,
	})
	assert.NotEqual(t, types.DecisionGrantTrial, out.Decision)
	assert.Zero(t, store.trialGrants)
}

func TestRestrictSendOnlyAppliesToMessages(t *testing.T) {
	store := newFakeUserStore()
	policy := enforcedPolicy()
	policy.RestrictNonSubsSending = true

	out := evaluate(t, store, Input{UserID: 42, GroupID: -100123, Policy: policy, Kind: EventMessage})
	assert.Equal(t, types.DecisionRestrictSend, out.Decision)

	// Joining a send-restricted group is allowed; only sending is gated.
	out = evaluate(t, store, Input{UserID: 43, GroupID: -100123, Policy: policy, Kind: EventMemberJoin})
	assert.Equal(t, types.DecisionAllow, out.Decision)
}

func TestViewRestrictionWinsOverSendRestriction(t *testing.T) {
	store := newFakeUserStore()
	policy := enforcedPolicy()
	policy.RestrictNonSubsSending = true
	policy.RestrictNonSubsViewing = true

	out := evaluate(t, store, Input{UserID: 42, GroupID: -100123, Policy: policy, Kind: EventMessage})
	assert.Equal(t, types.DecisionRestrictView, out.Decision)
}

func TestPromptRateLimited(t *testing.T) {
	store := newFakeUserStore()
	policy := enforcedPolicy()

	out := evaluate(t, store, Input{UserID: 42, GroupID: -100123, Policy: policy, Kind: EventMessage})
	assert.Equal(t, types.DecisionAllow, out.Decision)
	assert.True(t, out.Prompt)

	out = evaluate(t, store, Input{UserID: 42, GroupID: -100123, Policy: policy, Kind: EventMessage})
	assert.Equal(t, types.DecisionAllow, out.Decision)
	assert.False(t, out.Prompt)
}
