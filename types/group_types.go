package types

import "time"

// GroupPolicy is the per-group monetization configuration. GroupID is the
// external chat id and is unique.
type GroupPolicy struct {
	GroupID      int64
	Title        string
	IsRegistered bool
	RegisteredAt *time.Time

	SubscriptionRequired bool
	SubscriptionPrice    float64
	SubscriptionCurrency string

	// PaymentMethod names the gateway used for this group; credentials per
	// provider live in CustomPaymentSettings keyed by provider name.
	PaymentMethod         string
	CustomPaymentSettings map[string]map[string]string

	RestrictNonSubsSending bool
	RestrictNonSubsViewing bool

	UserTrialEnabled bool
	UserTrialDays    int

	MonetizationDate             *time.Time
	ExistingUserGracePeriodHours int

	WelcomeMessage string
	AdminUsers     []int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PaymentSetting returns a provider credential, empty string if unset.
func (p *GroupPolicy) PaymentSetting(provider, key string) string {
	if p == nil || p.CustomPaymentSettings == nil {
		return ""
	}
	return p.CustomPaymentSettings[provider][key]
}

// InGracePeriod reports whether pre-existing members are still exempt from
// enforcement at the given time.
func (p *GroupPolicy) InGracePeriod(now time.Time) bool {
	if p == nil || p.MonetizationDate == nil || p.ExistingUserGracePeriodHours <= 0 {
		return false
	}
	end := p.MonetizationDate.Add(time.Duration(p.ExistingUserGracePeriodHours) * time.Hour)
	return now.Before(end)
}

func (p *GroupPolicy) IsAdminUser(userID int64) bool {
	if p == nil {
		return false
	}
	for _, id := range p.AdminUsers {
		if id == userID {
			return true
		}
	}
	return false
}

type PolicyStore interface {
	RegisterGroupPolicy(policy GroupPolicy) error
	GetGroupPolicy(groupID int64) (*GroupPolicy, error)
	UpdateGroupPolicy(policy GroupPolicy) error
	SetPaymentSetting(groupID int64, provider, key, value string) error
	ListEnforcedPolicies() ([]GroupPolicy, error)
}
