package payments

import (
	"github.com/groupgate/group-gate-bot/types"
)

// CredentialSource resolves per-group gateway credential overrides. A zero
// Options return means the group has none and the gateway's configured
// account applies.
type CredentialSource interface {
	Credentials(provider string, groupID int64) (Options, error)
}

// PolicyCredentials adapts the policy store to a CredentialSource, so the
// account a group's admin configured through the wizard governs both URL
// generation and notification verification.
type PolicyCredentials struct {
	policies types.PolicyStore
}

func NewPolicyCredentials(policies types.PolicyStore) *PolicyCredentials {
	return &PolicyCredentials{policies: policies}
}

func (c *PolicyCredentials) Credentials(provider string, groupID int64) (Options, error) {
	policy, err := c.policies.GetGroupPolicy(groupID)
	if err != nil {
		return Options{}, err
	}
	if policy == nil {
		return Options{}, nil
	}
	return Options{
		MerchantID:  policy.PaymentSetting(provider, "merchant_id"),
		MerchantKey: policy.PaymentSetting(provider, "merchant_key"),
		Passphrase:  policy.PaymentSetting(provider, "passphrase"),
	}, nil
}
