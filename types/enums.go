package types

type WizardState string

const (
	StateIdle               WizardState = "idle"
	StateAwaitingPrice      WizardState = "awaiting_price"
	StateAwaitingWelcome    WizardState = "awaiting_welcome"
	StateConfiguringPayment WizardState = "configuring_payment"
	StateAwaitingTrialDays  WizardState = "awaiting_trial_days"
)

// CredentialStep is the sub-step inside StateConfiguringPayment.
type CredentialStep string

const (
	StepMerchantID  CredentialStep = "merchant_id"
	StepMerchantKey CredentialStep = "merchant_key"
	StepPassphrase  CredentialStep = "passphrase"
)

// Decision is the single enforcement action per incoming chat event.
type Decision string

const (
	DecisionAllow        Decision = "allow"
	DecisionGrantTrial   Decision = "grant_trial"
	DecisionRestrictSend Decision = "restrict_send"
	DecisionRestrictView Decision = "restrict_view"
)

const (
	PaymentStatusComplete  string = "COMPLETE"
	PaymentStatusCancelled string = "CANCELLED"
)
