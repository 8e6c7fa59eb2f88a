package payments

import (
	"errors"
	"fmt"
	"time"

	"github.com/groupgate/group-gate-bot/types"
)

var (
	ErrUnknownProvider = errors.New("unknown payment provider")
	ErrBadSignature    = errors.New("notification signature mismatch")
)

// ConfigError reports gateway credentials missing when building a URL. It is
// raised synchronously to the caller, never silently defaulted.
type ConfigError struct {
	Provider string
	Missing  string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: missing %s", e.Provider, e.Missing)
}

// FormatError reports a notification field that does not parse.
type FormatError struct {
	Field string
	Value string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("malformed field %s: %q", e.Field, e.Value)
}

// Options override the gateway's configured credentials and redirect URLs
// for a single payment URL, sourced from the group's custom settings.
type Options struct {
	MerchantID  string
	MerchantKey string
	Passphrase  string
	ReturnURL   string
	CancelURL   string
	NotifyURL   string
}

type SubscriptionOptions struct {
	BillingDate   time.Time
	Frequency     int     // billing cadence, 3 = monthly
	Cycles        int     // 0 = until cancelled
	InitialAmount float64 // charged on signup when > 0
}

// Gateway is one payment provider. Implementations must be safe for
// concurrent use: every chat event and webhook delivery runs independently.
type Gateway interface {
	Name() string
	BuildPaymentURL(userID, groupID int64, amount float64, itemName, itemDescription string, opts Options) (string, error)
	BuildSubscriptionURL(userID, groupID int64, amount float64, itemName, itemDescription string, opts Options, sub SubscriptionOptions) (string, error)
	// Verify authenticates an inbound notification. A false return means the
	// payload must be rejected without touching any state.
	Verify(n *Notification) (bool, error)
	// Normalize maps a verified notification onto a PaymentRecord.
	Normalize(n *Notification) (types.PaymentRecord, error)
	// WebhookPath is the provider's fixed inbound path, "" when the provider
	// only uses the generic dispatch route.
	WebhookPath() string
}
