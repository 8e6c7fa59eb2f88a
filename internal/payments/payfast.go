package payments

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/groupgate/group-gate-bot/types"
)

const (
	ProviderPayFast = "payfast"

	payfastProductionHost = "www.payfast.co.za"
	payfastSandboxHost    = "sandbox.payfast.co.za"

	// PayFast settles in South African rand regardless of the display
	// currency configured on the group.
	payfastSettlementCurrency = "ZAR"

	payfastWebhookPath = "/payfast/itn"

	defaultFrequencyMonthly = 3
)

type PayFastConfig struct {
	MerchantID  string
	MerchantKey string
	Passphrase  string
	Sandbox     bool

	ReturnURL string
	CancelURL string
	NotifyURL string

	// ValidateRemote enables the server-side confirmation call to PayFast's
	// validation endpoint after the local signature check.
	ValidateRemote bool
}

type PayFast struct {
	cfg        PayFastConfig
	creds      CredentialSource
	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time
}

func NewPayFast(cfg PayFastConfig, logger *zap.Logger) *PayFast {
	return &PayFast{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger.Named("payfast"),
		now:        time.Now,
	}
}

// SetCredentialSource makes Verify resolve the merchant account of the
// group a notification names, instead of always checking against the
// configured global account.
func (p *PayFast) SetCredentialSource(creds CredentialSource) {
	p.creds = creds
}

func (p *PayFast) Name() string { return ProviderPayFast }

func (p *PayFast) WebhookPath() string { return payfastWebhookPath }

func (p *PayFast) host() string {
	if p.cfg.Sandbox {
		return payfastSandboxHost
	}
	return payfastProductionHost
}

func (p *PayFast) credentials(opts Options) (merchantID, merchantKey, passphrase string, err error) {
	merchantID = strings.TrimSpace(opts.MerchantID)
	if merchantID == "" {
		merchantID = strings.TrimSpace(p.cfg.MerchantID)
	}
	merchantKey = strings.TrimSpace(opts.MerchantKey)
	if merchantKey == "" {
		merchantKey = strings.TrimSpace(p.cfg.MerchantKey)
	}
	passphrase = opts.Passphrase
	if passphrase == "" {
		passphrase = p.cfg.Passphrase
	}
	if merchantID == "" {
		return "", "", "", &ConfigError{Provider: ProviderPayFast, Missing: "merchant_id"}
	}
	if merchantKey == "" {
		return "", "", "", &ConfigError{Provider: ProviderPayFast, Missing: "merchant_key"}
	}
	return merchantID, merchantKey, passphrase, nil
}

func (p *PayFast) BuildPaymentURL(userID, groupID int64, amount float64, itemName, itemDescription string, opts Options) (string, error) {
	return p.buildURL(userID, groupID, amount, itemName, itemDescription, opts, nil)
}

func (p *PayFast) BuildSubscriptionURL(userID, groupID int64, amount float64, itemName, itemDescription string, opts Options, sub SubscriptionOptions) (string, error) {
	return p.buildURL(userID, groupID, amount, itemName, itemDescription, opts, &sub)
}

func (p *PayFast) buildURL(userID, groupID int64, amount float64, itemName, itemDescription string, opts Options, sub *SubscriptionOptions) (string, error) {
	merchantID, merchantKey, passphrase, err := p.credentials(opts)
	if err != nil {
		return "", err
	}

	returnURL := firstNonEmpty(opts.ReturnURL, p.cfg.ReturnURL)
	cancelURL := firstNonEmpty(opts.CancelURL, p.cfg.CancelURL)
	notifyURL := firstNonEmpty(opts.NotifyURL, p.cfg.NotifyURL)

	// The field order below is the order PayFast documents; the signature is
	// computed over these pairs in this exact order, not sorted.
	fields := []Field{
		{"merchant_id", merchantID},
		{"merchant_key", merchantKey},
		{"return_url", returnURL},
		{"cancel_url", cancelURL},
		{"notify_url", notifyURL},
		{"name_first", "Group"},
		{"name_last", "Member"},
		{"email_address", fmt.Sprintf("user%d@groupgate.bot", userID)},
		{"m_payment_id", fmt.Sprintf("sub_%d_%d", userID, p.now().UnixMilli())},
		{"amount", formatAmount(amount)},
		{"item_name", itemName},
		{"item_description", itemDescription},
		{"custom_str1", strconv.FormatInt(userID, 10)},
		{"custom_str2", strconv.FormatInt(groupID, 10)},
	}

	if sub != nil {
		frequency := sub.Frequency
		if frequency == 0 {
			frequency = defaultFrequencyMonthly
		}
		billingDate := sub.BillingDate
		if billingDate.IsZero() {
			billingDate = p.now()
		}
		fields = append(fields,
			Field{"subscription_type", "1"},
			Field{"billing_date", billingDate.Format("2006-01-02")},
			Field{"recurring_amount", formatAmount(amount)},
			Field{"frequency", strconv.Itoa(frequency)},
			Field{"cycles", strconv.Itoa(sub.Cycles)},
		)
		if sub.InitialAmount > 0 {
			fields = append(fields, Field{"initial_amount", formatAmount(sub.InitialAmount)})
		}
	}

	fields = dropEmpty(fields)
	fields = append(fields, Field{"signature", signFields(fields, passphrase)})

	return "https://" + p.host() + "/eng/process?" + encodeFields(fields), nil
}

// Verify recomputes the signature over the received fields in received
// order, against the merchant account the notification's group is
// configured with, and, when enabled, confirms the notification against
// PayFast's own validation endpoint. All checks must pass.
func (p *PayFast) Verify(n *Notification) (bool, error) {
	received := strings.TrimSpace(n.Get("signature"))
	if received == "" {
		return false, nil
	}

	passphrase, merchantID, err := p.notificationCredentials(n)
	if err != nil {
		return false, err
	}
	if merchantID != "" && n.Has("merchant_id") && strings.TrimSpace(n.Get("merchant_id")) != merchantID {
		p.logger.Warn("merchant account mismatch",
			zap.String("m_payment_id", n.Get("m_payment_id")),
			zap.String("merchant_id", n.Get("merchant_id")))
		return false, nil
	}

	signable := make([]Field, 0, len(n.Fields()))
	for _, f := range n.Fields() {
		if f.Key == "signature" {
			continue
		}
		signable = append(signable, f)
	}
	expected := signFields(signable, passphrase)
	if !strings.EqualFold(expected, received) {
		p.logger.Warn("signature mismatch", zap.String("m_payment_id", n.Get("m_payment_id")))
		return false, nil
	}

	if !p.cfg.ValidateRemote {
		return true, nil
	}
	return p.validateRemote(n)
}

// notificationCredentials resolves the merchant account a notification must
// be checked against: the overrides of the group named in custom_str2 when
// present, the configured global account otherwise. The fallback per value
// mirrors credentials(), so generation and verification always agree.
func (p *PayFast) notificationCredentials(n *Notification) (passphrase, merchantID string, err error) {
	passphrase = p.cfg.Passphrase
	merchantID = strings.TrimSpace(p.cfg.MerchantID)
	if p.creds == nil {
		return passphrase, merchantID, nil
	}

	groupID, perr := strconv.ParseInt(strings.TrimSpace(n.Get("custom_str2")), 10, 64)
	if perr != nil {
		return passphrase, merchantID, nil
	}
	opts, err := p.creds.Credentials(ProviderPayFast, groupID)
	if err != nil {
		return "", "", fmt.Errorf("resolve payfast credentials for group %d: %w", groupID, err)
	}
	if opts.Passphrase != "" {
		passphrase = opts.Passphrase
	}
	if id := strings.TrimSpace(opts.MerchantID); id != "" {
		merchantID = id
	}
	return passphrase, merchantID, nil
}

func (p *PayFast) validateRemote(n *Notification) (bool, error) {
	endpoint := "https://" + p.host() + "/eng/query/validate"
	resp, err := p.httpClient.Post(endpoint, "application/x-www-form-urlencoded", strings.NewReader(n.Encode()))
	if err != nil {
		return false, fmt.Errorf("payfast validate: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return false, fmt.Errorf("payfast validate: %w", err)
	}
	valid := strings.TrimSpace(string(body)) == "VALID"
	if !valid {
		p.logger.Warn("remote validation rejected notification",
			zap.String("m_payment_id", n.Get("m_payment_id")),
			zap.Int("status", resp.StatusCode))
	}
	return valid, nil
}

// Normalize maps a verified ITN onto a PaymentRecord. The m_payment_id must
// carry the sub_{userId}_{...} shape this gateway generates.
func (p *PayFast) Normalize(n *Notification) (types.PaymentRecord, error) {
	mPaymentID := strings.TrimSpace(n.Get("m_payment_id"))
	userID, err := parseSubPaymentID(mPaymentID)
	if err != nil {
		return types.PaymentRecord{}, err
	}

	groupID, err := strconv.ParseInt(strings.TrimSpace(n.Get("custom_str2")), 10, 64)
	if err != nil {
		return types.PaymentRecord{}, &FormatError{Field: "custom_str2", Value: n.Get("custom_str2")}
	}

	amount, err := strconv.ParseFloat(strings.TrimSpace(n.Get("amount_gross")), 64)
	if err != nil {
		return types.PaymentRecord{}, &FormatError{Field: "amount_gross", Value: n.Get("amount_gross")}
	}

	paymentID := strings.TrimSpace(n.Get("pf_payment_id"))
	if paymentID == "" {
		return types.PaymentRecord{}, &FormatError{Field: "pf_payment_id", Value: ""}
	}

	return types.PaymentRecord{
		Provider:       ProviderPayFast,
		PaymentID:      paymentID,
		UserID:         userID,
		GroupID:        groupID,
		Amount:         amount,
		Currency:       payfastSettlementCurrency,
		Status:         strings.TrimSpace(n.Get("payment_status")),
		IsSubscription: n.Get("token") != "" && n.Get("subscription_id") != "",
		CreatedAt:      p.now().UTC(),
	}, nil
}

func parseSubPaymentID(id string) (int64, error) {
	parts := strings.Split(id, "_")
	if len(parts) < 3 || parts[0] != "sub" {
		return 0, &FormatError{Field: "m_payment_id", Value: id}
	}
	userID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || userID == 0 {
		return 0, &FormatError{Field: "m_payment_id", Value: id}
	}
	return userID, nil
}

// signFields is the PayFast signing algorithm: the key=value pairs joined by
// & in insertion order, values percent-encoded with spaces as +, passphrase
// appended last when configured, the whole string MD5-hashed. The signature
// field itself is never part of the signed string.
func signFields(fields []Field, passphrase string) string {
	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(f.Key)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(f.Value))
	}
	if passphrase != "" {
		if b.Len() > 0 {
			b.WriteByte('&')
		}
		b.WriteString("passphrase=")
		b.WriteString(url.QueryEscape(passphrase))
	}
	sum := md5.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func encodeFields(fields []Field) string {
	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(f.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(f.Value))
	}
	return b.String()
}

func formatAmount(amount float64) string {
	return strconv.FormatFloat(amount, 'f', 2, 64)
}

func dropEmpty(fields []Field) []Field {
	out := fields[:0]
	for _, f := range fields {
		if strings.TrimSpace(f.Value) == "" {
			continue
		}
		out = append(out, f)
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
