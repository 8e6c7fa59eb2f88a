package wizard

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/groupgate/group-gate-bot/internal/messages"
	"github.com/groupgate/group-gate-bot/types"
)

const (
	// CancelToken aborts any wizard step and returns to the menu.
	CancelToken = "cancel"
	// SkipToken on the passphrase step stores nothing.
	SkipToken = "skip"

	minTrialDays = 1
	maxTrialDays = 30
)

// Result of offering a text message to the wizard. Handled=false means the
// message was not consumed and normal routing applies.
type Result struct {
	Handled          bool
	Reply            string
	Done             bool
	Cancelled        bool
	ReturnToSettings bool
	GroupID          int64
}

// Wizard is the per-conversation configuration state machine. One tagged
// state per (chat, user); entering any step overwrites whatever was active,
// so states stay mutually exclusive.
type Wizard struct {
	sessions types.SessionStore
	policies types.PolicyStore
	currency string
	logger   *zap.Logger
}

func NewWizard(sessions types.SessionStore, policies types.PolicyStore, currency string, logger *zap.Logger) *Wizard {
	return &Wizard{
		sessions: sessions,
		policies: policies,
		currency: currency,
		logger:   logger.Named("wizard"),
	}
}

func (w *Wizard) start(chatID, userID int64, session types.Session) error {
	now := time.Now().UTC()
	session.ID = uuid.NewString()
	session.ChatID = chatID
	session.UserID = userID
	session.CreatedAt = now
	session.UpdatedAt = now
	return w.sessions.SetSession(&session)
}

func (w *Wizard) StartPriceEntry(chatID, userID, groupID int64, fromSettings bool) (string, error) {
	err := w.start(chatID, userID, types.Session{
		State:        types.StateAwaitingPrice,
		GroupID:      groupID,
		FromSettings: fromSettings,
	})
	if err != nil {
		return "", err
	}
	return messages.WizardAskPrice(w.currency), nil
}

func (w *Wizard) StartWelcomeEntry(chatID, userID, groupID int64, fromSettings bool) (string, error) {
	err := w.start(chatID, userID, types.Session{
		State:        types.StateAwaitingWelcome,
		GroupID:      groupID,
		FromSettings: fromSettings,
	})
	if err != nil {
		return "", err
	}
	return messages.WizardAskWelcome(), nil
}

func (w *Wizard) StartPaymentSetup(chatID, userID, groupID int64) (string, error) {
	err := w.start(chatID, userID, types.Session{
		State:       types.StateConfiguringPayment,
		GroupID:     groupID,
		PaymentStep: types.StepMerchantID,
	})
	if err != nil {
		return "", err
	}
	return messages.WizardAskMerchantID(), nil
}

func (w *Wizard) StartTrialDaysEntry(chatID, userID, groupID int64) (string, error) {
	err := w.start(chatID, userID, types.Session{
		State:   types.StateAwaitingTrialDays,
		GroupID: groupID,
	})
	if err != nil {
		return "", err
	}
	return messages.WizardAskTrialDays(minTrialDays, maxTrialDays), nil
}

// Cancel clears any active wizard conversation.
func (w *Wizard) Cancel(chatID, userID int64) error {
	return w.sessions.ClearSession(chatID, userID)
}

// HandleText consumes a free-text reply when a wizard state is active. A
// consumed message never falls through to command routing.
func (w *Wizard) HandleText(chatID, userID int64, text string) (Result, error) {
	session, err := w.sessions.GetSession(chatID, userID)
	if err != nil {
		return Result{}, fmt.Errorf("load wizard session: %w", err)
	}
	if session == nil || session.State == types.StateIdle {
		return Result{}, nil
	}

	trimmed := strings.TrimSpace(text)
	if isCancel(trimmed) {
		if err := w.sessions.ClearSession(chatID, userID); err != nil {
			return Result{}, err
		}
		return Result{
			Handled:          true,
			Cancelled:        true,
			ReturnToSettings: session.FromSettings,
			GroupID:          session.GroupID,
			Reply:            messages.WizardCancelled(),
		}, nil
	}

	switch session.State {
	case types.StateAwaitingPrice:
		return w.handlePrice(session, trimmed)
	case types.StateAwaitingWelcome:
		return w.handleWelcome(session, text)
	case types.StateConfiguringPayment:
		return w.handleCredential(session, trimmed)
	case types.StateAwaitingTrialDays:
		return w.handleTrialDays(session, trimmed)
	default:
		w.logger.Warn("unknown wizard state", zap.String("state", string(session.State)))
		_ = w.sessions.ClearSession(chatID, userID)
		return Result{Handled: true, Reply: messages.ErrorDefault()}, nil
	}
}

func (w *Wizard) handlePrice(session *types.Session, text string) (Result, error) {
	price, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return Result{Handled: true, Reply: messages.WizardPriceInvalid()}, nil
	}

	policy, err := w.policies.GetGroupPolicy(session.GroupID)
	if err != nil {
		return Result{}, fmt.Errorf("load policy for price update: %w", err)
	}
	policy.SubscriptionPrice = price
	policy.SubscriptionCurrency = w.currency
	if err := w.policies.UpdateGroupPolicy(*policy); err != nil {
		return Result{}, fmt.Errorf("save price: %w", err)
	}

	if err := w.sessions.ClearSession(session.ChatID, session.UserID); err != nil {
		return Result{}, err
	}
	return Result{
		Handled:          true,
		Done:             true,
		ReturnToSettings: session.FromSettings,
		GroupID:          session.GroupID,
		Reply:            messages.WizardPriceSaved(price, w.currency),
	}, nil
}

func (w *Wizard) handleWelcome(session *types.Session, text string) (Result, error) {
	policy, err := w.policies.GetGroupPolicy(session.GroupID)
	if err != nil {
		return Result{}, fmt.Errorf("load policy for welcome update: %w", err)
	}
	policy.WelcomeMessage = strings.TrimSpace(text)
	if err := w.policies.UpdateGroupPolicy(*policy); err != nil {
		return Result{}, fmt.Errorf("save welcome message: %w", err)
	}

	if err := w.sessions.ClearSession(session.ChatID, session.UserID); err != nil {
		return Result{}, err
	}
	return Result{
		Handled:          true,
		Done:             true,
		ReturnToSettings: session.FromSettings,
		GroupID:          session.GroupID,
		Reply:            messages.WizardWelcomeSaved(),
	}, nil
}

// handleCredential walks merchant_id -> merchant_key -> passphrase,
// persisting after every step so a partial configuration survives an
// interruption. Credential values are stored verbatim, not format-checked.
func (w *Wizard) handleCredential(session *types.Session, text string) (Result, error) {
	switch session.PaymentStep {
	case types.StepMerchantID:
		if err := w.policies.SetPaymentSetting(session.GroupID, "payfast", "merchant_id", text); err != nil {
			return Result{}, fmt.Errorf("save merchant id: %w", err)
		}
		session.PaymentStep = types.StepMerchantKey
		session.UpdatedAt = time.Now().UTC()
		if err := w.sessions.SetSession(session); err != nil {
			return Result{}, err
		}
		return Result{Handled: true, Reply: messages.WizardAskMerchantKey()}, nil

	case types.StepMerchantKey:
		if err := w.policies.SetPaymentSetting(session.GroupID, "payfast", "merchant_key", text); err != nil {
			return Result{}, fmt.Errorf("save merchant key: %w", err)
		}
		session.PaymentStep = types.StepPassphrase
		session.UpdatedAt = time.Now().UTC()
		if err := w.sessions.SetSession(session); err != nil {
			return Result{}, err
		}
		return Result{Handled: true, Reply: messages.WizardAskPassphrase(SkipToken)}, nil

	case types.StepPassphrase:
		if !strings.EqualFold(text, SkipToken) {
			if err := w.policies.SetPaymentSetting(session.GroupID, "payfast", "passphrase", text); err != nil {
				return Result{}, fmt.Errorf("save passphrase: %w", err)
			}
		}
		policy, err := w.policies.GetGroupPolicy(session.GroupID)
		if err == nil && policy.PaymentMethod == "" {
			policy.PaymentMethod = "payfast"
			_ = w.policies.UpdateGroupPolicy(*policy)
		}
		if err := w.sessions.ClearSession(session.ChatID, session.UserID); err != nil {
			return Result{}, err
		}
		return Result{
			Handled: true,
			Done:    true,
			GroupID: session.GroupID,
			Reply:   messages.WizardPaymentConfigured(),
		}, nil

	default:
		_ = w.sessions.ClearSession(session.ChatID, session.UserID)
		return Result{Handled: true, Reply: messages.ErrorDefault()}, nil
	}
}

func (w *Wizard) handleTrialDays(session *types.Session, text string) (Result, error) {
	days, err := strconv.Atoi(text)
	if err != nil || days < minTrialDays || days > maxTrialDays {
		return Result{Handled: true, Reply: messages.WizardTrialDaysInvalid(minTrialDays, maxTrialDays)}, nil
	}

	policy, err := w.policies.GetGroupPolicy(session.GroupID)
	if err != nil {
		return Result{}, fmt.Errorf("load policy for trial update: %w", err)
	}
	policy.UserTrialEnabled = true
	policy.UserTrialDays = days
	if err := w.policies.UpdateGroupPolicy(*policy); err != nil {
		return Result{}, fmt.Errorf("save trial days: %w", err)
	}

	if err := w.sessions.ClearSession(session.ChatID, session.UserID); err != nil {
		return Result{}, err
	}
	return Result{
		Handled: true,
		Done:    true,
		GroupID: session.GroupID,
		Reply:   messages.WizardTrialSaved(days),
	}, nil
}

func isCancel(text string) bool {
	text = strings.ToLower(strings.TrimPrefix(text, "/"))
	return text == CancelToken
}
