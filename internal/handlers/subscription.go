package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-telegram/bot"
	"go.uber.org/zap"

	"github.com/groupgate/group-gate-bot/internal/messages"
	"github.com/groupgate/group-gate-bot/internal/payments"
	"github.com/groupgate/group-gate-bot/types"
)

// sendPaymentLink builds a gateway URL for the group's configured price and
// delivers it privately; the fallback keeps it working for users who never
// opened a private chat with the bot.
func (h *Handlers) sendPaymentLink(ctx context.Context, b *bot.Bot, policy *types.GroupPolicy, userID, fallbackChatID int64) {
	url, err := h.buildPaymentURL(policy, userID)
	if err != nil {
		var cfgErr *payments.ConfigError
		if errors.As(err, &cfgErr) || errors.Is(err, errNotConfigured) {
			h.notifyUser(ctx, b, userID, fallbackChatID, messages.PaymentNotConfigured())
			return
		}
		h.logger.Error("build payment url",
			zap.Int64("group_id", policy.GroupID), zap.Int64("user_id", userID), zap.Error(err))
		h.notifyUser(ctx, b, userID, fallbackChatID, messages.ErrorDefault())
		return
	}
	h.notifyUser(ctx, b, userID, fallbackChatID,
		messages.PaymentLink(url, policy.SubscriptionPrice, policy.SubscriptionCurrency))
}

var errNotConfigured = errors.New("subscription price not configured")

func (h *Handlers) buildPaymentURL(policy *types.GroupPolicy, userID int64) (string, error) {
	if policy.SubscriptionPrice <= 0 {
		return "", errNotConfigured
	}

	var gw payments.Gateway
	if policy.PaymentMethod != "" {
		var ok bool
		gw, ok = h.registry.Get(policy.PaymentMethod)
		if !ok {
			return "", fmt.Errorf("%q: %w", policy.PaymentMethod, payments.ErrUnknownProvider)
		}
	} else {
		gw = h.registry.Default()
		if gw == nil {
			return "", errNotConfigured
		}
	}

	opts := payments.Options{
		MerchantID:  policy.PaymentSetting(gw.Name(), "merchant_id"),
		MerchantKey: policy.PaymentSetting(gw.Name(), "merchant_key"),
		Passphrase:  policy.PaymentSetting(gw.Name(), "passphrase"),
	}

	itemName := fmt.Sprintf("%s subscription", policy.Title)
	itemDescription := fmt.Sprintf("Monthly access to %s", policy.Title)
	return gw.BuildSubscriptionURL(userID, policy.GroupID, policy.SubscriptionPrice,
		itemName, itemDescription, opts, payments.SubscriptionOptions{})
}

// OnPaymentSettled is the registry's success callback: extend the paying
// user's entitlement and tell them. It runs on a webhook goroutine, so it
// uses the handler's own bot client with a bounded context.
func (h *Handlers) OnPaymentSettled(record types.PaymentRecord) {
	sub, err := h.users.ExtendGroupSubscription(record.UserID, record.GroupID,
		record.Amount, record.Currency, h.extension)
	if err != nil {
		h.logger.Error("extend subscription after payment",
			zap.String("payment_id", record.PaymentID),
			zap.Int64("user_id", record.UserID),
			zap.Int64("group_id", record.GroupID),
			zap.Error(err))
		return
	}
	if sub == nil || sub.ExpiresAt == nil {
		return
	}

	title := "the group"
	if policy, err := h.policies.GetGroupPolicy(record.GroupID); err == nil && policy != nil && policy.Title != "" {
		title = policy.Title
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err = h.botClient.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    record.UserID,
		Text:      messages.SubscriptionExtended(title, *sub.ExpiresAt),
		ParseMode: messages.ParseModeHTML,
	})
	if err != nil {
		h.logger.Warn("payment confirmation message failed",
			zap.Int64("user_id", record.UserID), zap.Error(err))
	}
}
