package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"

	"github.com/groupgate/group-gate-bot/internal/contextkeys"
	"github.com/groupgate/group-gate-bot/internal/messages"
	"github.com/groupgate/group-gate-bot/internal/utils"
	"github.com/groupgate/group-gate-bot/types"
)

// Callback data is "cfg:{action}:{groupID}".
const callbackPrefix = "cfg"

const defaultGracePeriodHours = 48

func callbackData(action string, groupID int64) string {
	return fmt.Sprintf("%s:%s:%d", callbackPrefix, action, groupID)
}

func parseCallbackData(data string) (action string, groupID int64, ok bool) {
	parts := strings.Split(data, ":")
	if len(parts) != 3 || parts[0] != callbackPrefix {
		return "", 0, false
	}
	groupID, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return parts[1], groupID, true
}

func (h *Handlers) HandleMenuClick(ctx context.Context, b *bot.Bot, update *models.Update) {
	query := update.CallbackQuery
	if query == nil {
		return
	}
	data, _ := contextkeys.GetCallbackData(ctx)
	chatID := getChatIDFromUpdate(update)

	action, groupID, ok := parseCallbackData(data)
	if !ok {
		_ = h.answerCallback(ctx, b, query.ID, "")
		return
	}

	if action == "paylink" {
		_ = h.answerCallback(ctx, b, query.ID, "")
		h.clickSubscribe(ctx, b, groupID, query.From.ID, chatID)
		return
	}

	// Everything else reconfigures the group.
	if !h.isPlatformAdmin(ctx, b, groupID, query.From.ID) {
		_ = h.answerCallback(ctx, b, query.ID, "Admins only")
		return
	}

	policy, err := h.policies.GetGroupPolicy(groupID)
	if err != nil || policy == nil {
		h.logger.Error("load group policy", zap.Int64("group_id", groupID), zap.Error(err))
		_ = h.answerCallback(ctx, b, query.ID, "")
		return
	}

	switch action {
	case "menu":
		_ = h.answerCallback(ctx, b, query.ID, "")
		h.editSettingsMenu(ctx, b, update, policy)

	case "toggle_required":
		policy.SubscriptionRequired = !policy.SubscriptionRequired
		h.savePolicyAndRefresh(ctx, b, update, query.ID, policy)

	case "toggle_send":
		policy.RestrictNonSubsSending = !policy.RestrictNonSubsSending
		if policy.RestrictNonSubsSending {
			policy.RestrictNonSubsViewing = false
		}
		h.savePolicyAndRefresh(ctx, b, update, query.ID, policy)

	case "toggle_view":
		policy.RestrictNonSubsViewing = !policy.RestrictNonSubsViewing
		if policy.RestrictNonSubsViewing {
			policy.RestrictNonSubsSending = false
		}
		h.savePolicyAndRefresh(ctx, b, update, query.ID, policy)

	case "toggle_trial":
		policy.UserTrialEnabled = !policy.UserTrialEnabled
		if policy.UserTrialEnabled && policy.UserTrialDays < 1 {
			policy.UserTrialDays = 7
		}
		h.savePolicyAndRefresh(ctx, b, update, query.ID, policy)

	case "monetize":
		if policy.MonetizationDate == nil {
			now := time.Now().UTC()
			policy.MonetizationDate = &now
			if policy.ExistingUserGracePeriodHours <= 0 {
				policy.ExistingUserGracePeriodHours = defaultGracePeriodHours
			}
		} else {
			policy.MonetizationDate = nil
		}
		h.savePolicyAndRefresh(ctx, b, update, query.ID, policy)

	case "set_price":
		h.startWizardStep(ctx, b, query.ID, chatID, func() (string, error) {
			return h.wiz.StartPriceEntry(chatID, query.From.ID, groupID, true)
		})

	case "set_welcome":
		h.startWizardStep(ctx, b, query.ID, chatID, func() (string, error) {
			return h.wiz.StartWelcomeEntry(chatID, query.From.ID, groupID, true)
		})

	case "set_payfast":
		h.startWizardStep(ctx, b, query.ID, chatID, func() (string, error) {
			return h.wiz.StartPaymentSetup(chatID, query.From.ID, groupID)
		})

	case "set_trial_days":
		h.startWizardStep(ctx, b, query.ID, chatID, func() (string, error) {
			return h.wiz.StartTrialDaysEntry(chatID, query.From.ID, groupID)
		})

	default:
		_ = h.answerCallback(ctx, b, query.ID, "")
	}
}

func (h *Handlers) savePolicyAndRefresh(ctx context.Context, b *bot.Bot, update *models.Update, queryID string, policy *types.GroupPolicy) {
	if err := h.policies.UpdateGroupPolicy(*policy); err != nil {
		h.logger.Error("update group policy", zap.Int64("group_id", policy.GroupID), zap.Error(err))
		_ = h.answerCallback(ctx, b, queryID, "Saving failed")
		return
	}
	_ = h.answerCallback(ctx, b, queryID, "Saved")
	h.editSettingsMenu(ctx, b, update, policy)
}

func (h *Handlers) startWizardStep(ctx context.Context, b *bot.Bot, queryID string, chatID int64, start func() (string, error)) {
	prompt, err := start()
	if err != nil {
		h.logger.Error("start wizard step", zap.Int64("chat_id", chatID), zap.Error(err))
		_ = h.answerCallback(ctx, b, queryID, "")
		h.reply(ctx, b, chatID, messages.ErrorDefault())
		return
	}
	_ = h.answerCallback(ctx, b, queryID, "")
	h.reply(ctx, b, chatID, prompt)
}

func (h *Handlers) clickSubscribe(ctx context.Context, b *bot.Bot, groupID, userID, chatID int64) {
	policy, err := h.policies.GetGroupPolicy(groupID)
	if err != nil || policy == nil {
		h.reply(ctx, b, chatID, messages.ErrorDefault())
		return
	}
	h.sendPaymentLink(ctx, b, policy, userID, chatID)
}

func onOff(v bool) string {
	if v {
		return "✅"
	}
	return "❌"
}

func settingsKeyboard(policy *types.GroupPolicy) *models.InlineKeyboardMarkup {
	gid := policy.GroupID
	monetize := "📅 Set monetization date"
	if policy.MonetizationDate != nil {
		monetize = "📅 Clear monetization date"
	}
	return utils.BuildInlineKeyboard([]utils.Button{
		{Text: onOff(policy.SubscriptionRequired) + " Subscription required", CallbackData: callbackData("toggle_required", gid)},
		{Text: "💰 Price", CallbackData: callbackData("set_price", gid)},
		{Text: "🔑 PayFast credentials", CallbackData: callbackData("set_payfast", gid)},
		{Text: onOff(policy.RestrictNonSubsSending) + " Restrict sending", CallbackData: callbackData("toggle_send", gid)},
		{Text: onOff(policy.RestrictNonSubsViewing) + " Remove non-subscribers", CallbackData: callbackData("toggle_view", gid)},
		{Text: onOff(policy.UserTrialEnabled) + " Free trial", CallbackData: callbackData("toggle_trial", gid)},
		{Text: "🎁 Trial length", CallbackData: callbackData("set_trial_days", gid)},
		{Text: monetize, CallbackData: callbackData("monetize", gid)},
		{Text: "📝 Welcome message", CallbackData: callbackData("set_welcome", gid)},
		{Text: "💳 Get payment link", CallbackData: callbackData("paylink", gid)},
	})
}

func settingsText(policy *types.GroupPolicy) string {
	var sb strings.Builder
	sb.WriteString(messages.SettingsTitle(policy.Title))
	sb.WriteString("\n\n")
	if policy.SubscriptionPrice > 0 {
		fmt.Fprintf(&sb, "Price: <b>%.2f %s</b>\n", policy.SubscriptionPrice, messages.Escape(policy.SubscriptionCurrency))
	} else {
		sb.WriteString("Price: <i>not set</i>\n")
	}
	if policy.UserTrialEnabled {
		fmt.Fprintf(&sb, "Trial: <b>%d day(s)</b>\n", policy.UserTrialDays)
	}
	if policy.MonetizationDate != nil {
		fmt.Fprintf(&sb, "Monetized since: %s (%dh grace)\n",
			policy.MonetizationDate.Format("2006-01-02"), policy.ExistingUserGracePeriodHours)
	}
	return sb.String()
}

func (h *Handlers) sendSettingsMenu(ctx context.Context, b *bot.Bot, chatID int64, policy *types.GroupPolicy) {
	_, err := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      chatID,
		Text:        settingsText(policy),
		ParseMode:   messages.ParseModeHTML,
		ReplyMarkup: settingsKeyboard(policy),
	})
	if err != nil {
		h.logger.Warn("send settings menu", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

// editSettingsMenu re-renders the menu in place after a toggle.
func (h *Handlers) editSettingsMenu(ctx context.Context, b *bot.Bot, update *models.Update, policy *types.GroupPolicy) {
	query := update.CallbackQuery
	if query == nil || query.Message.Message == nil {
		return
	}
	msg := query.Message.Message
	_, err := b.EditMessageText(ctx, &bot.EditMessageTextParams{
		ChatID:      msg.Chat.ID,
		MessageID:   msg.ID,
		Text:        settingsText(policy),
		ParseMode:   messages.ParseModeHTML,
		ReplyMarkup: settingsKeyboard(policy),
	})
	if err != nil {
		h.logger.Warn("edit settings menu", zap.Int64("chat_id", msg.Chat.ID), zap.Error(err))
	}
}
