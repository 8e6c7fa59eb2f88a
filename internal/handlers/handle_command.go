package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"

	"github.com/groupgate/group-gate-bot/internal/messages"
	"github.com/groupgate/group-gate-bot/types"
)

func (h *Handlers) HandleCommand(ctx context.Context, b *bot.Bot, update *models.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}

	command := strings.ToLower(strings.TrimSpace(msg.Text))
	// "/settings@MyBot arg" -> "/settings"
	command = strings.Fields(command)[0]
	if at := strings.Index(command, "@"); at != -1 {
		command = command[:at]
	}

	switch command {
	case "/start":
		h.reply(ctx, b, msg.Chat.ID, messages.StartWelcome())
	case "/help":
		h.reply(ctx, b, msg.Chat.ID, messages.HelpMessage())
	case "/register":
		h.handleRegister(ctx, b, msg)
	case "/settings":
		h.handleSettings(ctx, b, msg)
	case "/subscribe":
		h.handleSubscribe(ctx, b, msg)
	case "/status":
		h.handleStatus(ctx, b, msg)
	default:
		h.reply(ctx, b, msg.Chat.ID, messages.ErrorUnknownCommand())
	}
}

// handleRegister turns a plain group into a managed one. Only a group admin
// may do it; the current admin list is snapshotted into the policy so the
// background sweeps can exempt admins without calling the platform.
func (h *Handlers) handleRegister(ctx context.Context, b *bot.Bot, msg *models.Message) {
	if !isGroupChat(msg.Chat) {
		h.reply(ctx, b, msg.Chat.ID, messages.GroupOnly())
		return
	}
	if !h.isPlatformAdmin(ctx, b, msg.Chat.ID, msg.From.ID) {
		h.reply(ctx, b, msg.Chat.ID, messages.AdminOnly())
		return
	}

	policy := types.GroupPolicy{
		GroupID:      msg.Chat.ID,
		Title:        msg.Chat.Title,
		IsRegistered: true,
		AdminUsers:   h.listGroupAdmins(ctx, b, msg.Chat.ID),
	}
	if err := h.policies.RegisterGroupPolicy(policy); err != nil {
		h.logger.Error("register group", zap.Int64("group_id", msg.Chat.ID), zap.Error(err))
		h.reply(ctx, b, msg.Chat.ID, messages.ErrorDefault())
		return
	}
	h.logger.Info("group registered", zap.Int64("group_id", msg.Chat.ID), zap.String("title", msg.Chat.Title))
	h.reply(ctx, b, msg.Chat.ID, messages.GroupRegistered(msg.Chat.Title))
}

func (h *Handlers) handleSettings(ctx context.Context, b *bot.Bot, msg *models.Message) {
	if !isGroupChat(msg.Chat) {
		h.reply(ctx, b, msg.Chat.ID, messages.GroupOnly())
		return
	}
	if !h.isPlatformAdmin(ctx, b, msg.Chat.ID, msg.From.ID) {
		h.reply(ctx, b, msg.Chat.ID, messages.AdminOnly())
		return
	}

	policy, err := h.policies.GetGroupPolicy(msg.Chat.ID)
	if err != nil {
		h.logger.Error("load group policy", zap.Int64("group_id", msg.Chat.ID), zap.Error(err))
		h.reply(ctx, b, msg.Chat.ID, messages.ErrorDefault())
		return
	}
	if policy == nil || !policy.IsRegistered {
		h.reply(ctx, b, msg.Chat.ID, messages.GroupNotRegistered())
		return
	}
	h.sendSettingsMenu(ctx, b, msg.Chat.ID, policy)
}

func (h *Handlers) handleSubscribe(ctx context.Context, b *bot.Bot, msg *models.Message) {
	if !isGroupChat(msg.Chat) {
		h.reply(ctx, b, msg.Chat.ID, messages.GroupOnly())
		return
	}

	policy, err := h.policies.GetGroupPolicy(msg.Chat.ID)
	if err != nil {
		h.logger.Error("load group policy", zap.Int64("group_id", msg.Chat.ID), zap.Error(err))
		h.reply(ctx, b, msg.Chat.ID, messages.ErrorDefault())
		return
	}
	if policy == nil || !policy.IsRegistered {
		h.reply(ctx, b, msg.Chat.ID, messages.GroupNotRegistered())
		return
	}

	h.sendPaymentLink(ctx, b, policy, msg.From.ID, msg.Chat.ID)
}

func (h *Handlers) handleStatus(ctx context.Context, b *bot.Bot, msg *models.Message) {
	if !isGroupChat(msg.Chat) {
		h.reply(ctx, b, msg.Chat.ID, messages.GroupOnly())
		return
	}

	policy, err := h.policies.GetGroupPolicy(msg.Chat.ID)
	if err != nil {
		h.logger.Error("load group policy", zap.Int64("group_id", msg.Chat.ID), zap.Error(err))
		h.reply(ctx, b, msg.Chat.ID, messages.ErrorDefault())
		return
	}

	title := msg.Chat.Title
	if policy == nil || !policy.IsRegistered || !policy.SubscriptionRequired {
		h.reply(ctx, b, msg.Chat.ID, messages.StatusOpenGroup(title))
		return
	}
	if h.isPlatformAdmin(ctx, b, msg.Chat.ID, msg.From.ID) {
		h.reply(ctx, b, msg.Chat.ID, messages.StatusAdmin(title))
		return
	}

	sub, err := h.users.GetGroupSubscription(msg.From.ID, msg.Chat.ID)
	if err != nil {
		h.logger.Error("load subscription", zap.Int64("user_id", msg.From.ID), zap.Error(err))
		h.reply(ctx, b, msg.Chat.ID, messages.ErrorDefault())
		return
	}
	if sub.ActiveAt(time.Now().UTC()) {
		h.reply(ctx, b, msg.Chat.ID, messages.StatusActive(title, *sub.ExpiresAt))
		return
	}
	h.reply(ctx, b, msg.Chat.ID, messages.StatusInactive(title))
}

func (h *Handlers) listGroupAdmins(ctx context.Context, b *bot.Bot, chatID int64) []int64 {
	admins, err := b.GetChatAdministrators(ctx, &bot.GetChatAdministratorsParams{ChatID: chatID})
	if err != nil {
		h.logger.Warn("list group admins", zap.Int64("chat_id", chatID), zap.Error(err))
		return nil
	}

	ids := make([]int64, 0, len(admins))
	for _, admin := range admins {
		switch admin.Type {
		case models.ChatMemberTypeOwner:
			if admin.Owner != nil && admin.Owner.User != nil {
				ids = append(ids, admin.Owner.User.ID)
			}
		case models.ChatMemberTypeAdministrator:
			if admin.Administrator != nil {
				ids = append(ids, admin.Administrator.User.ID)
			}
		}
	}
	return ids
}

func (h *Handlers) reply(ctx context.Context, b *bot.Bot, chatID int64, text string) {
	_, err := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: messages.ParseModeHTML,
	})
	if err != nil {
		h.logger.Warn("send message failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}
