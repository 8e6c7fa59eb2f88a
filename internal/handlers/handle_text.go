package handlers

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"

	"github.com/groupgate/group-gate-bot/internal/messages"
)

// HandleText offers free text to the wizard first; a message consumed there
// never reaches anything else. Unconsumed group chatter is left alone.
func (h *Handlers) HandleText(ctx context.Context, b *bot.Bot, update *models.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}

	result, err := h.wiz.HandleText(msg.Chat.ID, msg.From.ID, msg.Text)
	if err != nil {
		h.logger.Error("wizard step failed",
			zap.Int64("chat_id", msg.Chat.ID), zap.Int64("user_id", msg.From.ID), zap.Error(err))
		h.reply(ctx, b, msg.Chat.ID, messages.ErrorDefault())
		return
	}
	if !result.Handled {
		if msg.Chat.Type == models.ChatTypePrivate {
			h.reply(ctx, b, msg.Chat.ID, messages.HelpMessage())
		}
		return
	}

	if result.Reply != "" {
		h.reply(ctx, b, msg.Chat.ID, result.Reply)
	}
	if result.ReturnToSettings && result.GroupID != 0 {
		policy, err := h.policies.GetGroupPolicy(result.GroupID)
		if err != nil || policy == nil {
			return
		}
		h.sendSettingsMenu(ctx, b, msg.Chat.ID, policy)
	}
}
