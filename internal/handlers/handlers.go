package handlers

import (
	"context"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"

	"github.com/groupgate/group-gate-bot/internal/access"
	"github.com/groupgate/group-gate-bot/internal/contextkeys"
	"github.com/groupgate/group-gate-bot/internal/messages"
	"github.com/groupgate/group-gate-bot/internal/payments"
	"github.com/groupgate/group-gate-bot/internal/wizard"
	"github.com/groupgate/group-gate-bot/types"
)

type Handlers struct {
	users     types.UserStore
	policies  types.PolicyStore
	engine    *access.Engine
	wiz       *wizard.Wizard
	registry  *payments.Registry
	botClient *bot.Bot
	logger    *zap.Logger

	extension time.Duration
}

type Config struct {
	SubscriptionExtension time.Duration
}

func NewHandlers(users types.UserStore, policies types.PolicyStore, engine *access.Engine, wiz *wizard.Wizard, registry *payments.Registry, botClient *bot.Bot, cfg Config, logger *zap.Logger) *Handlers {
	if cfg.SubscriptionExtension <= 0 {
		cfg.SubscriptionExtension = 31 * 24 * time.Hour
	}
	return &Handlers{
		users:     users,
		policies:  policies,
		engine:    engine,
		wiz:       wiz,
		registry:  registry,
		botClient: botClient,
		logger:    logger.Named("handlers"),
		extension: cfg.SubscriptionExtension,
	}
}

// MainHandler routes one classified update. A recover here is the process
// survival guarantee: one bad event logs and answers generically instead of
// taking the bot down.
func (h *Handlers) MainHandler(ctx context.Context, b *bot.Bot, update *models.Update) {
	chatID := getChatIDFromUpdate(update)
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("panic in update handler", zap.Any("panic", r), zap.Int64("chat_id", chatID))
			if chatID != 0 {
				_, _ = b.SendMessage(ctx, &bot.SendMessageParams{
					ChatID:    chatID,
					Text:      messages.ErrorDefault(),
					ParseMode: messages.ParseModeHTML,
				})
			}
		}
	}()

	messageType, _ := contextkeys.GetMessageType(ctx)
	switch messageType {
	case contextkeys.MessageTypeMemberJoin:
		h.HandleMemberJoin(ctx, b, update)
	case contextkeys.MessageTypeMemberLeft:
		h.HandleMemberLeft(ctx, b, update)
	case contextkeys.MessageTypeCommand:
		if !h.enforceMessageEvent(ctx, b, update) {
			return
		}
		h.HandleCommand(ctx, b, update)
	case contextkeys.MessageTypeText:
		if !h.enforceMessageEvent(ctx, b, update) {
			return
		}
		h.HandleText(ctx, b, update)
	case contextkeys.MessageTypeClickButton:
		h.HandleMenuClick(ctx, b, update)
	default:
		// Stickers, media and the rest still count as sending.
		if !h.enforceMessageEvent(ctx, b, update) {
			return
		}
	}
}

func (h *Handlers) isPlatformAdmin(ctx context.Context, b *bot.Bot, chatID, userID int64) bool {
	member, err := b.GetChatMember(ctx, &bot.GetChatMemberParams{
		ChatID: chatID,
		UserID: userID,
	})
	if err != nil || member == nil {
		return false
	}
	return member.Type == models.ChatMemberTypeOwner || member.Type == models.ChatMemberTypeAdministrator
}

func (h *Handlers) answerCallback(ctx context.Context, b *bot.Bot, callbackID, text string) error {
	_, err := b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: callbackID,
		Text:            text,
	})
	return err
}

// notifyUser sends a private message, falling back to the group when the
// user has never opened a private chat with the bot.
func (h *Handlers) notifyUser(ctx context.Context, b *bot.Bot, userID, fallbackChatID int64, text string) {
	_, err := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    userID,
		Text:      text,
		ParseMode: messages.ParseModeHTML,
	})
	if err != nil && fallbackChatID != 0 && fallbackChatID != userID {
		_, _ = b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID:    fallbackChatID,
			Text:      text,
			ParseMode: messages.ParseModeHTML,
		})
	}
}

func getChatIDFromUpdate(update *models.Update) int64 {
	if update == nil {
		return 0
	}
	if update.Message != nil {
		return update.Message.Chat.ID
	}
	if update.CallbackQuery != nil {
		if update.CallbackQuery.Message.Message != nil {
			return update.CallbackQuery.Message.Message.Chat.ID
		}
		if update.CallbackQuery.Message.InaccessibleMessage != nil {
			return update.CallbackQuery.Message.InaccessibleMessage.Chat.ID
		}
	}
	return 0
}

func isGroupChat(chat models.Chat) bool {
	return chat.Type == models.ChatTypeGroup || chat.Type == models.ChatTypeSupergroup
}
