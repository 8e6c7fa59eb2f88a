package middleware

import (
	"context"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"

	"github.com/groupgate/group-gate-bot/internal/contextkeys"
	"github.com/groupgate/group-gate-bot/types"
)

type Middlewares struct {
	users    types.UserStore
	sessions types.SessionStore
	logger   *zap.Logger
}

func NewMessageAnalyzer(users types.UserStore, sessions types.SessionStore, logger *zap.Logger) *Middlewares {
	return &Middlewares{
		users:    users,
		sessions: sessions,
		logger:   logger.Named("middleware"),
	}
}

// TrackUserMiddleware upserts the sender so every later step can rely on a
// user row existing.
func (m *Middlewares) TrackUserMiddleware(next bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		from := senderFromUpdate(update)
		if from == nil || from.ID == 0 {
			return
		}
		err := m.users.UpsertUser(types.User{
			UserID:    from.ID,
			Username:  from.Username,
			FirstName: from.FirstName,
			LastName:  from.LastName,
		})
		if err != nil {
			m.logger.Warn("upsert user failed", zap.Int64("user_id", from.ID), zap.Error(err))
		}
		next(ctx, b, update)
	}
}

// AnalyzeMessageMiddleware classifies the update into a message type before
// the main handler switches on it.
func (m *Middlewares) AnalyzeMessageMiddleware(next bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		if update.CallbackQuery != nil && update.CallbackQuery.Data != "" {
			ctx = contextkeys.WithMessageType(ctx, contextkeys.MessageTypeClickButton)
			ctx = contextkeys.WithCallbackData(ctx, update.CallbackQuery.Data)
			next(ctx, b, update)
			return
		}

		msg := update.Message
		if msg == nil {
			next(contextkeys.WithMessageType(ctx, contextkeys.MessageTypeUnknown), b, update)
			return
		}

		switch {
		case len(msg.NewChatMembers) > 0:
			ctx = contextkeys.WithMessageType(ctx, contextkeys.MessageTypeMemberJoin)
		case msg.LeftChatMember != nil:
			ctx = contextkeys.WithMessageType(ctx, contextkeys.MessageTypeMemberLeft)
		case msg.Text != "" && strings.HasPrefix(msg.Text, "/") && !isCancelCommand(msg.Text) && !m.wizardActive(msg):
			ctx = contextkeys.WithMessageType(ctx, contextkeys.MessageTypeCommand)
		case msg.Text != "":
			ctx = contextkeys.WithMessageType(ctx, contextkeys.MessageTypeText)
		default:
			ctx = contextkeys.WithMessageType(ctx, contextkeys.MessageTypeUnknown)
		}
		next(ctx, b, update)
	}
}

// isCancelCommand routes /cancel through the text path so an active wizard
// conversation consumes it.
func isCancelCommand(text string) bool {
	cmd := strings.Fields(strings.TrimSpace(text))[0]
	if i := strings.Index(cmd, "@"); i > 0 {
		cmd = cmd[:i]
	}
	return cmd == "/cancel"
}

// wizardActive reports whether the sender is mid-conversation, in which
// case slash-prefixed text is a wizard reply (say a credential value), not
// a command.
func (m *Middlewares) wizardActive(msg *models.Message) bool {
	if m.sessions == nil || msg.From == nil {
		return false
	}
	session, err := m.sessions.GetSession(msg.Chat.ID, msg.From.ID)
	if err != nil {
		m.logger.Warn("session lookup failed",
			zap.Int64("chat_id", msg.Chat.ID), zap.Int64("user_id", msg.From.ID), zap.Error(err))
		return false
	}
	return session != nil && session.State != types.StateIdle
}

func senderFromUpdate(update *models.Update) *models.User {
	switch {
	case update.Message != nil && update.Message.From != nil:
		return update.Message.From
	case update.CallbackQuery != nil:
		return &update.CallbackQuery.From
	default:
		return nil
	}
}
