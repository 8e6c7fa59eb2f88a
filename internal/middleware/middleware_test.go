package middleware

import (
	"context"
	"testing"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/groupgate/group-gate-bot/internal/contextkeys"
	"github.com/groupgate/group-gate-bot/types"
)

type stubSessionStore struct {
	session *types.Session
}

func (s *stubSessionStore) GetSession(chatID, userID int64) (*types.Session, error) {
	return s.session, nil
}

func (s *stubSessionStore) SetSession(*types.Session) error { return nil }

func (s *stubSessionStore) ClearSession(int64, int64) error { return nil }

func textUpdate(text string) *models.Update {
	return &models.Update{Message: &models.Message{
		Text: text,
		Chat: models.Chat{ID: -100123, Type: models.ChatTypeSupergroup},
		From: &models.User{ID: 42},
	}}
}

func classify(t *testing.T, sessions types.SessionStore, update *models.Update) contextkeys.MessageType {
	t.Helper()
	m := NewMessageAnalyzer(nil, sessions, zap.NewNop())

	var got contextkeys.MessageType
	called := false
	m.AnalyzeMessageMiddleware(func(ctx context.Context, b *bot.Bot, u *models.Update) {
		got, _ = contextkeys.GetMessageType(ctx)
		called = true
	})(context.Background(), nil, update)
	require.True(t, called)
	return got
}

func TestSlashTextIsCommandWhenIdle(t *testing.T) {
	sessions := &stubSessionStore{}
	assert.Equal(t, contextkeys.MessageTypeCommand, classify(t, sessions, textUpdate("/settings")))
	assert.Equal(t, contextkeys.MessageTypeText, classify(t, sessions, textUpdate("hello")))
}

// A sender mid-conversation gets slash-prefixed text routed as text, so a
// credential value starting with "/" reaches the active conversation
// instead of command routing.
func TestSlashTextIsWizardReplyWhenConversationActive(t *testing.T) {
	sessions := &stubSessionStore{session: &types.Session{
		ChatID:      -100123,
		UserID:      42,
		State:       types.StateConfiguringPayment,
		PaymentStep: types.StepMerchantKey,
	}}
	assert.Equal(t, contextkeys.MessageTypeText, classify(t, sessions, textUpdate("/46f0cd694581a")))
}

func TestIdleSessionDoesNotSwallowCommands(t *testing.T) {
	sessions := &stubSessionStore{session: &types.Session{
		ChatID: -100123,
		UserID: 42,
		State:  types.StateIdle,
	}}
	assert.Equal(t, contextkeys.MessageTypeCommand, classify(t, sessions, textUpdate("/status")))
}

func TestCancelCommandAlwaysRoutesAsText(t *testing.T) {
	sessions := &stubSessionStore{}
	assert.Equal(t, contextkeys.MessageTypeText, classify(t, sessions, textUpdate("/cancel")))
	assert.Equal(t, contextkeys.MessageTypeText, classify(t, sessions, textUpdate("/cancel@GroupGateBot")))
}

func TestMemberEventsClassified(t *testing.T) {
	sessions := &stubSessionStore{}

	join := textUpdate("")
	join.Message.NewChatMembers = []models.User{{ID: 7}}
	assert.Equal(t, contextkeys.MessageTypeMemberJoin, classify(t, sessions, join))

	left := textUpdate("")
	left.Message.LeftChatMember = &models.User{ID: 7}
	assert.Equal(t, contextkeys.MessageTypeMemberLeft, classify(t, sessions, left))
}
