package handlers

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"

	"github.com/groupgate/group-gate-bot/internal/access"
	"github.com/groupgate/group-gate-bot/internal/messages"
	"github.com/groupgate/group-gate-bot/types"
)

// enforceMessageEvent gates a message or command sent inside a group.
// It returns true when the event may proceed to normal routing. Store or
// evaluation errors fail open: a flaky database must not mute a whole group.
func (h *Handlers) enforceMessageEvent(ctx context.Context, b *bot.Bot, update *models.Update) bool {
	msg := update.Message
	if msg == nil || msg.From == nil || !isGroupChat(msg.Chat) {
		return true
	}

	userID := msg.From.ID
	groupID := msg.Chat.ID

	policy, err := h.policies.GetGroupPolicy(groupID)
	if err != nil {
		h.logger.Error("load group policy", zap.Int64("group_id", groupID), zap.Error(err))
		return true
	}

	outcome, title := h.evaluate(ctx, b, userID, groupID, policy, access.EventMessage)

	switch outcome.Decision {
	case types.DecisionRestrictSend:
		_, err := b.DeleteMessage(ctx, &bot.DeleteMessageParams{
			ChatID:    groupID,
			MessageID: msg.ID,
		})
		if err != nil {
			h.logger.Warn("delete message failed",
				zap.Int64("group_id", groupID), zap.Int("message_id", msg.ID), zap.Error(err))
		}
		h.notifyUser(ctx, b, userID, 0, messages.RestrictSendNotice(title))
		return false

	case types.DecisionRestrictView:
		h.removeMember(ctx, b, groupID, userID, title)
		return false
	}

	if outcome.Prompt {
		h.notifyUser(ctx, b, userID, 0, messages.SubscriptionPrompt(title))
	}
	h.recordMembership(userID, groupID, msg.Chat.Title)
	return true
}

// HandleMemberJoin decides access for each new member. Membership is recorded
// only after an allow, so the grace-period check keeps seeing the truth: a
// user present before monetization has an older record than the cutover.
func (h *Handlers) HandleMemberJoin(ctx context.Context, b *bot.Bot, update *models.Update) {
	msg := update.Message
	if msg == nil || !isGroupChat(msg.Chat) {
		return
	}
	groupID := msg.Chat.ID

	policy, err := h.policies.GetGroupPolicy(groupID)
	if err != nil {
		h.logger.Error("load group policy", zap.Int64("group_id", groupID), zap.Error(err))
		return
	}

	for _, member := range msg.NewChatMembers {
		if member.IsBot {
			continue
		}
		if err := h.users.UpsertUser(types.User{
			UserID:    member.ID,
			Username:  member.Username,
			FirstName: member.FirstName,
			LastName:  member.LastName,
		}); err != nil {
			h.logger.Warn("upsert joining user", zap.Int64("user_id", member.ID), zap.Error(err))
		}

		outcome, title := h.evaluate(ctx, b, member.ID, groupID, policy, access.EventMemberJoin)

		switch outcome.Decision {
		case types.DecisionRestrictView:
			h.removeMember(ctx, b, groupID, member.ID, title)
			continue

		case types.DecisionGrantTrial:
			h.recordMembership(member.ID, groupID, msg.Chat.Title)
			h.notifyUser(ctx, b, member.ID, groupID, messages.TrialGranted(outcome.TrialDays, title))

		default:
			h.recordMembership(member.ID, groupID, msg.Chat.Title)
			if outcome.Prompt {
				h.notifyUser(ctx, b, member.ID, 0, messages.SubscriptionPrompt(title))
			}
		}

		if policy != nil && policy.WelcomeMessage != "" {
			_, _ = b.SendMessage(ctx, &bot.SendMessageParams{
				ChatID:    groupID,
				Text:      messages.Escape(policy.WelcomeMessage),
				ParseMode: messages.ParseModeHTML,
			})
		}
	}
}

func (h *Handlers) HandleMemberLeft(ctx context.Context, b *bot.Bot, update *models.Update) {
	msg := update.Message
	if msg == nil || msg.LeftChatMember == nil || !isGroupChat(msg.Chat) {
		return
	}
	if err := h.users.RemoveJoinedGroup(msg.LeftChatMember.ID, msg.Chat.ID); err != nil {
		h.logger.Warn("remove joined group",
			zap.Int64("user_id", msg.LeftChatMember.ID), zap.Int64("group_id", msg.Chat.ID), zap.Error(err))
	}
}

// evaluate gathers the per-user inputs and runs the access engine. Errors
// degrade to allow. Returns the outcome and the group's display title.
func (h *Handlers) evaluate(ctx context.Context, b *bot.Bot, userID, groupID int64, policy *types.GroupPolicy, kind access.EventKind) (access.Outcome, string) {
	title := "the group"
	if policy != nil && policy.Title != "" {
		title = policy.Title
	}

	sub, err := h.users.GetGroupSubscription(userID, groupID)
	if err != nil {
		h.logger.Error("load subscription", zap.Int64("user_id", userID), zap.Error(err))
		return access.Outcome{Decision: types.DecisionAllow}, title
	}

	outcome, err := h.engine.Evaluate(access.Input{
		UserID:          userID,
		GroupID:         groupID,
		Policy:          policy,
		Subscription:    sub,
		IsPlatformAdmin: h.isPlatformAdmin(ctx, b, groupID, userID),
		Kind:            kind,
	})
	if err != nil {
		h.logger.Error("access evaluation", zap.Int64("user_id", userID), zap.Int64("group_id", groupID), zap.Error(err))
		return access.Outcome{Decision: types.DecisionAllow}, title
	}
	return outcome, title
}

func (h *Handlers) recordMembership(userID, groupID int64, title string) {
	if err := h.users.RecordJoinedGroup(userID, groupID, title); err != nil {
		h.logger.Warn("record joined group", zap.Int64("user_id", userID), zap.Int64("group_id", groupID), zap.Error(err))
	}
}

// removeMember kicks and immediately unbans, so the user can rejoin once
// they have paid.
func (h *Handlers) removeMember(ctx context.Context, b *bot.Bot, groupID, userID int64, groupTitle string) {
	_, err := b.BanChatMember(ctx, &bot.BanChatMemberParams{
		ChatID: groupID,
		UserID: userID,
	})
	if err != nil {
		h.logger.Warn("ban failed", zap.Int64("group_id", groupID), zap.Int64("user_id", userID), zap.Error(err))
		return
	}
	_, _ = b.UnbanChatMember(ctx, &bot.UnbanChatMemberParams{
		ChatID:       groupID,
		UserID:       userID,
		OnlyIfBanned: true,
	})
	if err := h.users.RemoveJoinedGroup(userID, groupID); err != nil {
		h.logger.Warn("remove joined group", zap.Int64("user_id", userID), zap.Error(err))
	}
	h.notifyUser(ctx, b, userID, 0, messages.RestrictViewNotice(groupTitle))
}
