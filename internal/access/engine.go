package access

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/groupgate/group-gate-bot/types"
)

type EventKind string

const (
	EventMessage    EventKind = "message"
	EventMemberJoin EventKind = "member_join"
)

// Input is everything one enforcement decision needs. The caller resolves
// platform admin status and the user's subscription before evaluating.
type Input struct {
	UserID          int64
	GroupID         int64
	Policy          *types.GroupPolicy
	Subscription    *types.GroupSubscription
	IsPlatformAdmin bool
	Kind            EventKind
	Now             time.Time
}

// Outcome is the single enforcement action. Side effects like message or
// member removal belong to the transport layer consuming it.
type Outcome struct {
	Decision types.Decision
	// Prompt is set when the group requires a subscription but no
	// enforcement mode is configured, and the hourly reminder budget for
	// this user has not been spent.
	Prompt bool
	// TrialDays is set alongside DecisionGrantTrial.
	TrialDays int
}

const (
	adminSubscriptionValidity = 365 * 24 * time.Hour
	promptInterval            = time.Hour
)

// Engine reconciles admin status, subscription state, trial policy and the
// monetization grace period into one decision per event.
type Engine struct {
	users  types.UserStore
	logger *zap.Logger
}

func NewEngine(users types.UserStore, logger *zap.Logger) *Engine {
	return &Engine{
		users:  users,
		logger: logger.Named("access"),
	}
}

// Evaluate applies the precedence order: open policy, platform admin,
// active subscription, grace period, first-join trial, then the strictest
// configured restriction. Earlier steps short-circuit later ones.
func (e *Engine) Evaluate(in Input) (Outcome, error) {
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	if in.Policy == nil || !in.Policy.IsRegistered || !in.Policy.SubscriptionRequired {
		return Outcome{Decision: types.DecisionAllow}, nil
	}

	if in.IsPlatformAdmin {
		inserted, err := e.users.EnsureAdminSubscription(in.UserID, in.GroupID, adminSubscriptionValidity)
		if err != nil {
			return Outcome{}, fmt.Errorf("ensure admin subscription: %w", err)
		}
		if inserted {
			e.logger.Info("admin subscription created",
				zap.Int64("user_id", in.UserID), zap.Int64("group_id", in.GroupID))
		}
		return Outcome{Decision: types.DecisionAllow}, nil
	}

	if in.Subscription.ActiveAt(now) {
		return Outcome{Decision: types.DecisionAllow}, nil
	}

	if in.Policy.InGracePeriod(now) {
		existing, err := e.users.IsJoinedGroup(in.UserID, in.GroupID)
		if err != nil {
			return Outcome{}, fmt.Errorf("check group membership: %w", err)
		}
		if existing {
			return Outcome{Decision: types.DecisionAllow}, nil
		}
	}

	if in.Kind == EventMemberJoin && in.Policy.UserTrialEnabled && in.Policy.UserTrialDays >= 1 && in.Subscription == nil {
		inserted, err := e.users.GrantTrialSubscription(in.UserID, in.GroupID, in.Policy.UserTrialDays)
		if err != nil {
			return Outcome{}, fmt.Errorf("grant trial: %w", err)
		}
		if !inserted {
			// A concurrent duplicate join already granted it.
			return Outcome{Decision: types.DecisionAllow}, nil
		}
		return Outcome{Decision: types.DecisionGrantTrial, TrialDays: in.Policy.UserTrialDays}, nil
	}

	if in.Policy.RestrictNonSubsViewing {
		return Outcome{Decision: types.DecisionRestrictView}, nil
	}
	if in.Policy.RestrictNonSubsSending && in.Kind == EventMessage {
		return Outcome{Decision: types.DecisionRestrictSend}, nil
	}

	// Subscription required but no enforcement mode selected: allow, with at
	// most one reminder per user per hour.
	prompt, err := e.users.TouchSubscriptionPrompt(in.UserID, promptInterval)
	if err != nil {
		e.logger.Warn("prompt rate limit check failed", zap.Error(err))
		prompt = false
	}
	return Outcome{Decision: types.DecisionAllow, Prompt: prompt}, nil
}
