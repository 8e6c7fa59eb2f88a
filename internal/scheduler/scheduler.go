package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	"go.uber.org/zap"

	"github.com/groupgate/group-gate-bot/internal/messages"
	"github.com/groupgate/group-gate-bot/types"
)

// Scheduler runs the two background sweeps: subscription-expiry
// reconciliation and auto-removal of lapsed members from groups that
// restrict viewing. The sweeps have no cross-instance coordination; a second
// service instance may duplicate notifications or removals, and both
// operations are written to tolerate that (lapse and removal are no-ops the
// second time).
type Scheduler struct {
	users     types.UserStore
	policies  types.PolicyStore
	botClient *bot.Bot
	logger    *zap.Logger

	expiryInterval  time.Duration
	removalInterval time.Duration

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

type Config struct {
	ExpiryInterval  time.Duration
	RemovalInterval time.Duration
}

func NewScheduler(users types.UserStore, policies types.PolicyStore, botClient *bot.Bot, config Config, logger *zap.Logger) *Scheduler {
	if config.ExpiryInterval <= 0 {
		config.ExpiryInterval = time.Hour
	}
	if config.RemovalInterval <= 0 {
		config.RemovalInterval = 6 * time.Hour
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		users:           users,
		policies:        policies,
		botClient:       botClient,
		logger:          logger.Named("scheduler"),
		expiryInterval:  config.ExpiryInterval,
		removalInterval: config.RemovalInterval,
		ctx:             ctx,
		cancel:          cancel,
	}
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info("scheduler started",
		zap.Duration("expiry_interval", s.expiryInterval),
		zap.Duration("removal_interval", s.removalInterval))

	s.wg.Add(2)
	go s.loop(s.expiryInterval, s.reconcileExpired)
	go s.loop(s.removalInterval, s.removeLapsedMembers)
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(interval time.Duration, sweep func()) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}

// reconcileExpired flips is_subscribed on lapsed entitlements and tells the
// user once. Admin subscriptions lapse like any other; the access engine
// re-creates them on the admin's next event.
func (s *Scheduler) reconcileExpired() {
	expired, err := s.users.ListNewlyExpired(200)
	if err != nil {
		s.logger.Error("list expired subscriptions", zap.Error(err))
		return
	}
	if len(expired) == 0 {
		return
	}

	titles := make(map[int64]string)
	for _, sub := range expired {
		if err := s.users.MarkSubscriptionLapsed(sub.UserID, sub.GroupID); err != nil {
			s.logger.Error("mark subscription lapsed",
				zap.Int64("user_id", sub.UserID), zap.Int64("group_id", sub.GroupID), zap.Error(err))
			continue
		}
		if sub.IsAdminSubscription {
			continue
		}
		title := s.groupTitle(titles, sub.GroupID)
		ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
		_, err := s.botClient.SendMessage(ctx, &bot.SendMessageParams{
			ChatID:    sub.UserID,
			Text:      messages.SubscriptionExpiredNotice(title),
			ParseMode: messages.ParseModeHTML,
		})
		cancel()
		if err != nil {
			s.logger.Warn("expiry notice failed", zap.Int64("user_id", sub.UserID), zap.Error(err))
		}
	}
	s.logger.Info("expiry sweep done", zap.Int("lapsed", len(expired)))
}

// removeLapsedMembers kicks unsubscribed members out of groups configured to
// restrict viewing. Kicking an already-removed member is a no-op on the
// platform side.
func (s *Scheduler) removeLapsedMembers() {
	policies, err := s.policies.ListEnforcedPolicies()
	if err != nil {
		s.logger.Error("list enforced policies", zap.Error(err))
		return
	}

	for _, policy := range policies {
		members, err := s.users.ListLapsedMembers(policy.GroupID)
		if err != nil {
			s.logger.Error("list lapsed members", zap.Int64("group_id", policy.GroupID), zap.Error(err))
			continue
		}

		removed := 0
		for _, userID := range members {
			if policy.IsAdminUser(userID) {
				continue
			}
			if s.kickMember(policy.GroupID, userID, policy.Title) {
				removed++
			}
		}
		if removed > 0 {
			s.logger.Info("removal sweep",
				zap.Int64("group_id", policy.GroupID), zap.Int("removed", removed))
		}
	}
}

func (s *Scheduler) kickMember(groupID, userID int64, groupTitle string) bool {
	ctx, cancel := context.WithTimeout(s.ctx, 15*time.Second)
	defer cancel()

	_, err := s.botClient.BanChatMember(ctx, &bot.BanChatMemberParams{
		ChatID: groupID,
		UserID: userID,
	})
	if err != nil {
		s.logger.Warn("ban failed", zap.Int64("group_id", groupID), zap.Int64("user_id", userID), zap.Error(err))
		return false
	}
	// Unban immediately so the user may rejoin after resubscribing.
	_, _ = s.botClient.UnbanChatMember(ctx, &bot.UnbanChatMemberParams{
		ChatID:       groupID,
		UserID:       userID,
		OnlyIfBanned: true,
	})

	if err := s.users.RemoveJoinedGroup(userID, groupID); err != nil {
		s.logger.Warn("remove joined group failed", zap.Int64("user_id", userID), zap.Error(err))
	}

	_, _ = s.botClient.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    userID,
		Text:      messages.RestrictViewNotice(groupTitle),
		ParseMode: messages.ParseModeHTML,
	})
	return true
}

func (s *Scheduler) groupTitle(cache map[int64]string, groupID int64) string {
	if title, ok := cache[groupID]; ok {
		return title
	}
	title := "the group"
	if policy, err := s.policies.GetGroupPolicy(groupID); err == nil && policy != nil && policy.Title != "" {
		title = policy.Title
	}
	cache[groupID] = title
	return title
}
