package types

import "time"

type User struct {
	UserID    int64
	Username  string
	FirstName string
	LastName  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// GroupSubscription is a user's entitlement for a single group. At most one
// row exists per (user, group).
type GroupSubscription struct {
	UserID              int64
	GroupID             int64
	IsSubscribed        bool
	StartedAt           time.Time
	ExpiresAt           *time.Time
	PaymentAmount       float64
	PaymentCurrency     string
	IsAdminSubscription bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (s *GroupSubscription) ActiveAt(now time.Time) bool {
	if s == nil || !s.IsSubscribed || s.ExpiresAt == nil {
		return false
	}
	return s.ExpiresAt.After(now)
}

type JoinedGroup struct {
	UserID   int64
	GroupID  int64
	Title    string
	JoinedAt time.Time
}

type UserStore interface {
	UpsertUser(user User) error
	GetUser(userID int64) (*User, error)

	RecordJoinedGroup(userID, groupID int64, title string) error
	IsJoinedGroup(userID, groupID int64) (bool, error)
	RemoveJoinedGroup(userID, groupID int64) error

	GetGroupSubscription(userID, groupID int64) (*GroupSubscription, error)
	EnsureAdminSubscription(userID, groupID int64, validity time.Duration) (inserted bool, err error)
	GrantTrialSubscription(userID, groupID int64, days int) (inserted bool, err error)
	ExtendGroupSubscription(userID, groupID int64, amount float64, currency string, duration time.Duration) (*GroupSubscription, error)
	MarkSubscriptionLapsed(userID, groupID int64) error

	ListNewlyExpired(limit int) ([]GroupSubscription, error)
	ListLapsedMembers(groupID int64) ([]int64, error)

	// TouchSubscriptionPrompt reports whether a subscription reminder may be
	// sent to the user now, recording the attempt when it may.
	TouchSubscriptionPrompt(userID int64, minInterval time.Duration) (bool, error)
}
