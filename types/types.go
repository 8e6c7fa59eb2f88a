package types

import "time"

// Session holds the single active wizard conversation for a (chat, user)
// pair. Ephemeral: lives in Redis with a TTL, no durability guarantee.
type Session struct {
	ID           string         `json:"id"`
	ChatID       int64          `json:"chat_id"`
	UserID       int64          `json:"user_id"`
	State        WizardState    `json:"state"`
	GroupID      int64          `json:"group_id"`
	PaymentStep  CredentialStep `json:"payment_step,omitempty"`
	FromSettings bool           `json:"from_settings,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

type SessionStore interface {
	// GetSession returns nil when no wizard conversation is active.
	GetSession(chatID, userID int64) (*Session, error)
	// SetSession overwrites any prior session for the same conversation,
	// which is what keeps wizard states mutually exclusive.
	SetSession(session *Session) error
	ClearSession(chatID, userID int64) error
}
