package types

import "time"

// PaymentRecord is a verified gateway notification. PaymentID is globally
// unique and is the idempotency key for webhook replays.
type PaymentRecord struct {
	Provider       string
	PaymentID      string
	UserID         int64
	GroupID        int64
	Amount         float64
	Currency       string
	Status         string
	IsSubscription bool
	CreatedAt      time.Time
}

type PaymentStore interface {
	// RecordPayment inserts the record, reporting inserted=false when the
	// payment id has already been processed.
	RecordPayment(p PaymentRecord) (inserted bool, err error)
}
