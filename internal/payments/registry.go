package payments

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/groupgate/group-gate-bot/types"
)

// SuccessCallback receives every newly persisted payment exactly once per
// distinct payment id. Extending the matching group subscription is the
// callback's job, not the gateway's.
type SuccessCallback func(record types.PaymentRecord)

// Registry maps provider names to gateway implementations and routes inbound
// webhook notifications into the entitlement store.
type Registry struct {
	mu          sync.RWMutex
	gateways    map[string]Gateway
	defaultName string

	payments  types.PaymentStore
	onSuccess SuccessCallback
	logger    *zap.Logger
}

func NewRegistry(payments types.PaymentStore, logger *zap.Logger) *Registry {
	return &Registry{
		gateways: make(map[string]Gateway),
		payments: payments,
		logger:   logger.Named("payments"),
	}
}

func (r *Registry) Register(gw Gateway, isDefault bool) {
	name := strings.ToLower(strings.TrimSpace(gw.Name()))
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gateways[name] = gw
	if isDefault || r.defaultName == "" {
		r.defaultName = name
	}
}

func (r *Registry) Get(name string) (Gateway, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	gw, ok := r.gateways[strings.ToLower(strings.TrimSpace(name))]
	return gw, ok
}

func (r *Registry) Default() Gateway {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gateways[r.defaultName]
}

// Gateways returns all registered gateways, for webhook route setup.
func (r *Registry) Gateways() []Gateway {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Gateway, 0, len(r.gateways))
	for _, gw := range r.gateways {
		out = append(out, gw)
	}
	return out
}

func (r *Registry) SetSuccessCallback(cb SuccessCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onSuccess = cb
}

// Dispatch verifies and settles one inbound notification. Verification
// failures return before any state is touched; non-COMPLETE lifecycle
// statuses are acknowledged without state change; duplicate payment ids are
// absorbed by the store's uniqueness constraint and never re-extend an
// entitlement.
func (r *Registry) Dispatch(provider string, n *Notification) error {
	gw, ok := r.Get(provider)
	if !ok {
		return fmt.Errorf("%q: %w", provider, ErrUnknownProvider)
	}

	verified, err := gw.Verify(n)
	if err != nil {
		return fmt.Errorf("verify %s notification: %w", gw.Name(), err)
	}
	if !verified {
		return fmt.Errorf("%s: %w", gw.Name(), ErrBadSignature)
	}

	status := strings.TrimSpace(n.Get("payment_status"))
	if status != types.PaymentStatusComplete {
		r.logger.Info("acknowledged non-complete notification",
			zap.String("provider", gw.Name()),
			zap.String("status", status),
			zap.String("m_payment_id", n.Get("m_payment_id")))
		return nil
	}

	record, err := gw.Normalize(n)
	if err != nil {
		return err
	}

	inserted, err := r.payments.RecordPayment(record)
	if err != nil {
		return fmt.Errorf("record payment %s: %w", record.PaymentID, err)
	}
	if !inserted {
		r.logger.Info("duplicate payment delivery ignored",
			zap.String("provider", record.Provider),
			zap.String("payment_id", record.PaymentID))
		return nil
	}

	r.logger.Info("payment settled",
		zap.String("provider", record.Provider),
		zap.String("payment_id", record.PaymentID),
		zap.Int64("user_id", record.UserID),
		zap.Int64("group_id", record.GroupID),
		zap.Float64("amount", record.Amount))

	r.mu.RLock()
	cb := r.onSuccess
	r.mu.RUnlock()
	if cb != nil {
		cb(record)
	}
	return nil
}
