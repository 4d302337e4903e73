package subscription

import (
	"time"

	"github.com/google/uuid"

	id "clinicore/pkg/domain"
)

// Status is the lifecycle state of a subscription.
type Status string

const (
	StatusActive   Status = "active"
	StatusCanceled Status = "canceled"
	StatusExpired  Status = "expired"
)

// Subscription is one account's paid plan over a time window. Rows are never
// physically deleted; canceled and expired subscriptions persist for audit.
type Subscription struct {
	ID         id.SubscriptionID
	AccountID  id.AccountID
	Plan       string
	PriceMinor int64
	Status     Status
	StartsAt   time.Time
	EndsAt     time.Time
	CanceledAt *time.Time
	CreatedAt  time.Time
}

// IsActiveAt reports whether the subscription occupies the account's single
// active slot at the given instant. The end boundary is exclusive here,
// which makes the expire sweep's EndsAt <= now boundary inclusive.
func (s Subscription) IsActiveAt(now time.Time) bool {
	return s.Status == StatusActive && s.EndsAt.After(now)
}

// CanRenew reports whether a renewal is legal right now. Expired-but-unswept
// subscriptions cannot be renewed; the account must create a new one.
func (s Subscription) CanRenew(now time.Time) bool {
	return s.IsActiveAt(now)
}

// ApplyRenewal extends the window and moves to the new plan and price.
func (s *Subscription) ApplyRenewal(newPlan string, newPriceMinor int64, extendBy time.Duration) {
	s.Plan = newPlan
	s.PriceMinor = newPriceMinor
	s.EndsAt = s.EndsAt.Add(extendBy)
}

// CanCancel reports whether cancellation is a legal transition. Canceling an
// already-canceled subscription is handled as a no-op by the caller.
func (s Subscription) CanCancel() bool {
	return s.Status == StatusActive
}

// ApplyCancellation marks the subscription canceled at the given instant.
func (s *Subscription) ApplyCancellation(now time.Time) {
	s.Status = StatusCanceled
	s.CanceledAt = &now
}

// ApplyExpiry marks the subscription expired.
func (s *Subscription) ApplyExpiry() {
	s.Status = StatusExpired
}

// HistoryKind labels a subscription state transition.
type HistoryKind string

const (
	HistoryCreated  HistoryKind = "created"
	HistoryRenewed  HistoryKind = "renewed"
	HistoryCanceled HistoryKind = "canceled"
	HistoryExpired  HistoryKind = "expired"
)

// HistoryEntry is the immutable record of one transition. PrevPlan and
// PrevPriceMinor are set for renewals only.
type HistoryEntry struct {
	ID             uuid.UUID
	SubscriptionID id.SubscriptionID
	Kind           HistoryKind
	Plan           string
	PriceMinor     int64
	PrevPlan       *string
	PrevPriceMinor *int64
	CreatedAt      time.Time
}
