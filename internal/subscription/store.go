package subscription

import (
	"context"
	"time"

	id "clinicore/pkg/domain"
)

// Store is the durable storage for subscriptions and their history.
// Implementations return sentinel errors; the service translates them.
type Store interface {
	Insert(ctx context.Context, sub Subscription) error
	Get(ctx context.Context, subID id.SubscriptionID) (*Subscription, error)
	ListByAccount(ctx context.Context, accountID id.AccountID) ([]Subscription, error)

	// FindActiveByAccount returns the account's subscriptions occupying the
	// active slot at the given instant (status active, EndsAt after now).
	FindActiveByAccount(ctx context.Context, accountID id.AccountID, now time.Time) ([]Subscription, error)

	// ListExpiring returns every active subscription with EndsAt <= now.
	ListExpiring(ctx context.Context, now time.Time) ([]Subscription, error)

	// Update writes the subscription back if and only if its stored status
	// still equals expect. A lost race returns sentinel.ErrConflict.
	Update(ctx context.Context, sub Subscription, expect Status) error

	// AppendHistory adds an immutable transition record. Entries are never
	// updated or removed.
	AppendHistory(ctx context.Context, entry HistoryEntry) error
	ListHistory(ctx context.Context, subID id.SubscriptionID) ([]HistoryEntry, error)
}
