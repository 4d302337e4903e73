package subscription

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"clinicore/internal/audit"
	"clinicore/internal/entity"
	"clinicore/internal/platform/lock"
	"clinicore/internal/subscription/metrics"
	id "clinicore/pkg/domain"
	"clinicore/pkg/domainerrors"
	"clinicore/pkg/platform/sentinel"
	"clinicore/pkg/requestcontext"
)

// Service is the subscription lifecycle engine. Every mutation of an
// account's active slot runs under that account's lock so check-then-act
// sequences cannot interleave.
type Service struct {
	store     Store
	accounts  entity.AccountDirectory
	locker    lock.Locker
	publisher *audit.Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
}

func NewService(store Store, accounts entity.AccountDirectory, locker lock.Locker,
	publisher *audit.Publisher, logger *slog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		store:     store,
		accounts:  accounts,
		locker:    locker,
		publisher: publisher,
		logger:    logger,
		metrics:   m,
		tracer:    otel.Tracer("clinicore/subscription"),
	}
}

// Create opens a new active subscription for the account. Fails with a
// conflict when the account already holds an active, unexpired one.
func (s *Service) Create(ctx context.Context, accountID id.AccountID, plan string, priceMinor int64, duration time.Duration) (*Subscription, error) {
	ctx, span := s.tracer.Start(ctx, "subscription.Create")
	defer span.End()

	if plan == "" {
		return nil, domainerrors.New(domainerrors.CodeInvalidInput, "plan must not be empty")
	}
	if priceMinor < 0 {
		return nil, domainerrors.New(domainerrors.CodeInvalidInput, "price must not be negative")
	}
	if duration <= 0 {
		return nil, domainerrors.New(domainerrors.CodeInvalidInput, "duration must be positive")
	}

	var created *Subscription
	err := s.locker.WithAccountLock(ctx, accountID, func(ctx context.Context) error {
		live, err := s.accounts.AccountExists(ctx, accountID)
		if err != nil {
			return translate(err, "resolve account")
		}
		if !live {
			return domainerrors.Newf(domainerrors.CodeNotFound, "account %s does not exist", accountID)
		}

		now := requestcontext.Now(ctx)
		active, err := s.store.FindActiveByAccount(ctx, accountID, now)
		if err != nil {
			return translate(err, "find active subscription")
		}
		if len(active) > 0 {
			return domainerrors.Newf(domainerrors.CodeConflict,
				"account %s already has an active subscription", accountID)
		}

		sub := Subscription{
			ID:         id.SubscriptionID(uuid.New()),
			AccountID:  accountID,
			Plan:       plan,
			PriceMinor: priceMinor,
			Status:     StatusActive,
			StartsAt:   now,
			EndsAt:     now.Add(duration),
			CreatedAt:  now,
		}
		if err := s.store.Insert(ctx, sub); err != nil {
			return translate(err, "insert subscription")
		}
		if err := s.appendHistory(ctx, sub, HistoryCreated, nil, nil, now); err != nil {
			return err
		}
		s.emit(ctx, sub, audit.ActionSubscriptionCreated)
		s.metrics.IncrementCreated()
		created = &sub
		return nil
	})
	if err != nil {
		return nil, translate(err, "create subscription")
	}
	if s.logger != nil {
		s.logger.Info("subscription created", "subscription_id", created.ID, "account_id", accountID, "plan", plan)
	}
	return created, nil
}

// Renew extends an active subscription and moves it to the new plan and
// price. The history entry captures the pre-renewal plan and price.
func (s *Service) Renew(ctx context.Context, subID id.SubscriptionID, newPlan string, newPriceMinor int64, extendBy time.Duration) (*Subscription, error) {
	ctx, span := s.tracer.Start(ctx, "subscription.Renew")
	defer span.End()

	if newPlan == "" {
		return nil, domainerrors.New(domainerrors.CodeInvalidInput, "plan must not be empty")
	}
	if newPriceMinor < 0 {
		return nil, domainerrors.New(domainerrors.CodeInvalidInput, "price must not be negative")
	}
	if extendBy <= 0 {
		return nil, domainerrors.New(domainerrors.CodeInvalidInput, "extension must be positive")
	}

	found, err := s.store.Get(ctx, subID)
	if err != nil {
		return nil, translate(err, "get subscription")
	}

	var renewed *Subscription
	err = s.locker.WithAccountLock(ctx, found.AccountID, func(ctx context.Context) error {
		sub, err := s.store.Get(ctx, subID)
		if err != nil {
			return translate(err, "get subscription")
		}
		now := requestcontext.Now(ctx)
		if !sub.CanRenew(now) {
			return domainerrors.Newf(domainerrors.CodeInvalidState,
				"subscription %s is %s and cannot be renewed", subID, sub.Status)
		}

		prevPlan, prevPrice := sub.Plan, sub.PriceMinor
		sub.ApplyRenewal(newPlan, newPriceMinor, extendBy)
		if err := s.store.Update(ctx, *sub, StatusActive); err != nil {
			return translate(err, "update subscription")
		}
		if err := s.appendHistory(ctx, *sub, HistoryRenewed, &prevPlan, &prevPrice, now); err != nil {
			return err
		}
		s.emit(ctx, *sub, audit.ActionSubscriptionRenewed)
		s.metrics.IncrementRenewed()
		renewed = sub
		return nil
	})
	if err != nil {
		return nil, translate(err, "renew subscription")
	}
	return renewed, nil
}

// Cancel moves an active subscription to canceled. Canceling an
// already-canceled subscription is a no-op success.
func (s *Service) Cancel(ctx context.Context, subID id.SubscriptionID) error {
	ctx, span := s.tracer.Start(ctx, "subscription.Cancel")
	defer span.End()

	found, err := s.store.Get(ctx, subID)
	if err != nil {
		return translate(err, "get subscription")
	}

	err = s.locker.WithAccountLock(ctx, found.AccountID, func(ctx context.Context) error {
		sub, err := s.store.Get(ctx, subID)
		if err != nil {
			return translate(err, "get subscription")
		}
		switch sub.Status {
		case StatusCanceled:
			return nil
		case StatusExpired:
			return domainerrors.Newf(domainerrors.CodeInvalidState,
				"subscription %s is expired and cannot be canceled", subID)
		}

		now := requestcontext.Now(ctx)
		sub.ApplyCancellation(now)
		if err := s.store.Update(ctx, *sub, StatusActive); err != nil {
			return translate(err, "update subscription")
		}
		if err := s.appendHistory(ctx, *sub, HistoryCanceled, nil, nil, now); err != nil {
			return err
		}
		s.emit(ctx, *sub, audit.ActionSubscriptionCanceled)
		s.metrics.IncrementCanceled()
		return nil
	})
	return translate(err, "cancel subscription")
}

// ExpireSweep transitions every active subscription whose window has closed
// (EndsAt <= now, boundary inclusive) to expired. The whole batch observes
// one instant. Safe to run repeatedly and concurrently with lifecycle
// operations: each candidate is re-checked under its account's lock and
// updated with a status guard.
func (s *Service) ExpireSweep(ctx context.Context) (int, error) {
	ctx, span := s.tracer.Start(ctx, "subscription.ExpireSweep")
	defer span.End()

	now := requestcontext.Now(ctx)
	candidates, err := s.store.ListExpiring(ctx, now)
	if err != nil {
		return 0, translate(err, "list expiring subscriptions")
	}

	expired := 0
	for _, candidate := range candidates {
		err := s.locker.WithAccountLock(ctx, candidate.AccountID, func(ctx context.Context) error {
			sub, err := s.store.Get(ctx, candidate.ID)
			if err != nil {
				return translate(err, "get subscription")
			}
			// A concurrent cancel or renew may have moved it already.
			if sub.Status != StatusActive || sub.EndsAt.After(now) {
				return nil
			}
			sub.ApplyExpiry()
			if err := s.store.Update(ctx, *sub, StatusActive); err != nil {
				if errors.Is(err, sentinel.ErrConflict) {
					return nil
				}
				return translate(err, "update subscription")
			}
			if err := s.appendHistory(ctx, *sub, HistoryExpired, nil, nil, now); err != nil {
				return err
			}
			s.emit(ctx, *sub, audit.ActionSubscriptionExpired)
			s.metrics.IncrementExpired()
			expired++
			return nil
		})
		if err != nil {
			if errors.Is(err, lock.ErrNotAcquired) {
				// Another instance holds the account; the next sweep will
				// pick this candidate up again.
				continue
			}
			return expired, translate(err, "expire sweep")
		}
	}
	if s.logger != nil && expired > 0 {
		s.logger.Info("expire sweep finished", "expired", expired)
	}
	return expired, nil
}

// ReconcileDuplicates repairs an externally corrupted active slot: of all
// currently active subscriptions for the account, the most recently created
// survives and the rest are canceled. Idempotent once a single survivor
// remains.
func (s *Service) ReconcileDuplicates(ctx context.Context, accountID id.AccountID) (int, error) {
	ctx, span := s.tracer.Start(ctx, "subscription.ReconcileDuplicates")
	defer span.End()

	canceled := 0
	err := s.locker.WithAccountLock(ctx, accountID, func(ctx context.Context) error {
		live, err := s.accounts.AccountExists(ctx, accountID)
		if err != nil {
			return translate(err, "resolve account")
		}
		if !live {
			return domainerrors.Newf(domainerrors.CodeNotFound, "account %s does not exist", accountID)
		}

		now := requestcontext.Now(ctx)
		active, err := s.store.FindActiveByAccount(ctx, accountID, now)
		if err != nil {
			return translate(err, "find active subscriptions")
		}
		if len(active) <= 1 {
			return nil
		}

		// Most recently created wins; ties break on descending ID bytes so
		// repeated runs pick the same survivor.
		sort.SliceStable(active, func(i, j int) bool {
			if !active[i].CreatedAt.Equal(active[j].CreatedAt) {
				return active[i].CreatedAt.After(active[j].CreatedAt)
			}
			return id.CompareUUID(uuid.UUID(active[i].ID), uuid.UUID(active[j].ID)) > 0
		})

		for _, sub := range active[1:] {
			sub.ApplyCancellation(now)
			if err := s.store.Update(ctx, sub, StatusActive); err != nil {
				return translate(err, "cancel duplicate")
			}
			if err := s.appendHistory(ctx, sub, HistoryCanceled, nil, nil, now); err != nil {
				return err
			}
			s.emit(ctx, sub, audit.ActionDuplicateCanceled)
			s.metrics.IncrementDuplicateCanceled()
			canceled++
		}
		return nil
	})
	if err != nil {
		return 0, translate(err, "reconcile duplicates")
	}
	if s.logger != nil && canceled > 0 {
		s.logger.Info("duplicate subscriptions canceled", "account_id", accountID, "canceled", canceled)
	}
	return canceled, nil
}

// History returns the transition records for a subscription, oldest first.
func (s *Service) History(ctx context.Context, subID id.SubscriptionID) ([]HistoryEntry, error) {
	if _, err := s.store.Get(ctx, subID); err != nil {
		return nil, translate(err, "get subscription")
	}
	entries, err := s.store.ListHistory(ctx, subID)
	if err != nil {
		return nil, translate(err, "list history")
	}
	return entries, nil
}

func (s *Service) appendHistory(ctx context.Context, sub Subscription, kind HistoryKind, prevPlan *string, prevPrice *int64, now time.Time) error {
	entry := HistoryEntry{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		Kind:           kind,
		Plan:           sub.Plan,
		PriceMinor:     sub.PriceMinor,
		PrevPlan:       prevPlan,
		PrevPriceMinor: prevPrice,
		CreatedAt:      now,
	}
	if err := s.store.AppendHistory(ctx, entry); err != nil {
		return translate(err, "append history")
	}
	return nil
}

func (s *Service) emit(ctx context.Context, sub Subscription, action audit.Action) {
	if s.publisher == nil {
		return
	}
	event := audit.Event{
		Action:         action,
		SubscriptionID: sub.ID,
		AccountID:      sub.AccountID,
		Detail:         sub.Plan,
	}
	if err := s.publisher.Emit(ctx, event); err != nil && s.logger != nil {
		s.logger.Error("audit emit failed", "action", action, "error", err)
	}
}

// translate maps store and lock sentinels onto the coded taxonomy. Errors
// already carrying a code pass through unchanged.
func translate(err error, message string) error {
	var de *domainerrors.Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &de):
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return domainerrors.Wrap(err, domainerrors.CodeNotFound, message)
	case errors.Is(err, sentinel.ErrConflict):
		return domainerrors.Wrap(err, domainerrors.CodeConflict, message)
	case errors.Is(err, sentinel.ErrInvalidState):
		return domainerrors.Wrap(err, domainerrors.CodeInvalidState, message)
	case errors.Is(err, lock.ErrNotAcquired):
		return domainerrors.Wrap(err, domainerrors.CodeConflict, message)
	default:
		return domainerrors.Wrap(err, domainerrors.CodeUnavailable, message)
	}
}
