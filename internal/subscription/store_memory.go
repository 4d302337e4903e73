package subscription

import (
	"context"
	"sort"
	"sync"
	"time"

	id "clinicore/pkg/domain"
	"clinicore/pkg/platform/sentinel"
)

// InMemoryStore backs tests and single-node runs.
type InMemoryStore struct {
	mu      sync.RWMutex
	subs    map[id.SubscriptionID]Subscription
	history map[id.SubscriptionID][]HistoryEntry
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		subs:    make(map[id.SubscriptionID]Subscription),
		history: make(map[id.SubscriptionID][]HistoryEntry),
	}
}

func (s *InMemoryStore) Insert(_ context.Context, sub Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[sub.ID]; ok {
		return sentinel.ErrConflict
	}
	s.subs[sub.ID] = sub
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, subID id.SubscriptionID) (*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subs[subID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &sub, nil
}

func (s *InMemoryStore) ListByAccount(_ context.Context, accountID id.AccountID) ([]Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Subscription
	for _, sub := range s.subs {
		if sub.AccountID == accountID {
			out = append(out, sub)
		}
	}
	sortByCreation(out)
	return out, nil
}

func (s *InMemoryStore) FindActiveByAccount(_ context.Context, accountID id.AccountID, now time.Time) ([]Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Subscription
	for _, sub := range s.subs {
		if sub.AccountID == accountID && sub.IsActiveAt(now) {
			out = append(out, sub)
		}
	}
	sortByCreation(out)
	return out, nil
}

func (s *InMemoryStore) ListExpiring(_ context.Context, now time.Time) ([]Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Subscription
	for _, sub := range s.subs {
		if sub.Status == StatusActive && !sub.EndsAt.After(now) {
			out = append(out, sub)
		}
	}
	sortByCreation(out)
	return out, nil
}

func (s *InMemoryStore) Update(_ context.Context, sub Subscription, expect Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.subs[sub.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.Status != expect {
		return sentinel.ErrConflict
	}
	s.subs[sub.ID] = sub
	return nil
}

func (s *InMemoryStore) AppendHistory(_ context.Context, entry HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[entry.SubscriptionID] = append(s.history[entry.SubscriptionID], entry)
	return nil
}

func (s *InMemoryStore) ListHistory(_ context.Context, subID id.SubscriptionID) ([]HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]HistoryEntry{}, s.history[subID]...), nil
}

func sortByCreation(subs []Subscription) {
	sort.Slice(subs, func(i, j int) bool {
		return subs[i].CreatedAt.Before(subs[j].CreatedAt)
	})
}
