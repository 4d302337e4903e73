package audit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "clinicore/pkg/domain"
	"clinicore/pkg/requestcontext"
)

func TestEmitStampsMissingFields(t *testing.T) {
	store := NewInMemoryStore()
	publisher := NewPublisher(store)

	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), fixed)
	ctx = requestcontext.WithRequestID(ctx, "req-42")

	require.NoError(t, publisher.Emit(ctx, Event{
		Action:     ActionRecordDeleted,
		RecordID:   uuid.New(),
		EntityKind: "Session",
		Invariant:  "DanglingSecondaryReference",
	}))

	events, err := store.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.NotEqual(t, uuid.Nil, events[0].ID)
	assert.Equal(t, fixed, events[0].Timestamp)
	assert.Equal(t, "req-42", events[0].RequestID)
}

func TestEmitPreservesExplicitFields(t *testing.T) {
	store := NewInMemoryStore()
	publisher := NewPublisher(store)

	eventID := uuid.New()
	stamped := time.Date(2026, 1, 15, 8, 30, 0, 0, time.UTC)
	require.NoError(t, publisher.Emit(context.Background(), Event{
		ID:        eventID,
		Timestamp: stamped,
		Action:    ActionSubscriptionCanceled,
		RequestID: "req-7",
	}))

	events, err := store.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, eventID, events[0].ID)
	assert.Equal(t, stamped, events[0].Timestamp)
	assert.Equal(t, "req-7", events[0].RequestID)
}

func TestListByAccountFilters(t *testing.T) {
	store := NewInMemoryStore()
	publisher := NewPublisher(store)
	ctx := context.Background()

	mine := id.AccountID(uuid.New())
	other := id.AccountID(uuid.New())
	require.NoError(t, publisher.Emit(ctx, Event{Action: ActionSubscriptionCreated, AccountID: mine}))
	require.NoError(t, publisher.Emit(ctx, Event{Action: ActionSubscriptionCreated, AccountID: other}))
	require.NoError(t, publisher.Emit(ctx, Event{Action: ActionSubscriptionExpired, AccountID: mine}))

	events, err := publisher.List(ctx, mine)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, ActionSubscriptionCreated, events[0].Action)
	assert.Equal(t, ActionSubscriptionExpired, events[1].Action)
}

func TestWorkerDrainsInbox(t *testing.T) {
	store := NewInMemoryStore()
	inbox := make(chan Event, 2)
	worker := NewWorker(store, inbox)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	inbox <- Event{Action: ActionRecordDeleted}
	inbox <- Event{Action: ActionOwnerReassigned}

	require.Eventually(t, func() bool {
		events, err := store.ListAll(context.Background())
		return err == nil && len(events) == 2
	}, time.Second, 10*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
