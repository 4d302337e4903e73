package audit

import (
	"time"

	"github.com/google/uuid"

	id "clinicore/pkg/domain"
)

// Action names what was done to a record or subscription.
type Action string

const (
	ActionRecordDeleted      Action = "record.deleted"
	ActionOwnerReassigned    Action = "record.owner_reassigned"
	ActionReferenceNullified Action = "record.reference_nullified"

	ActionSubscriptionCreated  Action = "subscription.created"
	ActionSubscriptionRenewed  Action = "subscription.renewed"
	ActionSubscriptionCanceled Action = "subscription.canceled"
	ActionSubscriptionExpired  Action = "subscription.expired"
	ActionDuplicateCanceled    Action = "subscription.duplicate_canceled"
)

// Event is emitted from domain logic to capture destructive or state-changing
// actions. Keep it transport-agnostic so stores and sinks can fan out.
type Event struct {
	ID        uuid.UUID
	Timestamp time.Time
	Action    Action

	// Integrity remediation fields.
	RecordID   uuid.UUID
	EntityKind string
	Invariant  string

	// Subscription lifecycle fields.
	SubscriptionID id.SubscriptionID
	AccountID      id.AccountID

	Detail    string
	RequestID string
}
