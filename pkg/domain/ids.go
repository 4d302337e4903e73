package domain

import (
	"bytes"

	"github.com/google/uuid"

	dErrors "clinicore/pkg/domainerrors"
)

// Typed identifiers for every aggregate. Wrapping uuid.UUID in distinct types
// makes cross-entity mix-ups (passing a PatientID where an AccountID is
// expected) a compile error instead of a data-integrity incident.
type (
	AccountID      uuid.UUID
	PatientID      uuid.UUID
	AppointmentID  uuid.UUID
	SessionID      uuid.UUID
	PaymentID      uuid.UUID
	SpecialtyID    uuid.UUID
	StaffID        uuid.UUID
	SubscriptionID uuid.UUID
)

func (id AccountID) String() string      { return uuid.UUID(id).String() }
func (id PatientID) String() string      { return uuid.UUID(id).String() }
func (id AppointmentID) String() string  { return uuid.UUID(id).String() }
func (id SessionID) String() string      { return uuid.UUID(id).String() }
func (id PaymentID) String() string      { return uuid.UUID(id).String() }
func (id SpecialtyID) String() string    { return uuid.UUID(id).String() }
func (id StaffID) String() string        { return uuid.UUID(id).String() }
func (id SubscriptionID) String() string { return uuid.UUID(id).String() }

func (id AccountID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id SubscriptionID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// parseUUID enforces the shared invariant: IDs must be valid, non-empty,
// non-nil UUIDs.
func parseUUID(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id is required")
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "id is not a valid UUID")
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must not be the nil UUID")
	}
	return parsed, nil
}

func ParseAccountID(raw string) (AccountID, error) {
	parsed, err := parseUUID(raw)
	return AccountID(parsed), err
}

func ParseSubscriptionID(raw string) (SubscriptionID, error) {
	parsed, err := parseUUID(raw)
	return SubscriptionID(parsed), err
}

// CompareUUID orders identifiers by ascending byte value. Integrity scans and
// reconciliation rely on this ordering being stable across stores.
func CompareUUID(a, b uuid.UUID) int {
	return bytes.Compare(a[:], b[:])
}
