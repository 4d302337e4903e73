package entity

import (
	"context"

	"github.com/google/uuid"

	id "clinicore/pkg/domain"
)

// AccountDirectory is the account-existence interface the integrity
// components and the subscription engine consume. Kept narrow so callers
// outside this package never see full account records.
type AccountDirectory interface {
	AccountExists(ctx context.Context, accountID id.AccountID) (bool, error)
}

// RecordOps is the kind-agnostic integrity surface. Scans use the read side;
// reconciliation passes use the write side. Implementations return sentinel
// errors (pkg/platform/sentinel) for infrastructure facts.
type RecordOps interface {
	AccountDirectory

	// ListRecords returns every record of the kind ordered by ascending ID
	// bytes. Read-only.
	ListRecords(ctx context.Context, kind Kind) ([]Record, error)
	RecordExists(ctx context.Context, kind Kind, recordID uuid.UUID) (bool, error)

	DeleteRecord(ctx context.Context, kind Kind, recordID uuid.UUID) error
	ReassignOwner(ctx context.Context, kind Kind, recordID uuid.UUID, accountID id.AccountID) error
	// NullifyReference clears a nullable secondary reference. Clearing a
	// required reference is an invalid-state error.
	NullifyReference(ctx context.Context, kind Kind, recordID uuid.UUID, field string) error
}

// Store is the durable keyed storage for accounts and owned records.
//
// RunInPass gives a reconciliation pass its atomicity scope: the in-memory
// store holds its write lock for the whole pass, the Postgres store runs the
// pass inside a single transaction. Passes over different kinds may
// interleave with unrelated operations; one pass never observes its own
// partial effects from outside.
type Store interface {
	RecordOps

	PutAccount(ctx context.Context, account Account) error
	GetAccount(ctx context.Context, accountID id.AccountID) (*Account, error)
	// DeleteAccount exists for administrative purges and corruption
	// scenarios in tests; the integrity components never call it.
	DeleteAccount(ctx context.Context, accountID id.AccountID) error

	PutSpecialty(ctx context.Context, s Specialty) error
	PutStaffMember(ctx context.Context, m StaffMember) error
	PutPatient(ctx context.Context, p Patient) error
	PutAppointment(ctx context.Context, a Appointment) error
	PutSession(ctx context.Context, s Session) error
	PutPayment(ctx context.Context, p Payment) error

	RunInPass(ctx context.Context, fn func(ctx context.Context, ops RecordOps) error) error
}
