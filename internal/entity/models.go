package entity

import (
	"time"

	"github.com/google/uuid"

	id "clinicore/pkg/domain"
)

// AccountRole distinguishes administrative operators from standard accounts.
type AccountRole string

const (
	RoleAdmin    AccountRole = "admin"
	RoleStandard AccountRole = "standard"
)

// Account is the owning tenant for every clinic record. The identifier is
// immutable after registration; accounts are removed only through an explicit
// administrative purge, never by the integrity components.
type Account struct {
	ID        id.AccountID
	Name      string
	Email     string
	Role      AccountRole
	CreatedAt time.Time
}

// Reference field names used by violation reports and remediation actions.
const (
	FieldPatientID     = "patient_id"
	FieldAppointmentID = "appointment_id"
	FieldStaffID       = "staff_id"
	FieldSpecialtyID   = "specialty_id"
)

type Specialty struct {
	ID             id.SpecialtyID
	OwnerAccountID id.AccountID
	Name           string
	CreatedAt      time.Time
}

type StaffMember struct {
	ID             id.StaffID
	OwnerAccountID id.AccountID
	Name           string
	SpecialtyID    *id.SpecialtyID
	CreatedAt      time.Time
}

type Patient struct {
	ID             id.PatientID
	OwnerAccountID id.AccountID
	Name           string
	Phone          string
	CreatedAt      time.Time
}

type Appointment struct {
	ID             id.AppointmentID
	OwnerAccountID id.AccountID
	PatientID      id.PatientID
	StaffID        *id.StaffID
	SpecialtyID    *id.SpecialtyID
	StartsAt       time.Time
	CreatedAt      time.Time
}

type Session struct {
	ID             id.SessionID
	OwnerAccountID id.AccountID
	AppointmentID  id.AppointmentID
	Notes          string
	CreatedAt      time.Time
}

type Payment struct {
	ID             id.PaymentID
	OwnerAccountID id.AccountID
	PatientID      id.PatientID
	AmountMinor    int64
	Currency       string
	CreatedAt      time.Time
}

// Record is the kind-agnostic view the integrity components operate on.
// References are resolved through the store by identifier, never through
// in-memory pointers, so a deleted parent can only ever manifest as a
// dangling ID.
type Record struct {
	ID      uuid.UUID
	Kind    Kind
	OwnerID id.AccountID
	Refs    []Reference
}

// Reference is one secondary reference carried by a record. Nullable
// references only violate integrity when set and unresolvable; required ones
// also violate when unset.
type Reference struct {
	Field    string
	Kind     Kind
	ID       uuid.UUID // uuid.Nil when unset
	Nullable bool
}

// Set reports whether the reference carries a target.
func (r Reference) Set() bool { return r.ID != uuid.Nil }

func (s Specialty) Record() Record {
	return Record{ID: uuid.UUID(s.ID), Kind: KindSpecialty, OwnerID: s.OwnerAccountID}
}

func (m StaffMember) Record() Record {
	rec := Record{ID: uuid.UUID(m.ID), Kind: KindStaffMember, OwnerID: m.OwnerAccountID}
	rec.Refs = append(rec.Refs, Reference{
		Field:    FieldSpecialtyID,
		Kind:     KindSpecialty,
		ID:       optional(m.SpecialtyID),
		Nullable: true,
	})
	return rec
}

func (p Patient) Record() Record {
	return Record{ID: uuid.UUID(p.ID), Kind: KindPatient, OwnerID: p.OwnerAccountID}
}

func (a Appointment) Record() Record {
	rec := Record{ID: uuid.UUID(a.ID), Kind: KindAppointment, OwnerID: a.OwnerAccountID}
	rec.Refs = append(rec.Refs,
		Reference{Field: FieldPatientID, Kind: KindPatient, ID: uuid.UUID(a.PatientID)},
		Reference{Field: FieldStaffID, Kind: KindStaffMember, ID: optional(a.StaffID), Nullable: true},
		Reference{Field: FieldSpecialtyID, Kind: KindSpecialty, ID: optional(a.SpecialtyID), Nullable: true},
	)
	return rec
}

func (s Session) Record() Record {
	rec := Record{ID: uuid.UUID(s.ID), Kind: KindSession, OwnerID: s.OwnerAccountID}
	rec.Refs = append(rec.Refs, Reference{
		Field: FieldAppointmentID,
		Kind:  KindAppointment,
		ID:    uuid.UUID(s.AppointmentID),
	})
	return rec
}

func (p Payment) Record() Record {
	rec := Record{ID: uuid.UUID(p.ID), Kind: KindPayment, OwnerID: p.OwnerAccountID}
	rec.Refs = append(rec.Refs, Reference{
		Field: FieldPatientID,
		Kind:  KindPatient,
		ID:    uuid.UUID(p.PatientID),
	})
	return rec
}

func optional[T ~[16]byte](ref *T) uuid.UUID {
	if ref == nil {
		return uuid.Nil
	}
	return uuid.UUID(*ref)
}
