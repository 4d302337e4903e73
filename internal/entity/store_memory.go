package entity

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	id "clinicore/pkg/domain"
	"clinicore/pkg/platform/sentinel"
)

// InMemory implements Store with mutex-guarded maps. It backs tests and
// single-node runs without external dependencies.
type InMemory struct {
	mu           sync.RWMutex
	accounts     map[id.AccountID]Account
	specialties  map[id.SpecialtyID]Specialty
	staff        map[id.StaffID]StaffMember
	patients     map[id.PatientID]Patient
	appointments map[id.AppointmentID]Appointment
	sessions     map[id.SessionID]Session
	payments     map[id.PaymentID]Payment
}

func NewInMemory() *InMemory {
	return &InMemory{
		accounts:     make(map[id.AccountID]Account),
		specialties:  make(map[id.SpecialtyID]Specialty),
		staff:        make(map[id.StaffID]StaffMember),
		patients:     make(map[id.PatientID]Patient),
		appointments: make(map[id.AppointmentID]Appointment),
		sessions:     make(map[id.SessionID]Session),
		payments:     make(map[id.PaymentID]Payment),
	}
}

// unlocked is the RecordOps view used inside RunInPass while the store's
// write lock is already held by the pass.
type unlocked struct {
	s *InMemory
}

func (s *InMemory) RunInPass(ctx context.Context, fn func(ctx context.Context, ops RecordOps) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(ctx, unlocked{s: s})
}

// -----------------------------------------------------------------------------
// Accounts
// -----------------------------------------------------------------------------

func (s *InMemory) PutAccount(_ context.Context, account Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[account.ID] = account
	return nil
}

func (s *InMemory) GetAccount(_ context.Context, accountID id.AccountID) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.accounts[accountID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &account, nil
}

func (s *InMemory) DeleteAccount(_ context.Context, accountID id.AccountID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[accountID]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.accounts, accountID)
	return nil
}

func (s *InMemory) AccountExists(ctx context.Context, accountID id.AccountID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return unlocked{s: s}.AccountExists(ctx, accountID)
}

func (u unlocked) AccountExists(_ context.Context, accountID id.AccountID) (bool, error) {
	_, ok := u.s.accounts[accountID]
	return ok, nil
}

// -----------------------------------------------------------------------------
// Typed record writes
// -----------------------------------------------------------------------------

func (s *InMemory) PutSpecialty(_ context.Context, sp Specialty) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.specialties[sp.ID] = sp
	return nil
}

func (s *InMemory) PutStaffMember(_ context.Context, m StaffMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staff[m.ID] = m
	return nil
}

func (s *InMemory) PutPatient(_ context.Context, p Patient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patients[p.ID] = p
	return nil
}

func (s *InMemory) PutAppointment(_ context.Context, a Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appointments[a.ID] = a
	return nil
}

func (s *InMemory) PutSession(_ context.Context, sn Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sn.ID] = sn
	return nil
}

func (s *InMemory) PutPayment(_ context.Context, p Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments[p.ID] = p
	return nil
}

// -----------------------------------------------------------------------------
// Kind-agnostic integrity surface
// -----------------------------------------------------------------------------

func (s *InMemory) ListRecords(ctx context.Context, kind Kind) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return unlocked{s: s}.ListRecords(ctx, kind)
}

func (u unlocked) ListRecords(_ context.Context, kind Kind) ([]Record, error) {
	var records []Record
	switch kind {
	case KindSpecialty:
		for _, v := range u.s.specialties {
			records = append(records, v.Record())
		}
	case KindStaffMember:
		for _, v := range u.s.staff {
			records = append(records, v.Record())
		}
	case KindPatient:
		for _, v := range u.s.patients {
			records = append(records, v.Record())
		}
	case KindAppointment:
		for _, v := range u.s.appointments {
			records = append(records, v.Record())
		}
	case KindSession:
		for _, v := range u.s.sessions {
			records = append(records, v.Record())
		}
	case KindPayment:
		for _, v := range u.s.payments {
			records = append(records, v.Record())
		}
	default:
		return nil, fmt.Errorf("unknown entity kind %q: %w", kind, sentinel.ErrNotFound)
	}

	sort.Slice(records, func(i, j int) bool {
		return id.CompareUUID(records[i].ID, records[j].ID) < 0
	})
	return records, nil
}

func (s *InMemory) RecordExists(ctx context.Context, kind Kind, recordID uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return unlocked{s: s}.RecordExists(ctx, kind, recordID)
}

func (u unlocked) RecordExists(_ context.Context, kind Kind, recordID uuid.UUID) (bool, error) {
	switch kind {
	case KindSpecialty:
		_, ok := u.s.specialties[id.SpecialtyID(recordID)]
		return ok, nil
	case KindStaffMember:
		_, ok := u.s.staff[id.StaffID(recordID)]
		return ok, nil
	case KindPatient:
		_, ok := u.s.patients[id.PatientID(recordID)]
		return ok, nil
	case KindAppointment:
		_, ok := u.s.appointments[id.AppointmentID(recordID)]
		return ok, nil
	case KindSession:
		_, ok := u.s.sessions[id.SessionID(recordID)]
		return ok, nil
	case KindPayment:
		_, ok := u.s.payments[id.PaymentID(recordID)]
		return ok, nil
	}
	return false, fmt.Errorf("unknown entity kind %q: %w", kind, sentinel.ErrNotFound)
}

func (s *InMemory) DeleteRecord(ctx context.Context, kind Kind, recordID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return unlocked{s: s}.DeleteRecord(ctx, kind, recordID)
}

func (u unlocked) DeleteRecord(ctx context.Context, kind Kind, recordID uuid.UUID) error {
	exists, err := u.RecordExists(ctx, kind, recordID)
	if err != nil {
		return err
	}
	if !exists {
		return sentinel.ErrNotFound
	}
	switch kind {
	case KindSpecialty:
		delete(u.s.specialties, id.SpecialtyID(recordID))
	case KindStaffMember:
		delete(u.s.staff, id.StaffID(recordID))
	case KindPatient:
		delete(u.s.patients, id.PatientID(recordID))
	case KindAppointment:
		delete(u.s.appointments, id.AppointmentID(recordID))
	case KindSession:
		delete(u.s.sessions, id.SessionID(recordID))
	case KindPayment:
		delete(u.s.payments, id.PaymentID(recordID))
	}
	return nil
}

func (s *InMemory) ReassignOwner(ctx context.Context, kind Kind, recordID uuid.UUID, accountID id.AccountID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return unlocked{s: s}.ReassignOwner(ctx, kind, recordID, accountID)
}

func (u unlocked) ReassignOwner(_ context.Context, kind Kind, recordID uuid.UUID, accountID id.AccountID) error {
	switch kind {
	case KindSpecialty:
		v, ok := u.s.specialties[id.SpecialtyID(recordID)]
		if !ok {
			return sentinel.ErrNotFound
		}
		v.OwnerAccountID = accountID
		u.s.specialties[v.ID] = v
	case KindStaffMember:
		v, ok := u.s.staff[id.StaffID(recordID)]
		if !ok {
			return sentinel.ErrNotFound
		}
		v.OwnerAccountID = accountID
		u.s.staff[v.ID] = v
	case KindPatient:
		v, ok := u.s.patients[id.PatientID(recordID)]
		if !ok {
			return sentinel.ErrNotFound
		}
		v.OwnerAccountID = accountID
		u.s.patients[v.ID] = v
	case KindAppointment:
		v, ok := u.s.appointments[id.AppointmentID(recordID)]
		if !ok {
			return sentinel.ErrNotFound
		}
		v.OwnerAccountID = accountID
		u.s.appointments[v.ID] = v
	case KindSession:
		v, ok := u.s.sessions[id.SessionID(recordID)]
		if !ok {
			return sentinel.ErrNotFound
		}
		v.OwnerAccountID = accountID
		u.s.sessions[v.ID] = v
	case KindPayment:
		v, ok := u.s.payments[id.PaymentID(recordID)]
		if !ok {
			return sentinel.ErrNotFound
		}
		v.OwnerAccountID = accountID
		u.s.payments[v.ID] = v
	default:
		return fmt.Errorf("unknown entity kind %q: %w", kind, sentinel.ErrNotFound)
	}
	return nil
}

func (s *InMemory) NullifyReference(ctx context.Context, kind Kind, recordID uuid.UUID, field string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return unlocked{s: s}.NullifyReference(ctx, kind, recordID, field)
}

func (u unlocked) NullifyReference(_ context.Context, kind Kind, recordID uuid.UUID, field string) error {
	switch {
	case kind == KindStaffMember && field == FieldSpecialtyID:
		v, ok := u.s.staff[id.StaffID(recordID)]
		if !ok {
			return sentinel.ErrNotFound
		}
		v.SpecialtyID = nil
		u.s.staff[v.ID] = v
	case kind == KindAppointment && field == FieldStaffID:
		v, ok := u.s.appointments[id.AppointmentID(recordID)]
		if !ok {
			return sentinel.ErrNotFound
		}
		v.StaffID = nil
		u.s.appointments[v.ID] = v
	case kind == KindAppointment && field == FieldSpecialtyID:
		v, ok := u.s.appointments[id.AppointmentID(recordID)]
		if !ok {
			return sentinel.ErrNotFound
		}
		v.SpecialtyID = nil
		u.s.appointments[v.ID] = v
	default:
		// Required references cannot be nulled; the record must be deleted
		// or its parent restored.
		return fmt.Errorf("reference %s.%s is not nullable: %w", kind, field, sentinel.ErrInvalidState)
	}
	return nil
}
