package reconciler

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"clinicore/internal/audit"
	"clinicore/internal/entity"
	"clinicore/internal/integrity/enforcer"
	id "clinicore/pkg/domain"
	"clinicore/pkg/domainerrors"
)

type ReconcilerSuite struct {
	suite.Suite
	store      *entity.InMemory
	events     *audit.InMemoryStore
	scanner    *enforcer.Scanner
	reconciler *Reconciler
	ctx        context.Context
	owner      id.AccountID
}

func TestReconcilerSuite(t *testing.T) {
	suite.Run(t, new(ReconcilerSuite))
}

func (s *ReconcilerSuite) SetupTest() {
	s.store = entity.NewInMemory()
	s.events = audit.NewInMemoryStore()
	s.scanner = enforcer.NewScanner(s.store)
	s.reconciler = New(s.store, audit.NewPublisher(s.events), nil, nil)
	s.ctx = context.Background()
	s.owner = id.AccountID(uuid.New())
	s.Require().NoError(s.store.PutAccount(s.ctx, entity.Account{ID: s.owner, Name: "Main"}))
}

func (s *ReconcilerSuite) scanAll() []enforcer.Violation {
	violations, err := s.scanner.ScanAll(s.ctx)
	s.Require().NoError(err)
	return violations
}

func (s *ReconcilerSuite) TestEmptyReportsIsNoop() {
	result, err := s.reconciler.Reconcile(s.ctx, nil, DefaultPolicy())
	s.Require().NoError(err)
	s.Zero(result.Total())
	s.Zero(result.Rounds)
}

func (s *ReconcilerSuite) TestDefaultPolicyRemovesOrphansOnly() {
	kept := id.PatientID(uuid.New())
	s.Require().NoError(s.store.PutPatient(s.ctx, entity.Patient{ID: kept, OwnerAccountID: s.owner}))
	s.Require().NoError(s.store.PutPatient(s.ctx, entity.Patient{ID: id.PatientID(uuid.New())}))
	s.Require().NoError(s.store.PutPatient(s.ctx, entity.Patient{
		ID:             id.PatientID(uuid.New()),
		OwnerAccountID: id.AccountID(uuid.New()),
	}))

	result, err := s.reconciler.Reconcile(s.ctx, s.scanAll(), DefaultPolicy())
	s.Require().NoError(err)
	s.Equal(2, result.Kinds[entity.KindPatient].Deleted)

	records, err := s.store.ListRecords(s.ctx, entity.KindPatient)
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.Equal(uuid.UUID(kept), records[0].ID)

	s.Empty(s.scanAll())
}

func (s *ReconcilerSuite) TestSessionDanglingOnDeletedAppointment() {
	appointmentID := id.AppointmentID(uuid.New())
	patientID := id.PatientID(uuid.New())
	s.Require().NoError(s.store.PutPatient(s.ctx, entity.Patient{ID: patientID, OwnerAccountID: s.owner}))
	s.Require().NoError(s.store.PutAppointment(s.ctx, entity.Appointment{
		ID:             appointmentID,
		OwnerAccountID: s.owner,
		PatientID:      patientID,
	}))
	sessionID := id.SessionID(uuid.New())
	s.Require().NoError(s.store.PutSession(s.ctx, entity.Session{
		ID:             sessionID,
		OwnerAccountID: s.owner,
		AppointmentID:  appointmentID,
	}))

	// The appointment vanishes out-of-band.
	s.Require().NoError(s.store.DeleteRecord(s.ctx, entity.KindAppointment, uuid.UUID(appointmentID)))

	violations, err := s.scanner.Scan(s.ctx, entity.KindSession)
	s.Require().NoError(err)
	s.Require().Len(violations, 1)
	s.Equal(enforcer.DanglingSecondaryReference, violations[0].Invariant)
	s.Equal(uuid.UUID(sessionID), violations[0].RecordID)

	result, err := s.reconciler.Reconcile(s.ctx, violations, DefaultPolicy())
	s.Require().NoError(err)
	s.Equal(1, result.Kinds[entity.KindSession].Deleted)

	exists, err := s.store.RecordExists(s.ctx, entity.KindSession, uuid.UUID(sessionID))
	s.Require().NoError(err)
	s.False(exists)
}

func (s *ReconcilerSuite) TestCascadeAcrossRounds() {
	// An orphaned patient anchors an appointment which anchors a session and
	// a payment. Removing the patient must cascade through all of them.
	patientID := id.PatientID(uuid.New())
	s.Require().NoError(s.store.PutPatient(s.ctx, entity.Patient{ID: patientID}))

	appointmentID := id.AppointmentID(uuid.New())
	s.Require().NoError(s.store.PutAppointment(s.ctx, entity.Appointment{
		ID:             appointmentID,
		OwnerAccountID: s.owner,
		PatientID:      patientID,
	}))
	s.Require().NoError(s.store.PutSession(s.ctx, entity.Session{
		ID:             id.SessionID(uuid.New()),
		OwnerAccountID: s.owner,
		AppointmentID:  appointmentID,
	}))
	s.Require().NoError(s.store.PutPayment(s.ctx, entity.Payment{
		ID:             id.PaymentID(uuid.New()),
		OwnerAccountID: s.owner,
		PatientID:      patientID,
		AmountMinor:    5000,
		Currency:       "USD",
	}))

	result, err := s.reconciler.Reconcile(s.ctx, s.scanAll(), DefaultPolicy())
	s.Require().NoError(err)
	s.Equal(1, result.Kinds[entity.KindPatient].Deleted)
	s.Equal(1, result.Kinds[entity.KindAppointment].Deleted)
	s.Equal(1, result.Kinds[entity.KindSession].Deleted)
	s.Equal(1, result.Kinds[entity.KindPayment].Deleted)
	s.Greater(result.Rounds, 1)

	s.Empty(s.scanAll())
}

func (s *ReconcilerSuite) TestAssignPolicyPinsMissingOwners() {
	patientID := id.PatientID(uuid.New())
	s.Require().NoError(s.store.PutPatient(s.ctx, entity.Patient{ID: patientID}))
	dangling := id.PatientID(uuid.New())
	s.Require().NoError(s.store.PutPatient(s.ctx, entity.Patient{
		ID:             dangling,
		OwnerAccountID: id.AccountID(uuid.New()),
	}))

	policy := Policy{OnMissingOwner: ActionAssign, AssignTo: s.owner, OnDanglingSecondary: ActionDelete}
	result, err := s.reconciler.Reconcile(s.ctx, s.scanAll(), policy)
	s.Require().NoError(err)
	s.Equal(1, result.Kinds[entity.KindPatient].Reassigned)
	// Dangling owners are deleted regardless of the assign choice.
	s.Equal(1, result.Kinds[entity.KindPatient].Deleted)

	records, err := s.store.ListRecords(s.ctx, entity.KindPatient)
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.Equal(s.owner, records[0].OwnerID)
}

func (s *ReconcilerSuite) TestNullifyPolicy() {
	s.Run("nullable dangling reference is pinned", func() {
		appointmentID := id.AppointmentID(uuid.New())
		patientID := id.PatientID(uuid.New())
		staffID := id.StaffID(uuid.New())
		s.Require().NoError(s.store.PutPatient(s.ctx, entity.Patient{ID: patientID, OwnerAccountID: s.owner}))
		s.Require().NoError(s.store.PutAppointment(s.ctx, entity.Appointment{
			ID:             appointmentID,
			OwnerAccountID: s.owner,
			PatientID:      patientID,
			StaffID:        &staffID,
		}))

		policy := Policy{OnMissingOwner: ActionDelete, OnDanglingSecondary: ActionNullify}
		result, err := s.reconciler.Reconcile(s.ctx, s.scanAll(), policy)
		s.Require().NoError(err)
		s.Equal(1, result.Kinds[entity.KindAppointment].Nullified)

		exists, err := s.store.RecordExists(s.ctx, entity.KindAppointment, uuid.UUID(appointmentID))
		s.Require().NoError(err)
		s.True(exists)
		s.Empty(s.scanAll())
	})

	s.Run("required dangling reference still deletes", func() {
		sessionID := id.SessionID(uuid.New())
		s.Require().NoError(s.store.PutSession(s.ctx, entity.Session{
			ID:             sessionID,
			OwnerAccountID: s.owner,
			AppointmentID:  id.AppointmentID(uuid.New()),
		}))

		policy := Policy{OnMissingOwner: ActionDelete, OnDanglingSecondary: ActionNullify}
		result, err := s.reconciler.Reconcile(s.ctx, s.scanAll(), policy)
		s.Require().NoError(err)
		s.Equal(1, result.Kinds[entity.KindSession].Deleted)
	})
}

func (s *ReconcilerSuite) TestPolicyValidation() {
	reports := []enforcer.Violation{{Kind: entity.KindPatient, Invariant: enforcer.MissingOwner}}

	s.Run("unknown action", func() {
		_, err := s.reconciler.Reconcile(s.ctx, reports, Policy{OnMissingOwner: "drop", OnDanglingSecondary: ActionDelete})
		s.Require().Error(err)
		s.True(domainerrors.HasCode(err, domainerrors.CodeInvalidInput))
	})

	s.Run("assign without target", func() {
		_, err := s.reconciler.Reconcile(s.ctx, reports, Policy{OnMissingOwner: ActionAssign, OnDanglingSecondary: ActionDelete})
		s.Require().Error(err)
		s.True(domainerrors.HasCode(err, domainerrors.CodeInvalidInput))
	})

	s.Run("assign to unknown account", func() {
		policy := Policy{OnMissingOwner: ActionAssign, AssignTo: id.AccountID(uuid.New()), OnDanglingSecondary: ActionDelete}
		_, err := s.reconciler.Reconcile(s.ctx, reports, policy)
		s.Require().Error(err)
		s.True(domainerrors.HasCode(err, domainerrors.CodeNotFound))
	})
}

func (s *ReconcilerSuite) TestAuditTrailPerAction() {
	patientID := id.PatientID(uuid.New())
	s.Require().NoError(s.store.PutPatient(s.ctx, entity.Patient{ID: patientID}))

	_, err := s.reconciler.Reconcile(s.ctx, s.scanAll(), DefaultPolicy())
	s.Require().NoError(err)

	events, err := s.events.ListAll(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(audit.ActionRecordDeleted, events[0].Action)
	s.Equal(uuid.UUID(patientID), events[0].RecordID)
	s.Equal(string(entity.KindPatient), events[0].EntityKind)
	s.Equal(string(enforcer.MissingOwner), events[0].Invariant)
}

func (s *ReconcilerSuite) TestReconcileIsIdempotent() {
	s.Require().NoError(s.store.PutPatient(s.ctx, entity.Patient{ID: id.PatientID(uuid.New())}))

	first, err := s.reconciler.Reconcile(s.ctx, s.scanAll(), DefaultPolicy())
	s.Require().NoError(err)
	s.Equal(1, first.Total())

	second, err := s.reconciler.Reconcile(s.ctx, s.scanAll(), DefaultPolicy())
	s.Require().NoError(err)
	s.Zero(second.Total())
}
