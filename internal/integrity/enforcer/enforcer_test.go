package enforcer

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"clinicore/internal/entity"
	id "clinicore/pkg/domain"
)

type ScannerSuite struct {
	suite.Suite
	store   *entity.InMemory
	scanner *Scanner
	ctx     context.Context
	owner   id.AccountID
}

func TestScannerSuite(t *testing.T) {
	suite.Run(t, new(ScannerSuite))
}

func (s *ScannerSuite) SetupTest() {
	s.store = entity.NewInMemory()
	s.scanner = NewScanner(s.store)
	s.ctx = context.Background()
	s.owner = id.AccountID(uuid.New())
	s.Require().NoError(s.store.PutAccount(s.ctx, entity.Account{
		ID:   s.owner,
		Name: "East Clinic",
		Role: entity.RoleStandard,
	}))
}

func (s *ScannerSuite) TestCleanStoreReportsNothing() {
	s.Require().NoError(s.store.PutPatient(s.ctx, entity.Patient{
		ID:             id.PatientID(uuid.New()),
		OwnerAccountID: s.owner,
	}))

	violations, err := s.scanner.ScanAll(s.ctx)
	s.Require().NoError(err)
	s.Empty(violations)
}

func (s *ScannerSuite) TestMissingOwner() {
	patientID := id.PatientID(uuid.New())
	s.Require().NoError(s.store.PutPatient(s.ctx, entity.Patient{ID: patientID}))

	violations, err := s.scanner.Scan(s.ctx, entity.KindPatient)
	s.Require().NoError(err)
	s.Require().Len(violations, 1)
	s.Equal(MissingOwner, violations[0].Invariant)
	s.Equal(uuid.UUID(patientID), violations[0].RecordID)
}

func (s *ScannerSuite) TestDanglingOwner() {
	gone := id.AccountID(uuid.New())
	patientID := id.PatientID(uuid.New())
	s.Require().NoError(s.store.PutPatient(s.ctx, entity.Patient{
		ID:             patientID,
		OwnerAccountID: gone,
	}))

	violations, err := s.scanner.Scan(s.ctx, entity.KindPatient)
	s.Require().NoError(err)
	s.Require().Len(violations, 1)
	s.Equal(DanglingOwner, violations[0].Invariant)
	s.Equal(gone, violations[0].OwnerID)
}

func (s *ScannerSuite) TestDanglingRequiredReference() {
	// Session points at an appointment that was deleted out from under it.
	sessionID := id.SessionID(uuid.New())
	s.Require().NoError(s.store.PutSession(s.ctx, entity.Session{
		ID:             sessionID,
		OwnerAccountID: s.owner,
		AppointmentID:  id.AppointmentID(uuid.New()),
	}))

	violations, err := s.scanner.Scan(s.ctx, entity.KindSession)
	s.Require().NoError(err)
	s.Require().Len(violations, 1)
	s.Equal(DanglingSecondaryReference, violations[0].Invariant)
	s.Equal(entity.FieldAppointmentID, violations[0].Field)
}

func (s *ScannerSuite) TestNullableReferences() {
	s.Run("unset nullable reference is fine", func() {
		s.Require().NoError(s.store.PutStaffMember(s.ctx, entity.StaffMember{
			ID:             id.StaffID(uuid.New()),
			OwnerAccountID: s.owner,
		}))
		violations, err := s.scanner.Scan(s.ctx, entity.KindStaffMember)
		s.Require().NoError(err)
		s.Empty(violations)
	})

	s.Run("set but dangling nullable reference violates", func() {
		missing := id.SpecialtyID(uuid.New())
		staffID := id.StaffID(uuid.New())
		s.Require().NoError(s.store.PutStaffMember(s.ctx, entity.StaffMember{
			ID:             staffID,
			OwnerAccountID: s.owner,
			SpecialtyID:    &missing,
		}))
		violations, err := s.scanner.Scan(s.ctx, entity.KindStaffMember)
		s.Require().NoError(err)
		s.Require().Len(violations, 1)
		s.Equal(DanglingSecondaryReference, violations[0].Invariant)
		s.Equal(entity.FieldSpecialtyID, violations[0].Field)
		s.Equal(uuid.UUID(missing), violations[0].RefID)
	})
}

func (s *ScannerSuite) TestScanIsReadOnly() {
	s.Require().NoError(s.store.PutPatient(s.ctx, entity.Patient{ID: id.PatientID(uuid.New())}))

	_, err := s.scanner.Scan(s.ctx, entity.KindPatient)
	s.Require().NoError(err)

	records, err := s.store.ListRecords(s.ctx, entity.KindPatient)
	s.Require().NoError(err)
	s.Len(records, 1)
}

func (s *ScannerSuite) TestViolationsOrderedByRecordID() {
	for _, b := range []byte{0xee, 0x11, 0x88} {
		s.Require().NoError(s.store.PutPatient(s.ctx, entity.Patient{
			ID: id.PatientID(uuid.UUID{b}),
		}))
	}

	violations, err := s.scanner.Scan(s.ctx, entity.KindPatient)
	s.Require().NoError(err)
	s.Require().Len(violations, 3)
	for i := 1; i < len(violations); i++ {
		s.Negative(id.CompareUUID(violations[i-1].RecordID, violations[i].RecordID))
	}
}

func (s *ScannerSuite) TestRecordWithBothOwnerAndReferenceProblems() {
	sessionID := id.SessionID(uuid.New())
	s.Require().NoError(s.store.PutSession(s.ctx, entity.Session{
		ID:            sessionID,
		AppointmentID: id.AppointmentID(uuid.New()),
		CreatedAt:     time.Now(),
	}))

	violations, err := s.scanner.Scan(s.ctx, entity.KindSession)
	s.Require().NoError(err)
	s.Require().Len(violations, 2)
	s.Equal(MissingOwner, violations[0].Invariant)
	s.Equal(DanglingSecondaryReference, violations[1].Invariant)
}
