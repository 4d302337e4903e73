package entity

// Kind identifies one owned-record entity kind.
type Kind string

const (
	KindSpecialty   Kind = "specialty"
	KindStaffMember Kind = "staff_member"
	KindPatient     Kind = "patient"
	KindAppointment Kind = "appointment"
	KindSession     Kind = "session"
	KindPayment     Kind = "payment"
)

// ScanOrder is the fixed dependency order for integrity scans and
// reconciliation passes: account-independent kinds first, then kinds whose
// secondary references point at already-classified kinds. Downstream
// consumers (the reconciler's worklist) assume upstream kinds were resolved
// before their dependents are re-evaluated.
var ScanOrder = []Kind{
	KindSpecialty,
	KindStaffMember,
	KindPatient,
	KindAppointment,
	KindSession,
	KindPayment,
}

// Valid reports whether k names a known entity kind.
func (k Kind) Valid() bool {
	switch k {
	case KindSpecialty, KindStaffMember, KindPatient, KindAppointment, KindSession, KindPayment:
		return true
	}
	return false
}
