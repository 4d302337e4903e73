// Package enforcer scans owned records for ownership and reference
// violations. Scanning is read-only; remediation is a separate, explicit
// step owned by the reconciler.
package enforcer

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"clinicore/internal/entity"
	id "clinicore/pkg/domain"
)

// Invariant names the rule a record violates.
type Invariant string

const (
	MissingOwner               Invariant = "MissingOwner"
	DanglingOwner              Invariant = "DanglingOwner"
	DanglingSecondaryReference Invariant = "DanglingSecondaryReference"
)

// Violation reports one record breaking one invariant. Field and Nullable
// are set for secondary-reference violations only.
type Violation struct {
	RecordID  uuid.UUID
	Kind      entity.Kind
	Invariant Invariant
	Field     string
	Nullable  bool
	OwnerID   id.AccountID
	RefID     uuid.UUID
}

// Scanner walks records of a kind and classifies violations. It never
// mutates the store.
type Scanner struct {
	ops entity.RecordOps
}

func NewScanner(ops entity.RecordOps) *Scanner {
	return &Scanner{ops: ops}
}

// Scan returns the kind's violations in ascending record-identifier order.
func (s *Scanner) Scan(ctx context.Context, kind entity.Kind) ([]Violation, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown entity kind %q", kind)
	}
	records, err := s.ops.ListRecords(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("list %s records: %w", kind, err)
	}

	var violations []Violation
	for _, record := range records {
		found, err := s.classify(ctx, record)
		if err != nil {
			return nil, err
		}
		violations = append(violations, found...)
	}

	sort.SliceStable(violations, func(i, j int) bool {
		return id.CompareUUID(violations[i].RecordID, violations[j].RecordID) < 0
	})
	return violations, nil
}

// ScanAll walks every kind in the fixed dependency order so downstream
// consumers can assume upstream kinds were classified first.
func (s *Scanner) ScanAll(ctx context.Context) ([]Violation, error) {
	var all []Violation
	for _, kind := range entity.ScanOrder {
		violations, err := s.Scan(ctx, kind)
		if err != nil {
			return nil, err
		}
		all = append(all, violations...)
	}
	return all, nil
}

func (s *Scanner) classify(ctx context.Context, record entity.Record) ([]Violation, error) {
	var violations []Violation

	switch {
	case record.OwnerID.IsNil():
		violations = append(violations, Violation{
			RecordID:  record.ID,
			Kind:      record.Kind,
			Invariant: MissingOwner,
		})
	default:
		live, err := s.ops.AccountExists(ctx, record.OwnerID)
		if err != nil {
			return nil, fmt.Errorf("resolve owner of %s %s: %w", record.Kind, record.ID, err)
		}
		if !live {
			violations = append(violations, Violation{
				RecordID:  record.ID,
				Kind:      record.Kind,
				Invariant: DanglingOwner,
				OwnerID:   record.OwnerID,
			})
		}
	}

	for _, ref := range record.Refs {
		if !ref.Set() {
			// Nullable references may be unset; required ones may not.
			if !ref.Nullable {
				violations = append(violations, Violation{
					RecordID:  record.ID,
					Kind:      record.Kind,
					Invariant: DanglingSecondaryReference,
					Field:     ref.Field,
				})
			}
			continue
		}
		resolves, err := s.ops.RecordExists(ctx, ref.Kind, ref.ID)
		if err != nil {
			return nil, fmt.Errorf("resolve %s.%s of %s: %w", record.Kind, ref.Field, record.ID, err)
		}
		if !resolves {
			violations = append(violations, Violation{
				RecordID:  record.ID,
				Kind:      record.Kind,
				Invariant: DanglingSecondaryReference,
				Field:     ref.Field,
				Nullable:  ref.Nullable,
				RefID:     ref.ID,
			})
		}
	}
	return violations, nil
}
