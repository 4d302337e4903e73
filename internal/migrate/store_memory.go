package migrate

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"clinicore/internal/entity"
	"clinicore/pkg/platform/sentinel"
)

// baselineColumns mirrors the fields each kind carries before any migration.
var baselineColumns = map[entity.Kind][]string{
	entity.KindSpecialty:   {"id", "owner_account_id", "name", "created_at"},
	entity.KindStaffMember: {"id", "owner_account_id", "name", "specialty_id", "created_at"},
	entity.KindPatient:     {"id", "owner_account_id", "name", "phone", "created_at"},
	entity.KindAppointment: {"id", "owner_account_id", "patient_id", "staff_id", "specialty_id", "starts_at", "created_at"},
	entity.KindSession:     {"id", "owner_account_id", "appointment_id", "notes", "created_at"},
	entity.KindPayment:     {"id", "owner_account_id", "patient_id", "amount_minor", "currency", "created_at"},
}

type markerKey struct {
	kind  entity.Kind
	field string
}

// InMemorySchema implements SchemaStore over an in-process field registry.
type InMemorySchema struct {
	mu      sync.Mutex
	fields  map[entity.Kind]map[string]Migration
	markers map[markerKey]time.Time
}

func NewInMemorySchema() *InMemorySchema {
	return &InMemorySchema{
		fields:  make(map[entity.Kind]map[string]Migration),
		markers: make(map[markerKey]time.Time),
	}
}

func (s *InMemorySchema) FieldExists(_ context.Context, kind entity.Kind, field string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, col := range baselineColumns[kind] {
		if col == field {
			return true, nil
		}
	}
	_, ok := s.fields[kind][field]
	return ok, nil
}

func (s *InMemorySchema) AddField(_ context.Context, m Migration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := checkDefault(m); err != nil {
		return err
	}
	if s.fields[m.Kind] == nil {
		s.fields[m.Kind] = make(map[string]Migration)
	}
	s.fields[m.Kind][m.Field] = m
	s.markers[markerKey{kind: m.Kind, field: m.Field}] = time.Now()
	return nil
}

// checkDefault rejects defaults incompatible with the declared type before
// any state is touched, so a failed AddField leaves the schema as it was.
func checkDefault(m Migration) error {
	if m.Default == nil {
		return nil
	}
	ok := false
	switch m.Type {
	case "uuid":
		_, ok = m.Default.(uuid.UUID)
	case "text":
		_, ok = m.Default.(string)
	case "bigint", "integer":
		switch m.Default.(type) {
		case int, int32, int64:
			ok = true
		}
	case "boolean":
		_, ok = m.Default.(bool)
	case "timestamptz":
		_, ok = m.Default.(time.Time)
	}
	if !ok {
		return fmt.Errorf("default %v is not a %s: %w", m.Default, m.Type, sentinel.ErrInvalidState)
	}
	return nil
}

// Fields returns the migrated field names for a kind, sorted. Test helper.
func (s *InMemorySchema) Fields(kind entity.Kind) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.fields[kind]))
	for name := range s.fields[kind] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MarkerExists reports whether a version marker was recorded for the field.
func (s *InMemorySchema) MarkerExists(kind entity.Kind, field string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.markers[markerKey{kind: kind, field: field}]
	return ok
}
