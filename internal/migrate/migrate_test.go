package migrate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinicore/internal/entity"
	"clinicore/pkg/domainerrors"
)

func TestApplyIsIdempotent(t *testing.T) {
	ctx := context.Background()
	schema := NewInMemorySchema()
	migrator := New(schema, nil)

	mig := Migration{Kind: entity.KindPatient, Field: "insurance_code", Type: "text", Default: "none"}

	require.NoError(t, migrator.Apply(ctx, mig))
	require.Equal(t, []string{"insurance_code"}, schema.Fields(entity.KindPatient))
	require.True(t, schema.MarkerExists(entity.KindPatient, "insurance_code"))

	// Second identical run changes nothing and never errors.
	require.NoError(t, migrator.Apply(ctx, mig))
	assert.Equal(t, []string{"insurance_code"}, schema.Fields(entity.KindPatient))
}

func TestApplyNoopWhenBaselineFieldExists(t *testing.T) {
	ctx := context.Background()
	schema := NewInMemorySchema()
	migrator := New(schema, nil)

	err := migrator.Apply(ctx, Migration{Kind: entity.KindAppointment, Field: "patient_id", Type: "uuid"})
	require.NoError(t, err)
	assert.Empty(t, schema.Fields(entity.KindAppointment))
	assert.False(t, schema.MarkerExists(entity.KindAppointment, "patient_id"))
}

func TestApplyRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	migrator := New(NewInMemorySchema(), nil)

	tests := []struct {
		name string
		mig  Migration
	}{
		{"unknown kind", Migration{Kind: "Ledger", Field: "ok_name", Type: "text"}},
		{"bad field name", Migration{Kind: entity.KindPatient, Field: "Drop Table", Type: "text"}},
		{"unsupported type", Migration{Kind: entity.KindPatient, Field: "blob_field", Type: "bytea"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := migrator.Apply(ctx, tc.mig)
			require.Error(t, err)
			assert.True(t, domainerrors.HasCode(err, domainerrors.CodeStructural))
		})
	}
}

func TestApplyIncompatibleDefaultIsAtomic(t *testing.T) {
	ctx := context.Background()
	schema := NewInMemorySchema()
	migrator := New(schema, nil)

	err := migrator.Apply(ctx, Migration{
		Kind:    entity.KindPayment,
		Field:   "tax_minor",
		Type:    "bigint",
		Default: "not a number",
	})
	require.Error(t, err)
	assert.True(t, domainerrors.HasCode(err, domainerrors.CodeStructural))

	// Failed addition leaves no trace: no field, no marker.
	assert.Empty(t, schema.Fields(entity.KindPayment))
	assert.False(t, schema.MarkerExists(entity.KindPayment, "tax_minor"))
}

func TestRunnerStopsOnFirstFailure(t *testing.T) {
	ctx := context.Background()
	schema := NewInMemorySchema()
	runner := NewRunner(New(schema, nil))

	err := runner.Run(ctx, []Migration{
		{Kind: entity.KindPatient, Field: "insurance_code", Type: "text"},
		{Kind: entity.KindPatient, Field: "bad field", Type: "text"},
		{Kind: entity.KindPatient, Field: "never_applied", Type: "text"},
	})
	require.Error(t, err)
	assert.True(t, domainerrors.HasCode(err, domainerrors.CodeStructural))
	assert.Equal(t, []string{"insurance_code"}, schema.Fields(entity.KindPatient))
}
