// Package migrate applies additive, idempotent structural changes to the
// entity store. It runs to completion at startup before any other component
// touches the affected kinds.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"clinicore/internal/entity"
	"clinicore/pkg/domainerrors"
	"clinicore/pkg/platform/sentinel"
)

// Migration describes one additive field on an entity kind. Default is
// backfilled into existing rows; nil leaves them null.
type Migration struct {
	Kind    entity.Kind
	Field   string
	Type    string
	Default any
}

// SchemaStore is the storage side of the migrator. FieldExists must consult
// live metadata, never a cached view. AddField adds the column, backfills the
// default and records the version marker as one atomic step: on failure the
// store is left exactly as it was.
type SchemaStore interface {
	FieldExists(ctx context.Context, kind entity.Kind, field string) (bool, error)
	AddField(ctx context.Context, m Migration) error
}

// columnTypes is the set of field types a migration may add, keyed by the
// abstract name used in Migration.Type.
var columnTypes = map[string]string{
	"uuid":        "UUID",
	"text":        "TEXT",
	"bigint":      "BIGINT",
	"integer":     "INTEGER",
	"boolean":     "BOOLEAN",
	"timestamptz": "TIMESTAMPTZ",
}

var fieldNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

type Migrator struct {
	store  SchemaStore
	logger *slog.Logger
}

func New(store SchemaStore, logger *slog.Logger) *Migrator {
	return &Migrator{store: store, logger: logger}
}

// Apply adds the migration's field to its kind if and only if it is not
// already present. A second call with identical arguments is a no-op success.
func (m *Migrator) Apply(ctx context.Context, mig Migration) error {
	if !mig.Kind.Valid() {
		return domainerrors.Newf(domainerrors.CodeStructural, "unknown entity kind %q", mig.Kind)
	}
	if !fieldNamePattern.MatchString(mig.Field) {
		return domainerrors.Newf(domainerrors.CodeStructural, "invalid field name %q", mig.Field)
	}
	if _, ok := columnTypes[mig.Type]; !ok {
		return domainerrors.Newf(domainerrors.CodeStructural, "unsupported field type %q", mig.Type)
	}

	exists, err := m.store.FieldExists(ctx, mig.Kind, mig.Field)
	if err != nil {
		return translate(err, mig)
	}
	if exists {
		if m.logger != nil {
			m.logger.Info("migration already applied", "kind", mig.Kind, "field", mig.Field)
		}
		return nil
	}

	if err := m.store.AddField(ctx, mig); err != nil {
		return translate(err, mig)
	}
	if m.logger != nil {
		m.logger.Info("migration applied", "kind", mig.Kind, "field", mig.Field, "type", mig.Type)
	}
	return nil
}

func translate(err error, mig Migration) error {
	switch {
	case errors.Is(err, sentinel.ErrInvalidState):
		return domainerrors.Wrap(err, domainerrors.CodeStructural,
			fmt.Sprintf("migration %s.%s cannot be applied", mig.Kind, mig.Field))
	default:
		return domainerrors.Wrap(err, domainerrors.CodeUnavailable,
			fmt.Sprintf("migration %s.%s: store unavailable", mig.Kind, mig.Field))
	}
}

// Runner applies the startup migration set in order, stopping on the first
// failure. A structural failure aborts startup.
type Runner struct {
	migrator *Migrator
}

func NewRunner(migrator *Migrator) *Runner {
	return &Runner{migrator: migrator}
}

func (r *Runner) Run(ctx context.Context, migrations []Migration) error {
	for _, mig := range migrations {
		if err := r.migrator.Apply(ctx, mig); err != nil {
			return err
		}
	}
	return nil
}
