package migrate

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"clinicore/internal/entity"
	"clinicore/pkg/platform/sentinel"
)

const markersSchema = `
CREATE TABLE IF NOT EXISTS schema_markers (
	kind       TEXT NOT NULL,
	field      TEXT NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (kind, field)
);
`

// PostgresSchema implements SchemaStore against live database metadata.
type PostgresSchema struct {
	pool *pgxpool.Pool
}

func NewPostgresSchema(pool *pgxpool.Pool) *PostgresSchema {
	return &PostgresSchema{pool: pool}
}

func (s *PostgresSchema) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, markersSchema); err != nil {
		return fmt.Errorf("ensure schema_markers: %w", err)
	}
	return nil
}

func (s *PostgresSchema) FieldExists(ctx context.Context, kind entity.Kind, field string) (bool, error) {
	table, ok := entity.TableName(kind)
	if !ok {
		return false, fmt.Errorf("unknown entity kind %q: %w", kind, sentinel.ErrNotFound)
	}
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.columns
			WHERE table_schema = 'public' AND table_name = $1 AND column_name = $2
		)`, table, field).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("probe %s.%s: %w", table, field, sentinel.ErrUnavailable)
	}
	return exists, nil
}

// AddField adds the column, backfills the default and records the marker in a
// single transaction. A failed ALTER or backfill rolls everything back.
func (s *PostgresSchema) AddField(ctx context.Context, m Migration) error {
	table, ok := entity.TableName(m.Kind)
	if !ok {
		return fmt.Errorf("unknown entity kind %q: %w", m.Kind, sentinel.ErrNotFound)
	}
	columnType, ok := columnTypes[m.Type]
	if !ok {
		return fmt.Errorf("unsupported field type %q: %w", m.Type, sentinel.ErrInvalidState)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin migration: %w", sentinel.ErrUnavailable)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	// Identifiers are validated upstream against a strict name pattern and a
	// type whitelist, so string concatenation into DDL is safe here.
	alter := fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, m.Field, columnType)
	if _, err := tx.Exec(ctx, alter); err != nil {
		return fmt.Errorf("alter %s: %v: %w", table, err, sentinel.ErrInvalidState)
	}
	if m.Default != nil {
		backfill := fmt.Sprintf(`UPDATE %s SET %s = $1 WHERE %s IS NULL`, table, m.Field, m.Field)
		if _, err := tx.Exec(ctx, backfill, m.Default); err != nil {
			return fmt.Errorf("backfill %s.%s: %v: %w", table, m.Field, err, sentinel.ErrInvalidState)
		}
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO schema_markers (kind, field) VALUES ($1, $2)
		ON CONFLICT (kind, field) DO NOTHING`, string(m.Kind), m.Field); err != nil {
		return fmt.Errorf("record marker %s.%s: %w", m.Kind, m.Field, sentinel.ErrUnavailable)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit migration: %w", sentinel.ErrUnavailable)
	}
	return nil
}
