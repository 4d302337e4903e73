package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	id "clinicore/pkg/domain"
	"clinicore/pkg/platform/sentinel"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS subscriptions (
	id          UUID PRIMARY KEY,
	account_id  UUID NOT NULL,
	plan        TEXT NOT NULL,
	price_minor BIGINT NOT NULL,
	status      TEXT NOT NULL,
	starts_at   TIMESTAMPTZ NOT NULL,
	ends_at     TIMESTAMPTZ NOT NULL,
	canceled_at TIMESTAMPTZ,
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_subscriptions_account ON subscriptions (account_id);
CREATE INDEX IF NOT EXISTS idx_subscriptions_status_ends ON subscriptions (status, ends_at);
CREATE TABLE IF NOT EXISTS subscription_history (
	id              UUID PRIMARY KEY,
	subscription_id UUID NOT NULL,
	kind            TEXT NOT NULL,
	plan            TEXT NOT NULL,
	price_minor     BIGINT NOT NULL,
	prev_plan       TEXT,
	prev_price_minor BIGINT,
	created_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_subscription_history_sub ON subscription_history (subscription_id);
`

const subscriptionColumns = `id, account_id, plan, price_minor, status, starts_at, ends_at, canceled_at, created_at`

// PostgresStore implements Store on pgx.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("ensure subscription schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Insert(ctx context.Context, sub Subscription) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		sub.ID, sub.AccountID, sub.Plan, sub.PriceMinor, string(sub.Status),
		sub.StartsAt, sub.EndsAt, sub.CanceledAt, sub.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert subscription: %w", sentinel.ErrUnavailable)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, subID id.SubscriptionID) (*Subscription, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, subID)
	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get subscription: %w", sentinel.ErrUnavailable)
	}
	return sub, nil
}

func (s *PostgresStore) ListByAccount(ctx context.Context, accountID id.AccountID) ([]Subscription, error) {
	return s.list(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE account_id = $1
		ORDER BY created_at`, accountID)
}

func (s *PostgresStore) FindActiveByAccount(ctx context.Context, accountID id.AccountID, now time.Time) ([]Subscription, error) {
	return s.list(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE account_id = $1 AND status = 'active' AND ends_at > $2
		ORDER BY created_at`, accountID, now)
}

func (s *PostgresStore) ListExpiring(ctx context.Context, now time.Time) ([]Subscription, error) {
	return s.list(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE status = 'active' AND ends_at <= $1
		ORDER BY created_at`, now)
}

func (s *PostgresStore) Update(ctx context.Context, sub Subscription, expect Status) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE subscriptions
		SET plan = $2, price_minor = $3, status = $4, ends_at = $5, canceled_at = $6
		WHERE id = $1 AND status = $7`,
		sub.ID, sub.Plan, sub.PriceMinor, string(sub.Status), sub.EndsAt, sub.CanceledAt, string(expect),
	)
	if err != nil {
		return fmt.Errorf("update subscription: %w", sentinel.ErrUnavailable)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM subscriptions WHERE id = $1)`, sub.ID).Scan(&exists); err != nil {
			return fmt.Errorf("probe subscription: %w", sentinel.ErrUnavailable)
		}
		if !exists {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrConflict
	}
	return nil
}

func (s *PostgresStore) AppendHistory(ctx context.Context, entry HistoryEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO subscription_history
			(id, subscription_id, kind, plan, price_minor, prev_plan, prev_price_minor, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, entry.SubscriptionID, string(entry.Kind), entry.Plan, entry.PriceMinor,
		entry.PrevPlan, entry.PrevPriceMinor, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append history: %w", sentinel.ErrUnavailable)
	}
	return nil
}

func (s *PostgresStore) ListHistory(ctx context.Context, subID id.SubscriptionID) ([]HistoryEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, subscription_id, kind, plan, price_minor, prev_plan, prev_price_minor, created_at
		FROM subscription_history
		WHERE subscription_id = $1
		ORDER BY created_at`, subID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", sentinel.ErrUnavailable)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var (
			entry HistoryEntry
			kind  string
		)
		err := rows.Scan(&entry.ID, &entry.SubscriptionID, &kind, &entry.Plan,
			&entry.PriceMinor, &entry.PrevPlan, &entry.PrevPriceMinor, &entry.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		entry.Kind = HistoryKind(kind)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", sentinel.ErrUnavailable)
	}
	return entries, nil
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]Subscription, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", sentinel.ErrUnavailable)
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscriptions: %w", sentinel.ErrUnavailable)
	}
	return subs, nil
}

func scanSubscription(row pgx.Row) (*Subscription, error) {
	var (
		sub    Subscription
		status string
	)
	err := row.Scan(&sub.ID, &sub.AccountID, &sub.Plan, &sub.PriceMinor, &status,
		&sub.StartsAt, &sub.EndsAt, &sub.CanceledAt, &sub.CreatedAt)
	if err != nil {
		return nil, err
	}
	sub.Status = Status(status)
	return &sub, nil
}
