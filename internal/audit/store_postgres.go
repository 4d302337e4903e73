package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	id "clinicore/pkg/domain"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id              UUID PRIMARY KEY,
	timestamp       TIMESTAMPTZ NOT NULL,
	action          TEXT NOT NULL,
	record_id       UUID,
	entity_kind     TEXT NOT NULL DEFAULT '',
	invariant       TEXT NOT NULL DEFAULT '',
	subscription_id UUID,
	account_id      UUID,
	detail          TEXT NOT NULL DEFAULT '',
	request_id      TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS audit_outbox (
	id           UUID PRIMARY KEY,
	event_type   TEXT NOT NULL,
	payload      JSONB NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	published_at TIMESTAMPTZ
);
`

// PostgresStore implements Store using the transactional outbox pattern:
// each event lands in audit_events for querying and in audit_outbox for
// asynchronous publication.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("ensure audit schema: %w", err)
	}
	return nil
}

// outboxPayload is the JSON structure relayed to Kafka. Field names match
// Event so consumers can deserialize directly.
type outboxPayload struct {
	ID             string `json:"ID"`
	Timestamp      string `json:"Timestamp"`
	Action         string `json:"Action"`
	RecordID       string `json:"RecordID,omitempty"`
	EntityKind     string `json:"EntityKind,omitempty"`
	Invariant      string `json:"Invariant,omitempty"`
	SubscriptionID string `json:"SubscriptionID,omitempty"`
	AccountID      string `json:"AccountID,omitempty"`
	Detail         string `json:"Detail,omitempty"`
	RequestID      string `json:"RequestID,omitempty"`
}

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}

	payload := outboxPayload{
		ID:         event.ID.String(),
		Timestamp:  event.Timestamp.Format(time.RFC3339Nano),
		Action:     string(event.Action),
		EntityKind: event.EntityKind,
		Invariant:  event.Invariant,
		Detail:     event.Detail,
		RequestID:  event.RequestID,
	}
	if event.RecordID != uuid.Nil {
		payload.RecordID = event.RecordID.String()
	}
	if !event.SubscriptionID.IsNil() {
		payload.SubscriptionID = event.SubscriptionID.String()
	}
	if !event.AccountID.IsNil() {
		payload.AccountID = event.AccountID.String()
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit append: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_events (
			id, timestamp, action, record_id, entity_kind, invariant,
			subscription_id, account_id, detail, request_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`,
		event.ID,
		event.Timestamp,
		string(event.Action),
		nullableUUID(event.RecordID),
		event.EntityKind,
		event.Invariant,
		nullableUUID(uuid.UUID(event.SubscriptionID)),
		nullableUUID(uuid.UUID(event.AccountID)),
		event.Detail,
		event.RequestID,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_outbox (id, event_type, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING`,
		event.ID, string(event.Action), payloadBytes,
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit audit append: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByAccount(ctx context.Context, accountID id.AccountID) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, action, record_id, entity_kind, invariant,
		       subscription_id, account_id, detail, request_id
		FROM audit_events
		WHERE account_id = $1
		ORDER BY timestamp DESC`, uuid.UUID(accountID))
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *PostgresStore) ListRecent(ctx context.Context, limit int) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, action, record_id, entity_kind, invariant,
		       subscription_id, account_id, detail, request_id
		FROM audit_events
		ORDER BY timestamp DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var (
			event          Event
			action         string
			recordID       *uuid.UUID
			subscriptionID *uuid.UUID
			accountID      *uuid.UUID
		)
		err := rows.Scan(
			&event.ID,
			&event.Timestamp,
			&action,
			&recordID,
			&event.EntityKind,
			&event.Invariant,
			&subscriptionID,
			&accountID,
			&event.Detail,
			&event.RequestID,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.Action = Action(action)
		if recordID != nil {
			event.RecordID = *recordID
		}
		if subscriptionID != nil {
			event.SubscriptionID = id.SubscriptionID(*subscriptionID)
		}
		if accountID != nil {
			event.AccountID = id.AccountID(*accountID)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

func nullableUUID(u uuid.UUID) any {
	if u == uuid.Nil {
		return nil
	}
	return u
}
