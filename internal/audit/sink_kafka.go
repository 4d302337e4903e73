package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaRelay drains audit_outbox rows into a Kafka topic. The outbox write
// and the domain mutation commit together, so the relay can retry publishing
// without losing or duplicating source rows (the consumer deduplicates on
// event ID).
type KafkaRelay struct {
	db       *sql.DB
	client   *kgo.Client
	topic    string
	interval time.Duration
	logger   *slog.Logger
}

func NewKafkaRelay(db *sql.DB, client *kgo.Client, topic string, interval time.Duration, logger *slog.Logger) *KafkaRelay {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &KafkaRelay{db: db, client: client, topic: topic, interval: interval, logger: logger}
}

// Run polls the outbox until the context is canceled. A nil Kafka client
// disables the relay entirely.
func (r *KafkaRelay) Run(ctx context.Context) error {
	if r.client == nil {
		return nil
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.drain(ctx); err != nil && r.logger != nil {
				r.logger.Error("audit outbox drain failed", "error", err)
			}
		}
	}
}

func (r *KafkaRelay) drain(ctx context.Context) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, payload FROM audit_outbox
		WHERE published_at IS NULL
		ORDER BY created_at
		LIMIT 100`)
	if err != nil {
		return fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	type entry struct {
		id      uuid.UUID
		payload []byte
	}
	var pending []entry
	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.id, &e.payload); err != nil {
			return fmt.Errorf("scan outbox entry: %w", err)
		}
		pending = append(pending, e)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate outbox: %w", err)
	}

	for _, e := range pending {
		record := &kgo.Record{Topic: r.topic, Key: e.id[:], Value: e.payload}
		if err := r.client.ProduceSync(ctx, record).FirstErr(); err != nil {
			return fmt.Errorf("produce outbox entry %s: %w", e.id, err)
		}
		if _, err := r.db.ExecContext(ctx, `
			UPDATE audit_outbox SET published_at = now() WHERE id = $1`, e.id); err != nil {
			return fmt.Errorf("mark outbox entry %s published: %w", e.id, err)
		}
	}
	return nil
}
