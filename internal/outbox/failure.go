package outbox

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DLQWriter parks outbox events that could not be published. Parked entries
// are eligible for the retry manager right away (next_retry_at starts at
// NOW); the manager applies exponential backoff on repeated failures and
// quarantines an entry once its retry budget is spent.
type DLQWriter struct {
	pool *pgxpool.Pool
}

// NewDLQWriter initialises a writer backed by the provided connection pool.
func NewDLQWriter(pool *pgxpool.Pool) *DLQWriter {
	return &DLQWriter{pool: pool}
}

// Write parks one failed event with the supplied reason. Routing metadata
// (topic, schema subject, partition key) travels with the entry so the event
// can be requeued into the outbox without consulting the original row.
func (w *DLQWriter) Write(ctx context.Context, msg Message, reason string) error {
	conn, err := w.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT set_config('app.tenant_id', $1, true)", msg.TenantID); err != nil {
		return err
	}

	const park = `INSERT INTO outbox_dlq
            (tenant_id, event_id, event_type, topic, payload, reason,
             aggregate_type, aggregate_id, schema_subject, partition_key,
             last_attempt_at, next_retry_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10, NOW(), NOW())`

	if _, err := tx.Exec(ctx, park,
		msg.TenantID, msg.EventID, msg.EventType, msg.Topic, msg.Payload, reason,
		msg.AggregateType, msg.AggregateID, msg.SchemaSubject, msg.PartitionKey,
	); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
