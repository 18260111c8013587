//go:build integration

package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
)

func TestDispatcherPublishesEmissionEvents(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	tenantID := uuid.NewString()
	require.NotZero(t, seedOutbox(t, ctx, pool, tenantID, uuid.NewString(), "activity.recorded"))

	producer := &stubProducer{}
	registry := &stubRegistry{id: 42}
	dispatcher := NewDispatcher(pool, producer, registry, 10*time.Millisecond, 5)

	beforeDelivered := testutil.ToFloat64(deliveredCounter)

	require.NoError(t, dispatcher.processBatch(ctx))

	require.Len(t, producer.writes, 1)
	require.Equal(t, "emission_events", producer.writes[0].topic)
	require.Len(t, producer.writes[0].messages, 1)

	// Confluent framing: magic byte + schema id.
	value := producer.writes[0].messages[0].Value
	require.GreaterOrEqual(t, len(value), 5)
	require.Equal(t, byte(0), value[0])

	require.InDelta(t, beforeDelivered+1, testutil.ToFloat64(deliveredCounter), 0.0001)

	var published int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE published_at IS NOT NULL`).Scan(&published))
	require.Equal(t, 1, published)
}

func TestDispatcherRoutesFailuresToDLQ(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	tenantID := uuid.NewString()
	require.NotZero(t, seedOutbox(t, ctx, pool, tenantID, uuid.NewString(), "activity.recorded"))

	producer := &stubProducer{err: errors.New("kafka write failed")}
	registry := &stubRegistry{id: 7}
	dispatcher := NewDispatcher(pool, producer, registry, 10*time.Millisecond, 5)

	require.NoError(t, dispatcher.processBatch(ctx))

	var dlqCount int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_dlq WHERE tenant_id = $1`, tenantID).Scan(&dlqCount))
	require.Equal(t, 1, dlqCount)

	// Failed events are still marked published so the queue drains.
	var published int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE published_at IS NOT NULL`).Scan(&published))
	require.Equal(t, 1, published)
}

func TestDLQManagerRequeuesAndQuarantines(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	tenantID := uuid.NewString()
	eventID := seedOutbox(t, ctx, pool, tenantID, uuid.NewString(), "activity.recorded")

	writer := NewDLQWriter(pool)
	require.NoError(t, writer.Write(ctx, Message{
		EventID:       eventID,
		TenantID:      tenantID,
		AggregateType: "activity",
		AggregateID:   uuid.NewString(),
		EventType:     "activity.recorded",
		Topic:         "emission_events",
		SchemaSubject: "emission_events-value",
		PartitionKey:  "k",
		Payload:       json.RawMessage(`{}`),
	}, "broker down"))

	manager := NewDLQManager(pool, 3, time.Second)
	processed, err := manager.RunOnce(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, processed)

	var dlqRemaining int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_dlq`).Scan(&dlqRemaining))
	require.Zero(t, dlqRemaining)

	var unpublished int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE published_at IS NULL`).Scan(&unpublished))
	require.Equal(t, 2, unpublished, "original seed plus requeued entry")
}

type stubProducer struct {
	mu     sync.Mutex
	err    error
	writes []writtenBatch
}

type writtenBatch struct {
	topic    string
	messages []kafka.Message
}

func (s *stubProducer) WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}

	copied := make([]kafka.Message, len(msgs))
	copy(copied, msgs)
	s.writes = append(s.writes, writtenBatch{topic: topic, messages: copied})
	return nil
}

type stubRegistry struct {
	mu    sync.Mutex
	id    int
	calls int
}

func (s *stubRegistry) EnsureSchema(ctx context.Context, subject string, schema string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.id == 0 {
		s.id = 1
	}
	return s.id, nil
}

func setupPostgres(t *testing.T, ctx context.Context) (*pgxpool.Pool, func()) {
	t.Helper()

	pg, err := postgrescontainer.RunContainer(ctx,
		postgrescontainer.WithDatabase("footprint"),
		postgrescontainer.WithUsername("carbon"),
		postgrescontainer.WithPassword("carbon"),
	)
	require.NoError(t, err)

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	var pool *pgxpool.Pool
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err = pgxpool.New(ctx, connStr)
		if err == nil && pool.Ping(ctx) == nil {
			break
		}
		if pool != nil {
			pool.Close()
		}
		require.False(t, time.Now().After(deadline), "database did not become ready")
		time.Sleep(time.Second)
	}

	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	migration := filepath.Join(filepath.Dir(file), "../../db/postgres/migrations/0001_init.up.sql")
	contents, err := os.ReadFile(migration)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, string(contents))
	require.NoError(t, err)

	return pool, func() {
		pool.Close()
		_ = pg.Terminate(ctx)
	}
}

func seedOutbox(t *testing.T, ctx context.Context, pool *pgxpool.Pool, tenantID, aggregateID, eventType string) int64 {
	t.Helper()

	meta := map[string]struct{ topic, subject string }{
		"activity.recorded":      {"emission_events", "emission_events-value"},
		"activity.state_changed": {"activity_state_changed", "activity_state_changed-value"},
	}[eventType]

	var eventID int64
	err := pool.QueryRow(ctx,
		`INSERT INTO outbox (tenant_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload)
         VALUES ($1,'activity',$2,$3,$4,$5,$6,'{}'::jsonb) RETURNING event_id`,
		tenantID, aggregateID, eventType, meta.topic, meta.subject, tenantID+":"+aggregateID,
	).Scan(&eventID)
	require.NoError(t, err)
	return eventID
}
