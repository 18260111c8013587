// Package consumer pulls emission events from Kafka and folds them into user
// statistics.
package consumer

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

// wireHeaderLen is the Confluent frame prefix: one magic byte followed by a
// big-endian uint32 schema ID.
const wireHeaderLen = 5

// Reader exposes the minimal kafka.Reader interface needed by the processor.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Handler receives decoded messages from Kafka.
type Handler interface {
	Handle(context.Context, Message) error
}

// Message is the decoded representation of a Kafka record emitted by the
// outbox dispatcher.
type Message struct {
	Topic         string
	Partition     int
	Offset        int64
	Timestamp     time.Time
	EventType     string
	TenantID      string
	SchemaSubject string
	SchemaID      int
	Payload       json.RawMessage
}

// Option configures optional behaviour for the Processor.
type Option func(*Processor)

// WithLogger overrides the logger used to report errors.
func WithLogger(logger *log.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// Processor drives the fetch/decode/handle/commit cycle for one reader.
//
// Commit policy: records that fail to decode are committed, because a frame
// that cannot be parsed will never succeed and retrying it wedges the
// partition. Handler failures are NOT committed; the next fetch redelivers,
// and the activity's pending-state guard keeps redelivery idempotent.
type Processor struct {
	reader  Reader
	handler Handler
	logger  *log.Logger
}

// NewProcessor constructs a Processor with the provided reader and handler.
func NewProcessor(reader Reader, handler Handler, opts ...Option) *Processor {
	p := &Processor{
		reader:  reader,
		handler: handler,
		logger:  log.New(log.Writer(), "[statsworker] ", log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run blocks, processing messages until the context is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := p.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			p.logger.Printf("fetch error: %v", err)
			continue
		}

		p.process(ctx, msg)
	}
}

func (p *Processor) process(ctx context.Context, msg kafka.Message) {
	event, err := decodeRecord(msg)
	if err != nil {
		p.logger.Printf("decode error (topic=%s, partition=%d, offset=%d): %v", msg.Topic, msg.Partition, msg.Offset, err)
		recordDecodeError(msg.Topic)
		p.commit(ctx, msg)
		return
	}

	if err := p.handler.Handle(ctx, event); err != nil {
		p.logger.Printf("handler error (event_type=%s, tenant=%s): %v", event.EventType, event.TenantID, err)
		recordHandlerError(event)
		return
	}

	if p.commit(ctx, msg) {
		recordProcessed(event)
	}
}

func (p *Processor) commit(ctx context.Context, msg kafka.Message) bool {
	if err := p.reader.CommitMessages(ctx, msg); err != nil {
		p.logger.Printf("commit error (topic=%s, offset=%d): %v", msg.Topic, msg.Offset, err)
		return false
	}
	return true
}

// decodeRecord strips the Confluent frame and lifts the routing headers the
// dispatcher attaches to every record.
func decodeRecord(msg kafka.Message) (Message, error) {
	if len(msg.Value) < wireHeaderLen {
		return Message{}, fmt.Errorf("frame too short: %d bytes", len(msg.Value))
	}
	if msg.Value[0] != 0 {
		return Message{}, fmt.Errorf("unexpected magic byte 0x%02x", msg.Value[0])
	}

	eventType, ok := lookupHeader(msg, "event_type")
	if !ok {
		return Message{}, errors.New("missing event_type header")
	}
	tenantID, _ := lookupHeader(msg, "tenant_id")
	schemaSubject, _ := lookupHeader(msg, "schema_subject")

	return Message{
		Topic:         msg.Topic,
		Partition:     msg.Partition,
		Offset:        msg.Offset,
		Timestamp:     msg.Time,
		EventType:     string(eventType),
		TenantID:      string(tenantID),
		SchemaSubject: string(schemaSubject),
		SchemaID:      int(binary.BigEndian.Uint32(msg.Value[1:wireHeaderLen])),
		Payload:       json.RawMessage(append([]byte(nil), msg.Value[wireHeaderLen:]...)),
	}, nil
}

func lookupHeader(msg kafka.Message, key string) ([]byte, bool) {
	for _, header := range msg.Headers {
		if header.Key == key {
			return header.Value, true
		}
	}
	return nil, false
}
