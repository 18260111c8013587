package outbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaProducer writes emission events, keeping one writer per topic. Writers
// hash the partition key, so every event for a given tenant/user pair lands
// on the same partition and the stats worker observes them in order.
type KafkaProducer struct {
	brokers []string

	mu      sync.RWMutex
	writers map[string]*kafka.Writer
}

// NewKafkaProducer creates a KafkaProducer for the given broker list.
func NewKafkaProducer(brokers []string) *KafkaProducer {
	return &KafkaProducer{
		brokers: brokers,
		writers: make(map[string]*kafka.Writer),
	}
}

// WriteMessages delivers messages to the topic, creating its writer on first use.
func (p *KafkaProducer) WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error {
	return p.writer(topic).WriteMessages(ctx, msgs...)
}

func (p *KafkaProducer) writer(topic string) *kafka.Writer {
	p.mu.RLock()
	writer, ok := p.writers[topic]
	p.mu.RUnlock()
	if ok {
		return writer
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if writer, ok := p.writers[topic]; ok {
		return writer
	}

	// Synchronous, acks=all: the dispatcher only marks outbox rows published
	// after WriteMessages returns, so a lost ack must surface as an error.
	writer = &kafka.Writer{
		Addr:         kafka.TCP(p.brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Snappy,
		BatchTimeout: 50 * time.Millisecond,
		Async:        false,
	}
	p.writers[topic] = writer
	return writer
}

// Close flushes and releases every topic writer.
func (p *KafkaProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for topic, writer := range p.writers {
		if err := writer.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(p.writers, topic)
	}
	return errors.Join(errs...)
}
