// Package journal appends decision records to a Kafka topic so downstream
// consumers can audit or replay what the coordinator decided.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/alanyoungcy/chainbot/internal/domain"
)

const writeTimeout = 5 * time.Second

// MessageWriter is the subset of kafka.Writer the journal uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Journal is a domain.Recorder writing one message per decision, keyed by
// symbol so a symbol's decisions stay ordered within a partition.
type Journal struct {
	w     MessageWriter
	topic string
}

// NewKafkaJournal creates a Journal with a kafka-go writer for topic.
func NewKafkaJournal(brokers []string, topic string) *Journal {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           200 * time.Millisecond,
		WriteTimeout:           writeTimeout,
	}
	return New(w, topic)
}

// New wraps an existing writer.
func New(w MessageWriter, topic string) *Journal {
	return &Journal{w: w, topic: topic}
}

// Name implements domain.Recorder.
func (j *Journal) Name() string { return "kafka" }

// Record implements domain.Recorder.
func (j *Journal) Record(ctx context.Context, rec domain.DecisionRecord) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("journal: marshal %s: %w", rec.ID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(rec.Symbol),
		Value: value,
		Time:  rec.Timestamp,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(rec.Kind)},
		},
	}
	if err := j.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("journal: write %s to %s: %w: %w", rec.ID, j.topic, domain.ErrConnection, err)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (j *Journal) Close() error {
	return j.w.Close()
}

var _ domain.Recorder = (*Journal)(nil)
