// Package kafka forwards committed ledger events to a Kafka topic for
// downstream indexers.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/kimpers/betchya/internal/domain"
)

// DefaultTopic receives every ledger event.
const DefaultTopic = "betchya.events"

// MessageWriter is the subset of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config configures NewWriter.
type Config struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
	WriteTimeout time.Duration
}

// NewWriter builds a kafka.Writer that waits for all in-sync replicas.
func NewWriter(cfg Config) *kafka.Writer {
	topic := cfg.Topic
	if topic == "" {
		topic = DefaultTopic
	}
	batch := cfg.BatchTimeout
	if batch <= 0 {
		batch = 10 * time.Millisecond
	}
	write := cfg.WriteTimeout
	if write <= 0 {
		write = 10 * time.Second
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           batch,
		WriteTimeout:           write,
	}
}

// Publisher implements domain.EventPublisher. Messages are keyed by bet
// index so every event for one bet lands on the same partition in order.
type Publisher struct {
	w MessageWriter
}

func NewPublisher(w MessageWriter) *Publisher {
	return &Publisher{w: w}
}

// Publish writes evt as JSON with headers carrying its kind and seq.
func (p *Publisher) Publish(ctx context.Context, evt domain.Event) error {
	value, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("kafka: marshal %s event: %w", evt.Kind, err)
	}
	msg := kafka.Message{
		Key:   []byte(messageKey(evt)),
		Value: value,
		Time:  evt.Time,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(evt.Kind)},
			{Key: "seq", Value: []byte(strconv.FormatUint(evt.Seq, 10))},
		},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: publish %s seq %d: %w", evt.Kind, evt.Seq, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.w.Close()
}

// messageKey groups bet events per bet and everything else under its kind.
func messageKey(evt domain.Event) string {
	switch evt.Kind {
	case domain.EventBreakerChanged, domain.EventFunded:
		return strings.ToLower(string(evt.Kind))
	}
	return "bet-" + strconv.FormatUint(evt.BetIndex, 10)
}

var _ domain.EventPublisher = (*Publisher)(nil)
