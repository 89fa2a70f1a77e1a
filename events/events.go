// Package events publishes domain events about orders, payments and wallets.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/food-bundles/food-bundles-bn-sub001/logging"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

const (
	OrderCreated        = "order.created"
	OrderConfirmed      = "order.confirmed"
	OrderStatusChanged  = "order.status_changed"
	OrderCancelled      = "order.cancelled"
	PaymentCompleted    = "payment.completed"
	PaymentFailed       = "payment.failed"
	WalletCredited      = "wallet.credited"
	WalletDebited       = "wallet.debited"
	SubscriptionStarted = "subscription.activated"
)

type Event struct {
	EventID   string         `json:"event_id"`
	Type      string         `json:"type"`
	Key       string         `json:"key"`
	CreatedAt time.Time      `json:"created_at"`
	Payload   map[string]any `json:"payload"`
}

func New(eventType, key string, payload map[string]any) Event {
	return Event{
		EventID:   uuid.NewString(),
		Type:      eventType,
		Key:       key,
		CreatedAt: time.Now().UTC(),
		Payload:   payload,
	}
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop drops every event. Used when no brokers are configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

type KafkaPublisher struct {
	writer *kafka.Writer
}

// emitTimeout bounds how long Emit waits on a publisher.
var emitTimeout = 2 * time.Second

// ParseBrokers splits a comma separated broker list, ignoring blanks.
func ParseBrokers(csv string) []string {
	brokers := []string{}
	for _, b := range strings.Split(csv, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// NewPublisher returns a kafka publisher, or Nop when brokers is empty.
func NewPublisher(brokersCSV, topic string) Publisher {
	brokers := ParseBrokers(brokersCSV)
	if len(brokers) == 0 || topic == "" {
		return Nop{}
	}
	log := logging.New("events")
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				log.Warn("event batch not delivered", slog.Int("messages", len(messages)), slog.Any("err", err))
			}
		},
	}}
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(e.Key), Value: data, Time: e.CreatedAt})
}

func (p *KafkaPublisher) Close() error { return p.writer.Close() }

// Emit publishes without failing the caller; errors are logged. It runs
// after the caller's commit, so it ignores the caller's cancellation and
// gives up after emitTimeout.
func Emit(ctx context.Context, p Publisher, e Event) {
	if p == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), emitTimeout)
	defer cancel()
	if err := p.Publish(pubCtx, e); err != nil {
		logging.FromCtx(ctx, nil).Warn("event publish failed", slog.String("type", e.Type), slog.String("key", e.Key), slog.Any("err", err))
	}
}

// Recorder keeps published events in memory, for tests.
type Recorder struct {
	mu     sync.Mutex
	Events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, e)
	return nil
}

func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.Events))
	for _, e := range r.Events {
		out = append(out, e.Type)
	}
	return out
}
