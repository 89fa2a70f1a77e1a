package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/food-bundles/food-bundles-bn-sub001/logging"
	amqp "github.com/rabbitmq/amqp091-go"
)

const routingKey = "notification.send"

// RabbitPublisher queues messages for the Consumer.
type RabbitPublisher struct {
	ch       *amqp.Channel
	exchange string
	logger   *slog.Logger
}

// DeclareTopology sets up the exchange, queue and binding once at startup.
func DeclareTopology(ch *amqp.Channel, exchange, queue string) error {
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	q, err := ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, routingKey, exchange, false, nil); err != nil {
		return fmt.Errorf("queue bind: %w", err)
	}
	return nil
}

func NewRabbitPublisher(ch *amqp.Channel, exchange string) *RabbitPublisher {
	return &RabbitPublisher{ch: ch, exchange: exchange, logger: logging.New("notifications")}
}

func (p *RabbitPublisher) Notify(ctx context.Context, msg Message) {
	log := logging.FromCtx(ctx, p.logger)
	body, err := json.Marshal(msg)
	if err != nil {
		log.Warn("marshal notification", "err", err)
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	err = p.ch.PublishWithContext(pubCtx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		log.Warn("publish notification", "channel", msg.Channel, "kind", msg.Kind, "err", err)
	}
}

// Consumer drains the notification queue into a Router.
type Consumer struct {
	ch          *amqp.Channel
	queue       string
	router      *Router
	prefetch    int
	callTimeout time.Duration
	logger      *slog.Logger
}

func NewConsumer(ch *amqp.Channel, queue string, router *Router) *Consumer {
	return &Consumer{
		ch:          ch,
		queue:       queue,
		router:      router,
		prefetch:    20,
		callTimeout: 15 * time.Second,
		logger:      logging.New("notification_consumer"),
	}
}

// Start begins consuming in a goroutine. Delivery failures are dropped after
// logging; notifications are best effort.
func (c *Consumer) Start() error {
	if err := c.ch.Qos(c.prefetch, 0, false); err != nil {
		return err
	}
	msgs, err := c.ch.Consume(c.queue, "c_"+c.queue, false, false, false, false, nil)
	if err != nil {
		return err
	}

	go func() {
		for d := range msgs {
			c.handle(d)
		}
		c.logger.Info("consumer stopped", "queue", c.queue)
	}()
	return nil
}

func (c *Consumer) handle(d amqp.Delivery) {
	var msg Message
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		c.logger.Warn("bad notification message", "err", err)
		_ = d.Nack(false, false)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.callTimeout)
	err := c.router.Deliver(ctx, msg)
	cancel()
	if err != nil {
		c.logger.Warn("notification delivery failed", "channel", msg.Channel, "kind", msg.Kind, "err", err)
	}
	_ = d.Ack(false)
}
