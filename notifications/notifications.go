// Package notifications delivers fire-and-forget SMS and email messages to
// restaurants. Failures are logged and never reach the caller.
package notifications

import (
	"context"
	"log/slog"
	"time"

	"github.com/food-bundles/food-bundles-bn-sub001/logging"
	"github.com/food-bundles/food-bundles-bn-sub001/models"
)

type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

type Kind string

const (
	KindOrderConfirmed      Kind = "order_confirmed"
	KindOrderCancelled      Kind = "order_cancelled"
	KindPaymentPending      Kind = "payment_pending"
	KindPaymentFailed       Kind = "payment_failed"
	KindWalletCredited      Kind = "wallet_credited"
	KindTopUpFailed         Kind = "wallet_topup_failed"
	KindSubscriptionActive  Kind = "subscription_active"
	KindSubscriptionFailed  Kind = "subscription_failed"
	KindSubscriptionExpired Kind = "subscription_expired"
	KindOrderStatusProgress Kind = "order_status_changed"
)

type Message struct {
	Channel   Channel           `json:"channel"`
	Recipient string            `json:"recipient"`
	Kind      Kind              `json:"kind"`
	Data      map[string]string `json:"data"`
}

// Notifier accepts a message for delivery. It never blocks on the transport
// and never returns an error.
type Notifier interface {
	Notify(ctx context.Context, msg Message)
}

// Sender delivers one message on one channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// NotifyRestaurant sends the same kind on every channel the restaurant has a contact for.
func NotifyRestaurant(ctx context.Context, n Notifier, r *models.Restaurant, kind Kind, data map[string]string) {
	if n == nil || r == nil {
		return
	}
	if data == nil {
		data = map[string]string{}
	}
	if _, ok := data["name"]; !ok {
		data["name"] = r.Name
	}
	if r.Phone != "" {
		n.Notify(ctx, Message{Channel: ChannelSMS, Recipient: r.Phone, Kind: kind, Data: data})
	}
	if r.Email != "" {
		n.Notify(ctx, Message{Channel: ChannelEmail, Recipient: r.Email, Kind: kind, Data: data})
	}
}

// Router delivers messages to the sender registered for their channel.
type Router struct {
	senders map[Channel]Sender
	logger  *slog.Logger
}

func NewRouter(senders map[Channel]Sender) *Router {
	return &Router{senders: senders, logger: logging.New("notifications")}
}

// Deliver sends synchronously and reports the error. Used by the queue consumer.
func (r *Router) Deliver(ctx context.Context, msg Message) error {
	s, ok := r.senders[msg.Channel]
	if !ok {
		r.logger.Warn("no sender for channel", "channel", msg.Channel, "kind", msg.Kind)
		return nil
	}
	return s.Send(ctx, msg)
}

// Notify delivers in the background with its own deadline, detached from the request.
func (r *Router) Notify(ctx context.Context, msg Message) {
	log := logging.FromCtx(ctx, r.logger)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := r.Deliver(ctx, msg); err != nil {
			log.Warn("notification failed", "channel", msg.Channel, "kind", msg.Kind, "err", err)
		}
	}()
}

type Nop struct{}

func (Nop) Notify(context.Context, Message) {}
