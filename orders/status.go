package orders

import "github.com/food-bundles/food-bundles-bn-sub001/models"

var statusTransitions = map[models.OrderStatus][]models.OrderStatus{
	models.OrderPending:   {models.OrderConfirmed, models.OrderCancelled},
	models.OrderConfirmed: {models.OrderPreparing, models.OrderCancelled},
	models.OrderPreparing: {models.OrderReady, models.OrderCancelled},
	models.OrderReady:     {models.OrderInTransit, models.OrderDelivered, models.OrderCancelled},
	models.OrderInTransit: {models.OrderDelivered, models.OrderCancelled},
	models.OrderDelivered: {models.OrderRefunded},
	models.OrderCancelled: nil,
	models.OrderRefunded:  nil,
}

var paymentTransitions = map[models.PaymentStatus][]models.PaymentStatus{
	models.PaymentPending:    {models.PaymentProcessing},
	models.PaymentProcessing: {models.PaymentProcessing, models.PaymentCompleted, models.PaymentFailed},
	models.PaymentCompleted:  nil,
	models.PaymentFailed:     nil,
}

// Statuses from which an order may still be cancelled.
var cancellable = []models.OrderStatus{
	models.OrderPending,
	models.OrderConfirmed,
	models.OrderPreparing,
	models.OrderReady,
	models.OrderInTransit,
}

// Delivery progression needs a settled payment.
var requiresPayment = map[models.OrderStatus]bool{
	models.OrderPreparing: true,
	models.OrderReady:     true,
	models.OrderInTransit: true,
	models.OrderDelivered: true,
}

func CanTransition(from, to models.OrderStatus) bool {
	return contains(statusTransitions[from], to)
}

func CanTransitionPayment(from, to models.PaymentStatus) bool {
	return contains(paymentTransitions[from], to)
}

func Cancellable(s models.OrderStatus) bool {
	return contains(cancellable, s)
}

// PaymentOpen reports whether a payment can still be (re)attempted.
func PaymentOpen(o *models.Order) bool {
	return o.Status == models.OrderPending &&
		(o.PaymentStatus == models.PaymentPending || o.PaymentStatus == models.PaymentProcessing)
}

// AllStatuses lists every order status, in lifecycle order.
func AllStatuses() []models.OrderStatus {
	return []models.OrderStatus{
		models.OrderPending,
		models.OrderConfirmed,
		models.OrderPreparing,
		models.OrderReady,
		models.OrderInTransit,
		models.OrderDelivered,
		models.OrderCancelled,
		models.OrderRefunded,
	}
}

func ParseStatus(s string) (models.OrderStatus, bool) {
	for _, st := range AllStatuses() {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

func contains[T comparable](set []T, v T) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
