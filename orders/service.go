// Package orders owns the order aggregate: checkout from a cart, direct
// orders, cancellation, status progression and the coupling between the
// payment status and the order status.
package orders

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/food-bundles/food-bundles-bn-sub001/apperr"
	"github.com/food-bundles/food-bundles-bn-sub001/events"
	"github.com/food-bundles/food-bundles-bn-sub001/inventory"
	"github.com/food-bundles/food-bundles-bn-sub001/logging"
	"github.com/food-bundles/food-bundles-bn-sub001/models"
	"github.com/food-bundles/food-bundles-bn-sub001/notifications"
	"github.com/food-bundles/food-bundles-bn-sub001/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// maxNumberAttempts bounds retries when two checkouts race for an order number.
const maxNumberAttempts = 3

// WalletRefunder credits a restaurant's wallet inside an open transaction.
type WalletRefunder interface {
	RefundTx(ctx context.Context, tx *gorm.DB, restaurantID uint, amount decimal.Decimal, reference string, metadata map[string]any) error
}

// Actor is the caller of an order operation.
type Actor struct {
	RestaurantID uint
	Admin        bool
}

func (a Actor) owns(o *models.Order) bool {
	return a.Admin || o.RestaurantID == a.RestaurantID
}

type Service struct {
	db       *gorm.DB
	logger   *slog.Logger
	events   events.Publisher
	notifier notifications.Notifier
	wallets  WalletRefunder
	cipher   *utils.CardCipher
	currency string
	now      func() time.Time
}

type Option func(*Service)

func WithEvents(p events.Publisher) Option         { return func(s *Service) { s.events = p } }
func WithNotifier(n notifications.Notifier) Option { return func(s *Service) { s.notifier = n } }
func WithWalletRefunder(w WalletRefunder) Option   { return func(s *Service) { s.wallets = w } }
func WithCardCipher(c *utils.CardCipher) Option    { return func(s *Service) { s.cipher = c } }
func WithCurrency(c string) Option                 { return func(s *Service) { s.currency = c } }
func WithClock(now func() time.Time) Option        { return func(s *Service) { s.now = now } }

func NewService(db *gorm.DB, opts ...Option) *Service {
	s := &Service{
		db:       db,
		logger:   logging.New("order_service"),
		events:   events.Nop{},
		notifier: notifications.Nop{},
		currency: "RWF",
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) DB() *gorm.DB { return s.db }

type CheckoutInput struct {
	RestaurantID      uint
	CartID            uint
	PaymentMethod     models.PaymentMethod
	Billing           models.Billing
	Notes             string
	RequestedDelivery *time.Time
}

type LineInput struct {
	ProductID uint `json:"productId" binding:"required"`
	Quantity  int  `json:"quantity" binding:"required"`
}

type DirectInput struct {
	RestaurantID      uint
	Items             []LineInput
	PaymentMethod     models.PaymentMethod
	Billing           models.Billing
	Notes             string
	RequestedDelivery *time.Time
}

type line struct {
	product  models.Product
	quantity int
}

// Get returns an order with its items if the actor may see it.
func (s *Service) Get(ctx context.Context, orderID uint, actor Actor) (*models.Order, error) {
	order, err := loadOrder(s.db.WithContext(ctx), orderID, true)
	if err != nil {
		return nil, err
	}
	if !actor.owns(order) {
		return nil, apperr.New(apperr.CodeOwnership, "order does not belong to this restaurant")
	}
	return order, nil
}

// CreateFromCart turns the restaurant's cart into a PENDING order, reserving
// stock for every line. A retry for the same cart revision returns the order
// created by the first call with reused set.
func (s *Service) CreateFromCart(ctx context.Context, in CheckoutInput) (*models.Order, bool, error) {
	if !in.PaymentMethod.Valid() {
		return nil, false, apperr.Validation("unsupported payment method %q", in.PaymentMethod)
	}
	log := logging.FromCtx(ctx, s.logger)

	var (
		order  *models.Order
		reused bool
		err    error
	)
	for attempt := 1; attempt <= maxNumberAttempts; attempt++ {
		order, reused, err = s.checkoutOnce(ctx, in)
		if err == nil || !apperr.Is(err, apperr.CodeConflict) {
			break
		}
		// Either a concurrent retry of the same checkout won the unique
		// (cart, revision) index, or the order number collided.
		if existing, findErr := s.findCartOrder(ctx, in.CartID); findErr == nil && existing != nil {
			order, reused, err = existing, true, nil
			break
		}
		log.Warn("order insert conflict, retrying", "cart_id", in.CartID, "attempt", attempt)
	}
	if err != nil {
		return nil, false, err
	}

	if reused {
		log.Info("checkout retried, returning existing order", "order_id", order.ID, "cart_id", in.CartID)
		return order, true, nil
	}
	log.Info("order created from cart", "order_id", order.ID, "order_number", order.OrderNumber, "total", order.TotalAmount.String())
	s.emitCreated(ctx, order)
	return order, false, nil
}

func (s *Service) checkoutOnce(ctx context.Context, in CheckoutInput) (*models.Order, bool, error) {
	var (
		order  *models.Order
		reused bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cart models.Cart
		if err := tx.Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
			First(&cart, in.CartID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("cart %d not found", in.CartID)
			}
			return apperr.FromDB(err, "load cart")
		}
		if cart.RestaurantID != in.RestaurantID {
			return apperr.New(apperr.CodeOwnership, "cart does not belong to this restaurant")
		}
		if cart.Status != models.CartActive {
			return apperr.Validation("cart is not active")
		}

		existing, err := orderForRevision(tx, cart.ID, cart.Revision)
		if err != nil {
			return err
		}
		if existing != nil {
			if err := refreshCheckoutFields(tx, existing, in); err != nil {
				return err
			}
			order, reused = existing, true
			return nil
		}

		if len(cart.Items) == 0 {
			return apperr.Validation("cart is empty")
		}

		lines := make([]line, 0, len(cart.Items))
		for _, item := range cart.Items {
			var p models.Product
			if err := tx.First(&p, item.ProductID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return apperr.NotFound("product %d not found", item.ProductID)
				}
				return apperr.FromDB(err, "load product")
			}
			// The cart keeps the price seen when the item was added.
			p.UnitPrice = item.UnitPrice
			lines = append(lines, line{product: p, quantity: item.Quantity})
		}

		cartID, revision := cart.ID, cart.Revision
		o := &models.Order{
			CartID:            &cartID,
			CartRevision:      &revision,
			RestaurantID:      in.RestaurantID,
			PaymentMethod:     in.PaymentMethod,
			Billing:           in.Billing,
			Notes:             in.Notes,
			RequestedDelivery: in.RequestedDelivery,
		}
		if err := s.insertOrder(ctx, tx, o, lines); err != nil {
			return err
		}

		if err := tx.Unscoped().Where("cart_id = ?", cart.ID).Delete(&models.CartItem{}).Error; err != nil {
			return apperr.FromDB(err, "clear cart")
		}
		if err := tx.Model(&models.Cart{}).Where("id = ?", cart.ID).
			Update("total_amount", decimal.Zero).Error; err != nil {
			return apperr.FromDB(err, "reset cart total")
		}
		order = o
		return nil
	})
	return order, reused, err
}

// CreateDirect places an order without a cart. Every product is validated
// before anything is written.
func (s *Service) CreateDirect(ctx context.Context, in DirectInput) (*models.Order, error) {
	return s.createDirect(ctx, in, nil)
}

func (s *Service) createDirect(ctx context.Context, in DirectInput, decorate func(*models.Order)) (*models.Order, error) {
	if !in.PaymentMethod.Valid() {
		return nil, apperr.Validation("unsupported payment method %q", in.PaymentMethod)
	}
	if len(in.Items) == 0 {
		return nil, apperr.Validation("order must contain at least one item")
	}

	db := s.db.WithContext(ctx)
	if err := requireRestaurant(db, in.RestaurantID); err != nil {
		return nil, err
	}

	merged := map[uint]int{}
	var orderOf []uint
	for _, it := range in.Items {
		if it.Quantity <= 0 {
			return nil, apperr.Validation("quantity for product %d must be greater than zero", it.ProductID)
		}
		if _, seen := merged[it.ProductID]; !seen {
			orderOf = append(orderOf, it.ProductID)
		}
		merged[it.ProductID] += it.Quantity
	}

	lines := make([]line, 0, len(orderOf))
	for _, id := range orderOf {
		var p models.Product
		if err := db.First(&p, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, apperr.NotFound("product %d not found", id)
			}
			return nil, apperr.FromDB(err, "load product")
		}
		if p.Status != models.ProductActive {
			return nil, apperr.Validation("product %q is not available", p.Name)
		}
		if merged[id] > p.Quantity {
			return nil, apperr.Newf(apperr.CodeInsufficientStock, "only %d %s of %q left in stock", p.Quantity, p.Unit, p.Name)
		}
		lines = append(lines, line{product: p, quantity: merged[id]})
	}

	var order *models.Order
	var err error
	for attempt := 1; attempt <= maxNumberAttempts; attempt++ {
		o := &models.Order{
			RestaurantID:      in.RestaurantID,
			PaymentMethod:     in.PaymentMethod,
			Billing:           in.Billing,
			Notes:             in.Notes,
			RequestedDelivery: in.RequestedDelivery,
		}
		if decorate != nil {
			decorate(o)
		}
		err = db.Transaction(func(tx *gorm.DB) error {
			return s.insertOrder(ctx, tx, o, lines)
		})
		if err == nil {
			order = o
			break
		}
		if !apperr.Is(err, apperr.CodeConflict) {
			return nil, err
		}
	}
	if err != nil {
		return nil, err
	}

	logging.FromCtx(ctx, s.logger).Info("direct order created", "order_id", order.ID, "order_number", order.OrderNumber)
	s.emitCreated(ctx, order)
	return order, nil
}

// insertOrder numbers the order, snapshots the lines, reserves stock and
// inserts the rows. Stock moves only through inventory CAS updates.
func (s *Service) insertOrder(ctx context.Context, tx *gorm.DB, o *models.Order, lines []line) error {
	number, err := NextOrderNumber(tx, s.now())
	if err != nil {
		return err
	}
	o.OrderNumber = number
	o.Status = models.OrderPending
	o.PaymentStatus = models.PaymentPending
	if o.Currency == "" {
		o.Currency = s.currency
	}

	total := decimal.Zero
	o.OrderItems = make([]models.OrderItem, 0, len(lines))
	for _, l := range lines {
		if err := inventory.Reserve(ctx, tx, l.product.ID, l.quantity); err != nil {
			return err
		}
		subtotal := l.product.UnitPrice.Mul(decimal.NewFromInt(int64(l.quantity)))
		total = total.Add(subtotal)
		o.OrderItems = append(o.OrderItems, models.OrderItem{
			ProductID: l.product.ID,
			Name:      l.product.Name,
			Unit:      l.product.Unit,
			Category:  l.product.Category,
			UnitPrice: l.product.UnitPrice,
			Quantity:  l.quantity,
			Subtotal:  subtotal,
		})
	}
	o.TotalAmount = total

	if err := tx.Create(o).Error; err != nil {
		return apperr.FromDB(err, "create order")
	}
	return nil
}

// Cancel restores stock for every item and marks the order CANCELLED.
func (s *Service) Cancel(ctx context.Context, orderID uint, actor Actor, reason string) (*models.Order, error) {
	var order *models.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		o, err := loadOrder(tx, orderID, true)
		if err != nil {
			return err
		}
		if !actor.owns(o) {
			return apperr.New(apperr.CodeOwnership, "order does not belong to this restaurant")
		}
		if err := s.CancelTx(ctx, tx, o, reason); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.AfterCancel(ctx, order, reason)
	return order, nil
}

// CancelTx cancels o inside tx. The status update is conditional on o still
// being cancellable, so a concurrent cancel releases stock only once.
func (s *Service) CancelTx(ctx context.Context, tx *gorm.DB, o *models.Order, reason string) error {
	if !Cancellable(o.Status) {
		return apperr.Newf(apperr.CodeInvalidTransition, "cannot cancel order in %s status", o.Status)
	}
	if o.OrderItems == nil {
		if err := tx.Where("order_id = ?", o.ID).Find(&o.OrderItems).Error; err != nil {
			return apperr.FromDB(err, "load order items")
		}
	}

	notes := appendNote(o.Notes, "Cancellation reason: "+strings.TrimSpace(reason))
	res := tx.Model(&models.Order{}).
		Where("id = ? AND status IN ?", o.ID, cancellable).
		Updates(map[string]any{"status": models.OrderCancelled, "notes": notes})
	if res.Error != nil {
		return apperr.FromDB(res.Error, "cancel order")
	}
	if res.RowsAffected == 0 {
		return apperr.Newf(apperr.CodeInvalidTransition, "order %s can no longer be cancelled", o.OrderNumber)
	}

	for _, item := range o.OrderItems {
		if err := inventory.Release(ctx, tx, item.ProductID, item.Quantity); err != nil {
			return err
		}
	}

	if err := s.refundWallet(ctx, tx, o, "cancelled"); err != nil {
		return err
	}

	o.Status = models.OrderCancelled
	o.Notes = notes
	return nil
}

// AfterCancel publishes the cancellation once the transaction committed.
func (s *Service) AfterCancel(ctx context.Context, o *models.Order, reason string) {
	logging.FromCtx(ctx, s.logger).Info("order cancelled", "order_id", o.ID, "reason", reason)
	events.Emit(ctx, s.events, events.New(events.OrderCancelled, o.OrderNumber, map[string]any{
		"order_id": o.ID,
		"reason":   reason,
	}))
	s.notifyOrder(ctx, o, notifications.KindOrderCancelled, map[string]string{"reason": reason})
}

// UpdateStatus moves an order along the status table. CANCELLED goes through
// Cancel so stock is restored.
func (s *Service) UpdateStatus(ctx context.Context, orderID uint, next models.OrderStatus, reason string) (*models.Order, error) {
	if next == models.OrderCancelled {
		if reason == "" {
			reason = "cancelled by administrator"
		}
		return s.Cancel(ctx, orderID, Actor{Admin: true}, reason)
	}

	var order *models.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		o, err := loadOrder(tx, orderID, true)
		if err != nil {
			return err
		}
		if !CanTransition(o.Status, next) {
			return apperr.Newf(apperr.CodeInvalidTransition, "cannot change order status from %s to %s", o.Status, next)
		}
		if requiresPayment[next] && o.PaymentStatus != models.PaymentCompleted {
			return apperr.Newf(apperr.CodeInvalidTransition, "order %s cannot move to %s before payment is completed", o.OrderNumber, next)
		}

		updates := map[string]any{"status": next}
		if next == models.OrderDelivered && o.ActualDelivery == nil {
			now := s.now()
			updates["actual_delivery"] = now
			o.ActualDelivery = &now
		}
		res := tx.Model(&models.Order{}).Where("id = ? AND status = ?", o.ID, o.Status).Updates(updates)
		if res.Error != nil {
			return apperr.FromDB(res.Error, "update order status")
		}
		if res.RowsAffected == 0 {
			return apperr.New(apperr.CodeConflict, "order was modified concurrently, please retry")
		}
		if next == models.OrderRefunded {
			if err := s.refundWallet(ctx, tx, o, "refunded"); err != nil {
				return err
			}
		}
		o.Status = next
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.FromCtx(ctx, s.logger).Info("order status updated", "order_id", order.ID, "status", next)
	events.Emit(ctx, s.events, events.New(events.OrderStatusChanged, order.OrderNumber, map[string]any{
		"order_id": order.ID,
		"status":   next,
	}))
	s.notifyOrder(ctx, order, notifications.KindOrderStatusProgress, map[string]string{"status": string(next)})
	return order, nil
}

// Delete removes a CANCELLED order and its items for good.
func (s *Service) Delete(ctx context.Context, orderID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		o, err := loadOrder(tx, orderID, false)
		if err != nil {
			return err
		}
		if o.Status != models.OrderCancelled {
			return apperr.Newf(apperr.CodeInvalidTransition, "only cancelled orders can be deleted, order is %s", o.Status)
		}
		if err := tx.Unscoped().Where("order_id = ?", o.ID).Delete(&models.OrderItem{}).Error; err != nil {
			return apperr.FromDB(err, "delete order items")
		}
		res := tx.Unscoped().Where("status = ?", models.OrderCancelled).Delete(&models.Order{}, o.ID)
		if res.Error != nil {
			return apperr.FromDB(res.Error, "delete order")
		}
		if res.RowsAffected == 0 {
			return apperr.NotFound("order %d not found", orderID)
		}
		return nil
	})
}

// refundWallet returns a settled wallet payment to the restaurant's wallet.
// Other methods are refunded by the provider outside this service.
func (s *Service) refundWallet(ctx context.Context, tx *gorm.DB, o *models.Order, why string) error {
	if o.PaymentMethod != models.MethodCash || o.PaymentStatus != models.PaymentCompleted {
		return nil
	}
	if s.wallets == nil {
		logging.FromCtx(ctx, s.logger).Warn("no wallet refunder configured, paid wallet order not refunded", "order_id", o.ID)
		return nil
	}
	return s.wallets.RefundTx(ctx, tx, o.RestaurantID, o.TotalAmount, "REF_"+o.OrderNumber, map[string]any{
		"orderId":     o.ID,
		"orderNumber": o.OrderNumber,
		"reason":      why,
	})
}

func (s *Service) findCartOrder(ctx context.Context, cartID uint) (*models.Order, error) {
	var cart models.Cart
	if err := s.db.WithContext(ctx).Select("id", "revision").First(&cart, cartID).Error; err != nil {
		return nil, apperr.FromDB(err, "load cart")
	}
	return orderForRevision(s.db.WithContext(ctx), cart.ID, cart.Revision)
}

func (s *Service) emitCreated(ctx context.Context, o *models.Order) {
	events.Emit(ctx, s.events, events.New(events.OrderCreated, o.OrderNumber, map[string]any{
		"order_id":      o.ID,
		"restaurant_id": o.RestaurantID,
		"total":         o.TotalAmount.String(),
		"items":         len(o.OrderItems),
	}))
}

func (s *Service) notifyOrder(ctx context.Context, o *models.Order, kind notifications.Kind, data map[string]string) {
	var r models.Restaurant
	if err := s.db.WithContext(ctx).First(&r, o.RestaurantID).Error; err != nil {
		logging.FromCtx(ctx, s.logger).Warn("notification skipped, restaurant not loaded", "order_id", o.ID, "err", err)
		return
	}
	if data == nil {
		data = map[string]string{}
	}
	data["orderNumber"] = o.OrderNumber
	data["amount"] = o.TotalAmount.StringFixed(0)
	notifications.NotifyRestaurant(ctx, s.notifier, &r, kind, data)
}

func orderForRevision(tx *gorm.DB, cartID uint, revision int) (*models.Order, error) {
	var o models.Order
	err := tx.Preload("OrderItems").
		Where("cart_id = ? AND cart_revision = ?", cartID, revision).
		First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.FromDB(err, "load cart order")
	}
	return &o, nil
}

// refreshCheckoutFields applies a retried checkout's billing details while the order is still unpaid.
func refreshCheckoutFields(tx *gorm.DB, o *models.Order, in CheckoutInput) error {
	if o.Status != models.OrderPending || o.PaymentStatus != models.PaymentPending {
		return nil
	}
	updates := map[string]any{
		"payment_method":  in.PaymentMethod,
		"billing_name":    in.Billing.BillingName,
		"billing_email":   in.Billing.BillingEmail,
		"billing_phone":   in.Billing.BillingPhone,
		"billing_address": in.Billing.BillingAddress,
	}
	if in.Notes != "" {
		updates["notes"] = in.Notes
		o.Notes = in.Notes
	}
	if in.RequestedDelivery != nil {
		updates["requested_delivery"] = in.RequestedDelivery
		o.RequestedDelivery = in.RequestedDelivery
	}
	if err := tx.Model(&models.Order{}).Where("id = ? AND payment_status = ?", o.ID, models.PaymentPending).
		Updates(updates).Error; err != nil {
		return apperr.FromDB(err, "update order")
	}
	o.PaymentMethod = in.PaymentMethod
	o.Billing = in.Billing
	return nil
}

func loadOrder(tx *gorm.DB, orderID uint, withItems bool) (*models.Order, error) {
	q := tx
	if withItems {
		q = q.Preload("OrderItems", func(db *gorm.DB) *gorm.DB { return db.Order("id") })
	}
	var o models.Order
	if err := q.First(&o, orderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("order %d not found", orderID)
		}
		return nil, apperr.FromDB(err, "load order")
	}
	return &o, nil
}

func requireRestaurant(db *gorm.DB, restaurantID uint) error {
	var count int64
	if err := db.Model(&models.Restaurant{}).Where("id = ?", restaurantID).Count(&count).Error; err != nil {
		return apperr.FromDB(err, "load restaurant")
	}
	if count == 0 {
		return apperr.NotFound("restaurant %d not found", restaurantID)
	}
	return nil
}

func appendNote(notes, note string) string {
	if notes == "" {
		return note
	}
	return notes + "\n" + note
}
