package orders

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/food-bundles/food-bundles-bn-sub001/apperr"
	"github.com/food-bundles/food-bundles-bn-sub001/events"
	"github.com/food-bundles/food-bundles-bn-sub001/logging"
	"github.com/food-bundles/food-bundles-bn-sub001/models"
	"github.com/food-bundles/food-bundles-bn-sub001/notifications"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PaymentUpdate is a payment status change plus the provider correlation fields that came with it.
type PaymentUpdate struct {
	Status                models.PaymentStatus
	Provider              string
	ProviderReference     string
	ProviderTransactionID string
	ProviderStatus        string
	Message               string
	Details               any
}

// Effect is what a payment update did to the order.
type Effect string

const (
	EffectNone      Effect = "none"
	EffectConfirmed Effect = "confirmed"
	EffectCancelled Effect = "cancelled"
	// EffectLate marks a payment that completed after the order left PENDING.
	EffectLate Effect = "late"
)

// PaymentTransition is the result of ApplyPayment.
type PaymentTransition struct {
	Order   *models.Order
	From    models.PaymentStatus
	To      models.PaymentStatus
	Effect  Effect
	Applied bool
	Reason  string
}

type couplingRule func(s *Service, ctx context.Context, tx *gorm.DB, o *models.Order, u PaymentUpdate) (Effect, error)

// couplingRules is the single place where a payment status change drives the order status.
var couplingRules = map[models.PaymentStatus]couplingRule{
	models.PaymentCompleted: confirmOnPayment,
	models.PaymentFailed:    cancelOnFailure,
}

func confirmOnPayment(s *Service, ctx context.Context, tx *gorm.DB, o *models.Order, _ PaymentUpdate) (Effect, error) {
	if o.Status == models.OrderCancelled {
		// The order was cancelled while the charge was in flight; money
		// taken from the wallet goes straight back.
		if err := s.refundWallet(ctx, tx, o, "paid after cancellation"); err != nil {
			return EffectNone, err
		}
		return EffectLate, nil
	}
	if o.Status != models.OrderPending {
		return EffectLate, nil
	}
	res := tx.Model(&models.Order{}).
		Where("id = ? AND status = ?", o.ID, models.OrderPending).
		Update("status", models.OrderConfirmed)
	if res.Error != nil {
		return EffectNone, apperr.FromDB(res.Error, "confirm order")
	}
	if res.RowsAffected == 0 {
		return EffectLate, nil
	}
	o.Status = models.OrderConfirmed
	return EffectConfirmed, nil
}

func cancelOnFailure(s *Service, ctx context.Context, tx *gorm.DB, o *models.Order, u PaymentUpdate) (Effect, error) {
	if !Cancellable(o.Status) {
		return EffectNone, nil
	}
	reason := "payment failed"
	if u.Message != "" {
		reason += ": " + u.Message
	}
	if err := s.CancelTx(ctx, tx, o, reason); err != nil {
		if apperr.Is(err, apperr.CodeInvalidTransition) {
			return EffectNone, nil
		}
		return EffectNone, err
	}
	return EffectCancelled, nil
}

// ApplyPayment moves the order's payment status inside tx, stores the
// provider fields and applies the coupling rule for the new status. A repeat
// of an already applied terminal status is a no-op with Applied false.
func (s *Service) ApplyPayment(ctx context.Context, tx *gorm.DB, orderID uint, u PaymentUpdate) (*PaymentTransition, error) {
	o, err := loadOrder(tx, orderID, true)
	if err != nil {
		return nil, err
	}
	tr := &PaymentTransition{Order: o, From: o.PaymentStatus, To: u.Status, Effect: EffectNone, Reason: u.Message}

	if o.PaymentStatus == u.Status && u.Status != models.PaymentProcessing {
		return tr, nil
	}
	// The webhook settled the charge before the dispatch result was written.
	if u.Status == models.PaymentProcessing && settled(o.PaymentStatus) {
		return tr, nil
	}
	// A settlement reported before the PROCESSING write landed walks through PROCESSING.
	viaProcessing := o.PaymentStatus == models.PaymentPending && CanTransitionPayment(models.PaymentProcessing, u.Status)
	if !CanTransitionPayment(o.PaymentStatus, u.Status) && !viaProcessing {
		return nil, apperr.Newf(apperr.CodeInvalidTransition, "cannot change payment status from %s to %s", o.PaymentStatus, u.Status)
	}

	updates := map[string]any{"payment_status": u.Status}
	setIf(updates, "payment_provider", u.Provider)
	setIf(updates, "provider_reference", u.ProviderReference)
	setIf(updates, "provider_transaction_id", u.ProviderTransactionID)
	setIf(updates, "provider_status", u.ProviderStatus)
	setIf(updates, "provider_message", u.Message)
	if u.Details != nil {
		raw, err := json.Marshal(u.Details)
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeInternal, err, "encode payment details")
		}
		updates["payment_details"] = datatypes.JSON(raw)
		o.PaymentDetails = raw
	}

	res := tx.Model(&models.Order{}).
		Where("id = ? AND payment_status = ?", o.ID, o.PaymentStatus).
		Updates(updates)
	if res.Error != nil {
		return nil, apperr.FromDB(res.Error, "update payment status")
	}
	if res.RowsAffected == 0 {
		var current models.Order
		if err := tx.Select("id", "payment_status").First(&current, o.ID).Error; err != nil {
			return nil, apperr.FromDB(err, "reload order")
		}
		if current.PaymentStatus == u.Status {
			return tr, nil
		}
		if u.Status == models.PaymentProcessing && settled(current.PaymentStatus) {
			if tr.Order, err = loadOrder(tx, orderID, true); err != nil {
				return nil, err
			}
			return tr, nil
		}
		return nil, apperr.Newf(apperr.CodeConflict, "payment status of order %s changed concurrently", o.OrderNumber)
	}

	o.PaymentStatus = u.Status
	if u.Provider != "" {
		o.PaymentProvider = u.Provider
	}
	if u.ProviderReference != "" {
		o.ProviderReference = u.ProviderReference
	}
	if u.ProviderTransactionID != "" {
		o.ProviderTransactionID = u.ProviderTransactionID
	}
	if u.ProviderStatus != "" {
		o.ProviderStatus = u.ProviderStatus
	}
	if u.Message != "" {
		o.ProviderMessage = u.Message
	}
	tr.Applied = true

	if rule, ok := couplingRules[u.Status]; ok {
		effect, err := rule(s, ctx, tx, o, u)
		if err != nil {
			return nil, err
		}
		tr.Effect = effect
	}
	return tr, nil
}

func settled(s models.PaymentStatus) bool {
	return s == models.PaymentCompleted || s == models.PaymentFailed
}

// AfterPayment emits events and notifications for a committed transition.
func (s *Service) AfterPayment(ctx context.Context, tr *PaymentTransition) {
	if tr == nil || !tr.Applied {
		return
	}
	o := tr.Order
	log := logging.FromCtx(ctx, s.logger)
	switch tr.To {
	case models.PaymentCompleted:
		events.Emit(ctx, s.events, events.New(events.PaymentCompleted, o.OrderNumber, map[string]any{
			"order_id": o.ID,
			"provider": o.PaymentProvider,
			"amount":   o.TotalAmount.String(),
		}))
		switch tr.Effect {
		case EffectConfirmed:
			events.Emit(ctx, s.events, events.New(events.OrderConfirmed, o.OrderNumber, map[string]any{"order_id": o.ID}))
			s.notifyOrder(ctx, o, notifications.KindOrderConfirmed, nil)
		case EffectLate:
			log.Warn("payment completed for an order that is no longer pending", "order_id", o.ID, "status", o.Status)
		}
	case models.PaymentFailed:
		events.Emit(ctx, s.events, events.New(events.PaymentFailed, o.OrderNumber, map[string]any{
			"order_id": o.ID,
			"reason":   tr.Reason,
		}))
		s.notifyOrder(ctx, o, notifications.KindPaymentFailed, map[string]string{"reason": tr.Reason})
		if tr.Effect == EffectCancelled {
			events.Emit(ctx, s.events, events.New(events.OrderCancelled, o.OrderNumber, map[string]any{
				"order_id": o.ID,
				"reason":   "payment failed",
			}))
		}
	case models.PaymentProcessing:
		s.notifyOrder(ctx, o, notifications.KindPaymentPending, nil)
	}
}

// BeginPayment records a new payment attempt: the order must still be
// PENDING, the payment open, and the status becomes PROCESSING with a fresh
// transaction reference.
func (s *Service) BeginPayment(ctx context.Context, orderID uint, actor Actor, method models.PaymentMethod, reference string) (*models.Order, error) {
	if !method.Valid() {
		return nil, apperr.Validation("unsupported payment method %q", method)
	}
	var order *models.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		o, err := loadOrder(tx, orderID, true)
		if err != nil {
			return err
		}
		if !actor.owns(o) {
			return apperr.New(apperr.CodeOwnership, "order does not belong to this restaurant")
		}
		if !PaymentOpen(o) {
			return apperr.Newf(apperr.CodeInvalidTransition, "order %s is %s with payment %s and cannot be paid", o.OrderNumber, o.Status, o.PaymentStatus)
		}
		res := tx.Model(&models.Order{}).
			Where("id = ? AND status = ? AND payment_status IN ?", o.ID, models.OrderPending,
				[]models.PaymentStatus{models.PaymentPending, models.PaymentProcessing}).
			Updates(map[string]any{
				"payment_status":        models.PaymentProcessing,
				"payment_method":        method,
				"transaction_reference": reference,
			})
		if res.Error != nil {
			return apperr.FromDB(res.Error, "mark payment processing")
		}
		if res.RowsAffected == 0 {
			return apperr.New(apperr.CodeConflict, "order changed while starting payment, please retry")
		}
		o.PaymentStatus = models.PaymentProcessing
		o.PaymentMethod = method
		o.TransactionReference = &reference
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// FindByReference resolves a provider callback reference to an order: our
// transaction reference first, then the provider's reference, then any
// earlier attempt recorded in the audit table.
func (s *Service) FindByReference(ctx context.Context, tx *gorm.DB, refs ...string) (*models.Order, error) {
	db := tx.WithContext(ctx)
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		var o models.Order
		err := db.Where("transaction_reference = ? OR provider_reference = ?", ref, ref).First(&o).Error
		if err == nil {
			return &o, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.FromDB(err, "find order by reference")
		}

		var attempt models.PaymentAttempt
		err = db.Where("(reference = ? OR provider_reference = ?) AND order_id IS NOT NULL", ref, ref).
			Order("id DESC").First(&attempt).Error
		if err == nil {
			if err := db.First(&o, *attempt.OrderID).Error; err == nil {
				return &o, nil
			} else if !errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, apperr.FromDB(err, "load order")
			}
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.FromDB(err, "find payment attempt")
		}
	}
	return nil, nil
}

func setIf(m map[string]any, key, val string) {
	if val != "" {
		m[key] = val
	}
}
