// Package subscriptions handles payment for restaurant subscription plans:
// initiation through the dispatcher, settlement from webhooks and expiry.
package subscriptions

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/food-bundles/food-bundles-bn-sub001/apperr"
	"github.com/food-bundles/food-bundles-bn-sub001/events"
	"github.com/food-bundles/food-bundles-bn-sub001/logging"
	"github.com/food-bundles/food-bundles-bn-sub001/metrics"
	"github.com/food-bundles/food-bundles-bn-sub001/models"
	"github.com/food-bundles/food-bundles-bn-sub001/notifications"
	"github.com/food-bundles/food-bundles-bn-sub001/payments"
	"github.com/food-bundles/food-bundles-bn-sub001/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Charger interface {
	Charge(ctx context.Context, req payments.ChargeRequest) (*payments.Result, error)
}

type Service struct {
	db       *gorm.DB
	charger  Charger
	events   events.Publisher
	notifier notifications.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Service)

func WithEvents(p events.Publisher) Option         { return func(s *Service) { s.events = p } }
func WithNotifier(n notifications.Notifier) Option { return func(s *Service) { s.notifier = n } }
func WithClock(now func() time.Time) Option        { return func(s *Service) { s.now = now } }

func NewService(db *gorm.DB, charger Charger, opts ...Option) *Service {
	s := &Service{
		db:       db,
		charger:  charger,
		events:   events.Nop{},
		notifier: notifications.Nop{},
		logger:   logging.New("subscriptions"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type InitiateInput struct {
	RestaurantID uint
	PlanName     string
	Amount       decimal.Decimal
	DurationDays int
	Method       models.PaymentMethod
	Phone        string
	Card         *payments.CardInput
	Customer     payments.Customer
}

type InitiateResult struct {
	Subscription *models.RestaurantSubscription `json:"subscription"`
	Payment      *payments.Result               `json:"payment"`
}

// Initiate records a PENDING subscription and charges for it. A successful
// charge activates it at once; a pending one waits for the webhook.
func (s *Service) Initiate(ctx context.Context, in InitiateInput) (*InitiateResult, error) {
	if in.PlanName == "" {
		return nil, apperr.Validation("plan name is required")
	}
	if !in.Amount.IsPositive() {
		return nil, apperr.Validation("amount must be greater than zero")
	}
	if in.DurationDays <= 0 {
		return nil, apperr.Validation("duration must be at least one day")
	}
	if !in.Method.Valid() {
		return nil, apperr.Validation("unsupported payment method %q", in.Method)
	}
	log := logging.FromCtx(ctx, s.logger)

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Restaurant{}).Where("id = ?", in.RestaurantID).Count(&count).Error; err != nil {
		return nil, apperr.FromDB(err, "load restaurant")
	}
	if count == 0 {
		return nil, apperr.NotFound("restaurant %d not found", in.RestaurantID)
	}

	sub := models.RestaurantSubscription{
		RestaurantID:  in.RestaurantID,
		PlanName:      in.PlanName,
		Amount:        in.Amount,
		DurationDays:  in.DurationDays,
		Reference:     utils.NewReference(models.SubscriptionReferencePrefix),
		PaymentMethod: in.Method,
		PaymentStatus: models.PaymentPending,
		Status:        models.SubscriptionPending,
	}
	if err := s.db.WithContext(ctx).Create(&sub).Error; err != nil {
		return nil, apperr.FromDB(err, "create subscription")
	}

	res, err := s.charger.Charge(ctx, payments.ChargeRequest{
		Reference:    sub.Reference,
		RestaurantID: in.RestaurantID,
		Amount:       in.Amount,
		Method:       in.Method,
		Phone:        in.Phone,
		Card:         in.Card,
		Customer:     in.Customer,
	})
	if err != nil {
		if _, _, failErr := s.Fail(ctx, sub.Reference, err.Error()); failErr != nil {
			log.Error("subscription failure not recorded", "reference", sub.Reference, "err", failErr)
		}
		return nil, err
	}

	var out *models.RestaurantSubscription
	switch res.Status {
	case payments.StatusSuccessful:
		out, _, err = s.Complete(ctx, sub.Reference, res.Provider, res.ProviderReference)
	case payments.StatusFailed:
		out, _, err = s.Fail(ctx, sub.Reference, res.Message)
	default:
		out, err = s.markProcessing(ctx, &sub, res.Provider, res.ProviderReference)
	}
	if err != nil {
		metrics.ReconciliationGaps.Inc()
		log.Error("subscription outcome not recorded, needs reconciliation", "reference", sub.Reference, "status", res.Status, "err", err)
		out = &sub
	}
	return &InitiateResult{Subscription: out, Payment: res}, nil
}

var (
	openPayment = []models.PaymentStatus{models.PaymentPending, models.PaymentProcessing}
	// A failed payment can still settle when the provider confirms late.
	settleable = []models.PaymentStatus{models.PaymentPending, models.PaymentProcessing, models.PaymentFailed}
)

// Complete activates a subscription whose payment settled. Repeated calls
// leave it alone and report applied false.
func (s *Service) Complete(ctx context.Context, reference, provider, providerRef string) (*models.RestaurantSubscription, bool, error) {
	sub, err := s.byReference(ctx, reference)
	if err != nil {
		return nil, false, err
	}
	now := s.now()
	ends := now.AddDate(0, 0, sub.DurationDays)
	updates := map[string]any{
		"status":         models.SubscriptionActive,
		"payment_status": models.PaymentCompleted,
		"starts_at":      now,
		"ends_at":        ends,
	}
	if provider != "" {
		updates["provider"] = provider
	}
	if providerRef != "" {
		updates["provider_reference"] = providerRef
	}
	res := s.db.WithContext(ctx).Model(&models.RestaurantSubscription{}).
		Where("id = ? AND payment_status IN ?", sub.ID, settleable).
		Updates(updates)
	if res.Error != nil {
		return nil, false, apperr.FromDB(res.Error, "activate subscription")
	}
	if res.RowsAffected == 0 {
		return sub, false, nil
	}
	sub, err = s.byReference(ctx, reference)
	if err != nil {
		return nil, false, err
	}

	events.Emit(ctx, s.events, events.New(events.SubscriptionStarted, sub.Reference, map[string]any{
		"restaurant_id": sub.RestaurantID,
		"plan":          sub.PlanName,
		"ends_at":       ends,
	}))
	s.notify(ctx, sub, notifications.KindSubscriptionActive, map[string]string{"endsAt": ends.Format("2006-01-02")})
	return sub, true, nil
}

// Fail marks an open subscription payment FAILED and cancels the subscription.
func (s *Service) Fail(ctx context.Context, reference, reason string) (*models.RestaurantSubscription, bool, error) {
	sub, err := s.byReference(ctx, reference)
	if err != nil {
		return nil, false, err
	}
	res := s.db.WithContext(ctx).Model(&models.RestaurantSubscription{}).
		Where("id = ? AND payment_status IN ?", sub.ID, openPayment).
		Updates(map[string]any{"status": models.SubscriptionCancelled, "payment_status": models.PaymentFailed})
	if res.Error != nil {
		return nil, false, apperr.FromDB(res.Error, "fail subscription")
	}
	if res.RowsAffected == 0 {
		return sub, false, nil
	}
	sub.Status = models.SubscriptionCancelled
	sub.PaymentStatus = models.PaymentFailed
	s.notify(ctx, sub, notifications.KindSubscriptionFailed, map[string]string{"reason": reason})
	return sub, true, nil
}

// Find resolves a webhook reference to a subscription, or nil.
func (s *Service) Find(ctx context.Context, refs ...string) (*models.RestaurantSubscription, error) {
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		var sub models.RestaurantSubscription
		err := s.db.WithContext(ctx).Where("reference = ? OR provider_reference = ?", ref, ref).First(&sub).Error
		if err == nil {
			return &sub, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.FromDB(err, "find subscription")
		}
	}
	return nil, nil
}

// SweepExpired moves ACTIVE subscriptions whose end has passed to EXPIRED
// and returns how many it moved.
func (s *Service) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	var due []models.RestaurantSubscription
	if err := s.db.WithContext(ctx).
		Where("status = ? AND ends_at <= ?", models.SubscriptionActive, now).
		Find(&due).Error; err != nil {
		return 0, apperr.FromDB(err, "list expiring subscriptions")
	}

	expired := 0
	for i := range due {
		sub := &due[i]
		res := s.db.WithContext(ctx).Model(&models.RestaurantSubscription{}).
			Where("id = ? AND status = ?", sub.ID, models.SubscriptionActive).
			Update("status", models.SubscriptionExpired)
		if res.Error != nil {
			return expired, apperr.FromDB(res.Error, "expire subscription")
		}
		if res.RowsAffected == 0 {
			continue
		}
		expired++
		sub.Status = models.SubscriptionExpired
		s.notify(ctx, sub, notifications.KindSubscriptionExpired, nil)
	}
	if expired > 0 {
		logging.FromCtx(ctx, s.logger).Info("subscriptions expired", "count", expired)
	}
	return expired, nil
}

func (s *Service) markProcessing(ctx context.Context, sub *models.RestaurantSubscription, provider, providerRef string) (*models.RestaurantSubscription, error) {
	updates := map[string]any{"payment_status": models.PaymentProcessing}
	if provider != "" {
		updates["provider"] = provider
	}
	if providerRef != "" {
		updates["provider_reference"] = providerRef
	}
	if err := s.db.WithContext(ctx).Model(&models.RestaurantSubscription{}).
		Where("id = ? AND payment_status = ?", sub.ID, models.PaymentPending).
		Updates(updates).Error; err != nil {
		return nil, apperr.FromDB(err, "mark subscription processing")
	}
	return s.byReference(ctx, sub.Reference)
}

func (s *Service) byReference(ctx context.Context, reference string) (*models.RestaurantSubscription, error) {
	var sub models.RestaurantSubscription
	err := s.db.WithContext(ctx).Where("reference = ?", reference).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("subscription %s not found", reference)
	}
	if err != nil {
		return nil, apperr.FromDB(err, "load subscription")
	}
	return &sub, nil
}

func (s *Service) notify(ctx context.Context, sub *models.RestaurantSubscription, kind notifications.Kind, data map[string]string) {
	var r models.Restaurant
	if err := s.db.WithContext(ctx).First(&r, sub.RestaurantID).Error; err != nil {
		logging.FromCtx(ctx, s.logger).Warn("notification skipped, restaurant not loaded", "restaurant_id", sub.RestaurantID, "err", err)
		return
	}
	if data == nil {
		data = map[string]string{}
	}
	data["plan"] = sub.PlanName
	notifications.NotifyRestaurant(ctx, s.notifier, &r, kind, data)
}
