package wallets

import (
	"context"
	"errors"

	"github.com/food-bundles/food-bundles-bn-sub001/apperr"
	"github.com/food-bundles/food-bundles-bn-sub001/logging"
	"github.com/food-bundles/food-bundles-bn-sub001/metrics"
	"github.com/food-bundles/food-bundles-bn-sub001/models"
	"github.com/food-bundles/food-bundles-bn-sub001/notifications"
	"github.com/food-bundles/food-bundles-bn-sub001/payments"
	"github.com/food-bundles/food-bundles-bn-sub001/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TopUpInput struct {
	RestaurantID uint
	Amount       decimal.Decimal
	Method       models.PaymentMethod
	Phone        string
	Card         *payments.CardInput
	Customer     payments.Customer
}

type TopUpResult struct {
	Transaction *models.WalletTransaction `json:"transaction"`
	Payment     *payments.Result          `json:"payment"`
}

// TopUp records a PENDING top-up, charges the external method and credits
// the wallet only when the provider reports success. Pending charges are
// settled later by CompleteTopUp or FailTopUp. Until then the row has no
// sequence and no balance effect.
func (s *Service) TopUp(ctx context.Context, in TopUpInput) (*TopUpResult, error) {
	if !in.Amount.IsPositive() {
		return nil, apperr.Validation("amount must be greater than zero")
	}
	if in.Method == models.MethodCash || !in.Method.Valid() {
		return nil, apperr.Validation("wallet top-ups need an external payment method")
	}
	if s.charger == nil {
		return nil, apperr.New(apperr.CodeInternal, "wallet top-ups are not configured")
	}
	log := logging.FromCtx(ctx, s.logger)

	w, err := s.GetOrCreate(ctx, in.RestaurantID)
	if err != nil {
		return nil, err
	}
	if !w.IsActive {
		return nil, apperr.New(apperr.CodeInactiveWallet, "wallet is not active")
	}

	pending := models.WalletTransaction{
		WalletID:        w.ID,
		Type:            models.WalletTopUp,
		Amount:          in.Amount,
		PreviousBalance: w.Balance,
		NewBalance:      w.Balance,
		Status:          models.WalletTxPending,
		Reference:       newReference(),
		PaymentMethod:   in.Method,
	}
	if err := s.db.WithContext(ctx).Create(&pending).Error; err != nil {
		return nil, apperr.FromDB(err, "record top-up")
	}

	res, err := s.charger.Charge(ctx, payments.ChargeRequest{
		Reference:    pending.Reference,
		RestaurantID: in.RestaurantID,
		Amount:       in.Amount,
		Method:       in.Method,
		Phone:        in.Phone,
		Card:         in.Card,
		Customer:     in.Customer,
	})
	if err != nil {
		if _, failErr := s.FailTopUp(ctx, pending.Reference, err.Error()); failErr != nil {
			log.Error("top-up failure not recorded", "reference", pending.Reference, "err", failErr)
		}
		return nil, err
	}

	var txn *models.WalletTransaction
	switch res.Status {
	case payments.StatusSuccessful:
		txn, _, err = s.CompleteTopUp(ctx, pending.Reference, res.Provider, res.ProviderReference)
	case payments.StatusFailed:
		txn, err = s.FailTopUp(ctx, pending.Reference, res.Message)
	default:
		txn, err = s.markProcessing(ctx, pending.Reference, res.Provider, res.ProviderReference)
	}
	if err != nil {
		metrics.ReconciliationGaps.Inc()
		log.Error("top-up outcome not recorded, needs reconciliation", "reference", pending.Reference, "status", res.Status, "err", err)
		txn = &pending
	}
	return &TopUpResult{Transaction: txn, Payment: res}, nil
}

// CompleteTopUp credits a pending top-up and gives it the next sequence, so
// it joins the balance chain at completion time. A top-up that is already
// COMPLETED is left alone and reported with applied false.
func (s *Service) CompleteTopUp(ctx context.Context, reference, provider, providerRef string) (*models.WalletTransaction, bool, error) {
	var (
		txn     *models.WalletTransaction
		applied bool
		err     error
	)
	for attempt := 0; attempt < maxVersionRetries; attempt++ {
		applied = false
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			t, err := lockTopUp(tx, reference)
			if err != nil {
				return err
			}
			txn = t
			if t.Status == models.WalletTxCompleted {
				return nil
			}

			var w models.Wallet
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&w, t.WalletID).Error; err != nil {
				return apperr.FromDB(err, "load wallet")
			}
			newBalance := w.Balance.Add(t.Amount)
			seq := w.Version + 1
			res := tx.Model(&models.Wallet{}).Where("id = ? AND version = ?", w.ID, w.Version).
				Updates(map[string]any{"balance": newBalance, "version": gorm.Expr("version + 1")})
			if res.Error != nil {
				return apperr.FromDB(res.Error, "credit wallet")
			}
			if res.RowsAffected == 0 {
				return errVersionConflict
			}

			updates := map[string]any{
				"status":           models.WalletTxCompleted,
				"previous_balance": w.Balance,
				"new_balance":      newBalance,
				"sequence":         seq,
				"failure_reason":   "",
			}
			setIf(updates, "provider", provider)
			setIf(updates, "provider_reference", providerRef)
			res = tx.Model(&models.WalletTransaction{}).
				Where("id = ? AND status IN ?", t.ID, settleable).
				Updates(updates)
			if res.Error != nil {
				return apperr.FromDB(res.Error, "complete top-up")
			}
			if res.RowsAffected == 0 {
				return errVersionConflict
			}
			t.Status = models.WalletTxCompleted
			t.PreviousBalance, t.NewBalance = w.Balance, newBalance
			t.Sequence = &seq
			if provider != "" {
				t.Provider = provider
			}
			if providerRef != "" {
				t.ProviderReference = providerRef
			}
			applied = true
			return nil
		})
		if !errors.Is(err, errVersionConflict) {
			break
		}
	}
	if err != nil {
		return nil, false, err
	}
	if applied {
		metrics.WalletMovements.WithLabelValues(string(models.WalletTopUp)).Inc()
		s.emit(ctx, txn)
		s.notifyRestaurant(ctx, txn.WalletID, notifications.KindWalletCredited, map[string]string{
			"amount":  txn.Amount.StringFixed(0),
			"balance": txn.NewBalance.StringFixed(0),
		})
	}
	return txn, applied, nil
}

// FailTopUp marks a pending top-up FAILED with its reason. The balance is untouched.
func (s *Service) FailTopUp(ctx context.Context, reference, reason string) (*models.WalletTransaction, error) {
	var (
		txn     *models.WalletTransaction
		applied bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := lockTopUp(tx, reference)
		if err != nil {
			return err
		}
		txn = t
		if t.Status == models.WalletTxCompleted || t.Status == models.WalletTxFailed {
			return nil
		}
		res := tx.Model(&models.WalletTransaction{}).
			Where("id = ? AND status IN ?", t.ID, []models.WalletTransactionStatus{models.WalletTxPending, models.WalletTxProcessing}).
			Updates(map[string]any{"status": models.WalletTxFailed, "failure_reason": reason})
		if res.Error != nil {
			return apperr.FromDB(res.Error, "fail top-up")
		}
		applied = res.RowsAffected == 1
		if applied {
			t.Status = models.WalletTxFailed
			t.FailureReason = reason
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if applied {
		s.notifyRestaurant(ctx, txn.WalletID, notifications.KindTopUpFailed, map[string]string{
			"amount": txn.Amount.StringFixed(0),
			"reason": reason,
		})
	}
	return txn, nil
}

// FindTopUp resolves a provider callback reference to a top-up transaction.
func (s *Service) FindTopUp(ctx context.Context, refs ...string) (*models.WalletTransaction, error) {
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		var t models.WalletTransaction
		err := s.db.WithContext(ctx).
			Where("type = ? AND (reference = ? OR provider_reference = ?)", models.WalletTopUp, ref, ref).
			First(&t).Error
		if err == nil {
			return &t, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.FromDB(err, "find top-up")
		}
	}
	return nil, nil
}

func (s *Service) markProcessing(ctx context.Context, reference, provider, providerRef string) (*models.WalletTransaction, error) {
	updates := map[string]any{"status": models.WalletTxProcessing}
	setIf(updates, "provider", provider)
	setIf(updates, "provider_reference", providerRef)
	if err := s.db.WithContext(ctx).Model(&models.WalletTransaction{}).
		Where("reference = ? AND status = ?", reference, models.WalletTxPending).
		Updates(updates).Error; err != nil {
		return nil, apperr.FromDB(err, "mark top-up processing")
	}
	var t models.WalletTransaction
	if err := s.db.WithContext(ctx).Where("reference = ?", reference).First(&t).Error; err != nil {
		return nil, apperr.FromDB(err, "reload top-up")
	}
	return &t, nil
}

func (s *Service) notifyRestaurant(ctx context.Context, walletID uint, kind notifications.Kind, data map[string]string) {
	var r models.Restaurant
	err := s.db.WithContext(ctx).
		Joins("JOIN wallets ON wallets.restaurant_id = restaurants.id").
		Where("wallets.id = ?", walletID).
		First(&r).Error
	if err != nil {
		logging.FromCtx(ctx, s.logger).Warn("notification skipped, restaurant not loaded", "wallet_id", walletID, "err", err)
		return
	}
	notifications.NotifyRestaurant(ctx, s.notifier, &r, kind, data)
}

// A failed top-up can still settle: the provider may confirm a charge we gave up on.
var settleable = []models.WalletTransactionStatus{
	models.WalletTxPending,
	models.WalletTxProcessing,
	models.WalletTxFailed,
}

func lockTopUp(tx *gorm.DB, reference string) (*models.WalletTransaction, error) {
	var t models.WalletTransaction
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("reference = ? AND type = ?", reference, models.WalletTopUp).
		First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("top-up %s not found", reference)
	}
	if err != nil {
		return nil, apperr.FromDB(err, "load top-up")
	}
	return &t, nil
}

func newReference() string {
	return utils.NewReference(utils.WalletReferencePrefix)
}

func setIf(m map[string]any, key, val string) {
	if val != "" {
		m[key] = val
	}
}
