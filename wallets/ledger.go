// Package wallets is the restaurant stored-value ledger. Every balance change
// is a wallet row update guarded by its version plus an append-only
// WalletTransaction, written in the same transaction.
package wallets

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/food-bundles/food-bundles-bn-sub001/apperr"
	"github.com/food-bundles/food-bundles-bn-sub001/events"
	"github.com/food-bundles/food-bundles-bn-sub001/logging"
	"github.com/food-bundles/food-bundles-bn-sub001/metrics"
	"github.com/food-bundles/food-bundles-bn-sub001/models"
	"github.com/food-bundles/food-bundles-bn-sub001/notifications"
	"github.com/food-bundles/food-bundles-bn-sub001/payments"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// maxVersionRetries bounds optimistic retries for standalone mutations.
const maxVersionRetries = 5

var errVersionConflict = apperr.New(apperr.CodeConflict, "wallet was modified concurrently")

// Charger collects money from an external method for a top-up.
type Charger interface {
	Charge(ctx context.Context, req payments.ChargeRequest) (*payments.Result, error)
}

type Service struct {
	db       *gorm.DB
	charger  Charger
	events   events.Publisher
	notifier notifications.Notifier
	currency string
	logger   *slog.Logger
}

type Option func(*Service)

func WithCharger(c Charger) Option                 { return func(s *Service) { s.charger = c } }
func WithEvents(p events.Publisher) Option         { return func(s *Service) { s.events = p } }
func WithNotifier(n notifications.Notifier) Option { return func(s *Service) { s.notifier = n } }
func WithCurrency(c string) Option                 { return func(s *Service) { s.currency = c } }

func NewService(db *gorm.DB, opts ...Option) *Service {
	s := &Service{
		db:       db,
		events:   events.Nop{},
		notifier: notifications.Nop{},
		currency: "RWF",
		logger:   logging.New("wallet_service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetCharger wires the dispatcher after construction; the dispatcher itself
// needs the wallet service for CASH payments.
func (s *Service) SetCharger(c Charger) { s.charger = c }

// entry is one balance movement. Amount is signed.
type entry struct {
	typ       models.WalletTransactionType
	amount    decimal.Decimal
	reference string
	method    models.PaymentMethod
	provider  string
	metadata  map[string]any
	// requireActive rejects the movement on an inactive wallet.
	requireActive bool
}

// GetOrCreate returns the restaurant's wallet, creating an active empty one on first use.
func (s *Service) GetOrCreate(ctx context.Context, restaurantID uint) (*models.Wallet, error) {
	var w *models.Wallet
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		w, err = s.getOrCreate(tx, restaurantID)
		return err
	})
	return w, err
}

func (s *Service) getOrCreate(tx *gorm.DB, restaurantID uint) (*models.Wallet, error) {
	var count int64
	if err := tx.Model(&models.Restaurant{}).Where("id = ?", restaurantID).Count(&count).Error; err != nil {
		return nil, apperr.FromDB(err, "load restaurant")
	}
	if count == 0 {
		return nil, apperr.NotFound("restaurant %d not found", restaurantID)
	}
	w := models.Wallet{
		RestaurantID: restaurantID,
		Balance:      decimal.Zero,
		Currency:     s.currency,
		IsActive:     true,
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&w).Error; err != nil {
		return nil, apperr.FromDB(err, "create wallet")
	}
	return findWallet(tx, restaurantID, false)
}

// Transactions lists a restaurant's ledger entries, newest first.
func (s *Service) Transactions(ctx context.Context, restaurantID uint, limit int) ([]models.WalletTransaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	w, err := findWallet(s.db.WithContext(ctx), restaurantID, false)
	if err != nil {
		return nil, err
	}
	var txns []models.WalletTransaction
	if err := s.db.WithContext(ctx).Where("wallet_id = ?", w.ID).
		Order("id DESC").Limit(limit).Find(&txns).Error; err != nil {
		return nil, apperr.FromDB(err, "list wallet transactions")
	}
	return txns, nil
}

// Debit takes amount from an active wallet with enough balance.
func (s *Service) Debit(ctx context.Context, restaurantID uint, amount decimal.Decimal, reference string, metadata map[string]any) (*models.WalletTransaction, error) {
	if !amount.IsPositive() {
		return nil, apperr.Validation("amount must be greater than zero")
	}
	return s.standalone(ctx, func(tx *gorm.DB) (*models.WalletTransaction, error) {
		return s.DebitTx(ctx, tx, restaurantID, amount, reference, metadata)
	})
}

// DebitTx is Debit inside the caller's transaction. The restaurant must already have a wallet.
func (s *Service) DebitTx(ctx context.Context, tx *gorm.DB, restaurantID uint, amount decimal.Decimal, reference string, metadata map[string]any) (*models.WalletTransaction, error) {
	if !amount.IsPositive() {
		return nil, apperr.Validation("amount must be greater than zero")
	}
	w, err := findWallet(tx, restaurantID, true)
	if err != nil {
		return nil, err
	}
	return s.post(ctx, tx, w, entry{
		typ:           models.WalletPayment,
		amount:        amount.Neg(),
		reference:     reference,
		method:        models.MethodCash,
		provider:      payments.ProviderWallet,
		metadata:      metadata,
		requireActive: true,
	})
}

// Credit adds amount to the wallet as a completed entry of typ.
func (s *Service) Credit(ctx context.Context, restaurantID uint, amount decimal.Decimal, typ models.WalletTransactionType, reference string, metadata map[string]any) (*models.WalletTransaction, error) {
	if !amount.IsPositive() {
		return nil, apperr.Validation("amount must be greater than zero")
	}
	switch typ {
	case models.WalletTopUp, models.WalletRefund, models.WalletAdjustment:
	default:
		return nil, apperr.Validation("%s is not a credit", typ)
	}
	return s.standalone(ctx, func(tx *gorm.DB) (*models.WalletTransaction, error) {
		if _, err := s.getOrCreate(tx, restaurantID); err != nil {
			return nil, err
		}
		w, err := findWallet(tx, restaurantID, true)
		if err != nil {
			return nil, err
		}
		return s.post(ctx, tx, w, entry{typ: typ, amount: amount, reference: reference, metadata: metadata})
	})
}

func (s *Service) Refund(ctx context.Context, restaurantID uint, amount decimal.Decimal, reference string, metadata map[string]any) (*models.WalletTransaction, error) {
	return s.Credit(ctx, restaurantID, amount, models.WalletRefund, reference, metadata)
}

// RefundTx credits a refund inside the caller's transaction.
func (s *Service) RefundTx(ctx context.Context, tx *gorm.DB, restaurantID uint, amount decimal.Decimal, reference string, metadata map[string]any) error {
	if !amount.IsPositive() {
		return apperr.Validation("amount must be greater than zero")
	}
	if _, err := s.getOrCreate(tx, restaurantID); err != nil {
		return err
	}
	w, err := findWallet(tx, restaurantID, true)
	if err != nil {
		return err
	}
	_, err = s.post(ctx, tx, w, entry{typ: models.WalletRefund, amount: amount, reference: reference, metadata: metadata})
	return err
}

// Adjust applies an administrator's signed correction to a wallet by id.
func (s *Service) Adjust(ctx context.Context, walletID uint, amount decimal.Decimal, reason string) (*models.WalletTransaction, error) {
	if amount.IsZero() {
		return nil, apperr.Validation("adjustment amount must not be zero")
	}
	if reason == "" {
		return nil, apperr.Validation("adjustment reason is required")
	}
	return s.standalone(ctx, func(tx *gorm.DB) (*models.WalletTransaction, error) {
		var w models.Wallet
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&w, walletID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, apperr.NotFound("wallet %d not found", walletID)
			}
			return nil, apperr.FromDB(err, "load wallet")
		}
		return s.post(ctx, tx, &w, entry{
			typ:       models.WalletAdjustment,
			amount:    amount,
			reference: newReference(),
			metadata:  map[string]any{"reason": reason},
		})
	})
}

// post applies one movement to w inside tx: version checked balance update
// and its COMPLETED ledger row.
func (s *Service) post(ctx context.Context, tx *gorm.DB, w *models.Wallet, e entry) (*models.WalletTransaction, error) {
	if e.requireActive && !w.IsActive {
		return nil, apperr.New(apperr.CodeInactiveWallet, "wallet is not active")
	}
	newBalance := w.Balance.Add(e.amount)
	if newBalance.IsNegative() {
		return nil, apperr.Newf(apperr.CodeInsufficientFunds, "insufficient wallet balance: %s available, %s required",
			w.Balance.StringFixed(2), e.amount.Neg().StringFixed(2))
	}

	q := tx.Model(&models.Wallet{}).Where("id = ? AND version = ?", w.ID, w.Version)
	if e.amount.IsNegative() {
		q = q.Where("balance >= ?", e.amount.Neg())
	}
	res := q.Updates(map[string]any{
		"balance": newBalance,
		"version": gorm.Expr("version + 1"),
	})
	if res.Error != nil {
		return nil, apperr.FromDB(res.Error, "update wallet balance")
	}
	if res.RowsAffected == 0 {
		return nil, errVersionConflict
	}

	seq := w.Version + 1
	txn := models.WalletTransaction{
		WalletID:        w.ID,
		Sequence:        &seq,
		Type:            e.typ,
		Amount:          e.amount,
		PreviousBalance: w.Balance,
		NewBalance:      newBalance,
		Status:          models.WalletTxCompleted,
		Reference:       e.reference,
		PaymentMethod:   e.method,
		Provider:        e.provider,
		Metadata:        encodeMetadata(e.metadata),
	}
	if txn.Reference == "" {
		txn.Reference = newReference()
	}
	if err := tx.Create(&txn).Error; err != nil {
		return nil, apperr.FromDB(err, "record wallet transaction")
	}

	w.Balance = newBalance
	w.Version = seq
	metrics.WalletMovements.WithLabelValues(string(e.typ)).Inc()
	logging.FromCtx(ctx, s.logger).Info("wallet movement",
		"wallet_id", w.ID, "type", e.typ, "amount", e.amount.String(), "balance", newBalance.String())
	return &txn, nil
}

// standalone runs fn in its own transaction, retrying version conflicts
// with a fresh transaction each time.
func (s *Service) standalone(ctx context.Context, fn func(tx *gorm.DB) (*models.WalletTransaction, error)) (*models.WalletTransaction, error) {
	var (
		txn *models.WalletTransaction
		err error
	)
	for attempt := 0; attempt < maxVersionRetries; attempt++ {
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var ferr error
			txn, ferr = fn(tx)
			return ferr
		})
		if !errors.Is(err, errVersionConflict) {
			break
		}
	}
	if err != nil {
		return nil, err
	}
	s.emit(ctx, txn)
	return txn, nil
}

func (s *Service) emit(ctx context.Context, txn *models.WalletTransaction) {
	typ := events.WalletCredited
	if txn.Amount.IsNegative() {
		typ = events.WalletDebited
	}
	events.Emit(ctx, s.events, events.New(typ, txn.Reference, map[string]any{
		"wallet_id":   txn.WalletID,
		"type":        txn.Type,
		"amount":      txn.Amount.String(),
		"new_balance": txn.NewBalance.String(),
	}))
}

// findWallet loads a restaurant's wallet, row-locked when lock is set.
func findWallet(tx *gorm.DB, restaurantID uint, lock bool) (*models.Wallet, error) {
	q := tx
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var w models.Wallet
	if err := q.Where("restaurant_id = ?", restaurantID).First(&w).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("wallet for restaurant %d not found", restaurantID)
		}
		return nil, apperr.FromDB(err, "load wallet")
	}
	return &w, nil
}

func encodeMetadata(m map[string]any) datatypes.JSON {
	if len(m) == 0 {
		return nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}
