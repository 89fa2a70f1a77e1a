// Package payments routes a payment to the strategy for its method, talks to
// providers through narrow adapters and normalizes every outcome into a Result.
package payments

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/food-bundles/food-bundles-bn-sub001/apperr"
	"github.com/food-bundles/food-bundles-bn-sub001/logging"
	"github.com/food-bundles/food-bundles-bn-sub001/metrics"
	"github.com/food-bundles/food-bundles-bn-sub001/models"
	"github.com/food-bundles/food-bundles-bn-sub001/orders"
	"github.com/food-bundles/food-bundles-bn-sub001/utils"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ProviderWallet is the provider name recorded for CASH payments.
const ProviderWallet = "wallet"

// WalletDebiter takes money from a restaurant's wallet inside an open transaction.
type WalletDebiter interface {
	DebitTx(ctx context.Context, tx *gorm.DB, restaurantID uint, amount decimal.Decimal, reference string, metadata map[string]any) (*models.WalletTransaction, error)
}

// Providers lists the adapters per method. MobileMoney is tried in order.
type Providers struct {
	MobileMoney  []MobileMoneyProvider
	Card         CardProvider
	BankTransfer BankTransferProvider
	Verifiers    map[string]Verifier
}

type Config struct {
	Timeout     time.Duration
	Currency    string
	RedirectURL string
	MaxRetries  uint64
}

type Dispatcher struct {
	db        *gorm.DB
	orders    *orders.Service
	providers Providers
	wallet    WalletDebiter
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

func NewDispatcher(db *gorm.DB, orderSvc *orders.Service, providers Providers, wallet WalletDebiter, cfg Config) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Currency == "" {
		cfg.Currency = "RWF"
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	return &Dispatcher{
		db:        db,
		orders:    orderSvc,
		providers: providers,
		wallet:    wallet,
		cfg:       cfg,
		logger:    logging.New("payment_dispatcher"),
		now:       time.Now,
	}
}

// ChargeRequest is a payment that is not tied to an order: wallet top-ups
// and subscriptions.
type ChargeRequest struct {
	Reference    string
	RestaurantID uint
	Amount       decimal.Decimal
	Method       models.PaymentMethod
	Phone        string
	Card         *CardInput
	Customer     Customer
}

// PayRequest pays an existing order. Method defaults to the order's method.
type PayRequest struct {
	OrderID uint
	Actor   orders.Actor
	Method  models.PaymentMethod
	Phone   string
	Card    *CardInput
}

// Pay drives one payment attempt for an order: PROCESSING first, then the
// provider call under a deadline, then the outcome. The provider outcome is
// returned even if recording it locally fails.
func (d *Dispatcher) Pay(ctx context.Context, req PayRequest) (*Result, *models.Order, error) {
	log := logging.FromCtx(ctx, d.logger)

	order, err := d.orders.Get(ctx, req.OrderID, req.Actor)
	if err != nil {
		return nil, nil, err
	}
	if !orders.PaymentOpen(order) {
		return nil, nil, apperr.Newf(apperr.CodeInvalidTransition, "order %s is %s with payment %s and cannot be paid", order.OrderNumber, order.Status, order.PaymentStatus)
	}
	method := req.Method
	if method == "" {
		method = order.PaymentMethod
	}

	charge := ChargeRequest{
		RestaurantID: order.RestaurantID,
		Amount:       order.TotalAmount,
		Method:       method,
		Phone:        firstNonEmpty(req.Phone, order.BillingPhone),
		Card:         req.Card,
		Customer: Customer{
			Name:  order.BillingName,
			Email: order.BillingEmail,
			Phone: order.BillingPhone,
		},
	}
	if method == models.MethodCard && charge.Card == nil {
		stored, err := d.orders.StoredCard(order)
		if err != nil {
			return nil, nil, err
		}
		if stored != nil {
			charge.Card = &CardInput{Number: stored.Number, Expiry: stored.Expiry}
		}
	}
	if err := d.validate(&charge); err != nil {
		return nil, nil, err
	}

	charge.Reference = utils.NewReference(utils.OrderReferencePrefix)
	err = utils.RetryTransient(ctx, d.cfg.MaxRetries, func() error {
		o, err := d.orders.BeginPayment(ctx, order.ID, req.Actor, method, charge.Reference)
		if err == nil {
			order = o
		}
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	log = log.With("order_id", order.ID, "reference", charge.Reference, "method", method)

	if method == models.MethodCash {
		res, tr := d.payFromWallet(ctx, order, charge.Reference)
		d.record(ctx, &order.ID, method, res)
		if tr != nil {
			order = tr.Order
			d.orders.AfterPayment(ctx, tr)
		}
		return res, order, nil
	}

	res := d.dispatch(ctx, charge)
	tr, recordErr := d.applyOutcome(ctx, order, method, res)
	if recordErr != nil {
		// The provider already answered; the caller gets its outcome and
		// the gap is left for the webhook or a manual verification.
		metrics.ReconciliationGaps.Inc()
		log.Error("payment outcome not recorded, needs reconciliation",
			"status", res.Status, "provider", res.Provider, "provider_ref", res.ProviderReference, "err", recordErr)
	}
	if tr != nil {
		order = tr.Order
		d.orders.AfterPayment(ctx, tr)
	}
	log.Info("payment dispatched", "status", res.Status, "provider", res.Provider)
	return res, order, nil
}

// Charge runs a payment that is not attached to an order. Validation errors
// are returned; provider failures come back as a failed Result.
func (d *Dispatcher) Charge(ctx context.Context, req ChargeRequest) (*Result, error) {
	if err := d.validate(&req); err != nil {
		return nil, err
	}
	if req.Reference == "" {
		return nil, apperr.Validation("payment reference is required")
	}

	var res *Result
	if req.Method == models.MethodCash {
		res = d.chargeWallet(ctx, req)
	} else {
		res = d.dispatch(ctx, req)
	}
	d.record(ctx, nil, req.Method, res)
	return res, nil
}

// Verify asks the named provider for the current state of a transaction.
func (d *Dispatcher) Verify(ctx context.Context, provider, id string) (*Verification, error) {
	v, ok := d.providers.Verifiers[provider]
	if !ok {
		return nil, apperr.Validation("provider %q cannot verify transactions", provider)
	}
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()
	ver, err := v.VerifyTransaction(ctx, id)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperr.Wrap(apperr.CodeTransient, err, "provider verification timed out")
		}
		return nil, apperr.Wrap(apperr.CodeProvider, err, "provider verification failed")
	}
	return ver, nil
}

func (d *Dispatcher) validate(req *ChargeRequest) error {
	if !req.Method.Valid() {
		return apperr.Validation("unsupported payment method %q", req.Method)
	}
	if !req.Amount.IsPositive() {
		return apperr.Validation("amount must be greater than zero")
	}
	switch req.Method {
	case models.MethodMobileMoney:
		phone, _, err := NormalizePhone(req.Phone)
		if err != nil {
			return err
		}
		req.Phone = phone
	case models.MethodCard:
		if req.Card == nil || strings.TrimSpace(req.Card.Number) == "" || req.Card.Expiry == "" {
			return apperr.Validation("card number and expiry are required")
		}
		if d.providers.Card == nil {
			return apperr.Validation("card payments are not available")
		}
	case models.MethodBankTransfer:
		if d.providers.BankTransfer == nil {
			return apperr.Validation("bank transfers are not available")
		}
	case models.MethodCash:
		if d.wallet == nil {
			return apperr.Validation("wallet payments are not available")
		}
	}
	return nil
}

// dispatch calls the strategy for req.Method under the provider deadline.
func (d *Dispatcher) dispatch(ctx context.Context, req ChargeRequest) *Result {
	strategy, ok := strategies[req.Method]
	if !ok {
		return failed(req.Reference, "", "unsupported payment method")
	}
	callCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	res, err := strategy(d, callCtx, req)
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled), callCtx.Err() != nil:
		// The provider may still complete the charge.
		res = &Result{
			Reference: req.Reference,
			Provider:  providerOf(res),
			Status:    StatusPending,
			Message:   "provider did not answer in time, awaiting confirmation",
		}
	default:
		res = failed(req.Reference, providerOf(res), err.Error())
	}
	res.Reference = req.Reference
	res.Success = res.Status != StatusFailed
	metrics.PaymentsDispatched.WithLabelValues(string(req.Method), res.Provider, string(res.Status)).Inc()
	return res
}

// applyOutcome records the provider outcome on the order and writes the
// audit row concurrently. Only the order update error is returned.
func (d *Dispatcher) applyOutcome(ctx context.Context, order *models.Order, method models.PaymentMethod, res *Result) (*orders.PaymentTransition, error) {
	update := orders.PaymentUpdate{
		Status:                paymentStatusFor(res.Status),
		Provider:              res.Provider,
		ProviderReference:     res.ProviderReference,
		ProviderTransactionID: res.TransactionID,
		ProviderStatus:        string(res.Status),
		Message:               res.Message,
		Details:               res.Details,
	}

	var tr *orders.PaymentTransition
	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	g.Go(func() error {
		return utils.RetryTransient(gctx, d.cfg.MaxRetries, func() error {
			return d.db.WithContext(gctx).Transaction(func(tx *gorm.DB) error {
				t, err := d.orders.ApplyPayment(gctx, tx, order.ID, update)
				if err != nil {
					return err
				}
				tr = t
				return nil
			})
		})
	})
	g.Go(func() error {
		d.record(gctx, &order.ID, method, res)
		return nil
	})
	return tr, g.Wait()
}

// payFromWallet debits the wallet and settles the order in one transaction.
func (d *Dispatcher) payFromWallet(ctx context.Context, order *models.Order, reference string) (*Result, *orders.PaymentTransition) {
	log := logging.FromCtx(ctx, d.logger)
	var (
		res *Result
		tr  *orders.PaymentTransition
	)
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		wtx, err := d.wallet.DebitTx(ctx, tx, order.RestaurantID, order.TotalAmount, reference, map[string]any{
			"orderId":     order.ID,
			"orderNumber": order.OrderNumber,
		})
		if err != nil {
			return err
		}
		res = walletResult(reference, wtx)
		tr, err = d.orders.ApplyPayment(ctx, tx, order.ID, orders.PaymentUpdate{
			Status:                models.PaymentCompleted,
			Provider:              ProviderWallet,
			ProviderReference:     wtx.Reference,
			ProviderTransactionID: res.TransactionID,
			ProviderStatus:        string(StatusSuccessful),
			Details:               res.Details,
		})
		return err
	})
	if err == nil {
		metrics.PaymentsDispatched.WithLabelValues(string(models.MethodCash), ProviderWallet, string(StatusSuccessful)).Inc()
		return res, tr
	}

	switch apperr.CodeOf(err) {
	case apperr.CodeInsufficientFunds, apperr.CodeInactiveWallet, apperr.CodeNotFound:
	default:
		// Nothing moved; the order stays PROCESSING and can be paid again.
		log.Error("wallet payment failed", "order_id", order.ID, "err", err)
		return &Result{Reference: reference, Provider: ProviderWallet, Status: StatusFailed, Message: apperr.PublicMessage(err)}, nil
	}

	res = failed(reference, ProviderWallet, apperr.PublicMessage(err))
	metrics.PaymentsDispatched.WithLabelValues(string(models.MethodCash), ProviderWallet, string(StatusFailed)).Inc()
	err = utils.RetryTransient(ctx, d.cfg.MaxRetries, func() error {
		return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			t, err := d.orders.ApplyPayment(ctx, tx, order.ID, orders.PaymentUpdate{
				Status:         models.PaymentFailed,
				Provider:       ProviderWallet,
				ProviderStatus: string(StatusFailed),
				Message:        res.Message,
			})
			if err == nil {
				tr = t
			}
			return err
		})
	})
	if err != nil {
		metrics.ReconciliationGaps.Inc()
		log.Error("wallet payment failure not recorded", "order_id", order.ID, "err", err)
	}
	return res, tr
}

// chargeWallet debits the wallet for a payment that has no order.
func (d *Dispatcher) chargeWallet(ctx context.Context, req ChargeRequest) *Result {
	var res *Result
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		wtx, err := d.wallet.DebitTx(ctx, tx, req.RestaurantID, req.Amount, req.Reference, map[string]any{"purpose": "charge"})
		if err != nil {
			return err
		}
		res = walletResult(req.Reference, wtx)
		return nil
	})
	if err != nil {
		res = failed(req.Reference, ProviderWallet, apperr.PublicMessage(err))
	}
	metrics.PaymentsDispatched.WithLabelValues(string(models.MethodCash), ProviderWallet, string(res.Status)).Inc()
	return res
}

// record writes the PaymentAttempt audit row. Failures are only logged.
func (d *Dispatcher) record(ctx context.Context, orderID *uint, method models.PaymentMethod, res *Result) {
	attempt := models.PaymentAttempt{
		Reference:         res.Reference,
		OrderID:           orderID,
		Method:            method,
		Provider:          res.Provider,
		Status:            string(res.Status),
		Message:           res.Message,
		ProviderReference: res.ProviderReference,
	}
	if res.Details != nil {
		if raw, err := json.Marshal(res.Details); err == nil {
			attempt.Details = datatypes.JSON(raw)
		}
	}
	if err := d.db.WithContext(ctx).Create(&attempt).Error; err != nil {
		logging.FromCtx(ctx, d.logger).Warn("payment attempt not audited", "reference", res.Reference, "err", err)
	}
}

func walletResult(reference string, wtx *models.WalletTransaction) *Result {
	return &Result{
		Success:           true,
		Reference:         reference,
		TransactionID:     wtx.Reference,
		ProviderReference: wtx.Reference,
		Provider:          ProviderWallet,
		Status:            StatusSuccessful,
		Message:           "paid from wallet",
		Details: WalletDetails{
			WalletID:        wtx.WalletID,
			TransactionID:   wtx.ID,
			PreviousBalance: wtx.PreviousBalance,
			NewBalance:      wtx.NewBalance,
		},
	}
}

func paymentStatusFor(s Status) models.PaymentStatus {
	switch s {
	case StatusSuccessful:
		return models.PaymentCompleted
	case StatusFailed:
		return models.PaymentFailed
	default:
		return models.PaymentProcessing
	}
}

func providerOf(res *Result) string {
	if res == nil {
		return ""
	}
	return res.Provider
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
