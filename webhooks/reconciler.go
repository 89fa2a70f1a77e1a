// Package webhooks reconciles asynchronous provider callbacks with orders,
// wallet top-ups and subscriptions. Every status write is a compare-and-set
// on the open statuses, so replays are harmless.
package webhooks

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/food-bundles/food-bundles-bn-sub001/apperr"
	"github.com/food-bundles/food-bundles-bn-sub001/archive"
	"github.com/food-bundles/food-bundles-bn-sub001/logging"
	"github.com/food-bundles/food-bundles-bn-sub001/metrics"
	"github.com/food-bundles/food-bundles-bn-sub001/models"
	"github.com/food-bundles/food-bundles-bn-sub001/orders"
	"github.com/food-bundles/food-bundles-bn-sub001/payments"
	"github.com/food-bundles/food-bundles-bn-sub001/providers/flutterwave"
	"github.com/food-bundles/food-bundles-bn-sub001/providers/paypack"
	"github.com/food-bundles/food-bundles-bn-sub001/subscriptions"
	"github.com/food-bundles/food-bundles-bn-sub001/utils"
	"github.com/food-bundles/food-bundles-bn-sub001/wallets"
	"gorm.io/gorm"
)

type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomePending   Outcome = "pending"
	OutcomeUnmatched Outcome = "unmatched"
	// OutcomeRejected is a callback that contradicts a settled payment.
	OutcomeRejected Outcome = "rejected"
)

type Target string

const (
	TargetOrder        Target = "order"
	TargetTopUp        Target = "wallet_top_up"
	TargetSubscription Target = "subscription"
)

type Result struct {
	Outcome   Outcome `json:"outcome"`
	Target    Target  `json:"target,omitempty"`
	Reference string  `json:"reference,omitempty"`
}

// Verifier is the slice of the dispatcher used for manual verification.
type Verifier interface {
	Verify(ctx context.Context, provider, id string) (*payments.Verification, error)
}

type Reconciler struct {
	db         *gorm.DB
	orders     *orders.Service
	wallets    *wallets.Service
	subs       *subscriptions.Service
	verifier   Verifier
	archiver   archive.Archiver
	signatures map[string]SignatureVerifier
	maxRetries uint64
	logger     *slog.Logger
}

type Deps struct {
	DB            *gorm.DB
	Orders        *orders.Service
	Wallets       *wallets.Service
	Subscriptions *subscriptions.Service
	Verifier      Verifier
	Archiver      archive.Archiver
	Signatures    map[string]SignatureVerifier
}

func NewReconciler(d Deps) *Reconciler {
	if d.Archiver == nil {
		d.Archiver = archive.Nop{}
	}
	return &Reconciler{
		db:         d.DB,
		orders:     d.Orders,
		wallets:    d.Wallets,
		subs:       d.Subscriptions,
		verifier:   d.Verifier,
		archiver:   d.Archiver,
		signatures: d.Signatures,
		maxRetries: 3,
		logger:     logging.New("webhook_reconciler"),
	}
}

// DetectProvider names the provider from its signature header.
func DetectProvider(h http.Header) string {
	switch {
	case h.Get("verif-hash") != "":
		return flutterwave.Name
	case h.Get("X-Paypack-Signature") != "":
		return paypack.Name
	}
	return ""
}

// Handle authenticates, archives and applies one delivery. Unmatched
// references succeed so the provider stops retrying; transient failures are
// returned so the provider retries later.
func (r *Reconciler) Handle(ctx context.Context, h http.Header, body []byte) (*Result, error) {
	provider := DetectProvider(h)
	sig, ok := r.signatures[provider]
	if !ok || !sig.Verify(h, body) {
		metrics.WebhookEvents.WithLabelValues(providerLabel(provider), "unauthorized").Inc()
		return nil, apperr.New(apperr.CodeUnauthorized, "invalid webhook signature")
	}

	n, err := parse(provider, body)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues(provider, "malformed").Inc()
		return nil, err
	}
	log := logging.FromCtx(ctx, r.logger).With("provider", provider, "reference", n.Reference, "provider_ref", n.ProviderReference, "status", n.Status)

	if key, err := r.archiver.Archive(ctx, provider, firstRef(n), body); err != nil {
		log.Warn("webhook payload not archived", "err", err)
	} else if key != "" {
		log.Debug("webhook payload archived", "key", key)
	}

	res, err := r.Settle(ctx, n)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues(provider, "error").Inc()
		log.Error("webhook not applied", "err", err)
		return nil, err
	}
	metrics.WebhookEvents.WithLabelValues(provider, string(res.Outcome)).Inc()
	log.Info("webhook processed", "outcome", res.Outcome, "target", res.Target)
	return res, nil
}

// Settle routes a notification to the record it settles.
func (r *Reconciler) Settle(ctx context.Context, n Notification) (*Result, error) {
	if strings.HasPrefix(n.Reference, models.SubscriptionReferencePrefix) {
		return r.settleSubscription(ctx, n)
	}

	order, err := r.orders.FindByReference(ctx, r.db, n.refs()...)
	if err != nil {
		return nil, err
	}
	if order != nil {
		return r.settleOrder(ctx, order, n)
	}

	if strings.HasPrefix(n.Reference, utils.WalletReferencePrefix) || n.Reference == "" {
		txn, err := r.wallets.FindTopUp(ctx, n.refs()...)
		if err != nil {
			return nil, err
		}
		if txn != nil {
			return r.settleTopUp(ctx, txn, n)
		}
	}

	if sub, err := r.subs.Find(ctx, n.refs()...); err != nil {
		return nil, err
	} else if sub != nil {
		n.Reference = sub.Reference
		return r.settleSubscription(ctx, n)
	}

	logging.FromCtx(ctx, r.logger).Warn("webhook reference matched nothing", "reference", n.Reference, "provider_ref", n.ProviderReference)
	return &Result{Outcome: OutcomeUnmatched, Reference: firstRef(n)}, nil
}

func (r *Reconciler) settleOrder(ctx context.Context, order *models.Order, n Notification) (*Result, error) {
	res := &Result{Target: TargetOrder, Reference: order.OrderNumber}
	settled := order.PaymentStatus == models.PaymentCompleted || order.PaymentStatus == models.PaymentFailed
	if n.Status == payments.StatusPending && settled {
		res.Outcome = OutcomeDuplicate
		return res, nil
	}
	update := orders.PaymentUpdate{
		Status:                statusFor(n.Status),
		Provider:              n.Provider,
		ProviderReference:     n.ProviderReference,
		ProviderTransactionID: n.TransactionID,
		ProviderStatus:        string(n.Status),
		Message:               n.Message,
	}

	var tr *orders.PaymentTransition
	err := utils.RetryTransient(ctx, r.maxRetries, func() error {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			t, err := r.orders.ApplyPayment(ctx, tx, order.ID, update)
			if err != nil {
				return err
			}
			tr = t
			return nil
		})
	})
	if apperr.Is(err, apperr.CodeInvalidTransition) {
		metrics.ReconciliationGaps.Inc()
		logging.FromCtx(ctx, r.logger).Error("webhook contradicts settled payment",
			"order_id", order.ID, "payment_status", order.PaymentStatus, "reported", n.Status)
		res.Outcome = OutcomeRejected
		return res, nil
	}
	if err != nil {
		return nil, err
	}

	switch {
	case n.Status == payments.StatusPending:
		res.Outcome = OutcomePending
	case tr.Applied:
		r.orders.AfterPayment(ctx, tr)
		res.Outcome = OutcomeApplied
	default:
		res.Outcome = OutcomeDuplicate
	}
	return res, nil
}

func (r *Reconciler) settleTopUp(ctx context.Context, txn *models.WalletTransaction, n Notification) (*Result, error) {
	res := &Result{Target: TargetTopUp, Reference: txn.Reference}
	switch n.Status {
	case payments.StatusSuccessful:
		_, applied, err := r.wallets.CompleteTopUp(ctx, txn.Reference, n.Provider, n.ProviderReference)
		if err != nil {
			return nil, err
		}
		res.Outcome = outcome(applied)
	case payments.StatusFailed:
		if txn.Status == models.WalletTxCompleted {
			metrics.ReconciliationGaps.Inc()
			res.Outcome = OutcomeRejected
			return res, nil
		}
		updated, err := r.wallets.FailTopUp(ctx, txn.Reference, firstNonEmpty(n.Message, "payment failed"))
		if err != nil {
			return nil, err
		}
		res.Outcome = outcome(txn.Status != updated.Status)
	default:
		res.Outcome = OutcomePending
	}
	return res, nil
}

func (r *Reconciler) settleSubscription(ctx context.Context, n Notification) (*Result, error) {
	res := &Result{Target: TargetSubscription, Reference: n.Reference}
	switch n.Status {
	case payments.StatusSuccessful:
		_, applied, err := r.subs.Complete(ctx, n.Reference, n.Provider, n.ProviderReference)
		if err != nil {
			return unmatchedOr(res, err)
		}
		res.Outcome = outcome(applied)
	case payments.StatusFailed:
		_, applied, err := r.subs.Fail(ctx, n.Reference, firstNonEmpty(n.Message, "payment failed"))
		if err != nil {
			return unmatchedOr(res, err)
		}
		res.Outcome = outcome(applied)
	default:
		res.Outcome = OutcomePending
	}
	return res, nil
}

// VerifyOrder asks the provider that handled an order's payment for its
// current state and applies it like a webhook would.
func (r *Reconciler) VerifyOrder(ctx context.Context, orderID uint, actor orders.Actor) (*Result, *models.Order, error) {
	if r.verifier == nil {
		return nil, nil, apperr.New(apperr.CodeInternal, "payment verification is not configured")
	}
	order, err := r.orders.Get(ctx, orderID, actor)
	if err != nil {
		return nil, nil, err
	}
	if order.PaymentProvider == "" || order.PaymentProvider == payments.ProviderWallet {
		return nil, nil, apperr.Validation("order %s has no provider payment to verify", order.OrderNumber)
	}

	id := order.ProviderTransactionID
	if id == "" && order.TransactionReference != nil {
		id = *order.TransactionReference
	}
	if order.PaymentProvider == paypack.Name {
		id = order.ProviderReference
	}
	if id == "" {
		return nil, nil, apperr.Validation("order %s has no provider reference yet", order.OrderNumber)
	}

	v, err := r.verifier.Verify(ctx, order.PaymentProvider, id)
	if err != nil {
		return nil, nil, err
	}
	n := Notification{
		Provider:          order.PaymentProvider,
		ProviderReference: firstNonEmpty(v.ProviderReference, order.ProviderReference),
		TransactionID:     v.TransactionID,
		Status:            v.Status,
		Message:           v.Message,
	}
	res, err := r.settleOrder(ctx, order, n)
	if err != nil {
		return nil, nil, err
	}
	updated, err := r.orders.Get(ctx, orderID, actor)
	if err != nil {
		return nil, nil, err
	}
	return res, updated, nil
}

func statusFor(s payments.Status) models.PaymentStatus {
	switch s {
	case payments.StatusSuccessful:
		return models.PaymentCompleted
	case payments.StatusFailed:
		return models.PaymentFailed
	default:
		return models.PaymentProcessing
	}
}

func outcome(applied bool) Outcome {
	if applied {
		return OutcomeApplied
	}
	return OutcomeDuplicate
}

func unmatchedOr(res *Result, err error) (*Result, error) {
	if apperr.Is(err, apperr.CodeNotFound) {
		res.Outcome = OutcomeUnmatched
		return res, nil
	}
	return nil, err
}

func firstRef(n Notification) string {
	return firstNonEmpty(n.Reference, n.ProviderReference, n.TransactionID)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func providerLabel(p string) string {
	if p == "" {
		return "unknown"
	}
	return p
}
