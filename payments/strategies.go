package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/food-bundles/food-bundles-bn-sub001/apperr"
	"github.com/food-bundles/food-bundles-bn-sub001/logging"
	"github.com/food-bundles/food-bundles-bn-sub001/metrics"
	"github.com/food-bundles/food-bundles-bn-sub001/models"
)

// A strategy returns a partial Result naming the provider even when it fails,
// so timeouts and errors are attributed.
type strategy func(d *Dispatcher, ctx context.Context, req ChargeRequest) (*Result, error)

var strategies = map[models.PaymentMethod]strategy{
	models.MethodMobileMoney:  payMobileMoney,
	models.MethodCard:         payCard,
	models.MethodBankTransfer: payBankTransfer,
}

// payMobileMoney tries each provider in order and falls back on any error
// other than the deadline. The Result names the provider that handled it.
func payMobileMoney(d *Dispatcher, ctx context.Context, req ChargeRequest) (*Result, error) {
	phone, network, err := NormalizePhone(req.Phone)
	if err != nil {
		return nil, err
	}
	if len(d.providers.MobileMoney) == 0 {
		return nil, apperr.New(apperr.CodeProvider, "no mobile money provider configured")
	}

	mreq := MobileMoneyRequest{
		Reference: req.Reference,
		Amount:    req.Amount,
		Currency:  d.cfg.Currency,
		Phone:     phone,
		Network:   network,
		Customer:  req.Customer,
	}
	log := logging.FromCtx(ctx, d.logger)

	var lastErr error
	for i, p := range d.providers.MobileMoney {
		resp, err := p.InitiateMobileMoney(ctx, mreq)
		if err == nil {
			res := fromProvider(p.Name(), resp)
			res.Details = MobileMoneyDetails{
				Phone:        phone,
				Network:      network,
				Instructions: firstNonEmpty(resp.Message, "Approve the payment prompt on your phone"),
			}
			return res, nil
		}
		lastErr = err
		partial := &Result{Provider: p.Name()}
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return partial, err
		}
		if i+1 < len(d.providers.MobileMoney) {
			next := d.providers.MobileMoney[i+1].Name()
			metrics.ProviderFallbacks.WithLabelValues(p.Name(), next).Inc()
			log.Warn("mobile money provider failed, falling back", "provider", p.Name(), "fallback", next, "err", err)
			continue
		}
		return partial, err
	}
	return nil, lastErr
}

func payCard(d *Dispatcher, ctx context.Context, req ChargeRequest) (*Result, error) {
	p := d.providers.Card
	creq := CardRequest{
		Reference:   req.Reference,
		Amount:      req.Amount,
		Currency:    d.cfg.Currency,
		Card:        *req.Card,
		Customer:    req.Customer,
		RedirectURL: d.cfg.RedirectURL,
	}
	resp, err := p.ChargeCard(ctx, creq)
	if err != nil {
		return &Result{Provider: p.Name()}, err
	}
	res := fromProvider(p.Name(), resp)
	mode := resp.AuthMode
	if mode == "" {
		mode = AuthDirect
	}
	res.Details = CardDetails{
		AuthMode:    mode,
		RedirectURL: resp.RedirectURL,
		Last4:       last4(req.Card.Number),
		Message:     resp.Message,
	}
	return res, nil
}

func payBankTransfer(d *Dispatcher, ctx context.Context, req ChargeRequest) (*Result, error) {
	p := d.providers.BankTransfer
	expires := d.now().Add(time.Hour)
	resp, err := p.InitiateBankTransfer(ctx, BankTransferRequest{
		Reference: req.Reference,
		Amount:    req.Amount,
		Currency:  d.cfg.Currency,
		Customer:  req.Customer,
		ExpiresAt: expires,
	})
	if err != nil {
		return &Result{Provider: p.Name()}, err
	}
	if resp.Account == nil {
		return &Result{Provider: p.Name()}, fmt.Errorf("%s returned no virtual account", p.Name())
	}
	res := fromProvider(p.Name(), resp)
	// The account is only usable until someone pays into it.
	if res.Status == StatusSuccessful {
		res.Status = StatusPending
	}
	if !resp.Account.ExpiresAt.IsZero() {
		expires = resp.Account.ExpiresAt
	}
	res.Details = BankTransferDetails{
		AccountNumber: resp.Account.AccountNumber,
		BankName:      resp.Account.BankName,
		AccountName:   resp.Account.AccountName,
		Amount:        req.Amount,
		ExpiresAt:     expires,
		Note:          resp.Account.Note,
	}
	return res, nil
}

func fromProvider(name string, resp *ProviderResponse) *Result {
	status := resp.Status
	if status == "" {
		status = StatusPending
	}
	return &Result{
		TransactionID:     resp.TransactionID,
		ProviderReference: resp.ProviderReference,
		Provider:          name,
		Status:            status,
		Message:           resp.Message,
	}
}

func last4(number string) string {
	digits := make([]byte, 0, len(number))
	for i := 0; i < len(number); i++ {
		if number[i] >= '0' && number[i] <= '9' {
			digits = append(digits, number[i])
		}
	}
	if len(digits) < 4 {
		return ""
	}
	return string(digits[len(digits)-4:])
}
