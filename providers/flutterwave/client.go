// Package flutterwave is the Flutterwave v3 adapter: Rwandan mobile money,
// card charges, bank transfer virtual accounts and transaction verification.
package flutterwave

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/food-bundles/food-bundles-bn-sub001/payments"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

const Name = "flutterwave"

type Config struct {
	BaseURL   string
	SecretKey string
	Timeout   time.Duration
}

type Client struct {
	http *resty.Client
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.flutterwave.com/v3"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetAuthToken(cfg.SecretKey).
		SetHeader("Accept", "application/json")
	return &Client{http: client}
}

func (c *Client) Name() string { return Name }

type envelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    struct {
		ID       int64           `json:"id"`
		TxRef    string          `json:"tx_ref"`
		FlwRef   string          `json:"flw_ref"`
		Status   string          `json:"status"`
		Amount   decimal.Decimal `json:"amount"`
		Currency string          `json:"currency"`
	} `json:"data"`
	Meta struct {
		Authorization authorization `json:"authorization"`
	} `json:"meta"`
}

type authorization struct {
	Mode              string `json:"mode"`
	Redirect          string `json:"redirect"`
	TransferAccount   string `json:"transfer_account"`
	TransferBank      string `json:"transfer_bank"`
	TransferNote      string `json:"transfer_note"`
	AccountExpiration string `json:"account_expiration"`
}

type mobileMoneyCharge struct {
	TxRef       string          `json:"tx_ref"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Email       string          `json:"email,omitempty"`
	PhoneNumber string          `json:"phone_number"`
	FullName    string          `json:"fullname,omitempty"`
	Network     string          `json:"network,omitempty"`
}

func (c *Client) InitiateMobileMoney(ctx context.Context, req payments.MobileMoneyRequest) (*payments.ProviderResponse, error) {
	env, err := c.charge(ctx, "mobile_money_rwanda", mobileMoneyCharge{
		TxRef:       req.Reference,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Email:       req.Customer.Email,
		PhoneNumber: req.Phone,
		FullName:    req.Customer.Name,
		Network:     req.Network,
	})
	if err != nil {
		return nil, err
	}
	resp := response(env)
	if env.Meta.Authorization.Redirect != "" {
		resp.RedirectURL = env.Meta.Authorization.Redirect
	}
	return resp, nil
}

type cardCharge struct {
	TxRef       string          `json:"tx_ref"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	CardNumber  string          `json:"card_number"`
	CVV         string          `json:"cvv"`
	ExpiryMonth string          `json:"expiry_month"`
	ExpiryYear  string          `json:"expiry_year"`
	Email       string          `json:"email,omitempty"`
	FullName    string          `json:"fullname,omitempty"`
	RedirectURL string          `json:"redirect_url,omitempty"`
	Auth        *cardAuth       `json:"authorization,omitempty"`
}

type cardAuth struct {
	Mode string `json:"mode"`
	PIN  string `json:"pin"`
}

func (c *Client) ChargeCard(ctx context.Context, req payments.CardRequest) (*payments.ProviderResponse, error) {
	month, year, err := splitExpiry(req.Card.Expiry)
	if err != nil {
		return nil, err
	}
	body := cardCharge{
		TxRef:       req.Reference,
		Amount:      req.Amount,
		Currency:    req.Currency,
		CardNumber:  strings.ReplaceAll(req.Card.Number, " ", ""),
		CVV:         req.Card.CVV,
		ExpiryMonth: month,
		ExpiryYear:  year,
		Email:       req.Customer.Email,
		FullName:    req.Customer.Name,
		RedirectURL: req.RedirectURL,
	}
	if req.Card.PIN != "" {
		body.Auth = &cardAuth{Mode: "pin", PIN: req.Card.PIN}
	}
	env, err := c.charge(ctx, "card", body)
	if err != nil {
		return nil, err
	}
	resp := response(env)
	auth := env.Meta.Authorization
	switch auth.Mode {
	case "redirect":
		resp.AuthMode = payments.Auth3DSecure
		resp.RedirectURL = auth.Redirect
	case "otp":
		resp.AuthMode = payments.AuthOTP
	case "pin":
		resp.AuthMode = payments.AuthPIN
	default:
		resp.AuthMode = payments.AuthDirect
	}
	return resp, nil
}

type bankTransferCharge struct {
	TxRef       string          `json:"tx_ref"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Email       string          `json:"email,omitempty"`
	PhoneNumber string          `json:"phone_number,omitempty"`
	FullName    string          `json:"fullname,omitempty"`
	IsPermanent bool            `json:"is_permanent"`
	Expires     int             `json:"expires"`
}

func (c *Client) InitiateBankTransfer(ctx context.Context, req payments.BankTransferRequest) (*payments.ProviderResponse, error) {
	ttl := int(time.Until(req.ExpiresAt).Seconds())
	if ttl <= 0 {
		ttl = 3600
	}
	env, err := c.charge(ctx, "bank_transfer", bankTransferCharge{
		TxRef:       req.Reference,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Email:       req.Customer.Email,
		PhoneNumber: req.Customer.Phone,
		FullName:    req.Customer.Name,
		Expires:     ttl,
	})
	if err != nil {
		return nil, err
	}
	auth := env.Meta.Authorization
	if auth.TransferAccount == "" {
		return nil, fmt.Errorf("flutterwave bank transfer: no account in response")
	}
	resp := response(env)
	resp.Account = &payments.VirtualAccount{
		AccountNumber: auth.TransferAccount,
		BankName:      auth.TransferBank,
		Note:          auth.TransferNote,
	}
	if t, err := time.Parse("2006-01-02 15:04:05", auth.AccountExpiration); err == nil {
		resp.Account.ExpiresAt = t
	}
	return resp, nil
}

// VerifyTransaction accepts either a Flutterwave transaction id or our tx_ref.
func (c *Client) VerifyTransaction(ctx context.Context, id string) (*payments.Verification, error) {
	var (
		env  envelope
		r    = c.http.R().SetContext(ctx).SetResult(&env).SetError(&env)
		resp *resty.Response
		err  error
	)
	if _, convErr := strconv.ParseInt(id, 10, 64); convErr == nil {
		resp, err = r.Get("/transactions/" + id + "/verify")
	} else {
		resp, err = r.SetQueryParam("tx_ref", id).Get("/transactions/verify_by_reference")
	}
	if err != nil {
		return nil, fmt.Errorf("flutterwave verify: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("flutterwave verify failed with status %d: %s", resp.StatusCode(), env.Message)
	}
	return &payments.Verification{
		Status:            NormalizeStatus(env.Data.Status),
		Reference:         env.Data.TxRef,
		ProviderReference: env.Data.FlwRef,
		TransactionID:     transactionID(env.Data.ID),
		Amount:            env.Data.Amount,
		Currency:          env.Data.Currency,
		Message:           env.Message,
	}, nil
}

func (c *Client) charge(ctx context.Context, kind string, body any) (*envelope, error) {
	var env envelope
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("type", kind).
		SetBody(body).
		SetResult(&env).
		SetError(&env).
		Post("/charges")
	if err != nil {
		return nil, fmt.Errorf("flutterwave %s charge: %w", kind, err)
	}
	if resp.IsError() || env.Status == "error" {
		msg := env.Message
		if msg == "" {
			msg = resp.String()
		}
		return nil, fmt.Errorf("flutterwave %s charge failed with status %d: %s", kind, resp.StatusCode(), msg)
	}
	return &env, nil
}

func response(env *envelope) *payments.ProviderResponse {
	return &payments.ProviderResponse{
		Status:            NormalizeStatus(env.Data.Status),
		ProviderReference: env.Data.FlwRef,
		TransactionID:     transactionID(env.Data.ID),
		Message:           env.Message,
	}
}

// NormalizeStatus maps Flutterwave charge and webhook statuses.
func NormalizeStatus(s string) payments.Status {
	switch strings.ToLower(s) {
	case "successful", "success", "completed":
		return payments.StatusSuccessful
	case "failed", "cancelled", "error":
		return payments.StatusFailed
	default:
		return payments.StatusPending
	}
}

func transactionID(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}

func splitExpiry(expiry string) (string, string, error) {
	parts := strings.Split(strings.TrimSpace(expiry), "/")
	if len(parts) != 2 || len(parts[0]) != 2 || len(parts[1]) < 2 {
		return "", "", fmt.Errorf("card expiry must be MM/YY")
	}
	year := parts[1]
	if len(year) == 4 {
		year = year[2:]
	}
	return parts[0], year, nil
}
