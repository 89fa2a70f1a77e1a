package payments

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusSuccessful Status = "successful"
	StatusPending    Status = "pending"
	StatusFailed     Status = "failed"
)

// Result is the normalized outcome of one payment attempt, whatever the
// method or provider.
type Result struct {
	Success           bool    `json:"success"`
	Reference         string  `json:"reference"`
	TransactionID     string  `json:"transactionId,omitempty"`
	ProviderReference string  `json:"providerReference,omitempty"`
	Provider          string  `json:"provider,omitempty"`
	Status            Status  `json:"status"`
	Message           string  `json:"message,omitempty"`
	Details           Details `json:"-"`
}

// Details carries the method specific part of a Result. Exactly one of the
// concrete types below.
type Details interface {
	Kind() string
}

type MobileMoneyDetails struct {
	Phone        string `json:"phone"`
	Network      string `json:"network"`
	Instructions string `json:"instructions,omitempty"`
}

type AuthMode string

const (
	AuthDirect   AuthMode = "direct"
	Auth3DSecure AuthMode = "3ds_redirect"
	AuthOTP      AuthMode = "otp"
	AuthPIN      AuthMode = "pin"
)

type CardDetails struct {
	AuthMode    AuthMode `json:"authMode"`
	RedirectURL string   `json:"redirectUrl,omitempty"`
	Last4       string   `json:"last4,omitempty"`
	Message     string   `json:"message,omitempty"`
}

type BankTransferDetails struct {
	AccountNumber string          `json:"accountNumber"`
	BankName      string          `json:"bankName"`
	AccountName   string          `json:"accountName,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	ExpiresAt     time.Time       `json:"expiresAt"`
	Note          string          `json:"note,omitempty"`
}

type WalletDetails struct {
	WalletID        uint            `json:"walletId"`
	TransactionID   uint            `json:"transactionId"`
	PreviousBalance decimal.Decimal `json:"previousBalance"`
	NewBalance      decimal.Decimal `json:"newBalance"`
}

func (MobileMoneyDetails) Kind() string  { return "mobile_money" }
func (CardDetails) Kind() string         { return "card" }
func (BankTransferDetails) Kind() string { return "bank_transfer" }
func (WalletDetails) Kind() string       { return "wallet" }

// MarshalJSON writes details as {"type": kind, ...fields}.
func (r Result) MarshalJSON() ([]byte, error) {
	type plain Result
	out := struct {
		plain
		Details map[string]any `json:"details,omitempty"`
	}{plain: plain(r)}
	if r.Details != nil {
		m, err := detailsMap(r.Details)
		if err != nil {
			return nil, err
		}
		out.Details = m
	}
	return json.Marshal(out)
}

func detailsMap(d Details) (map[string]any, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	m := map[string]any{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	m["type"] = d.Kind()
	return m, nil
}

func failed(reference, provider, message string) *Result {
	return &Result{Reference: reference, Provider: provider, Status: StatusFailed, Message: message}
}
