package payments

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Customer is who the provider bills.
type Customer struct {
	Name  string
	Email string
	Phone string
}

type MobileMoneyRequest struct {
	Reference string
	Amount    decimal.Decimal
	Currency  string
	Phone     string
	Network   string
	Customer  Customer
}

type CardInput struct {
	Number string `json:"number"`
	Expiry string `json:"expiry"` // MM/YY
	CVV    string `json:"cvv"`
	PIN    string `json:"pin,omitempty"`
}

type CardRequest struct {
	Reference   string
	Amount      decimal.Decimal
	Currency    string
	Card        CardInput
	Customer    Customer
	RedirectURL string
}

type BankTransferRequest struct {
	Reference string
	Amount    decimal.Decimal
	Currency  string
	Customer  Customer
	ExpiresAt time.Time
}

type VirtualAccount struct {
	AccountNumber string
	BankName      string
	AccountName   string
	ExpiresAt     time.Time
	Note          string
}

// ProviderResponse is what an adapter reports for an initiated charge.
type ProviderResponse struct {
	Status            Status
	ProviderReference string
	TransactionID     string
	Message           string
	AuthMode          AuthMode
	RedirectURL       string
	Account           *VirtualAccount
}

// Verification is a provider's answer to "what happened to this transaction".
type Verification struct {
	Status            Status
	Reference         string
	ProviderReference string
	TransactionID     string
	Amount            decimal.Decimal
	Currency          string
	Message           string
}

type MobileMoneyProvider interface {
	Name() string
	InitiateMobileMoney(ctx context.Context, req MobileMoneyRequest) (*ProviderResponse, error)
}

type CardProvider interface {
	Name() string
	ChargeCard(ctx context.Context, req CardRequest) (*ProviderResponse, error)
}

type BankTransferProvider interface {
	Name() string
	InitiateBankTransfer(ctx context.Context, req BankTransferRequest) (*ProviderResponse, error)
}

type Verifier interface {
	Name() string
	VerifyTransaction(ctx context.Context, id string) (*Verification, error)
}
