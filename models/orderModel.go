package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderConfirmed OrderStatus = "CONFIRMED"
	OrderPreparing OrderStatus = "PREPARING"
	OrderReady     OrderStatus = "READY"
	OrderInTransit OrderStatus = "IN_TRANSIT"
	OrderDelivered OrderStatus = "DELIVERED"
	OrderCancelled OrderStatus = "CANCELLED"
	OrderRefunded  OrderStatus = "REFUNDED"
)

type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "PENDING"
	PaymentProcessing PaymentStatus = "PROCESSING"
	PaymentCompleted  PaymentStatus = "COMPLETED"
	PaymentFailed     PaymentStatus = "FAILED"
)

type PaymentMethod string

const (
	MethodMobileMoney  PaymentMethod = "MOBILE_MONEY"
	MethodCard         PaymentMethod = "CARD"
	MethodBankTransfer PaymentMethod = "BANK_TRANSFER"
	MethodCash         PaymentMethod = "CASH"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodMobileMoney, MethodCard, MethodBankTransfer, MethodCash:
		return true
	}
	return false
}

type Billing struct {
	BillingName    string `json:"billingName"`
	BillingEmail   string `json:"billingEmail"`
	BillingPhone   string `json:"billingPhone"`
	BillingAddress string `json:"billingAddress"`
}

type Order struct {
	gorm.Model
	OrderNumber  string          `json:"orderNumber" gorm:"type:varchar(20);uniqueIndex;not null"`
	CartID       *uint           `json:"cartId" gorm:"uniqueIndex:idx_order_cart_revision"`
	CartRevision *int            `json:"-" gorm:"uniqueIndex:idx_order_cart_revision"`
	RestaurantID uint            `json:"restaurantId" gorm:"not null;index"`
	OrderItems   []OrderItem     `json:"orderItems" gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	TotalAmount  decimal.Decimal `json:"totalAmount" gorm:"type:decimal(14,2);not null"`
	Currency     string          `json:"currency" gorm:"type:varchar(3);not null;default:'RWF'"`

	Status        OrderStatus   `json:"status" gorm:"type:varchar(20);not null;index"`
	PaymentStatus PaymentStatus `json:"paymentStatus" gorm:"type:varchar(20);not null;index"`
	PaymentMethod PaymentMethod `json:"paymentMethod" gorm:"type:varchar(20)"`

	Billing `gorm:"embedded"`

	TransactionReference  *string        `json:"transactionReference" gorm:"type:varchar(64);uniqueIndex"`
	PaymentProvider       string         `json:"paymentProvider"`
	ProviderReference     string         `json:"providerReference" gorm:"index"`
	ProviderTransactionID string         `json:"providerTransactionId"`
	ProviderStatus        string         `json:"providerStatus"`
	ProviderMessage       string         `json:"providerMessage"`
	PaymentDetails        datatypes.JSON `json:"paymentDetails"`

	CardLast4           string `json:"cardLast4,omitempty"`
	EncryptedCardNumber string `json:"-"`
	EncryptedCardExpiry string `json:"-"`

	RequestedDelivery *time.Time `json:"requestedDelivery"`
	EstimatedDelivery *time.Time `json:"estimatedDelivery"`
	ActualDelivery    *time.Time `json:"actualDelivery"`
	Notes             string     `json:"notes" gorm:"type:text"`
}

// OrderItem is a snapshot taken at order time, decoupled from the live product.
type OrderItem struct {
	gorm.Model
	OrderID   uint            `json:"orderId" gorm:"not null;index"`
	ProductID uint            `json:"productId" gorm:"not null"`
	Name      string          `json:"name"`
	Unit      string          `json:"unit"`
	Category  string          `json:"category"`
	UnitPrice decimal.Decimal `json:"unitPrice" gorm:"type:decimal(14,2);not null"`
	Quantity  int             `json:"quantity" gorm:"not null"`
	Subtotal  decimal.Decimal `json:"subtotal" gorm:"type:decimal(14,2);not null"`
}

// OrderSequence is the atomic per-day counter behind order numbers.
type OrderSequence struct {
	Day   string `gorm:"type:varchar(6);primaryKey"`
	Value int    `gorm:"not null"`
}

// PaymentAttempt is an audit row for every dispatch outcome.
type PaymentAttempt struct {
	gorm.Model
	Reference         string         `json:"reference" gorm:"type:varchar(64);index"`
	OrderID           *uint          `json:"orderId" gorm:"index"`
	Method            PaymentMethod  `json:"method" gorm:"type:varchar(20)"`
	Provider          string         `json:"provider"`
	Status            string         `json:"status"`
	Message           string         `json:"message"`
	ProviderReference string         `json:"providerReference"`
	Details           datatypes.JSON `json:"details"`
}
