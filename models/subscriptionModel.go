package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type SubscriptionStatus string

const (
	SubscriptionPending   SubscriptionStatus = "PENDING"
	SubscriptionActive    SubscriptionStatus = "ACTIVE"
	SubscriptionExpired   SubscriptionStatus = "EXPIRED"
	SubscriptionCancelled SubscriptionStatus = "CANCELLED"
)

// SubscriptionReferencePrefix marks subscription payments on the shared webhook channel.
const SubscriptionReferencePrefix = "SUB_"

type RestaurantSubscription struct {
	gorm.Model
	RestaurantID      uint               `json:"restaurantId" gorm:"not null;index"`
	PlanName          string             `json:"planName"`
	Amount            decimal.Decimal    `json:"amount" gorm:"type:decimal(14,2);not null"`
	DurationDays      int                `json:"durationDays" gorm:"not null"`
	Reference         string             `json:"reference" gorm:"type:varchar(64);uniqueIndex;not null"`
	PaymentMethod     PaymentMethod      `json:"paymentMethod" gorm:"type:varchar(20)"`
	PaymentStatus     PaymentStatus      `json:"paymentStatus" gorm:"type:varchar(20);not null"`
	Status            SubscriptionStatus `json:"status" gorm:"type:varchar(20);not null;index"`
	Provider          string             `json:"provider"`
	ProviderReference string             `json:"providerReference"`
	StartsAt          *time.Time         `json:"startsAt"`
	EndsAt            *time.Time         `json:"endsAt" gorm:"index"`
}
