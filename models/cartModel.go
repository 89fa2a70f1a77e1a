package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type CartStatus string

const (
	CartActive    CartStatus = "ACTIVE"
	CartAbandoned CartStatus = "ABANDONED"
)

type CartItem struct {
	gorm.Model
	CartID      uint            `json:"cartId" gorm:"not null;uniqueIndex:idx_cart_product"`
	ProductID   uint            `json:"productId" gorm:"not null;uniqueIndex:idx_cart_product"`
	ProductName string          `json:"productName"`
	Quantity    int             `json:"quantity" gorm:"not null"`
	UnitPrice   decimal.Decimal `json:"unitPrice" gorm:"type:decimal(14,2);not null"`
	Subtotal    decimal.Decimal `json:"subtotal" gorm:"type:decimal(14,2);not null"`
}

type Cart struct {
	gorm.Model
	RestaurantID uint       `json:"restaurantId" gorm:"not null;index"`
	Status       CartStatus `json:"status" gorm:"type:varchar(20);not null;default:'ACTIVE'"`
	// ActiveRestaurantID is only set while the cart is ACTIVE, so the unique
	// index allows a single ACTIVE cart per restaurant.
	ActiveRestaurantID *uint           `json:"-" gorm:"uniqueIndex"`
	Revision           int             `json:"revision" gorm:"not null;default:0"`
	TotalAmount        decimal.Decimal `json:"totalAmount" gorm:"type:decimal(14,2);not null"`
	Items              []CartItem      `json:"items" gorm:"foreignKey:CartID;constraint:OnDelete:CASCADE"`
}

// Recalculate sets every line subtotal and the cart total from the lines.
func (c *Cart) Recalculate() {
	total := decimal.Zero
	for i := range c.Items {
		c.Items[i].Subtotal = c.Items[i].UnitPrice.Mul(decimal.NewFromInt(int64(c.Items[i].Quantity)))
		total = total.Add(c.Items[i].Subtotal)
	}
	c.TotalAmount = total
}
