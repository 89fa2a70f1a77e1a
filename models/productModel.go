package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type ProductStatus string

const (
	ProductActive     ProductStatus = "ACTIVE"
	ProductInactive   ProductStatus = "INACTIVE"
	ProductOutOfStock ProductStatus = "OUT_OF_STOCK"
)

// Product is owned by the catalogue; the core only moves Quantity.
type Product struct {
	gorm.Model
	Name      string          `json:"name"`
	Unit      string          `json:"unit"`
	Category  string          `json:"category"`
	UnitPrice decimal.Decimal `json:"unitPrice" gorm:"type:decimal(14,2);not null"`
	Quantity  int             `json:"quantity" gorm:"not null;default:0"`
	Status    ProductStatus   `json:"status" gorm:"type:varchar(20);not null;default:'ACTIVE'"`
}

type Restaurant struct {
	gorm.Model
	UserID uint   `json:"userId" gorm:"index"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Phone  string `json:"phone"`
}
