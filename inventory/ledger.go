// Package inventory moves Product.quantity through conditional updates only.
// A zero-row update is the insufficiency signal; no caller reads stock and
// writes it back.
package inventory

import (
	"context"
	"errors"

	"github.com/food-bundles/food-bundles-bn-sub001/apperr"
	"github.com/food-bundles/food-bundles-bn-sub001/models"
	"gorm.io/gorm"
)

// Reserve decrements available stock by qty if the product is ACTIVE and has enough.
func Reserve(ctx context.Context, tx *gorm.DB, productID uint, qty int) error {
	if qty <= 0 {
		return apperr.Validation("quantity must be greater than zero")
	}
	res := tx.WithContext(ctx).Model(&models.Product{}).
		Where("id = ? AND status = ? AND quantity >= ?", productID, models.ProductActive, qty).
		Update("quantity", gorm.Expr("quantity - ?", qty))
	if res.Error != nil {
		return apperr.FromDB(res.Error, "reserve stock")
	}
	if res.RowsAffected == 1 {
		return nil
	}
	return explainShortfall(ctx, tx, productID, qty)
}

// Release returns qty units to the product.
func Release(ctx context.Context, tx *gorm.DB, productID uint, qty int) error {
	if qty <= 0 {
		return apperr.Validation("quantity must be greater than zero")
	}
	res := tx.WithContext(ctx).Model(&models.Product{}).
		Where("id = ?", productID).
		Update("quantity", gorm.Expr("quantity + ?", qty))
	if res.Error != nil {
		return apperr.FromDB(res.Error, "release stock")
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("product %d not found", productID)
	}
	return nil
}

// Available returns the current stock of a product.
func Available(ctx context.Context, db *gorm.DB, productID uint) (int, error) {
	var p models.Product
	if err := db.WithContext(ctx).Select("id", "quantity").First(&p, productID).Error; err != nil {
		return 0, apperr.FromDB(err, "load product")
	}
	return p.Quantity, nil
}

// CheckAvailable validates a product for a requested quantity without moving stock.
func CheckAvailable(p *models.Product, requested int) error {
	if p.Status != models.ProductActive {
		return apperr.Validation("product %q is not available", p.Name)
	}
	if requested > p.Quantity {
		return apperr.Newf(apperr.CodeInsufficientStock, "only %d %s of %q left in stock", p.Quantity, p.Unit, p.Name)
	}
	return nil
}

func explainShortfall(ctx context.Context, tx *gorm.DB, productID uint, qty int) error {
	var p models.Product
	err := tx.WithContext(ctx).First(&p, productID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound("product %d not found", productID)
	}
	if err != nil {
		return apperr.FromDB(err, "load product")
	}
	if err := CheckAvailable(&p, qty); err != nil {
		return err
	}
	// The row changed between the update and this read; treat as contention.
	return apperr.Newf(apperr.CodeInsufficientStock, "stock for %q changed, please retry", p.Name)
}
