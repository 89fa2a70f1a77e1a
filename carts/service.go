// Package carts owns the restaurant's in-progress basket.
package carts

import (
	"context"
	"errors"
	"log/slog"

	"github.com/food-bundles/food-bundles-bn-sub001/apperr"
	"github.com/food-bundles/food-bundles-bn-sub001/inventory"
	"github.com/food-bundles/food-bundles-bn-sub001/logging"
	"github.com/food-bundles/food-bundles-bn-sub001/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Service struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db, logger: logging.New("cart_service")}
}

// Get returns the restaurant's ACTIVE cart with its items, creating it when absent.
func (s *Service) Get(ctx context.Context, restaurantID uint) (*models.Cart, error) {
	var cart *models.Cart
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireRestaurant(tx, restaurantID); err != nil {
			return err
		}
		c, err := ActiveCart(tx, restaurantID)
		if err != nil {
			return err
		}
		cart = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cart, nil
}

// AddItem merges quantity into the product's line or inserts a new one with a price snapshot.
func (s *Service) AddItem(ctx context.Context, restaurantID, productID uint, quantity int) (*models.Cart, error) {
	if quantity <= 0 {
		return nil, apperr.Validation("quantity must be greater than zero")
	}
	log := logging.FromCtx(ctx, s.logger)

	var cart *models.Cart
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireRestaurant(tx, restaurantID); err != nil {
			return err
		}
		var product models.Product
		if err := tx.First(&product, productID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("product %d not found", productID)
			}
			return apperr.FromDB(err, "load product")
		}

		c, err := ActiveCart(tx, restaurantID)
		if err != nil {
			return err
		}

		if lineFor(c, productID) == nil {
			if err := inventory.CheckAvailable(&product, quantity); err != nil {
				return err
			}
			item := models.CartItem{
				CartID:      c.ID,
				ProductID:   product.ID,
				ProductName: product.Name,
				Quantity:    quantity,
				UnitPrice:   product.UnitPrice,
				Subtotal:    product.UnitPrice.Mul(decimalInt(quantity)),
			}
			// A concurrent add of the same product may have inserted the line first.
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&item)
			if res.Error != nil {
				return apperr.FromDB(res.Error, "create cart item")
			}
			if res.RowsAffected == 1 {
				cart, err = touch(tx, c.ID, true)
				return err
			}
		}
		if err := mergeLine(tx, c.ID, &product, quantity); err != nil {
			return err
		}

		cart, err = touch(tx, c.ID, true)
		return err
	})
	if err != nil {
		return nil, err
	}
	log.Info("cart item added", "cart_id", cart.ID, "product_id", productID, "quantity", quantity)
	return cart, nil
}

// UpdateItem sets a line's quantity after checking the requester owns the cart.
func (s *Service) UpdateItem(ctx context.Context, restaurantID, itemID uint, quantity int) (*models.Cart, error) {
	if quantity <= 0 {
		return nil, apperr.Validation("quantity must be greater than zero")
	}

	var cart *models.Cart
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		item, err := ownedItem(tx, restaurantID, itemID)
		if err != nil {
			return err
		}
		var product models.Product
		if err := tx.First(&product, item.ProductID).Error; err != nil {
			return apperr.FromDB(err, "load product")
		}
		if err := inventory.CheckAvailable(&product, quantity); err != nil {
			return err
		}
		if err := tx.Model(&models.CartItem{}).Where("id = ?", item.ID).
			Updates(map[string]any{
				"quantity": quantity,
				"subtotal": item.UnitPrice.Mul(decimalInt(quantity)),
			}).Error; err != nil {
			return apperr.FromDB(err, "update cart item")
		}
		cart, err = touch(tx, item.CartID, true)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cart, nil
}

func (s *Service) RemoveItem(ctx context.Context, restaurantID, itemID uint) (*models.Cart, error) {
	var cart *models.Cart
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		item, err := ownedItem(tx, restaurantID, itemID)
		if err != nil {
			return err
		}
		if err := tx.Unscoped().Delete(&models.CartItem{}, item.ID).Error; err != nil {
			return apperr.FromDB(err, "delete cart item")
		}
		cart, err = touch(tx, item.CartID, true)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cart, nil
}

// Clear empties the ACTIVE cart and keeps the row for reuse.
func (s *Service) Clear(ctx context.Context, restaurantID uint) (*models.Cart, error) {
	var cart *models.Cart
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireRestaurant(tx, restaurantID); err != nil {
			return err
		}
		c, err := ActiveCart(tx, restaurantID)
		if err != nil {
			return err
		}
		cart, err = ClearItems(tx, c.ID, true)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cart, nil
}

// ActiveCart loads the restaurant's ACTIVE cart inside tx, creating one on first use.
func ActiveCart(tx *gorm.DB, restaurantID uint) (*models.Cart, error) {
	var cart models.Cart
	err := tx.Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Where("restaurant_id = ? AND status = ?", restaurantID, models.CartActive).
		First(&cart).Error
	if err == nil {
		return &cart, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.FromDB(err, "load cart")
	}

	rid := restaurantID
	cart = models.Cart{
		RestaurantID:       restaurantID,
		Status:             models.CartActive,
		ActiveRestaurantID: &rid,
	}
	// A concurrent first add may have created the cart already.
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Omit(clause.Associations).Create(&cart)
	if res.Error != nil {
		return nil, apperr.FromDB(res.Error, "create cart")
	}
	if res.RowsAffected == 0 {
		cart = models.Cart{}
		if err := tx.Preload("Items").
			Where("restaurant_id = ? AND status = ?", restaurantID, models.CartActive).
			First(&cart).Error; err != nil {
			return nil, apperr.FromDB(err, "load cart")
		}
	}
	return &cart, nil
}

// ClearItems hard-deletes every line of a cart and resets its total.
func ClearItems(tx *gorm.DB, cartID uint, bumpRevision bool) (*models.Cart, error) {
	if err := tx.Unscoped().Where("cart_id = ?", cartID).Delete(&models.CartItem{}).Error; err != nil {
		return nil, apperr.FromDB(err, "clear cart items")
	}
	return touch(tx, cartID, bumpRevision)
}

// touch recomputes the total from the stored lines and optionally bumps the revision.
func touch(tx *gorm.DB, cartID uint, bumpRevision bool) (*models.Cart, error) {
	var cart models.Cart
	if err := tx.Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		First(&cart, cartID).Error; err != nil {
		return nil, apperr.FromDB(err, "load cart")
	}
	cart.Recalculate()

	updates := map[string]any{"total_amount": cart.TotalAmount}
	if bumpRevision {
		updates["revision"] = gorm.Expr("revision + 1")
		cart.Revision++
	}
	if err := tx.Model(&models.Cart{}).Where("id = ?", cart.ID).Updates(updates).Error; err != nil {
		return nil, apperr.FromDB(err, "update cart total")
	}
	return &cart, nil
}

func ownedItem(tx *gorm.DB, restaurantID, itemID uint) (*models.CartItem, error) {
	var item models.CartItem
	if err := tx.First(&item, itemID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("cart item %d not found", itemID)
		}
		return nil, apperr.FromDB(err, "load cart item")
	}
	var cart models.Cart
	if err := tx.Select("id", "restaurant_id", "status").First(&cart, item.CartID).Error; err != nil {
		return nil, apperr.FromDB(err, "load cart")
	}
	if cart.RestaurantID != restaurantID {
		return nil, apperr.New(apperr.CodeOwnership, "cart item does not belong to this restaurant")
	}
	if cart.Status != models.CartActive {
		return nil, apperr.Validation("cart is no longer active")
	}
	return &item, nil
}

func requireRestaurant(tx *gorm.DB, restaurantID uint) error {
	var count int64
	if err := tx.Model(&models.Restaurant{}).Where("id = ?", restaurantID).Count(&count).Error; err != nil {
		return apperr.FromDB(err, "load restaurant")
	}
	if count == 0 {
		return apperr.NotFound("restaurant %d not found", restaurantID)
	}
	return nil
}

// mergeLine increments the product's line in place, then checks stock
// against the quantity the line ends up with.
func mergeLine(tx *gorm.DB, cartID uint, product *models.Product, quantity int) error {
	res := tx.Model(&models.CartItem{}).
		Where("cart_id = ? AND product_id = ?", cartID, product.ID).
		Update("quantity", gorm.Expr("quantity + ?", quantity))
	if res.Error != nil {
		return apperr.FromDB(res.Error, "update cart item")
	}
	if res.RowsAffected == 0 {
		return apperr.New(apperr.CodeConflict, "cart item changed concurrently")
	}

	var line models.CartItem
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("cart_id = ? AND product_id = ?", cartID, product.ID).
		First(&line).Error; err != nil {
		return apperr.FromDB(err, "load cart item")
	}
	if err := inventory.CheckAvailable(product, line.Quantity); err != nil {
		return err
	}
	if err := tx.Model(&models.CartItem{}).Where("id = ?", line.ID).
		Update("subtotal", line.UnitPrice.Mul(decimalInt(line.Quantity))).Error; err != nil {
		return apperr.FromDB(err, "update cart item")
	}
	return nil
}

func lineFor(c *models.Cart, productID uint) *models.CartItem {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return &c.Items[i]
		}
	}
	return nil
}

func decimalInt(n int) decimal.Decimal { return decimal.NewFromInt(int64(n)) }
