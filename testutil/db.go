// Package testutil provides an in-memory database and fixtures for package tests.
package testutil

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/food-bundles/food-bundles-bn-sub001/initializers"
	"github.com/food-bundles/food-bundles-bn-sub001/models"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

// NewDB opens a private in-memory SQLite database with every table migrated.
// A single connection keeps SQLite's writer lock out of the way.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared&_pragma=foreign_keys(1)", name, dbSeq.Add(1))

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, initializers.Migrate(db))
	return db
}

func Money(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func CreateRestaurant(t testing.TB, db *gorm.DB, name string) models.Restaurant {
	t.Helper()
	r := models.Restaurant{
		Name:  name,
		Email: strings.ToLower(strings.ReplaceAll(name, " ", "")) + "@example.rw",
		Phone: "0788123456",
	}
	require.NoError(t, db.Create(&r).Error)
	return r
}

func CreateProduct(t testing.TB, db *gorm.DB, name string, price int64, stock int) models.Product {
	t.Helper()
	p := models.Product{
		Name:      name,
		Unit:      "kg",
		Category:  "vegetables",
		UnitPrice: Money(price),
		Quantity:  stock,
		Status:    models.ProductActive,
	}
	require.NoError(t, db.Create(&p).Error)
	return p
}

func CreateWallet(t testing.TB, db *gorm.DB, restaurantID uint, balance int64) models.Wallet {
	t.Helper()
	w := models.Wallet{
		RestaurantID: restaurantID,
		Balance:      Money(balance),
		Currency:     "RWF",
		IsActive:     true,
	}
	require.NoError(t, db.Create(&w).Error)
	return w
}

func Stock(t testing.TB, db *gorm.DB, productID uint) int {
	t.Helper()
	var p models.Product
	require.NoError(t, db.First(&p, productID).Error)
	return p.Quantity
}

func ReloadWallet(t testing.TB, db *gorm.DB, id uint) models.Wallet {
	t.Helper()
	var w models.Wallet
	require.NoError(t, db.First(&w, id).Error)
	return w
}
