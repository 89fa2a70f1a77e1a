package initializers

import (
	"github.com/food-bundles/food-bundles-bn-sub001/models"
	"gorm.io/gorm"
)

// Migrate creates or updates every table the core owns.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Restaurant{},
		&models.Product{},
		&models.Cart{},
		&models.CartItem{},
		&models.OrderSequence{},
		&models.Order{},
		&models.OrderItem{},
		&models.PaymentAttempt{},
		&models.Wallet{},
		&models.WalletTransaction{},
		&models.RestaurantSubscription{},
	)
}

func SyncDatabase() error {
	return Migrate(DB)
}
