package orders

import (
	"fmt"
	"time"

	"github.com/food-bundles/food-bundles-bn-sub001/apperr"
	"github.com/food-bundles/food-bundles-bn-sub001/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// NextOrderNumber increments the day's counter inside tx and formats
// ORD + YYMMDD + 4 digit sequence. The upsert holds the counter row until
// tx commits, so numbers are unique without a count query.
func NextOrderNumber(tx *gorm.DB, now time.Time) (string, error) {
	day := now.Format("060102")
	seq := models.OrderSequence{Day: day, Value: 1}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "day"}},
		DoUpdates: clause.Assignments(map[string]any{"value": gorm.Expr("value + 1")}),
	}).Create(&seq).Error
	if err != nil {
		return "", apperr.FromDB(err, "next order sequence")
	}
	if err := tx.Where("day = ?", day).First(&seq).Error; err != nil {
		return "", apperr.FromDB(err, "read order sequence")
	}
	return fmt.Sprintf("ORD%s%04d", day, seq.Value), nil
}
