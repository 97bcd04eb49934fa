package store

import (
	"context"
	"fmt"

	"cart-service/internal/models"

	"gorm.io/gorm"
)

const oneActiveCartIndex = `CREATE UNIQUE INDEX IF NOT EXISTS carts_one_active_per_user
	ON carts (user_id) WHERE status = 'active'`

// Migrate creates the canonical tables. Deployments on a legacy schema leave
// it disabled and rely on the fallback path instead.
func Migrate(ctx context.Context, gdb *gorm.DB) error {
	db := gdb.WithContext(ctx)
	if err := db.AutoMigrate(
		&models.CatalogProduct{},
		&models.Cart{},
		&models.CartItem{},
		&models.ProcessedEvent{},
	); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	if err := db.Exec(oneActiveCartIndex).Error; err != nil {
		return fmt.Errorf("failed to create active cart index: %w", err)
	}
	return nil
}
