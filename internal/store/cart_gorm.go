package store

import (
	"context"
	"errors"
	"time"

	"cart-service/internal/models"
	"cart-service/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// productSummaryColumns limits the preloaded catalog row to what totals need.
var productSummaryColumns = []string{"id", "name", "sessions", "total_sessions", "package_type"}

type CartGormRepository struct {
	db *gorm.DB
}

// NewCartGormRepository creates the ORM-backed cart repository
func NewCartGormRepository(db *gorm.DB) *CartGormRepository {
	return &CartGormRepository{db: db}
}

// WithTx binds the repository to a caller-owned transaction
func (r *CartGormRepository) WithTx(tx *gorm.DB) repository.CartRepository {
	if tx == nil {
		return r
	}
	return &CartGormRepository{db: tx}
}

// FindCartByID retrieves a cart by ID
func (r *CartGormRepository) FindCartByID(ctx context.Context, cartID int64) (models.Cart, error) {
	var cart models.Cart
	err := r.db.WithContext(ctx).First(&cart, cartID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Cart{}, models.ErrCartNotFound
	}
	if err != nil {
		return models.Cart{}, err
	}
	return cart, nil
}

// FindActiveCartByUserID retrieves the user's active cart
func (r *CartGormRepository) FindActiveCartByUserID(ctx context.Context, userID int64) (models.Cart, error) {
	var cart models.Cart
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, models.CartStatusActive).
		Order("id desc").
		First(&cart).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Cart{}, models.ErrCartNotFound
	}
	if err != nil {
		return models.Cart{}, err
	}
	return cart, nil
}

// FindOrCreateActiveCart finds the user's active cart or creates one. Only the
// id, owner and status columns are touched so the call survives drift on the
// rest of the table.
func (r *CartGormRepository) FindOrCreateActiveCart(ctx context.Context, userID int64) (models.Cart, bool, error) {
	var cart models.Cart
	find := func() error {
		return r.db.WithContext(ctx).
			Select("id", "user_id", "status").
			Where("user_id = ? AND status = ?", userID, models.CartStatusActive).
			Order("id desc").
			First(&cart).Error
	}

	err := find()
	if err == nil {
		return cart, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Cart{}, false, err
	}

	newCart := models.Cart{UserID: userID, Status: models.CartStatusActive}
	if err := r.db.WithContext(ctx).Select("user_id", "status").Create(&newCart).Error; err != nil {
		// another request may have created it first
		if retryErr := find(); retryErr == nil {
			return cart, false, nil
		}
		return models.Cart{}, false, err
	}
	return newCart, true, nil
}

// UpdateCartTotal writes the persisted total and last activity time
func (r *CartGormRepository) UpdateCartTotal(ctx context.Context, cartID int64, total decimal.Decimal, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&models.Cart{}).
		Where("id = ?", cartID).
		Updates(map[string]interface{}{
			"total":            total,
			"last_activity_at": at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.ErrCartNotFound
	}
	return nil
}

// UpdateCartStatus transitions a cart only if it is still in the expected status
func (r *CartGormRepository) UpdateCartStatus(ctx context.Context, cartID int64, from, to string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Cart{}).
		Where("id = ? AND status = ?", cartID, from).
		Update("status", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListIdleActiveCarts returns active carts with no activity since before
func (r *CartGormRepository) ListIdleActiveCarts(ctx context.Context, before time.Time, limit int) ([]models.Cart, error) {
	var carts []models.Cart
	err := r.db.WithContext(ctx).
		Where("status = ?", models.CartStatusActive).
		Where("COALESCE(last_activity_at, updated_at, created_at) < ?", before).
		Order("id asc").
		Limit(limit).
		Find(&carts).Error
	if err != nil {
		return []models.Cart{}, err
	}
	return carts, nil
}

// LoadCartItems lists cart lines with their catalog product
func (r *CartGormRepository) LoadCartItems(ctx context.Context, cartID int64) ([]models.CartItem, error) {
	var items []models.CartItem
	err := r.db.WithContext(ctx).
		Where("cart_id = ?", cartID).
		Preload("Product", func(db *gorm.DB) *gorm.DB {
			return db.Select(productSummaryColumns)
		}).
		Order("id asc").
		Find(&items).Error
	if err != nil {
		return []models.CartItem{}, err
	}
	return items, nil
}

// FindCartItem retrieves one line of a cart
func (r *CartGormRepository) FindCartItem(ctx context.Context, cartID, itemID int64) (models.CartItem, error) {
	var item models.CartItem
	err := r.db.WithContext(ctx).
		Where("id = ? AND cart_id = ?", itemID, cartID).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.CartItem{}, models.ErrCartItemNotFound
	}
	if err != nil {
		return models.CartItem{}, err
	}
	return item, nil
}

// FindCartItemByProduct retrieves the line holding a product, if any
func (r *CartGormRepository) FindCartItemByProduct(ctx context.Context, cartID, productID int64) (models.CartItem, error) {
	var item models.CartItem
	err := r.db.WithContext(ctx).
		Where("cart_id = ? AND storefront_item_id = ?", cartID, productID).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.CartItem{}, models.ErrCartItemNotFound
	}
	if err != nil {
		return models.CartItem{}, err
	}
	return item, nil
}

// CreateCartItem inserts a new line
func (r *CartGormRepository) CreateCartItem(ctx context.Context, item *models.CartItem) error {
	return r.db.WithContext(ctx).Omit("Product").Create(item).Error
}

// UpdateCartItemQuantity sets the quantity of a line
func (r *CartGormRepository) UpdateCartItemQuantity(ctx context.Context, itemID, quantity int64) error {
	res := r.db.WithContext(ctx).
		Model(&models.CartItem{}).
		Where("id = ?", itemID).
		Update("quantity", quantity)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.ErrCartItemNotFound
	}
	return nil
}

// DeleteCartItem removes a line
func (r *CartGormRepository) DeleteCartItem(ctx context.Context, itemID int64) error {
	res := r.db.WithContext(ctx).Delete(&models.CartItem{}, itemID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.ErrCartItemNotFound
	}
	return nil
}

// DeleteCartItems removes every line of a cart
func (r *CartGormRepository) DeleteCartItems(ctx context.Context, cartID int64) error {
	return r.db.WithContext(ctx).
		Where("cart_id = ?", cartID).
		Delete(&models.CartItem{}).Error
}

// FindProductByID retrieves a catalog product
func (r *CartGormRepository) FindProductByID(ctx context.Context, productID int64) (models.CatalogProduct, error) {
	var p models.CatalogProduct
	err := r.db.WithContext(ctx).First(&p, productID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.CatalogProduct{}, models.ErrProductNotFound
	}
	if err != nil {
		return models.CatalogProduct{}, err
	}
	return p, nil
}
