package repository

import (
	"context"
	"time"

	"cart-service/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CartRepository is the ORM path over carts, cart lines and the catalog.
// Lookups that miss return models.ErrCartNotFound, models.ErrCartItemNotFound
// or models.ErrProductNotFound; driver errors come back unwrapped so they can
// be classified.
type CartRepository interface {
	// WithTx returns a repository bound to a caller-owned transaction.
	WithTx(tx *gorm.DB) CartRepository

	FindCartByID(ctx context.Context, cartID int64) (models.Cart, error)
	FindActiveCartByUserID(ctx context.Context, userID int64) (models.Cart, error)
	// FindOrCreateActiveCart reports whether the cart was created.
	FindOrCreateActiveCart(ctx context.Context, userID int64) (models.Cart, bool, error)
	UpdateCartTotal(ctx context.Context, cartID int64, total decimal.Decimal, at time.Time) error
	// UpdateCartStatus moves a cart from one status to another and reports
	// whether a row changed.
	UpdateCartStatus(ctx context.Context, cartID int64, from, to string) (bool, error)
	ListIdleActiveCarts(ctx context.Context, before time.Time, limit int) ([]models.Cart, error)

	// LoadCartItems returns the lines of a cart with the linked product
	// preloaded (nil when it cannot be resolved).
	LoadCartItems(ctx context.Context, cartID int64) ([]models.CartItem, error)
	FindCartItem(ctx context.Context, cartID, itemID int64) (models.CartItem, error)
	FindCartItemByProduct(ctx context.Context, cartID, productID int64) (models.CartItem, error)
	CreateCartItem(ctx context.Context, item *models.CartItem) error
	UpdateCartItemQuantity(ctx context.Context, itemID, quantity int64) error
	DeleteCartItem(ctx context.Context, itemID int64) error
	DeleteCartItems(ctx context.Context, cartID int64) error

	FindProductByID(ctx context.Context, productID int64) (models.CatalogProduct, error)
}

// FallbackStore is the raw SQL path used when the ORM path hits schema drift.
// It targets whatever columns the live tables actually have.
type FallbackStore interface {
	// LoadCartItemsWithProducts reads cart lines and merges the requested
	// product attributes that exist in the catalog table.
	LoadCartItemsWithProducts(ctx context.Context, cartID int64, productAttrs []string) ([]models.CartItem, error)
	FindOrCreateActiveCart(ctx context.Context, userID int64) (models.Cart, bool, error)
	CartExists(ctx context.Context, cartID int64) (bool, error)
	// CartOwnedBy reports whether the cart exists and belongs to userID.
	CartOwnedBy(ctx context.Context, cartID, userID int64) (bool, error)
	UpdateCartTotal(ctx context.Context, cartID int64, total decimal.Decimal, at time.Time) error
}
