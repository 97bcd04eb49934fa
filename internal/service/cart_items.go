package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"cart-service/internal/models"
	"cart-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CartView is the active cart as shown to its owner.
type CartView struct {
	Cart   models.Cart       `json:"cart"`
	Items  []models.CartItem `json:"items"`
	Totals models.CartTotals `json:"totals"`
}

// GetActiveCart returns the caller's active cart with its lines and totals,
// creating an empty cart on first use.
func (s *CartService) GetActiveCart(ctx context.Context, rawUserID interface{}) (*CartView, error) {
	ctx, span := util.StartSpan(ctx, "CartService.GetActiveCart")
	defer span.End()

	cart, _, err := s.SafeFindOrCreateActiveCart(ctx, rawUserID)
	if err != nil {
		return nil, err
	}
	return s.viewCart(ctx, cart)
}

// AddItem adds quantity units of a catalog product. Adding a product already
// in the cart increases that line's quantity. The unit price is taken from
// the catalog at this moment and not re-derived later.
func (s *CartService) AddItem(ctx context.Context, rawUserID interface{}, productID, quantity int64) (*CartView, error) {
	ctx, span := util.StartSpan(ctx, "CartService.AddItem")
	defer span.End()

	if productID <= 0 {
		return nil, fmt.Errorf("%w: product id must be positive", models.ErrInvalidInput)
	}
	if quantity < 1 {
		return nil, models.ErrInvalidQuantity
	}

	cart, _, err := s.SafeFindOrCreateActiveCart(ctx, rawUserID)
	if err != nil {
		return nil, err
	}

	product, err := s.carts.FindProductByID(ctx, productID)
	if err != nil {
		return nil, err
	}

	existing, err := s.carts.FindCartItemByProduct(ctx, cart.ID, productID)
	switch {
	case err == nil:
		qty := existing.Quantity.Int64 + quantity
		if err := s.carts.UpdateCartItemQuantity(ctx, existing.ID, qty); err != nil {
			return nil, fmt.Errorf("failed to update cart item: %w", err)
		}
	case errors.Is(err, models.ErrCartItemNotFound):
		price := decimal.Zero
		if product.Price.Valid {
			price = product.Price.Decimal
		}
		pid := product.ID
		item := &models.CartItem{
			CartID:    cart.ID,
			ProductID: &pid,
			Quantity:  nullInt64(quantity),
			Price:     decimal.NewNullDecimal(price),
		}
		if err := s.carts.CreateCartItem(ctx, item); err != nil {
			return nil, fmt.Errorf("failed to create cart item: %w", err)
		}
	default:
		return nil, err
	}

	s.logger.Info("Item added to cart",
		zap.Int64("cart_id", cart.ID),
		zap.Int64("product_id", productID),
		zap.Int64("quantity", quantity))

	s.refreshTotals(ctx, cart.ID)
	return s.viewCart(ctx, cart)
}

// UpdateItemQuantity sets the quantity of one line of the caller's cart.
func (s *CartService) UpdateItemQuantity(ctx context.Context, rawUserID interface{}, itemID, quantity int64) (*CartView, error) {
	ctx, span := util.StartSpan(ctx, "CartService.UpdateItemQuantity")
	defer span.End()

	if quantity < 1 {
		return nil, models.ErrInvalidQuantity
	}

	cart, item, err := s.ownedItem(ctx, rawUserID, itemID)
	if err != nil {
		return nil, err
	}

	if err := s.carts.UpdateCartItemQuantity(ctx, item.ID, quantity); err != nil {
		return nil, fmt.Errorf("failed to update cart item: %w", err)
	}

	s.refreshTotals(ctx, cart.ID)
	return s.viewCart(ctx, cart)
}

// RemoveItem deletes one line of the caller's cart.
func (s *CartService) RemoveItem(ctx context.Context, rawUserID interface{}, itemID int64) (*CartView, error) {
	ctx, span := util.StartSpan(ctx, "CartService.RemoveItem")
	defer span.End()

	cart, item, err := s.ownedItem(ctx, rawUserID, itemID)
	if err != nil {
		return nil, err
	}

	if err := s.carts.DeleteCartItem(ctx, item.ID); err != nil {
		return nil, fmt.Errorf("failed to delete cart item: %w", err)
	}

	s.refreshTotals(ctx, cart.ID)
	return s.viewCart(ctx, cart)
}

// ClearCart removes every line of the caller's active cart.
func (s *CartService) ClearCart(ctx context.Context, rawUserID interface{}) (*CartView, error) {
	ctx, span := util.StartSpan(ctx, "CartService.ClearCart")
	defer span.End()

	userID, err := NormalizeAuthenticatedUserID(rawUserID)
	if err != nil {
		return nil, err
	}

	cart, err := s.carts.FindActiveCartByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := s.carts.DeleteCartItems(ctx, cart.ID); err != nil {
		return nil, fmt.Errorf("failed to clear cart: %w", err)
	}

	s.logger.Info("Cart cleared", zap.Int64("cart_id", cart.ID))

	s.refreshTotals(ctx, cart.ID)
	return s.viewCart(ctx, cart)
}

// ownedItem resolves a line that must belong to the caller's active cart.
// A missing cart reads as a missing line.
func (s *CartService) ownedItem(ctx context.Context, rawUserID interface{}, itemID int64) (models.Cart, models.CartItem, error) {
	userID, err := NormalizeAuthenticatedUserID(rawUserID)
	if err != nil {
		return models.Cart{}, models.CartItem{}, err
	}
	if itemID <= 0 {
		return models.Cart{}, models.CartItem{}, models.ErrCartItemNotFound
	}

	cart, err := s.carts.FindActiveCartByUserID(ctx, userID)
	if errors.Is(err, models.ErrCartNotFound) {
		return models.Cart{}, models.CartItem{}, models.ErrCartItemNotFound
	}
	if err != nil {
		return models.Cart{}, models.CartItem{}, err
	}

	item, err := s.carts.FindCartItem(ctx, cart.ID, itemID)
	if err != nil {
		return models.Cart{}, models.CartItem{}, err
	}
	return cart, item, nil
}

// refreshTotals recomputes after a line mutation. A failed recomputation does
// not fail the mutation; reads recompute from the lines.
func (s *CartService) refreshTotals(ctx context.Context, cartID int64) {
	result := s.UpdateCartTotals(ctx, cartID, UpdateOptions{})
	if !result.Success {
		s.logger.Warn("Cart totals not refreshed after change",
			zap.Int64("cart_id", cartID),
			zap.String("error", result.Error))
		if s.cache != nil {
			if err := s.cache.InvalidateCartTotals(ctx, cartID); err != nil {
				s.logger.Warn("Failed to invalidate cached cart totals",
					zap.Int64("cart_id", cartID),
					zap.Error(err))
			}
		}
	}
}

func (s *CartService) viewCart(ctx context.Context, cart models.Cart) (*CartView, error) {
	items, err := s.SafeLoadCartItemsWithStorefront(ctx, cart.ID)
	if err != nil {
		return nil, err
	}
	totals := calculateCartTotals(items, s.logger)
	cart.Total = totals.Total
	return &CartView{Cart: cart, Items: items, Totals: totals}, nil
}

func nullInt64(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: true}
}
