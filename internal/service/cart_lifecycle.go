package service

import (
	"context"
	"fmt"
	"time"

	"cart-service/internal/models"
	"cart-service/internal/util"

	"go.uber.org/zap"
)

const expiryBatchSize = 100

// CompleteCart moves an active cart owned by userID to completed. It reports
// false when the cart had already left active, which makes redelivered
// checkouts harmless.
func (s *CartService) CompleteCart(ctx context.Context, cartID, userID int64) (bool, error) {
	ctx, span := util.CartSpan(ctx, "CartService.CompleteCart", cartID)
	defer span.End()

	if cartID <= 0 {
		return false, models.ErrInvalidCartID
	}

	cart, err := s.carts.FindCartByID(ctx, cartID)
	if err != nil {
		return false, err
	}
	if userID > 0 && cart.UserID != userID {
		return false, fmt.Errorf("%w: %d", models.ErrCartNotFound, cartID)
	}

	changed, err := s.carts.UpdateCartStatus(ctx, cartID, models.CartStatusActive, models.CartStatusCompleted)
	if err != nil {
		return false, fmt.Errorf("failed to update cart status: %w", err)
	}
	if !changed {
		s.logger.Info("Cart already closed",
			zap.Int64("cart_id", cartID),
			zap.String("status", cart.Status))
		return false, nil
	}

	util.CartsCompletedTotal.Inc()
	s.logger.Info("Cart completed", zap.Int64("cart_id", cartID), zap.Int64("user_id", cart.UserID))

	if s.events != nil {
		event := &models.CartCompletedEvent{
			BaseEvent: newBaseEvent(models.EventTypeCartCompleted, s.now()),
			CartID:    cartID,
			UserID:    cart.UserID,
			Total:     cart.Total,
		}
		if err := s.events.PublishCartCompleted(ctx, event); err != nil {
			s.logger.Error("Failed to publish cart completed event",
				zap.Int64("cart_id", cartID),
				zap.Error(err))
		}
	}
	return true, nil
}

// ExpireAbandonedCarts expires active carts with no activity for idleFor and
// returns how many it expired.
func (s *CartService) ExpireAbandonedCarts(ctx context.Context, idleFor time.Duration) (int, error) {
	ctx, span := util.StartSpan(ctx, "CartService.ExpireAbandonedCarts")
	defer span.End()

	if idleFor <= 0 {
		return 0, fmt.Errorf("%w: idle period must be positive", models.ErrInvalidInput)
	}
	before := s.now().Add(-idleFor)

	expired := 0
	for {
		carts, err := s.carts.ListIdleActiveCarts(ctx, before, expiryBatchSize)
		if err != nil {
			return expired, fmt.Errorf("failed to list idle carts: %w", err)
		}

		progressed := false
		for _, cart := range carts {
			changed, err := s.carts.UpdateCartStatus(ctx, cart.ID, models.CartStatusActive, models.CartStatusExpired)
			if err != nil {
				return expired, fmt.Errorf("failed to expire cart %d: %w", cart.ID, err)
			}
			if !changed {
				continue
			}
			progressed = true
			expired++
			util.CartsExpiredTotal.Inc()
			s.cartExpired(ctx, cart)
		}

		if len(carts) < expiryBatchSize || !progressed {
			break
		}
	}

	if expired > 0 {
		s.logger.Info("Abandoned carts expired",
			zap.Int("count", expired),
			zap.Time("idle_before", before))
	}
	return expired, nil
}

func (s *CartService) cartExpired(ctx context.Context, cart models.Cart) {
	if s.cache != nil {
		if err := s.cache.InvalidateCartTotals(ctx, cart.ID); err != nil {
			s.logger.Warn("Failed to invalidate cached cart totals",
				zap.Int64("cart_id", cart.ID),
				zap.Error(err))
		}
	}
	if s.events == nil {
		return
	}
	event := &models.CartExpiredEvent{
		BaseEvent: newBaseEvent(models.EventTypeCartExpired, s.now()),
		CartID:    cart.ID,
		UserID:    cart.UserID,
	}
	if err := s.events.PublishCartExpired(ctx, event); err != nil {
		s.logger.Error("Failed to publish cart expired event",
			zap.Int64("cart_id", cart.ID),
			zap.Error(err))
	}
}
