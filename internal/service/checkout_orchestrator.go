package service

import (
	"context"
	"fmt"
	"time"

	"cart-service/internal/models"
	"cart-service/internal/util"

	"go.uber.org/zap"
)

// EventLedger records consumed events so redeliveries are skipped.
type EventLedger interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// EventDeduper is a short-lived cache of settled events in front of the
// ledger.
type EventDeduper interface {
	IsEventSeen(ctx context.Context, eventID string) (bool, error)
	MarkEventSeen(ctx context.Context, eventID string, ttl time.Duration) error
}

const seenEventTTL = 24 * time.Hour

// CheckoutOrchestrator closes carts once checkout has been paid for.
type CheckoutOrchestrator struct {
	carts  *CartService
	ledger EventLedger
	seen   EventDeduper
	logger *zap.Logger
}

// NewCheckoutOrchestrator creates a checkout orchestrator. seen may be nil.
func NewCheckoutOrchestrator(carts *CartService, ledger EventLedger, seen EventDeduper) *CheckoutOrchestrator {
	return &CheckoutOrchestrator{
		carts:  carts,
		ledger: ledger,
		seen:   seen,
		logger: util.GetLogger(),
	}
}

// HandleCheckoutCompleted completes the cart named by a paid checkout. The
// ledger is only written once the cart is settled; an error leaves the event
// unmarked so the consumer retries it.
func (co *CheckoutOrchestrator) HandleCheckoutCompleted(ctx context.Context, event *models.CheckoutCompletedEvent) error {
	ctx, span := util.CartSpan(ctx, "CheckoutOrchestrator.HandleCheckoutCompleted", event.CartID)
	defer span.End()

	if co.seen != nil {
		seen, err := co.seen.IsEventSeen(ctx, event.EventID)
		if err != nil {
			co.logger.Warn("Event cache check failed, falling back to ledger",
				zap.String("event_id", event.EventID),
				zap.Error(err))
		} else if seen {
			co.logger.Debug("Event already settled", zap.String("event_id", event.EventID))
			return nil
		}
	}

	processed, err := co.ledger.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		co.logger.Info("Event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	if event.PaymentStatus != models.PaymentStatusPaid {
		co.logger.Info("Ignoring unpaid checkout",
			zap.Int64("cart_id", event.CartID),
			zap.String("payment_status", event.PaymentStatus))
		return co.markProcessed(ctx, event)
	}

	co.logger.Info("Handling checkout completed",
		zap.Int64("cart_id", event.CartID),
		zap.Int64("user_id", event.UserID),
		zap.String("session_id", event.SessionID))

	if _, err := co.carts.CompleteCart(ctx, event.CartID, event.UserID); err != nil {
		return fmt.Errorf("failed to complete cart: %w", err)
	}

	return co.markProcessed(ctx, event)
}

func (co *CheckoutOrchestrator) markProcessed(ctx context.Context, event *models.CheckoutCompletedEvent) error {
	if err := co.ledger.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		co.logger.Error("Failed to mark event processed",
			zap.String("event_id", event.EventID),
			zap.Error(err))
		return nil
	}
	if co.seen != nil {
		if err := co.seen.MarkEventSeen(ctx, event.EventID, seenEventTTL); err != nil {
			co.logger.Warn("Failed to cache settled event",
				zap.String("event_id", event.EventID),
				zap.Error(err))
		}
	}
	return nil
}
