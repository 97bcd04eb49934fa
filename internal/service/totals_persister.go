package service

import (
	"context"
	"errors"
	"fmt"

	"cart-service/internal/models"
	"cart-service/internal/repository"
	"cart-service/internal/schema"
	"cart-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PersistOptions binds a persist to a caller transaction.
type PersistOptions struct {
	Tx          *gorm.DB
	SkipLogging bool
}

// PersistCartTotals writes the rounded total to the cart row. Schema drift on
// the cart table is recovered through the raw fallback outside transactions.
// totalSessions is logged only; the cart row has no column for it.
func (s *CartService) PersistCartTotals(ctx context.Context, cartID int64, total decimal.Decimal, totalSessions int64, opts PersistOptions) (bool, error) {
	log := s.logger
	if opts.SkipLogging {
		log = zap.NewNop()
	}
	if cartID <= 0 {
		return false, models.ErrInvalidCartID
	}
	return s.persistCartTotals(ctx, s.carts.WithTx(opts.Tx), cartID, total, totalSessions, opts.Tx != nil, log)
}

func (s *CartService) persistCartTotals(ctx context.Context, repo repository.CartRepository, cartID int64, total decimal.Decimal, totalSessions int64, inTx bool, log *zap.Logger) (bool, error) {
	rounded := total.Round(2)

	err := s.ensureCartExists(ctx, repo, cartID, inTx, log)
	if err == nil {
		err = s.writeCartTotal(ctx, repo, cartID, rounded, inTx, log)
	}
	if err != nil {
		util.CartTotalsPersistFailedTotal.Inc()
		log.Error("Failed to persist cart totals",
			zap.Int64("cart_id", cartID),
			zap.String("attempted_total", rounded.StringFixed(2)),
			zap.Int64("total_sessions", totalSessions),
			zap.Error(err))
		return false, err
	}
	return true, nil
}

func (s *CartService) ensureCartExists(ctx context.Context, repo repository.CartRepository, cartID int64, inTx bool, log *zap.Logger) error {
	_, err := repo.FindCartByID(ctx, cartID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, models.ErrCartNotFound):
		return fmt.Errorf("%w: %d", models.ErrCartNotFound, cartID)
	case inTx || !s.cartScope.IsRecoverable(err):
		return err
	}

	s.driftLogged(log, "find_cart_by_id", zap.Int64("cart_id", cartID), err)
	exists, err := s.fallback.CartExists(ctx, cartID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %d", models.ErrCartNotFound, cartID)
	}
	return nil
}

func (s *CartService) writeCartTotal(ctx context.Context, repo repository.CartRepository, cartID int64, total decimal.Decimal, inTx bool, log *zap.Logger) error {
	at := s.now()
	err := repo.UpdateCartTotal(ctx, cartID, total, at)
	if err == nil || inTx || !s.cartScope.IsRecoverable(err) {
		return err
	}

	s.driftLogged(log, "update_cart_total", zap.Int64("cart_id", cartID), err)
	return s.fallback.UpdateCartTotal(ctx, cartID, total, at)
}

// driftLogged records a recovered drift. subject names the cart or user the
// query was about.
func (s *CartService) driftLogged(log *zap.Logger, operation string, subject zap.Field, err error) {
	log.Warn("Cart query hit schema drift, using raw fallback",
		zap.String("operation", operation),
		subject,
		zap.String("drift", schema.ClassifyDrift(err).String()),
		zap.Error(err))
	util.CartSchemaFallbackTotal.WithLabelValues(operation).Inc()
}
