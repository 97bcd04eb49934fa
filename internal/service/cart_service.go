package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cart-service/internal/models"
	"cart-service/internal/repository"
	"cart-service/internal/schema"
	"cart-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// storefrontAttributes are the catalog fields the raw fallback merges into
// cart lines. Both spellings are listed so whichever the live table uses is
// picked up.
var storefrontAttributes = []string{
	"id", "name", "sessions", "totalSessions", "total_sessions", "packageType", "package_type",
}

// EventPublisher publishes cart lifecycle events.
type EventPublisher interface {
	PublishCartTotalsUpdated(ctx context.Context, event *models.CartTotalsUpdatedEvent) error
	PublishCartCompleted(ctx context.Context, event *models.CartCompletedEvent) error
	PublishCartExpired(ctx context.Context, event *models.CartExpiredEvent) error
}

// TotalsCache holds recently computed totals. A miss returns nil, nil.
type TotalsCache interface {
	CacheCartTotals(ctx context.Context, cartID int64, snapshot models.TotalsSnapshot, ttl time.Duration) error
	GetCachedCartTotals(ctx context.Context, cartID int64) (*models.TotalsSnapshot, error)
	InvalidateCartTotals(ctx context.Context, cartID int64) error
}

// Options carries the optional collaborators of a CartService. Nil publisher
// or cache disables events or caching.
type Options struct {
	Events   EventPublisher
	Cache    TotalsCache
	CacheTTL time.Duration
	Logger   *zap.Logger
}

// CartService owns cart totals and the schema-drift recovery around them.
type CartService struct {
	carts     repository.CartRepository
	fallback  repository.FallbackStore
	events    EventPublisher
	cache     TotalsCache
	cacheTTL  time.Duration
	cartScope schema.Scope
	itemScope schema.Scope
	now       func() time.Time
	logger    *zap.Logger
}

// NewCartService creates a cart service
func NewCartService(carts repository.CartRepository, fallback repository.FallbackStore, opts Options) *CartService {
	logger := opts.Logger
	if logger == nil {
		logger = util.GetLogger()
	}
	return &CartService{
		carts:     carts,
		fallback:  fallback,
		events:    opts.Events,
		cache:     opts.Cache,
		cacheTTL:  opts.CacheTTL,
		cartScope: schema.CartScope,
		itemScope: schema.CartItemScope,
		now:       time.Now,
		logger:    logger,
	}
}

// UpdateOptions tunes a single totals recomputation.
type UpdateOptions struct {
	// Tx binds every read and write to a caller-owned transaction. The raw
	// fallback is not attempted inside it, since Postgres aborts the
	// transaction on the first failed statement.
	Tx          *gorm.DB
	SkipLogging bool
}

// UpdateCartTotals loads the cart lines, recomputes totals and persists the
// rounded total. It never returns an error; failures are reported through
// Success and Error.
func (s *CartService) UpdateCartTotals(ctx context.Context, cartID int64, opts UpdateOptions) models.UpdateTotalsResult {
	ctx, span := util.CartSpan(ctx, "CartService.UpdateCartTotals", cartID)
	defer span.End()

	start := time.Now()
	defer func() {
		util.CartTotalsLatency.Observe(time.Since(start).Seconds())
	}()

	log := s.logger
	if opts.SkipLogging {
		log = zap.NewNop()
	}

	failed := func(err error) models.UpdateTotalsResult {
		return models.UpdateTotalsResult{
			Success:       false,
			Total:         decimal.Zero,
			ItemBreakdown: []models.ItemBreakdown{},
			Error:         err.Error(),
			Err:           err,
		}
	}

	if cartID <= 0 {
		return failed(models.ErrInvalidCartID)
	}

	inTx := opts.Tx != nil
	repo := s.carts.WithTx(opts.Tx)

	items, err := s.loadCartItems(ctx, repo, cartID, inTx, log)
	if err != nil {
		log.Error("Failed to load cart items for totals",
			zap.Int64("cart_id", cartID),
			zap.Error(err))
		return failed(err)
	}

	totals := calculateCartTotals(items, log)
	util.CartTotalsRecomputedTotal.Inc()

	result := models.UpdateTotalsResult{
		Total:         totals.Total,
		TotalSessions: totals.TotalSessions,
		ItemBreakdown: totals.ItemBreakdown,
	}

	ok, err := s.persistCartTotals(ctx, repo, cartID, totals.Total, totals.TotalSessions, inTx, log)
	result.Success = ok
	if err != nil {
		result.Error = err.Error()
		result.Err = err
		return result
	}

	log.Debug("Cart totals updated",
		zap.Int64("cart_id", cartID),
		zap.String("total", totals.Total.StringFixed(2)),
		zap.Int64("total_sessions", totals.TotalSessions),
		zap.Int("lines", len(totals.ItemBreakdown)))

	// A caller transaction may still roll back, so nothing leaves the
	// process until it is committed.
	if !inTx {
		s.totalsCommitted(ctx, cartID, totals)
	}
	return result
}

// GetCartTotalsWithFallback returns the persisted total when it is positive
// and recomputes from the lines otherwise. It never fails.
func (s *CartService) GetCartTotalsWithFallback(ctx context.Context, cart *models.Cart) models.TotalsSnapshot {
	if cart == nil {
		return models.TotalsSnapshot{Total: decimal.Zero, Source: models.TotalsSourceNoCart}
	}

	if cart.Total.IsPositive() {
		var sessions int64
		if len(cart.Items) > 0 {
			sessions = calculateCartTotals(cart.Items, zap.NewNop()).TotalSessions
		}
		return models.TotalsSnapshot{
			Total:         cart.Total,
			TotalSessions: sessions,
			Source:        models.TotalsSourcePersisted,
		}
	}

	items := cart.Items
	if items == nil {
		loaded, err := s.SafeLoadCartItemsWithStorefront(ctx, cart.ID)
		if err != nil {
			s.logger.Error("Failed to load cart items for totals read",
				zap.Int64("cart_id", cart.ID),
				zap.Error(err))
			return models.TotalsSnapshot{Total: decimal.Zero, Source: models.TotalsSourceError}
		}
		items = loaded
	}

	if len(items) == 0 {
		return models.TotalsSnapshot{Total: decimal.Zero, Source: models.TotalsSourceEmptyCart}
	}

	totals := calculateCartTotals(items, s.logger)
	return models.TotalsSnapshot{
		Total:         totals.Total,
		TotalSessions: totals.TotalSessions,
		Source:        models.TotalsSourceCalculatedFallback,
	}
}

// ReadCartTotals serves totals from the cache when present, otherwise from
// the cart row with recomputation.
func (s *CartService) ReadCartTotals(ctx context.Context, cartID int64) (models.TotalsSnapshot, error) {
	ctx, span := util.CartSpan(ctx, "CartService.ReadCartTotals", cartID)
	defer span.End()

	if cartID <= 0 {
		return models.TotalsSnapshot{}, models.ErrInvalidCartID
	}

	if s.cache != nil {
		cached, err := s.cache.GetCachedCartTotals(ctx, cartID)
		if err != nil {
			s.logger.Warn("Totals cache read failed, falling back to DB",
				zap.Int64("cart_id", cartID),
				zap.Error(err))
		} else if cached != nil {
			return *cached, nil
		}
	}

	cart, err := s.carts.FindCartByID(ctx, cartID)
	switch {
	case err == nil:
	case s.cartScope.IsRecoverable(err):
		s.driftLogged(s.logger, "find_cart_by_id", zap.Int64("cart_id", cartID), err)
		exists, ferr := s.fallback.CartExists(ctx, cartID)
		if ferr != nil {
			return models.TotalsSnapshot{}, ferr
		}
		if !exists {
			return models.TotalsSnapshot{}, models.ErrCartNotFound
		}
		cart = models.Cart{ID: cartID, Total: decimal.Zero}
	default:
		return models.TotalsSnapshot{}, err
	}

	return s.GetCartTotalsWithFallback(ctx, &cart), nil
}

// AuthorizeCart checks that cartID names a cart owned by the authenticated
// user. A cart owned by someone else is reported as ErrCartNotFound.
func (s *CartService) AuthorizeCart(ctx context.Context, rawUserID interface{}, cartID int64) error {
	userID, err := NormalizeAuthenticatedUserID(rawUserID)
	if err != nil {
		return err
	}
	if cartID <= 0 {
		return models.ErrInvalidCartID
	}

	cart, err := s.carts.FindCartByID(ctx, cartID)
	owned := false
	switch {
	case err == nil:
		owned = cart.UserID == userID
	case errors.Is(err, models.ErrCartNotFound):
	case s.cartScope.IsRecoverable(err):
		s.driftLogged(s.logger, "authorize_cart", zap.Int64("cart_id", cartID), err)
		owned, err = s.fallback.CartOwnedBy(ctx, cartID, userID)
		if err != nil {
			return err
		}
	default:
		return err
	}

	if !owned {
		s.logger.Warn("Cart access denied",
			zap.Int64("cart_id", cartID),
			zap.Int64("user_id", userID))
		return fmt.Errorf("%w: %d", models.ErrCartNotFound, cartID)
	}
	return nil
}

// SafeLoadCartItemsWithStorefront loads the cart lines with their catalog
// descriptors, switching to the raw fallback on schema drift. Other errors
// are returned unchanged.
func (s *CartService) SafeLoadCartItemsWithStorefront(ctx context.Context, cartID int64) ([]models.CartItem, error) {
	return s.loadCartItems(ctx, s.carts, cartID, false, s.logger)
}

func (s *CartService) loadCartItems(ctx context.Context, repo repository.CartRepository, cartID int64, inTx bool, log *zap.Logger) ([]models.CartItem, error) {
	items, err := repo.LoadCartItems(ctx, cartID)
	if err == nil {
		return items, nil
	}
	if inTx || !s.itemScope.IsRecoverable(err) {
		return nil, err
	}

	s.driftLogged(log, "load_cart_items", zap.Int64("cart_id", cartID), err)
	return s.fallback.LoadCartItemsWithProducts(ctx, cartID, storefrontAttributes)
}

// SafeFindOrCreateActiveCart returns the user's active cart, creating it on
// first use. The user id is validated before any database call.
func (s *CartService) SafeFindOrCreateActiveCart(ctx context.Context, rawUserID interface{}) (models.Cart, bool, error) {
	userID, err := NormalizeAuthenticatedUserID(rawUserID)
	if err != nil {
		return models.Cart{}, false, err
	}

	cart, created, err := s.carts.FindOrCreateActiveCart(ctx, userID)
	if err != nil {
		if !s.cartScope.IsRecoverable(err) {
			return models.Cart{}, false, err
		}
		s.driftLogged(s.logger, "find_or_create_active_cart", zap.Int64("user_id", userID), err)
		cart, created, err = s.fallback.FindOrCreateActiveCart(ctx, userID)
		if err != nil {
			return models.Cart{}, false, err
		}
	}

	if created {
		util.CartsCreatedTotal.Inc()
		s.logger.Info("Active cart created",
			zap.Int64("cart_id", cart.ID),
			zap.Int64("user_id", userID))
	}
	return cart, created, nil
}

// totalsCommitted refreshes the cache and announces the new totals. Both are
// best effort.
func (s *CartService) totalsCommitted(ctx context.Context, cartID int64, totals models.CartTotals) {
	if s.cache != nil {
		snapshot := models.TotalsSnapshot{
			Total:         totals.Total,
			TotalSessions: totals.TotalSessions,
			Source:        models.TotalsSourcePersisted,
		}
		if len(totals.ItemBreakdown) == 0 {
			snapshot.Source = models.TotalsSourceEmptyCart
		}
		if err := s.cache.CacheCartTotals(ctx, cartID, snapshot, s.cacheTTL); err != nil {
			s.logger.Warn("Failed to cache cart totals",
				zap.Int64("cart_id", cartID),
				zap.Error(err))
		}
	}

	if s.events == nil {
		return
	}
	event := &models.CartTotalsUpdatedEvent{
		BaseEvent:     newBaseEvent(models.EventTypeCartTotalsUpdated, s.now()),
		CartID:        cartID,
		Total:         totals.Total,
		TotalSessions: totals.TotalSessions,
	}
	if err := s.events.PublishCartTotalsUpdated(ctx, event); err != nil {
		s.logger.Error("Failed to publish cart totals updated event",
			zap.Int64("cart_id", cartID),
			zap.Error(err))
	}
}

func newBaseEvent(eventType string, at time.Time) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: at.UTC(),
	}
}
