package service

import (
	"context"
	"errors"
	"testing"

	"cart-service/internal/models"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

func seedScenarioCart(f *fixture) *models.Cart {
	cart := f.repo.addCart(7, models.CartStatusActive)
	f.repo.addProduct(models.CatalogProduct{ID: 10, Name: "Starter Pack", Sessions: nullInt64(4)})
	f.repo.addItem(cart.ID, int64Ptr(10), 2, "100.00")
	f.repo.addItem(cart.ID, nil, 1, "50.00")
	return cart
}

func TestUpdateCartTotals_PersistsRoundedTotal(t *testing.T) {
	f := newFixture()
	cart := seedScenarioCart(f)

	result := f.svc.UpdateCartTotals(context.Background(), cart.ID, UpdateOptions{})

	require.True(t, result.Success, result.Error)
	assert.Equal(t, "250.00", result.Total.StringFixed(2))
	assert.Equal(t, int64(8), result.TotalSessions)
	require.Len(t, result.ItemBreakdown, 2)
	assert.Equal(t, UnknownItemName, result.ItemBreakdown[1].ProductName)

	stored, err := f.repo.FindCartByID(context.Background(), cart.ID)
	require.NoError(t, err)
	assert.Equal(t, "250.00", stored.Total.StringFixed(2))
	assert.NotNil(t, stored.LastActivityAt)
}

func TestUpdateCartTotals_Idempotent(t *testing.T) {
	f := newFixture()
	cart := seedScenarioCart(f)
	ctx := context.Background()

	first := f.svc.UpdateCartTotals(ctx, cart.ID, UpdateOptions{})
	second := f.svc.UpdateCartTotals(ctx, cart.ID, UpdateOptions{})

	require.True(t, first.Success)
	require.True(t, second.Success)
	assert.True(t, first.Total.Equal(second.Total))
	assert.Equal(t, first.TotalSessions, second.TotalSessions)
}

func TestUpdateCartTotals_EmptyCartPersistsZero(t *testing.T) {
	f := newFixture()
	cart := f.repo.addCart(3, models.CartStatusActive)
	f.repo.carts[cart.ID].Total = decimal.NewFromInt(99)

	result := f.svc.UpdateCartTotals(context.Background(), cart.ID, UpdateOptions{})

	require.True(t, result.Success)
	assert.True(t, result.Total.IsZero())
	assert.Empty(t, result.ItemBreakdown)
	assert.True(t, f.repo.carts[cart.ID].Total.IsZero())
}

func TestUpdateCartTotals_CachesAndPublishes(t *testing.T) {
	f := newFixture()
	cart := seedScenarioCart(f)

	result := f.svc.UpdateCartTotals(context.Background(), cart.ID, UpdateOptions{})
	require.True(t, result.Success)

	cached, ok := f.cache.entries[cart.ID]
	require.True(t, ok)
	assert.Equal(t, models.TotalsSourcePersisted, cached.Source)
	assert.Equal(t, "250.00", cached.Total.StringFixed(2))

	require.Len(t, f.events.totals, 1)
	event := f.events.totals[0]
	assert.Equal(t, models.EventTypeCartTotalsUpdated, event.EventType)
	assert.Equal(t, cart.ID, event.CartID)
	assert.NotEmpty(t, event.EventID)
}

func TestUpdateCartTotals_PublishFailureDoesNotFail(t *testing.T) {
	f := newFixture()
	f.events.err = errors.New("broker down")
	cart := seedScenarioCart(f)

	result := f.svc.UpdateCartTotals(context.Background(), cart.ID, UpdateOptions{})

	assert.True(t, result.Success)
}

func TestUpdateCartTotals_MissingCart(t *testing.T) {
	f := newFixture()

	result := f.svc.UpdateCartTotals(context.Background(), 404, UpdateOptions{})

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, models.ErrCartNotFound.Error())
	assert.ErrorIs(t, result.Err, models.ErrCartNotFound)
	assert.Empty(t, f.events.totals)
}

func TestUpdateCartTotals_InvalidCartID(t *testing.T) {
	f := newFixture()

	result := f.svc.UpdateCartTotals(context.Background(), 0, UpdateOptions{})

	assert.False(t, result.Success)
	assert.ErrorIs(t, result.Err, models.ErrInvalidCartID)
	assert.Equal(t, 0, f.repo.calls["LoadCartItems"])
}

func TestUpdateCartTotals_ItemDriftUsesFallback(t *testing.T) {
	f := newFixture()
	cart := seedScenarioCart(f)
	f.repo.loadErr = undefinedColumn("cartId")

	result := f.svc.UpdateCartTotals(context.Background(), cart.ID, UpdateOptions{})

	require.True(t, result.Success, result.Error)
	assert.Equal(t, "250.00", result.Total.StringFixed(2))
	assert.Equal(t, 1, f.fallback.calls["LoadCartItemsWithProducts"])
	assert.Contains(t, f.fallback.attrs, "total_sessions")
	assert.Contains(t, f.fallback.attrs, "totalSessions")
}

func TestUpdateCartTotals_CartDriftUsesFallbackWrite(t *testing.T) {
	f := newFixture()
	cart := seedScenarioCart(f)
	f.repo.findCartErr = undefinedColumn("lastActivityAt")
	f.repo.updateTotalErr = undefinedColumn("lastActivityAt")

	result := f.svc.UpdateCartTotals(context.Background(), cart.ID, UpdateOptions{})

	require.True(t, result.Success, result.Error)
	assert.Equal(t, 1, f.fallback.calls["CartExists"])
	assert.Equal(t, 1, f.fallback.calls["UpdateCartTotal"])
	assert.Equal(t, "250.00", f.repo.carts[cart.ID].Total.StringFixed(2))
}

func TestUpdateCartTotals_NonDriftErrorPropagates(t *testing.T) {
	f := newFixture()
	cart := seedScenarioCart(f)
	unique := &pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint \"cart_items_pkey\""}
	f.repo.loadErr = unique

	result := f.svc.UpdateCartTotals(context.Background(), cart.ID, UpdateOptions{})

	assert.False(t, result.Success)
	assert.Equal(t, unique.Error(), result.Error)
	assert.Equal(t, 0, f.fallback.calls["LoadCartItemsWithProducts"])
}

func TestUpdateCartTotals_TransactionSkipsFallbackAndSideEffects(t *testing.T) {
	f := newFixture()
	cart := seedScenarioCart(f)
	ctx := context.Background()

	result := f.svc.UpdateCartTotals(ctx, cart.ID, UpdateOptions{Tx: &gorm.DB{}})
	require.True(t, result.Success)
	assert.Equal(t, 1, f.repo.txs)
	assert.Empty(t, f.events.totals)
	assert.Empty(t, f.cache.entries)

	f.repo.updateTotalErr = undefinedColumn("lastActivityAt")
	result = f.svc.UpdateCartTotals(ctx, cart.ID, UpdateOptions{Tx: &gorm.DB{}})
	assert.False(t, result.Success)
	assert.Equal(t, 0, f.fallback.calls["UpdateCartTotal"])
}

func TestPersistCartTotals(t *testing.T) {
	f := newFixture()
	cart := f.repo.addCart(1, models.CartStatusActive)
	ctx := context.Background()

	ok, err := f.svc.PersistCartTotals(ctx, cart.ID, decimal.RequireFromString("10.005"), 3, PersistOptions{})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "10.01", f.repo.carts[cart.ID].Total.StringFixed(2))

	ok, err = f.svc.PersistCartTotals(ctx, 999, decimal.NewFromInt(1), 0, PersistOptions{SkipLogging: true})
	assert.False(t, ok)
	assert.ErrorIs(t, err, models.ErrCartNotFound)
}

func TestPersistCartTotals_DriftedCartMissing(t *testing.T) {
	f := newFixture()
	f.repo.findCartErr = undefinedColumn("lastActivityAt")

	ok, err := f.svc.PersistCartTotals(context.Background(), 55, decimal.NewFromInt(1), 0, PersistOptions{})

	assert.False(t, ok)
	assert.ErrorIs(t, err, models.ErrCartNotFound)
	assert.Equal(t, 0, f.repo.calls["UpdateCartTotal"])
}

func TestGetCartTotalsWithFallback_Sources(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	snap := f.svc.GetCartTotalsWithFallback(ctx, nil)
	assert.Equal(t, models.TotalsSourceNoCart, snap.Source)
	assert.True(t, snap.Total.IsZero())

	persisted := &models.Cart{ID: 1, Total: decimal.RequireFromString("80.00")}
	snap = f.svc.GetCartTotalsWithFallback(ctx, persisted)
	assert.Equal(t, models.TotalsSourcePersisted, snap.Source)
	assert.Equal(t, "80.00", snap.Total.StringFixed(2))
	assert.Equal(t, 0, f.repo.calls["LoadCartItems"])

	empty := f.repo.addCart(2, models.CartStatusActive)
	snap = f.svc.GetCartTotalsWithFallback(ctx, empty)
	assert.Equal(t, models.TotalsSourceEmptyCart, snap.Source)

	stale := seedScenarioCart(f)
	snap = f.svc.GetCartTotalsWithFallback(ctx, stale)
	assert.Equal(t, models.TotalsSourceCalculatedFallback, snap.Source)
	assert.Equal(t, "250.00", snap.Total.StringFixed(2))
	assert.Equal(t, int64(8), snap.TotalSessions)
}

func TestGetCartTotalsWithFallback_LoadFailure(t *testing.T) {
	f := newFixture()
	cart := f.repo.addCart(2, models.CartStatusActive)
	f.repo.loadErr = errors.New("connection reset")

	snap := f.svc.GetCartTotalsWithFallback(context.Background(), cart)

	assert.Equal(t, models.TotalsSourceError, snap.Source)
	assert.True(t, snap.Total.IsZero())
}

func TestGetCartTotalsWithFallback_PersistedCountsLoadedSessions(t *testing.T) {
	f := newFixture()
	cart := &models.Cart{
		ID:    1,
		Total: decimal.RequireFromString("200.00"),
		Items: []models.CartItem{line(1, 2, "100.00", fixedPackage(10, "Starter Pack", 4))},
	}

	snap := f.svc.GetCartTotalsWithFallback(context.Background(), cart)

	assert.Equal(t, models.TotalsSourcePersisted, snap.Source)
	assert.Equal(t, int64(8), snap.TotalSessions)
}

func TestReadCartTotals_CacheThenDB(t *testing.T) {
	f := newFixture()
	cart := seedScenarioCart(f)
	ctx := context.Background()

	snap, err := f.svc.ReadCartTotals(ctx, cart.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TotalsSourceCalculatedFallback, snap.Source)

	f.cache.entries[cart.ID] = models.TotalsSnapshot{Total: decimal.NewFromInt(1), Source: models.TotalsSourcePersisted}
	snap, err = f.svc.ReadCartTotals(ctx, cart.ID)
	require.NoError(t, err)
	assert.Equal(t, "1.00", snap.Total.StringFixed(2))

	_, err = f.svc.ReadCartTotals(ctx, 999)
	assert.ErrorIs(t, err, models.ErrCartNotFound)
}

func TestSafeLoadCartItemsWithStorefront_NonDriftPropagates(t *testing.T) {
	f := newFixture()
	boom := errors.New("connection refused")
	f.repo.loadErr = boom

	_, err := f.svc.SafeLoadCartItemsWithStorefront(context.Background(), 1)

	assert.Same(t, boom, err)
	assert.Equal(t, 0, f.fallback.calls["LoadCartItemsWithProducts"])
}

func TestSafeFindOrCreateActiveCart_ReturnsSameCart(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	first, created, err := f.svc.SafeFindOrCreateActiveCart(ctx, "42")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, models.CartStatusActive, first.Status)

	second, created, err := f.svc.SafeFindOrCreateActiveCart(ctx, 42)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}

func TestSafeFindOrCreateActiveCart_DriftUsesFallback(t *testing.T) {
	f := newFixture()
	f.repo.findOrCreateErr = &pq.Error{
		Code:    "22P02",
		Message: "invalid input syntax for type uuid: \"42\"",
	}

	cart, created, err := f.svc.SafeFindOrCreateActiveCart(context.Background(), 42)

	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(42), cart.UserID)
	assert.Equal(t, 1, f.fallback.calls["FindOrCreateActiveCart"])
}

func TestSafeFindOrCreateActiveCart_DriftLogsUserID(t *testing.T) {
	f := newFixture()
	core, logs := observer.New(zap.WarnLevel)
	f.svc.logger = zap.New(core)
	f.repo.findOrCreateErr = undefinedColumn("carts.lastActivityAt")

	_, _, err := f.svc.SafeFindOrCreateActiveCart(context.Background(), 42)
	require.NoError(t, err)

	drift := logs.FilterMessage("Cart query hit schema drift, using raw fallback").All()
	require.Len(t, drift, 1)
	fields := drift[0].ContextMap()
	assert.Equal(t, int64(42), fields["user_id"])
	assert.NotContains(t, fields, "cart_id")
	assert.Equal(t, "find_or_create_active_cart", fields["operation"])
}

func TestSafeFindOrCreateActiveCart_NonDriftPropagates(t *testing.T) {
	f := newFixture()
	boom := &pq.Error{Code: "53300", Message: "too many connections"}
	f.repo.findOrCreateErr = boom

	_, _, err := f.svc.SafeFindOrCreateActiveCart(context.Background(), 42)

	assert.Same(t, boom, err)
	assert.Equal(t, 0, f.fallback.calls["FindOrCreateActiveCart"])
}

func TestSafeFindOrCreateActiveCart_RejectsBadUserBeforeDB(t *testing.T) {
	f := newFixture()

	for _, raw := range []interface{}{"abc", -1, 0, nil, 1.5} {
		_, _, err := f.svc.SafeFindOrCreateActiveCart(context.Background(), raw)
		assert.ErrorIs(t, err, models.ErrInvalidUserID, "%v", raw)
	}
	assert.Equal(t, 0, f.repo.calls["FindOrCreateActiveCart"])
	assert.Empty(t, f.fallback.calls)
}

func TestAuthorizeCart(t *testing.T) {
	f := newFixture()
	cart := seedScenarioCart(f)
	ctx := context.Background()

	assert.NoError(t, f.svc.AuthorizeCart(ctx, "7", cart.ID))
	assert.ErrorIs(t, f.svc.AuthorizeCart(ctx, "8", cart.ID), models.ErrCartNotFound)
	assert.ErrorIs(t, f.svc.AuthorizeCart(ctx, "7", 999), models.ErrCartNotFound)
	assert.ErrorIs(t, f.svc.AuthorizeCart(ctx, "7", 0), models.ErrInvalidCartID)

	calls := f.repo.calls["FindCartByID"]
	assert.ErrorIs(t, f.svc.AuthorizeCart(ctx, "", cart.ID), models.ErrInvalidUserID)
	assert.Equal(t, calls, f.repo.calls["FindCartByID"])
}

func TestAuthorizeCart_DriftChecksOwnerThroughFallback(t *testing.T) {
	f := newFixture()
	cart := seedScenarioCart(f)
	f.repo.findCartErr = undefinedColumn("carts.lastActivityAt")
	ctx := context.Background()

	assert.NoError(t, f.svc.AuthorizeCart(ctx, 7, cart.ID))
	assert.ErrorIs(t, f.svc.AuthorizeCart(ctx, 8, cart.ID), models.ErrCartNotFound)
	assert.Equal(t, 2, f.fallback.calls["CartOwnedBy"])
}

func TestAuthorizeCart_NonDriftPropagates(t *testing.T) {
	f := newFixture()
	boom := &pq.Error{Code: "53300", Message: "too many connections"}
	f.repo.findCartErr = boom

	err := f.svc.AuthorizeCart(context.Background(), 7, 1)

	assert.Same(t, boom, err)
	assert.Zero(t, f.fallback.calls["CartOwnedBy"])
}
