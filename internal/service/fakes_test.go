package service

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"cart-service/internal/models"
	"cart-service/internal/repository"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// memRepo is an in-memory CartRepository. The *Err fields make the matching
// call fail.
type memRepo struct {
	mu       sync.Mutex
	carts    map[int64]*models.Cart
	items    map[int64]*models.CartItem
	products map[int64]*models.CatalogProduct
	nextCart int64
	nextItem int64

	loadErr         error
	findCartErr     error
	updateTotalErr  error
	findOrCreateErr error

	calls map[string]int
	txs   int
}

func newMemRepo() *memRepo {
	return &memRepo{
		carts:    map[int64]*models.Cart{},
		items:    map[int64]*models.CartItem{},
		products: map[int64]*models.CatalogProduct{},
		calls:    map[string]int{},
	}
}

func (r *memRepo) called(name string) {
	r.calls[name]++
}

func (r *memRepo) addCart(userID int64, status string) *models.Cart {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextCart++
	c := &models.Cart{ID: r.nextCart, UserID: userID, Status: status, Total: decimal.Zero, UpdatedAt: time.Now()}
	r.carts[c.ID] = c
	return c
}

func (r *memRepo) addProduct(p models.CatalogProduct) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.products[p.ID] = &p
}

func (r *memRepo) addItem(cartID int64, productID *int64, qty int64, price string) *models.CartItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextItem++
	item := &models.CartItem{
		ID:        r.nextItem,
		CartID:    cartID,
		ProductID: productID,
		Quantity:  sql.NullInt64{Int64: qty, Valid: true},
		Price:     decimal.NewNullDecimal(decimal.RequireFromString(price)),
	}
	r.items[item.ID] = item
	return item
}

func (r *memRepo) WithTx(tx *gorm.DB) repository.CartRepository {
	if tx != nil {
		r.txs++
	}
	return r
}

func (r *memRepo) FindCartByID(_ context.Context, cartID int64) (models.Cart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.called("FindCartByID")
	if r.findCartErr != nil {
		return models.Cart{}, r.findCartErr
	}
	c, ok := r.carts[cartID]
	if !ok {
		return models.Cart{}, models.ErrCartNotFound
	}
	return *c, nil
}

func (r *memRepo) FindActiveCartByUserID(_ context.Context, userID int64) (models.Cart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.called("FindActiveCartByUserID")
	for _, c := range r.carts {
		if c.UserID == userID && c.Status == models.CartStatusActive {
			return *c, nil
		}
	}
	return models.Cart{}, models.ErrCartNotFound
}

func (r *memRepo) FindOrCreateActiveCart(ctx context.Context, userID int64) (models.Cart, bool, error) {
	r.mu.Lock()
	r.called("FindOrCreateActiveCart")
	err := r.findOrCreateErr
	r.mu.Unlock()
	if err != nil {
		return models.Cart{}, false, err
	}
	if c, err := r.FindActiveCartByUserID(ctx, userID); err == nil {
		return c, false, nil
	}
	return *r.addCart(userID, models.CartStatusActive), true, nil
}

func (r *memRepo) UpdateCartTotal(_ context.Context, cartID int64, total decimal.Decimal, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.called("UpdateCartTotal")
	if r.updateTotalErr != nil {
		return r.updateTotalErr
	}
	c, ok := r.carts[cartID]
	if !ok {
		return models.ErrCartNotFound
	}
	c.Total = total
	c.LastActivityAt = &at
	c.UpdatedAt = at
	return nil
}

func (r *memRepo) UpdateCartStatus(_ context.Context, cartID int64, from, to string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.called("UpdateCartStatus")
	c, ok := r.carts[cartID]
	if !ok || c.Status != from {
		return false, nil
	}
	c.Status = to
	return true, nil
}

func (r *memRepo) ListIdleActiveCarts(_ context.Context, before time.Time, limit int) ([]models.Cart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Cart
	for _, c := range r.carts {
		last := c.UpdatedAt
		if c.LastActivityAt != nil {
			last = *c.LastActivityAt
		}
		if c.Status == models.CartStatusActive && last.Before(before) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) LoadCartItems(_ context.Context, cartID int64) ([]models.CartItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.called("LoadCartItems")
	if r.loadErr != nil {
		return nil, r.loadErr
	}
	out := []models.CartItem{}
	for _, item := range r.items {
		if item.CartID != cartID {
			continue
		}
		cp := *item
		if cp.ProductID != nil {
			if p, ok := r.products[*cp.ProductID]; ok {
				pc := *p
				cp.Product = &pc
			}
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memRepo) FindCartItem(_ context.Context, cartID, itemID int64) (models.CartItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[itemID]
	if !ok || item.CartID != cartID {
		return models.CartItem{}, models.ErrCartItemNotFound
	}
	return *item, nil
}

func (r *memRepo) FindCartItemByProduct(_ context.Context, cartID, productID int64) (models.CartItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range r.items {
		if item.CartID == cartID && item.ProductID != nil && *item.ProductID == productID {
			return *item, nil
		}
	}
	return models.CartItem{}, models.ErrCartItemNotFound
}

func (r *memRepo) CreateCartItem(_ context.Context, item *models.CartItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextItem++
	item.ID = r.nextItem
	cp := *item
	r.items[item.ID] = &cp
	return nil
}

func (r *memRepo) UpdateCartItemQuantity(_ context.Context, itemID, quantity int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[itemID]
	if !ok {
		return models.ErrCartItemNotFound
	}
	item.Quantity = sql.NullInt64{Int64: quantity, Valid: true}
	return nil
}

func (r *memRepo) DeleteCartItem(_ context.Context, itemID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[itemID]; !ok {
		return models.ErrCartItemNotFound
	}
	delete(r.items, itemID)
	return nil
}

func (r *memRepo) DeleteCartItems(_ context.Context, cartID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, item := range r.items {
		if item.CartID == cartID {
			delete(r.items, id)
		}
	}
	return nil
}

func (r *memRepo) FindProductByID(_ context.Context, productID int64) (models.CatalogProduct, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[productID]
	if !ok {
		return models.CatalogProduct{}, models.ErrProductNotFound
	}
	return *p, nil
}

// memFallback serves the raw path from the same in-memory data.
type memFallback struct {
	repo  *memRepo
	calls map[string]int
	attrs []string
}

func newMemFallback(repo *memRepo) *memFallback {
	return &memFallback{repo: repo, calls: map[string]int{}}
}

func (f *memFallback) LoadCartItemsWithProducts(ctx context.Context, cartID int64, attrs []string) ([]models.CartItem, error) {
	f.calls["LoadCartItemsWithProducts"]++
	f.attrs = attrs
	f.repo.mu.Lock()
	saved := f.repo.loadErr
	f.repo.loadErr = nil
	f.repo.mu.Unlock()
	defer func() {
		f.repo.mu.Lock()
		f.repo.loadErr = saved
		f.repo.mu.Unlock()
	}()
	return f.repo.LoadCartItems(ctx, cartID)
}

func (f *memFallback) FindOrCreateActiveCart(ctx context.Context, userID int64) (models.Cart, bool, error) {
	f.calls["FindOrCreateActiveCart"]++
	if c, err := f.repo.FindActiveCartByUserID(ctx, userID); err == nil {
		return c, false, nil
	}
	return *f.repo.addCart(userID, models.CartStatusActive), true, nil
}

func (f *memFallback) CartExists(_ context.Context, cartID int64) (bool, error) {
	f.calls["CartExists"]++
	f.repo.mu.Lock()
	defer f.repo.mu.Unlock()
	_, ok := f.repo.carts[cartID]
	return ok, nil
}

func (f *memFallback) CartOwnedBy(_ context.Context, cartID, userID int64) (bool, error) {
	f.calls["CartOwnedBy"]++
	f.repo.mu.Lock()
	defer f.repo.mu.Unlock()
	c, ok := f.repo.carts[cartID]
	return ok && c.UserID == userID, nil
}

func (f *memFallback) UpdateCartTotal(_ context.Context, cartID int64, total decimal.Decimal, at time.Time) error {
	f.calls["UpdateCartTotal"]++
	f.repo.mu.Lock()
	defer f.repo.mu.Unlock()
	c, ok := f.repo.carts[cartID]
	if !ok {
		return models.ErrCartNotFound
	}
	c.Total = total
	c.LastActivityAt = &at
	return nil
}

type recordingPublisher struct {
	totals    []*models.CartTotalsUpdatedEvent
	completed []*models.CartCompletedEvent
	expired   []*models.CartExpiredEvent
	err       error
}

func (p *recordingPublisher) PublishCartTotalsUpdated(_ context.Context, e *models.CartTotalsUpdatedEvent) error {
	p.totals = append(p.totals, e)
	return p.err
}

func (p *recordingPublisher) PublishCartCompleted(_ context.Context, e *models.CartCompletedEvent) error {
	p.completed = append(p.completed, e)
	return p.err
}

func (p *recordingPublisher) PublishCartExpired(_ context.Context, e *models.CartExpiredEvent) error {
	p.expired = append(p.expired, e)
	return p.err
}

type memCache struct {
	entries     map[int64]models.TotalsSnapshot
	invalidated []int64
}

func newMemCache() *memCache {
	return &memCache{entries: map[int64]models.TotalsSnapshot{}}
}

func (c *memCache) CacheCartTotals(_ context.Context, cartID int64, snap models.TotalsSnapshot, _ time.Duration) error {
	c.entries[cartID] = snap
	return nil
}

func (c *memCache) GetCachedCartTotals(_ context.Context, cartID int64) (*models.TotalsSnapshot, error) {
	snap, ok := c.entries[cartID]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

func (c *memCache) InvalidateCartTotals(_ context.Context, cartID int64) error {
	delete(c.entries, cartID)
	c.invalidated = append(c.invalidated, cartID)
	return nil
}

type memLedger struct {
	processed map[string]string
}

func (l *memLedger) IsEventProcessed(_ context.Context, eventID string) (bool, error) {
	_, ok := l.processed[eventID]
	return ok, nil
}

func (l *memLedger) MarkEventProcessed(_ context.Context, eventID, eventType string) error {
	l.processed[eventID] = eventType
	return nil
}

type memSeen struct {
	ids map[string]bool
}

func (s *memSeen) IsEventSeen(_ context.Context, eventID string) (bool, error) {
	return s.ids[eventID], nil
}

func (s *memSeen) MarkEventSeen(_ context.Context, eventID string, _ time.Duration) error {
	s.ids[eventID] = true
	return nil
}

type fixture struct {
	repo     *memRepo
	fallback *memFallback
	events   *recordingPublisher
	cache    *memCache
	svc      *CartService
}

func newFixture() *fixture {
	repo := newMemRepo()
	fb := newMemFallback(repo)
	events := &recordingPublisher{}
	cache := newMemCache()
	svc := NewCartService(repo, fb, Options{
		Events:   events,
		Cache:    cache,
		CacheTTL: time.Minute,
		Logger:   zap.NewNop(),
	})
	return &fixture{repo: repo, fallback: fb, events: events, cache: cache, svc: svc}
}

func undefinedColumn(column string) error {
	return &pq.Error{Code: "42703", Message: "column \"" + column + "\" does not exist"}
}

func int64Ptr(v int64) *int64 {
	return &v
}
