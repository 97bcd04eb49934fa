package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cart-service/internal/models"
	"cart-service/internal/schema"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// Tables names the tables the fallback path reads and writes.
type Tables struct {
	Cart     string
	CartItem string
	Product  string
}

// Querier is the part of *sqlx.DB (or *sqlx.Tx) the fallback runs on.
type Querier interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	QueryxContext(ctx context.Context, query string, args ...interface{}) (*sqlx.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	Rebind(query string) string
}

// FallbackStore builds raw SQL against the columns the live tables actually
// have. Every operation introspects afresh so a migration is picked up
// without a restart.
type FallbackStore struct {
	db       Querier
	resolver schema.ColumnResolver
	tables   Tables
}

// NewFallbackStore creates the raw SQL fallback
func NewFallbackStore(db Querier, resolver schema.ColumnResolver, tables Tables) *FallbackStore {
	return &FallbackStore{db: db, resolver: resolver, tables: tables}
}

// rawCartItemRow holds a cart line with every column cast to text, so that
// integer, numeric and uuid schemas all scan the same way.
type rawCartItemRow struct {
	ID         sql.NullString `db:"id"`
	ProductRef sql.NullString `db:"product_ref"`
	Quantity   sql.NullString `db:"quantity"`
	Price      sql.NullString `db:"price"`
}

type rawCartRow struct {
	ID     int64  `db:"id"`
	Status string `db:"status"`
}

// LoadCartItemsWithProducts reads a cart's lines and the linked catalog rows.
// It returns an empty list when the cart reference column cannot be found.
func (f *FallbackStore) LoadCartItemsWithProducts(ctx context.Context, cartID int64, productAttrs []string) ([]models.CartItem, error) {
	cols := schema.Load(ctx, f.resolver, f.tables.CartItem)
	cartRef := cols.Pick(schema.ColCartRef...)
	if !cartRef.Found {
		return []models.CartItem{}, nil
	}
	idCol := cols.Pick(schema.ColID...)
	productRef := cols.Pick(schema.ColProductRef...)
	quantity := cols.Pick(schema.ColQuantity...)
	price := cols.Pick(schema.ColPrice...)

	orderBy := "1"
	if idCol.Found {
		orderBy = quote(idCol.Name)
	}

	query := fmt.Sprintf(
		`SELECT %s AS id, %s AS product_ref, %s AS quantity, %s AS price FROM %s WHERE (%s)::text = $1 ORDER BY %s`,
		textExpr(idCol), textExpr(productRef), textExpr(quantity), textExpr(price),
		quote(f.tables.CartItem), quote(cartRef.Name), orderBy)

	var rows []rawCartItemRow
	if err := f.db.SelectContext(ctx, &rows, query, strconv.FormatInt(cartID, 10)); err != nil {
		return nil, err
	}

	items, refs := coerceCartItems(rows, cartID)
	if len(refs) == 0 {
		return items, nil
	}

	products, err := f.loadProducts(ctx, refs, productAttrs)
	if err != nil {
		return nil, err
	}
	attachProducts(items, products)
	return items, nil
}

// loadProducts batch-selects the requested attributes that exist in the
// catalog table.
func (f *FallbackStore) loadProducts(ctx context.Context, ids []string, attrs []string) (map[int64]*models.CatalogProduct, error) {
	cols := schema.Load(ctx, f.resolver, f.tables.Product)
	idCol := cols.Pick(schema.ColID...)
	if !idCol.Found {
		return map[int64]*models.CatalogProduct{}, nil
	}

	selected := intersectColumns(cols, attrs)
	exprs := make([]string, 0, len(selected)+1)
	exprs = append(exprs, fmt.Sprintf("(%s)::text AS id", quote(idCol.Name)))
	for _, name := range selected {
		if strings.EqualFold(name, idCol.Name) {
			continue
		}
		exprs = append(exprs, fmt.Sprintf("(%s)::text AS %s", quote(name), quote(strings.ToLower(name))))
	}

	query, args, err := sqlx.In(
		fmt.Sprintf("SELECT %s FROM %s WHERE (%s)::text IN (?)",
			strings.Join(exprs, ", "), quote(f.tables.Product), quote(idCol.Name)),
		ids)
	if err != nil {
		return nil, err
	}
	query = f.db.Rebind(query)

	rows, err := f.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make(map[int64]*models.CatalogProduct)
	for rows.Next() {
		row := make(map[string]interface{})
		if err := rows.MapScan(row); err != nil {
			return nil, err
		}
		if p, ok := productFromRow(row); ok {
			products[p.ID] = p
		}
	}
	return products, rows.Err()
}

// FindOrCreateActiveCart finds or inserts the user's active cart. When the
// owner column is a uuid the synthetic owner id from DeriveLegacyUUID is used.
func (f *FallbackStore) FindOrCreateActiveCart(ctx context.Context, userID int64) (models.Cart, bool, error) {
	cols := schema.Load(ctx, f.resolver, f.tables.Cart)
	idCol := cols.Pick(schema.ColID...)
	userCol := cols.Pick(schema.ColUserRef...)
	statusCol := cols.Pick(schema.ColStatus...)

	owner := ownerValue(userCol, userID)

	var existing rawCartRow
	err := f.db.GetContext(ctx, &existing, fmt.Sprintf(
		`SELECT %s AS id, (%s)::text AS status FROM %s WHERE (%s)::text = $1 AND (%s)::text = $2 ORDER BY %s DESC LIMIT 1`,
		quote(idCol.Name), quote(statusCol.Name), quote(f.tables.Cart),
		quote(userCol.Name), quote(statusCol.Name), quote(idCol.Name)),
		fmt.Sprint(owner), models.CartStatusActive)
	if err == nil {
		return models.Cart{ID: existing.ID, UserID: userID, Status: existing.Status}, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Cart{}, false, err
	}

	insertCols := []string{quote(userCol.Name), quote(statusCol.Name)}
	values := []string{"$1", "$2"}
	for _, cands := range [][]string{schema.ColCreatedAt, schema.ColUpdatedAt, schema.ColLastActivityAt} {
		if c := cols.Pick(cands...); c.Found {
			insertCols = append(insertCols, quote(c.Name))
			values = append(values, "NOW()")
		}
	}

	var created rawCartRow
	err = f.db.GetContext(ctx, &created, fmt.Sprintf(
		`INSERT INTO %s (%s) VALUES (%s) RETURNING %s AS id, (%s)::text AS status`,
		quote(f.tables.Cart), strings.Join(insertCols, ", "), strings.Join(values, ", "),
		quote(idCol.Name), quote(statusCol.Name)),
		owner, models.CartStatusActive)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Cart{}, false, fmt.Errorf("insert into %s returned no row for user %d", f.tables.Cart, userID)
	}
	if err != nil {
		return models.Cart{}, false, err
	}
	return models.Cart{ID: created.ID, UserID: userID, Status: created.Status}, true, nil
}

// CartExists checks a cart row exists
func (f *FallbackStore) CartExists(ctx context.Context, cartID int64) (bool, error) {
	idCol := schema.Resolve(ctx, f.resolver, f.tables.Cart, schema.ColID...)

	var exists bool
	err := f.db.GetContext(ctx, &exists, fmt.Sprintf(
		`SELECT EXISTS(SELECT 1 FROM %s WHERE (%s)::text = $1)`,
		quote(f.tables.Cart), quote(idCol.Name)),
		strconv.FormatInt(cartID, 10))
	return exists, err
}

// CartOwnedBy reports whether the cart exists and belongs to userID. A uuid
// owner column is compared against the synthetic owner id.
func (f *FallbackStore) CartOwnedBy(ctx context.Context, cartID, userID int64) (bool, error) {
	cols := schema.Load(ctx, f.resolver, f.tables.Cart)
	idCol := cols.Pick(schema.ColID...)
	userCol := cols.Pick(schema.ColUserRef...)

	var owned bool
	err := f.db.GetContext(ctx, &owned, fmt.Sprintf(
		`SELECT EXISTS(SELECT 1 FROM %s WHERE (%s)::text = $1 AND (%s)::text = $2)`,
		quote(f.tables.Cart), quote(idCol.Name), quote(userCol.Name)),
		strconv.FormatInt(cartID, 10), fmt.Sprint(ownerValue(userCol, userID)))
	return owned, err
}

// UpdateCartTotal writes the total, and the activity timestamp when the
// table has one.
func (f *FallbackStore) UpdateCartTotal(ctx context.Context, cartID int64, total decimal.Decimal, at time.Time) error {
	cols := schema.Load(ctx, f.resolver, f.tables.Cart)
	idCol := cols.Pick(schema.ColID...)
	totalCol := cols.Pick(schema.ColTotal...)
	if !totalCol.Found {
		return fmt.Errorf("table %s has no total column", f.tables.Cart)
	}

	sets := []string{quote(totalCol.Name) + " = $1"}
	args := []interface{}{total}
	if last := cols.Pick(schema.ColLastActivityAt...); last.Found {
		args = append(args, at)
		sets = append(sets, fmt.Sprintf("%s = $%d", quote(last.Name), len(args)))
	}
	args = append(args, strconv.FormatInt(cartID, 10))

	res, err := f.db.ExecContext(ctx, fmt.Sprintf(
		`UPDATE %s SET %s WHERE (%s)::text = $%d`,
		quote(f.tables.Cart), strings.Join(sets, ", "), quote(idCol.Name), len(args)),
		args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrCartNotFound
	}
	return nil
}

func quote(name string) string {
	return pq.QuoteIdentifier(name)
}

// textExpr selects a resolved column as text, or NULL when it does not exist.
func textExpr(col models.ColumnMeta) string {
	if !col.Found {
		return "NULL::text"
	}
	return fmt.Sprintf("(%s)::text", quote(col.Name))
}

func ownerValue(userCol models.ColumnMeta, userID int64) interface{} {
	if userCol.IsUUID() {
		return schema.DeriveLegacyUUID(userID).String()
	}
	return userID
}

// intersectColumns keeps the wanted attributes the table has, in the table's
// spelling.
func intersectColumns(cols schema.TableColumns, wanted []string) []string {
	out := make([]string, 0, len(wanted))
	seen := make(map[string]bool)
	for _, w := range wanted {
		c := cols.Pick(w)
		if !c.Found || seen[c.Name] {
			continue
		}
		seen[c.Name] = true
		out = append(out, c.Name)
	}
	return out
}

// coerceCartItems converts raw rows. Missing or non-numeric quantity becomes
// 1, non-numeric price becomes 0, an unparseable product reference leaves the
// line without a product. It also returns the distinct product references.
func coerceCartItems(rows []rawCartItemRow, cartID int64) ([]models.CartItem, []string) {
	items := make([]models.CartItem, 0, len(rows))
	refs := make([]string, 0, len(rows))
	seen := make(map[int64]bool)

	for _, row := range rows {
		item := models.CartItem{CartID: cartID}
		if id, ok := parseInt(row.ID); ok {
			item.ID = id
		}

		qty, ok := parseInt(row.Quantity)
		if !ok {
			qty = 1
		}
		item.Quantity = sql.NullInt64{Int64: qty, Valid: true}

		price, ok := parseDecimal(row.Price)
		if !ok {
			price = decimal.Zero
		}
		item.Price = decimal.NullDecimal{Decimal: price, Valid: true}

		if ref, ok := parseInt(row.ProductRef); ok {
			item.ProductID = &ref
			if !seen[ref] {
				seen[ref] = true
				refs = append(refs, strconv.FormatInt(ref, 10))
			}
		}
		items = append(items, item)
	}
	return items, refs
}

func attachProducts(items []models.CartItem, products map[int64]*models.CatalogProduct) {
	for i := range items {
		if items[i].ProductID == nil {
			continue
		}
		items[i].Product = products[*items[i].ProductID]
	}
}

// productFromRow builds a catalog product from a text-cast map row. Keys are
// lowercased column names.
func productFromRow(row map[string]interface{}) (*models.CatalogProduct, bool) {
	id, ok := parseInt(nullString(row["id"]))
	if !ok {
		return nil, false
	}
	p := &models.CatalogProduct{ID: id}
	if v := pickString(row, "name"); v.Valid {
		p.Name = v.String
	}
	if n, ok := parseInt(pickString(row, "sessions")); ok {
		p.Sessions = sql.NullInt64{Int64: n, Valid: true}
	}
	if n, ok := parseInt(pickString(row, "totalsessions", "total_sessions")); ok {
		p.TotalSessions = sql.NullInt64{Int64: n, Valid: true}
	}
	if v := pickString(row, "packagetype", "package_type"); v.Valid {
		p.PackageType = v.String
	}
	if d, ok := parseDecimal(pickString(row, "totalcost", "total_cost", "price")); ok {
		p.Price = decimal.NullDecimal{Decimal: d, Valid: true}
	}
	return p, true
}

func pickString(row map[string]interface{}, keys ...string) sql.NullString {
	for _, k := range keys {
		if v, ok := row[k]; ok {
			if s := nullString(v); s.Valid {
				return s
			}
		}
	}
	return sql.NullString{}
}

func nullString(v interface{}) sql.NullString {
	switch t := v.(type) {
	case string:
		return sql.NullString{String: t, Valid: true}
	case []byte:
		return sql.NullString{String: string(t), Valid: true}
	default:
		return sql.NullString{}
	}
}

// parseInt accepts integers and integral decimals ("3", "3.00").
func parseInt(s sql.NullString) (int64, bool) {
	if !s.Valid {
		return 0, false
	}
	v := strings.TrimSpace(s.String)
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n, true
	}
	d, err := decimal.NewFromString(v)
	if err != nil || !d.Equal(d.Truncate(0)) {
		return 0, false
	}
	return d.IntPart(), true
}

func parseDecimal(s sql.NullString) (decimal.Decimal, bool) {
	if !s.Valid {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s.String))
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}
