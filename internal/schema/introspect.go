package schema

import (
	"context"
	"fmt"
	"strings"

	"cart-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// ColumnResolver lists the columns a table actually has in the live database.
type ColumnResolver interface {
	Columns(ctx context.Context, table string) ([]models.ColumnMeta, error)
}

// CatalogResolver reads column metadata from information_schema.
type CatalogResolver struct {
	db sqlx.QueryerContext
}

// NewCatalogResolver creates a resolver backed by the Postgres catalog
func NewCatalogResolver(db sqlx.QueryerContext) *CatalogResolver {
	return &CatalogResolver{db: db}
}

// Columns returns the table's columns in ordinal order. A missing table yields
// an empty slice.
func (r *CatalogResolver) Columns(ctx context.Context, table string) ([]models.ColumnMeta, error) {
	var cols []models.ColumnMeta
	err := sqlx.SelectContext(ctx, r.db, &cols, `
		SELECT column_name, data_type
		FROM information_schema.columns
		WHERE table_name = $1 AND table_schema = current_schema()
		ORDER BY ordinal_position`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to introspect %s: %w", table, err)
	}
	for i := range cols {
		cols[i].Found = true
	}
	return cols, nil
}

// StaticResolver serves column metadata from a fixed map, keyed by table name.
type StaticResolver map[string][]models.ColumnMeta

// Columns implements ColumnResolver.
func (s StaticResolver) Columns(_ context.Context, table string) ([]models.ColumnMeta, error) {
	for name, cols := range s {
		if strings.EqualFold(name, table) {
			out := make([]models.ColumnMeta, len(cols))
			for i, c := range cols {
				c.Found = true
				out[i] = c
			}
			return out, nil
		}
	}
	return []models.ColumnMeta{}, nil
}

// TableColumns is one introspection result, reused for several lookups within
// a single operation.
type TableColumns []models.ColumnMeta

// Load introspects table once. Resolver failures are treated as an empty
// column set.
func Load(ctx context.Context, r ColumnResolver, table string) TableColumns {
	cols, err := r.Columns(ctx, table)
	if err != nil {
		return TableColumns{}
	}
	return TableColumns(cols)
}

// Pick returns the first candidate present in the table, matched
// case-insensitively. When none match, the first candidate comes back as a
// name-only guess with Found unset.
func (t TableColumns) Pick(candidates ...string) models.ColumnMeta {
	for _, cand := range candidates {
		for _, col := range t {
			if strings.EqualFold(col.Name, cand) {
				return models.ColumnMeta{Name: col.Name, DataType: col.DataType, Found: true}
			}
		}
	}
	if len(candidates) == 0 {
		return models.ColumnMeta{}
	}
	return models.ColumnMeta{Name: candidates[0]}
}

// Has reports whether the table has a column with this name.
func (t TableColumns) Has(name string) bool {
	return t.Pick(name).Found
}

// Resolve introspects table and picks the first existing candidate.
func Resolve(ctx context.Context, r ColumnResolver, table string, candidates ...string) models.ColumnMeta {
	return Load(ctx, r, table).Pick(candidates...)
}

// Logical column candidates, in order of preference.
var (
	ColID             = []string{"id"}
	ColCartRef        = []string{"cartId", "cart_id", "cartid", "shoppingCartId", "shopping_cart_id"}
	ColProductRef     = []string{"storefrontItemId", "storefront_item_id", "storefrontitemid", "productId", "product_id"}
	ColQuantity       = []string{"quantity", "qty"}
	ColPrice          = []string{"price", "unitPrice", "unit_price"}
	ColUserRef        = []string{"userId", "user_id", "userid"}
	ColStatus         = []string{"status"}
	ColTotal          = []string{"total"}
	ColLastActivityAt = []string{"lastActivityAt", "last_activity_at", "lastactivityat"}
	ColCreatedAt      = []string{"createdAt", "created_at"}
	ColUpdatedAt      = []string{"updatedAt", "updated_at"}
)
