package models

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// Cart is one shopping session for one user. At most one cart per user is
// active at any time.
type Cart struct {
	ID             int64           `gorm:"primaryKey;autoIncrement" db:"id" json:"id"`
	UserID         int64           `gorm:"column:user_id;not null;index" db:"user_id" json:"user_id"`
	Status         string          `gorm:"type:varchar(20);not null;index" db:"status" json:"status"`
	Total          decimal.Decimal `gorm:"type:numeric(10,2);not null;default:0" db:"total" json:"total"`
	LastActivityAt *time.Time      `gorm:"column:last_activity_at" db:"last_activity_at" json:"last_activity_at,omitempty"`
	CreatedAt      time.Time       `gorm:"autoCreateTime;default:now()" db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime;default:now()" db:"updated_at" json:"updated_at"`
	Items          []CartItem      `gorm:"foreignKey:CartID" db:"-" json:"items,omitempty"`
}

// CartItem is one line within a cart. Price is snapshotted when the line is
// added and never re-derived from the catalog.
type CartItem struct {
	ID        int64               `gorm:"primaryKey;autoIncrement" db:"id" json:"id"`
	CartID    int64               `gorm:"column:cart_id;not null;index" db:"cart_id" json:"cart_id"`
	ProductID *int64              `gorm:"column:storefront_item_id;index" db:"storefront_item_id" json:"product_id"`
	Quantity  sql.NullInt64       `gorm:"not null" db:"quantity" json:"quantity"`
	Price     decimal.NullDecimal `gorm:"type:numeric(10,2);not null" db:"price" json:"price"`
	CreatedAt time.Time           `gorm:"autoCreateTime" db:"created_at" json:"created_at"`
	UpdatedAt time.Time           `gorm:"autoUpdateTime" db:"updated_at" json:"updated_at"`
	Product   *CatalogProduct     `gorm:"foreignKey:ProductID;references:ID" db:"-" json:"product"`
}

func (Cart) TableName() string { return "carts" }

func (CartItem) TableName() string { return "cart_items" }

// CatalogProduct is the read-only storefront descriptor linked from a cart
// line. Fixed packages carry Sessions, monthly packages carry TotalSessions.
type CatalogProduct struct {
	ID            int64               `gorm:"primaryKey" db:"id" json:"id"`
	Name          string              `db:"name" json:"name"`
	Sessions      sql.NullInt64       `db:"sessions" json:"sessions"`
	TotalSessions sql.NullInt64       `gorm:"column:total_sessions" db:"total_sessions" json:"total_sessions"`
	PackageType   string              `gorm:"column:package_type" db:"package_type" json:"package_type"`
	Price         decimal.NullDecimal `gorm:"column:total_cost;type:numeric(10,2)" db:"total_cost" json:"price"`
}

func (CatalogProduct) TableName() string { return "storefront_items" }

// ColumnMeta is the live name and declared type of a logical column.
// Found is false when none of the candidates exist and Name is a guess.
type ColumnMeta struct {
	Name     string `db:"column_name"`
	DataType string `db:"data_type"`
	Found    bool   `db:"-"`
}

// IsUUID reports whether the column is declared as a Postgres uuid.
func (c ColumnMeta) IsUUID() bool {
	return c.Found && c.DataType == "uuid"
}

// Cart statuses
const (
	CartStatusActive    = "active"
	CartStatusCompleted = "completed"
	CartStatusExpired   = "expired"
)

// ItemBreakdown is the per-line audit record of a totals calculation.
type ItemBreakdown struct {
	ItemID            int64           `json:"item_id"`
	ProductID         *int64          `json:"product_id"`
	ProductName       string          `json:"product_name"`
	Quantity          int64           `json:"quantity"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	Subtotal          decimal.Decimal `json:"subtotal"`
	SessionsPerItem   int64           `json:"sessions_per_item"`
	TotalItemSessions int64           `json:"total_item_sessions"`
}

// CartTotals is the result of a totals calculation.
type CartTotals struct {
	Total         decimal.Decimal `json:"total"`
	TotalSessions int64           `json:"total_sessions"`
	ItemBreakdown []ItemBreakdown `json:"item_breakdown"`
}

// TotalsSource tells where a defensive totals read got its numbers.
type TotalsSource string

const (
	TotalsSourcePersisted          TotalsSource = "persisted"
	TotalsSourceCalculatedFallback TotalsSource = "calculated_fallback"
	TotalsSourceEmptyCart          TotalsSource = "empty_cart"
	TotalsSourceNoCart             TotalsSource = "no_cart"
	TotalsSourceError              TotalsSource = "error"
)

// TotalsSnapshot is returned by defensive totals reads.
type TotalsSnapshot struct {
	Total         decimal.Decimal `json:"total"`
	TotalSessions int64           `json:"total_sessions"`
	Source        TotalsSource    `json:"source"`
}

// UpdateTotalsResult is returned by a totals recomputation.
type UpdateTotalsResult struct {
	Success       bool            `json:"success"`
	Total         decimal.Decimal `json:"total"`
	TotalSessions int64           `json:"total_sessions"`
	ItemBreakdown []ItemBreakdown `json:"item_breakdown"`
	Error         string          `json:"error,omitempty"`
	// Err is the failure behind Error, for errors.Is checks.
	Err           error           `json:"-"`
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `gorm:"primaryKey;type:varchar(64)" db:"event_id"`
	EventType   string    `gorm:"type:varchar(64);not null" db:"event_type"`
	ProcessedAt time.Time `gorm:"not null;default:now()" db:"processed_at"`
}

func (ProcessedEvent) TableName() string { return "processed_events" }
