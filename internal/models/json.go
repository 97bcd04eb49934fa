package models

import (
	"database/sql"
	"encoding/json"
)

func nullableInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

// MarshalJSON renders Quantity as a number or null.
func (i CartItem) MarshalJSON() ([]byte, error) {
	type plain CartItem
	return json.Marshal(struct {
		plain
		Quantity *int64 `json:"quantity"`
	}{plain(i), nullableInt(i.Quantity)})
}

// MarshalJSON renders the session counts as numbers or null.
func (p CatalogProduct) MarshalJSON() ([]byte, error) {
	type plain CatalogProduct
	return json.Marshal(struct {
		plain
		Sessions      *int64 `json:"sessions"`
		TotalSessions *int64 `json:"total_sessions"`
	}{plain(p), nullableInt(p.Sessions), nullableInt(p.TotalSessions)})
}
