package service

import (
	"cart-service/internal/models"
	"cart-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// UnknownItemName labels breakdown lines whose product could not be resolved.
const UnknownItemName = "Unknown Item"

// CalculateCartTotals sums quantity × price over the cart lines and counts the
// sessions they buy. Malformed lines are logged and skipped. The total is
// rounded to cents once, after summing.
func CalculateCartTotals(items []models.CartItem) models.CartTotals {
	return calculateCartTotals(items, util.GetLogger())
}

func calculateCartTotals(items []models.CartItem, log *zap.Logger) models.CartTotals {
	result := models.CartTotals{
		Total:         decimal.Zero,
		ItemBreakdown: []models.ItemBreakdown{},
	}
	if len(items) == 0 {
		return result
	}

	total := decimal.Zero
	var totalSessions int64

	for _, item := range items {
		if reason := malformedReason(item); reason != "" {
			util.CartMalformedLinesTotal.Inc()
			log.Warn("Skipping malformed cart line",
				zap.Int64("item_id", item.ID),
				zap.Int64("cart_id", item.CartID),
				zap.String("reason", reason))
			continue
		}

		qty := item.Quantity.Int64
		price := item.Price.Decimal
		subtotal := price.Mul(decimal.NewFromInt(qty))
		total = total.Add(subtotal)

		perItem := sessionsPerItem(item.Product)
		itemSessions := perItem * qty
		totalSessions += itemSessions

		result.ItemBreakdown = append(result.ItemBreakdown, models.ItemBreakdown{
			ItemID:            item.ID,
			ProductID:         productID(item),
			ProductName:       productName(item.Product),
			Quantity:          qty,
			UnitPrice:         price,
			Subtotal:          subtotal,
			SessionsPerItem:   perItem,
			TotalItemSessions: itemSessions,
		})
	}

	result.Total = total.Round(2)
	result.TotalSessions = totalSessions
	return result
}

func malformedReason(item models.CartItem) string {
	switch {
	case !item.Quantity.Valid:
		return "quantity is not a number"
	case !item.Price.Valid:
		return "price is not a number"
	case item.Quantity.Int64 < 1:
		return "quantity below 1"
	case item.Price.Decimal.IsNegative():
		return "negative price"
	}
	return ""
}

// sessionsPerItem prefers the fixed-package field and falls back to the
// monthly-package one.
func sessionsPerItem(p *models.CatalogProduct) int64 {
	if p == nil {
		return 0
	}
	if p.Sessions.Valid {
		return p.Sessions.Int64
	}
	if p.TotalSessions.Valid {
		return p.TotalSessions.Int64
	}
	return 0
}

func productName(p *models.CatalogProduct) string {
	if p == nil || p.Name == "" {
		return UnknownItemName
	}
	return p.Name
}

func productID(item models.CartItem) *int64 {
	if item.ProductID != nil {
		id := *item.ProductID
		return &id
	}
	if item.Product != nil {
		id := item.Product.ID
		return &id
	}
	return nil
}
