package service

import (
	"levelup-loyalty/internal/models"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// quote holds the money and points figures of a purchase
type quote struct {
	Subtotal        decimal.Decimal
	DescuentoDuoc   decimal.Decimal
	DescuentoPuntos decimal.Decimal
	Total           decimal.Decimal
	PuntosUsados    int
}

// priceOrder applies the institutional discount first, then points at one
// point per currency unit, capped so the total never goes negative.
func priceOrder(items []models.OrderItem, userType string, puntos, duocPercent int) quote {
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.TotalPrice)
	}

	duoc := decimal.Zero
	if userType == models.UserTypeDuoc && duocPercent > 0 {
		duoc = subtotal.Mul(decimal.NewFromInt(int64(duocPercent))).Div(hundred).Round(0)
	}

	remaining := subtotal.Sub(duoc)
	points := decimal.Zero
	if puntos > 0 && remaining.IsPositive() {
		points = decimal.Min(decimal.NewFromInt(int64(puntos)), remaining).Floor()
	}

	return quote{
		Subtotal:        subtotal,
		DescuentoDuoc:   duoc,
		DescuentoPuntos: points,
		Total:           remaining.Sub(points),
		PuntosUsados:    int(points.IntPart()),
	}
}
