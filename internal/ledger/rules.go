// Package ledger holds the points rules and the fold that turns ledger
// entries into balances and tiers.
package ledger

import (
	"levelup-loyalty/internal/models"

	"github.com/shopspring/decimal"
)

// DefaultEarnRate is the money paid per earned point
const DefaultEarnRate = 100

// Rules computes points from money and products
type Rules struct {
	EarnRate decimal.Decimal
}

// NewRules creates rules earning one point per earnRate of money paid.
// Non-positive rates fall back to DefaultEarnRate.
func NewRules(earnRate int) Rules {
	if earnRate <= 0 {
		earnRate = DefaultEarnRate
	}
	return Rules{EarnRate: decimal.NewFromInt(int64(earnRate))}
}

// PointsEarned returns floor(money / EarnRate), or 0 for non-positive money
func (r Rules) PointsEarned(money decimal.Decimal) int {
	if !money.IsPositive() {
		return 0
	}
	rate := r.EarnRate
	if !rate.IsPositive() {
		rate = decimal.NewFromInt(DefaultEarnRate)
	}
	return int(money.Div(rate).Floor().IntPart())
}

// PointsRequired returns the redemption cost of product
func PointsRequired(product *models.Product) (int, error) {
	if product == nil || !product.Canjeable {
		code := ""
		if product != nil {
			code = product.Codigo
		}
		return 0, models.ErrNotRedeemable.WithContext("product_id", code)
	}
	if product.Puntos == nil || *product.Puntos <= 0 {
		return 0, models.ErrProductMisconfigured.WithContext("product_id", product.Codigo)
	}
	return *product.Puntos, nil
}

// CanAfford reports whether user's current balance covers cost
func CanAfford(user *models.User, cost int) bool {
	if user == nil || cost < 0 {
		return false
	}
	return user.Puntos >= cost
}
