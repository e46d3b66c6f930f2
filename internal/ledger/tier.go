package ledger

import "levelup-loyalty/internal/models"

var tierRank = map[string]int{
	models.TierBronze:  0,
	models.TierSilver:  1,
	models.TierGold:    2,
	models.TierDiamond: 3,
}

// TierFor maps lifetime points to a tier
func TierFor(lifetime int) string {
	switch {
	case lifetime >= 2000:
		return models.TierDiamond
	case lifetime >= 1000:
		return models.TierGold
	case lifetime >= 500:
		return models.TierSilver
	default:
		return models.TierBronze
	}
}

// Promote returns the higher of current and the tier earned by lifetime
func Promote(current string, lifetime int) string {
	earned := TierFor(lifetime)
	rank, ok := tierRank[current]
	if !ok || tierRank[earned] > rank {
		return earned
	}
	return current
}
