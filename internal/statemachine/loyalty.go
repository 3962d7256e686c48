package statemachine

import (
	"github.com/shopspring/decimal"

	"venue-orders/internal/models"
)

var (
	silverThreshold   = decimal.NewFromInt(1000)
	goldThreshold     = decimal.NewFromInt(5000)
	platinumThreshold = decimal.NewFromInt(10000)

	tierRates = map[string]decimal.Decimal{
		models.TierBronze:   decimal.RequireFromString("0.015"),
		models.TierSilver:   decimal.RequireFromString("0.03"),
		models.TierGold:     decimal.RequireFromString("0.045"),
		models.TierPlatinum: decimal.RequireFromString("0.05"),
	}
)

// TierFor returns the loyalty tier earned by a lifetime spend
func TierFor(lifetimeSpend decimal.Decimal) string {
	switch {
	case lifetimeSpend.GreaterThanOrEqual(platinumThreshold):
		return models.TierPlatinum
	case lifetimeSpend.GreaterThanOrEqual(goldThreshold):
		return models.TierGold
	case lifetimeSpend.GreaterThanOrEqual(silverThreshold):
		return models.TierSilver
	default:
		return models.TierBronze
	}
}

// RateFor returns the cashback rate of a tier, defaulting to bronze
func RateFor(tier string) decimal.Decimal {
	if rate, ok := tierRates[tier]; ok {
		return rate
	}
	return tierRates[models.TierBronze]
}
