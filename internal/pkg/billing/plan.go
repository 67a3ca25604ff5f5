package billing

import (
	"strings"

	"github.com/chloecircle/chloecircle/app/models"
	"github.com/shopspring/decimal"
)

var (
	monthlyBandLow  = decimal.NewFromInt(15)
	monthlyBandHigh = decimal.NewFromInt(25)
	yearlyBandLow   = decimal.NewFromInt(150)
	yearlyBandHigh  = decimal.NewFromInt(250)
)

// cycleFromPrice guesses the billing cycle of an unmapped price. Bands are
// inclusive and anything outside them is treated as monthly.
func cycleFromPrice(interval string, amount decimal.Decimal) models.BillingCycle {
	inBand := func(lo, hi decimal.Decimal) bool {
		return amount.GreaterThanOrEqual(lo) && amount.LessThanOrEqual(hi)
	}
	switch normalizeInterval(interval) {
	case "month":
		if inBand(monthlyBandLow, monthlyBandHigh) {
			return models.BillingCycleMonthly
		}
	case "year":
		if inBand(yearlyBandLow, yearlyBandHigh) {
			return models.BillingCycleYearly
		}
	}
	return models.BillingCycleMonthly
}

func normalizeInterval(interval string) string {
	i := strings.ToLower(strings.TrimSpace(interval))
	switch i {
	case "month", "year":
		return i
	default:
		return "unknown"
	}
}

// localSubscriptionStatus maps a normalized provider status onto the local
// subscription lifecycle.
func localSubscriptionStatus(status string) models.BillingSubscriptionStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case ProviderStatusActive, ProviderStatusTrialing:
		return models.BillingStatusActive
	case ProviderStatusCanceled, ProviderStatusIncompleteExpired:
		return models.BillingStatusCanceled
	default:
		return models.BillingStatusPastDue
	}
}

// toMinorUnits converts a major-unit price into integer cents.
func toMinorUnits(price decimal.Decimal) int64 {
	return price.Shift(2).Round(0).IntPart()
}

// fromMinorUnits converts integer cents into a major-unit amount.
func fromMinorUnits(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}
