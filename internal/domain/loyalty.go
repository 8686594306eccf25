package domain

import (
	"math"
	"sort"
)

const (
	// DefaultEarnRate is the fraction of the order price credited as points on payment.
	DefaultEarnRate = 0.05
	// DefaultLoyaltyLevel is reported until the user reaches the first configured tier.
	DefaultLoyaltyLevel = "beginner"
)

// EarnedPoints computes the points credited for paying an order of the
// given price. The result is floored, never rounded up.
func EarnedPoints(price int64, rate float64) int64 {
	if price <= 0 || rate <= 0 {
		return 0
	}
	return int64(math.Floor(float64(price) * rate))
}

// RequiredPoints computes the cost of paying for a service with points.
// A positive per-service override wins; otherwise the price is used as is.
func RequiredPoints(svc Service) int64 {
	if svc.LoyaltyPoints > 0 {
		return svc.LoyaltyPoints
	}
	if svc.Price <= 0 {
		return 0
	}
	return svc.Price
}

// ResolveLevel returns the name of the highest tier whose MinPoints does
// not exceed the user's current point balance. Tiers are evaluated in
// ascending MinPoints order; with no satisfied tier the default level is
// returned. Because the tier follows the spendable balance, a redemption
// can lower it.
func ResolveLevel(levels []LoyaltyLevel, balance int64) string {
	sorted := make([]LoyaltyLevel, len(levels))
	copy(sorted, levels)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].MinPoints < sorted[j].MinPoints
	})

	level := DefaultLoyaltyLevel
	for _, tier := range sorted {
		if tier.MinPoints > balance {
			break
		}
		if tier.Name != "" {
			level = tier.Name
		}
	}
	return level
}
