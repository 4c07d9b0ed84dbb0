package billing

import "math"

// Pricing holds the configured price list in minor units
type Pricing struct {
	BasicPrice  int64
	MemberPrice int64
	TrialDays   int
	Currency    string
}

// NewPricing converts decimal prices to minor units
func NewPricing(basicPrice, memberPrice float64, trialDays int, currency string) Pricing {
	return Pricing{
		BasicPrice:  ToMinorUnits(basicPrice),
		MemberPrice: ToMinorUnits(memberPrice),
		TrialDays:   trialDays,
		Currency:    currency,
	}
}

// DefaultPricing is $2.00 BASIC, $0.50 per TEAM member, 14-day trial
func DefaultPricing() Pricing {
	return NewPricing(2.0, 0.5, 14, "USD")
}

// Price returns the monthly price of plan for memberCount members in minor
// units. Unknown plans cost nothing.
func (p Pricing) Price(plan Plan, memberCount int) int64 {
	switch plan {
	case PlanBasic:
		return p.BasicPrice
	case PlanTeam:
		if memberCount < 0 {
			return 0
		}
		return int64(memberCount) * p.MemberPrice
	default:
		return 0
	}
}

// Info returns the price list in decimal units
func (p Pricing) Info() PricingInfo {
	return PricingInfo{
		BasicPrice:  FromMinorUnits(p.BasicPrice),
		MemberPrice: FromMinorUnits(p.MemberPrice),
		TrialDays:   p.TrialDays,
		Currency:    p.Currency,
	}
}

// ToMinorUnits converts a decimal amount to cents, rounding half away from zero
func ToMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// FromMinorUnits converts cents to a decimal amount
func FromMinorUnits(cents int64) float64 {
	return float64(cents) / 100
}
