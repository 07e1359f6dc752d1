// Package fees computes the layered charges added on top of a proposal's rate.
package fees

import "github.com/shopspring/decimal"

var (
	platformRate   = decimal.RequireFromString("0.03")
	processingRate = decimal.RequireFromString("0.029")
	// processingFlat is added in the same unit as the rate, not in cents.
	processingFlat = decimal.NewFromInt(30)
	hundred        = decimal.NewFromInt(100)
)

// Breakdown is the fee schedule for one proposed rate, in major currency units.
type Breakdown struct {
	ProjectCost   decimal.Decimal `json:"projectCost"`
	PlatformFee   decimal.Decimal `json:"platformFee"`
	ProcessingFee decimal.Decimal `json:"processingFee"`
	Total         decimal.Decimal `json:"total"`
}

// Calculate returns the fee breakdown for rate. Fees are rounded half-up to
// whole units; the rate itself is carried as given.
func Calculate(rate decimal.Decimal) Breakdown {
	platform := roundHalfUp(rate.Mul(platformRate))
	processing := roundHalfUp(rate.Mul(processingRate).Add(processingFlat))
	return Breakdown{
		ProjectCost:   rate,
		PlatformFee:   platform,
		ProcessingFee: processing,
		Total:         rate.Add(platform).Add(processing),
	}
}

// TotalCents converts the total to minor units.
func (b Breakdown) TotalCents() int64 {
	return ToCents(b.Total)
}

// ToCents converts a major-unit amount to minor units, rounding half-up.
func ToCents(amount decimal.Decimal) int64 {
	return roundHalfUp(amount.Mul(hundred)).IntPart()
}

// roundHalfUp rounds to an integer with ties going toward +Inf.
func roundHalfUp(d decimal.Decimal) decimal.Decimal {
	return d.Add(decimal.RequireFromString("0.5")).Floor()
}
