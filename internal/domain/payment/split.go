package payment

import (
	"github.com/shopspring/decimal"

	"github.com/yourorg/payment-engine/internal/apperror"
)

// splitScale is the rounding scale for monetary shares. Two decimal places
// cover every supported settlement currency.
const splitScale = 2

// SplitPayment divides a gross amount into a platform (system) fee share and
// a merchant/owner net share. It is a value object: construct it with Split
// and never mutate it.
type SplitPayment struct {
	Total       decimal.Decimal `json:"total"`
	SystemShare decimal.Decimal `json:"system_share"`
	OwnerShare  decimal.Decimal `json:"owner_share"`
	FeePercent  decimal.Decimal `json:"fee_percent"`
}

// Split computes the fee split for a gross total. The system share is the fee
// percentage of the total rounded to currency precision; the owner share is
// the exact remainder, so the two shares always sum back to the total.
func Split(total, feePercent decimal.Decimal) (SplitPayment, error) {
	if total.IsNegative() || total.IsZero() {
		return SplitPayment{}, apperror.New(apperror.KindValidation, "split total must be positive, got %s", total)
	}
	if feePercent.IsNegative() || feePercent.GreaterThan(decimal.NewFromInt(100)) {
		return SplitPayment{}, apperror.New(apperror.KindValidation, "fee percent must be within [0, 100], got %s", feePercent)
	}

	system := total.Mul(feePercent).Div(decimal.NewFromInt(100)).Round(splitScale)
	owner := total.Sub(system)

	return SplitPayment{
		Total:       total,
		SystemShare: system,
		OwnerShare:  owner,
		FeePercent:  feePercent,
	}, nil
}
