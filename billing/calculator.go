/*
calculator.go - Interest, penalty and rebate

PURPOSE:
  A pure function from arrears, overdue time and policy to the three
  adjustments on a bill. No I/O, no clock: the same inputs always give the
  same charges.

FORMULAS (before rounding):
  daily interest          = base * rate * days   / 36500
  per-cycle interest      = base * rate * months / 1200
  base                    = principal                    (simple)
                          = principal + interest arrears (compound)
  penalty (fixed)         = penalty_fixed_amount
  penalty (percentage)    = bill_amount * penalty_percent / 100
  rebate  (fixed)         = rebate_fixed_amount
  rebate  (percent)       = rebate base * rebate_percent / 100

GRACE PERIOD:
  No interest is charged until the arrears are more than grace_period_days
  overdue. Past the grace period interest runs for the full overdue span.

MINIMUM INTEREST:
  When interest applies and principal is positive, a computed amount below
  interest_min_rupees is raised to it. This is a floor on interest, not on
  the bill.

EXAMPLE:
  principal 1000, 30 days overdue, 21% p.a. daily, round-off on
  1000 * 21 * 30 / 36500 = 17.26 -> 17
*/
package billing

import (
	"github.com/shopspring/decimal"
	"github.com/warp/society-billing/generic"
)

var (
	dailyDivisor   = decimal.NewFromInt(36500) // 365 days * 100 percent
	monthlyDivisor = decimal.NewFromInt(1200)  // 12 months * 100 percent
)

// ChargeInput carries everything Compute needs besides the policy.
type ChargeInput struct {
	// PrincipalArrears is the interest-bearing principal carried forward,
	// already net of any interest-free arrears.
	PrincipalArrears generic.Money
	InterestArrears  generic.Money
	DaysOverdue      int

	// CycleMonths is the billing cycle length; zero means the policy's
	// bill frequency.
	CycleMonths int

	// BillAmount is the current cycle's charges, the penalty base.
	BillAmount generic.Money

	// Rebate inputs: the bill being rewarded for early payment, and when it
	// was settled in full (nil if it wasn't).
	RebateBase     generic.Money
	RebateBillDate generic.TimePoint
	PaidOn         *generic.TimePoint
}

// Charges is the calculator result. Amounts are rounded and never negative.
type Charges struct {
	Interest generic.Money `json:"interest"`
	Penalty  generic.Money `json:"penalty"`
	Rebate   generic.Money `json:"rebate"`

	// ManualRebate is set when a rebate was earned under a manual policy:
	// Rebate is zero and the operator must supply the amount.
	ManualRebate bool `json:"manual_rebate"`
}

// Calculator computes interest, penalty and rebate.
type Calculator struct{}

// Compute returns the charges for in under policy.
func (Calculator) Compute(in ChargeInput, policy PolicyConfiguration) Charges {
	rebate, manual := rebateFor(in, policy)
	return Charges{
		Interest:     generic.Round(interestFor(in, policy).ClampZero(), policy.RoundOffAmount),
		Penalty:      generic.Round(penaltyFor(in, policy).ClampZero(), policy.RoundOffAmount),
		Rebate:       generic.Round(rebate.ClampZero(), policy.RoundOffAmount),
		ManualRebate: manual,
	}
}

// =============================================================================
// INTEREST
// =============================================================================

func interestFor(in ChargeInput, p PolicyConfiguration) generic.Money {
	if !in.PrincipalArrears.IsPositive() || !p.InterestRatePercentPerAnnum.IsPositive() {
		return generic.ZeroMoney()
	}
	if in.DaysOverdue <= p.GracePeriodDays || in.DaysOverdue <= 0 {
		return generic.ZeroMoney()
	}

	base := in.PrincipalArrears
	if p.InterestType == InterestCompound {
		base = base.Add(in.InterestArrears.ClampZero())
	}

	var interest generic.Money
	switch p.InterestPeriod {
	case InterestAsPerBillFrequency:
		months := in.CycleMonths
		if months <= 0 {
			months = p.BillFrequencyMonths
		}
		if months <= 0 {
			months = 1
		}
		interest = base.Mul(p.InterestRatePercentPerAnnum).
			Mul(decimal.NewFromInt(int64(months))).
			Div(monthlyDivisor)
	default:
		interest = base.Mul(p.InterestRatePercentPerAnnum).
			Mul(decimal.NewFromInt(int64(in.DaysOverdue))).
			Div(dailyDivisor)
	}

	return interest.Max(p.InterestMinRupees)
}

// =============================================================================
// PENALTY
// =============================================================================

func penaltyFor(in ChargeInput, p PolicyConfiguration) generic.Money {
	if !p.PenaltyApply || !in.BillAmount.GreaterThan(p.PenaltyThresholdAmount) {
		return generic.ZeroMoney()
	}
	if p.PenaltyBasis == PenaltyPercentage {
		return in.BillAmount.Percent(p.PenaltyPercent)
	}
	return p.PenaltyFixedAmount
}

// =============================================================================
// REBATE
// =============================================================================

func rebateFor(in ChargeInput, p PolicyConfiguration) (generic.Money, bool) {
	if !p.RebateApply || in.PaidOn == nil || in.RebateBillDate.IsZero() {
		return generic.ZeroMoney(), false
	}
	if in.PaidOn.After(p.RebateDeadline(in.RebateBillDate)) {
		return generic.ZeroMoney(), false
	}
	base := in.RebateBase.ClampZero()
	switch p.RebateType {
	case RebateManual:
		return generic.ZeroMoney(), true
	case RebateFixedPercent:
		return base.Percent(p.RebatePercent), false
	default:
		return p.RebateFixedAmount.ClampZero(), false
	}
}
