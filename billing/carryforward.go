package billing

import (
	"github.com/warp/society-billing/generic"
)

// =============================================================================
// CARRY-FORWARD - Splitting a prior bill's unpaid remainder
// =============================================================================

// Arrears is what a prior bill passes to the next one.
type Arrears struct {
	// PreviousBalance = prior total - prior payments, clamped at zero.
	PreviousBalance generic.Money
	// PrincipalArrears + InterestArrears == PreviousBalance.
	PrincipalArrears generic.Money
	InterestArrears  generic.Money
	// ArrearsFree is the part of PrincipalArrears exempt from interest.
	ArrearsFree generic.Money
}

// CarryForward splits the unpaid remainder of prior into principal and
// interest arrears.
//
// The prior bill's interest part is its interest arrears plus the interest
// and penalty it charged; the rest of its total is principal. Payments
// settle the two parts in the order given: interest_first pays off the
// interest part before touching principal, principal_first the reverse.
//
// The interest-free share of the carried principal keeps the prior bill's
// ratio of interest-free amounts to principal amounts.
func CarryForward(prior *MemberBill, order CreditAdjustmentOrder) Arrears {
	if prior == nil {
		zero := generic.ZeroMoney()
		return Arrears{PreviousBalance: zero, PrincipalArrears: zero, InterestArrears: zero, ArrearsFree: zero}
	}

	total := prior.TotalBillAmount.ClampZero()
	paid := prior.PaymentMade.Total()
	remainder := total.Sub(paid).ClampZero()

	interestPart := generic.SumMoney(prior.InterestArrears, prior.InterestAmount, prior.PenaltyAmount).
		ClampZero().
		Min(total)
	principalPart := total.Sub(interestPart)

	var principal, interest generic.Money
	if order == PrincipalFirst {
		principal = principalPart.Sub(paid).ClampZero().Min(remainder)
		interest = remainder.Sub(principal)
	} else {
		interest = interestPart.Sub(paid).ClampZero().Min(remainder)
		principal = remainder.Sub(interest)
	}

	return Arrears{
		PreviousBalance:  remainder,
		PrincipalArrears: principal,
		InterestArrears:  interest,
		ArrearsFree:      arrearsFreeShare(prior, principal),
	}
}

func arrearsFreeShare(prior *MemberBill, principal generic.Money) generic.Money {
	if !principal.IsPositive() {
		return generic.ZeroMoney()
	}
	principalBase := prior.BillAmount.Add(prior.PrincipalArrears)
	if !principalBase.IsPositive() {
		return generic.ZeroMoney()
	}
	free := prior.InterestFreeBillAmount.Add(prior.ArrearsFreeAmount).ClampZero()
	share := principal.Mul(free.Value).Div(principalBase.Value)
	return generic.RoundPaise(share).Min(principal)
}
