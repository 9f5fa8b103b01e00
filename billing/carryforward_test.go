package billing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/warp/society-billing/billing"
)

func TestCarryForward_NoPriorBill(t *testing.T) {
	a := billing.CarryForward(nil, billing.InterestFirst)
	assert.True(t, a.PreviousBalance.IsZero())
	assert.True(t, a.PrincipalArrears.IsZero())
	assert.True(t, a.InterestArrears.IsZero())
}

func priorWithInterest() *billing.MemberBill {
	// 1000 current + 500 principal arrears + 100 interest arrears + 50 interest
	return &billing.MemberBill{
		BillAmount:       money("1000"),
		PrincipalArrears: money("500"),
		InterestArrears:  money("100"),
		InterestAmount:   money("50"),
		TotalBillAmount:  money("1650"),
		PaymentMade:      billing.PaymentBuckets{BeforeDueDate: money("400"), AfterDueDate: money("0")},
	}
}

func TestCarryForward_InterestFirst(t *testing.T) {
	// GIVEN: interest part 150, principal part 1500, paid 400
	// THEN: payment clears interest first: interest 0, principal 1250
	a := billing.CarryForward(priorWithInterest(), billing.InterestFirst)

	assertMoney(t, "1250", a.PreviousBalance)
	assertMoney(t, "0", a.InterestArrears)
	assertMoney(t, "1250", a.PrincipalArrears)
}

func TestCarryForward_PrincipalFirst(t *testing.T) {
	// THEN: payment clears principal first: principal 1100, interest 150
	a := billing.CarryForward(priorWithInterest(), billing.PrincipalFirst)

	assertMoney(t, "1250", a.PreviousBalance)
	assertMoney(t, "1100", a.PrincipalArrears)
	assertMoney(t, "150", a.InterestArrears)
}

func TestCarryForward_OverpaymentClampsToZero(t *testing.T) {
	prior := priorWithInterest()
	prior.PaymentMade.AfterDueDate = money("2000")

	for _, order := range []billing.CreditAdjustmentOrder{billing.InterestFirst, billing.PrincipalFirst} {
		a := billing.CarryForward(prior, order)
		assert.True(t, a.PreviousBalance.IsZero(), order)
		assert.True(t, a.PrincipalArrears.IsZero(), order)
		assert.True(t, a.InterestArrears.IsZero(), order)
	}
}

func TestCarryForward_PartsAlwaysSumToPreviousBalance(t *testing.T) {
	for _, paid := range []string{"0", "50", "150", "151", "999.99", "1649", "1650"} {
		prior := priorWithInterest()
		prior.PaymentMade = billing.PaymentBuckets{BeforeDueDate: money(paid), AfterDueDate: money("0")}
		for _, order := range []billing.CreditAdjustmentOrder{billing.InterestFirst, billing.PrincipalFirst} {
			a := billing.CarryForward(prior, order)
			assert.True(t, a.PrincipalArrears.Add(a.InterestArrears).Equal(a.PreviousBalance), "paid %s order %s", paid, order)
			assert.False(t, a.PrincipalArrears.IsNegative())
			assert.False(t, a.InterestArrears.IsNegative())
		}
	}
}

func TestCarryForward_ArrearsFreeShare(t *testing.T) {
	// GIVEN: prior bill 1200 of which 200 is interest-free, nothing paid
	prior := &billing.MemberBill{
		BillAmount:             money("1200"),
		InterestFreeBillAmount: money("200"),
		TotalBillAmount:        money("1200"),
	}

	a := billing.CarryForward(prior, billing.InterestFirst)

	// THEN: the whole 1200 is carried, 200 of it interest-free
	assertMoney(t, "1200", a.PrincipalArrears)
	assertMoney(t, "200", a.ArrearsFree)

	// Half paid: the free share keeps its ratio
	prior.PaymentMade.BeforeDueDate = money("600")
	a = billing.CarryForward(prior, billing.InterestFirst)
	assertMoney(t, "600", a.PrincipalArrears)
	assertMoney(t, "100", a.ArrearsFree)
}
