package billing_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/warp/society-billing/billing"
)

// =============================================================================
// INTEREST
// =============================================================================

func TestCalculator_DailySimpleInterest(t *testing.T) {
	// GIVEN: 21% p.a. daily simple, round-off on
	// WHEN: 1000 principal is 30 days overdue
	// THEN: 1000 * 0.21 / 365 * 30 = 17.26 -> 17
	policy := basePolicy()
	policy.InterestRatePercentPerAnnum = pct("21")
	policy.InterestPeriod = billing.InterestDaily
	policy.RoundOffAmount = true

	charges := billing.Calculator{}.Compute(billing.ChargeInput{
		PrincipalArrears: money("1000"),
		DaysOverdue:      30,
	}, policy)

	assertMoney(t, "17", charges.Interest)
	assert.Equal(t, "17", charges.Interest.Value.String())
}

func TestCalculator_InterestKeepsPaiseWithoutRoundOff(t *testing.T) {
	policy := basePolicy()
	policy.InterestRatePercentPerAnnum = pct("21")
	policy.RoundOffAmount = false

	charges := billing.Calculator{}.Compute(billing.ChargeInput{PrincipalArrears: money("1000"), DaysOverdue: 30}, policy)

	assertMoney(t, "17.26", charges.Interest)
}

func TestCalculator_CompoundIncludesInterestArrears(t *testing.T) {
	// GIVEN: 12% p.a. per bill frequency (monthly), compound
	// WHEN: principal 1000 and unpaid interest 200
	// THEN: interest = 1200 * 12 * 1 / 1200 = 12
	policy := basePolicy()
	policy.InterestRatePercentPerAnnum = pct("12")
	policy.InterestPeriod = billing.InterestAsPerBillFrequency
	policy.InterestType = billing.InterestCompound

	in := billing.ChargeInput{PrincipalArrears: money("1000"), InterestArrears: money("200"), DaysOverdue: 31, CycleMonths: 1}
	assertMoney(t, "12", billing.Calculator{}.Compute(in, policy).Interest)

	policy.InterestType = billing.InterestSimple
	assertMoney(t, "10", billing.Calculator{}.Compute(in, policy).Interest)
}

func TestCalculator_PerCycleInterestScalesWithCycleLength(t *testing.T) {
	policy := basePolicy()
	policy.InterestRatePercentPerAnnum = pct("12")
	policy.InterestPeriod = billing.InterestAsPerBillFrequency
	policy.BillFrequencyMonths = 3

	quarterly := billing.Calculator{}.Compute(billing.ChargeInput{PrincipalArrears: money("1000"), DaysOverdue: 90, CycleMonths: 3}, policy)
	assertMoney(t, "30", quarterly.Interest)

	// Zero cycle months falls back to the policy frequency
	fallback := billing.Calculator{}.Compute(billing.ChargeInput{PrincipalArrears: money("1000"), DaysOverdue: 90}, policy)
	assertMoney(t, "30", fallback.Interest)
}

func TestCalculator_GracePeriod(t *testing.T) {
	policy := basePolicy()
	policy.InterestRatePercentPerAnnum = pct("36.5")
	policy.GracePeriodDays = 10

	within := billing.Calculator{}.Compute(billing.ChargeInput{PrincipalArrears: money("1000"), DaysOverdue: 10}, policy)
	assert.True(t, within.Interest.IsZero(), "no interest inside the grace period")

	// Past grace, interest runs for the whole span: 1000 * 36.5 * 11 / 36500 = 11
	past := billing.Calculator{}.Compute(billing.ChargeInput{PrincipalArrears: money("1000"), DaysOverdue: 11}, policy)
	assertMoney(t, "11", past.Interest)
}

func TestCalculator_MinimumInterestFloor(t *testing.T) {
	policy := basePolicy()
	policy.InterestRatePercentPerAnnum = pct("12")
	policy.InterestMinRupees = money("25")

	// 100 * 12 * 5 / 36500 = 0.16, floored to 25
	charges := billing.Calculator{}.Compute(billing.ChargeInput{PrincipalArrears: money("100"), DaysOverdue: 5}, policy)
	assertMoney(t, "25", charges.Interest)

	// No principal, no floor
	none := billing.Calculator{}.Compute(billing.ChargeInput{PrincipalArrears: money("0"), DaysOverdue: 5}, policy)
	assert.True(t, none.Interest.IsZero())
}

func TestCalculator_NoInterestWithoutRate(t *testing.T) {
	policy := basePolicy()
	charges := billing.Calculator{}.Compute(billing.ChargeInput{PrincipalArrears: money("5000"), DaysOverdue: 90}, policy)
	assert.True(t, charges.Interest.IsZero())
}

// =============================================================================
// PENALTY
// =============================================================================

func TestCalculator_Penalty(t *testing.T) {
	tests := []struct {
		name  string
		apply bool
		basis billing.PenaltyBasis
		bill  string
		want  string
	}{
		{"disabled", false, billing.PenaltyFixedAmount, "5000", "0"},
		{"fixed above threshold", true, billing.PenaltyFixedAmount, "5000", "100"},
		{"at threshold", true, billing.PenaltyFixedAmount, "2000", "0"},
		{"below threshold", true, billing.PenaltyFixedAmount, "1500", "0"},
		{"percentage above threshold", true, billing.PenaltyPercentage, "5000", "125"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := basePolicy()
			policy.PenaltyApply = tt.apply
			policy.PenaltyBasis = tt.basis
			policy.PenaltyFixedAmount = money("100")
			policy.PenaltyPercent = pct("2.5")
			policy.PenaltyThresholdAmount = money("2000")

			charges := billing.Calculator{}.Compute(billing.ChargeInput{BillAmount: money(tt.bill)}, policy)
			assertMoney(t, tt.want, charges.Penalty)
		})
	}
}

// =============================================================================
// REBATE
// =============================================================================

func TestCalculator_RebateWindow(t *testing.T) {
	// GIVEN: fixed rebate of 50 when paid within 7 days of a 2024-02-01 bill
	policy := basePolicy()
	policy.RebateApply = true
	policy.RebateType = billing.RebateFixedAmount
	policy.RebateFixedAmount = money("50")
	policy.RebateDueDateOffsetDays = 7

	in := billing.ChargeInput{RebateBase: money("1200"), RebateBillDate: date(2024, time.February, 1)}

	// WHEN: paid 2024-02-05 THEN: 50
	in.PaidOn = datePtr(2024, time.February, 5)
	assertMoney(t, "50", billing.Calculator{}.Compute(in, policy).Rebate)

	// WHEN: paid on the deadline itself THEN: still 50
	in.PaidOn = datePtr(2024, time.February, 8)
	assertMoney(t, "50", billing.Calculator{}.Compute(in, policy).Rebate)

	// WHEN: paid 2024-02-10 THEN: 0
	in.PaidOn = datePtr(2024, time.February, 10)
	assert.True(t, billing.Calculator{}.Compute(in, policy).Rebate.IsZero())

	// WHEN: never settled THEN: 0
	in.PaidOn = nil
	assert.True(t, billing.Calculator{}.Compute(in, policy).Rebate.IsZero())
}

func TestCalculator_RebateTypes(t *testing.T) {
	policy := basePolicy()
	policy.RebateApply = true
	policy.RebateDueDateOffsetDays = 7
	policy.RebatePercent = pct("5")
	policy.RebateFixedAmount = money("500")

	in := billing.ChargeInput{
		RebateBase:     money("300"),
		RebateBillDate: date(2024, time.March, 1),
		PaidOn:         datePtr(2024, time.March, 2),
	}

	policy.RebateType = billing.RebateFixedPercent
	assertMoney(t, "15", billing.Calculator{}.Compute(in, policy).Rebate)

	// Fixed rebate is flat even when it exceeds what was billed
	policy.RebateType = billing.RebateFixedAmount
	assertMoney(t, "500", billing.Calculator{}.Compute(in, policy).Rebate)

	policy.RebateType = billing.RebateManual
	charges := billing.Calculator{}.Compute(in, policy)
	assert.True(t, charges.Rebate.IsZero())
	assert.True(t, charges.ManualRebate)
}

func TestCalculator_DisabledFlagsReturnZero(t *testing.T) {
	policy := basePolicy()
	charges := billing.Calculator{}.Compute(billing.ChargeInput{
		BillAmount:     money("10000"),
		RebateBase:     money("10000"),
		RebateBillDate: date(2024, time.March, 1),
		PaidOn:         datePtr(2024, time.March, 1),
	}, policy)

	assert.True(t, charges.Penalty.IsZero())
	assert.True(t, charges.Rebate.IsZero())
	assert.False(t, charges.ManualRebate)
}
