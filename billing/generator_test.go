package billing_test

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/society-billing/billing"
	"github.com/warp/society-billing/generic"
)

// =============================================================================
// PUBLICATION AND NUMBERING
// =============================================================================

func TestGenerate_FirstRunPublishesNumberedBills(t *testing.T) {
	// GIVEN: an active society with 3 members billed 1000 + 200
	f := newFixture(t, basePolicy(), 3)

	// WHEN: lot 1 is generated for January 2024
	result := f.generate(t, monthlyRequest(1, 2024, time.January))

	// THEN: one bill per member, numbered from the society counter
	require.Len(t, result.Bills, 3)
	assert.Equal(t, billing.RunPublished, result.Run.Status)
	assert.Equal(t, date(2024, time.January, 16), result.Run.DueDate)
	assert.Equal(t, 1, result.Run.PolicyVersion)

	for i, bill := range result.Bills {
		assert.Equal(t, i+1, bill.BillNo)
		assertMoney(t, "1200", bill.BillAmount)
		assertMoney(t, "200", bill.InterestFreeBillAmount)
		assertMoney(t, "1200", bill.TotalBillAmount)
		assert.True(t, bill.PreviousBalance.IsZero())
		assert.Equal(t, billing.BillUnpaid, bill.Status)
		assert.Len(t, bill.Lines, 2)
	}
	assert.Equal(t, billing.MemberID("m-01"), result.Bills[0].MemberID)
	assert.Equal(t, billing.MemberID("m-03"), result.Bills[2].MemberID)

	society, err := f.store.GetSociety(f.ctx, "soc-1")
	require.NoError(t, err)
	assert.Equal(t, 3, society.LastBillNumber)

	stored, err := f.store.ListBillsByRun(f.ctx, result.Run.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 3)
}

func TestGenerate_ExplicitStartingBillNumber(t *testing.T) {
	f := newFixture(t, basePolicy(), 2)

	req := monthlyRequest(1, 2024, time.January)
	req.StartingBillNumber = 101
	result := f.generate(t, req)

	assert.Equal(t, 101, result.Bills[0].BillNo)
	assert.Equal(t, 102, result.Bills[1].BillNo)

	// The counter continues after the explicit range
	next := f.generate(t, monthlyRequest(2, 2024, time.February))
	assert.Equal(t, 103, next.Bills[0].BillNo)
}

func TestGenerate_IssuedBillNumbersAreNotReused(t *testing.T) {
	// GIVEN: lot 1 numbered 1 to 3
	f := newFixture(t, basePolicy(), 3)
	f.generate(t, monthlyRequest(1, 2024, time.January))

	// WHEN: lot 2 asks to start numbering at 2
	req := monthlyRequest(2, 2024, time.February)
	req.StartingBillNumber = 2
	_, err := f.gen.Generate(f.ctx, req)

	// THEN: it is rejected and nothing is published
	assert.ErrorIs(t, err, generic.ErrInvalidInput)
	published, err := f.store.IsLotPublished(f.ctx, "soc-1", 2)
	require.NoError(t, err)
	assert.False(t, published)

	// Starting after the last issued number is accepted
	req.StartingBillNumber = 4
	result := f.generate(t, req)
	assert.Equal(t, 4, result.Bills[0].BillNo)
	assert.Equal(t, 6, result.Bills[2].BillNo)
}

func TestMemoryStore_RejectsOverlappingBillNumbers(t *testing.T) {
	f := newFixture(t, basePolicy(), 1)
	lot1 := f.generate(t, monthlyRequest(1, 2024, time.January))

	run := lot1.Run
	run.ID = "lot-2"
	run.BillLot = 2
	err := f.store.PersistBillingRun(f.ctx, billing.Publication{
		Run:      run,
		Bills:    []billing.MemberBill{{ID: "b-2", SocietyID: "soc-1", MemberID: "m-01", BillLot: 2, BillNo: 1}},
		PriorLot: 1,
	})

	assert.ErrorIs(t, err, generic.ErrInvalidInput)
	_, err = f.store.GetMemberBill(f.ctx, "b-2")
	assert.True(t, generic.IsNotFound(err))
}

// =============================================================================
// DUPLICATE LOTS
// =============================================================================

func TestGenerate_PublishedLotIsRejected(t *testing.T) {
	// GIVEN: lot 5 already published
	f := newFixture(t, basePolicy(), 2)
	first := f.generate(t, monthlyRequest(5, 2024, time.May))

	// WHEN: lot 5 is generated again
	_, err := f.gen.Generate(f.ctx, monthlyRequest(5, 2024, time.May))

	// THEN: DuplicateLotError, nothing new written
	var dup *billing.DuplicateLotError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, 5, dup.BillLot)
	assert.ErrorIs(t, err, generic.ErrDuplicateLot)
	assert.Equal(t, generic.OutcomeValidationFailed, generic.Classify(err))

	runs, err := f.store.ListRuns(f.ctx, "soc-1")
	require.NoError(t, err)
	assert.Len(t, runs, 1)
	bills, err := f.store.ListBillsByRun(f.ctx, first.Run.ID)
	require.NoError(t, err)
	assert.Len(t, bills, 2)
}

func TestGenerate_LotsArePublishedInOrder(t *testing.T) {
	// GIVEN: lots 1 and 3 published for a member who never pays
	f := newFixture(t, basePolicy(), 1)
	f.generate(t, monthlyRequest(1, 2024, time.January))
	lot3 := f.generate(t, monthlyRequest(3, 2024, time.March))
	assertMoney(t, "1200", lot3.Bills[0].PreviousBalance)

	// WHEN: lot 2 is generated afterwards
	_, err := f.gen.Generate(f.ctx, monthlyRequest(2, 2024, time.February))

	// THEN: it is rejected, so January's arrears are carried only once
	assert.ErrorIs(t, err, generic.ErrInvalidInput)
	assert.Equal(t, generic.OutcomeValidationFailed, generic.Classify(err))

	runs, err := f.store.ListRuns(f.ctx, "soc-1")
	require.NoError(t, err)
	assert.Len(t, runs, 2)
	bills, err := f.store.ListBillsByMember(f.ctx, "m-01")
	require.NoError(t, err)
	assert.Len(t, bills, 2)
}

func TestMemoryStore_PublicationChecksLatestLot(t *testing.T) {
	// GIVEN: lots 1 and 3 published
	f := newFixture(t, basePolicy(), 1)
	f.generate(t, monthlyRequest(1, 2024, time.January))
	lot3 := f.generate(t, monthlyRequest(3, 2024, time.March))

	// WHEN: lot 4 computed against lot 1 is published
	stale := lot3.Run
	stale.ID = "lot-4"
	stale.BillLot = 4
	err := f.store.PersistBillingRun(f.ctx, billing.Publication{Run: stale, PriorLot: 1})

	// THEN: the writer must recompute with fresh data
	assert.ErrorIs(t, err, generic.ErrConcurrentModification)

	// WHEN: lot 2 is published after lot 3
	early := lot3.Run
	early.ID = "lot-2"
	early.BillLot = 2
	err = f.store.PersistBillingRun(f.ctx, billing.Publication{Run: early, PriorLot: 3})

	// THEN: it is rejected as out of order
	assert.ErrorIs(t, err, generic.ErrInvalidInput)
	published, err := f.store.IsLotPublished(f.ctx, "soc-1", 2)
	require.NoError(t, err)
	assert.False(t, published)
}

func TestGenerate_ConcurrentSameLotPublishesOnce(t *testing.T) {
	f := newFixture(t, basePolicy(), 5)

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.gen.Generate(f.ctx, monthlyRequest(1, 2024, time.January))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		var dup *billing.DuplicateLotError
		assert.ErrorAs(t, err, &dup)
	}
	assert.Equal(t, 1, succeeded)

	society, err := f.store.GetSociety(f.ctx, "soc-1")
	require.NoError(t, err)
	assert.Equal(t, 5, society.LastBillNumber, "bill numbers must be issued once")
}

// =============================================================================
// DETERMINISM
// =============================================================================

func TestCompute_RegenerationIsByteIdentical(t *testing.T) {
	policy := basePolicy()
	policy.InterestRatePercentPerAnnum = pct("18")
	f := newFixture(t, policy, 6)

	run := billing.BillingRun{
		ID:                 billing.RunIDFor("soc-1", 1),
		SocietyID:          "soc-1",
		BillLot:            1,
		BillDate:           date(2024, time.January, 1),
		PeriodFrom:         date(2024, time.January, 1),
		PeriodTo:           date(2024, time.January, 31),
		DueDate:            date(2024, time.January, 16),
		StartingBillNumber: 1,
	}
	members, err := f.store.ListMembers(f.ctx, "soc-1")
	require.NoError(t, err)

	first, _, err := f.gen.Compute(f.ctx, run, policy, members, nil)
	require.NoError(t, err)

	// Shuffled input order must not matter
	reversed := make([]billing.Member, len(members))
	for i, m := range members {
		reversed[len(members)-1-i] = m
	}
	f.gen.Workers = 1
	second, _, err := f.gen.Compute(f.ctx, run, policy, reversed, nil)
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestBillIDs_AreStablePerSocietyLotAndMember(t *testing.T) {
	assert.Equal(t, billing.BillIDFor("s", 1, "m"), billing.BillIDFor("s", 1, "m"))
	assert.NotEqual(t, billing.BillIDFor("s", 1, "m"), billing.BillIDFor("s", 2, "m"))
	assert.NotEqual(t, billing.RunIDFor("s", 1), billing.RunIDFor("t", 1))
}

// =============================================================================
// CARRY-FORWARD AND CHARGES
// =============================================================================

func TestGenerate_ArrearsConservation(t *testing.T) {
	// GIVEN: lot 1 published; m-01 pays 700, m-02 nothing, m-03 in full
	f := newFixture(t, basePolicy(), 3)
	lot1 := f.generate(t, monthlyRequest(1, 2024, time.January))
	f.pay(t, lot1.Bills[0].ID, "700", date(2024, time.January, 10))
	f.pay(t, lot1.Bills[2].ID, "1200", date(2024, time.January, 20))

	// WHEN: lot 2 is generated
	lot2 := f.generate(t, monthlyRequest(2, 2024, time.February))

	// THEN: previous balance equals prior total minus payments, for everyone
	for _, bill := range lot2.Bills {
		prior, err := f.store.GetMemberBill(f.ctx, billing.BillIDFor("soc-1", 1, bill.MemberID))
		require.NoError(t, err)
		expected := prior.TotalBillAmount.Sub(prior.PaymentMade.Total()).ClampZero()
		assert.True(t, expected.Equal(bill.PreviousBalance), "member %s", bill.MemberID)
		assert.True(t, bill.PrincipalArrears.Add(bill.InterestArrears).Equal(bill.PreviousBalance))
		assert.False(t, bill.TotalBillAmount.IsNegative())
	}
	assertMoney(t, "500", lot2.Bills[0].PreviousBalance)
	assertMoney(t, "1700", lot2.Bills[0].TotalBillAmount)
	assertMoney(t, "2400", lot2.Bills[1].TotalBillAmount)
	assertMoney(t, "1200", lot2.Bills[2].TotalBillAmount)
}

func TestGenerate_InterestOnInterestBearingArrears(t *testing.T) {
	// GIVEN: 21% p.a. daily; m-01 leaves lot 1 (1000 interest-bearing +
	// 200 interest-free) unpaid
	policy := basePolicy()
	policy.InterestRatePercentPerAnnum = pct("21")
	f := newFixture(t, policy, 1)
	f.generate(t, monthlyRequest(1, 2024, time.January))

	// WHEN: lot 2 is billed on Feb 1, due Feb 16 (31 days after Jan 16)
	lot2 := f.generate(t, monthlyRequest(2, 2024, time.February))

	// THEN: interest only on the 1000: 1000 * 21 * 31 / 36500 = 17.84 -> 18
	bill := lot2.Bills[0]
	assertMoney(t, "1200", bill.PrincipalArrears)
	assertMoney(t, "200", bill.ArrearsFreeAmount)
	assertMoney(t, "18", bill.InterestAmount)
	assertMoney(t, "2418", bill.TotalBillAmount)
}

func TestGenerate_RebateCreditedOnNextBill(t *testing.T) {
	// GIVEN: fixed rebate 50 within 7 days of the bill date
	policy := basePolicy()
	policy.RebateApply = true
	policy.RebateType = billing.RebateFixedAmount
	policy.RebateFixedAmount = money("50")
	policy.RebateDueDateOffsetDays = 7
	f := newFixture(t, policy, 2)

	lot1 := f.generate(t, monthlyRequest(1, 2024, time.February))
	require.NotNil(t, lot1.Bills[0].RebateDueDate)
	assert.Equal(t, date(2024, time.February, 8), *lot1.Bills[0].RebateDueDate)

	// WHEN: m-01 settles on Feb 5, m-02 on Feb 10
	early := f.pay(t, lot1.Bills[0].ID, "1200", date(2024, time.February, 5))
	late := f.pay(t, lot1.Bills[1].ID, "1200", date(2024, time.February, 10))
	assert.True(t, early.RebateEarned)
	assert.False(t, late.RebateEarned)

	lot2 := f.generate(t, monthlyRequest(2, 2024, time.March))

	// THEN: only m-01 gets 50 off
	assertMoney(t, "50", lot2.Bills[0].RebateAmount)
	assertMoney(t, "1150", lot2.Bills[0].TotalBillAmount)
	assert.True(t, lot2.Bills[1].RebateAmount.IsZero())
	assertMoney(t, "1200", lot2.Bills[1].TotalBillAmount)
}

func TestGenerate_FlatRebateLargerThanBillClampsTotal(t *testing.T) {
	// GIVEN: a flat rebate of 2000 against monthly bills of 1200
	policy := basePolicy()
	policy.RebateApply = true
	policy.RebateType = billing.RebateFixedAmount
	policy.RebateFixedAmount = money("2000")
	policy.RebateDueDateOffsetDays = 7
	f := newFixture(t, policy, 1)

	lot1 := f.generate(t, monthlyRequest(1, 2024, time.February))
	f.pay(t, lot1.Bills[0].ID, "1200", date(2024, time.February, 2))

	// WHEN: the next lot is generated
	lot2 := f.generate(t, monthlyRequest(2, 2024, time.March))

	// THEN: the full rebate is recorded and the total never goes negative
	assertMoney(t, "2000", lot2.Bills[0].RebateAmount)
	assert.True(t, lot2.Bills[0].TotalBillAmount.IsZero())
}

func TestGenerate_ManualRebate(t *testing.T) {
	policy := basePolicy()
	policy.RebateApply = true
	policy.RebateType = billing.RebateManual
	policy.RebateDueDateOffsetDays = 7
	f := newFixture(t, policy, 2)

	lot1 := f.generate(t, monthlyRequest(1, 2024, time.February))
	f.pay(t, lot1.Bills[0].ID, "1200", date(2024, time.February, 2))
	f.pay(t, lot1.Bills[1].ID, "1200", date(2024, time.February, 3))

	// m-01 gets an operator amount far above the bill; m-02 gets none
	req := monthlyRequest(2, 2024, time.March)
	req.ManualRebates = map[billing.MemberID]generic.Money{"m-01": money("5000")}
	lot2 := f.generate(t, req)

	assertMoney(t, "5000", lot2.Bills[0].RebateAmount)
	assert.True(t, lot2.Bills[0].TotalBillAmount.IsZero(), "total is clamped at zero")
	assert.False(t, lot2.Bills[0].RebateNeedsReview)

	assert.True(t, lot2.Bills[1].RebateAmount.IsZero())
	assert.True(t, lot2.Bills[1].RebateNeedsReview)
}

func TestGenerate_PromotesNextAmounts(t *testing.T) {
	// GIVEN: m-01 maintenance goes 1000 -> 1500 from the next cycle
	f := newFixture(t, basePolicy(), 1)
	next := money("1500")
	require.NoError(t, f.store.SaveMemberHeadingAmounts(f.ctx, "m-01", []billing.MemberHeadingAmount{
		{HeadingCode: "MAINT", CurrentAmount: money("1000"), NextAmount: &next},
		{HeadingCode: "SINK", CurrentAmount: money("200")},
	}))

	// WHEN: lot 1 is generated
	lot1 := f.generate(t, monthlyRequest(1, 2024, time.January))

	// THEN: lot 1 bills the current amount, then the row is promoted
	assertMoney(t, "1200", lot1.Bills[0].BillAmount)
	rows, err := f.store.ListMemberHeadingAmounts(f.ctx, "m-01")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assertMoney(t, "1500", rows[0].CurrentAmount)
	assert.Nil(t, rows[0].NextAmount)

	lot2 := f.generate(t, monthlyRequest(2, 2024, time.February))
	assertMoney(t, "1700", lot2.Bills[0].BillAmount)
}

// =============================================================================
// FAILURES
// =============================================================================

func TestGenerate_MalformedMemberAbortsWholeRun(t *testing.T) {
	// GIVEN: m-02 and m-04 have malformed heading rows
	f := newFixture(t, basePolicy(), 5)
	require.NoError(t, f.store.SaveMemberHeadingAmounts(f.ctx, "m-02", []billing.MemberHeadingAmount{
		{HeadingCode: "MAINT", CurrentAmount: money("-10")},
	}))
	require.NoError(t, f.store.SaveMemberHeadingAmounts(f.ctx, "m-04", []billing.MemberHeadingAmount{
		{HeadingCode: "GYM", CurrentAmount: money("300")},
	}))

	// WHEN: lot 1 is generated
	_, err := f.gen.Generate(f.ctx, monthlyRequest(1, 2024, time.January))

	// THEN: the first offending member is named and nothing is published
	var mde *billing.MemberDataError
	require.ErrorAs(t, err, &mde)
	assert.Equal(t, billing.MemberID("m-02"), mde.MemberID)
	assert.Equal(t, "MAINT", mde.HeadingCode)
	assert.Equal(t, generic.OutcomeValidationFailed, generic.Classify(err))

	published, err := f.store.IsLotPublished(f.ctx, "soc-1", 1)
	require.NoError(t, err)
	assert.False(t, published)

	runs, err := f.store.ListRuns(f.ctx, "soc-1")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, billing.RunFailed, runs[0].Status)
	assert.Contains(t, runs[0].Error, "m-02")

	bills, err := f.store.ListBillsByMember(f.ctx, "m-01")
	require.NoError(t, err)
	assert.Empty(t, bills)

	society, err := f.store.GetSociety(f.ctx, "soc-1")
	require.NoError(t, err)
	assert.Equal(t, 0, society.LastBillNumber)
}

func TestGenerate_RejectsBeforeComputation(t *testing.T) {
	t.Run("no policy in force", func(t *testing.T) {
		policy := basePolicy()
		policy.EffectiveFrom = date(2025, time.January, 1)
		f := newFixture(t, policy, 1)

		_, err := f.gen.Generate(f.ctx, monthlyRequest(1, 2024, time.January))
		var cfg *billing.ConfigurationError
		require.ErrorAs(t, err, &cfg)
		assert.ErrorIs(t, err, generic.ErrConfiguration)
	})

	t.Run("inactive society", func(t *testing.T) {
		f := newFixture(t, basePolicy(), 1)
		require.NoError(t, f.store.SaveSociety(f.ctx, billing.Society{ID: "soc-1", State: billing.StateConfiguring}))

		_, err := f.gen.Generate(f.ctx, monthlyRequest(1, 2024, time.January))
		assert.ErrorIs(t, err, generic.ErrInvalidTransition)
	})

	t.Run("inverted period", func(t *testing.T) {
		f := newFixture(t, basePolicy(), 1)
		req := monthlyRequest(1, 2024, time.January)
		req.PeriodFrom, req.PeriodTo = req.PeriodTo, req.PeriodFrom

		_, err := f.gen.Generate(f.ctx, req)
		assert.ErrorIs(t, err, generic.ErrInvalidPeriod)
	})

	t.Run("no members", func(t *testing.T) {
		f := newFixture(t, basePolicy(), 0)
		_, err := f.gen.Generate(f.ctx, monthlyRequest(1, 2024, time.January))
		assert.ErrorIs(t, err, generic.ErrInvalidInput)
	})

	t.Run("unknown society", func(t *testing.T) {
		f := newFixture(t, basePolicy(), 1)
		req := monthlyRequest(1, 2024, time.January)
		req.SocietyID = "nope"
		_, err := f.gen.Generate(f.ctx, req)
		assert.True(t, generic.IsNotFound(err))
	})
}

func TestGenerate_UsesPolicyVersionInForce(t *testing.T) {
	f := newFixture(t, basePolicy(), 1)
	v2 := basePolicy()
	v2.Version = 2
	v2.EffectiveFrom = date(2024, time.July, 1)
	v2.PaymentDueDateOffsetDays = 10
	require.NoError(t, f.store.SavePolicyConfiguration(f.ctx, v2))

	june := f.generate(t, monthlyRequest(1, 2024, time.June))
	assert.Equal(t, 1, june.Run.PolicyVersion)
	assert.Equal(t, date(2024, time.June, 16), june.Run.DueDate)

	july := f.generate(t, monthlyRequest(2, 2024, time.July))
	assert.Equal(t, 2, july.Run.PolicyVersion)
	assert.Equal(t, date(2024, time.July, 11), july.Run.DueDate)
}

func TestGenerate_ErrorsAreClassified(t *testing.T) {
	f := newFixture(t, basePolicy(), 1)
	f.generate(t, monthlyRequest(1, 2024, time.January))

	_, err := f.gen.Generate(f.ctx, monthlyRequest(1, 2024, time.January))
	assert.True(t, generic.IsClientError(err))
	assert.False(t, generic.IsRetryable(err))
	assert.True(t, errors.Is(err, generic.ErrDuplicateLot))
}
