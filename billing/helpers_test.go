package billing_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/warp/society-billing/billing"
	"github.com/warp/society-billing/generic"
	"github.com/warp/society-billing/generic/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func money(s string) generic.Money { return generic.MustParseMoney(s) }

func pct(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func date(year int, month time.Month, day int) generic.TimePoint {
	return generic.NewTimePoint(year, month, day)
}

func datePtr(year int, month time.Month, day int) *generic.TimePoint {
	d := date(year, month, day)
	return &d
}

// assertMoney compares amounts numerically so "17" equals "17.00".
func assertMoney(t *testing.T, want string, got generic.Money, msgAndArgs ...interface{}) {
	t.Helper()
	require.True(t, money(want).Equal(got), append([]interface{}{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

func basePolicy() billing.PolicyConfiguration {
	p := billing.DefaultPolicy("soc-1", date(2024, time.January, 1))
	p.PaymentDueDateOffsetDays = 15
	return p
}

type fixture struct {
	ctx   context.Context
	store *store.Memory
	gen   *billing.Generator
	alloc *billing.Allocator
}

// newFixture seeds an active society "soc-1" with the given policy, a
// maintenance heading (interest-bearing) and a sinking-fund heading
// (interest-free), and n members each billed 1000 + 200.
func newFixture(t *testing.T, policy billing.PolicyConfiguration, n int) *fixture {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemory()

	require.NoError(t, s.SaveSociety(ctx, billing.Society{ID: "soc-1", Name: "Green Acres", State: billing.StateActive}))
	policy.SocietyID = "soc-1"
	require.NoError(t, s.SavePolicyConfiguration(ctx, policy))
	require.NoError(t, s.SaveHeadingDefinition(ctx, billing.HeadingDefinition{
		SocietyID: "soc-1", Code: "MAINT", Name: "Maintenance", DefaultAmount: money("1000"), AppliesInterest: true,
	}))
	require.NoError(t, s.SaveHeadingDefinition(ctx, billing.HeadingDefinition{
		SocietyID: "soc-1", Code: "SINK", Name: "Sinking fund", DefaultAmount: money("200"),
	}))

	for i := 1; i <= n; i++ {
		id := billing.MemberID(fmt.Sprintf("m-%02d", i))
		require.NoError(t, s.SaveMember(ctx, billing.Member{
			ID: id, SocietyID: "soc-1", Name: fmt.Sprintf("Member %d", i), UnitNumber: fmt.Sprintf("A-%d", 100+i), Status: billing.MemberActive,
		}))
		require.NoError(t, s.SaveMemberHeadingAmounts(ctx, id, []billing.MemberHeadingAmount{
			{HeadingCode: "MAINT", CurrentAmount: money("1000")},
			{HeadingCode: "SINK", CurrentAmount: money("200")},
		}))
	}

	fixed := time.Date(2024, time.January, 1, 9, 0, 0, 0, time.UTC)
	gen := billing.NewGenerator(s, nil)
	gen.Now = func() time.Time { return fixed }
	alloc := billing.NewAllocator(s, nil)
	alloc.Backoff = 0
	alloc.Now = func() time.Time { return fixed }

	return &fixture{ctx: ctx, store: s, gen: gen, alloc: alloc}
}

func monthlyRequest(lot int, year int, month time.Month) billing.GenerateRequest {
	start := date(year, month, 1)
	return billing.GenerateRequest{
		SocietyID:  "soc-1",
		BillLot:    lot,
		BillDate:   start,
		PeriodFrom: start,
		PeriodTo:   generic.EndOfMonth(year, month),
	}
}

func (f *fixture) generate(t *testing.T, req billing.GenerateRequest) *billing.GenerateResult {
	t.Helper()
	result, err := f.gen.Generate(f.ctx, req)
	require.NoError(t, err)
	return result
}

func (f *fixture) pay(t *testing.T, billID billing.BillID, amount string, on generic.TimePoint) *billing.AllocationResult {
	t.Helper()
	result, err := f.alloc.Apply(f.ctx, billing.ReceiptRequest{
		BillID: billID, ReceiptDate: on, Amount: money(amount), Mode: billing.ModeUPI,
	})
	require.NoError(t, err)
	return result
}
