/*
scenarios_test.go - Tests for demo scenarios

PURPOSE:
	Tests that each scenario correctly sets up the expected state:
	- Societies are onboarded to active
	- Policies, headings and members exist
	- Lots are published and receipts applied
	- Carried-forward amounts match the payments made

These tests double as integration tests of Generator + Allocator.
*/
package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/society-billing/billing"
	"github.com/warp/society-billing/generic"
)

func loadScenario(t *testing.T, id string) *Handler {
	t.Helper()
	h, _ := newTestAPI(t)
	load, ok := scenarioLoaders[id]
	require.True(t, ok, "unknown scenario %s", id)
	require.NoError(t, load(h, context.Background()))
	return h
}

func billFor(t *testing.T, h *Handler, society string, lot int, member string) *billing.MemberBill {
	t.Helper()
	bill, err := h.Store.GetMemberBill(context.Background(), billing.BillIDFor(billing.SocietyID(society), lot, billing.MemberID(member)))
	require.NoError(t, err)
	return bill
}

func TestScenarioCatalogMatchesLoaders(t *testing.T) {
	require.Len(t, scenarioLoaders, len(scenarios))
	for _, s := range scenarios {
		assert.Contains(t, scenarioLoaders, s.ID)
	}
}

func TestScenario_NewSociety(t *testing.T) {
	// GIVEN: New society scenario
	// WHEN: Loading the scenario
	// THEN: Society is active with three members and no runs
	h := loadScenario(t, "new-society")
	ctx := context.Background()

	soc, err := h.Store.GetSociety(ctx, "green-meadows")
	require.NoError(t, err)
	assert.Equal(t, billing.StateActive, soc.State)

	members, err := h.Store.ListMembers(ctx, "green-meadows")
	require.NoError(t, err)
	assert.Len(t, members, 3)

	rows, err := h.Store.ListMemberHeadingAmounts(ctx, "gm-b201")
	require.NoError(t, err)
	for _, r := range rows {
		if r.HeadingCode == "MAINT" {
			assert.True(t, r.CurrentAmount.Equal(generic.NewMoneyFromInt(3200)))
		}
	}

	runs, err := h.Store.ListRuns(ctx, "green-meadows")
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestScenario_MonthlyArrears(t *testing.T) {
	// GIVEN: Four members who paid on time, half, never, and late
	// WHEN: The February lot is generated
	// THEN: Only the unpaid amounts are carried forward
	h := loadScenario(t, "monthly-arrears")

	onTime := billFor(t, h, "sunrise-towers", 2, "st-101")
	assert.True(t, onTime.PrincipalArrears.IsZero())
	assert.True(t, onTime.TotalBillAmount.Equal(generic.NewMoneyFromInt(3300)))

	half := billFor(t, h, "sunrise-towers", 2, "st-102")
	assert.True(t, half.PreviousBalance.Equal(generic.NewMoneyFromInt(1650)))

	never := billFor(t, h, "sunrise-towers", 2, "st-103")
	assert.True(t, never.PreviousBalance.Equal(generic.NewMoneyFromInt(3300)))
	assert.True(t, never.InterestAmount.IsPositive())
	assert.True(t, never.TotalBillAmount.GreaterThan(generic.NewMoneyFromInt(6600)))

	jan := billFor(t, h, "sunrise-towers", 1, "st-104")
	assert.Equal(t, billing.BillPaid, jan.Status)
	assert.True(t, jan.PaymentMade.AfterDueDate.Equal(generic.NewMoneyFromInt(3300)))

	soc, err := h.Store.GetSociety(context.Background(), "sunrise-towers")
	require.NoError(t, err)
	assert.Equal(t, 8, soc.LastBillNumber)
	assert.Equal(t, 3, soc.LastReceiptNumber)
	assert.True(t, soc.AutoBilling)
}

func TestScenario_EarlyRebate(t *testing.T) {
	// GIVEN: One member paid inside the rebate window, one after it
	// WHEN: The April lot is generated
	// THEN: Only the early payer gets the rebate
	h := loadScenario(t, "early-rebate")

	early := billFor(t, h, "lakeview", 2, "lv-11")
	assert.True(t, early.RebateAmount.Equal(generic.NewMoneyFromInt(100)))
	assert.True(t, early.TotalBillAmount.Equal(generic.NewMoneyFromInt(2900)))

	late := billFor(t, h, "lakeview", 2, "lv-12")
	assert.True(t, late.RebateAmount.IsZero())
	assert.True(t, late.TotalBillAmount.Equal(generic.NewMoneyFromInt(3000)))
}

func TestScenario_QuarterlyCompound(t *testing.T) {
	h := loadScenario(t, "quarterly-compound")
	ctx := context.Background()

	runs, err := h.Store.ListRuns(ctx, "palm-court")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, 3, runs[0].Period().Months())

	noParking := billFor(t, h, "palm-court", 1, "pc-g3")
	assert.True(t, noParking.BillAmount.Equal(generic.NewMoneyFromInt(6000)))

	partial := billFor(t, h, "palm-court", 2, "pc-g2")
	assert.True(t, partial.PreviousBalance.IsPositive())
	assert.True(t, partial.InterestAmount.IsPositive())
}

func TestScenario_PolicyChange(t *testing.T) {
	// GIVEN: Simple policy from January, interest from March
	// WHEN: Three lots are generated
	// THEN: Each run records the version in force on its bill date
	h := loadScenario(t, "policy-change")
	ctx := context.Background()

	runs, err := h.Store.ListRuns(ctx, "harbour-view")
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, 1, runs[0].PolicyVersion)
	assert.Equal(t, 1, runs[1].PolicyVersion)
	assert.Equal(t, 2, runs[2].PolicyVersion)

	// The revision was promoted by the March run
	rows, err := h.Store.ListMemberHeadingAmounts(ctx, "hv-2")
	require.NoError(t, err)
	for _, r := range rows {
		if r.HeadingCode == "MAINT" {
			assert.True(t, r.CurrentAmount.Equal(generic.NewMoneyFromInt(2800)))
			assert.Nil(t, r.NextAmount)
		}
	}
}

func TestLoadScenario_HTTP(t *testing.T) {
	h, router := newTestAPI(t)

	// Unknown scenario
	rec := do(t, router, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Load, then check current
	rec = do(t, router, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "early-rebate"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	current := decodeAs[ScenarioDTO](t, do(t, router, http.MethodGet, "/api/scenarios/current", nil))
	assert.Equal(t, "early-rebate", current.ID)

	// Loading another replaces the data
	rec = do(t, router, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "new-society"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	societies, err := h.Store.ListSocieties(context.Background())
	require.NoError(t, err)
	require.Len(t, societies, 1)
	assert.Equal(t, billing.SocietyID("green-meadows"), societies[0].ID)

	// Reset clears everything
	rec = do(t, router, http.MethodPost, "/api/scenarios/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	societies, err = h.Store.ListSocieties(context.Background())
	require.NoError(t, err)
	assert.Empty(t, societies)
	assert.Equal(t, "null\n", do(t, router, http.MethodGet, "/api/scenarios/current", nil).Body.String())

	list := decodeAs[[]ScenarioDTO](t, do(t, router, http.MethodGet, "/api/scenarios", nil))
	assert.Len(t, list, len(scenarios))
}
