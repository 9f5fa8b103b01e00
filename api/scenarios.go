/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	society data. Each scenario creates a society, its policy versions,
	headings and members, then runs billing and receipts through the real
	Generator and Allocator so every number on screen was computed.

AVAILABLE SCENARIOS:

	new-society:        Configured society, no bills yet
	monthly-arrears:    Two monthly lots; arrears and interest carried forward
	early-rebate:       Rebate earned by paying inside the window
	quarterly-compound: Quarterly cycle with compound interest and a penalty
	policy-change:      Policy revised mid-year; heading revision promoted

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create society in draft
 3. Add policy versions via factory presets
 4. Define headings, register members with amounts
 5. Walk onboarding to active
 6. Generate lots and apply receipts

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "monthly-arrears"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler
  - factory/presets.go: Policy JSON definitions
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/warp/society-billing/billing"
	"github.com/warp/society-billing/factory"
	"github.com/warp/society-billing/generic"
	"github.com/warp/society-billing/logger"
)

// =============================================================================
// SCENARIO CATALOG
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "new-society",
		Name:        "New Society",
		Description: "Green Meadows CHS: policy, headings and three members configured, nothing billed yet",
	},
	{
		ID:          "monthly-arrears",
		Name:        "Monthly Arrears",
		Description: "Sunrise Towers: January and February lots at 18% p.a.; unpaid and late members carry arrears and interest",
	},
	{
		ID:          "early-rebate",
		Name:        "Early Payment Rebate",
		Description: "Lakeview Residency: a member who pays within 10 days gets Rs 100 off the next bill",
	},
	{
		ID:          "quarterly-compound",
		Name:        "Quarterly Compound",
		Description: "Palm Court: quarterly bills, compound interest and a 2% penalty above Rs 5000",
	},
	{
		ID:          "policy-change",
		Name:        "Mid-Year Policy Change",
		Description: "Harbour View: interest introduced from March; a maintenance revision is promoted by the March run",
	},
}

type scenarioLoader func(h *Handler, ctx context.Context) error

var scenarioLoaders = map[string]scenarioLoader{
	"new-society":        (*Handler).loadNewSocietyScenario,
	"monthly-arrears":    (*Handler).loadMonthlyArrearsScenario,
	"early-rebate":       (*Handler).loadEarlyRebateScenario,
	"quarterly-compound": (*Handler).loadQuarterlyCompoundScenario,
	"policy-change":      (*Handler).loadPolicyChangeScenario,
}

// ListScenarios returns available demo scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req LoadScenarioRequest
	if err := decode(r, &req); err != nil {
		writeFailure(w, r, err)
		return
	}
	load, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeFailure(w, r, fmt.Errorf("scenario %q: %w", req.ScenarioID, generic.ErrNotFound))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(ctx); err != nil {
		writeFailure(w, r, err)
		return
	}
	h.currentScenario = ""

	if err := load(h, ctx); err != nil {
		writeFailure(w, r, fmt.Errorf("load scenario %s: %w", req.ScenarioID, err))
		return
	}
	h.currentScenario = req.ScenarioID

	logger.FromContext(ctx).Info("scenario loaded", zap.String("scenario", req.ScenarioID))
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "loaded",
		"scenario": req.ScenarioID,
	})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(r.Context()); err != nil {
		writeFailure(w, r, err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// SCENARIOS
// =============================================================================

var residentialHeadings = []billing.HeadingDefinition{
	{Code: "MAINT", Name: "Maintenance", DefaultAmount: generic.NewMoneyFromInt(2500), AppliesInterest: true},
	{Code: "SINK", Name: "Sinking Fund", DefaultAmount: generic.NewMoneyFromInt(500), AppliesInterest: true},
	{Code: "WATER", Name: "Water Charges", DefaultAmount: generic.NewMoneyFromInt(300)},
}

func (h *Handler) loadNewSocietyScenario(ctx context.Context) error {
	b := h.scenario(ctx, "green-meadows", "Green Meadows CHS", false)
	b.policy(1, factory.StandardResidentialJSON("2024-01-01", "18", 15, 5))
	b.headings(residentialHeadings...)
	b.member("gm-a101", "Anita Rao", "A-101", nil)
	b.member("gm-a102", "Vikram Shah", "A-102", nil)
	b.member("gm-b201", "Farah Khan", "B-201", map[string]string{"MAINT": "3200"})
	return b.activate()
}

func (h *Handler) loadMonthlyArrearsScenario(ctx context.Context) error {
	b := h.scenario(ctx, "sunrise-towers", "Sunrise Towers CHS", true)
	b.policy(1, factory.StandardResidentialJSON("2024-01-01", "18", 15, 0))
	b.headings(residentialHeadings...)
	b.member("st-101", "Meera Iyer", "101", nil)     // pays on time
	b.member("st-102", "Rohan Desai", "102", nil)    // pays half, late
	b.member("st-103", "Kabir Malhotra", "103", nil) // never pays
	b.member("st-104", "Sana Mirza", "104", nil)     // pays in full after due date
	if err := b.activate(); err != nil {
		return err
	}

	b.generate(1, "2024-01-01", "2024-01-01", "2024-01-31")
	b.pay(1, "st-101", "2024-01-10", "3300")
	b.pay(1, "st-102", "2024-01-25", "1650")
	b.pay(1, "st-104", "2024-01-28", "3300")
	b.generate(2, "2024-02-01", "2024-02-01", "2024-02-29")
	return b.err
}

func (h *Handler) loadEarlyRebateScenario(ctx context.Context) error {
	b := h.scenario(ctx, "lakeview", "Lakeview Residency", false)
	b.policy(1, factory.EarlyPaymentRebateJSON("2024-01-01", "12", "100", 10))
	b.headings(residentialHeadings[:2]...)
	b.member("lv-11", "Priya Nair", "1-1", nil)
	b.member("lv-12", "Arjun Mehta", "1-2", nil)
	if err := b.activate(); err != nil {
		return err
	}

	b.generate(1, "2024-03-01", "2024-03-01", "2024-03-31")
	b.pay(1, "lv-11", "2024-03-05", "3000") // inside the rebate window
	b.pay(1, "lv-12", "2024-03-14", "3000") // before due date, after the window
	b.generate(2, "2024-04-01", "2024-04-01", "2024-04-30")
	return b.err
}

func (h *Handler) loadQuarterlyCompoundScenario(ctx context.Context) error {
	b := h.scenario(ctx, "palm-court", "Palm Court Apartments", true)
	b.policy(1, factory.QuarterlyCompoundJSON("2024-01-01", "15", "2", "5000"))
	b.headings(
		billing.HeadingDefinition{Code: "MAINT", Name: "Maintenance", DefaultAmount: generic.NewMoneyFromInt(6000), AppliesInterest: true},
		billing.HeadingDefinition{Code: "PARK", Name: "Parking", DefaultAmount: generic.NewMoneyFromInt(900)},
	)
	b.member("pc-g1", "Deepak Kulkarni", "G-1", nil)
	b.member("pc-g2", "Nisha Kapoor", "G-2", nil)
	b.member("pc-g3", "Imran Sheikh", "G-3", map[string]string{"PARK": "0"})
	if err := b.activate(); err != nil {
		return err
	}

	b.generate(1, "2024-01-01", "2024-01-01", "2024-03-31")
	b.pay(1, "pc-g1", "2024-01-20", "6900")
	b.pay(1, "pc-g2", "2024-03-15", "3000")
	b.generate(2, "2024-04-01", "2024-04-01", "2024-06-30")
	return b.err
}

func (h *Handler) loadPolicyChangeScenario(ctx context.Context) error {
	b := h.scenario(ctx, "harbour-view", "Harbour View CHS", false)
	b.policy(1, factory.SimplePolicyJSON("2024-01-01", 15))
	b.policy(2, factory.StandardResidentialJSON("2024-03-01", "21", 15, 0))
	b.headings(residentialHeadings[:2]...)
	b.member("hv-1", "Leela Menon", "1", nil)
	b.member("hv-2", "Tarun Bose", "2", nil)
	if err := b.activate(); err != nil {
		return err
	}

	b.generate(1, "2024-01-01", "2024-01-01", "2024-01-31")
	b.pay(1, "hv-1", "2024-01-12", "3000")
	b.generate(2, "2024-02-01", "2024-02-01", "2024-02-29")
	b.pay(2, "hv-1", "2024-02-10", "3000")
	// AGM revision, promoted when the March lot is generated.
	b.revise("hv-1", "MAINT", "2800")
	b.revise("hv-2", "MAINT", "2800")
	b.generate(3, "2024-03-01", "2024-03-01", "2024-03-31")
	return b.err
}

// =============================================================================
// SCENARIO BUILDER
// =============================================================================

// scenarioBuilder chains setup steps; the first error stops the rest.
type scenarioBuilder struct {
	h         *Handler
	ctx       context.Context
	societyID billing.SocietyID
	err       error
}

func (h *Handler) scenario(ctx context.Context, id, name string, autoBilling bool) *scenarioBuilder {
	b := &scenarioBuilder{h: h, ctx: ctx, societyID: billing.SocietyID(id)}
	b.err = h.Store.SaveSociety(ctx, billing.Society{
		ID:          b.societyID,
		Name:        name,
		State:       billing.StateDraft,
		AutoBilling: autoBilling,
		CreatedAt:   h.Now().UTC(),
	})
	return b
}

func (b *scenarioBuilder) policy(version int, doc string) {
	if b.err != nil {
		return
	}
	p, err := b.h.PolicyFactory.ParsePolicy(b.societyID, doc)
	if err != nil {
		b.err = err
		return
	}
	p.Version = version
	b.err = b.h.Store.SavePolicyConfiguration(b.ctx, *p)
}

func (b *scenarioBuilder) headings(defs ...billing.HeadingDefinition) {
	for _, d := range defs {
		if b.err != nil {
			return
		}
		d.SocietyID = b.societyID
		b.err = b.h.Store.SaveHeadingDefinition(b.ctx, d)
	}
}

// member registers a member with every heading at its default amount,
// except the codes overridden in amounts.
func (b *scenarioBuilder) member(id, name, unit string, amounts map[string]string) {
	if b.err != nil {
		return
	}
	m := billing.Member{ID: billing.MemberID(id), SocietyID: b.societyID, Name: name, UnitNumber: unit, Status: billing.MemberActive}
	if b.err = b.h.Store.SaveMember(b.ctx, m); b.err != nil {
		return
	}
	defs, err := b.h.Store.ListHeadingDefinitions(b.ctx, b.societyID)
	if err != nil {
		b.err = err
		return
	}
	rows := make([]billing.MemberHeadingAmount, 0, len(defs))
	for _, d := range defs {
		amount := d.DefaultAmount
		if s, ok := amounts[d.Code]; ok {
			amount = generic.MustParseMoney(s)
		}
		rows = append(rows, billing.MemberHeadingAmount{MemberID: m.ID, HeadingCode: d.Code, CurrentAmount: amount})
	}
	b.err = b.h.Store.SaveMemberHeadingAmounts(b.ctx, m.ID, rows)
}

// revise sets the next-cycle amount of one heading.
func (b *scenarioBuilder) revise(memberID, code, amount string) {
	if b.err != nil {
		return
	}
	id := billing.MemberID(memberID)
	rows, err := b.h.Store.ListMemberHeadingAmounts(b.ctx, id)
	if err != nil {
		b.err = err
		return
	}
	next := generic.MustParseMoney(amount)
	for i := range rows {
		if rows[i].HeadingCode == code {
			rows[i].NextAmount = &next
		}
	}
	b.err = b.h.Store.SaveMemberHeadingAmounts(b.ctx, id, rows)
}

func (b *scenarioBuilder) activate() error {
	for _, to := range []billing.OnboardingState{billing.StateConfiguring, billing.StateActive} {
		if b.err != nil {
			return b.err
		}
		soc, err := b.h.Store.GetSociety(b.ctx, b.societyID)
		if err != nil {
			return err
		}
		readiness, err := b.h.readiness(b.ctx, b.societyID)
		if err != nil {
			return err
		}
		if err := soc.Transition(to, readiness); err != nil {
			return err
		}
		b.err = b.h.Store.SaveSociety(b.ctx, *soc)
	}
	return b.err
}

func (b *scenarioBuilder) generate(lot int, billDate, from, to string) {
	if b.err != nil {
		return
	}
	_, b.err = b.h.Generator.Generate(b.ctx, billing.GenerateRequest{
		SocietyID:  b.societyID,
		BillLot:    lot,
		BillDate:   mustDate(billDate),
		PeriodFrom: mustDate(from),
		PeriodTo:   mustDate(to),
	})
}

func (b *scenarioBuilder) pay(lot int, memberID, date, amount string) {
	if b.err != nil {
		return
	}
	_, b.err = b.h.Allocator.Apply(b.ctx, billing.ReceiptRequest{
		BillID:      billing.BillIDFor(b.societyID, lot, billing.MemberID(memberID)),
		ReceiptDate: mustDate(date),
		Amount:      generic.MustParseMoney(amount),
		Mode:        billing.ModeBankTransfer,
		Reference:   fmt.Sprintf("NEFT-%s-%d", memberID, lot),
	})
}
