/*
generator.go - Bill generation for a billing run

PURPOSE:
  Turns one BillingRun into one MemberBill per active member: carries the
  prior bill's unpaid remainder forward, sums the member's current heading
  amounts, applies interest, penalty and rebate, and numbers the bills.

FLOW:
  Generate(request)
    1. reject a malformed period or a lot already published or in flight
    2. resolve the society (must be active) and the policy in force on the
       bill date
    3. Compute every member bill (parallel, pure given the store reads)
    4. publish run + bills + heading promotions in one atomic write
    5. on a computation failure, record the run as failed; nothing else is
       written

DETERMINISM:
  Members are numbered in ID order. Run and bill IDs are name-based UUIDs of
  (society, lot[, member]). Compute never reads the clock. Computing the same
  run twice over the same data gives identical bills.

CONCURRENCY:
  At most one generation per (society, lot) runs in this process; a second
  one fails fast with DuplicateLotError. Across processes the store's
  unique published-lot constraint has the final word.

SEE ALSO:
  - calculator.go: interest, penalty, rebate
  - carryforward.go: principal/interest split of the prior remainder
*/
package billing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/warp/society-billing/generic"
)

// idNamespace scopes the name-based run and bill IDs.
var idNamespace = uuid.MustParse("6f1d4a52-2c0e-4b8e-9a57-3d1c5e0b7a21")

// RunIDFor returns the ID of the published run for (society, lot).
func RunIDFor(societyID SocietyID, lot int) RunID {
	return RunID(uuid.NewSHA1(idNamespace, []byte(fmt.Sprintf("run/%s/%d", societyID, lot))).String())
}

// BillIDFor returns the ID of a member's bill in (society, lot).
func BillIDFor(societyID SocietyID, lot int, memberID MemberID) BillID {
	return BillID(uuid.NewSHA1(idNamespace, []byte(fmt.Sprintf("bill/%s/%d/%s", societyID, lot, memberID))).String())
}

// =============================================================================
// REQUEST / RESULT
// =============================================================================

// GenerateRequest asks for one lot to be generated and published.
type GenerateRequest struct {
	SocietyID  SocietyID
	BillLot    int
	BillDate   generic.TimePoint
	PeriodFrom generic.TimePoint
	PeriodTo   generic.TimePoint

	// StartingBillNumber of zero continues the society's bill counter.
	StartingBillNumber int

	// ManualRebates supplies operator-entered rebates for manual policies.
	ManualRebates map[MemberID]generic.Money
}

// GenerateResult is a published run and its bills.
type GenerateResult struct {
	Run   BillingRun   `json:"run"`
	Bills []MemberBill `json:"bills"`
}

// =============================================================================
// GENERATOR
// =============================================================================

// Generator produces and publishes billing runs.
type Generator struct {
	Store  Store
	Calc   Calculator
	Logger *zap.Logger

	// Workers bounds parallel member computation. Zero means 4.
	Workers int

	// Now stamps CreatedAt on runs. Defaults to time.Now.
	Now func() time.Time

	mu       sync.Mutex
	inflight map[lotKey]struct{}
}

type lotKey struct {
	society SocietyID
	lot     int
}

// NewGenerator creates a generator over store.
func NewGenerator(store Store, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{Store: store, Logger: logger, Workers: 4, Now: time.Now}
}

func (g *Generator) claim(k lotKey) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inflight == nil {
		g.inflight = make(map[lotKey]struct{})
	}
	if _, busy := g.inflight[k]; busy {
		return false
	}
	g.inflight[k] = struct{}{}
	return true
}

func (g *Generator) release(k lotKey) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inflight, k)
}

func (g *Generator) log() *zap.Logger {
	if g.Logger == nil {
		return zap.NewNop()
	}
	return g.Logger
}

func (g *Generator) now() time.Time {
	if g.Now == nil {
		return time.Now()
	}
	return g.Now()
}

// Generate validates, computes and publishes one billing run.
func (g *Generator) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	if req.BillLot < 1 {
		return nil, fmt.Errorf("bill lot must be >= 1, got %d: %w", req.BillLot, generic.ErrInvalidInput)
	}
	if req.BillDate.IsZero() {
		return nil, fmt.Errorf("bill date is required: %w", generic.ErrInvalidInput)
	}
	period := generic.Period{Start: req.PeriodFrom, End: req.PeriodTo}
	if err := period.Validate(); err != nil {
		return nil, fmt.Errorf("period %s: %w", period, err)
	}
	if req.StartingBillNumber < 0 {
		return nil, fmt.Errorf("starting bill number cannot be negative: %w", generic.ErrInvalidInput)
	}

	key := lotKey{society: req.SocietyID, lot: req.BillLot}
	if !g.claim(key) {
		return nil, &DuplicateLotError{SocietyID: req.SocietyID, BillLot: req.BillLot}
	}
	defer g.release(key)

	log := g.log().With(zap.String("society_id", string(req.SocietyID)), zap.Int("bill_lot", req.BillLot))

	society, err := g.Store.GetSociety(ctx, req.SocietyID)
	if err != nil {
		return nil, fmt.Errorf("society %s: %w", req.SocietyID, err)
	}
	if err := society.RequireActive(); err != nil {
		return nil, err
	}
	if req.StartingBillNumber > 0 && req.StartingBillNumber <= society.LastBillNumber {
		return nil, fmt.Errorf("starting bill number %d is already issued (last is %d): %w",
			req.StartingBillNumber, society.LastBillNumber, generic.ErrInvalidInput)
	}

	published, err := g.Store.IsLotPublished(ctx, req.SocietyID, req.BillLot)
	if err != nil {
		return nil, err
	}
	if published {
		return nil, &DuplicateLotError{SocietyID: req.SocietyID, BillLot: req.BillLot}
	}
	// Arrears flow lot to lot, so lots are published in order.
	latest, err := g.Store.LatestPublishedRun(ctx, req.SocietyID)
	if err != nil {
		return nil, err
	}
	priorLot := 0
	if latest != nil {
		priorLot = latest.BillLot
	}
	if req.BillLot < priorLot {
		return nil, fmt.Errorf("lot %d is earlier than published lot %d: %w", req.BillLot, priorLot, generic.ErrInvalidInput)
	}

	policy, err := g.Store.GetPolicyConfiguration(ctx, req.SocietyID, req.BillDate)
	if errors.Is(err, generic.ErrNotFound) {
		return nil, &ConfigurationError{SocietyID: req.SocietyID, Reason: "no policy in force on " + req.BillDate.String()}
	}
	if err != nil {
		return nil, err
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	members, err := g.Store.ListMembers(ctx, req.SocietyID)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, fmt.Errorf("society %s has no active members: %w", req.SocietyID, generic.ErrInvalidInput)
	}

	run := BillingRun{
		ID:                 RunIDFor(req.SocietyID, req.BillLot),
		SocietyID:          req.SocietyID,
		BillLot:            req.BillLot,
		BillDate:           req.BillDate,
		PeriodFrom:         req.PeriodFrom,
		PeriodTo:           req.PeriodTo,
		DueDate:            policy.DueDate(req.BillDate),
		StartingBillNumber: req.StartingBillNumber,
		PolicyVersion:      policy.Version,
		Status:             RunPending,
		CreatedAt:          g.now().UTC(),
	}
	var counterBase *int
	if run.StartingBillNumber == 0 {
		base := society.LastBillNumber
		counterBase = &base
		run.StartingBillNumber = base + 1
	}

	log.Info("generating bills",
		zap.Int("members", len(members)),
		zap.Int("policy_version", policy.Version),
		zap.Int("starting_bill_number", run.StartingBillNumber))

	bills, promotions, err := g.Compute(ctx, run, *policy, members, req.ManualRebates)
	if err != nil {
		g.recordFailure(ctx, log, run, err)
		return nil, err
	}

	run.Status = RunPublished
	run.BillCount = len(bills)
	pub := Publication{Run: run, Bills: bills, Promotions: promotions, CounterBase: counterBase, PriorLot: priorLot}
	if err := g.Store.PersistBillingRun(ctx, pub); err != nil {
		if errors.Is(err, generic.ErrDuplicate) {
			return nil, &DuplicateLotError{SocietyID: req.SocietyID, BillLot: req.BillLot}
		}
		log.Warn("publishing run failed", zap.Error(err))
		return nil, fmt.Errorf("publish lot %d: %w", req.BillLot, err)
	}

	log.Info("run published", zap.String("run_id", string(run.ID)), zap.Int("bills", len(bills)))
	return &GenerateResult{Run: run, Bills: bills}, nil
}

func (g *Generator) recordFailure(ctx context.Context, log *zap.Logger, run BillingRun, cause error) {
	run.ID = RunID(uuid.NewString())
	run.Status = RunFailed
	run.Error = cause.Error()
	log.Warn("run failed", zap.Error(cause))
	if err := g.Store.RecordFailedRun(ctx, run); err != nil {
		log.Error("recording failed run", zap.Error(err))
	}
}

// =============================================================================
// COMPUTATION
// =============================================================================

// Compute builds every member's bill for run without writing anything. It
// returns the bills in bill-number order plus the heading rows to promote.
// The first failing member, in member order, aborts the whole computation.
func (g *Generator) Compute(ctx context.Context, run BillingRun, policy PolicyConfiguration, members []Member, manual map[MemberID]generic.Money) ([]MemberBill, []MemberHeadingAmount, error) {
	ordered := make([]Member, len(members))
	copy(ordered, members)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	for i := 1; i < len(ordered); i++ {
		if ordered[i].ID == ordered[i-1].ID {
			return nil, nil, &MemberDataError{MemberID: ordered[i].ID, Reason: "member listed twice"}
		}
	}

	definitions, err := g.Store.ListHeadingDefinitions(ctx, run.SocietyID)
	if err != nil {
		return nil, nil, err
	}
	defs := make(map[string]HeadingDefinition, len(definitions))
	for _, d := range definitions {
		defs[d.Code] = d
	}

	workers := g.Workers
	if workers <= 0 {
		workers = 4
	}

	bills := make([]MemberBill, len(ordered))
	promotions := make([][]MemberHeadingAmount, len(ordered))
	errs := make([]error, len(ordered))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for i := range ordered {
		i := i
		eg.Go(func() error {
			bill, promoted, err := g.computeMember(egCtx, run, policy, defs, ordered[i], run.StartingBillNumber+i, manual)
			if err != nil {
				errs[i] = err
				return err
			}
			bills[i] = bill
			promotions[i] = promoted
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		// Report the lowest-numbered failure so the operator always sees
		// the same member for the same data.
		for _, e := range errs {
			if e != nil && !errors.Is(e, context.Canceled) {
				return nil, nil, e
			}
		}
		return nil, nil, err
	}

	var allPromotions []MemberHeadingAmount
	for _, p := range promotions {
		allPromotions = append(allPromotions, p...)
	}
	return bills, allPromotions, nil
}

func (g *Generator) computeMember(ctx context.Context, run BillingRun, policy PolicyConfiguration, defs map[string]HeadingDefinition, member Member, billNo int, manual map[MemberID]generic.Money) (MemberBill, []MemberHeadingAmount, error) {
	rows, err := g.Store.ListMemberHeadingAmounts(ctx, member.ID)
	if err != nil {
		return MemberBill{}, nil, fmt.Errorf("member %s headings: %w", member.ID, err)
	}
	lines, promoted, err := billLines(member.ID, rows, defs)
	if err != nil {
		return MemberBill{}, nil, err
	}

	prior, err := g.Store.GetPriorBill(ctx, member.ID, run.BillLot)
	if err != nil {
		return MemberBill{}, nil, fmt.Errorf("member %s prior bill: %w", member.ID, err)
	}

	billAmount, interestFree := generic.ZeroMoney(), generic.ZeroMoney()
	for _, l := range lines {
		billAmount = billAmount.Add(l.Amount)
		if !l.AppliesInterest {
			interestFree = interestFree.Add(l.Amount)
		}
	}

	arrears := CarryForward(prior, policy.CreditAdjustmentOrder)

	in := ChargeInput{
		PrincipalArrears: arrears.PrincipalArrears.Sub(arrears.ArrearsFree).ClampZero(),
		InterestArrears:  arrears.InterestArrears,
		DaysOverdue:      daysOverdue(prior, run),
		CycleMonths:      run.Period().Months(),
		BillAmount:       billAmount,
	}
	if prior != nil {
		in.RebateBase = prior.BillAmount
		in.RebateBillDate = prior.BillDate
		in.PaidOn = prior.SettledOn
	}
	charges := g.Calc.Compute(in, policy)

	rebate := charges.Rebate
	needsReview := false
	if charges.ManualRebate {
		if amount, ok := manual[member.ID]; ok {
			if amount.IsNegative() {
				return MemberBill{}, nil, &MemberDataError{MemberID: member.ID, Reason: "manual rebate cannot be negative"}
			}
			rebate = generic.Round(amount, policy.RoundOffAmount)
		} else {
			needsReview = true
		}
	}

	total := generic.SumMoney(billAmount, arrears.PrincipalArrears, arrears.InterestArrears, charges.Interest, charges.Penalty).
		Sub(rebate)
	total = generic.Round(total, policy.RoundOffAmount).ClampZero()

	bill := MemberBill{
		ID:                     BillIDFor(run.SocietyID, run.BillLot, member.ID),
		RunID:                  run.ID,
		SocietyID:              run.SocietyID,
		MemberID:               member.ID,
		BillLot:                run.BillLot,
		BillNo:                 billNo,
		BillDate:               run.BillDate,
		DueDate:                run.DueDate,
		PeriodFrom:             run.PeriodFrom,
		PeriodTo:               run.PeriodTo,
		PreviousBalance:        arrears.PreviousBalance,
		PrincipalArrears:       arrears.PrincipalArrears,
		InterestArrears:        arrears.InterestArrears,
		ArrearsFreeAmount:      arrears.ArrearsFree,
		BillAmount:             billAmount,
		InterestFreeBillAmount: interestFree,
		InterestAmount:         charges.Interest,
		PenaltyAmount:          charges.Penalty,
		RebateAmount:           rebate,
		TotalBillAmount:        total,
		PaymentMade:            PaymentBuckets{BeforeDueDate: generic.ZeroMoney(), AfterDueDate: generic.ZeroMoney()},
		Status:                 settlementStatus(total, generic.ZeroMoney()),
		RebateNeedsReview:      needsReview,
		Lines:                  lines,
		Version:                1,
	}
	if bill.Status == BillPaid {
		// Nothing owed: settled the day it was issued.
		settled := run.BillDate
		bill.SettledOn = &settled
	}
	if policy.RebateApply {
		deadline := policy.RebateDeadline(run.BillDate)
		bill.RebateDueDate = &deadline
	}
	return bill, promoted, nil
}

// billLines validates a member's heading rows and turns them into bill
// lines ordered by heading code.
func billLines(memberID MemberID, rows []MemberHeadingAmount, defs map[string]HeadingDefinition) ([]BillLine, []MemberHeadingAmount, error) {
	sorted := make([]MemberHeadingAmount, len(rows))
	copy(sorted, rows)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].HeadingCode < sorted[j].HeadingCode })

	lines := make([]BillLine, 0, len(sorted))
	var promoted []MemberHeadingAmount
	seen := make(map[string]bool, len(sorted))
	for _, row := range sorted {
		def, ok := defs[row.HeadingCode]
		switch {
		case !ok:
			return nil, nil, &MemberDataError{MemberID: memberID, HeadingCode: row.HeadingCode, Reason: "unknown heading"}
		case seen[row.HeadingCode]:
			return nil, nil, &MemberDataError{MemberID: memberID, HeadingCode: row.HeadingCode, Reason: "heading listed twice"}
		case row.CurrentAmount.IsNegative():
			return nil, nil, &MemberDataError{MemberID: memberID, HeadingCode: row.HeadingCode, Reason: "negative amount " + row.CurrentAmount.String()}
		case row.NextAmount != nil && row.NextAmount.IsNegative():
			return nil, nil, &MemberDataError{MemberID: memberID, HeadingCode: row.HeadingCode, Reason: "negative next amount " + row.NextAmount.String()}
		}
		seen[row.HeadingCode] = true

		lines = append(lines, BillLine{
			HeadingCode:     row.HeadingCode,
			Name:            def.Name,
			Amount:          row.CurrentAmount,
			AppliesInterest: def.AppliesInterest,
			AppliesGST:      def.AppliesGST,
		})
		if next, ok := row.Promote(); ok {
			next.MemberID = memberID
			promoted = append(promoted, next)
		}
	}
	return lines, promoted, nil
}

// daysOverdue measures from the prior bill's due date (or this run's bill
// date when there is no prior bill) to this run's due date.
func daysOverdue(prior *MemberBill, run BillingRun) int {
	from := run.BillDate
	if prior != nil {
		from = prior.DueDate
	}
	days := generic.DaysBetween(from, run.DueDate)
	if days < 0 {
		return 0
	}
	return days
}
