/*
policy.go - Society billing rules

PURPOSE:
  PolicyConfiguration is the immutable-per-cycle snapshot of a society's
  billing rules: when bills fall due, how arrears accrue interest, how
  totals are rounded, and when penalties and rebates apply.

VERSIONING:
  A society keeps every version it ever had. Each version is in force from
  EffectiveFrom until the next version's EffectiveFrom. The generator
  resolves the version in force on the run's bill date and stamps it on the
  run, so re-reading a historical bill always explains how it was computed.

  Version 1, EffectiveFrom 2024-01-01: 18% p.a. daily simple
  Version 2, EffectiveFrom 2024-07-01: 21% p.a. daily simple
  -> a run dated 2024-06-01 uses version 1, 2024-07-01 uses version 2

SEE ALSO:
  - calculator.go: consumes the interest, penalty and rebate rules
  - factory/policy.go: JSON documents -> PolicyConfiguration
*/
package billing

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/society-billing/generic"
)

// =============================================================================
// POLICY ENUMS
// =============================================================================

// InterestPeriod selects how overdue time is measured.
type InterestPeriod string

const (
	InterestDaily              InterestPeriod = "daily"
	InterestAsPerBillFrequency InterestPeriod = "as_per_bill_frequency"
)

// InterestType selects the base interest is charged on.
type InterestType string

const (
	InterestSimple   InterestType = "simple"   // principal only
	InterestCompound InterestType = "compound" // principal + unpaid interest
)

// CreditAdjustmentOrder decides which part of a bill payments settle first
// when the unpaid remainder is split for the next cycle.
type CreditAdjustmentOrder string

const (
	InterestFirst  CreditAdjustmentOrder = "interest_first"
	PrincipalFirst CreditAdjustmentOrder = "principal_first"
)

type RebateType string

const (
	RebateFixedAmount  RebateType = "fixed_amount"
	RebateFixedPercent RebateType = "fixed_percent"
	RebateManual       RebateType = "manual"
)

type PenaltyBasis string

const (
	PenaltyFixedAmount PenaltyBasis = "fixed_amount"
	PenaltyPercentage  PenaltyBasis = "percentage"
)

// ValidBillFrequencies lists the supported cycle lengths in months.
var ValidBillFrequencies = []int{1, 2, 3, 6, 12}

// =============================================================================
// POLICY CONFIGURATION
// =============================================================================

// PolicyConfiguration is one version of a society's billing rules.
type PolicyConfiguration struct {
	SocietyID     SocietyID         `json:"society_id"`
	Version       int               `json:"version"`
	EffectiveFrom generic.TimePoint `json:"effective_from"`

	// Cycle
	BillFrequencyMonths       int `json:"bill_frequency_months"`
	PaymentDueDateOffsetDays  int `json:"payment_due_date_offset_days"`
	GracePeriodDays           int `json:"grace_period_days"`

	// Interest
	InterestRatePercentPerAnnum decimal.Decimal `json:"interest_rate_percent_per_annum"`
	InterestPeriod              InterestPeriod  `json:"interest_period"`
	InterestType                InterestType    `json:"interest_type"`
	InterestMinRupees           generic.Money   `json:"interest_min_rupees"`

	// Rounding and carry-forward
	RoundOffAmount        bool                  `json:"round_off_amount"`
	CreditAdjustmentOrder CreditAdjustmentOrder `json:"credit_adjustment_order"`

	// Rebate
	RebateApply               bool            `json:"rebate_apply"`
	RebateType                RebateType      `json:"rebate_type"`
	RebateDueDateOffsetDays   int             `json:"rebate_due_date_offset_days"`
	RebateFixedAmount         generic.Money   `json:"rebate_fixed_amount"`
	RebatePercent             decimal.Decimal `json:"rebate_percent"`

	// Penalty
	PenaltyApply           bool            `json:"penalty_apply"`
	PenaltyBasis           PenaltyBasis    `json:"penalty_basis"`
	PenaltyFixedAmount     generic.Money   `json:"penalty_fixed_amount"`
	PenaltyPercent         decimal.Decimal `json:"penalty_percent"`
	PenaltyThresholdAmount generic.Money   `json:"penalty_threshold_amount"`
}

// DefaultPolicy returns a conservative configuration: monthly bills due in
// 15 days, no interest, no penalty, no rebate, whole-rupee rounding.
func DefaultPolicy(societyID SocietyID, effectiveFrom generic.TimePoint) PolicyConfiguration {
	return PolicyConfiguration{
		SocietyID:                   societyID,
		Version:                     1,
		EffectiveFrom:               effectiveFrom,
		BillFrequencyMonths:         1,
		PaymentDueDateOffsetDays:    15,
		InterestRatePercentPerAnnum: decimal.Zero,
		InterestPeriod:              InterestDaily,
		InterestType:                InterestSimple,
		InterestMinRupees:           generic.ZeroMoney(),
		RoundOffAmount:              true,
		CreditAdjustmentOrder:       InterestFirst,
		RebateType:                  RebateFixedAmount,
		RebateFixedAmount:           generic.ZeroMoney(),
		RebatePercent:               decimal.Zero,
		PenaltyBasis:                PenaltyFixedAmount,
		PenaltyFixedAmount:          generic.ZeroMoney(),
		PenaltyPercent:              decimal.Zero,
		PenaltyThresholdAmount:      generic.ZeroMoney(),
	}
}

// DueDate returns billDate + PaymentDueDateOffsetDays.
func (p PolicyConfiguration) DueDate(billDate generic.TimePoint) generic.TimePoint {
	return billDate.AddDays(p.PaymentDueDateOffsetDays)
}

// RebateDeadline returns the last day a payment still earns the rebate.
func (p PolicyConfiguration) RebateDeadline(billDate generic.TimePoint) generic.TimePoint {
	return billDate.AddDays(p.RebateDueDateOffsetDays)
}

// Validate checks every range and enum. It returns a *ConfigurationError
// listing the first violation found.
func (p PolicyConfiguration) Validate() error {
	fail := func(format string, args ...any) error {
		return &ConfigurationError{SocietyID: p.SocietyID, Reason: fmt.Sprintf(format, args...)}
	}

	if p.Version < 1 {
		return fail("version must be >= 1, got %d", p.Version)
	}
	if p.EffectiveFrom.IsZero() {
		return fail("effective_from is required")
	}
	if !validFrequency(p.BillFrequencyMonths) {
		return fail("bill_frequency_months must be one of %v, got %d", ValidBillFrequencies, p.BillFrequencyMonths)
	}
	if p.PaymentDueDateOffsetDays < 1 || p.PaymentDueDateOffsetDays > 30 {
		return fail("payment_due_date_offset_days must be within 1-30, got %d", p.PaymentDueDateOffsetDays)
	}
	if p.GracePeriodDays < 0 || p.GracePeriodDays > 30 {
		return fail("grace_period_days must be within 0-30, got %d", p.GracePeriodDays)
	}
	if p.InterestRatePercentPerAnnum.IsNegative() || p.InterestRatePercentPerAnnum.GreaterThan(decimal.NewFromInt(100)) {
		return fail("interest_rate_percent_per_annum must be within 0-100, got %s", p.InterestRatePercentPerAnnum)
	}
	switch p.InterestPeriod {
	case InterestDaily, InterestAsPerBillFrequency:
	default:
		return fail("unknown interest_period %q", p.InterestPeriod)
	}
	switch p.InterestType {
	case InterestSimple, InterestCompound:
	default:
		return fail("unknown interest_type %q", p.InterestType)
	}
	if p.InterestMinRupees.IsNegative() {
		return fail("interest_min_rupees cannot be negative")
	}
	switch p.CreditAdjustmentOrder {
	case InterestFirst, PrincipalFirst:
	default:
		return fail("unknown credit_adjustment_order %q", p.CreditAdjustmentOrder)
	}

	if p.RebateApply {
		switch p.RebateType {
		case RebateFixedAmount:
			if p.RebateFixedAmount.IsNegative() {
				return fail("rebate_fixed_amount cannot be negative")
			}
		case RebateFixedPercent:
			if p.RebatePercent.IsNegative() || p.RebatePercent.GreaterThan(decimal.NewFromInt(100)) {
				return fail("rebate_percent must be within 0-100, got %s", p.RebatePercent)
			}
		case RebateManual:
		default:
			return fail("unknown rebate_type %q", p.RebateType)
		}
		if p.RebateDueDateOffsetDays < 0 {
			return fail("rebate_due_date_offset_days cannot be negative")
		}
	}

	if p.PenaltyApply {
		switch p.PenaltyBasis {
		case PenaltyFixedAmount:
			if p.PenaltyFixedAmount.IsNegative() {
				return fail("penalty_fixed_amount cannot be negative")
			}
		case PenaltyPercentage:
			if p.PenaltyPercent.IsNegative() || p.PenaltyPercent.GreaterThan(decimal.NewFromInt(100)) {
				return fail("penalty_percent must be within 0-100, got %s", p.PenaltyPercent)
			}
		default:
			return fail("unknown penalty_basis %q", p.PenaltyBasis)
		}
		if p.PenaltyThresholdAmount.IsNegative() {
			return fail("penalty_threshold_amount cannot be negative")
		}
	}
	return nil
}

func validFrequency(months int) bool {
	for _, m := range ValidBillFrequencies {
		if m == months {
			return true
		}
	}
	return false
}
