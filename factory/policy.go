/*
Package factory converts boundary documents into validated billing types.

PURPOSE:
  Society committees configure billing through JSON documents (the admin
  UI, or a file checked in next to the society's records). The factory
  turns a document into a billing.PolicyConfiguration exactly once, at the
  boundary: after this point the core never sees raw form data.

JSON SCHEMA:
  {
    "version": 2,
    "effective_from": "2024-07-01",
    "bill_frequency_months": 1,
    "payment_due_date_offset_days": 15,
    "grace_period_days": 5,
    "interest": {
      "rate_percent_per_annum": "21",
      "period": "daily",
      "type": "simple",
      "min_rupees": "10"
    },
    "round_off_amount": true,
    "credit_adjustment_order": "interest_first",
    "rebate":  {"type": "fixed_amount", "due_date_offset_days": 7, "fixed_amount": "50"},
    "penalty": {"basis": "percentage", "percent": "2", "threshold_amount": "5000"}
  }

  A missing "rebate" or "penalty" block means the rule does not apply.

VALIDATION:
  Two layers. Struct tags (go-playground/validator) reject malformed
  documents with one message per field. PolicyConfiguration.Validate then
  checks the assembled policy. Both failures are client errors.

USAGE:
  f := factory.NewPolicyFactory()
  policy, err := f.ParsePolicy("soc-1", jsonString)

SEE ALSO:
  - billing/policy.go: PolicyConfiguration
  - presets.go: ready-made documents
*/
package factory

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/society-billing/billing"
	"github.com/warp/society-billing/generic"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// PolicyDocument is the JSON representation of a policy version.
type PolicyDocument struct {
	Version                  int           `json:"version" validate:"gte=0"`
	EffectiveFrom            string        `json:"effective_from" validate:"required,datetime=2006-01-02"`
	BillFrequencyMonths      int           `json:"bill_frequency_months,omitempty" validate:"omitempty,oneof=1 2 3 6 12"`
	PaymentDueDateOffsetDays int           `json:"payment_due_date_offset_days" validate:"min=1,max=30"`
	GracePeriodDays          int           `json:"grace_period_days" validate:"min=0,max=30"`
	Interest                 *InterestJSON `json:"interest,omitempty" validate:"omitempty"`
	RoundOffAmount           bool          `json:"round_off_amount"`
	CreditAdjustmentOrder    string        `json:"credit_adjustment_order,omitempty" validate:"omitempty,oneof=interest_first principal_first"`
	Rebate                   *RebateJSON   `json:"rebate,omitempty" validate:"omitempty"`
	Penalty                  *PenaltyJSON  `json:"penalty,omitempty" validate:"omitempty"`
}

// InterestJSON configures interest on arrears.
type InterestJSON struct {
	RatePercentPerAnnum string `json:"rate_percent_per_annum" validate:"required,numeric"`
	Period              string `json:"period,omitempty" validate:"omitempty,oneof=daily as_per_bill_frequency"`
	Type                string `json:"type,omitempty" validate:"omitempty,oneof=simple compound"`
	MinRupees           string `json:"min_rupees,omitempty" validate:"omitempty,numeric"`
}

// RebateJSON configures the early-payment rebate.
type RebateJSON struct {
	Type              string `json:"type" validate:"required,oneof=fixed_amount fixed_percent manual"`
	DueDateOffsetDays int    `json:"due_date_offset_days" validate:"min=0,max=60"`
	FixedAmount       string `json:"fixed_amount,omitempty" validate:"omitempty,numeric"`
	Percent           string `json:"percent,omitempty" validate:"omitempty,numeric"`
}

// PenaltyJSON configures the surcharge on large bills.
type PenaltyJSON struct {
	Basis           string `json:"basis" validate:"required,oneof=fixed_amount percentage"`
	FixedAmount     string `json:"fixed_amount,omitempty" validate:"omitempty,numeric"`
	Percent         string `json:"percent,omitempty" validate:"omitempty,numeric"`
	ThresholdAmount string `json:"threshold_amount,omitempty" validate:"omitempty,numeric"`
}

// =============================================================================
// POLICY FACTORY
// =============================================================================

// PolicyFactory converts JSON policies to billing configurations.
type PolicyFactory struct{}

// NewPolicyFactory creates a new policy factory.
func NewPolicyFactory() *PolicyFactory {
	return &PolicyFactory{}
}

// ParsePolicy parses a JSON string into a validated PolicyConfiguration.
func (f *PolicyFactory) ParsePolicy(societyID billing.SocietyID, jsonStr string) (*billing.PolicyConfiguration, error) {
	var doc PolicyDocument
	if err := json.Unmarshal([]byte(jsonStr), &doc); err != nil {
		return nil, fmt.Errorf("failed to parse policy JSON: %v: %w", err, generic.ErrInvalidInput)
	}
	return f.FromDocument(societyID, doc)
}

// FromDocument converts a PolicyDocument into a PolicyConfiguration.
// Version 0 is left for the caller to assign.
func (f *PolicyFactory) FromDocument(societyID billing.SocietyID, doc PolicyDocument) (*billing.PolicyConfiguration, error) {
	if err := ValidateStruct(doc); err != nil {
		return nil, err
	}

	effective, err := generic.ParseDate(doc.EffectiveFrom)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, generic.ErrInvalidInput)
	}

	p := billing.DefaultPolicy(societyID, effective)
	p.Version = doc.Version
	if doc.BillFrequencyMonths != 0 {
		p.BillFrequencyMonths = doc.BillFrequencyMonths
	}
	p.PaymentDueDateOffsetDays = doc.PaymentDueDateOffsetDays
	p.GracePeriodDays = doc.GracePeriodDays
	p.RoundOffAmount = doc.RoundOffAmount
	if doc.CreditAdjustmentOrder != "" {
		p.CreditAdjustmentOrder = billing.CreditAdjustmentOrder(doc.CreditAdjustmentOrder)
	}

	if ij := doc.Interest; ij != nil {
		p.InterestRatePercentPerAnnum = parseDecimal(ij.RatePercentPerAnnum)
		p.InterestPeriod = parseInterestPeriod(ij.Period)
		p.InterestType = parseInterestType(ij.Type)
		p.InterestMinRupees = parseMoney(ij.MinRupees)
	}

	if rj := doc.Rebate; rj != nil {
		p.RebateApply = true
		p.RebateType = billing.RebateType(rj.Type)
		p.RebateDueDateOffsetDays = rj.DueDateOffsetDays
		p.RebateFixedAmount = parseMoney(rj.FixedAmount)
		p.RebatePercent = parseDecimal(rj.Percent)
	}

	if pj := doc.Penalty; pj != nil {
		p.PenaltyApply = true
		p.PenaltyBasis = billing.PenaltyBasis(pj.Basis)
		p.PenaltyFixedAmount = parseMoney(pj.FixedAmount)
		p.PenaltyPercent = parseDecimal(pj.Percent)
		p.PenaltyThresholdAmount = parseMoney(pj.ThresholdAmount)
	}

	check := p
	if check.Version == 0 {
		check.Version = 1
	}
	if err := check.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// ToDocument converts a PolicyConfiguration back to its JSON form.
func (f *PolicyFactory) ToDocument(p billing.PolicyConfiguration) PolicyDocument {
	doc := PolicyDocument{
		Version:                  p.Version,
		EffectiveFrom:            p.EffectiveFrom.String(),
		BillFrequencyMonths:      p.BillFrequencyMonths,
		PaymentDueDateOffsetDays: p.PaymentDueDateOffsetDays,
		GracePeriodDays:          p.GracePeriodDays,
		RoundOffAmount:           p.RoundOffAmount,
		CreditAdjustmentOrder:    string(p.CreditAdjustmentOrder),
	}

	if p.InterestRatePercentPerAnnum.IsPositive() {
		doc.Interest = &InterestJSON{
			RatePercentPerAnnum: p.InterestRatePercentPerAnnum.String(),
			Period:              string(p.InterestPeriod),
			Type:                string(p.InterestType),
			MinRupees:           p.InterestMinRupees.String(),
		}
	}

	if p.RebateApply {
		doc.Rebate = &RebateJSON{
			Type:              string(p.RebateType),
			DueDateOffsetDays: p.RebateDueDateOffsetDays,
			FixedAmount:       p.RebateFixedAmount.String(),
			Percent:           p.RebatePercent.String(),
		}
	}

	if p.PenaltyApply {
		doc.Penalty = &PenaltyJSON{
			Basis:           string(p.PenaltyBasis),
			FixedAmount:     p.PenaltyFixedAmount.String(),
			Percent:         p.PenaltyPercent.String(),
			ThresholdAmount: p.PenaltyThresholdAmount.String(),
		}
	}

	return doc
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

// parseDecimal reads a value the validator has already checked is numeric.
func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseMoney(s string) generic.Money {
	return generic.MoneyFromDecimal(parseDecimal(s))
}

func parseInterestPeriod(s string) billing.InterestPeriod {
	switch s {
	case "as_per_bill_frequency":
		return billing.InterestAsPerBillFrequency
	default:
		return billing.InterestDaily
	}
}

func parseInterestType(s string) billing.InterestType {
	switch s {
	case "compound":
		return billing.InterestCompound
	default:
		return billing.InterestSimple
	}
}
