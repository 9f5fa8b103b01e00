package factory

import "fmt"

// =============================================================================
// PRESET POLICIES
// =============================================================================
//
// Ready-made documents for the common committee choices. Each returns JSON
// for ParsePolicy.

// SimplePolicyJSON: monthly bills, no interest, no penalty, no rebate.
func SimplePolicyJSON(effectiveFrom string, dueDays int) string {
	return fmt.Sprintf(`{
		"version": 0,
		"effective_from": %q,
		"bill_frequency_months": 1,
		"payment_due_date_offset_days": %d,
		"grace_period_days": 0,
		"round_off_amount": true,
		"credit_adjustment_order": "interest_first"
	}`, effectiveFrom, dueDays)
}

// StandardResidentialJSON: monthly bills, daily simple interest on arrears
// after a grace period, whole-rupee rounding.
func StandardResidentialJSON(effectiveFrom string, ratePercent string, dueDays, graceDays int) string {
	return fmt.Sprintf(`{
		"version": 0,
		"effective_from": %q,
		"bill_frequency_months": 1,
		"payment_due_date_offset_days": %d,
		"grace_period_days": %d,
		"interest": {"rate_percent_per_annum": %q, "period": "daily", "type": "simple"},
		"round_off_amount": true,
		"credit_adjustment_order": "interest_first"
	}`, effectiveFrom, dueDays, graceDays, ratePercent)
}

// EarlyPaymentRebateJSON: standard interest plus a flat rebate for paying
// within rebateDays of the bill date.
func EarlyPaymentRebateJSON(effectiveFrom string, ratePercent string, rebateAmount string, rebateDays int) string {
	return fmt.Sprintf(`{
		"version": 0,
		"effective_from": %q,
		"bill_frequency_months": 1,
		"payment_due_date_offset_days": 15,
		"grace_period_days": 0,
		"interest": {"rate_percent_per_annum": %q, "period": "daily", "type": "simple"},
		"round_off_amount": true,
		"credit_adjustment_order": "interest_first",
		"rebate": {"type": "fixed_amount", "due_date_offset_days": %d, "fixed_amount": %q}
	}`, effectiveFrom, ratePercent, rebateDays, rebateAmount)
}

// QuarterlyCompoundJSON: quarterly bills, compound interest per cycle and
// a percentage penalty on bills above threshold.
func QuarterlyCompoundJSON(effectiveFrom string, ratePercent string, penaltyPercent string, threshold string) string {
	return fmt.Sprintf(`{
		"version": 0,
		"effective_from": %q,
		"bill_frequency_months": 3,
		"payment_due_date_offset_days": 30,
		"grace_period_days": 10,
		"interest": {"rate_percent_per_annum": %q, "period": "as_per_bill_frequency", "type": "compound"},
		"round_off_amount": true,
		"credit_adjustment_order": "principal_first",
		"penalty": {"basis": "percentage", "percent": %q, "threshold_amount": %q}
	}`, effectiveFrom, ratePercent, penaltyPercent, threshold)
}
