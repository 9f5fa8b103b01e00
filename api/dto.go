/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Request types carry
  validate tags and are checked once, at the boundary, before anything in
  billing/ sees them. Amounts and dates arrive as strings so a malformed
  value is a field error, not a decode failure.

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *DTO:     Response types returned to clients
  - ErrorResponse: every non-2xx body

SEE ALSO:
  - handlers.go: Uses these types
  - factory/validate.go: ValidateStruct and field messages
*/
package api

import (
	"github.com/warp/society-billing/billing"
	"github.com/warp/society-billing/factory"
	"github.com/warp/society-billing/generic"
)

// =============================================================================
// SOCIETY
// =============================================================================

// CreateSocietyRequest creates a society in draft.
type CreateSocietyRequest struct {
	ID                 string `json:"id,omitempty" validate:"omitempty,max=64"`
	Name               string `json:"name" validate:"required,max=200"`
	RegistrationNumber string `json:"registration_number,omitempty" validate:"omitempty,max=64"`
	AutoBilling        bool   `json:"auto_billing"`
}

// TransitionRequest moves a society through onboarding.
type TransitionRequest struct {
	To string `json:"to" validate:"required,oneof=draft configuring active"`
}

// PolicyDTO is one stored policy version.
type PolicyDTO struct {
	SocietyID string                 `json:"society_id"`
	Version   int                    `json:"version"`
	Config    factory.PolicyDocument `json:"config"`
}

// PolicyListDTO answers GET policy: the version in force plus history.
type PolicyListDTO struct {
	AsOf     generic.TimePoint `json:"as_of"`
	InForce  *PolicyDTO        `json:"in_force"`
	Versions []PolicyDTO       `json:"versions"`
}

// =============================================================================
// HEADINGS AND MEMBERS
// =============================================================================

// HeadingRequest defines or redefines a heading.
type HeadingRequest struct {
	Code            string `json:"code" validate:"required,max=32"`
	Name            string `json:"name" validate:"required,max=120"`
	DefaultAmount   string `json:"default_amount" validate:"required,numeric"`
	AppliesInterest bool   `json:"applies_interest"`
	AppliesGST      bool   `json:"applies_gst"`
}

// CreateMemberRequest registers a member; heading rows are seeded at the
// society's default amounts.
type CreateMemberRequest struct {
	ID         string `json:"id,omitempty" validate:"omitempty,max=64"`
	Name       string `json:"name" validate:"required,max=200"`
	UnitNumber string `json:"unit_number" validate:"required,max=32"`
	Status     string `json:"status,omitempty" validate:"omitempty,oneof=active inactive"`
}

// MemberHeadingRow is one override row.
type MemberHeadingRow struct {
	HeadingCode   string `json:"heading_code" validate:"required"`
	CurrentAmount string `json:"current_amount" validate:"required,numeric"`
	NextAmount    string `json:"next_amount,omitempty" validate:"omitempty,numeric"`
}

// MemberHeadingsRequest replaces all of a member's rows.
type MemberHeadingsRequest struct {
	Headings []MemberHeadingRow `json:"headings" validate:"required,dive"`
}

// =============================================================================
// RUNS AND RECEIPTS
// =============================================================================

// GenerateRunRequest asks for a lot to be generated and published. A zero
// bill_lot continues after the latest published lot.
type GenerateRunRequest struct {
	BillLot            int               `json:"bill_lot" validate:"min=0"`
	BillDate           string            `json:"bill_date" validate:"required,datetime=2006-01-02"`
	PeriodFrom         string            `json:"period_from" validate:"required,datetime=2006-01-02"`
	PeriodTo           string            `json:"period_to" validate:"required,datetime=2006-01-02"`
	StartingBillNumber int               `json:"starting_bill_number" validate:"min=0"`
	ManualRebates      map[string]string `json:"manual_rebates,omitempty" validate:"omitempty,dive,numeric"`
}

// CreateReceiptRequest is a payment against one bill.
type CreateReceiptRequest struct {
	ReceiptDate string `json:"receipt_date" validate:"required,datetime=2006-01-02"`
	Amount      string `json:"amount" validate:"required,numeric"`
	Mode        string `json:"mode_of_payment,omitempty" validate:"omitempty,oneof=cash cheque bank_transfer upi card other"`
	Reference   string `json:"reference,omitempty" validate:"omitempty,max=120"`
}

// ReceiptResponse is the result of POST receipts. Replayed is true when an
// Idempotency-Key matched an earlier submission.
type ReceiptResponse struct {
	billing.AllocationResult
	Replayed bool `json:"replayed"`
}

// =============================================================================
// SCENARIOS AND ERRORS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects a scenario to load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details,omitempty"`
	Outcome generic.Outcome   `json:"outcome"`
}
