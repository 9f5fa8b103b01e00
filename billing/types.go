// Package billing implements housing-society bill generation and receipt
// allocation on top of the generic money and calendar primitives.
package billing

import (
	"time"

	"github.com/warp/society-billing/generic"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type SocietyID string
type MemberID string
type RunID string
type BillID string
type ReceiptID string

// =============================================================================
// SOCIETY
// =============================================================================

// Society is a tenant. Counters are advanced only by the store, atomically.
type Society struct {
	ID                 SocietyID       `json:"id"`
	Name               string          `json:"name"`
	RegistrationNumber string          `json:"registration_number,omitempty"`
	State              OnboardingState `json:"state"`
	AutoBilling        bool            `json:"auto_billing"`
	LastBillNumber     int             `json:"last_bill_number"`
	LastReceiptNumber  int             `json:"last_receipt_number"`
	CreatedAt          time.Time       `json:"created_at"`
}

// =============================================================================
// MEMBERS AND HEADINGS
// =============================================================================

type MemberStatus string

const (
	MemberActive   MemberStatus = "active"
	MemberInactive MemberStatus = "inactive"
)

// Member is a flat/unit owner billed by the society.
type Member struct {
	ID         MemberID     `json:"id"`
	SocietyID  SocietyID    `json:"society_id"`
	Name       string       `json:"name"`
	UnitNumber string       `json:"unit_number"`
	Status     MemberStatus `json:"status"`
}

// HeadingDefinition is a recurring charge category owned by a society.
type HeadingDefinition struct {
	SocietyID       SocietyID     `json:"society_id"`
	Code            string        `json:"code"`
	Name            string        `json:"name"`
	DefaultAmount   generic.Money `json:"default_amount"`
	AppliesInterest bool          `json:"applies_interest"`
	AppliesGST      bool          `json:"applies_gst"`
}

// MemberHeadingAmount overrides a heading for one member. NextAmount, when
// set, becomes CurrentAmount once a run consuming CurrentAmount publishes.
type MemberHeadingAmount struct {
	MemberID      MemberID       `json:"member_id"`
	HeadingCode   string         `json:"heading_code"`
	CurrentAmount generic.Money  `json:"current_amount"`
	NextAmount    *generic.Money `json:"next_amount,omitempty"`
}

// Promote returns the row as it must look for the following cycle.
func (h MemberHeadingAmount) Promote() (MemberHeadingAmount, bool) {
	if h.NextAmount == nil {
		return h, false
	}
	h.CurrentAmount = *h.NextAmount
	h.NextAmount = nil
	return h, true
}

// =============================================================================
// BILLING RUN
// =============================================================================

type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunPublished RunStatus = "published"
	RunFailed    RunStatus = "failed"
)

// BillingRun is one bill-generation event (a "lot") for a society.
type BillingRun struct {
	ID                 RunID             `json:"id"`
	SocietyID          SocietyID         `json:"society_id"`
	BillLot            int               `json:"bill_lot"`
	BillDate           generic.TimePoint `json:"bill_date"`
	PeriodFrom         generic.TimePoint `json:"period_from"`
	PeriodTo           generic.TimePoint `json:"period_to"`
	DueDate            generic.TimePoint `json:"due_date"`
	StartingBillNumber int               `json:"starting_bill_number"`
	PolicyVersion      int               `json:"policy_version"`
	Status             RunStatus         `json:"status"`
	BillCount          int               `json:"bill_count"`
	Error              string            `json:"error,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
}

// Period returns the billing cycle covered by the run.
func (r BillingRun) Period() generic.Period {
	return generic.Period{Start: r.PeriodFrom, End: r.PeriodTo}
}

// =============================================================================
// MEMBER BILL
// =============================================================================

type BillStatus string

const (
	BillUnpaid        BillStatus = "unpaid"
	BillPartiallyPaid BillStatus = "partially_paid"
	BillPaid          BillStatus = "paid"
	BillOverpaid      BillStatus = "overpaid"
)

// PaymentBuckets splits received money by whether it arrived by the due date.
type PaymentBuckets struct {
	BeforeDueDate generic.Money `json:"before_due_date"`
	AfterDueDate  generic.Money `json:"after_due_date"`
}

func (p PaymentBuckets) Total() generic.Money { return p.BeforeDueDate.Add(p.AfterDueDate) }

// BillLine is one heading charged on a bill.
type BillLine struct {
	HeadingCode     string        `json:"heading_code"`
	Name            string        `json:"name"`
	Amount          generic.Money `json:"amount"`
	AppliesInterest bool          `json:"applies_interest"`
	AppliesGST      bool          `json:"applies_gst"`
}

// MemberBill is one member's bill within a run.
//
// INVARIANTS:
//   - TotalBillAmount is never negative
//   - PaymentMade buckets never decrease
type MemberBill struct {
	ID         BillID            `json:"id"`
	RunID      RunID             `json:"run_id"`
	SocietyID  SocietyID         `json:"society_id"`
	MemberID   MemberID          `json:"member_id"`
	BillLot    int               `json:"bill_lot"`
	BillNo     int               `json:"bill_no"`
	BillDate   generic.TimePoint `json:"bill_date"`
	DueDate    generic.TimePoint `json:"due_date"`
	PeriodFrom generic.TimePoint `json:"period_from"`
	PeriodTo   generic.TimePoint `json:"period_to"`

	PreviousBalance        generic.Money `json:"previous_balance"`
	PrincipalArrears       generic.Money `json:"principal_arrears"`
	InterestArrears        generic.Money `json:"interest_arrears"`
	ArrearsFreeAmount      generic.Money `json:"arrears_free_amount"`
	BillAmount             generic.Money `json:"bill_amount"`
	InterestFreeBillAmount generic.Money `json:"interest_free_bill_amount"`
	InterestAmount         generic.Money `json:"interest_amount"`
	PenaltyAmount          generic.Money `json:"penalty_amount"`
	RebateAmount           generic.Money `json:"rebate_amount"`
	TotalBillAmount        generic.Money `json:"total_bill_amount"`

	PaymentMade       PaymentBuckets     `json:"payment_made"`
	Status            BillStatus         `json:"status"`
	SettledOn         *generic.TimePoint `json:"settled_on,omitempty"`
	RebateDueDate     *generic.TimePoint `json:"rebate_due_date,omitempty"`
	RebateNeedsReview bool               `json:"rebate_needs_review"`
	Lines             []BillLine         `json:"lines"`

	// Version is bumped on every receipt; stores reject stale writes.
	Version int `json:"version"`
}

// Outstanding returns what is still owed (never negative).
func (b MemberBill) Outstanding() generic.Money {
	return b.TotalBillAmount.Sub(b.PaymentMade.Total()).ClampZero()
}

// settlementStatus derives the bill status from total and payments.
func settlementStatus(total, paid generic.Money) BillStatus {
	switch {
	case paid.IsZero() && total.IsPositive():
		return BillUnpaid
	case paid.GreaterThan(total):
		return BillOverpaid
	case paid.Equal(total):
		return BillPaid
	default:
		return BillPartiallyPaid
	}
}

// =============================================================================
// RECEIPT
// =============================================================================

type PaymentMode string

const (
	ModeCash         PaymentMode = "cash"
	ModeCheque       PaymentMode = "cheque"
	ModeBankTransfer PaymentMode = "bank_transfer"
	ModeUPI          PaymentMode = "upi"
	ModeCard         PaymentMode = "card"
	ModeOther        PaymentMode = "other"
)

// IsValid checks if the payment mode is known.
func (m PaymentMode) IsValid() bool {
	switch m {
	case ModeCash, ModeCheque, ModeBankTransfer, ModeUPI, ModeCard, ModeOther:
		return true
	}
	return false
}

type PaymentBucket string

const (
	BucketBeforeDue PaymentBucket = "before_due_date"
	BucketAfterDue  PaymentBucket = "after_due_date"
)

// Receipt is an incoming payment. Receipts are immutable once written;
// corrections are new receipts.
type Receipt struct {
	ID            ReceiptID         `json:"id"`
	SocietyID     SocietyID         `json:"society_id"`
	MemberID      MemberID          `json:"member_id"`
	BillID        BillID            `json:"bill_id"`
	ReceiptNumber int               `json:"receipt_number"`
	ReceiptDate   generic.TimePoint `json:"receipt_date"`
	Amount        generic.Money     `json:"amount"`
	Mode          PaymentMode       `json:"mode_of_payment"`
	Reference     string            `json:"reference,omitempty"`
	Bucket        PaymentBucket     `json:"bucket"`
	CreatedAt     time.Time         `json:"created_at"`
}
