package billing

import (
	"fmt"

	"github.com/warp/society-billing/generic"
)

// =============================================================================
// DOMAIN ERRORS - Structured, each unwraps to a generic sentinel
// =============================================================================

// ConfigurationError reports a missing or invalid PolicyConfiguration.
// Fatal: the whole run is rejected with no partial effect.
type ConfigurationError struct {
	SocietyID SocietyID
	Reason    string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("society %s: billing configuration: %s", e.SocietyID, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return generic.ErrConfiguration }

// DuplicateLotError reports that (society, lot) is already published or is
// being generated right now.
type DuplicateLotError struct {
	SocietyID SocietyID
	BillLot   int
}

func (e *DuplicateLotError) Error() string {
	return fmt.Sprintf("society %s: bill lot %d already published", e.SocietyID, e.BillLot)
}

func (e *DuplicateLotError) Unwrap() error { return generic.ErrDuplicateLot }

// MemberDataError identifies the member whose heading data aborted a run.
type MemberDataError struct {
	MemberID    MemberID
	HeadingCode string
	Reason      string
}

func (e *MemberDataError) Error() string {
	if e.HeadingCode != "" {
		return fmt.Sprintf("member %s heading %s: %s", e.MemberID, e.HeadingCode, e.Reason)
	}
	return fmt.Sprintf("member %s: %s", e.MemberID, e.Reason)
}

func (e *MemberDataError) Unwrap() error { return generic.ErrMemberData }

// StateError is returned when an operation needs a society state it isn't in.
type StateError struct {
	SocietyID SocietyID
	State     OnboardingState
	Need      OnboardingState
}

func (e *StateError) Error() string {
	return fmt.Sprintf("society %s is %s, must be %s", e.SocietyID, e.State, e.Need)
}

func (e *StateError) Unwrap() error { return generic.ErrInvalidTransition }

// =============================================================================
// WARNINGS - Not errors; returned alongside a successful result
// =============================================================================

// OverpaymentWarning flags a bill whose payments exceed its total. The
// receipt is still recorded; the excess needs reconciliation.
type OverpaymentWarning struct {
	BillID    BillID        `json:"bill_id"`
	TotalBill generic.Money `json:"total_bill_amount"`
	TotalPaid generic.Money `json:"total_paid"`
	Excess    generic.Money `json:"excess"`
}

func (w *OverpaymentWarning) String() string {
	return fmt.Sprintf("bill %s overpaid by %s (paid %s of %s)", w.BillID, w.Excess, w.TotalPaid, w.TotalBill)
}
