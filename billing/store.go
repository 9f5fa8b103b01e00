/*
store.go - Persistence contract for the billing core

PURPOSE:
  The billing core never talks to a database directly. It reads society
  settings, members, headings and prior bills through Store, and writes
  only through the two atomic operations below.

ATOMIC WRITES:
  PersistBillingRun:            run + every member bill + heading promotions,
                                all or nothing
  PersistReceiptAndBillUpdate:  receipt + the bill it updates, all or nothing

  A crash mid-run leaves no partial bills. A receipt never exists without
  its effect on the bill.

COUNTERS:
  NextReceiptNumber is an atomic increment-and-fetch. The bill counter is
  advanced inside PersistBillingRun by compare-and-set against
  Publication.CounterBase, so two runs numbering from the same counter value
  cannot both publish.

IMPLEMENTATIONS:
  - generic/store/memory.go: in-memory, snapshot/rollback transactions
  - store/sqlite/sqlite.go:  production SQLite

SEE ALSO:
  - generator.go: reads through Store, publishes through PersistBillingRun
  - allocator.go: writes through PersistReceiptAndBillUpdate inside WithTx
*/
package billing

import (
	"context"

	"github.com/warp/society-billing/generic"
)

// =============================================================================
// STORE - What the core reads and writes
// =============================================================================

// Publication is everything a successful run writes atomically.
type Publication struct {
	Run        BillingRun
	Bills      []MemberBill
	Promotions []MemberHeadingAmount

	// CounterBase is the society bill counter the bill numbers were derived
	// from, or nil when the operator supplied a starting number.
	CounterBase *int

	// PriorLot is the latest published lot the bills carried arrears from,
	// zero for a society's first run.
	PriorLot int
}

// Store is the collaborator interface the billing core depends on.
type Store interface {
	// GetSociety returns generic.ErrNotFound if the society doesn't exist.
	GetSociety(ctx context.Context, id SocietyID) (*Society, error)

	// GetPolicyConfiguration returns the version in force on asOf, or
	// generic.ErrNotFound when none is.
	GetPolicyConfiguration(ctx context.Context, societyID SocietyID, asOf generic.TimePoint) (*PolicyConfiguration, error)

	// ListMembers returns active members ordered by ID.
	ListMembers(ctx context.Context, societyID SocietyID) ([]Member, error)

	ListHeadingDefinitions(ctx context.Context, societyID SocietyID) ([]HeadingDefinition, error)
	ListMemberHeadingAmounts(ctx context.Context, memberID MemberID) ([]MemberHeadingAmount, error)

	// GetPriorBill returns the member's most recent published bill from a
	// lot before beforeLot, or nil when there is none.
	GetPriorBill(ctx context.Context, memberID MemberID, beforeLot int) (*MemberBill, error)

	IsLotPublished(ctx context.Context, societyID SocietyID, lot int) (bool, error)

	// LatestPublishedRun returns the published run with the highest lot, or
	// nil when the society has never been billed.
	LatestPublishedRun(ctx context.Context, societyID SocietyID) (*BillingRun, error)

	// PersistBillingRun writes a published run atomically. It returns
	// generic.ErrDuplicate if the lot is already published,
	// generic.ErrInvalidInput if a later lot is published or a bill number
	// is already issued, and generic.ErrConcurrentModification if the bill
	// counter or the latest published lot moved.
	PersistBillingRun(ctx context.Context, pub Publication) error

	// RecordFailedRun stores a run with status failed and no bills.
	RecordFailedRun(ctx context.Context, run BillingRun) error

	GetMemberBill(ctx context.Context, id BillID) (*MemberBill, error)

	// PersistReceiptAndBillUpdate writes the receipt and the updated bill.
	// It returns generic.ErrConcurrentModification unless the stored bill is
	// still at expectedVersion.
	PersistReceiptAndBillUpdate(ctx context.Context, receipt Receipt, bill MemberBill, expectedVersion int) error

	// NextReceiptNumber atomically increments and returns the society's
	// receipt counter.
	NextReceiptNumber(ctx context.Context, societyID SocietyID) (int, error)
}

// TxStore extends Store with transaction support.
type TxStore interface {
	Store

	// WithTx runs fn in a transaction. If fn returns an error nothing it
	// wrote is kept.
	WithTx(ctx context.Context, fn func(tx Store) error) error
}

// =============================================================================
// REPOSITORY - Administrative CRUD used by the web layer
// =============================================================================

// Repository adds the master-data and reporting operations around the core.
type Repository interface {
	TxStore

	SaveSociety(ctx context.Context, s Society) error
	ListSocieties(ctx context.Context) ([]Society, error)

	// SavePolicyConfiguration stores a new version. Versions are never
	// overwritten; generic.ErrDuplicate is returned for an existing version.
	SavePolicyConfiguration(ctx context.Context, p PolicyConfiguration) error
	ListPolicyConfigurations(ctx context.Context, societyID SocietyID) ([]PolicyConfiguration, error)

	SaveHeadingDefinition(ctx context.Context, h HeadingDefinition) error

	SaveMember(ctx context.Context, m Member) error
	GetMember(ctx context.Context, id MemberID) (*Member, error)
	SaveMemberHeadingAmounts(ctx context.Context, memberID MemberID, rows []MemberHeadingAmount) error

	GetRun(ctx context.Context, id RunID) (*BillingRun, error)
	ListRuns(ctx context.Context, societyID SocietyID) ([]BillingRun, error)

	ListBillsByRun(ctx context.Context, runID RunID) ([]MemberBill, error)
	ListBillsByMember(ctx context.Context, memberID MemberID) ([]MemberBill, error)

	GetReceipt(ctx context.Context, id ReceiptID) (*Receipt, error)
	ListReceiptsByBill(ctx context.Context, billID BillID) ([]Receipt, error)
}
