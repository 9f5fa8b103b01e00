/*
allocator.go - Applying receipts to member bills

PURPOSE:
  A receipt is a single lump payment against one bill. The allocator adds it
  to the bill's before-due or after-due bucket, derives the settlement
  state, and writes receipt and bill together.

BUCKETS:
  receipt_date <= due_date  -> before_due_date
  receipt_date >  due_date  -> after_due_date
  Buckets only ever grow.

CREDIT ADJUSTMENT ORDER:
  Not applied here. Whether a payment settled interest or principal only
  matters when the unpaid remainder is split for the next bill
  (see carryforward.go).

CONCURRENCY:
  Receipts on the same bill are serialized in-process by a per-bill lock
  and across processes by the bill's Version: a stale write fails with
  ErrConcurrentModification and the whole transaction is retried with
  fresh data, up to MaxAttempts.

SEE ALSO:
  - store.go: PersistReceiptAndBillUpdate, NextReceiptNumber
*/
package billing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/society-billing/generic"
)

// =============================================================================
// PURE ALLOCATION
// =============================================================================

// BucketFor classifies a payment date against a due date. Paying on the due
// date counts as before it.
func BucketFor(receiptDate, dueDate generic.TimePoint) PaymentBucket {
	if receiptDate.BeforeOrEqual(dueDate) {
		return BucketBeforeDue
	}
	return BucketAfterDue
}

// ApplyReceipt returns bill with receipt applied. bill is not modified. The
// warning is non-nil when the bill ends up overpaid.
func ApplyReceipt(receipt Receipt, bill MemberBill) (MemberBill, *OverpaymentWarning, error) {
	if !receipt.Amount.IsPositive() {
		return bill, nil, fmt.Errorf("receipt amount must be positive, got %s: %w", receipt.Amount, generic.ErrInvalidInput)
	}
	if receipt.ReceiptDate.IsZero() {
		return bill, nil, fmt.Errorf("receipt date is required: %w", generic.ErrInvalidInput)
	}
	if receipt.BillID != "" && receipt.BillID != bill.ID {
		return bill, nil, fmt.Errorf("receipt is for bill %s, not %s: %w", receipt.BillID, bill.ID, generic.ErrInvalidInput)
	}

	updated := bill
	updated.Lines = append([]BillLine(nil), bill.Lines...)
	switch BucketFor(receipt.ReceiptDate, bill.DueDate) {
	case BucketBeforeDue:
		updated.PaymentMade.BeforeDueDate = bill.PaymentMade.BeforeDueDate.Add(receipt.Amount)
	default:
		updated.PaymentMade.AfterDueDate = bill.PaymentMade.AfterDueDate.Add(receipt.Amount)
	}

	paid := updated.PaymentMade.Total()
	updated.Status = settlementStatus(updated.TotalBillAmount, paid)
	if updated.SettledOn == nil && paid.GreaterThanOrEqual(updated.TotalBillAmount) {
		settled := receipt.ReceiptDate
		updated.SettledOn = &settled
	}
	updated.Version = bill.Version + 1

	var warning *OverpaymentWarning
	if paid.GreaterThan(updated.TotalBillAmount) {
		warning = &OverpaymentWarning{
			BillID:    bill.ID,
			TotalBill: updated.TotalBillAmount,
			TotalPaid: paid,
			Excess:    paid.Sub(updated.TotalBillAmount),
		}
	}
	return updated, warning, nil
}

// =============================================================================
// ALLOCATOR SERVICE
// =============================================================================

// ReceiptRequest is an incoming payment as entered by an operator.
type ReceiptRequest struct {
	BillID      BillID
	ReceiptDate generic.TimePoint
	Amount      generic.Money
	Mode        PaymentMode
	Reference   string
}

// AllocationResult is the outcome of a successful receipt.
type AllocationResult struct {
	Receipt Receipt             `json:"receipt"`
	Bill    MemberBill          `json:"bill"`
	Warning *OverpaymentWarning `json:"warning,omitempty"`

	// RebateEarned is set when this receipt settled the bill inside its
	// rebate window; the rebate is credited on the next bill.
	RebateEarned bool `json:"rebate_earned"`
}

// Allocator applies receipts transactionally.
type Allocator struct {
	Store  TxStore
	Logger *zap.Logger

	// MaxAttempts bounds retries on concurrent modification. Zero means 3.
	MaxAttempts int
	// Backoff is the pause before the first retry; it doubles each time.
	Backoff time.Duration

	Now func() time.Time

	locksMu sync.Mutex
	locks   map[BillID]*billLock
}

// billLock serializes receipts for one bill. It is removed from the table
// once no caller holds or waits on it.
type billLock struct {
	mu   sync.Mutex
	refs int
}

// NewAllocator creates an allocator over store.
func NewAllocator(store TxStore, logger *zap.Logger) *Allocator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Allocator{Store: store, Logger: logger, MaxAttempts: 3, Backoff: 10 * time.Millisecond, Now: time.Now}
}

func (a *Allocator) lockBill(id BillID) func() {
	a.locksMu.Lock()
	if a.locks == nil {
		a.locks = make(map[BillID]*billLock)
	}
	l, ok := a.locks[id]
	if !ok {
		l = &billLock{}
		a.locks[id] = l
	}
	l.refs++
	a.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		a.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(a.locks, id)
		}
		a.locksMu.Unlock()
	}
}

// heldLocks reports how many bills currently have a lock entry.
func (a *Allocator) heldLocks() int {
	a.locksMu.Lock()
	defer a.locksMu.Unlock()
	return len(a.locks)
}

// Apply records a receipt against its bill.
func (a *Allocator) Apply(ctx context.Context, req ReceiptRequest) (*AllocationResult, error) {
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("receipt amount must be positive, got %s: %w", req.Amount, generic.ErrInvalidInput)
	}
	if req.Mode == "" {
		req.Mode = ModeCash
	}
	if !req.Mode.IsValid() {
		return nil, fmt.Errorf("unknown mode of payment %q: %w", req.Mode, generic.ErrInvalidInput)
	}

	log := a.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("bill_id", string(req.BillID)))

	unlock := a.lockBill(req.BillID)
	defer unlock()

	attempts := a.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	backoff := a.Backoff

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := a.applyOnce(ctx, req)
		if err == nil {
			fields := []zap.Field{
				zap.Int("receipt_number", result.Receipt.ReceiptNumber),
				zap.String("amount", result.Receipt.Amount.String()),
				zap.String("bucket", string(result.Receipt.Bucket)),
			}
			if result.Warning != nil {
				log.Warn("receipt overpays bill", append(fields, zap.String("excess", result.Warning.Excess.String()))...)
			} else {
				log.Info("receipt applied", fields...)
			}
			return result, nil
		}
		if !generic.IsRetryable(err) {
			return nil, err
		}
		lastErr = err
		log.Warn("receipt conflicted, retrying", zap.Int("attempt", attempt), zap.Error(err))
		if attempt < attempts && backoff > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	return nil, fmt.Errorf("receipt for bill %s failed after %d attempts: %w", req.BillID, attempts, lastErr)
}

func (a *Allocator) applyOnce(ctx context.Context, req ReceiptRequest) (*AllocationResult, error) {
	var result AllocationResult
	err := a.Store.WithTx(ctx, func(tx Store) error {
		bill, err := tx.GetMemberBill(ctx, req.BillID)
		if err != nil {
			return err
		}

		receipt := Receipt{
			ID:          ReceiptID(uuid.NewString()),
			SocietyID:   bill.SocietyID,
			MemberID:    bill.MemberID,
			BillID:      bill.ID,
			ReceiptDate: req.ReceiptDate,
			Amount:      req.Amount,
			Mode:        req.Mode,
			Reference:   req.Reference,
			Bucket:      BucketFor(req.ReceiptDate, bill.DueDate),
			CreatedAt:   a.now().UTC(),
		}
		updated, warning, err := ApplyReceipt(receipt, *bill)
		if err != nil {
			return err
		}

		number, err := tx.NextReceiptNumber(ctx, bill.SocietyID)
		if err != nil {
			return err
		}
		receipt.ReceiptNumber = number

		if err := tx.PersistReceiptAndBillUpdate(ctx, receipt, updated, bill.Version); err != nil {
			return err
		}

		result = AllocationResult{
			Receipt:      receipt,
			Bill:         updated,
			Warning:      warning,
			RebateEarned: rebateEarned(*bill, updated),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (a *Allocator) now() time.Time {
	if a.Now == nil {
		return time.Now()
	}
	return a.Now()
}

// rebateEarned is true when this update is the one that settled the bill
// and it happened by the rebate deadline.
func rebateEarned(before, after MemberBill) bool {
	if before.SettledOn != nil || after.SettledOn == nil || after.RebateDueDate == nil {
		return false
	}
	return after.SettledOn.BeforeOrEqual(*after.RebateDueDate)
}
