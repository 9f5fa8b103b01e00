package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/warp/society-billing/billing"
	"github.com/warp/society-billing/generic"
)

// =============================================================================
// CORE STORE (billing.Store interface)
// =============================================================================

func (s *Store) GetSociety(ctx context.Context, id billing.SocietyID) (*billing.Society, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getSociety(ctx, s.db, id)
}

func (s *Store) GetPolicyConfiguration(ctx context.Context, id billing.SocietyID, asOf generic.TimePoint) (*billing.PolicyConfiguration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return policyAsOf(ctx, s.db, id, asOf)
}

func (s *Store) ListMembers(ctx context.Context, id billing.SocietyID) ([]billing.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listMembers(ctx, s.db, id, true)
}

func (s *Store) ListHeadingDefinitions(ctx context.Context, id billing.SocietyID) ([]billing.HeadingDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listHeadings(ctx, s.db, id)
}

func (s *Store) ListMemberHeadingAmounts(ctx context.Context, id billing.MemberID) ([]billing.MemberHeadingAmount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listMemberHeadings(ctx, s.db, id)
}

func (s *Store) GetPriorBill(ctx context.Context, id billing.MemberID, beforeLot int) (*billing.MemberBill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return priorBill(ctx, s.db, id, beforeLot)
}

func (s *Store) IsLotPublished(ctx context.Context, id billing.SocietyID, lot int) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lotPublished(ctx, s.db, id, lot)
}

// PersistBillingRun writes the run, its bills and heading promotions in one
// transaction.
func (s *Store) PersistBillingRun(ctx context.Context, pub billing.Publication) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return persistRun(ctx, tx, pub)
	})
}

func (s *Store) RecordFailedRun(ctx context.Context, run billing.BillingRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run.Status = billing.RunFailed
	return insertRun(ctx, s.db, run)
}

func (s *Store) GetMemberBill(ctx context.Context, id billing.BillID) (*billing.MemberBill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getBill(ctx, s.db, id)
}

func (s *Store) PersistReceiptAndBillUpdate(ctx context.Context, r billing.Receipt, b billing.MemberBill, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return persistReceipt(ctx, tx, r, b, expectedVersion)
	})
}

func (s *Store) NextReceiptNumber(ctx context.Context, id billing.SocietyID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return nextReceiptNumber(ctx, s.db, id)
}

// =============================================================================
// QUERIES - Shared by Store and txStore
// =============================================================================

const societyColumns = `id, name, registration_number, state, auto_billing, last_bill_number, last_receipt_number, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanSociety(row scanner) (*billing.Society, error) {
	var soc billing.Society
	var reg sql.NullString
	var state, created string
	var auto int
	if err := row.Scan(&soc.ID, &soc.Name, &reg, &state, &auto, &soc.LastBillNumber, &soc.LastReceiptNumber, &created); err != nil {
		return nil, err
	}
	soc.RegistrationNumber = reg.String
	soc.State = billing.OnboardingState(state)
	soc.AutoBilling = auto != 0
	soc.CreatedAt = parseTimestamp(created)
	return &soc, nil
}

func getSociety(ctx context.Context, q querier, id billing.SocietyID) (*billing.Society, error) {
	row := q.QueryRowContext(ctx, `SELECT `+societyColumns+` FROM societies WHERE id = ?`, id)
	soc, err := scanSociety(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get society: %w", err)
	}
	return soc, nil
}

// policyAsOf returns the version with the latest EffectiveFrom on or before
// asOf; the higher version wins a tie. Dates are ISO strings so they compare
// lexically.
func policyAsOf(ctx context.Context, q querier, id billing.SocietyID, asOf generic.TimePoint) (*billing.PolicyConfiguration, error) {
	var raw string
	err := q.QueryRowContext(ctx, `
		SELECT config_json FROM policy_configurations
		WHERE society_id = ? AND effective_from <= ?
		ORDER BY effective_from DESC, version DESC
		LIMIT 1
	`, id, asOf.String()).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get policy: %w", err)
	}
	var p billing.PolicyConfiguration
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("failed to decode policy: %w", err)
	}
	return &p, nil
}

func listMembers(ctx context.Context, q querier, id billing.SocietyID, activeOnly bool) ([]billing.Member, error) {
	query := `SELECT id, society_id, name, unit_number, status FROM members WHERE society_id = ?`
	if activeOnly {
		query += ` AND status = 'active'`
	}
	rows, err := q.QueryContext(ctx, query+` ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var result []billing.Member
	for rows.Next() {
		var m billing.Member
		var unit sql.NullString
		var status string
		if err := rows.Scan(&m.ID, &m.SocietyID, &m.Name, &unit, &status); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		m.UnitNumber = unit.String
		m.Status = billing.MemberStatus(status)
		result = append(result, m)
	}
	return result, rows.Err()
}

func listHeadings(ctx context.Context, q querier, id billing.SocietyID) ([]billing.HeadingDefinition, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT society_id, code, name, default_amount, applies_interest, applies_gst
		FROM heading_definitions WHERE society_id = ? ORDER BY code
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list headings: %w", err)
	}
	defer rows.Close()

	var result []billing.HeadingDefinition
	for rows.Next() {
		var h billing.HeadingDefinition
		var amount string
		var interest, gst int
		if err := rows.Scan(&h.SocietyID, &h.Code, &h.Name, &amount, &interest, &gst); err != nil {
			return nil, fmt.Errorf("failed to scan heading: %w", err)
		}
		var dec amountDecoder
		h.DefaultAmount = dec.parse("default_amount", amount)
		if dec.err != nil {
			return nil, dec.err
		}
		h.AppliesInterest = interest != 0
		h.AppliesGST = gst != 0
		result = append(result, h)
	}
	return result, rows.Err()
}

func listMemberHeadings(ctx context.Context, q querier, id billing.MemberID) ([]billing.MemberHeadingAmount, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT member_id, heading_code, current_amount, next_amount
		FROM member_heading_amounts WHERE member_id = ? ORDER BY heading_code
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list member headings: %w", err)
	}
	defer rows.Close()

	var result []billing.MemberHeadingAmount
	for rows.Next() {
		var h billing.MemberHeadingAmount
		var current string
		var next sql.NullString
		if err := rows.Scan(&h.MemberID, &h.HeadingCode, &current, &next); err != nil {
			return nil, fmt.Errorf("failed to scan member heading: %w", err)
		}
		var dec amountDecoder
		h.CurrentAmount = dec.parse("current_amount", current)
		if next.Valid {
			n := dec.parse("next_amount", next.String)
			h.NextAmount = &n
		}
		if dec.err != nil {
			return nil, dec.err
		}
		result = append(result, h)
	}
	return result, rows.Err()
}

func upsertMemberHeading(ctx context.Context, q querier, h billing.MemberHeadingAmount) error {
	var next sql.NullString
	if h.NextAmount != nil {
		next = sql.NullString{String: h.NextAmount.Value.String(), Valid: true}
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO member_heading_amounts (member_id, heading_code, current_amount, next_amount)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(member_id, heading_code) DO UPDATE SET
			current_amount = excluded.current_amount,
			next_amount = excluded.next_amount
	`, h.MemberID, h.HeadingCode, h.CurrentAmount.Value.String(), next)
	if err != nil {
		return mapError(fmt.Errorf("failed to save member heading: %w", err))
	}
	return nil
}

// =============================================================================
// RUNS
// =============================================================================

const runColumns = `id, society_id, bill_lot, bill_date, period_from, period_to, due_date,
	starting_bill_number, policy_version, status, bill_count, error, created_at`

func scanRun(row scanner) (*billing.BillingRun, error) {
	var r billing.BillingRun
	var billDate, from, to, due, status, created string
	var errText sql.NullString
	if err := row.Scan(&r.ID, &r.SocietyID, &r.BillLot, &billDate, &from, &to, &due,
		&r.StartingBillNumber, &r.PolicyVersion, &status, &r.BillCount, &errText, &created); err != nil {
		return nil, err
	}
	r.BillDate = parseDate(billDate)
	r.PeriodFrom = parseDate(from)
	r.PeriodTo = parseDate(to)
	r.DueDate = parseDate(due)
	r.Status = billing.RunStatus(status)
	r.Error = errText.String
	r.CreatedAt = parseTimestamp(created)
	return &r, nil
}

func insertRun(ctx context.Context, q querier, r billing.BillingRun) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO billing_runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.SocietyID, r.BillLot, r.BillDate.String(), r.PeriodFrom.String(), r.PeriodTo.String(),
		r.DueDate.String(), r.StartingBillNumber, r.PolicyVersion, string(r.Status), r.BillCount,
		nullString(r.Error), timestamp(r.CreatedAt))
	if err != nil {
		return mapError(fmt.Errorf("failed to insert run: %w", err))
	}
	return nil
}

func lotPublished(ctx context.Context, q querier, id billing.SocietyID, lot int) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM billing_runs
		WHERE society_id = ? AND bill_lot = ? AND status = 'published'
	`, id, lot).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check lot: %w", err)
	}
	return n > 0, nil
}

func latestPublishedRun(ctx context.Context, q querier, id billing.SocietyID) (*billing.BillingRun, error) {
	run, err := scanRun(q.QueryRowContext(ctx, `
		SELECT `+runColumns+` FROM billing_runs
		WHERE society_id = ? AND status = 'published'
		ORDER BY bill_lot DESC LIMIT 1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest run: %w", err)
	}
	return run, nil
}

// billNumbersTaken reports whether any bill of the society is numbered
// within [from, to].
func billNumbersTaken(ctx context.Context, q querier, id billing.SocietyID, from, to int) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM member_bills
		WHERE society_id = ? AND bill_no BETWEEN ? AND ?
	`, id, from, to).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check bill numbers: %w", err)
	}
	return n > 0, nil
}

// persistRun must run inside a transaction.
func persistRun(ctx context.Context, q querier, pub billing.Publication) error {
	run := pub.Run
	if _, err := getSociety(ctx, q, run.SocietyID); err != nil {
		return err
	}
	published, err := lotPublished(ctx, q, run.SocietyID, run.BillLot)
	if err != nil {
		return err
	}
	if published {
		return generic.ErrDuplicate
	}
	latest, err := latestPublishedRun(ctx, q, run.SocietyID)
	if err != nil {
		return err
	}
	latestLot := 0
	if latest != nil {
		latestLot = latest.BillLot
	}
	if latestLot > run.BillLot {
		return fmt.Errorf("lot %d follows published lot %d: %w", run.BillLot, latestLot, generic.ErrInvalidInput)
	}
	if latestLot != pub.PriorLot {
		return generic.ErrConcurrentModification
	}

	minNo, maxNo := 0, 0
	for _, b := range pub.Bills {
		if minNo == 0 || b.BillNo < minNo {
			minNo = b.BillNo
		}
		if b.BillNo > maxNo {
			maxNo = b.BillNo
		}
	}
	if maxNo > 0 {
		taken, err := billNumbersTaken(ctx, q, run.SocietyID, minNo, maxNo)
		if err != nil {
			return err
		}
		if taken {
			return fmt.Errorf("bill numbers %d-%d already issued: %w", minNo, maxNo, generic.ErrInvalidInput)
		}
	}

	if pub.CounterBase != nil {
		next := *pub.CounterBase
		if maxNo > next {
			next = maxNo
		}
		res, err := q.ExecContext(ctx, `
			UPDATE societies SET last_bill_number = ?
			WHERE id = ? AND last_bill_number = ?
		`, next, run.SocietyID, *pub.CounterBase)
		if err != nil {
			return mapError(fmt.Errorf("failed to advance bill counter: %w", err))
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return generic.ErrConcurrentModification
		}
	} else if maxNo > 0 {
		if _, err := q.ExecContext(ctx, `
			UPDATE societies SET last_bill_number = MAX(last_bill_number, ?) WHERE id = ?
		`, maxNo, run.SocietyID); err != nil {
			return mapError(fmt.Errorf("failed to advance bill counter: %w", err))
		}
	}

	if err := insertRun(ctx, q, run); err != nil {
		return err
	}
	for _, b := range pub.Bills {
		if err := insertBill(ctx, q, b); err != nil {
			return err
		}
	}
	for _, p := range pub.Promotions {
		if err := upsertMemberHeading(ctx, q, p); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// BILLS
// =============================================================================

// amountDecoder parses stored amounts and keeps the first failure.
type amountDecoder struct {
	err error
}

func (d *amountDecoder) parse(column, value string) generic.Money {
	m, err := generic.ParseMoney(value)
	if err != nil && d.err == nil {
		d.err = fmt.Errorf("corrupt %s: %w", column, err)
	}
	return m
}

const billColumns = `id, run_id, society_id, member_id, bill_lot, bill_no, bill_date, due_date, period_from, period_to,
	previous_balance, principal_arrears, interest_arrears, arrears_free_amount,
	bill_amount, interest_free_bill_amount, interest_amount, penalty_amount, rebate_amount, total_bill_amount,
	paid_before_due, paid_after_due, status, settled_on, rebate_due_date, rebate_needs_review, lines_json, version`

func scanBill(row scanner) (*billing.MemberBill, error) {
	var b billing.MemberBill
	var billDate, due, from, to string
	var prev, principal, interestArr, free, amount, interestFree, interest, penalty, rebate, total string
	var before, after, status, lines string
	var settled, rebateDue sql.NullString
	var review int
	if err := row.Scan(&b.ID, &b.RunID, &b.SocietyID, &b.MemberID, &b.BillLot, &b.BillNo,
		&billDate, &due, &from, &to,
		&prev, &principal, &interestArr, &free,
		&amount, &interestFree, &interest, &penalty, &rebate, &total,
		&before, &after, &status, &settled, &rebateDue, &review, &lines, &b.Version); err != nil {
		return nil, err
	}
	b.BillDate = parseDate(billDate)
	b.DueDate = parseDate(due)
	b.PeriodFrom = parseDate(from)
	b.PeriodTo = parseDate(to)
	var dec amountDecoder
	b.PreviousBalance = dec.parse("previous_balance", prev)
	b.PrincipalArrears = dec.parse("principal_arrears", principal)
	b.InterestArrears = dec.parse("interest_arrears", interestArr)
	b.ArrearsFreeAmount = dec.parse("arrears_free_amount", free)
	b.BillAmount = dec.parse("bill_amount", amount)
	b.InterestFreeBillAmount = dec.parse("interest_free_bill_amount", interestFree)
	b.InterestAmount = dec.parse("interest_amount", interest)
	b.PenaltyAmount = dec.parse("penalty_amount", penalty)
	b.RebateAmount = dec.parse("rebate_amount", rebate)
	b.TotalBillAmount = dec.parse("total_bill_amount", total)
	b.PaymentMade = billing.PaymentBuckets{
		BeforeDueDate: dec.parse("paid_before_due", before),
		AfterDueDate:  dec.parse("paid_after_due", after),
	}
	if dec.err != nil {
		return nil, fmt.Errorf("bill %s: %w", b.ID, dec.err)
	}
	b.Status = billing.BillStatus(status)
	b.SettledOn = datePtr(settled)
	b.RebateDueDate = datePtr(rebateDue)
	b.RebateNeedsReview = review != 0
	if err := json.Unmarshal([]byte(lines), &b.Lines); err != nil {
		return nil, fmt.Errorf("failed to decode bill lines: %w", err)
	}
	return &b, nil
}

func insertBill(ctx context.Context, q querier, b billing.MemberBill) error {
	lines, err := json.Marshal(b.Lines)
	if err != nil {
		return fmt.Errorf("failed to encode bill lines: %w", err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO member_bills (`+billColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, b.ID, b.RunID, b.SocietyID, b.MemberID, b.BillLot, b.BillNo,
		b.BillDate.String(), b.DueDate.String(), b.PeriodFrom.String(), b.PeriodTo.String(),
		b.PreviousBalance.Value.String(), b.PrincipalArrears.Value.String(),
		b.InterestArrears.Value.String(), b.ArrearsFreeAmount.Value.String(),
		b.BillAmount.Value.String(), b.InterestFreeBillAmount.Value.String(),
		b.InterestAmount.Value.String(), b.PenaltyAmount.Value.String(),
		b.RebateAmount.Value.String(), b.TotalBillAmount.Value.String(),
		b.PaymentMade.BeforeDueDate.Value.String(), b.PaymentMade.AfterDueDate.Value.String(),
		string(b.Status), nullDate(b.SettledOn), nullDate(b.RebateDueDate),
		boolInt(b.RebateNeedsReview), string(lines), b.Version)
	if err != nil {
		return mapError(fmt.Errorf("failed to insert bill: %w", err))
	}
	return nil
}

func getBill(ctx context.Context, q querier, id billing.BillID) (*billing.MemberBill, error) {
	row := q.QueryRowContext(ctx, `SELECT `+billColumns+` FROM member_bills WHERE id = ?`, id)
	b, err := scanBill(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bill: %w", err)
	}
	return b, nil
}

// priorBill returns nil when the member has no bill before beforeLot. Only
// published runs ever write bills.
func priorBill(ctx context.Context, q querier, id billing.MemberID, beforeLot int) (*billing.MemberBill, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+billColumns+` FROM member_bills
		WHERE member_id = ? AND bill_lot < ?
		ORDER BY bill_lot DESC, bill_no DESC
		LIMIT 1
	`, id, beforeLot)
	b, err := scanBill(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get prior bill: %w", err)
	}
	return b, nil
}

func queryBills(ctx context.Context, q querier, where, order string, arg any) ([]billing.MemberBill, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+billColumns+` FROM member_bills WHERE `+where+` ORDER BY `+order, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to list bills: %w", err)
	}
	defer rows.Close()

	var result []billing.MemberBill
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bill: %w", err)
		}
		result = append(result, *b)
	}
	return result, rows.Err()
}

// =============================================================================
// RECEIPTS
// =============================================================================

// persistReceipt must run inside a transaction. The version predicate makes
// the bill update a compare-and-set.
func persistReceipt(ctx context.Context, q querier, r billing.Receipt, b billing.MemberBill, expectedVersion int) error {
	res, err := q.ExecContext(ctx, `
		UPDATE member_bills SET
			paid_before_due = ?, paid_after_due = ?, status = ?, settled_on = ?, version = ?
		WHERE id = ? AND version = ?
	`, b.PaymentMade.BeforeDueDate.Value.String(), b.PaymentMade.AfterDueDate.Value.String(),
		string(b.Status), nullDate(b.SettledOn), b.Version, b.ID, expectedVersion)
	if err != nil {
		return mapError(fmt.Errorf("failed to update bill: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := getBill(ctx, q, b.ID); err != nil {
			return err
		}
		return generic.ErrConcurrentModification
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO receipts (id, society_id, member_id, bill_id, receipt_number, receipt_date,
			amount, mode, reference, bucket, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.SocietyID, r.MemberID, r.BillID, r.ReceiptNumber, r.ReceiptDate.String(),
		r.Amount.Value.String(), string(r.Mode), nullString(r.Reference), string(r.Bucket), timestamp(r.CreatedAt))
	if err != nil {
		return mapError(fmt.Errorf("failed to insert receipt: %w", err))
	}
	return nil
}

func nextReceiptNumber(ctx context.Context, q querier, id billing.SocietyID) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `
		UPDATE societies SET last_receipt_number = last_receipt_number + 1
		WHERE id = ?
		RETURNING last_receipt_number
	`, id).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, generic.ErrNotFound
	}
	if err != nil {
		return 0, mapError(fmt.Errorf("failed to advance receipt counter: %w", err))
	}
	return n, nil
}

const receiptColumns = `id, society_id, member_id, bill_id, receipt_number, receipt_date, amount, mode, reference, bucket, created_at`

func scanReceipt(row scanner) (*billing.Receipt, error) {
	var r billing.Receipt
	var date, amount, mode, bucket, created string
	var ref sql.NullString
	if err := row.Scan(&r.ID, &r.SocietyID, &r.MemberID, &r.BillID, &r.ReceiptNumber, &date,
		&amount, &mode, &ref, &bucket, &created); err != nil {
		return nil, err
	}
	r.ReceiptDate = parseDate(date)
	var dec amountDecoder
	r.Amount = dec.parse("amount", amount)
	if dec.err != nil {
		return nil, fmt.Errorf("receipt %s: %w", r.ID, dec.err)
	}
	r.Mode = billing.PaymentMode(mode)
	r.Reference = ref.String
	r.Bucket = billing.PaymentBucket(bucket)
	r.CreatedAt = parseTimestamp(created)
	return &r, nil
}
