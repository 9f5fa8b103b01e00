package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/warp/society-billing/billing"
	"github.com/warp/society-billing/generic"
)

// =============================================================================
// REPOSITORY - Administrative CRUD
// =============================================================================

// SaveSociety inserts or updates a society. Counters never move backwards.
func (s *Store) SaveSociety(ctx context.Context, soc billing.Society) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO societies (`+societyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			registration_number = excluded.registration_number,
			state = excluded.state,
			auto_billing = excluded.auto_billing,
			last_bill_number = MAX(last_bill_number, excluded.last_bill_number),
			last_receipt_number = MAX(last_receipt_number, excluded.last_receipt_number)
	`, soc.ID, soc.Name, nullString(soc.RegistrationNumber), string(soc.State), boolInt(soc.AutoBilling),
		soc.LastBillNumber, soc.LastReceiptNumber, timestamp(soc.CreatedAt))
	if err != nil {
		return mapError(fmt.Errorf("failed to save society: %w", err))
	}
	return nil
}

func (s *Store) ListSocieties(ctx context.Context) ([]billing.Society, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+societyColumns+` FROM societies ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list societies: %w", err)
	}
	defer rows.Close()

	var result []billing.Society
	for rows.Next() {
		soc, err := scanSociety(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan society: %w", err)
		}
		result = append(result, *soc)
	}
	return result, rows.Err()
}

// SavePolicyConfiguration stores a new version; the primary key rejects an
// existing one.
func (s *Store) SavePolicyConfiguration(ctx context.Context, p billing.PolicyConfiguration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := getSociety(ctx, s.db, p.SocietyID); err != nil {
		return err
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode policy: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO policy_configurations (society_id, version, effective_from, config_json, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, p.SocietyID, p.Version, p.EffectiveFrom.String(), string(raw), timestamp(time.Now()))
	if err != nil {
		return mapError(fmt.Errorf("failed to save policy: %w", err))
	}
	return nil
}

func (s *Store) ListPolicyConfigurations(ctx context.Context, id billing.SocietyID) ([]billing.PolicyConfiguration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT config_json FROM policy_configurations WHERE society_id = ? ORDER BY version
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list policies: %w", err)
	}
	defer rows.Close()

	var result []billing.PolicyConfiguration
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan policy: %w", err)
		}
		var p billing.PolicyConfiguration
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("failed to decode policy: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (s *Store) SaveHeadingDefinition(ctx context.Context, h billing.HeadingDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := getSociety(ctx, s.db, h.SocietyID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO heading_definitions (society_id, code, name, default_amount, applies_interest, applies_gst)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(society_id, code) DO UPDATE SET
			name = excluded.name,
			default_amount = excluded.default_amount,
			applies_interest = excluded.applies_interest,
			applies_gst = excluded.applies_gst
	`, h.SocietyID, h.Code, h.Name, h.DefaultAmount.Value.String(), boolInt(h.AppliesInterest), boolInt(h.AppliesGST))
	if err != nil {
		return mapError(fmt.Errorf("failed to save heading: %w", err))
	}
	return nil
}

func (s *Store) SaveMember(ctx context.Context, m billing.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := getSociety(ctx, s.db, m.SocietyID); err != nil {
		return err
	}
	status := m.Status
	if status == "" {
		status = billing.MemberActive
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO members (id, society_id, name, unit_number, status)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			society_id = excluded.society_id,
			name = excluded.name,
			unit_number = excluded.unit_number,
			status = excluded.status
	`, m.ID, m.SocietyID, m.Name, nullString(m.UnitNumber), string(status))
	if err != nil {
		return mapError(fmt.Errorf("failed to save member: %w", err))
	}
	return nil
}

func (s *Store) GetMember(ctx context.Context, id billing.MemberID) (*billing.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var m billing.Member
	var unit sql.NullString
	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, society_id, name, unit_number, status FROM members WHERE id = ?
	`, id).Scan(&m.ID, &m.SocietyID, &m.Name, &unit, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	m.UnitNumber = unit.String
	m.Status = billing.MemberStatus(status)
	return &m, nil
}

// SaveMemberHeadingAmounts replaces every heading row of the member.
func (s *Store) SaveMemberHeadingAmounts(ctx context.Context, id billing.MemberID, rows []billing.MemberHeadingAmount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM members WHERE id = ?`, id).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check member: %w", err)
		}
		if exists == 0 {
			return generic.ErrNotFound
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM member_heading_amounts WHERE member_id = ?`, id); err != nil {
			return fmt.Errorf("failed to clear member headings: %w", err)
		}
		for _, r := range rows {
			r.MemberID = id
			if err := upsertMemberHeading(ctx, tx, r); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) GetRun(ctx context.Context, id billing.RunID) (*billing.BillingRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM billing_runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

func (s *Store) ListRuns(ctx context.Context, id billing.SocietyID) ([]billing.BillingRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+` FROM billing_runs WHERE society_id = ? ORDER BY bill_lot, created_at
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var result []billing.BillingRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		result = append(result, *run)
	}
	return result, rows.Err()
}

// LatestPublishedRun returns nil when the society has never been billed.
func (s *Store) LatestPublishedRun(ctx context.Context, id billing.SocietyID) (*billing.BillingRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return latestPublishedRun(ctx, s.db, id)
}

func (s *Store) ListBillsByRun(ctx context.Context, id billing.RunID) ([]billing.MemberBill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryBills(ctx, s.db, "run_id = ?", "bill_no", id)
}

func (s *Store) ListBillsByMember(ctx context.Context, id billing.MemberID) ([]billing.MemberBill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryBills(ctx, s.db, "member_id = ?", "bill_lot", id)
}

func (s *Store) GetReceipt(ctx context.Context, id billing.ReceiptID) (*billing.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, err := scanReceipt(s.db.QueryRowContext(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get receipt: %w", err)
	}
	return r, nil
}

func (s *Store) ListReceiptsByBill(ctx context.Context, id billing.BillID) ([]billing.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+receiptColumns+` FROM receipts WHERE bill_id = ? ORDER BY receipt_number
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list receipts: %w", err)
	}
	defer rows.Close()

	var result []billing.Receipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan receipt: %w", err)
		}
		result = append(result, *r)
	}
	return result, rows.Err()
}
