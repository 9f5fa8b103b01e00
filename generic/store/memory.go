// Package store provides an in-memory billing.Repository.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/society-billing/billing"
	"github.com/warp/society-billing/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps every record in maps guarded by one lock. Stored values are
// treated as immutable: updates replace them.
type Memory struct {
	mu sync.RWMutex
	s  *memState
}

type memState struct {
	societies      map[billing.SocietyID]billing.Society
	policies       map[billing.SocietyID][]billing.PolicyConfiguration
	headings       map[billing.SocietyID]map[string]billing.HeadingDefinition
	members        map[billing.MemberID]billing.Member
	memberHeadings map[billing.MemberID]map[string]billing.MemberHeadingAmount
	runs           map[billing.RunID]billing.BillingRun
	bills          map[billing.BillID]billing.MemberBill
	receipts       map[billing.ReceiptID]billing.Receipt
}

func newMemState() *memState {
	return &memState{
		societies:      make(map[billing.SocietyID]billing.Society),
		policies:       make(map[billing.SocietyID][]billing.PolicyConfiguration),
		headings:       make(map[billing.SocietyID]map[string]billing.HeadingDefinition),
		members:        make(map[billing.MemberID]billing.Member),
		memberHeadings: make(map[billing.MemberID]map[string]billing.MemberHeadingAmount),
		runs:           make(map[billing.RunID]billing.BillingRun),
		bills:          make(map[billing.BillID]billing.MemberBill),
		receipts:       make(map[billing.ReceiptID]billing.Receipt),
	}
}

func NewMemory() *Memory {
	return &Memory{s: newMemState()}
}

func (m *Memory) read() (*memState, func()) {
	m.mu.RLock()
	return m.s, m.mu.RUnlock
}

func (m *Memory) write() (*memState, func()) {
	m.mu.Lock()
	return m.s, m.mu.Unlock
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(billing.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.s.clone()
	if err := fn(&txMemoryView{s: m.s}); err != nil {
		m.s = snapshot
		return err
	}
	return nil
}

func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.societies {
		c.societies[k] = v
	}
	for k, v := range s.policies {
		c.policies[k] = append([]billing.PolicyConfiguration(nil), v...)
	}
	for k, v := range s.headings {
		inner := make(map[string]billing.HeadingDefinition, len(v))
		for code, h := range v {
			inner[code] = h
		}
		c.headings[k] = inner
	}
	for k, v := range s.members {
		c.members[k] = v
	}
	for k, v := range s.memberHeadings {
		inner := make(map[string]billing.MemberHeadingAmount, len(v))
		for code, h := range v {
			inner[code] = h
		}
		c.memberHeadings[k] = inner
	}
	for k, v := range s.runs {
		c.runs[k] = v
	}
	for k, v := range s.bills {
		c.bills[k] = v
	}
	for k, v := range s.receipts {
		c.receipts[k] = v
	}
	return c
}

// txMemoryView runs inside WithTx with the lock already held.
type txMemoryView struct {
	s *memState
}

func (tv *txMemoryView) GetSociety(_ context.Context, id billing.SocietyID) (*billing.Society, error) {
	return tv.s.getSociety(id)
}

func (tv *txMemoryView) GetPolicyConfiguration(_ context.Context, id billing.SocietyID, asOf generic.TimePoint) (*billing.PolicyConfiguration, error) {
	return tv.s.policyAsOf(id, asOf)
}

func (tv *txMemoryView) ListMembers(_ context.Context, id billing.SocietyID) ([]billing.Member, error) {
	return tv.s.listMembers(id), nil
}

func (tv *txMemoryView) ListHeadingDefinitions(_ context.Context, id billing.SocietyID) ([]billing.HeadingDefinition, error) {
	return tv.s.listHeadings(id), nil
}

func (tv *txMemoryView) ListMemberHeadingAmounts(_ context.Context, id billing.MemberID) ([]billing.MemberHeadingAmount, error) {
	return tv.s.listMemberHeadings(id), nil
}

func (tv *txMemoryView) GetPriorBill(_ context.Context, id billing.MemberID, beforeLot int) (*billing.MemberBill, error) {
	return tv.s.priorBill(id, beforeLot), nil
}

func (tv *txMemoryView) IsLotPublished(_ context.Context, id billing.SocietyID, lot int) (bool, error) {
	return tv.s.lotPublished(id, lot), nil
}

func (tv *txMemoryView) LatestPublishedRun(_ context.Context, id billing.SocietyID) (*billing.BillingRun, error) {
	return tv.s.latestPublished(id), nil
}

func (tv *txMemoryView) PersistBillingRun(_ context.Context, pub billing.Publication) error {
	return tv.s.persistRun(pub)
}

func (tv *txMemoryView) RecordFailedRun(_ context.Context, run billing.BillingRun) error {
	tv.s.runs[run.ID] = run
	return nil
}

func (tv *txMemoryView) GetMemberBill(_ context.Context, id billing.BillID) (*billing.MemberBill, error) {
	return tv.s.getBill(id)
}

func (tv *txMemoryView) PersistReceiptAndBillUpdate(_ context.Context, r billing.Receipt, b billing.MemberBill, expectedVersion int) error {
	return tv.s.persistReceipt(r, b, expectedVersion)
}

func (tv *txMemoryView) NextReceiptNumber(_ context.Context, id billing.SocietyID) (int, error) {
	return tv.s.nextReceiptNumber(id)
}

// =============================================================================
// STORE - Core reads and writes
// =============================================================================

func (m *Memory) GetSociety(_ context.Context, id billing.SocietyID) (*billing.Society, error) {
	s, done := m.read()
	defer done()
	return s.getSociety(id)
}

func (m *Memory) GetPolicyConfiguration(_ context.Context, id billing.SocietyID, asOf generic.TimePoint) (*billing.PolicyConfiguration, error) {
	s, done := m.read()
	defer done()
	return s.policyAsOf(id, asOf)
}

func (m *Memory) ListMembers(_ context.Context, id billing.SocietyID) ([]billing.Member, error) {
	s, done := m.read()
	defer done()
	return s.listMembers(id), nil
}

func (m *Memory) ListHeadingDefinitions(_ context.Context, id billing.SocietyID) ([]billing.HeadingDefinition, error) {
	s, done := m.read()
	defer done()
	return s.listHeadings(id), nil
}

func (m *Memory) ListMemberHeadingAmounts(_ context.Context, id billing.MemberID) ([]billing.MemberHeadingAmount, error) {
	s, done := m.read()
	defer done()
	return s.listMemberHeadings(id), nil
}

func (m *Memory) GetPriorBill(_ context.Context, id billing.MemberID, beforeLot int) (*billing.MemberBill, error) {
	s, done := m.read()
	defer done()
	return s.priorBill(id, beforeLot), nil
}

func (m *Memory) IsLotPublished(_ context.Context, id billing.SocietyID, lot int) (bool, error) {
	s, done := m.read()
	defer done()
	return s.lotPublished(id, lot), nil
}

// PersistBillingRun writes run, bills and promotions atomically.
func (m *Memory) PersistBillingRun(_ context.Context, pub billing.Publication) error {
	s, done := m.write()
	defer done()
	return s.persistRun(pub)
}

func (m *Memory) RecordFailedRun(_ context.Context, run billing.BillingRun) error {
	s, done := m.write()
	defer done()
	s.runs[run.ID] = run
	return nil
}

func (m *Memory) GetMemberBill(_ context.Context, id billing.BillID) (*billing.MemberBill, error) {
	s, done := m.read()
	defer done()
	return s.getBill(id)
}

func (m *Memory) PersistReceiptAndBillUpdate(_ context.Context, r billing.Receipt, b billing.MemberBill, expectedVersion int) error {
	s, done := m.write()
	defer done()
	return s.persistReceipt(r, b, expectedVersion)
}

func (m *Memory) NextReceiptNumber(_ context.Context, id billing.SocietyID) (int, error) {
	s, done := m.write()
	defer done()
	return s.nextReceiptNumber(id)
}

// =============================================================================
// REPOSITORY - Administrative CRUD
// =============================================================================

// SaveSociety inserts or updates a society. Counters never move backwards.
func (m *Memory) SaveSociety(_ context.Context, soc billing.Society) error {
	s, done := m.write()
	defer done()
	if existing, ok := s.societies[soc.ID]; ok {
		if existing.LastBillNumber > soc.LastBillNumber {
			soc.LastBillNumber = existing.LastBillNumber
		}
		if existing.LastReceiptNumber > soc.LastReceiptNumber {
			soc.LastReceiptNumber = existing.LastReceiptNumber
		}
	}
	s.societies[soc.ID] = soc
	return nil
}

// Reset clears all data.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s = newMemState()
	return nil
}

func (m *Memory) ListSocieties(_ context.Context) ([]billing.Society, error) {
	s, done := m.read()
	defer done()
	result := make([]billing.Society, 0, len(s.societies))
	for _, soc := range s.societies {
		result = append(result, soc)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) SavePolicyConfiguration(_ context.Context, p billing.PolicyConfiguration) error {
	s, done := m.write()
	defer done()
	if _, ok := s.societies[p.SocietyID]; !ok {
		return generic.ErrNotFound
	}
	versions := s.policies[p.SocietyID]
	for _, existing := range versions {
		if existing.Version == p.Version {
			return generic.ErrDuplicate
		}
	}
	versions = append(versions, p)
	sort.Slice(versions, func(i, j int) bool { return versions[i].Version < versions[j].Version })
	s.policies[p.SocietyID] = versions
	return nil
}

func (m *Memory) ListPolicyConfigurations(_ context.Context, id billing.SocietyID) ([]billing.PolicyConfiguration, error) {
	s, done := m.read()
	defer done()
	return append([]billing.PolicyConfiguration(nil), s.policies[id]...), nil
}

func (m *Memory) SaveHeadingDefinition(_ context.Context, h billing.HeadingDefinition) error {
	s, done := m.write()
	defer done()
	if _, ok := s.societies[h.SocietyID]; !ok {
		return generic.ErrNotFound
	}
	if s.headings[h.SocietyID] == nil {
		s.headings[h.SocietyID] = make(map[string]billing.HeadingDefinition)
	}
	s.headings[h.SocietyID][h.Code] = h
	return nil
}

func (m *Memory) SaveMember(_ context.Context, mem billing.Member) error {
	s, done := m.write()
	defer done()
	if _, ok := s.societies[mem.SocietyID]; !ok {
		return generic.ErrNotFound
	}
	s.members[mem.ID] = mem
	return nil
}

func (m *Memory) GetMember(_ context.Context, id billing.MemberID) (*billing.Member, error) {
	s, done := m.read()
	defer done()
	mem, ok := s.members[id]
	if !ok {
		return nil, generic.ErrNotFound
	}
	return &mem, nil
}

// SaveMemberHeadingAmounts replaces every heading row of the member.
func (m *Memory) SaveMemberHeadingAmounts(_ context.Context, id billing.MemberID, rows []billing.MemberHeadingAmount) error {
	s, done := m.write()
	defer done()
	if _, ok := s.members[id]; !ok {
		return generic.ErrNotFound
	}
	inner := make(map[string]billing.MemberHeadingAmount, len(rows))
	for _, r := range rows {
		r.MemberID = id
		inner[r.HeadingCode] = r
	}
	s.memberHeadings[id] = inner
	return nil
}

func (m *Memory) GetRun(_ context.Context, id billing.RunID) (*billing.BillingRun, error) {
	s, done := m.read()
	defer done()
	run, ok := s.runs[id]
	if !ok {
		return nil, generic.ErrNotFound
	}
	return &run, nil
}

func (m *Memory) ListRuns(_ context.Context, id billing.SocietyID) ([]billing.BillingRun, error) {
	s, done := m.read()
	defer done()
	var result []billing.BillingRun
	for _, run := range s.runs {
		if run.SocietyID == id {
			result = append(result, run)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].BillLot != result[j].BillLot {
			return result[i].BillLot < result[j].BillLot
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// LatestPublishedRun returns nil when the society has never been billed.
func (m *Memory) LatestPublishedRun(_ context.Context, id billing.SocietyID) (*billing.BillingRun, error) {
	s, done := m.read()
	defer done()
	return s.latestPublished(id), nil
}

func (m *Memory) ListBillsByRun(_ context.Context, id billing.RunID) ([]billing.MemberBill, error) {
	s, done := m.read()
	defer done()
	var result []billing.MemberBill
	for _, b := range s.bills {
		if b.RunID == id {
			result = append(result, b)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].BillNo < result[j].BillNo })
	return result, nil
}

func (m *Memory) ListBillsByMember(_ context.Context, id billing.MemberID) ([]billing.MemberBill, error) {
	s, done := m.read()
	defer done()
	var result []billing.MemberBill
	for _, b := range s.bills {
		if b.MemberID == id {
			result = append(result, b)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].BillLot < result[j].BillLot })
	return result, nil
}

func (m *Memory) GetReceipt(_ context.Context, id billing.ReceiptID) (*billing.Receipt, error) {
	s, done := m.read()
	defer done()
	r, ok := s.receipts[id]
	if !ok {
		return nil, generic.ErrNotFound
	}
	return &r, nil
}

func (m *Memory) ListReceiptsByBill(_ context.Context, id billing.BillID) ([]billing.Receipt, error) {
	s, done := m.read()
	defer done()
	var result []billing.Receipt
	for _, r := range s.receipts {
		if r.BillID == id {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ReceiptNumber < result[j].ReceiptNumber })
	return result, nil
}

// =============================================================================
// STATE OPERATIONS - Caller holds the lock
// =============================================================================

func (s *memState) getSociety(id billing.SocietyID) (*billing.Society, error) {
	soc, ok := s.societies[id]
	if !ok {
		return nil, generic.ErrNotFound
	}
	return &soc, nil
}

// policyAsOf returns the version with the latest EffectiveFrom on or before
// asOf; the higher version wins a tie.
func (s *memState) policyAsOf(id billing.SocietyID, asOf generic.TimePoint) (*billing.PolicyConfiguration, error) {
	var found *billing.PolicyConfiguration
	for _, p := range s.policies[id] {
		if p.EffectiveFrom.After(asOf) {
			continue
		}
		if found == nil || p.EffectiveFrom.After(found.EffectiveFrom) ||
			(p.EffectiveFrom.Equal(found.EffectiveFrom) && p.Version > found.Version) {
			c := p
			found = &c
		}
	}
	if found == nil {
		return nil, generic.ErrNotFound
	}
	return found, nil
}

func (s *memState) listMembers(id billing.SocietyID) []billing.Member {
	var result []billing.Member
	for _, mem := range s.members {
		if mem.SocietyID == id && mem.Status == billing.MemberActive {
			result = append(result, mem)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func (s *memState) listHeadings(id billing.SocietyID) []billing.HeadingDefinition {
	var result []billing.HeadingDefinition
	for _, h := range s.headings[id] {
		result = append(result, h)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Code < result[j].Code })
	return result
}

func (s *memState) listMemberHeadings(id billing.MemberID) []billing.MemberHeadingAmount {
	var result []billing.MemberHeadingAmount
	for _, h := range s.memberHeadings[id] {
		result = append(result, h)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].HeadingCode < result[j].HeadingCode })
	return result
}

func (s *memState) priorBill(id billing.MemberID, beforeLot int) *billing.MemberBill {
	var prior *billing.MemberBill
	for _, b := range s.bills {
		if b.MemberID != id || b.BillLot >= beforeLot {
			continue
		}
		if prior == nil || b.BillLot > prior.BillLot || (b.BillLot == prior.BillLot && b.BillNo > prior.BillNo) {
			c := b
			prior = &c
		}
	}
	return prior
}

func (s *memState) lotPublished(id billing.SocietyID, lot int) bool {
	for _, run := range s.runs {
		if run.SocietyID == id && run.BillLot == lot && run.Status == billing.RunPublished {
			return true
		}
	}
	return false
}

func (s *memState) latestPublished(id billing.SocietyID) *billing.BillingRun {
	var latest *billing.BillingRun
	for _, run := range s.runs {
		if run.SocietyID != id || run.Status != billing.RunPublished {
			continue
		}
		if latest == nil || run.BillLot > latest.BillLot {
			r := run
			latest = &r
		}
	}
	return latest
}

func (s *memState) persistRun(pub billing.Publication) error {
	run := pub.Run
	soc, ok := s.societies[run.SocietyID]
	if !ok {
		return generic.ErrNotFound
	}
	if s.lotPublished(run.SocietyID, run.BillLot) {
		return generic.ErrDuplicate
	}
	latestLot := 0
	if latest := s.latestPublished(run.SocietyID); latest != nil {
		latestLot = latest.BillLot
	}
	if latestLot > run.BillLot {
		return fmt.Errorf("lot %d follows published lot %d: %w", run.BillLot, latestLot, generic.ErrInvalidInput)
	}
	if latestLot != pub.PriorLot {
		return generic.ErrConcurrentModification
	}
	if pub.CounterBase != nil && soc.LastBillNumber != *pub.CounterBase {
		return generic.ErrConcurrentModification
	}
	issued := make(map[int]bool)
	for _, b := range s.bills {
		if b.SocietyID == run.SocietyID {
			issued[b.BillNo] = true
		}
	}
	for _, b := range pub.Bills {
		if _, exists := s.bills[b.ID]; exists {
			return generic.ErrDuplicate
		}
		if issued[b.BillNo] {
			return fmt.Errorf("bill number %d already issued: %w", b.BillNo, generic.ErrInvalidInput)
		}
		issued[b.BillNo] = true
	}

	s.runs[run.ID] = run
	for _, b := range pub.Bills {
		s.bills[b.ID] = b
		if b.BillNo > soc.LastBillNumber {
			soc.LastBillNumber = b.BillNo
		}
	}
	s.societies[soc.ID] = soc

	for _, p := range pub.Promotions {
		if s.memberHeadings[p.MemberID] == nil {
			s.memberHeadings[p.MemberID] = make(map[string]billing.MemberHeadingAmount)
		}
		s.memberHeadings[p.MemberID][p.HeadingCode] = p
	}
	return nil
}

func (s *memState) getBill(id billing.BillID) (*billing.MemberBill, error) {
	b, ok := s.bills[id]
	if !ok {
		return nil, generic.ErrNotFound
	}
	return &b, nil
}

func (s *memState) persistReceipt(r billing.Receipt, b billing.MemberBill, expectedVersion int) error {
	current, ok := s.bills[b.ID]
	if !ok {
		return generic.ErrNotFound
	}
	if current.Version != expectedVersion {
		return generic.ErrConcurrentModification
	}
	if _, exists := s.receipts[r.ID]; exists {
		return generic.ErrDuplicate
	}
	s.receipts[r.ID] = r
	s.bills[b.ID] = b
	return nil
}

func (s *memState) nextReceiptNumber(id billing.SocietyID) (int, error) {
	soc, ok := s.societies[id]
	if !ok {
		return 0, generic.ErrNotFound
	}
	soc.LastReceiptNumber++
	s.societies[id] = soc
	return soc.LastReceiptNumber, nil
}

var _ billing.Repository = (*Memory)(nil)
