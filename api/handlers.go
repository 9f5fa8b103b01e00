/*
handlers.go - HTTP API handlers for the society billing engine

PURPOSE:
  Exposes master data, bill generation and receipt allocation via REST.
  Handlers decode and validate the request, call billing/, and map the
  result onto a status code. No billing rule lives here.

ENDPOINTS:
  Societies:
    POST   /api/societies                    Create (draft)
    GET    /api/societies/{id}               Get
    POST   /api/societies/{id}/transition    Onboarding state change
    PUT    /api/societies/{id}/policy        New policy version
    GET    /api/societies/{id}/policy        Version in force + history
    POST   /api/societies/{id}/headings      Define heading
    GET    /api/societies/{id}/headings      List headings
    POST   /api/societies/{id}/members       Register member
    GET    /api/societies/{id}/members       List active members
    POST   /api/societies/{id}/runs          Generate + publish a lot
    GET    /api/societies/{id}/runs          List runs (failed ones too)

  Members:
    PUT    /api/members/{id}/headings        Replace heading amounts
    GET    /api/members/{id}/headings
    GET    /api/members/{id}/bills

  Bills:
    GET    /api/runs/{id}/bills
    GET    /api/bills/{id}
    POST   /api/bills/{id}/receipts          Apply a receipt (Idempotency-Key)
    GET    /api/bills/{id}/receipts

ERROR HANDLING:
  generic.Classify decides the outcome; statusFor picks the code:
  - 400: malformed request, field validation
  - 404: unknown society, member, run, bill
  - 409: duplicate lot, duplicate record, refused state transition
  - 422: policy configuration or member data rejected by the rules
  - 503: concurrent modification; safe to retry
  - 500: anything else

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - scenarios.go: Demo data
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/society-billing/billing"
	"github.com/warp/society-billing/factory"
	"github.com/warp/society-billing/generic"
	"github.com/warp/society-billing/idempotency"
	"github.com/warp/society-billing/logger"
)

// IdempotencyKeyHeader is the HTTP header for idempotency keys.
const IdempotencyKeyHeader = "Idempotency-Key"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is the persistence the web layer needs: the billing repository plus
// a reset for demo reloads.
type Store interface {
	billing.Repository
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store          Store
	PolicyFactory  *factory.PolicyFactory
	Generator      *billing.Generator
	Allocator      *billing.Allocator
	Idempotency    idempotency.Store
	IdempotencyTTL time.Duration
	Logger         *zap.Logger

	// Now is the clock for "today" (policy as_of, scenario data).
	Now func() time.Time

	// mu serializes society read-modify-write (state transitions).
	mu sync.Mutex

	// Track currently loaded scenario
	currentScenario string
}

// NewHandler creates a handler with in-memory idempotency.
func NewHandler(store Store, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		Store:          store,
		PolicyFactory:  factory.NewPolicyFactory(),
		Generator:      billing.NewGenerator(store, log.Named("generator")),
		Allocator:      billing.NewAllocator(store, log.Named("allocator")),
		Idempotency:    idempotency.NewMemory(0),
		IdempotencyTTL: idempotency.DefaultTTL,
		Logger:         log,
		Now:            time.Now,
	}
}

func (h *Handler) today() generic.TimePoint {
	if h.Now == nil {
		return generic.Today()
	}
	return generic.FromTime(h.Now())
}

// =============================================================================
// SOCIETY HANDLERS
// =============================================================================

// CreateSociety registers a society in draft.
func (h *Handler) CreateSociety(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req CreateSocietyRequest
	if err := decode(r, &req); err != nil {
		writeFailure(w, r, err)
		return
	}

	id := billing.SocietyID(req.ID)
	if id == "" {
		id = billing.SocietyID(uuid.NewString())
	}
	if _, err := h.Store.GetSociety(ctx, id); err == nil {
		writeFailure(w, r, fmt.Errorf("society %s already exists: %w", id, generic.ErrDuplicate))
		return
	} else if !generic.IsNotFound(err) {
		writeFailure(w, r, err)
		return
	}

	soc := billing.Society{
		ID:                 id,
		Name:               req.Name,
		RegistrationNumber: req.RegistrationNumber,
		State:              billing.StateDraft,
		AutoBilling:        req.AutoBilling,
		CreatedAt:          h.Now().UTC(),
	}
	if err := h.Store.SaveSociety(ctx, soc); err != nil {
		writeFailure(w, r, err)
		return
	}
	logger.FromContext(ctx).Info("society created", zap.String("society_id", string(id)))
	writeJSON(w, http.StatusCreated, soc)
}

// GetSociety returns a single society.
func (h *Handler) GetSociety(w http.ResponseWriter, r *http.Request) {
	soc, err := h.Store.GetSociety(r.Context(), billing.SocietyID(chi.URLParam(r, "id")))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, soc)
}

// TransitionSociety moves a society through onboarding.
func (h *Handler) TransitionSociety(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := billing.SocietyID(chi.URLParam(r, "id"))
	var req TransitionRequest
	if err := decode(r, &req); err != nil {
		writeFailure(w, r, err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	soc, err := h.Store.GetSociety(ctx, id)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	readiness, err := h.readiness(ctx, id)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	from := soc.State
	if err := soc.Transition(billing.OnboardingState(req.To), readiness); err != nil {
		writeFailure(w, r, err)
		return
	}
	if err := h.Store.SaveSociety(ctx, *soc); err != nil {
		writeFailure(w, r, err)
		return
	}
	logger.FromContext(ctx).Info("society transitioned",
		zap.String("society_id", string(id)),
		zap.String("from", string(from)),
		zap.String("to", string(soc.State)),
	)
	writeJSON(w, http.StatusOK, soc)
}

func (h *Handler) readiness(ctx context.Context, id billing.SocietyID) (billing.Readiness, error) {
	policies, err := h.Store.ListPolicyConfigurations(ctx, id)
	if err != nil {
		return billing.Readiness{}, err
	}
	headings, err := h.Store.ListHeadingDefinitions(ctx, id)
	if err != nil {
		return billing.Readiness{}, err
	}
	return billing.Readiness{HasPolicy: len(policies) > 0, HeadingCount: len(headings)}, nil
}

// =============================================================================
// POLICY HANDLERS
// =============================================================================

// PutPolicy stores a new policy version. Version 0 in the document means
// "next version".
func (h *Handler) PutPolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := billing.SocietyID(chi.URLParam(r, "id"))
	if _, err := h.Store.GetSociety(ctx, id); err != nil {
		writeFailure(w, r, err)
		return
	}

	var doc factory.PolicyDocument
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeFailure(w, r, fmt.Errorf("invalid JSON: %v: %w", err, generic.ErrInvalidInput))
		return
	}
	if doc.Version == 0 {
		existing, err := h.Store.ListPolicyConfigurations(ctx, id)
		if err != nil {
			writeFailure(w, r, err)
			return
		}
		doc.Version = 1
		for _, p := range existing {
			if p.Version >= doc.Version {
				doc.Version = p.Version + 1
			}
		}
	}

	policy, err := h.PolicyFactory.FromDocument(id, doc)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	if err := h.Store.SavePolicyConfiguration(ctx, *policy); err != nil {
		writeFailure(w, r, err)
		return
	}
	logger.FromContext(ctx).Info("policy version saved",
		zap.String("society_id", string(id)),
		zap.Int("version", policy.Version),
		zap.Stringer("effective_from", policy.EffectiveFrom),
	)
	writeJSON(w, http.StatusCreated, h.toPolicyDTO(*policy))
}

// GetPolicy returns the version in force on ?as_of= (default today) and
// every stored version.
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := billing.SocietyID(chi.URLParam(r, "id"))
	if _, err := h.Store.GetSociety(ctx, id); err != nil {
		writeFailure(w, r, err)
		return
	}

	asOf := h.today()
	if s := r.URL.Query().Get("as_of"); s != "" {
		d, err := generic.ParseDate(s)
		if err != nil {
			writeFailure(w, r, fmt.Errorf("as_of: %v: %w", err, generic.ErrInvalidInput))
			return
		}
		asOf = d
	}

	resp := PolicyListDTO{AsOf: asOf, Versions: []PolicyDTO{}}
	inForce, err := h.Store.GetPolicyConfiguration(ctx, id, asOf)
	switch {
	case err == nil:
		dto := h.toPolicyDTO(*inForce)
		resp.InForce = &dto
	case !generic.IsNotFound(err):
		writeFailure(w, r, err)
		return
	}

	versions, err := h.Store.ListPolicyConfigurations(ctx, id)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	for _, p := range versions {
		resp.Versions = append(resp.Versions, h.toPolicyDTO(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) toPolicyDTO(p billing.PolicyConfiguration) PolicyDTO {
	return PolicyDTO{SocietyID: string(p.SocietyID), Version: p.Version, Config: h.PolicyFactory.ToDocument(p)}
}

// =============================================================================
// HEADING AND MEMBER HANDLERS
// =============================================================================

// CreateHeading defines (or redefines) a heading.
func (h *Handler) CreateHeading(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := billing.SocietyID(chi.URLParam(r, "id"))
	var req HeadingRequest
	if err := decode(r, &req); err != nil {
		writeFailure(w, r, err)
		return
	}
	amount, err := nonNegative("default_amount", req.DefaultAmount)
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	heading := billing.HeadingDefinition{
		SocietyID:       id,
		Code:            strings.ToUpper(req.Code),
		Name:            req.Name,
		DefaultAmount:   amount,
		AppliesInterest: req.AppliesInterest,
		AppliesGST:      req.AppliesGST,
	}
	if err := h.Store.SaveHeadingDefinition(ctx, heading); err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, heading)
}

// ListHeadings returns a society's headings.
func (h *Handler) ListHeadings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := billing.SocietyID(chi.URLParam(r, "id"))
	if _, err := h.Store.GetSociety(ctx, id); err != nil {
		writeFailure(w, r, err)
		return
	}
	headings, err := h.Store.ListHeadingDefinitions(ctx, id)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(headings))
}

// CreateMember registers a member and seeds one row per heading at the
// heading's default amount.
func (h *Handler) CreateMember(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	societyID := billing.SocietyID(chi.URLParam(r, "id"))
	var req CreateMemberRequest
	if err := decode(r, &req); err != nil {
		writeFailure(w, r, err)
		return
	}

	member := billing.Member{
		ID:         billing.MemberID(req.ID),
		SocietyID:  societyID,
		Name:       req.Name,
		UnitNumber: req.UnitNumber,
		Status:     billing.MemberStatus(req.Status),
	}
	if member.ID == "" {
		member.ID = billing.MemberID(uuid.NewString())
	}
	if member.Status == "" {
		member.Status = billing.MemberActive
	}
	if _, err := h.Store.GetMember(ctx, member.ID); err == nil {
		writeFailure(w, r, fmt.Errorf("member %s already exists: %w", member.ID, generic.ErrDuplicate))
		return
	}

	if err := h.Store.SaveMember(ctx, member); err != nil {
		writeFailure(w, r, err)
		return
	}
	headings, err := h.Store.ListHeadingDefinitions(ctx, societyID)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	rows := make([]billing.MemberHeadingAmount, 0, len(headings))
	for _, hd := range headings {
		rows = append(rows, billing.MemberHeadingAmount{MemberID: member.ID, HeadingCode: hd.Code, CurrentAmount: hd.DefaultAmount})
	}
	if err := h.Store.SaveMemberHeadingAmounts(ctx, member.ID, rows); err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, member)
}

// ListMembers returns a society's active members.
func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := billing.SocietyID(chi.URLParam(r, "id"))
	if _, err := h.Store.GetSociety(ctx, id); err != nil {
		writeFailure(w, r, err)
		return
	}
	members, err := h.Store.ListMembers(ctx, id)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(members))
}

// PutMemberHeadings replaces every heading row of a member.
func (h *Handler) PutMemberHeadings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := billing.MemberID(chi.URLParam(r, "id"))
	member, err := h.Store.GetMember(ctx, id)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	var req MemberHeadingsRequest
	if err := decode(r, &req); err != nil {
		writeFailure(w, r, err)
		return
	}

	defs, err := h.Store.ListHeadingDefinitions(ctx, member.SocietyID)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	known := make(map[string]bool, len(defs))
	for _, d := range defs {
		known[d.Code] = true
	}

	details := map[string]string{}
	seen := map[string]bool{}
	rows := make([]billing.MemberHeadingAmount, 0, len(req.Headings))
	for i, row := range req.Headings {
		field := fmt.Sprintf("headings[%d]", i)
		code := strings.ToUpper(row.HeadingCode)
		switch {
		case !known[code]:
			details[field+".heading_code"] = "Unknown heading " + row.HeadingCode
			continue
		case seen[code]:
			details[field+".heading_code"] = "Duplicate heading " + row.HeadingCode
			continue
		}
		seen[code] = true

		current, err := nonNegative(field+".current_amount", row.CurrentAmount)
		if err != nil {
			details[field+".current_amount"] = "Must not be negative"
			continue
		}
		mh := billing.MemberHeadingAmount{MemberID: id, HeadingCode: code, CurrentAmount: current}
		if row.NextAmount != "" {
			next, err := nonNegative(field+".next_amount", row.NextAmount)
			if err != nil {
				details[field+".next_amount"] = "Must not be negative"
				continue
			}
			mh.NextAmount = &next
		}
		rows = append(rows, mh)
	}
	if len(details) > 0 {
		fields := make([]factory.FieldError, 0, len(details))
		for f, m := range details {
			fields = append(fields, factory.FieldError{Field: f, Message: m})
		}
		writeFailure(w, r, &factory.ValidationError{Fields: fields})
		return
	}

	if err := h.Store.SaveMemberHeadingAmounts(ctx, id, rows); err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// GetMemberHeadings returns a member's heading rows.
func (h *Handler) GetMemberHeadings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := billing.MemberID(chi.URLParam(r, "id"))
	if _, err := h.Store.GetMember(ctx, id); err != nil {
		writeFailure(w, r, err)
		return
	}
	rows, err := h.Store.ListMemberHeadingAmounts(ctx, id)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(rows))
}

// GetMemberBills returns a member's bills, oldest lot first.
func (h *Handler) GetMemberBills(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := billing.MemberID(chi.URLParam(r, "id"))
	if _, err := h.Store.GetMember(ctx, id); err != nil {
		writeFailure(w, r, err)
		return
	}
	bills, err := h.Store.ListBillsByMember(ctx, id)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(bills))
}

// =============================================================================
// BILLING RUN HANDLERS
// =============================================================================

// CreateRun generates and publishes a lot.
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	societyID := billing.SocietyID(chi.URLParam(r, "id"))
	var req GenerateRunRequest
	if err := decode(r, &req); err != nil {
		writeFailure(w, r, err)
		return
	}

	genReq := billing.GenerateRequest{
		SocietyID:          societyID,
		BillLot:            req.BillLot,
		BillDate:           mustDate(req.BillDate),
		PeriodFrom:         mustDate(req.PeriodFrom),
		PeriodTo:           mustDate(req.PeriodTo),
		StartingBillNumber: req.StartingBillNumber,
	}
	if len(req.ManualRebates) > 0 {
		genReq.ManualRebates = make(map[billing.MemberID]generic.Money, len(req.ManualRebates))
		for member, amount := range req.ManualRebates {
			m, err := nonNegative("manual_rebates."+member, amount)
			if err != nil {
				writeFailure(w, r, err)
				return
			}
			genReq.ManualRebates[billing.MemberID(member)] = m
		}
	}
	if genReq.BillLot == 0 {
		latest, err := h.Store.LatestPublishedRun(ctx, societyID)
		if err != nil {
			writeFailure(w, r, err)
			return
		}
		genReq.BillLot = 1
		if latest != nil {
			genReq.BillLot = latest.BillLot + 1
		}
	}

	result, err := h.Generator.Generate(logger.WithSociety(ctx, string(societyID)), genReq)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// ListRuns returns every run of a society, failed runs included.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := billing.SocietyID(chi.URLParam(r, "id"))
	if _, err := h.Store.GetSociety(ctx, id); err != nil {
		writeFailure(w, r, err)
		return
	}
	runs, err := h.Store.ListRuns(ctx, id)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(runs))
}

// GetRunBills returns the bills of one run in bill-number order.
func (h *Handler) GetRunBills(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := billing.RunID(chi.URLParam(r, "id"))
	if _, err := h.Store.GetRun(ctx, id); err != nil {
		writeFailure(w, r, err)
		return
	}
	bills, err := h.Store.ListBillsByRun(ctx, id)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(bills))
}

// GetBill returns a single bill.
func (h *Handler) GetBill(w http.ResponseWriter, r *http.Request) {
	bill, err := h.Store.GetMemberBill(r.Context(), billing.BillID(chi.URLParam(r, "id")))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bill)
}

// =============================================================================
// RECEIPT HANDLERS
// =============================================================================

// CreateReceipt applies a payment to a bill. With an Idempotency-Key, a
// repeated submission returns the original receipt instead of paying twice.
func (h *Handler) CreateReceipt(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	billID := billing.BillID(chi.URLParam(r, "id"))
	var req CreateReceiptRequest
	if err := decode(r, &req); err != nil {
		writeFailure(w, r, err)
		return
	}

	amount, err := nonNegative("amount", req.Amount)
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	key := r.Header.Get(IdempotencyKeyHeader)
	scoped := idempotency.ScopedKey(string(billID), key)
	if key != "" && h.Idempotency != nil {
		reserved, err := h.Idempotency.Reserve(ctx, scoped, h.IdempotencyTTL)
		if err != nil {
			writeFailure(w, r, err)
			return
		}
		if !reserved {
			h.replayReceipt(w, r, scoped)
			return
		}
	}

	result, err := h.Allocator.Apply(ctx, billing.ReceiptRequest{
		BillID:      billID,
		ReceiptDate: mustDate(req.ReceiptDate),
		Amount:      amount,
		Mode:        billing.PaymentMode(req.Mode),
		Reference:   req.Reference,
	})
	if err != nil {
		if key != "" && h.Idempotency != nil {
			if relErr := h.Idempotency.Release(ctx, scoped); relErr != nil {
				logger.FromContext(ctx).Warn("failed to release idempotency key", zap.Error(relErr))
			}
		}
		writeFailure(w, r, err)
		return
	}
	if key != "" && h.Idempotency != nil {
		if err := h.Idempotency.Complete(ctx, scoped, string(result.Receipt.ID), h.IdempotencyTTL); err != nil {
			logger.FromContext(ctx).Warn("failed to complete idempotency key", zap.Error(err))
		}
	}
	writeJSON(w, http.StatusCreated, ReceiptResponse{AllocationResult: *result})
}

func (h *Handler) replayReceipt(w http.ResponseWriter, r *http.Request, scoped string) {
	ctx := r.Context()
	value, found, err := h.Idempotency.Lookup(ctx, scoped)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	if !found || value == "" {
		writeFailure(w, r, fmt.Errorf("%w: %w", idempotency.ErrInProgress, generic.ErrConcurrentModification))
		return
	}

	receipt, err := h.Store.GetReceipt(ctx, billing.ReceiptID(value))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	bill, err := h.Store.GetMemberBill(ctx, receipt.BillID)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	w.Header().Set("X-Idempotency-Replayed", "true")
	writeJSON(w, http.StatusOK, ReceiptResponse{
		AllocationResult: billing.AllocationResult{Receipt: *receipt, Bill: *bill},
		Replayed:         true,
	})
}

// ListReceipts returns the receipts of a bill in receipt-number order.
func (h *Handler) ListReceipts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := billing.BillID(chi.URLParam(r, "id"))
	if _, err := h.Store.GetMemberBill(ctx, id); err != nil {
		writeFailure(w, r, err)
		return
	}
	receipts, err := h.Store.ListReceiptsByBill(ctx, id)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(receipts))
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// statusFor maps an error onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, generic.ErrConcurrentModification):
		return http.StatusServiceUnavailable
	case errors.Is(err, generic.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, generic.ErrDuplicateLot),
		errors.Is(err, generic.ErrDuplicate),
		errors.Is(err, generic.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, generic.ErrConfiguration), errors.Is(err, generic.ErrMemberData):
		return http.StatusUnprocessableEntity
	case errors.Is(err, generic.ErrInvalidInput), errors.Is(err, generic.ErrInvalidPeriod):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeFailure writes err as an ErrorResponse.
func writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := ErrorResponse{Error: err.Error(), Outcome: generic.Classify(err)}

	var ve *factory.ValidationError
	if errors.As(err, &ve) {
		resp.Details = ve.Details()
	}

	log := logger.FromContext(r.Context())
	switch status {
	case http.StatusInternalServerError:
		log.Error("request failed", zap.Error(err))
		resp.Error = "internal error"
	case http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", "1")
		log.Warn("request conflicted", zap.Error(err))
	default:
		log.Debug("request rejected", zap.Error(err), zap.String("outcome", string(resp.Outcome)))
	}
	writeJSON(w, status, resp)
}

// decode reads a JSON body into dst and validates it.
func decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON: %v: %w", err, generic.ErrInvalidInput)
	}
	return factory.ValidateStruct(dst)
}

// mustDate parses a date already checked by the datetime validator.
func mustDate(s string) generic.TimePoint {
	d, _ := generic.ParseDate(s)
	return d
}

// nonNegative parses an amount already checked by the numeric validator.
func nonNegative(field, s string) (generic.Money, error) {
	m, err := generic.ParseMoney(s)
	if err != nil {
		return generic.Money{}, &factory.ValidationError{Fields: []factory.FieldError{{Field: field, Message: "Must be a number"}}}
	}
	if m.IsNegative() {
		return generic.Money{}, &factory.ValidationError{Fields: []factory.FieldError{{Field: field, Message: "Must not be negative"}}}
	}
	return m, nil
}

// nonNil keeps empty lists as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
