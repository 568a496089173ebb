/*
handlers.go - HTTP API handlers for the loyalty wallet

PURPOSE:
  Exposes the wallet ledger, token lifecycle, and advisor via REST. Handles
  HTTP request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Customers:
    GET    /api/customers                    List customers (?active=true)
    POST   /api/customers                    Register customer + wallet
    GET    /api/customers/{id}               Customer details
    PUT    /api/customers/{id}               Edit contact fields
    DELETE /api/customers/{id}               Deactivate (soft delete)
    GET    /api/customers/{id}/wallet        Wallet snapshot
    GET    /api/customers/{id}/transactions  History, newest first (?limit=N)
    POST   /api/customers/{id}/deposits      Credit money
    POST   /api/customers/{id}/conversions   Lock money into litres

  Tokens:
    POST   /api/tokens                       Issue (debits litre balance)
    POST   /api/tokens/validate              Attendant PIN lookup (read-only)
    POST   /api/tokens/{id}/redeem           Consume, exactly once
    POST   /api/tokens/{id}/cancel           Cancel, restores litres

  Dashboard:
    GET    /api/metrics                      Aggregates
    GET    /api/recommendation               Advisor suggestion
    GET    /api/promotions                   List campaigns (?active=true)
    POST   /api/promotions                   Create campaign

  Admin:
    POST   /api/admin/sweep                  Run the expiry sweep now

ERROR HANDLING:
  Domain errors map to status codes with stable machine codes in the body:
  - 400: malformed input (bad JSON, unparseable amount, unknown grade)
  - 404: customer/wallet/token not found
  - 409: lost the race (already consumed, expired) or duplicate tax id
  - 422: insufficient money or fuel balance
  - 500: everything else

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: request/response data structures
  - server.go: router setup and middleware
  - ledger: domain logic
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/fuelhub/loyalty-engine/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger  *ledger.Service
	Tokens  *ledger.TokenService
	Advisor *ledger.Advisor
	Store   ledger.Store
	Clock   ledger.Clock
}

// NewHandler creates a handler over the assembled services.
func NewHandler(svc *ledger.Service, tokens *ledger.TokenService, advisor *ledger.Advisor, store ledger.Store, clock ledger.Clock) *Handler {
	if clock == nil {
		clock = ledger.SystemClock{}
	}
	return &Handler{Ledger: svc, Tokens: tokens, Advisor: advisor, Store: store, Clock: clock}
}

// =============================================================================
// CUSTOMER HANDLERS
// =============================================================================

// ListCustomers returns customers, optionally active only.
func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"

	customers, err := h.Store.ListCustomers(r.Context(), activeOnly)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "Failed to list customers", err)
		return
	}

	dtos := make([]CustomerDTO, len(customers))
	for i := range customers {
		dtos[i] = toCustomerDTO(&customers[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RegisterCustomer creates a customer with a zeroed wallet.
func (h *Handler) RegisterCustomer(w http.ResponseWriter, r *http.Request) {
	var req RegisterCustomerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body", err)
		return
	}
	if req.Name == "" || req.TaxID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "name and tax_id are required", nil)
		return
	}

	c, err := h.Ledger.RegisterCustomer(r.Context(), req.Name, req.TaxID, req.Phone, ledger.SiteID(req.SiteID))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCustomerDTO(c))
}

// GetCustomer returns a single customer.
func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	id := ledger.CustomerID(chi.URLParam(r, "id"))

	c, err := h.Store.GetCustomer(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "Failed to get customer", err)
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "customer_not_found", "Customer not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toCustomerDTO(c))
}

// UpdateCustomer edits a customer's contact fields. The tax id cannot change.
func (h *Handler) UpdateCustomer(w http.ResponseWriter, r *http.Request) {
	id := ledger.CustomerID(chi.URLParam(r, "id"))

	var req UpdateCustomerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "name is required", nil)
		return
	}

	c, err := h.Ledger.UpdateCustomer(r.Context(), id, req.Name, req.Phone)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCustomerDTO(c))
}

// DeactivateCustomer soft-deletes a customer. History stays intact.
func (h *Handler) DeactivateCustomer(w http.ResponseWriter, r *http.Request) {
	id := ledger.CustomerID(chi.URLParam(r, "id"))

	if err := h.Ledger.DeactivateCustomer(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// WALLET & LEDGER HANDLERS
// =============================================================================

// GetWallet returns the customer's wallet snapshot.
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	id := ledger.CustomerID(chi.URLParam(r, "id"))

	wallet, err := h.Ledger.Wallet(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWalletDTO(wallet))
}

// GetTransactions returns the customer's history, newest first.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	id := ledger.CustomerID(chi.URLParam(r, "id"))

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "bad_request", "limit must be a non-negative integer", err)
			return
		}
		limit = n
	}

	txs, err := h.Ledger.Transactions(r.Context(), id, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Deposit credits money to the wallet.
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	id := ledger.CustomerID(chi.URLParam(r, "id"))

	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body", err)
		return
	}

	amount, ok := parseDecimal(w, "amount", req.Amount)
	if !ok {
		return
	}

	tx, err := h.Ledger.Deposit(r.Context(), id, amount, ledger.SiteID(req.SiteID), req.Metadata)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(*tx))
}

// Convert locks money into litres of one grade at the current price.
func (h *Handler) Convert(w http.ResponseWriter, r *http.Request) {
	id := ledger.CustomerID(chi.URLParam(r, "id"))

	var req ConvertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body", err)
		return
	}

	grade, err := ledger.ParseGrade(req.Grade)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	amount, ok := parseDecimal(w, "amount", req.Amount)
	if !ok {
		return
	}
	unitPrice, ok := parseDecimal(w, "unit_price", req.UnitPrice)
	if !ok {
		return
	}

	tx, err := h.Ledger.Convert(r.Context(), id, grade, amount, unitPrice, ledger.SiteID(req.SiteID))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(*tx))
}

// =============================================================================
// TOKEN HANDLERS
// =============================================================================

// IssueToken issues a redemption token, debiting the litre balance. The PIN
// appears only in this response.
func (h *Handler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req IssueTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body", err)
		return
	}

	grade, err := ledger.ParseGrade(req.Grade)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	litres, ok := parseDecimal(w, "litres", req.Litres)
	if !ok {
		return
	}

	token, err := h.Tokens.Issue(r.Context(), ledger.CustomerID(req.CustomerID),
		ledger.SiteID(req.SiteID), grade, litres)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTokenDTO(token, true))
}

// ValidateToken is the attendant's read-only PIN lookup.
func (h *Handler) ValidateToken(w http.ResponseWriter, r *http.Request) {
	var req ValidateTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body", err)
		return
	}
	if req.PIN == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "pin is required", nil)
		return
	}

	token, err := h.Tokens.Validate(r.Context(), req.PIN, ledger.SiteID(req.SiteID))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTokenDTO(token, false))
}

// RedeemToken consumes a token. Of concurrent attempts exactly one succeeds;
// the rest get a 409 naming the reason.
func (h *Handler) RedeemToken(w http.ResponseWriter, r *http.Request) {
	id := ledger.TokenID(chi.URLParam(r, "id"))

	var req RedeemTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body", err)
		return
	}
	if req.AttendantID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "attendant_id is required", nil)
		return
	}
	if req.SiteID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "site_id is required", nil)
		return
	}

	token, err := h.Tokens.Redeem(r.Context(), id, ledger.SiteID(req.SiteID), ledger.AttendantID(req.AttendantID))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTokenDTO(token, false))
}

// CancelToken cancels a pending token and restores its litres.
func (h *Handler) CancelToken(w http.ResponseWriter, r *http.Request) {
	id := ledger.TokenID(chi.URLParam(r, "id"))

	token, err := h.Tokens.Cancel(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTokenDTO(token, false))
}

// =============================================================================
// DASHBOARD HANDLERS
// =============================================================================

// GetMetrics returns the dashboard aggregates.
func (h *Handler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := h.Ledger.Metrics(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "Failed to compute metrics", err)
		return
	}

	byGrade := make(map[string]string, len(ledger.Grades()))
	for _, g := range ledger.Grades() {
		byGrade[string(g)] = m.Totals.Litres[g].StringFixed(ledger.LitresScale)
	}

	writeJSON(w, http.StatusOK, MetricsDTO{
		ActiveCustomers:   m.ActiveCustomers,
		TotalMoney:        m.Totals.Money.StringFixed(ledger.MoneyScale),
		TotalLitres:       m.Totals.TotalLitres().StringFixed(ledger.LitresScale),
		LitresByGrade:     byGrade,
		TransactionsToday: m.TransactionsToday,
	})
}

// GetRecommendation returns the advisor's current suggestion. This endpoint
// never fails: a degraded advisor still answers.
func (h *Handler) GetRecommendation(w http.ResponseWriter, r *http.Request) {
	site := ledger.SiteID(r.URL.Query().Get("site_id"))
	advice := h.Advisor.Recommend(r.Context(), site)

	dto := AdviceDTO{Degraded: advice.Degraded}
	if rec := advice.Recommendation; rec != nil {
		dto.Recommendation = &RecommendationDTO{
			Title:            rec.Title,
			Message:          rec.Message,
			Kind:             string(rec.Kind),
			SuggestedMinimum: rec.SuggestedMinimum.StringFixed(ledger.MoneyScale),
			SuggestedBonus:   rec.SuggestedBonus.String(),
			Reason:           rec.Reason,
		}
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// PROMOTION HANDLERS
// =============================================================================

// ListPromotions returns campaigns for a site.
func (h *Handler) ListPromotions(w http.ResponseWriter, r *http.Request) {
	site := ledger.SiteID(r.URL.Query().Get("site_id"))
	activeOnly := r.URL.Query().Get("active") == "true"

	promos, err := h.Store.ListPromotions(r.Context(), site, activeOnly)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "Failed to list promotions", err)
		return
	}

	dtos := make([]PromotionDTO, len(promos))
	for i, p := range promos {
		dtos[i] = toPromotionDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreatePromotion stores a campaign, typically from an accepted advisor
// suggestion.
func (h *Handler) CreatePromotion(w http.ResponseWriter, r *http.Request) {
	var req CreatePromotionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body", err)
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "title is required", nil)
		return
	}

	kind := ledger.PromotionKind(req.Kind)
	switch kind {
	case ledger.PromoDepositBonus, ledger.PromoConversionBonus, ledger.PromoPriceLock:
	default:
		writeError(w, http.StatusBadRequest, "bad_request", "unknown promotion kind", nil)
		return
	}

	var grade ledger.FuelGrade
	if req.Grade != "" {
		g, err := ledger.ParseGrade(req.Grade)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		grade = g
	}

	minimum, ok := parseDecimal(w, "minimum_value", req.MinimumValue)
	if !ok {
		return
	}
	bonus, ok := parseDecimal(w, "bonus_percent", req.BonusPercent)
	if !ok {
		return
	}

	now := h.Clock.Now()
	p := ledger.Promotion{
		ID:           uuid.NewString(),
		Title:        req.Title,
		Description:  req.Description,
		Kind:         kind,
		MinimumValue: minimum,
		BonusPercent: bonus,
		Grade:        grade,
		StartsAt:     now,
		Active:       true,
		SiteID:       ledger.SiteID(req.SiteID),
		CreatedAt:    now,
	}
	if req.EndsAt != "" {
		endsAt, err := time.Parse(time.RFC3339, req.EndsAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "Invalid ends_at (use RFC3339)", err)
			return
		}
		p.EndsAt = &endsAt
	}

	if err := h.Store.SavePromotion(r.Context(), p); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "Failed to save promotion", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPromotionDTO(p))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// RunSweep runs the expired-token sweep immediately.
func (h *Handler) RunSweep(w http.ResponseWriter, r *http.Request) {
	swept, err := h.Tokens.Sweep(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "Sweep failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"swept": swept})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string, err error) {
	resp := ErrorResponse{Code: code, Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	if status >= http.StatusInternalServerError {
		zap.L().Error("request failed", zap.String("code", code), zap.Error(err))
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps ledger outcomes to HTTP statuses with stable codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrCustomerNotFound):
		writeError(w, http.StatusNotFound, "customer_not_found", "Customer not found", err)
	case errors.Is(err, ledger.ErrWalletNotFound):
		writeError(w, http.StatusNotFound, "wallet_not_found", "Wallet not found", err)
	case errors.Is(err, ledger.ErrTokenNotFound):
		writeError(w, http.StatusNotFound, "token_not_found", "Token not found", err)
	case errors.Is(err, ledger.ErrDuplicateTaxID):
		writeError(w, http.StatusConflict, "duplicate_tax_id", "Tax id already registered", err)
	case errors.Is(err, ledger.ErrTokenExpired):
		writeError(w, http.StatusConflict, "token_expired", "Token expired", err)
	case errors.Is(err, ledger.ErrTokenAlreadyConsumed):
		writeError(w, http.StatusConflict, "token_consumed", "Token already consumed", err)
	case errors.Is(err, ledger.ErrInsufficientFunds):
		writeError(w, http.StatusUnprocessableEntity, "insufficient_funds", "Insufficient money balance", err)
	case errors.Is(err, ledger.ErrInsufficientFuelBalance):
		writeError(w, http.StatusUnprocessableEntity, "insufficient_fuel", "Insufficient fuel balance", err)
	case errors.Is(err, ledger.ErrInvalidGrade):
		writeError(w, http.StatusBadRequest, "invalid_grade", "Unknown fuel grade", err)
	case errors.Is(err, ledger.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, "invalid_amount", "Invalid amount", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal", "Internal error", err)
	}
}

// parseDecimal parses a request amount field; on failure it writes a 400 and
// returns ok=false.
func parseDecimal(w http.ResponseWriter, field, value string) (decimal.Decimal, bool) {
	if value == "" {
		writeError(w, http.StatusBadRequest, "bad_request", field+" is required", nil)
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid "+field, err)
		return decimal.Zero, false
	}
	return d, true
}
