/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

AMOUNT ENCODING:
  Money and litre amounts travel as JSON strings ("150.00", "27.523") and are
  parsed with shopspring/decimal. Floats would reintroduce the precision
  problems the domain exists to avoid.

VALIDATION:
  Structural validation (parseable decimal, known grade) happens in handlers;
  business validation (positive, in-scale, sufficient balance) belongs to the
  ledger services.

SEE ALSO:
  - handlers.go: uses these types
*/
package api

import (
	"time"

	"github.com/fuelhub/loyalty-engine/ledger"
)

// =============================================================================
// CUSTOMER TYPES
// =============================================================================

// CustomerDTO represents a customer in API responses.
type CustomerDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	TaxID     string `json:"tax_id"`
	Phone     string `json:"phone,omitempty"`
	Active    bool   `json:"active"`
	SiteID    string `json:"site_id,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// RegisterCustomerRequest is the request to register a customer.
type RegisterCustomerRequest struct {
	Name   string `json:"name"`
	TaxID  string `json:"tax_id"`
	Phone  string `json:"phone"`
	SiteID string `json:"site_id"`
}

// UpdateCustomerRequest edits the contact fields. The tax id is immutable.
type UpdateCustomerRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

func toCustomerDTO(c *ledger.Customer) CustomerDTO {
	return CustomerDTO{
		ID:        string(c.ID),
		Name:      c.Name,
		TaxID:     c.TaxID,
		Phone:     c.Phone,
		Active:    c.Active,
		SiteID:    string(c.SiteID),
		CreatedAt: c.CreatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// WALLET TYPES
// =============================================================================

// WalletDTO represents a wallet snapshot in API responses.
type WalletDTO struct {
	CustomerID  string            `json:"customer_id"`
	Money       string            `json:"money"`
	Fuel        map[string]string `json:"fuel"` // grade code -> litres
	LastUpdated string            `json:"last_updated,omitempty"`
}

func toWalletDTO(w *ledger.Wallet) WalletDTO {
	fuel := make(map[string]string, len(ledger.Grades()))
	for _, g := range ledger.Grades() {
		fuel[string(g)] = w.FuelBalance(g).StringFixed(ledger.LitresScale)
	}
	dto := WalletDTO{
		CustomerID: string(w.CustomerID),
		Money:      w.Money.StringFixed(ledger.MoneyScale),
		Fuel:       fuel,
	}
	if !w.LastUpdated.IsZero() {
		dto.LastUpdated = w.LastUpdated.Format(time.RFC3339)
	}
	return dto
}

// =============================================================================
// TRANSACTION TYPES
// =============================================================================

// DepositRequest is the request to credit a wallet.
type DepositRequest struct {
	Amount   string            `json:"amount"`
	SiteID   string            `json:"site_id"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ConvertRequest is the request to lock money into litres of one grade.
type ConvertRequest struct {
	Grade     string `json:"grade"`
	Amount    string `json:"amount"`
	UnitPrice string `json:"unit_price"`
	SiteID    string `json:"site_id"`
}

// TransactionDTO represents one ledger entry in API responses.
type TransactionDTO struct {
	ID          string            `json:"id"`
	CustomerID  string            `json:"customer_id"`
	Kind        string            `json:"kind"`
	Status      string            `json:"status"`
	MoneyDelta  string            `json:"money_delta"`
	Grade       string            `json:"grade,omitempty"`
	LitresDelta string            `json:"litres_delta,omitempty"`
	UnitPrice   string            `json:"unit_price,omitempty"`
	SiteID      string            `json:"site_id,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   string            `json:"created_at"`
}

func toTransactionDTO(tx ledger.Transaction) TransactionDTO {
	dto := TransactionDTO{
		ID:         string(tx.ID),
		CustomerID: string(tx.CustomerID),
		Kind:       string(tx.Kind),
		Status:     string(tx.Status),
		MoneyDelta: tx.MoneyDelta.StringFixed(ledger.MoneyScale),
		Grade:      string(tx.Grade),
		SiteID:     string(tx.SiteID),
		Metadata:   tx.Metadata,
		CreatedAt:  tx.CreatedAt.Format(time.RFC3339),
	}
	if !tx.LitresDelta.IsZero() {
		dto.LitresDelta = tx.LitresDelta.StringFixed(ledger.LitresScale)
	}
	if !tx.UnitPrice.IsZero() {
		dto.UnitPrice = tx.UnitPrice.String()
	}
	return dto
}

// =============================================================================
// TOKEN TYPES
// =============================================================================

// IssueTokenRequest is the request to issue a redemption token.
type IssueTokenRequest struct {
	CustomerID string `json:"customer_id"`
	Grade      string `json:"grade"`
	Litres     string `json:"litres"`
	SiteID     string `json:"site_id"`
}

// ValidateTokenRequest is the attendant's PIN lookup.
type ValidateTokenRequest struct {
	PIN    string `json:"pin"`
	SiteID string `json:"site_id"`
}

// RedeemTokenRequest is the attendant's confirmation.
type RedeemTokenRequest struct {
	AttendantID string `json:"attendant_id"`
	SiteID      string `json:"site_id"`
}

// TokenDTO represents a redemption token in API responses. The PIN is
// included only on issuance; validation and redemption responses echo the
// token without it.
type TokenDTO struct {
	ID         string `json:"id"`
	CustomerID string `json:"customer_id"`
	SiteID     string `json:"site_id,omitempty"`
	Grade      string `json:"grade"`
	Litres     string `json:"litres"`
	PIN        string `json:"pin,omitempty"`
	ExpiresAt  string `json:"expires_at"`
	Status     string `json:"status"`
	RedeemedBy string `json:"redeemed_by,omitempty"`
	RedeemedAt string `json:"redeemed_at,omitempty"`
	CreatedAt  string `json:"created_at"`
}

func toTokenDTO(t *ledger.Token, includePIN bool) TokenDTO {
	dto := TokenDTO{
		ID:         string(t.ID),
		CustomerID: string(t.CustomerID),
		SiteID:     string(t.SiteID),
		Grade:      string(t.Grade),
		Litres:     t.Litres.StringFixed(ledger.LitresScale),
		ExpiresAt:  t.ExpiresAt.Format(time.RFC3339Nano),
		Status:     string(t.Status),
		RedeemedBy: string(t.RedeemedBy),
		CreatedAt:  t.CreatedAt.Format(time.RFC3339Nano),
	}
	if includePIN {
		dto.PIN = t.PIN
	}
	if t.RedeemedAt != nil {
		dto.RedeemedAt = t.RedeemedAt.Format(time.RFC3339Nano)
	}
	return dto
}

// =============================================================================
// METRICS & ADVISOR TYPES
// =============================================================================

// MetricsDTO is the dashboard aggregate.
type MetricsDTO struct {
	ActiveCustomers   int               `json:"active_customers"`
	TotalMoney        string            `json:"total_money"`
	TotalLitres       string            `json:"total_litres"`
	LitresByGrade     map[string]string `json:"litres_by_grade"`
	TransactionsToday int               `json:"transactions_today"`
}

// RecommendationDTO is the advisor's suggested promotion.
type RecommendationDTO struct {
	Title            string `json:"title"`
	Message          string `json:"message"`
	Kind             string `json:"kind"`
	SuggestedMinimum string `json:"suggested_minimum"`
	SuggestedBonus   string `json:"suggested_bonus"`
	Reason           string `json:"reason"`
}

// AdviceDTO wraps the recommendation with its quality flag. A null
// recommendation with degraded=false means "nothing to suggest"; with
// degraded=true it means a data source failed.
type AdviceDTO struct {
	Recommendation *RecommendationDTO `json:"recommendation"`
	Degraded       bool               `json:"degraded"`
}

// =============================================================================
// PROMOTION TYPES
// =============================================================================

// CreatePromotionRequest creates a campaign, typically from an accepted
// advisor suggestion.
type CreatePromotionRequest struct {
	Title        string `json:"title"`
	Description  string `json:"description"`
	Kind         string `json:"kind"`
	MinimumValue string `json:"minimum_value"`
	BonusPercent string `json:"bonus_percent"`
	Grade        string `json:"grade"`
	EndsAt       string `json:"ends_at"`
	SiteID       string `json:"site_id"`
}

// PromotionDTO represents a promotion in API responses.
type PromotionDTO struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Description  string `json:"description,omitempty"`
	Kind         string `json:"kind"`
	MinimumValue string `json:"minimum_value"`
	BonusPercent string `json:"bonus_percent"`
	Grade        string `json:"grade,omitempty"`
	StartsAt     string `json:"starts_at"`
	EndsAt       string `json:"ends_at,omitempty"`
	Active       bool   `json:"active"`
	SiteID       string `json:"site_id,omitempty"`
	CreatedAt    string `json:"created_at"`
}

func toPromotionDTO(p ledger.Promotion) PromotionDTO {
	dto := PromotionDTO{
		ID:           p.ID,
		Title:        p.Title,
		Description:  p.Description,
		Kind:         string(p.Kind),
		MinimumValue: p.MinimumValue.StringFixed(ledger.MoneyScale),
		BonusPercent: p.BonusPercent.String(),
		Grade:        string(p.Grade),
		StartsAt:     p.StartsAt.Format(time.RFC3339),
		Active:       p.Active,
		SiteID:       string(p.SiteID),
		CreatedAt:    p.CreatedAt.Format(time.RFC3339),
	}
	if p.EndsAt != nil {
		dto.EndsAt = p.EndsAt.Format(time.RFC3339)
	}
	return dto
}

// =============================================================================
// ERROR TYPE
// =============================================================================

// ErrorResponse is the uniform error envelope. Code is a stable machine
// string; Error is human-readable.
type ErrorResponse struct {
	Code    string `json:"code"`
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
