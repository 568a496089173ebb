/*
Package ledger implements the prepaid-fuel wallet and token-redemption ledger.

PURPOSE:
  Customers pre-pay money into a wallet, convert that money into locked
  litre balances of specific fuel grades at a point-in-time price, and later
  redeem those litres at a pump with a short-lived single-use PIN entered by
  a station attendant.

KEY CONCEPTS IN THIS FILE (types.go):
  - Customer:    identity owning exactly one Wallet
  - Wallet:      one money balance + five per-grade litre balances
  - Transaction: an immutable log entry recording every balance change
  - Token:       a time-boxed, single-use redemption credential
  - Promotion:   a campaign record, created from advisor suggestions

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal for all money and litre amounts
  2. Immutability: transactions are never edited, only reversed
  3. Guarded mutation: wallets and tokens change only through store-level
     conditional updates; no application-side read-then-write
  4. Closed enumeration: grades are validated once at the boundary

SEE ALSO:
  - ledger.go: deposit/convert operations and invariant enforcement
  - token.go: issuance, validation, redemption, expiry sweep
  - store.go: persistence contracts
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CustomerID string
type TransactionID string
type TokenID string
type AttendantID string

// SiteID scopes tokens and transactions to a station. Empty means unscoped
// (single-site deployment).
type SiteID string

// =============================================================================
// AMOUNT PRECISION
// =============================================================================

// Money is carried with at most 2 decimal places, litres with at most 3.
// Inputs violating these scales are rejected at the boundary so that balances
// stay exactly representable in the store's integer minor units.
const (
	MoneyScale  = 2
	LitresScale = 3
)

// ValidMoney reports whether d is representable at money precision.
func ValidMoney(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(MoneyScale))
}

// ValidLitres reports whether d is representable at litre precision.
func ValidLitres(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(LitresScale))
}

// =============================================================================
// CUSTOMER
// =============================================================================

// Customer owns exactly one wallet. Customers are deactivated on closure,
// never hard-deleted, so transaction history always resolves.
type Customer struct {
	ID        CustomerID
	Name      string
	TaxID     string // national tax id, unique
	Phone     string
	Active    bool
	SiteID    SiteID
	CreatedAt time.Time
}

// =============================================================================
// WALLET
// =============================================================================

// Wallet holds one money balance and one litre balance per fuel grade.
// Every field is always >= 0. The wallet is mutated exclusively through
// guarded conditional updates issued by the ledger; it is never written
// directly by callers.
type Wallet struct {
	CustomerID  CustomerID
	Money       decimal.Decimal
	Fuel        map[FuelGrade]decimal.Decimal
	LastUpdated time.Time
}

// FuelBalance returns the litre balance for a grade (zero if untouched).
func (w *Wallet) FuelBalance(g FuelGrade) decimal.Decimal {
	if w.Fuel == nil {
		return decimal.Zero
	}
	return w.Fuel[g]
}

// =============================================================================
// TRANSACTION - Immutable log entry
// =============================================================================

type TransactionKind string

const (
	TxDeposit  TransactionKind = "DEPOSIT"  // money in
	TxConvert  TransactionKind = "CONVERT"  // money -> litres at recorded price
	TxRedeem   TransactionKind = "REDEEM"   // locked litres consumed at the pump
	TxReversal TransactionKind = "REVERSAL" // restoration of locked litres
)

type TransactionStatus string

const (
	TxPending   TransactionStatus = "PENDING"
	TxComplete  TransactionStatus = "COMPLETE"
	TxCancelled TransactionStatus = "CANCELLED"
)

// Transaction records one balance-affecting event. Once written it is never
// mutated except the status transition PENDING -> COMPLETE or -> CANCELLED,
// and never deleted. Corrections are made via REVERSAL entries.
type Transaction struct {
	ID         TransactionID
	CustomerID CustomerID
	Kind       TransactionKind
	Status     TransactionStatus

	// MoneyDelta is signed: positive for deposits, negative for the money
	// side of a conversion. Zero for pure fuel movements.
	MoneyDelta decimal.Decimal

	// Grade and LitresDelta are set for CONVERT/REDEEM/REVERSAL entries.
	Grade       FuelGrade
	LitresDelta decimal.Decimal

	// UnitPrice is the per-litre price at conversion time (CONVERT only).
	UnitPrice decimal.Decimal

	SiteID    SiteID
	Metadata  map[string]string
	CreatedAt time.Time
}

// =============================================================================
// REDEMPTION TOKEN
// =============================================================================

type TokenStatus string

const (
	TokenPending   TokenStatus = "PENDING"
	TokenRedeemed  TokenStatus = "REDEEMED"
	TokenExpired   TokenStatus = "EXPIRED"
	TokenCancelled TokenStatus = "CANCELLED"
)

// Token is a time-boxed, single-use redemption credential. Issuing a token
// atomically debits the wallet's litre balance, so while PENDING the locked
// quantity lives only in the token row. A token leaves PENDING exactly once:
// REDEEMED (attendant), EXPIRED (sweep), or CANCELLED (operator) - the last
// two restore the locked litres via a REVERSAL transaction.
type Token struct {
	ID         TokenID
	CustomerID CustomerID
	SiteID     SiteID
	Grade      FuelGrade
	Litres     decimal.Decimal

	// PIN is a 6-digit numeric bearer secret from a cryptographically
	// strong source. Unique only within the active set per site.
	PIN string

	ExpiresAt time.Time
	Status    TokenStatus

	// Set only on redemption.
	RedeemedBy AttendantID
	RedeemedAt *time.Time

	CreatedAt time.Time
}

// =============================================================================
// PROMOTION
// =============================================================================

type PromotionKind string

const (
	PromoDepositBonus    PromotionKind = "BONUS_DEPOSIT"
	PromoConversionBonus PromotionKind = "BONUS_CONVERSION"
	PromoPriceLock       PromotionKind = "PRICE_LOCK"
)

// Promotion is a campaign record. Promotions carry no ledger invariants;
// they exist so advisor suggestions can be accepted into something durable.
type Promotion struct {
	ID           string
	Title        string
	Description  string
	Kind         PromotionKind
	MinimumValue decimal.Decimal
	BonusPercent decimal.Decimal
	Grade        FuelGrade // optional; empty = any grade
	StartsAt     time.Time
	EndsAt       *time.Time
	Active       bool
	SiteID       SiteID
	CreatedAt    time.Time
}

// =============================================================================
// AGGREGATES
// =============================================================================

// WalletTotals is the summed state across all wallets: the outstanding
// prepaid money plus the locked-litre liability the station owes per grade.
type WalletTotals struct {
	Money  decimal.Decimal
	Litres map[FuelGrade]decimal.Decimal
}

// TotalLitres sums the per-grade liability.
func (t WalletTotals) TotalLitres() decimal.Decimal {
	sum := decimal.Zero
	for _, g := range Grades() {
		sum = sum.Add(t.Litres[g])
	}
	return sum
}

// DashboardMetrics is the read-only aggregate consumed by the back-office
// dashboard and the recommendation advisor.
type DashboardMetrics struct {
	ActiveCustomers   int
	Totals            WalletTotals
	TransactionsToday int
}
