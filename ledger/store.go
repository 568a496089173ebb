/*
store.go - Persistence contracts for wallets, the transaction log, and tokens

PURPOSE:
  Defines the interface between the domain logic and the database. The two
  mutable shared resources - the wallet row and the token row - are only ever
  changed through GUARDED CONDITIONAL UPDATES: a single store round trip that
  applies the mutation iff a predicate on the current row holds, and reports
  whether it did. The precondition and the effect are inseparable; there is
  no application-side "read balance, compute, write balance".

WHY CONDITIONAL UPDATES?
  The ledger is hit by many concurrent request handlers with no external
  serialization point. Two convert calls that each read a sufficient balance
  before either write commits would both succeed and drive the balance
  negative; two redeem calls could both observe PENDING. Pushing the check
  into the store's own atomicity closes both races.

UNIT OF WORK:
  Each ledger operation (balance mutation + log append) runs inside WithTx so
  the pair becomes visible together or not at all.

IMPLEMENTATIONS:
  - store/sqlite: production store
  - ledger/store: in-memory store for tests and dev

SEE ALSO:
  - ledger.go, token.go: the services composing these primitives
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CUSTOMER STORE
// =============================================================================

type CustomerStore interface {
	// SaveCustomer inserts a customer. Fails with ErrDuplicateTaxID if the
	// tax id is taken.
	SaveCustomer(ctx context.Context, c Customer) error

	GetCustomer(ctx context.Context, id CustomerID) (*Customer, error)
	ListCustomers(ctx context.Context, activeOnly bool) ([]Customer, error)

	// UpdateCustomer rewrites the mutable contact fields (name, phone).
	// Returns false when the customer does not exist.
	UpdateCustomer(ctx context.Context, id CustomerID, name, phone string) (applied bool, err error)

	// DeactivateCustomer soft-deletes. Returns false if the customer does
	// not exist or is already inactive.
	DeactivateCustomer(ctx context.Context, id CustomerID) (bool, error)
}

// =============================================================================
// WALLET STORE - Guarded balance mutations
// =============================================================================

type WalletStore interface {
	// CreateWallet creates the zeroed wallet for a customer.
	CreateWallet(ctx context.Context, id CustomerID) error

	// GetWallet returns nil (no error) when the customer has no wallet.
	GetWallet(ctx context.Context, id CustomerID) (*Wallet, error)

	// AdjustMoney applies "balance_money += delta where balance_money + delta >= 0"
	// in one round trip and refreshes last_updated. Returns applied=false when
	// the predicate fails OR the wallet row is missing; callers distinguish the
	// two with GetWallet.
	AdjustMoney(ctx context.Context, id CustomerID, delta decimal.Decimal, at time.Time) (applied bool, err error)

	// AdjustFuel is AdjustMoney for one grade's litre balance.
	AdjustFuel(ctx context.Context, id CustomerID, grade FuelGrade, delta decimal.Decimal, at time.Time) (applied bool, err error)
}

// =============================================================================
// TRANSACTION LOG - Append-only
// =============================================================================

// TransactionLog is the immutable record of every balance-affecting event.
// No Update, no Delete. Corrections are made via REVERSAL entries.
type TransactionLog interface {
	AppendTransaction(ctx context.Context, tx Transaction) error

	// Transactions returns a customer's entries, newest first.
	// limit <= 0 means no limit.
	Transactions(ctx context.Context, id CustomerID, limit int) ([]Transaction, error)

	// CountTransactionsSince supports the dashboard's "today" counter.
	CountTransactionsSince(ctx context.Context, since time.Time) (int, error)
}

// =============================================================================
// TOKEN STORE - Guarded state transitions
// =============================================================================

type TokenStore interface {
	InsertToken(ctx context.Context, t Token) error

	// GetToken returns nil (no error) for an unknown id.
	GetToken(ctx context.Context, id TokenID) (*Token, error)

	// FindPendingToken is the side-effect-free validation lookup: matches only
	// status=PENDING, the given site, and expiry strictly after now.
	FindPendingToken(ctx context.Context, pin string, site SiteID, now time.Time) (*Token, error)

	// RedeemToken applies "status=REDEEMED, redeemed_by, redeemed_at where
	// status=PENDING and site_id=site and expires_at > now" in one round
	// trip. Exactly one concurrent caller observes applied=true. A token
	// issued at another site never matches.
	RedeemToken(ctx context.Context, id TokenID, site SiteID, by AttendantID, now time.Time) (applied bool, err error)

	// TransitionToken applies "status=to where status=from" in one round
	// trip. Used by the expiry sweep (PENDING->EXPIRED) and cancellation
	// (PENDING->CANCELLED); each token transitions at most once.
	TransitionToken(ctx context.Context, id TokenID, from, to TokenStatus) (applied bool, err error)

	// PendingTokensExpiredBy lists sweep candidates: PENDING tokens whose
	// expiry is at or before now.
	PendingTokensExpiredBy(ctx context.Context, now time.Time) ([]Token, error)
}

// =============================================================================
// PROMOTIONS & AGGREGATES
// =============================================================================

type PromotionStore interface {
	SavePromotion(ctx context.Context, p Promotion) error
	ListPromotions(ctx context.Context, site SiteID, activeOnly bool) ([]Promotion, error)
}

// MetricsStore provides the read-only aggregates for the dashboard and the
// recommendation advisor.
type MetricsStore interface {
	AggregateBalances(ctx context.Context) (WalletTotals, error)
	CountActiveCustomers(ctx context.Context) (int, error)
}

// =============================================================================
// STORE - Everything, plus the unit-of-work combinator
// =============================================================================

// Store is the full persistence surface. WithTx executes fn against a view of
// the store inside one transaction: if fn returns an error the transaction is
// rolled back, otherwise committed. Ledger operations use it to make each
// (guarded balance mutation, log append) pair a single unit of work.
type Store interface {
	CustomerStore
	WalletStore
	TransactionLog
	TokenStore
	PromotionStore
	MetricsStore

	WithTx(ctx context.Context, fn func(Store) error) error
}
