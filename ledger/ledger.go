/*
ledger.go - Deposit and convert operations with invariant enforcement

PURPOSE:
  The Service is the only writer of wallet money/litre balances outside the
  token lifecycle. It enforces:
  1. NON-NEGATIVITY: no operation ever drives a balance below zero, even
     under concurrent callers - the check rides inside the store's guarded
     conditional update, not a prior read.
  2. ATOMIC PAIRS: each balance mutation and its log entry become visible
     together or not at all (store.WithTx).
  3. CONSERVATION: money after any sequence equals deposits minus converted
     amounts, exactly, at 2-decimal precision.

CONVERSION:
  convert exchanges money for litres of one grade at the caller-recorded
  unit price. Litres are quantized to 3 decimal places.

SEE ALSO:
  - store.go: the conditional-update primitives
  - token.go: issuance locks litres out of the balances managed here
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// LEDGER SERVICE
// =============================================================================

// Service exposes the wallet ledger: customer registration, deposits,
// conversions, and read paths.
type Service struct {
	store Store
	clock Clock
}

func NewService(store Store, clock Clock) *Service {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Service{store: store, clock: clock}
}

// =============================================================================
// CUSTOMER LIFECYCLE
// =============================================================================

// RegisterCustomer creates a customer and its zeroed wallet in one unit of
// work. A customer without a wallet cannot exist.
func (s *Service) RegisterCustomer(ctx context.Context, name, taxID, phone string, site SiteID) (*Customer, error) {
	c := Customer{
		ID:        CustomerID(uuid.New().String()),
		Name:      name,
		TaxID:     taxID,
		Phone:     phone,
		Active:    true,
		SiteID:    site,
		CreatedAt: s.clock.Now(),
	}

	err := s.store.WithTx(ctx, func(tx Store) error {
		if err := tx.SaveCustomer(ctx, c); err != nil {
			return err
		}
		return tx.CreateWallet(ctx, c.ID)
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("customer registered",
		zap.String("customer_id", string(c.ID)),
		zap.String("site_id", string(site)))
	return &c, nil
}

// DeactivateCustomer soft-deletes a customer. The wallet and its history stay.
func (s *Service) DeactivateCustomer(ctx context.Context, id CustomerID) error {
	applied, err := s.store.DeactivateCustomer(ctx, id)
	if err != nil {
		return err
	}
	if !applied {
		return ErrCustomerNotFound
	}
	return nil
}

// UpdateCustomer rewrites the contact fields. The tax id and the ledger are
// untouchable after registration.
func (s *Service) UpdateCustomer(ctx context.Context, id CustomerID, name, phone string) (*Customer, error) {
	applied, err := s.store.UpdateCustomer(ctx, id, name, phone)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, ErrCustomerNotFound
	}
	return s.store.GetCustomer(ctx, id)
}

// =============================================================================
// DEPOSIT
// =============================================================================

// Deposit atomically increments the money balance and appends a COMPLETE
// DEPOSIT transaction. amount must be positive at money precision.
func (s *Service) Deposit(ctx context.Context, id CustomerID, amount decimal.Decimal, site SiteID, metadata map[string]string) (*Transaction, error) {
	if !amount.IsPositive() || !ValidMoney(amount) {
		return nil, &InvalidAmountError{Field: "amount", Value: amount}
	}

	now := s.clock.Now()
	tx := Transaction{
		ID:         TransactionID(uuid.New().String()),
		CustomerID: id,
		Kind:       TxDeposit,
		Status:     TxComplete,
		MoneyDelta: amount,
		SiteID:     site,
		Metadata:   metadata,
		CreatedAt:  now,
	}

	err := s.store.WithTx(ctx, func(st Store) error {
		applied, err := st.AdjustMoney(ctx, id, amount, now)
		if err != nil {
			return err
		}
		if !applied {
			// A positive delta only fails when the wallet row is missing.
			return ErrWalletNotFound
		}
		return st.AppendTransaction(ctx, tx)
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("deposit",
		zap.String("customer_id", string(id)),
		zap.String("amount", amount.StringFixed(MoneyScale)))
	return &tx, nil
}

// =============================================================================
// CONVERT
// =============================================================================

// Convert atomically exchanges moneyAmount for litres of grade at unitPrice:
// the money debit carries its own non-negativity predicate, so a concurrent
// convert that would overdraw loses at the store, not at a stale read.
// On InsufficientFunds the wallet and log are untouched.
func (s *Service) Convert(ctx context.Context, id CustomerID, grade FuelGrade, moneyAmount, unitPrice decimal.Decimal, site SiteID) (*Transaction, error) {
	if !grade.Valid() {
		return nil, &InvalidGradeError{Code: string(grade)}
	}
	if !moneyAmount.IsPositive() || !ValidMoney(moneyAmount) {
		return nil, &InvalidAmountError{Field: "money_amount", Value: moneyAmount}
	}
	if !unitPrice.IsPositive() {
		return nil, &InvalidAmountError{Field: "unit_price", Value: unitPrice}
	}

	litres := moneyAmount.DivRound(unitPrice, LitresScale)
	now := s.clock.Now()
	tx := Transaction{
		ID:          TransactionID(uuid.New().String()),
		CustomerID:  id,
		Kind:        TxConvert,
		Status:      TxComplete,
		MoneyDelta:  moneyAmount.Neg(),
		Grade:       grade,
		LitresDelta: litres,
		UnitPrice:   unitPrice,
		SiteID:      site,
		CreatedAt:   now,
	}

	err := s.store.WithTx(ctx, func(st Store) error {
		applied, err := st.AdjustMoney(ctx, id, moneyAmount.Neg(), now)
		if err != nil {
			return err
		}
		if !applied {
			w, err := st.GetWallet(ctx, id)
			if err != nil {
				return err
			}
			if w == nil {
				return ErrWalletNotFound
			}
			return &InsufficientFundsError{CustomerID: id, Available: w.Money, Requested: moneyAmount}
		}

		applied, err = st.AdjustFuel(ctx, id, grade, litres, now)
		if err != nil {
			return err
		}
		if !applied {
			// Credit on an existing wallet cannot fail its predicate.
			return fmt.Errorf("fuel credit not applied for customer %s", id)
		}
		return st.AppendTransaction(ctx, tx)
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("conversion",
		zap.String("customer_id", string(id)),
		zap.String("grade", string(grade)),
		zap.String("money", moneyAmount.StringFixed(MoneyScale)),
		zap.String("litres", litres.StringFixed(LitresScale)))
	return &tx, nil
}

// =============================================================================
// READ PATHS
// =============================================================================

// Wallet returns the current balances for a customer.
func (s *Service) Wallet(ctx context.Context, id CustomerID) (*Wallet, error) {
	w, err := s.store.GetWallet(ctx, id)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, ErrWalletNotFound
	}
	return w, nil
}

// Transactions returns a customer's log entries, newest first.
func (s *Service) Transactions(ctx context.Context, id CustomerID, limit int) ([]Transaction, error) {
	return s.store.Transactions(ctx, id, limit)
}

// Metrics aggregates the dashboard view: active customers, outstanding
// prepaid money, locked-litre liability per grade, and today's activity.
func (s *Service) Metrics(ctx context.Context) (*DashboardMetrics, error) {
	totals, err := s.store.AggregateBalances(ctx)
	if err != nil {
		return nil, err
	}
	customers, err := s.store.CountActiveCustomers(ctx)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	startOfDay := now.Truncate(24 * time.Hour) // midnight UTC
	today, err := s.store.CountTransactionsSince(ctx, startOfDay)
	if err != nil {
		return nil, err
	}

	return &DashboardMetrics{
		ActiveCustomers:   customers,
		Totals:            totals,
		TransactionsToday: today,
	}, nil
}
