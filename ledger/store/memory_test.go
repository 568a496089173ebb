package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fuelhub/loyalty-engine/ledger"
	"github.com/fuelhub/loyalty-engine/ledger/store"
)

func newWalletFixture(t *testing.T) (*store.Memory, ledger.CustomerID) {
	t.Helper()
	m := store.NewMemory()
	ctx := context.Background()

	id := ledger.CustomerID("cust-1")
	require.NoError(t, m.SaveCustomer(ctx, ledger.Customer{
		ID: id, Name: "Test", TaxID: "tax-1", Active: true, CreatedAt: time.Now(),
	}))
	require.NoError(t, m.CreateWallet(ctx, id))
	return m, id
}

func TestMemory_AdjustMoney_GuardsNonNegativity(t *testing.T) {
	m, id := newWalletFixture(t)
	ctx := context.Background()
	now := time.Now()

	applied, err := m.AdjustMoney(ctx, id, decimal.RequireFromString("50.00"), now)
	require.NoError(t, err)
	assert.True(t, applied)

	// Debit beyond the balance is refused in the same round trip.
	applied, err = m.AdjustMoney(ctx, id, decimal.RequireFromString("-60.00"), now)
	require.NoError(t, err)
	assert.False(t, applied)

	// An unknown wallet is also a refusal, not an error.
	applied, err = m.AdjustMoney(ctx, "ghost", decimal.RequireFromString("10.00"), now)
	require.NoError(t, err)
	assert.False(t, applied)

	w, err := m.GetWallet(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "50.00", w.Money.StringFixed(2))
}

func TestMemory_WithTx_RollsBackOnError(t *testing.T) {
	// GIVEN: A funded wallet
	// WHEN: A unit of work mutates the balance and then fails
	// THEN: The mutation is discarded entirely

	m, id := newWalletFixture(t)
	ctx := context.Background()
	now := time.Now()

	_, err := m.AdjustMoney(ctx, id, decimal.RequireFromString("100.00"), now)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = m.WithTx(ctx, func(tx ledger.Store) error {
		applied, err := tx.AdjustMoney(ctx, id, decimal.RequireFromString("-40.00"), now)
		require.NoError(t, err)
		require.True(t, applied)

		require.NoError(t, tx.AppendTransaction(ctx, ledger.Transaction{
			ID: "tx-1", CustomerID: id, Kind: ledger.TxConvert, CreatedAt: now,
		}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	w, err := m.GetWallet(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "100.00", w.Money.StringFixed(2), "balance mutation rolled back")

	txs, err := m.Transactions(ctx, id, 0)
	require.NoError(t, err)
	assert.Empty(t, txs, "log append rolled back")
}

func TestMemory_WithTx_CommitsOnSuccess(t *testing.T) {
	m, id := newWalletFixture(t)
	ctx := context.Background()
	now := time.Now()

	err := m.WithTx(ctx, func(tx ledger.Store) error {
		if _, err := tx.AdjustMoney(ctx, id, decimal.RequireFromString("25.00"), now); err != nil {
			return err
		}
		return tx.AppendTransaction(ctx, ledger.Transaction{
			ID: "tx-1", CustomerID: id, Kind: ledger.TxDeposit, CreatedAt: now,
		})
	})
	require.NoError(t, err)

	w, err := m.GetWallet(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "25.00", w.Money.StringFixed(2))

	txs, err := m.Transactions(ctx, id, 0)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestMemory_TokenTransitions_GuardOnStatus(t *testing.T) {
	m, _ := newWalletFixture(t)
	ctx := context.Background()
	now := time.Now()

	token := ledger.Token{
		ID:         "tok-1",
		CustomerID: "cust-1",
		SiteID:     "site-1",
		Grade:      ledger.GradeEthanol,
		Litres:     decimal.RequireFromString("10.000"),
		PIN:        "123456",
		ExpiresAt:  now.Add(5 * time.Minute),
		Status:     ledger.TokenPending,
		CreatedAt:  now,
	}
	require.NoError(t, m.InsertToken(ctx, token))

	// Another site never matches the token.
	applied, err := m.RedeemToken(ctx, token.ID, "site-2", "att-0", now)
	require.NoError(t, err)
	assert.False(t, applied)

	// First redeem at the issuing site wins.
	applied, err = m.RedeemToken(ctx, token.ID, "site-1", "att-1", now)
	require.NoError(t, err)
	assert.True(t, applied)

	// Replays and other transitions lose the guard.
	applied, err = m.RedeemToken(ctx, token.ID, "site-1", "att-2", now)
	require.NoError(t, err)
	assert.False(t, applied)

	applied, err = m.TransitionToken(ctx, token.ID, ledger.TokenPending, ledger.TokenCancelled)
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := m.GetToken(ctx, token.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.TokenRedeemed, got.Status)
	assert.Equal(t, ledger.AttendantID("att-1"), got.RedeemedBy)
}

func TestMemory_RedeemToken_RefusesExpired(t *testing.T) {
	m, _ := newWalletFixture(t)
	ctx := context.Background()
	now := time.Now()

	token := ledger.Token{
		ID:        "tok-1",
		PIN:       "123456",
		SiteID:    "site-1",
		Grade:     ledger.GradeEthanol,
		Litres:    decimal.RequireFromString("10.000"),
		ExpiresAt: now.Add(-time.Second),
		Status:    ledger.TokenPending,
		CreatedAt: now.Add(-time.Minute),
	}
	require.NoError(t, m.InsertToken(ctx, token))

	applied, err := m.RedeemToken(ctx, token.ID, "site-1", "att-1", now)
	require.NoError(t, err)
	assert.False(t, applied)

	// Still a sweep candidate.
	expired, err := m.PendingTokensExpiredBy(ctx, now)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, token.ID, expired[0].ID)
}

func TestMemory_SaveCustomer_DuplicateTaxID(t *testing.T) {
	m, _ := newWalletFixture(t)
	ctx := context.Background()

	err := m.SaveCustomer(ctx, ledger.Customer{ID: "cust-2", Name: "Other", TaxID: "tax-1"})
	assert.ErrorIs(t, err, ledger.ErrDuplicateTaxID)
}
