package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fuelhub/loyalty-engine/ledger"
	"github.com/fuelhub/loyalty-engine/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedWallet(t *testing.T, s *sqlite.Store, id ledger.CustomerID, taxID string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.SaveCustomer(ctx, ledger.Customer{
		ID: id, Name: "Seed", TaxID: taxID, Active: true,
		CreatedAt: time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC),
	}))
	require.NoError(t, s.CreateWallet(ctx, id))
}

func TestSaveCustomer_DuplicateTaxID(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	seedWallet(t, s, "cust-1", "tax-1")

	err := s.SaveCustomer(ctx, ledger.Customer{ID: "cust-2", Name: "Other", TaxID: "tax-1"})
	assert.ErrorIs(t, err, ledger.ErrDuplicateTaxID)
}

func TestAdjustMoney_GuardRefusesOverdraw(t *testing.T) {
	// GIVEN: A wallet holding 30.00
	// WHEN: A debit of 30.01 and a debit of 30.00 race the same balance
	// THEN: Only the covered debit is applied

	s := newStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)
	seedWallet(t, s, "cust-1", "tax-1")

	applied, err := s.AdjustMoney(ctx, "cust-1", decimal.RequireFromString("30.00"), now)
	require.NoError(t, err)
	require.True(t, applied)

	applied, err = s.AdjustMoney(ctx, "cust-1", decimal.RequireFromString("-30.01"), now)
	require.NoError(t, err)
	assert.False(t, applied, "debit past the balance is refused")

	applied, err = s.AdjustMoney(ctx, "cust-1", decimal.RequireFromString("-30.00"), now)
	require.NoError(t, err)
	assert.True(t, applied, "debit to exactly zero is allowed")

	w, err := s.GetWallet(ctx, "cust-1")
	require.NoError(t, err)
	assert.True(t, w.Money.IsZero())
}

func TestAdjustFuel_IsolatedPerGrade(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)
	seedWallet(t, s, "cust-1", "tax-1")

	applied, err := s.AdjustFuel(ctx, "cust-1", ledger.GradeEthanol, decimal.RequireFromString("12.345"), now)
	require.NoError(t, err)
	require.True(t, applied)

	// The diesel column does not cover an ethanol credit.
	applied, err = s.AdjustFuel(ctx, "cust-1", ledger.GradeDieselCommon, decimal.RequireFromString("-0.001"), now)
	require.NoError(t, err)
	assert.False(t, applied)

	w, err := s.GetWallet(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, "12.345", w.Fuel[ledger.GradeEthanol].StringFixed(3))
	assert.True(t, w.Fuel[ledger.GradeDieselCommon].IsZero())
}

func TestRedeemToken_ExactlyOnce(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)
	seedWallet(t, s, "cust-1", "tax-1")

	token := ledger.Token{
		ID:         "tok-1",
		CustomerID: "cust-1",
		SiteID:     "site-1",
		Grade:      ledger.GradeEthanol,
		Litres:     decimal.RequireFromString("20.000"),
		PIN:        "123456",
		ExpiresAt:  now.Add(5 * time.Minute),
		Status:     ledger.TokenPending,
		CreatedAt:  now,
	}
	require.NoError(t, s.InsertToken(ctx, token))

	// Another site never matches the row.
	applied, err := s.RedeemToken(ctx, token.ID, "site-2", "att-0", now)
	require.NoError(t, err)
	assert.False(t, applied)

	applied, err = s.RedeemToken(ctx, token.ID, "site-1", "att-1", now)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = s.RedeemToken(ctx, token.ID, "site-1", "att-2", now)
	require.NoError(t, err)
	assert.False(t, applied, "a consumed token cannot be redeemed again")

	got, err := s.GetToken(ctx, token.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, ledger.TokenRedeemed, got.Status)
	assert.Equal(t, ledger.AttendantID("att-1"), got.RedeemedBy)
	require.NotNil(t, got.RedeemedAt)
}

func TestRedeemToken_RefusesPastExpiry(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)
	seedWallet(t, s, "cust-1", "tax-1")

	token := ledger.Token{
		ID:         "tok-1",
		CustomerID: "cust-1",
		SiteID:     "site-1",
		Grade:      ledger.GradeEthanol,
		Litres:     decimal.RequireFromString("20.000"),
		PIN:        "123456",
		ExpiresAt:  now.Add(5 * time.Minute),
		Status:     ledger.TokenPending,
		CreatedAt:  now,
	}
	require.NoError(t, s.InsertToken(ctx, token))

	applied, err := s.RedeemToken(ctx, token.ID, "site-1", "att-1", now.Add(5*time.Minute))
	require.NoError(t, err)
	assert.False(t, applied, "expiry boundary is exclusive")

	// The row stays PENDING until the sweep settles it.
	expired, err := s.PendingTokensExpiredBy(ctx, now.Add(5*time.Minute))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, token.ID, expired[0].ID)
}

func TestFindPendingToken_MatchesPinSiteAndWindow(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)
	seedWallet(t, s, "cust-1", "tax-1")

	token := ledger.Token{
		ID:         "tok-1",
		CustomerID: "cust-1",
		SiteID:     "site-1",
		Grade:      ledger.GradeGasolineCommon,
		Litres:     decimal.RequireFromString("15.500"),
		PIN:        "654321",
		ExpiresAt:  now.Add(5 * time.Minute),
		Status:     ledger.TokenPending,
		CreatedAt:  now,
	}
	require.NoError(t, s.InsertToken(ctx, token))

	got, err := s.FindPendingToken(ctx, "654321", "site-1", now)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, token.ID, got.ID)
	assert.Equal(t, "15.500", got.Litres.StringFixed(3))

	got, err = s.FindPendingToken(ctx, "654321", "site-2", now)
	require.NoError(t, err)
	assert.Nil(t, got, "PIN is scoped to the issuing site")

	got, err = s.FindPendingToken(ctx, "654321", "site-1", now.Add(6*time.Minute))
	require.NoError(t, err)
	assert.Nil(t, got, "expired tokens are invisible to lookup")
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	// GIVEN: A funded wallet
	// WHEN: A unit of work debits money, appends a log entry, and fails
	// THEN: Neither write survives

	s := newStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)
	seedWallet(t, s, "cust-1", "tax-1")

	_, err := s.AdjustMoney(ctx, "cust-1", decimal.RequireFromString("100.00"), now)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.WithTx(ctx, func(tx ledger.Store) error {
		applied, err := tx.AdjustMoney(ctx, "cust-1", decimal.RequireFromString("-40.00"), now)
		require.NoError(t, err)
		require.True(t, applied)

		require.NoError(t, tx.AppendTransaction(ctx, ledger.Transaction{
			ID:         "tx-1",
			CustomerID: "cust-1",
			Kind:       ledger.TxConvert,
			Status:     ledger.TxComplete,
			MoneyDelta: decimal.RequireFromString("-40.00"),
			CreatedAt:  now,
		}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	w, err := s.GetWallet(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, "100.00", w.Money.StringFixed(2))

	txs, err := s.Transactions(ctx, "cust-1", 0)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestTransactions_RoundTripAndOrdering(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)
	seedWallet(t, s, "cust-1", "tax-1")

	first := ledger.Transaction{
		ID:         "tx-1",
		CustomerID: "cust-1",
		Kind:       ledger.TxDeposit,
		Status:     ledger.TxComplete,
		MoneyDelta: decimal.RequireFromString("50.00"),
		CreatedAt:  base,
	}
	second := ledger.Transaction{
		ID:          "tx-2",
		CustomerID:  "cust-1",
		Kind:        ledger.TxConvert,
		Status:      ledger.TxComplete,
		MoneyDelta:  decimal.RequireFromString("-28.95"),
		Grade:       ledger.GradeGasolineAdditive,
		LitresDelta: decimal.RequireFromString("5.000"),
		UnitPrice:   decimal.RequireFromString("5.79"),
		SiteID:      "site-1",
		Metadata:    map[string]string{"channel": "app"},
		CreatedAt:   base.Add(time.Minute),
	}
	require.NoError(t, s.AppendTransaction(ctx, first))
	require.NoError(t, s.AppendTransaction(ctx, second))

	txs, err := s.Transactions(ctx, "cust-1", 0)
	require.NoError(t, err)
	require.Len(t, txs, 2)

	// Newest first.
	assert.Equal(t, ledger.TransactionID("tx-2"), txs[0].ID)
	assert.Equal(t, "-28.95", txs[0].MoneyDelta.StringFixed(2))
	assert.Equal(t, "5.000", txs[0].LitresDelta.StringFixed(3))
	assert.Equal(t, "5.79", txs[0].UnitPrice.String())
	assert.Equal(t, ledger.GradeGasolineAdditive, txs[0].Grade)
	assert.Equal(t, "app", txs[0].Metadata["channel"])
	assert.Equal(t, ledger.TransactionID("tx-1"), txs[1].ID)

	// Same-second entries fall back to insertion order.
	third := first
	third.ID = "tx-3"
	third.CreatedAt = second.CreatedAt
	require.NoError(t, s.AppendTransaction(ctx, third))

	txs, err = s.Transactions(ctx, "cust-1", 2)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, ledger.TransactionID("tx-3"), txs[0].ID)
	assert.Equal(t, ledger.TransactionID("tx-2"), txs[1].ID)
}

func TestAggregateBalances_SumsAcrossWallets(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)
	seedWallet(t, s, "cust-1", "tax-1")
	seedWallet(t, s, "cust-2", "tax-2")

	_, err := s.AdjustMoney(ctx, "cust-1", decimal.RequireFromString("120.50"), now)
	require.NoError(t, err)
	_, err = s.AdjustMoney(ctx, "cust-2", decimal.RequireFromString("79.50"), now)
	require.NoError(t, err)
	_, err = s.AdjustFuel(ctx, "cust-1", ledger.GradeDieselCommon, decimal.RequireFromString("10.000"), now)
	require.NoError(t, err)
	_, err = s.AdjustFuel(ctx, "cust-2", ledger.GradeDieselCommon, decimal.RequireFromString("2.500"), now)
	require.NoError(t, err)

	totals, err := s.AggregateBalances(ctx)
	require.NoError(t, err)
	assert.Equal(t, "200.00", totals.Money.StringFixed(2))
	assert.Equal(t, "12.500", totals.Litres[ledger.GradeDieselCommon].StringFixed(3))
	assert.Equal(t, "12.500", totals.TotalLitres().StringFixed(3))
}
