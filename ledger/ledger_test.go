package ledger_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fuelhub/loyalty-engine/ledger"
	"github.com/fuelhub/loyalty-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// fakeClock is a settable Clock so expiry and "today" are deterministic.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(at time.Time) *fakeClock {
	return &fakeClock{now: at}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestService(t *testing.T) (*ledger.Service, *sqlite.Store, *fakeClock) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clock := newFakeClock(time.Date(2025, time.June, 10, 9, 0, 0, 0, time.UTC))
	return ledger.NewService(store, clock), store, clock
}

func registerCustomer(t *testing.T, svc *ledger.Service, taxID string) ledger.CustomerID {
	t.Helper()
	c, err := svc.RegisterCustomer(context.Background(), "Maria Silva", taxID, "+55 11 99999-0000", "site-1")
	require.NoError(t, err)
	return c.ID
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// =============================================================================
// REGISTRATION
// =============================================================================

func TestRegisterCustomer_CreatesZeroedWallet(t *testing.T) {
	// GIVEN: A fresh system
	// WHEN: Registering a customer
	// THEN: The customer exists with an all-zero wallet

	svc, _, _ := newTestService(t)
	ctx := context.Background()

	id := registerCustomer(t, svc, "123.456.789-00")

	w, err := svc.Wallet(ctx, id)
	require.NoError(t, err)
	assert.True(t, w.Money.IsZero(), "money should start at zero")
	for _, g := range ledger.Grades() {
		assert.True(t, w.FuelBalance(g).IsZero(), "grade %s should start at zero", g)
	}
}

func TestRegisterCustomer_DuplicateTaxID_Rejected(t *testing.T) {
	// GIVEN: A registered customer
	// WHEN: Registering another customer with the same tax id
	// THEN: The registration fails and no second customer appears

	svc, store, _ := newTestService(t)
	ctx := context.Background()

	registerCustomer(t, svc, "123.456.789-00")

	_, err := svc.RegisterCustomer(ctx, "Impostor", "123.456.789-00", "", "site-1")
	assert.ErrorIs(t, err, ledger.ErrDuplicateTaxID)

	customers, err := store.ListCustomers(ctx, false)
	require.NoError(t, err)
	assert.Len(t, customers, 1)
}

func TestDeactivateCustomer(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	id := registerCustomer(t, svc, "123.456.789-00")

	require.NoError(t, svc.DeactivateCustomer(ctx, id))

	c, err := store.GetCustomer(ctx, id)
	require.NoError(t, err)
	assert.False(t, c.Active)

	// Repeating or deactivating an unknown id reports not found.
	assert.ErrorIs(t, svc.DeactivateCustomer(ctx, id), ledger.ErrCustomerNotFound)
	assert.ErrorIs(t, svc.DeactivateCustomer(ctx, "nope"), ledger.ErrCustomerNotFound)
}

// =============================================================================
// DEPOSIT
// =============================================================================

func TestDeposit_CreditsBalanceAndLogs(t *testing.T) {
	// GIVEN: A customer with an empty wallet
	// WHEN: Depositing 150.00
	// THEN: The balance is 150.00 and a COMPLETE DEPOSIT entry exists

	svc, _, _ := newTestService(t)
	ctx := context.Background()
	id := registerCustomer(t, svc, "123.456.789-00")

	tx, err := svc.Deposit(ctx, id, dec("150.00"), "site-1", map[string]string{"channel": "pix"})
	require.NoError(t, err)
	assert.Equal(t, ledger.TxDeposit, tx.Kind)
	assert.Equal(t, ledger.TxComplete, tx.Status)

	w, err := svc.Wallet(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "150.00", w.Money.StringFixed(ledger.MoneyScale))

	history, err := svc.Transactions(ctx, id, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "150.00", history[0].MoneyDelta.StringFixed(ledger.MoneyScale))
	assert.Equal(t, "pix", history[0].Metadata["channel"])
}

func TestDeposit_InvalidAmounts_Rejected(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	id := registerCustomer(t, svc, "123.456.789-00")

	for _, amount := range []string{"0", "-10.00", "10.123"} {
		_, err := svc.Deposit(ctx, id, dec(amount), "", nil)
		assert.ErrorIs(t, err, ledger.ErrInvalidAmount, "amount %s", amount)
	}

	// Nothing was logged.
	history, err := svc.Transactions(ctx, id, 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestDeposit_UnknownCustomer(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Deposit(context.Background(), "ghost", dec("10.00"), "", nil)
	assert.ErrorIs(t, err, ledger.ErrWalletNotFound)
}

// =============================================================================
// CONVERT
// =============================================================================

func TestConvert_LocksLitresAtPrice(t *testing.T) {
	// GIVEN: A wallet holding 150.00
	// WHEN: Converting 150.00 to common gasoline at 5.79/L
	// THEN: Money goes to zero, 25.907 L are locked, and the CONVERT entry
	//       records the price

	svc, _, _ := newTestService(t)
	ctx := context.Background()
	id := registerCustomer(t, svc, "123.456.789-00")

	_, err := svc.Deposit(ctx, id, dec("150.00"), "site-1", nil)
	require.NoError(t, err)

	tx, err := svc.Convert(ctx, id, ledger.GradeGasolineCommon, dec("150.00"), dec("5.79"), "site-1")
	require.NoError(t, err)
	assert.Equal(t, "25.907", tx.LitresDelta.StringFixed(ledger.LitresScale))
	assert.Equal(t, "-150.00", tx.MoneyDelta.StringFixed(ledger.MoneyScale))
	assert.Equal(t, "5.79", tx.UnitPrice.String())

	w, err := svc.Wallet(ctx, id)
	require.NoError(t, err)
	assert.True(t, w.Money.IsZero())
	assert.Equal(t, "25.907", w.FuelBalance(ledger.GradeGasolineCommon).StringFixed(ledger.LitresScale))
}

func TestConvert_InsufficientFunds_LeavesNoTrace(t *testing.T) {
	// GIVEN: A wallet holding 50.00
	// WHEN: Converting 80.00
	// THEN: The error details the shortage, and neither the wallet nor the
	//       log changed

	svc, _, _ := newTestService(t)
	ctx := context.Background()
	id := registerCustomer(t, svc, "123.456.789-00")

	_, err := svc.Deposit(ctx, id, dec("50.00"), "", nil)
	require.NoError(t, err)

	_, err = svc.Convert(ctx, id, ledger.GradeEthanol, dec("80.00"), dec("3.89"), "")
	require.Error(t, err)

	var shortErr *ledger.InsufficientFundsError
	require.ErrorAs(t, err, &shortErr)
	assert.Equal(t, "50.00", shortErr.Available.StringFixed(ledger.MoneyScale))
	assert.Equal(t, "30.00", shortErr.Shortfall().StringFixed(ledger.MoneyScale))

	w, err := svc.Wallet(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "50.00", w.Money.StringFixed(ledger.MoneyScale))
	assert.True(t, w.FuelBalance(ledger.GradeEthanol).IsZero())

	history, err := svc.Transactions(ctx, id, 0)
	require.NoError(t, err)
	require.Len(t, history, 1, "only the deposit should be logged")
	assert.Equal(t, ledger.TxDeposit, history[0].Kind)
}

func TestConvert_InvalidInputs_Rejected(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	id := registerCustomer(t, svc, "123.456.789-00")

	_, err := svc.Convert(ctx, id, ledger.FuelGrade("JET"), dec("10.00"), dec("5.00"), "")
	assert.ErrorIs(t, err, ledger.ErrInvalidGrade)

	_, err = svc.Convert(ctx, id, ledger.GradeEthanol, dec("-10.00"), dec("5.00"), "")
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	_, err = svc.Convert(ctx, id, ledger.GradeEthanol, dec("10.00"), dec("0"), "")
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
}

func TestConvert_ConservationAcrossSequence(t *testing.T) {
	// GIVEN: A sequence of deposits and conversions
	// THEN: Remaining money equals deposits minus converted amounts exactly

	svc, _, _ := newTestService(t)
	ctx := context.Background()
	id := registerCustomer(t, svc, "123.456.789-00")

	_, err := svc.Deposit(ctx, id, dec("200.00"), "", nil)
	require.NoError(t, err)
	_, err = svc.Deposit(ctx, id, dec("37.50"), "", nil)
	require.NoError(t, err)

	_, err = svc.Convert(ctx, id, ledger.GradeGasolineCommon, dec("99.99"), dec("5.79"), "")
	require.NoError(t, err)
	_, err = svc.Convert(ctx, id, ledger.GradeDieselS10, dec("100.01"), dec("6.15"), "")
	require.NoError(t, err)

	w, err := svc.Wallet(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "37.50", w.Money.StringFixed(ledger.MoneyScale))
}

func TestConvert_ConcurrentSpenders_NeverOverdraw(t *testing.T) {
	// GIVEN: A wallet holding 100.00
	// WHEN: 10 goroutines each try to convert 30.00 concurrently
	// THEN: Exactly 3 succeed and the balance never goes negative

	svc, _, _ := newTestService(t)
	ctx := context.Background()
	id := registerCustomer(t, svc, "123.456.789-00")

	_, err := svc.Deposit(ctx, id, dec("100.00"), "", nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Convert(ctx, id, ledger.GradeEthanol, dec("30.00"), dec("3.89"), "")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
		}
	}
	assert.Equal(t, 3, succeeded, "100.00 funds exactly 3 conversions of 30.00")

	w, err := svc.Wallet(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "10.00", w.Money.StringFixed(ledger.MoneyScale))
	assert.False(t, w.Money.IsNegative())
}

// =============================================================================
// READ PATHS
// =============================================================================

func TestTransactions_NewestFirstWithLimit(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()
	id := registerCustomer(t, svc, "123.456.789-00")

	for _, amount := range []string{"10.00", "20.00", "30.00"} {
		_, err := svc.Deposit(ctx, id, dec(amount), "", nil)
		require.NoError(t, err)
		clock.Advance(time.Minute)
	}

	history, err := svc.Transactions(ctx, id, 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "30.00", history[0].MoneyDelta.StringFixed(ledger.MoneyScale))
	assert.Equal(t, "20.00", history[1].MoneyDelta.StringFixed(ledger.MoneyScale))
}

func TestMetrics_AggregatesAcrossWallets(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	a := registerCustomer(t, svc, "111.111.111-11")
	b := registerCustomer(t, svc, "222.222.222-22")

	_, err := svc.Deposit(ctx, a, dec("100.00"), "", nil)
	require.NoError(t, err)
	_, err = svc.Deposit(ctx, b, dec("250.00"), "", nil)
	require.NoError(t, err)
	_, err = svc.Convert(ctx, b, ledger.GradeDieselCommon, dec("50.00"), dec("6.00"), "")
	require.NoError(t, err)

	m, err := svc.Metrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, m.ActiveCustomers)
	assert.Equal(t, "300.00", m.Totals.Money.StringFixed(ledger.MoneyScale))
	assert.Equal(t, "8.333", m.Totals.Litres[ledger.GradeDieselCommon].StringFixed(ledger.LitresScale))
	assert.Equal(t, 3, m.TransactionsToday)
}
