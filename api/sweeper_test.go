package api_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fuelhub/loyalty-engine/api"
	"github.com/fuelhub/loyalty-engine/ledger"
	"github.com/fuelhub/loyalty-engine/ledger/store"
)

func TestSweeper_SettlesAcrossRestart(t *testing.T) {
	// GIVEN: A sweeper that was started and stopped once
	// WHEN: It is started again with a new expired token waiting
	// THEN: The second run sweeps too; Stop does not retire the sweeper

	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)}
	st := store.NewMemory()
	svc := ledger.NewService(st, clock)
	tokens := ledger.NewTokenService(st, clock, 5*time.Minute)

	c, err := svc.RegisterCustomer(ctx, "Maria", "tax-sweeper", "", "site-1")
	require.NoError(t, err)
	_, err = svc.Deposit(ctx, c.ID, decimal.RequireFromString("40.00"), "site-1", nil)
	require.NoError(t, err)
	_, err = svc.Convert(ctx, c.ID, ledger.GradeEthanol, decimal.RequireFromString("40.00"), decimal.RequireFromString("1.00"), "site-1")
	require.NoError(t, err)

	litres := func() string {
		w, err := svc.Wallet(ctx, c.ID)
		require.NoError(t, err)
		return w.FuelBalance(ledger.GradeEthanol).StringFixed(ledger.LitresScale)
	}

	_, err = tokens.Issue(ctx, c.ID, "site-1", ledger.GradeEthanol, decimal.RequireFromString("10.000"))
	require.NoError(t, err)
	clock.Advance(6 * time.Minute)

	sweeper := api.NewSweeper(tokens, 5*time.Millisecond)
	sweeper.Start()
	assert.Eventually(t, func() bool { return litres() == "40.000" },
		time.Second, 5*time.Millisecond, "first run settles the expired token")
	sweeper.Stop()

	_, err = tokens.Issue(ctx, c.ID, "site-1", ledger.GradeEthanol, decimal.RequireFromString("10.000"))
	require.NoError(t, err)
	clock.Advance(6 * time.Minute)

	sweeper.Start()
	assert.Eventually(t, func() bool { return litres() == "40.000" },
		time.Second, 5*time.Millisecond, "a restarted sweeper still sweeps")
	sweeper.Stop()
}
