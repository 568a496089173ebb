/*
sweeper.go - Background expiry sweep for redemption tokens

PURPOSE:
  Periodically transitions PENDING tokens whose window has passed to EXPIRED
  and restores their locked litres. Expiry is also enforced at read time by
  the token queries, so the sweep is a settlement mechanism, not a safety
  one: a token the sweep has not reached yet is still unredeemable.

DESIGN:
  - Background goroutine on a configurable ticker
  - Runs one sweep immediately on Start
  - Each candidate settles independently; a redeem racing the sweep is fine,
    the guarded transition lets only one side win

USAGE:
  sweeper := api.NewSweeper(tokens, 30*time.Second)
  sweeper.Start()
  defer sweeper.Stop()

SEE ALSO:
  - ledger/token.go: Sweep implementation
  - handlers.go: RunSweep endpoint (manual trigger)
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fuelhub/loyalty-engine/ledger"
)

// Sweeper drives the periodic expired-token sweep.
type Sweeper struct {
	Tokens   *ledger.TokenService
	Interval time.Duration

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewSweeper creates a sweeper with the given cadence.
func NewSweeper(tokens *ledger.TokenService, interval time.Duration) *Sweeper {
	return &Sweeper{
		Tokens:   tokens,
		Interval: interval,
	}
}

// Start begins the background sweep loop. A stopped sweeper can be started
// again; the stop channel belongs to one run of the loop.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.Interval)
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run(s.ticker, s.stop)

	zap.L().Info("token sweeper started", zap.Duration("interval", s.Interval))
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil

	zap.L().Info("token sweeper stopped")
}

func (s *Sweeper) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	s.sweepOnce()

	for {
		select {
		case <-ticker.C:
			s.sweepOnce()
		case <-stop:
			return
		}
	}
}

func (s *Sweeper) sweepOnce() {
	swept, err := s.Tokens.Sweep(context.Background())
	if err != nil {
		zap.L().Error("token sweep failed", zap.Error(err))
		return
	}
	if swept > 0 {
		zap.L().Info("token sweep settled expirations", zap.Int("swept", swept))
	}
}
