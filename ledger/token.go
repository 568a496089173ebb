/*
token.go - Issuance, validation, redemption, cancellation, and expiry sweep

PURPOSE:
  A token locks a litre quantity out of the spendable wallet balance behind a
  6-digit single-use PIN. The quantity is debited at issuance and is NOT
  logged then - the PENDING token row itself is the durable record of the
  lock; the log entry is written at final disposition (REDEEM on success,
  REVERSAL on expiry/cancel) so the quantity is never double-counted.

STATE MACHINE:
  PENDING -> REDEEMED   attendant redemption, terminal
  PENDING -> EXPIRED    sweep after the window passes, terminal, restores litres
  PENDING -> CANCELLED  explicit operator cancel, terminal, restores litres

EXACTLY-ONCE:
  Every transition is a store-level conditional update guarded on the current
  status (and, for redemption, on expiry), re-checked at the moment of the
  write - never reused from an earlier validate read. Of N concurrent redeem
  calls exactly one observes applied=true; the rest get TokenAlreadyConsumed.
  The sweep is idempotent and safe to run concurrently with itself for the
  same reason.

SEE ALSO:
  - pin.go: credential generation
  - store.go: RedeemToken / TransitionToken contracts
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

// DefaultTokenTTL is the redemption window from issuance. Configurable per
// deployment, fixed per token.
const DefaultTokenTTL = 5 * time.Minute

// =============================================================================
// TOKEN SERVICE
// =============================================================================

type TokenService struct {
	store  Store
	clock  Clock
	ttl    time.Duration
	newPIN func() (string, error)
}

// TokenOption adjusts a TokenService at construction.
type TokenOption func(*TokenService)

// WithPINSource overrides the credential generator.
func WithPINSource(fn func() (string, error)) TokenOption {
	return func(ts *TokenService) { ts.newPIN = fn }
}

func NewTokenService(store Store, clock Clock, ttl time.Duration, opts ...TokenOption) *TokenService {
	if clock == nil {
		clock = SystemClock{}
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	ts := &TokenService{store: store, clock: clock, ttl: ttl, newPIN: NewPIN}
	for _, opt := range opts {
		opt(ts)
	}
	return ts
}

// maxPINAttempts bounds the issuance retry loop when a freshly drawn PIN
// collides with a live token at the same site.
const maxPINAttempts = 5

// =============================================================================
// ISSUE
// =============================================================================

// Issue locks litres of grade out of the customer's wallet and emits a
// PENDING token carrying a fresh PIN and expiry. The debit is guarded: a
// concurrent issue that would overdraw the litre balance loses at the store.
// The PIN is unique among live PENDING tokens at the site; a draw that
// collides with one is redrawn inside the same unit of work.
func (ts *TokenService) Issue(ctx context.Context, id CustomerID, site SiteID, grade FuelGrade, litres decimal.Decimal) (*Token, error) {
	if !grade.Valid() {
		return nil, &InvalidGradeError{Code: string(grade)}
	}
	if !litres.IsPositive() || !ValidLitres(litres) {
		return nil, &InvalidAmountError{Field: "litres", Value: litres}
	}

	now := ts.clock.Now()
	token := Token{
		ID:         TokenID(uuid.New().String()),
		CustomerID: id,
		SiteID:     site,
		Grade:      grade,
		Litres:     litres,
		ExpiresAt:  now.Add(ts.ttl),
		Status:     TokenPending,
		CreatedAt:  now,
	}

	err := ts.store.WithTx(ctx, func(st Store) error {
		applied, err := st.AdjustFuel(ctx, id, grade, litres.Neg(), now)
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
			return &InsufficientFuelError{CustomerID: id, Grade: grade, Available: w.FuelBalance(grade), Requested: litres}
		}

		pin, err := ts.freshPIN(ctx, st, site, now)
		if err != nil {
			return err
		}
		token.PIN = pin

		// No log entry here: the token row is the record of the lock until
		// redemption or restoration settles it.
		return st.InsertToken(ctx, token)
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("token issued",
		zap.String("token_id", string(token.ID)),
		zap.String("customer_id", string(id)),
		zap.String("grade", string(grade)),
		zap.String("litres", litres.StringFixed(LitresScale)),
		zap.Time("expires_at", token.ExpiresAt))
	return &token, nil
}

// freshPIN draws PINs until one does not match a live PENDING token at the
// site. A shared PIN would let validation resolve to the wrong customer's
// token; consumed and expired tokens may collide freely.
func (ts *TokenService) freshPIN(ctx context.Context, st Store, site SiteID, now time.Time) (string, error) {
	for i := 0; i < maxPINAttempts; i++ {
		pin, err := ts.newPIN()
		if err != nil {
			return "", err
		}
		live, err := st.FindPendingToken(ctx, pin, site, now)
		if err != nil {
			return "", err
		}
		if live == nil {
			return pin, nil
		}
	}
	return "", fmt.Errorf("no unique pin after %d draws", maxPINAttempts)
}

// =============================================================================
// VALIDATE
// =============================================================================

// Validate is the side-effect-free lookup the attendant UI calls to show a
// confirmation before committing. A token matches only if it is PENDING,
// belongs to the given site, and has not expired. Calling it any number of
// times changes nothing.
func (ts *TokenService) Validate(ctx context.Context, pin string, site SiteID) (*Token, error) {
	t, err := ts.store.FindPendingToken(ctx, pin, site, ts.clock.Now())
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, ErrTokenNotFound
	}
	return t, nil
}

// =============================================================================
// REDEEM
// =============================================================================

// Redeem transitions the token PENDING -> REDEEMED with a single conditional
// update re-evaluated at write time, records the attendant and timestamp, and
// appends the COMPLETE REDEEM entry that finally puts the consumed litres in
// the log. The update is scoped to the redeeming site: a token issued at one
// site is invisible at another. Losing callers get TokenAlreadyConsumed or
// TokenExpired, never a silent double-credit.
func (ts *TokenService) Redeem(ctx context.Context, id TokenID, site SiteID, by AttendantID) (*Token, error) {
	now := ts.clock.Now()

	var out *Token
	err := ts.store.WithTx(ctx, func(st Store) error {
		applied, err := st.RedeemToken(ctx, id, site, by, now)
		if err != nil {
			return err
		}
		if !applied {
			t, err := st.GetToken(ctx, id)
			if err != nil {
				return err
			}
			// A site mismatch reports not-found so one site cannot learn
			// about another's credentials.
			if t == nil || t.SiteID != site {
				return ErrTokenNotFound
			}
			return &TokenUnavailableError{ID: t.ID, Status: t.Status, Expired: !t.ExpiresAt.After(now)}
		}

		t, err := st.GetToken(ctx, id)
		if err != nil {
			return err
		}
		out = t

		return st.AppendTransaction(ctx, Transaction{
			ID:          TransactionID(uuid.New().String()),
			CustomerID:  t.CustomerID,
			Kind:        TxRedeem,
			Status:      TxComplete,
			Grade:       t.Grade,
			LitresDelta: t.Litres.Neg(),
			SiteID:      t.SiteID,
			Metadata: map[string]string{
				"token_id":     string(t.ID),
				"attendant_id": string(by),
			},
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("token redeemed",
		zap.String("token_id", string(id)),
		zap.String("attendant_id", string(by)))
	return out, nil
}

// classifyLoss explains a failed guarded transition: unknown id, window
// passed, or another caller settled the token first.
func (ts *TokenService) classifyLoss(ctx context.Context, st Store, id TokenID, now time.Time) error {
	t, err := st.GetToken(ctx, id)
	if err != nil {
		return err
	}
	if t == nil {
		return ErrTokenNotFound
	}
	return &TokenUnavailableError{
		ID:      t.ID,
		Status:  t.Status,
		Expired: !t.ExpiresAt.After(now),
	}
}

// =============================================================================
// CANCEL
// =============================================================================

// Cancel transitions PENDING -> CANCELLED and restores the locked litres to
// the wallet with a REVERSAL entry. Mutually exclusive with redemption and
// expiry through the same status guard.
func (ts *TokenService) Cancel(ctx context.Context, id TokenID) (*Token, error) {
	return ts.settle(ctx, id, TokenCancelled, "cancelled")
}

// =============================================================================
// EXPIRY SWEEP
// =============================================================================

// Sweep transitions every PENDING token past its expiry to EXPIRED and
// restores its litres. Idempotent: the status guard makes each token
// transition at most once even when sweeps run concurrently. Returns the
// number of tokens swept.
func (ts *TokenService) Sweep(ctx context.Context) (int, error) {
	now := ts.clock.Now()
	candidates, err := ts.store.PendingTokensExpiredBy(ctx, now)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, cand := range candidates {
		if _, err := ts.settle(ctx, cand.ID, TokenExpired, "expired"); err != nil {
			// Losing the guard to a concurrent sweep or a last-moment
			// redemption is expected; anything else aborts.
			if IsConflict(err) {
				continue
			}
			return swept, err
		}
		swept++
	}

	if swept > 0 {
		zap.L().Info("expiry sweep completed", zap.Int("swept", swept))
	}
	return swept, nil
}

// settle performs the shared guarded PENDING -> terminal transition with
// litre restoration for expiry and cancellation.
func (ts *TokenService) settle(ctx context.Context, id TokenID, to TokenStatus, reason string) (*Token, error) {
	now := ts.clock.Now()

	var out *Token
	err := ts.store.WithTx(ctx, func(st Store) error {
		applied, err := st.TransitionToken(ctx, id, TokenPending, to)
		if err != nil {
			return err
		}
		if !applied {
			return ts.classifyLoss(ctx, st, id, now)
		}

		t, err := st.GetToken(ctx, id)
		if err != nil {
			return err
		}
		out = t

		applied, err = st.AdjustFuel(ctx, t.CustomerID, t.Grade, t.Litres, now)
		if err != nil {
			return err
		}
		if !applied {
			return ErrWalletNotFound
		}

		return st.AppendTransaction(ctx, Transaction{
			ID:          TransactionID(uuid.New().String()),
			CustomerID:  t.CustomerID,
			Kind:        TxReversal,
			Status:      TxComplete,
			Grade:       t.Grade,
			LitresDelta: t.Litres,
			SiteID:      t.SiteID,
			Metadata: map[string]string{
				"token_id": string(t.ID),
				"reason":   reason,
			},
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
