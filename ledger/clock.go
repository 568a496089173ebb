package ledger

import "time"

// =============================================================================
// CLOCK - Injectable time source
// =============================================================================

// Clock supplies "now" to issuance, validation, and expiry. Centralizing the
// time read makes expiry-boundary behavior deterministic in tests; production
// code uses SystemClock.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
