package ledger

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// =============================================================================
// PIN GENERATION
// =============================================================================

// pinSpace is the number of distinct 6-digit credentials.
var pinSpace = big.NewInt(1000000)

// NewPIN generates a 6-digit numeric credential from a cryptographically
// strong source. The PIN is a bearer secret handed to the customer, so a
// predictable pseudo-random generator is not acceptable. Leading zeros are
// preserved ("004217" is a valid PIN).
func NewPIN() (string, error) {
	n, err := rand.Int(rand.Reader, pinSpace)
	if err != nil {
		return "", fmt.Errorf("failed to generate pin: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
