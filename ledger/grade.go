/*
grade.go - The closed fuel grade enumeration

PURPOSE:
  Every balance, transaction, and redemption token is keyed on one of five
  fuel grades. The set is closed: the wallet schema has exactly one litre
  balance per grade, so an open/dynamic grade set cannot be supported.

VALIDATION:
  Caller-supplied grade codes are parsed ONCE at the boundary via ParseGrade.
  Past that point a FuelGrade value is always a member of the closed set, and
  storage layers map it to a balance column through an explicit finite map -
  never through string interpolation of caller input.

SEE ALSO:
  - wallet.go: per-grade litre balances
  - store/sqlite: grade -> balance column mapping
*/
package ledger

import "strings"

// =============================================================================
// FUEL GRADE - Closed enumeration
// =============================================================================

type FuelGrade string

const (
	GradeGasolineCommon   FuelGrade = "GC"  // gasolina comum
	GradeGasolineAdditive FuelGrade = "GA"  // gasolina aditivada
	GradeEthanol          FuelGrade = "ET"  // etanol
	GradeDieselS10        FuelGrade = "S10" // diesel S-10
	GradeDieselCommon     FuelGrade = "DS"  // diesel comum
)

// allGrades is the authoritative order used for display and aggregation.
var allGrades = []FuelGrade{
	GradeGasolineCommon,
	GradeGasolineAdditive,
	GradeEthanol,
	GradeDieselS10,
	GradeDieselCommon,
}

var gradeNames = map[FuelGrade]string{
	GradeGasolineCommon:   "Gasoline (common)",
	GradeGasolineAdditive: "Gasoline (additive)",
	GradeEthanol:          "Ethanol",
	GradeDieselS10:        "Diesel S-10",
	GradeDieselCommon:     "Diesel (common)",
}

// Grades returns the closed grade set in display order.
// The returned slice is a copy; callers may not extend the set.
func Grades() []FuelGrade {
	out := make([]FuelGrade, len(allGrades))
	copy(out, allGrades)
	return out
}

// ParseGrade validates a caller-supplied grade code. Codes are matched
// case-insensitively. Unknown codes fail with ErrInvalidGrade.
func ParseGrade(code string) (FuelGrade, error) {
	g := FuelGrade(strings.ToUpper(strings.TrimSpace(code)))
	if !g.Valid() {
		return "", &InvalidGradeError{Code: code}
	}
	return g, nil
}

// Valid reports whether g is a member of the closed set.
func (g FuelGrade) Valid() bool {
	_, ok := gradeNames[g]
	return ok
}

// Description returns the human-readable grade name.
func (g FuelGrade) Description() string {
	return gradeNames[g]
}

func (g FuelGrade) String() string { return string(g) }
