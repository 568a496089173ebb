/*
advisor.go - Best-effort promotion recommendation

PURPOSE:
  Reads the aggregate wallet liability and an external solvency projection
  and suggests a promotional campaign: a deposit bonus when near-term
  obligations look underfunded (attract cash now), a conversion bonus when
  the locked-litre liability is low (lock customers into returning).

NON-AUTHORITATIVE:
  The advisor mutates nothing and must never block the ledger. Every failure
  in its data sources is logged and converted into "no recommendation". The
  Advice wrapper keeps that explicit: Degraded=true means a source failed,
  a nil Recommendation with Degraded=false means there was simply nothing
  worth suggesting - the two are distinguishable in tests.
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// SOLVENCY PROJECTION - External collaborator, consumed read-only
// =============================================================================

type CoverageStatus string

const (
	CoverageGreen  CoverageStatus = "green"  // covered by cash on hand
	CoverageYellow CoverageStatus = "yellow" // covered by projected inflow
	CoverageRed    CoverageStatus = "red"    // projected deficit
)

// Installment is one upcoming obligation with its funding coverage.
type Installment struct {
	ID              string
	Description     string
	Amount          decimal.Decimal
	DueDate         time.Time
	DaysToDue       int
	Coverage        CoverageStatus
	CoveragePercent decimal.Decimal
}

// SolvencyProjection forecasts upcoming obligations against available funds.
type SolvencyProjection struct {
	CashOnHand   decimal.Decimal
	DailyAverage decimal.Decimal
	Upcoming     []Installment
}

// SolvencyProjector is the boundary to the finance system.
type SolvencyProjector interface {
	Projection(ctx context.Context, site SiteID) (*SolvencyProjection, error)
}

// NullProjector reports no upcoming obligations. Stands in until a real
// finance feed is wired.
type NullProjector struct{}

func (NullProjector) Projection(context.Context, SiteID) (*SolvencyProjection, error) {
	return &SolvencyProjection{}, nil
}

// =============================================================================
// RECOMMENDATION
// =============================================================================

// Recommendation is an advisory payload: a suggested promotion with its
// parameters and the reasoning behind it.
type Recommendation struct {
	Title            string
	Message          string
	Kind             PromotionKind
	SuggestedMinimum decimal.Decimal
	SuggestedBonus   decimal.Decimal // percent
	Reason           string
}

// Advice is the advisor's result wrapper. Recommendation may be nil; Degraded
// reports whether a data source failed on the way.
type Advice struct {
	Recommendation *Recommendation
	Degraded       bool
}

// =============================================================================
// ADVISOR
// =============================================================================

// lowLiabilityThreshold is the locked-litre volume below which a conversion
// incentive is suggested.
var lowLiabilityThreshold = decimal.NewFromInt(1000)

type Advisor struct {
	metrics   MetricsStore
	projector SolvencyProjector
}

func NewAdvisor(metrics MetricsStore, projector SolvencyProjector) *Advisor {
	if projector == nil {
		projector = NullProjector{}
	}
	return &Advisor{metrics: metrics, projector: projector}
}

// Recommend returns the current suggestion, if any. It never returns an
// error: source failures degrade to no recommendation.
func (a *Advisor) Recommend(ctx context.Context, site SiteID) Advice {
	totals, err := a.metrics.AggregateBalances(ctx)
	if err != nil {
		zap.L().Warn("advisor: balance aggregation failed", zap.Error(err))
		return Advice{Degraded: true}
	}

	projection, err := a.projector.Projection(ctx, site)
	if err != nil || projection == nil {
		zap.L().Warn("advisor: solvency projection unavailable", zap.Error(err))
		return Advice{Degraded: true}
	}

	// Pressing obligations first: deposits bring cash in immediately.
	pressing := decimal.Zero
	count := 0
	for _, inst := range projection.Upcoming {
		if inst.Coverage == CoverageYellow || inst.Coverage == CoverageRed {
			pressing = pressing.Add(inst.Amount)
			count++
		}
	}
	if count > 0 {
		return Advice{Recommendation: &Recommendation{
			Title:            "Liquidity boost",
			Message:          "Upcoming obligations are underfunded. A deposit-bonus promotion attracts immediate capital.",
			Kind:             PromoDepositBonus,
			SuggestedMinimum: decimal.NewFromInt(500),
			SuggestedBonus:   decimal.NewFromInt(5),
			Reason:           "R$ " + pressing.StringFixed(MoneyScale) + " in payments due soon is not covered by cash on hand.",
		}}
	}

	// Low locked-litre liability: a conversion bonus locks the price in and
	// guarantees the customer comes back to redeem.
	if totals.TotalLitres().LessThan(lowLiabilityThreshold) {
		return Advice{Recommendation: &Recommendation{
			Title:            "Active retention",
			Message:          "Prepaid litre volume is low. A conversion bonus encourages customers to lock in the current price.",
			Kind:             PromoConversionBonus,
			SuggestedMinimum: decimal.NewFromInt(100),
			SuggestedBonus:   decimal.NewFromInt(3),
			Reason:           "A larger litre liability guarantees return visits for redemption.",
		}}
	}

	return Advice{}
}
