/*
types.go - Core domain types for Bottom-Up Quantification

PURPOSE:

	Defines the BottomUpQuantification aggregate and everything it owns:
	line items, the append-only status-change history, funding details and
	rejections, plus the Money value type used for all monetary amounts.

KEY CONCEPTS:
  - BottomUpQuantification: facility-level forecasting document, the
    aggregate root. One per (facility, processing period).
  - LineItem: one product's consumption/demand row. Owned; replaced
    wholesale on save, never merged.
  - StatusChange: immutable audit record of one transition. The
    aggregate's Status is always the status of the latest StatusChange.
  - Rejection: reason/comment pair tied 1:1 to a rejecting StatusChange.
  - FundingDetails: projected fund vs forecasted cost and their gap.

DESIGN PRINCIPLES:
 1. Immutability: StatusChanges are appended, never edited or removed.
 2. Precision: Money wraps decimal.Decimal; no floats near currency.
 3. Explicit ownership: replacing line items and appending status
    changes are aggregate methods, not storage side effects.

SEE ALSO:
  - status.go: the Status values and transition policy
  - workflow.go: the only writer of these types
*/
package buq

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Fixed-point amount with explicit currency
// =============================================================================

// Money is a fixed-point monetary amount. Arithmetic across currencies is
// a precondition violation surfaced as CurrencyMismatchError.
type Money struct {
	Amount   decimal.Decimal
	Currency string
}

// NewMoney builds a Money from a decimal string, panicking on malformed
// input. Intended for literals in wiring and tests.
func NewMoney(amount string, currency string) Money {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		panic("buq: malformed money literal: " + amount)
	}
	return Money{Amount: d, Currency: currency}
}

// ZeroMoney returns a zero amount in the given currency.
func ZeroMoney(currency string) Money {
	return Money{Amount: decimal.Zero, Currency: currency}
}

// Add returns m+other, failing on mixed currencies.
func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, &CurrencyMismatchError{Left: m.Currency, Right: other.Currency}
	}
	return Money{Amount: m.Amount.Add(other.Amount), Currency: m.Currency}, nil
}

// Sub returns m-other, failing on mixed currencies.
func (m Money) Sub(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, &CurrencyMismatchError{Left: m.Currency, Right: other.Currency}
	}
	return Money{Amount: m.Amount.Sub(other.Amount), Currency: m.Currency}, nil
}

// MulInt returns m scaled by an integer factor (e.g. packs × price).
func (m Money) MulInt(n int64) Money {
	return Money{Amount: m.Amount.Mul(decimal.NewFromInt(n)), Currency: m.Currency}
}

// Equal reports value equality including currency.
func (m Money) Equal(other Money) bool {
	return m.Currency == other.Currency && m.Amount.Equal(other.Amount)
}

// =============================================================================
// AGGREGATE ROOT
// =============================================================================

// BottomUpQuantification is the aggregate root: one forecasting document
// for one facility and processing period, advancing through the workflow
// states in status.go.
type BottomUpQuantification struct {
	ID                 string
	FacilityID         string
	ProgramID          string
	ProcessingPeriodID string

	// SupervisoryNodeID routes approval-queue membership. Captured from
	// the facility record at preparation time.
	SupervisoryNodeID string

	// TargetYear is derived from the processing period's end date.
	TargetYear int

	Status         Status
	LineItems      []LineItem
	StatusChanges  []StatusChange
	FundingDetails *FundingDetails

	CreatedDate  time.Time
	ModifiedDate time.Time

	// Version backs optimistic concurrency at the store. Incremented by
	// the store on every successful update.
	Version int64
}

// CurrentStatusChange returns the most recently appended StatusChange,
// or nil for a freshly constructed aggregate.
func (q *BottomUpQuantification) CurrentStatusChange() *StatusChange {
	if len(q.StatusChanges) == 0 {
		return nil
	}
	return &q.StatusChanges[len(q.StatusChanges)-1]
}

// AppendStatusChange records a transition to status by authorID at now,
// and is the ONLY way Status may change. Keeping the mutation and the
// audit append in one method is what guarantees the two never diverge.
func (q *BottomUpQuantification) AppendStatusChange(id string, status Status, authorID string, now time.Time) *StatusChange {
	q.StatusChanges = append(q.StatusChanges, StatusChange{
		ID:           id,
		Status:       status,
		AuthorID:     authorID,
		OccurredDate: now,
	})
	q.Status = status
	q.ModifiedDate = now
	return &q.StatusChanges[len(q.StatusChanges)-1]
}

// ReplaceLineItems swaps the owned line-item collection wholesale.
// Previous items are discarded (orphan removal), not merged.
func (q *BottomUpQuantification) ReplaceLineItems(items []LineItem, now time.Time) {
	q.LineItems = make([]LineItem, len(items))
	copy(q.LineItems, items)
	q.ModifiedDate = now
}

// LatestStatusChangeOf returns the most recent StatusChange whose status
// equals s, or nil if none exists.
func (q *BottomUpQuantification) LatestStatusChangeOf(s Status) *StatusChange {
	for i := len(q.StatusChanges) - 1; i >= 0; i-- {
		if q.StatusChanges[i].Status == s {
			return &q.StatusChanges[i]
		}
	}
	return nil
}

// =============================================================================
// OWNED ENTITIES
// =============================================================================

// LineItem is one product row within a quantification. Consumption fields
// stay nil until computed or entered.
type LineItem struct {
	ID          string
	OrderableID string

	AnnualAdjustedConsumption         *int64
	VerifiedAnnualAdjustedConsumption *int64
	ForecastedDemand                  *int64
}

// StatusChange is the immutable audit record of one transition. Status is
// the state transitioned TO.
type StatusChange struct {
	ID           string
	Status       Status
	AuthorID     string
	OccurredDate time.Time
}

// Rejection carries the reasons and comment attached to exactly one
// rejecting StatusChange.
type Rejection struct {
	ID               string
	StatusChangeID   string
	QuantificationID string
	RejectionReasons []string
	GeneralComments  string
	CreatedDate      time.Time
}

// FundingDetails is the 1:1 owned funding sub-aggregate.
type FundingDetails struct {
	ID                  string
	QuantificationID    string
	TotalProjectedFund  Money
	TotalForecastedCost Money
	Gap                 Money
	SourcesOfFunds      []SourceOfFundEntry
}

// SourceOfFundEntry is one funding source's contribution.
type SourceOfFundEntry struct {
	ID                            string
	SourceOfFundID                string
	AmountUsedInLastFinancialYear Money
	ProjectedFund                 Money
}

// =============================================================================
// REFERENCE ENTITIES - simple record stores with uniqueness constraints
// =============================================================================

// Remark is a named annotation attached to line items by reviewers.
type Remark struct {
	ID          string
	Name        string
	Description string
}

// SourceOfFund is a named funding source referenced by funding entries.
type SourceOfFund struct {
	ID   string
	Name string
}

// ProductGroup clusters orderables for reporting.
type ProductGroup struct {
	ID   string
	Code string
	Name string
}
