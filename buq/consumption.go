/*
consumption.go - Annual adjusted consumption from requisition history

PURPOSE:

	Computes a product's annual adjusted consumption from historical
	requisition line items, restricted to a processing-period window.
	Pure and deterministic: no I/O, no clock.

WINDOW RULE:

	A historical item counts only when its [StartDate, EndDate] window is
	FULLY contained in the period (inclusive on both ends). Partial overlap
	is excluded outright, never prorated.

SEE ALSO:
  - workflow.go: feeds requisition history through this at preparation
  - refdata: source of HistoricalLineItem records
*/
package buq

import "time"

// Period is a processing-period window, inclusive on both ends.
type Period struct {
	ID        string
	StartDate time.Time
	EndDate   time.Time
}

// Contains reports whether [start, end] lies fully inside the period.
func (p Period) Contains(start, end time.Time) bool {
	return !start.Before(p.StartDate) && !end.After(p.EndDate)
}

// HistoricalLineItem is one requisition row from history, the input to
// consumption calculation. AdjustedConsumption is nil when the source
// requisition never recorded one; it counts as zero.
type HistoricalLineItem struct {
	OrderableID         string
	AdjustedConsumption *int64
	StartDate           time.Time
	EndDate             time.Time
}

// CalculateAnnualAdjustedConsumption sums adjusted consumption over the
// historical items fully contained in period. Empty input yields 0.
func CalculateAnnualAdjustedConsumption(items []HistoricalLineItem, period Period) int64 {
	var total int64
	for _, item := range items {
		if !period.Contains(item.StartDate, item.EndDate) {
			continue
		}
		if item.AdjustedConsumption != nil {
			total += *item.AdjustedConsumption
		}
	}
	return total
}
