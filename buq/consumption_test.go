package buq_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/openforecast/buq-engine/buq"
)

func fiscalYear2025() buq.Period {
	return buq.Period{
		ID:        "period-fy25",
		StartDate: time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC),
	}
}

func historyRow(consumption *int64, start, end time.Time) buq.HistoricalLineItem {
	return buq.HistoricalLineItem{
		OrderableID:         "orderable-1",
		AdjustedConsumption: consumption,
		StartDate:           start,
		EndDate:             end,
	}
}

func int64p(v int64) *int64 { return &v }

func TestCalculateAnnualAdjustedConsumption_SumsContainedWindows(t *testing.T) {
	// GIVEN: Three monthly requisitions fully inside the period
	period := fiscalYear2025()
	items := []buq.HistoricalLineItem{
		historyRow(int64p(4), time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 7, 31, 0, 0, 0, 0, time.UTC)),
		historyRow(int64p(5), time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 8, 31, 0, 0, 0, 0, time.UTC)),
		historyRow(int64p(6), time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 9, 30, 0, 0, 0, 0, time.UTC)),
	}

	// THEN: The annual figure is their sum
	assert.Equal(t, int64(15), buq.CalculateAnnualAdjustedConsumption(items, period))
}

func TestCalculateAnnualAdjustedConsumption_ExcludesPartialOverlap(t *testing.T) {
	// GIVEN: One contained row and two straddling the period boundary
	period := fiscalYear2025()
	items := []buq.HistoricalLineItem{
		// Starts before the period.
		historyRow(int64p(100), time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC), time.Date(2025, 7, 15, 0, 0, 0, 0, time.UTC)),
		// Ends after the period.
		historyRow(int64p(100), time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC), time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC)),
		historyRow(int64p(7), time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 10, 31, 0, 0, 0, 0, time.UTC)),
	}

	// THEN: Partial overlap contributes nothing; no proration
	assert.Equal(t, int64(7), buq.CalculateAnnualAdjustedConsumption(items, period))
}

func TestCalculateAnnualAdjustedConsumption_BoundaryInclusive(t *testing.T) {
	// GIVEN: A row spanning exactly the whole period
	period := fiscalYear2025()
	items := []buq.HistoricalLineItem{
		historyRow(int64p(42), period.StartDate, period.EndDate),
	}

	assert.Equal(t, int64(42), buq.CalculateAnnualAdjustedConsumption(items, period))
}

func TestCalculateAnnualAdjustedConsumption_NilConsumptionCountsAsZero(t *testing.T) {
	period := fiscalYear2025()
	items := []buq.HistoricalLineItem{
		historyRow(nil, time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 7, 31, 0, 0, 0, 0, time.UTC)),
		historyRow(int64p(3), time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 8, 31, 0, 0, 0, 0, time.UTC)),
	}

	assert.Equal(t, int64(3), buq.CalculateAnnualAdjustedConsumption(items, period))
}

func TestCalculateAnnualAdjustedConsumption_EmptyHistory(t *testing.T) {
	assert.Equal(t, int64(0), buq.CalculateAnnualAdjustedConsumption(nil, fiscalYear2025()))
}
