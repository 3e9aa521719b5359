package buq_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openforecast/buq-engine/buq"
)

func usd(amount string) buq.Money { return buq.NewMoney(amount, "USD") }

func fundEntry(projected buq.Money) buq.SourceOfFundEntry {
	return buq.SourceOfFundEntry{
		SourceOfFundID:                "source-1",
		AmountUsedInLastFinancialYear: buq.ZeroMoney(projected.Currency),
		ProjectedFund:                 projected,
	}
}

// =============================================================================
// FUNDING TOTALS
// =============================================================================

func TestCalculateFunding_SumsProjectedFundsAndGap(t *testing.T) {
	// GIVEN: Two funding sources totalling 1500 against a 1200 cost
	entries := []buq.SourceOfFundEntry{
		fundEntry(usd("1000.00")),
		fundEntry(usd("500.00")),
	}

	totals, err := buq.CalculateFunding(entries, usd("1200.00"), "USD")
	require.NoError(t, err)

	// THEN: Gap is projected minus cost (surplus positive)
	assert.True(t, totals.TotalProjectedFund.Equal(usd("1500.00")), "projected = %s", totals.TotalProjectedFund.Amount)
	assert.True(t, totals.TotalForecastedCost.Equal(usd("1200.00")))
	assert.True(t, totals.Gap.Equal(usd("300.00")), "gap = %s", totals.Gap.Amount)
}

func TestCalculateFunding_ShortfallIsNegativeGap(t *testing.T) {
	entries := []buq.SourceOfFundEntry{fundEntry(usd("100.00"))}

	totals, err := buq.CalculateFunding(entries, usd("250.00"), "USD")
	require.NoError(t, err)

	assert.True(t, totals.Gap.Equal(usd("-150.00")), "gap = %s", totals.Gap.Amount)
}

func TestCalculateFunding_NoSources(t *testing.T) {
	totals, err := buq.CalculateFunding(nil, usd("80.00"), "USD")
	require.NoError(t, err)

	assert.True(t, totals.TotalProjectedFund.Equal(usd("0")))
	assert.True(t, totals.Gap.Equal(usd("-80.00")))
}

func TestCalculateFunding_CurrencyMismatchFails(t *testing.T) {
	entries := []buq.SourceOfFundEntry{fundEntry(buq.NewMoney("100.00", "EUR"))}

	_, err := buq.CalculateFunding(entries, usd("100.00"), "USD")
	require.Error(t, err)
	assert.Equal(t, "currencyMismatch", buq.Key(err))
	assert.True(t, buq.IsValidation(err))
}

// =============================================================================
// FORECASTED COST
// =============================================================================

func TestCalculateForecastedCost_PacksTimesPrice(t *testing.T) {
	// GIVEN: Demand of 251 units in packs of 100, threshold 50 -> 3 packs
	items := []buq.LineItem{
		{OrderableID: "orderable-1", ForecastedDemand: int64p(251)},
	}
	costings := map[string]buq.ProductCosting{
		"orderable-1": {
			Packaging:    buq.Packaging{NetContent: 100, PackRoundingThreshold: 50},
			PricePerPack: usd("10.00"),
		},
	}

	cost, err := buq.CalculateForecastedCost(items, costings, "USD")
	require.NoError(t, err)
	assert.True(t, cost.Equal(usd("30.00")), "cost = %s", cost.Amount)
}

func TestCalculateForecastedCost_VerifiedConsumptionOverridesDemand(t *testing.T) {
	// GIVEN: A reviewer-verified figure alongside the forecasted demand
	items := []buq.LineItem{
		{
			OrderableID:                       "orderable-1",
			ForecastedDemand:                  int64p(1000),
			VerifiedAnnualAdjustedConsumption: int64p(100),
		},
	}
	costings := map[string]buq.ProductCosting{
		"orderable-1": {
			Packaging:    buq.Packaging{NetContent: 100, PackRoundingThreshold: 50},
			PricePerPack: usd("10.00"),
		},
	}

	cost, err := buq.CalculateForecastedCost(items, costings, "USD")
	require.NoError(t, err)

	// THEN: The verified 100 units (1 pack) win over the 1000-unit demand
	assert.True(t, cost.Equal(usd("10.00")), "cost = %s", cost.Amount)
}

func TestCalculateForecastedCost_SkipsUnpricedAndDemandlessItems(t *testing.T) {
	items := []buq.LineItem{
		{OrderableID: "orderable-no-demand"},
		{OrderableID: "orderable-no-costing", ForecastedDemand: int64p(500)},
		{OrderableID: "orderable-1", ForecastedDemand: int64p(100)},
	}
	costings := map[string]buq.ProductCosting{
		"orderable-1": {
			Packaging:    buq.Packaging{NetContent: 100, PackRoundingThreshold: 50},
			PricePerPack: usd("4.50"),
		},
	}

	cost, err := buq.CalculateForecastedCost(items, costings, "USD")
	require.NoError(t, err)
	assert.True(t, cost.Equal(usd("4.50")))
}

// =============================================================================
// MONEY
// =============================================================================

func TestMoney_MixedCurrencyArithmeticFails(t *testing.T) {
	_, err := usd("1.00").Add(buq.NewMoney("1.00", "EUR"))
	require.Error(t, err)

	var cErr *buq.CurrencyMismatchError
	require.ErrorAs(t, err, &cErr)
	assert.Equal(t, "USD", cErr.Left)
	assert.Equal(t, "EUR", cErr.Right)

	_, err = usd("1.00").Sub(buq.NewMoney("1.00", "EUR"))
	assert.Error(t, err)
}

func TestMoney_MulInt(t *testing.T) {
	assert.True(t, usd("2.50").MulInt(4).Equal(usd("10.00")))
	assert.True(t, usd("2.50").MulInt(0).Equal(usd("0")))
}
