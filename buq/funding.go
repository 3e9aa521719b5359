/*
funding.go - Funding and cost aggregation

PURPOSE:

	Two calculators feeding FundingDetails:

	CalculateFunding aggregates per-source funding entries into the
	projected-fund total and the gap against a separately supplied
	forecasted cost.

	CalculateForecastedCost derives that forecasted cost from line items:
	demand converted to packs (packs.go) times pack price, summed across
	products. Verified consumption overrides forecasted demand when a
	reviewer has entered one.

CURRENCY:

	All amounts must share one currency. A mismatch is a fatal
	precondition violation (CurrencyMismatchError), never averaged away.
*/
package buq

// FundingTotals is the output of CalculateFunding.
type FundingTotals struct {
	TotalProjectedFund  Money
	TotalForecastedCost Money
	Gap                 Money
}

// CalculateFunding sums the entries' projected funds and computes the gap
// against totalForecastedCost. The currency argument anchors the zero
// value for empty entry lists.
func CalculateFunding(entries []SourceOfFundEntry, totalForecastedCost Money, currency string) (FundingTotals, error) {
	totalProjected := ZeroMoney(currency)
	for _, entry := range entries {
		sum, err := totalProjected.Add(entry.ProjectedFund)
		if err != nil {
			return FundingTotals{}, err
		}
		totalProjected = sum
	}

	gap, err := totalProjected.Sub(totalForecastedCost)
	if err != nil {
		return FundingTotals{}, err
	}

	return FundingTotals{
		TotalProjectedFund:  totalProjected,
		TotalForecastedCost: totalForecastedCost,
		Gap:                 gap,
	}, nil
}

// ProductCosting is the packaging and price of one orderable, keyed by
// orderable id at the call site.
type ProductCosting struct {
	Packaging    Packaging
	PricePerPack Money
}

// CalculateForecastedCost sums pack cost over the quantification's line
// items. A line item with no demand, or no costing entry for its
// orderable, contributes nothing.
func CalculateForecastedCost(items []LineItem, costings map[string]ProductCosting, currency string) (Money, error) {
	total := ZeroMoney(currency)
	for _, item := range items {
		demand := item.ForecastedDemand
		if item.VerifiedAnnualAdjustedConsumption != nil {
			demand = item.VerifiedAnnualAdjustedConsumption
		}
		if demand == nil {
			continue
		}
		costing, ok := costings[item.OrderableID]
		if !ok {
			continue
		}

		packs := CalculatePacks(*demand, costing.Packaging)
		sum, err := total.Add(costing.PricePerPack.MulInt(packs))
		if err != nil {
			return Money{}, err
		}
		total = sum
	}
	return total, nil
}
