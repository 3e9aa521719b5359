/*
packs.go - Dispensing units to packs-to-order conversion

PURPOSE:

	Converts a quantity of dispensing units into whole packs given the
	product's packaging. All arithmetic is integer; there is no
	floating-point rounding anywhere in the path.

ROUNDING RULES:
  - Non-positive quantity or zero net content orders nothing.
  - A remainder strictly above the rounding threshold adds one pack.
  - A result of zero packs becomes one pack unless the product is
    flagged round-to-zero.
*/
package buq

// Packaging describes how a product is packed and priced.
type Packaging struct {
	NetContent            int64
	PackRoundingThreshold int64
	RoundToZero           bool
}

// CalculatePacks returns the number of packs to order for the given
// quantity of dispensing units.
func CalculatePacks(dispensingUnits int64, p Packaging) int64 {
	if dispensingUnits <= 0 || p.NetContent == 0 {
		return 0
	}

	packs := dispensingUnits / p.NetContent
	remainder := dispensingUnits % p.NetContent

	if remainder > 0 && remainder > p.PackRoundingThreshold {
		packs++
	}
	if packs == 0 && !p.RoundToZero {
		packs = 1
	}
	return packs
}
