package buq_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openforecast/buq-engine/buq"
)

func TestCalculatePacks(t *testing.T) {
	cases := []struct {
		name      string
		units     int64
		packaging buq.Packaging
		want      int64
	}{
		{
			name:      "exact multiple",
			units:     200,
			packaging: buq.Packaging{NetContent: 100, PackRoundingThreshold: 50},
			want:      2,
		},
		{
			name:      "remainder above threshold rounds up",
			units:     251,
			packaging: buq.Packaging{NetContent: 100, PackRoundingThreshold: 50},
			want:      3,
		},
		{
			name:      "remainder at threshold rounds down",
			units:     250,
			packaging: buq.Packaging{NetContent: 100, PackRoundingThreshold: 50},
			want:      2,
		},
		{
			name:      "remainder below threshold rounds down",
			units:     249,
			packaging: buq.Packaging{NetContent: 100, PackRoundingThreshold: 50},
			want:      2,
		},
		{
			name:      "zero packs bumped to one",
			units:     10,
			packaging: buq.Packaging{NetContent: 100, PackRoundingThreshold: 50},
			want:      1,
		},
		{
			name:      "zero packs stays zero when round-to-zero",
			units:     10,
			packaging: buq.Packaging{NetContent: 100, PackRoundingThreshold: 50, RoundToZero: true},
			want:      0,
		},
		{
			name:      "zero units order nothing",
			units:     0,
			packaging: buq.Packaging{NetContent: 100, PackRoundingThreshold: 50},
			want:      0,
		},
		{
			name:      "negative units order nothing",
			units:     -5,
			packaging: buq.Packaging{NetContent: 100, PackRoundingThreshold: 50},
			want:      0,
		},
		{
			name:      "zero net content orders nothing",
			units:     500,
			packaging: buq.Packaging{NetContent: 0, PackRoundingThreshold: 0},
			want:      0,
		},
		{
			name:      "zero threshold rounds any remainder up",
			units:     101,
			packaging: buq.Packaging{NetContent: 100, PackRoundingThreshold: 0},
			want:      2,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, buq.CalculatePacks(tc.units, tc.packaging))
		})
	}
}
