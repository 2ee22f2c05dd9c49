package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFeeFils_Rounding(t *testing.T) {
	cases := []struct {
		name   string
		amount int64
		bps    int64
		want   int64
	}{
		{"exact", 10000, 250, 250},         // 2.5% of 100.00 = 2.50
		{"rounds down", 1001, 100, 10},     // 10.01 → 10
		{"tie rounds up", 50, 100, 1},      // 0.5 → 1
		{"rounds up", 199, 100, 2},         // 1.99 → 2
		{"zero amount", 0, 250, 0},
		{"zero bps", 12345, 0, 0},
		{"negative amount", -100, 250, 0},
		{"one fils", 1, 1, 0},              // 0.0001 → 0
		{"large trade", 1_000_000_000, 175, 17_500_000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, FeeFils(tc.amount, tc.bps))
		})
	}
}

// Fee of a sum never drifts more than one fils per term from the sum of
// per-term fees; each term is itself exactly rounded.
func TestFeeFils_NoCumulativeDrift(t *testing.T) {
	var sum int64
	for i := int64(1); i <= 1000; i++ {
		sum += FeeFils(i, 250)
	}
	var exact int64
	for i := int64(1); i <= 1000; i++ {
		n := i * 250
		f := n / 10000
		if (n%10000)*2 >= 10000 {
			f++
		}
		exact += f
	}
	assert.Equal(t, exact, sum)
}

func TestTotal(t *testing.T) {
	assert.Equal(t, int64(600_000), Total(60, 10_000))
	assert.Equal(t, int64(0), Total(0, 10_000))
}
