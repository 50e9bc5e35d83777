package trigger

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func int32p(v int32) *int32 { return &v }

func TestPrices(t *testing.T) {
	tests := []struct {
		name    string
		ref     string
		coeff   string
		offsets []string
		scale   *int32
		want    []string
	}{
		{"large price keeps one decimal", "43200", "92.5", nil, nil, []string{"39920.0", "40000.0"}},
		{"sub-unit price", "0.1234", "90", nil, nil, []string{"0.110949", "0.111171"}},
		{"tiny price", "0.00001234", "100", nil, nil, []string{"0.0000123277", "0.0000123523"}},
		{"scale override", "43200", "92.5", nil, int32p(0), []string{"39920", "40000"}},
		{"half rounds up", "100", "100", []string{"100.0005"}, nil, []string{"100.001"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Calculator{SigDigits: 6}
			for _, o := range tt.offsets {
				c.Offsets = append(c.Offsets, d(o))
			}
			got, err := c.Prices(d(tt.ref), d(tt.coeff), tt.scale)
			require.NoError(t, err)
			require.Len(t, got, len(tt.want))
			for i, w := range tt.want {
				assert.True(t, got[i].Equal(d(w)), "price %d: got %s want %s", i, got[i], w)
			}
		})
	}
}

func TestPricesRejectsBadInput(t *testing.T) {
	c := &Calculator{SigDigits: 6}
	_, err := c.Prices(decimal.Zero, d("90"), nil)
	assert.ErrorIs(t, err, ErrNonPositivePrice)

	_, err = c.Prices(d("100"), d("-1"), nil)
	assert.Error(t, err)
}

func TestScaleFor(t *testing.T) {
	tests := []struct {
		v    string
		want int32
	}{
		{"39960", 1},
		{"1", 5},
		{"123456", 0},
		{"1234567", 0},
		{"0.5", 6},
		{"0.00123", 8},
		{"100.00", 3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ScaleFor(d(tt.v), 6), tt.v)
	}
}

func TestSizeFor(t *testing.T) {
	tests := []struct {
		notional, price, want string
	}{
		{"170", "100", "1.7"},
		{"170", "39920", "0.004258"},
		{"170", "43000000", "0.00000395"},
		{"170", "3", "56.6666"},
	}
	for _, tt := range tests {
		got, err := SizeFor(d(tt.notional), d(tt.price))
		require.NoError(t, err)
		assert.True(t, got.Equal(d(tt.want)), "%s/%s: got %s want %s", tt.notional, tt.price, got, tt.want)
	}

	_, err := SizeFor(d("0.000000001"), d("1"))
	assert.ErrorIs(t, err, ErrZeroSize)

	_, err = SizeFor(d("170"), decimal.Zero)
	assert.ErrorIs(t, err, ErrNonPositivePrice)
}
