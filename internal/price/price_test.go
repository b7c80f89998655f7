package price

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEUFormat(t *testing.T) {
	p := Parse("329,00€", "EUR")
	require.NotNil(t, p)
	assert.Equal(t, 329.0, p.Numeric)
	assert.Equal(t, "EUR", p.Currency)
}

func TestParseUSFormat(t *testing.T) {
	p := Parse("$1,299.99", "")
	require.NotNil(t, p)
	assert.Equal(t, 1299.99, p.Numeric)
	assert.Equal(t, "USD", p.Currency)
}

func TestParseThousandsSeparators(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want float64
	}{
		{"eu thousands", "1.299,00", 1299.0},
		{"us thousands", "1,299.00", 1299.0},
		{"eu plain", "249,00", 249.0},
		{"us plain", "249.00", 249.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Parse(tt.raw, "EUR")
			require.NotNil(t, p)
			assert.InDelta(t, tt.want, p.Numeric, 1e-9)
		})
	}
}

func TestParseRoundTripBothConventions(t *testing.T) {
	// The same amount written both ways parses to the same value.
	eu := Parse("€1.234,56", "")
	us := Parse("$1,234.56", "")
	require.NotNil(t, eu)
	require.NotNil(t, us)
	assert.InDelta(t, eu.Numeric, us.Numeric, 1e-9)
}

func TestParseCurrencyDetection(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"CA$19.99", "CAD"},
		{"A$19.99", "AUD"},
		{"$19.99", "USD"},
		{"EUR 249,00", "EUR"},
		{"1.00 XGBPX", ""}, // embedded code is not a token
	}
	for _, tt := range tests {
		p := Parse(tt.raw, "")
		require.NotNil(t, p, tt.raw)
		assert.Equal(t, tt.want, p.Currency, tt.raw)
	}
}

func TestParseFallbackCurrency(t *testing.T) {
	p := Parse("249,00", "eur")
	require.NotNil(t, p)
	assert.Equal(t, "EUR", p.Currency)
}

func TestParseUnparseable(t *testing.T) {
	assert.Nil(t, Parse("", "EUR"))
	assert.Nil(t, Parse("Not available", "EUR"))
	assert.Nil(t, Parse("€", "EUR"))
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "€329,00", Format(329, "EUR"))
	assert.Equal(t, "$1299.99", Format(1299.99, "USD"))
	assert.Equal(t, "CHF 12.50", Format(12.5, "chf"))
	assert.Equal(t, "12.50", Format(12.5, ""))
}
