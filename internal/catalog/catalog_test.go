package catalog

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_ResolvesEveryProduct(t *testing.T) {
	c := Default()
	want := map[string]string{
		"control-x":    "75",
		"2k":           "35",
		"cod":          "20",
		"apex":         "15",
		"arc":          "25",
		"fortnite":     "20",
		"siege":        "20",
		"rust":         "20",
		"all-scripts":  "100",
		"vision-x":     "500",
		"vision-setup": "25",
	}
	require.Len(t, c.Products(), len(want))
	for id, price := range want {
		p, ok := c.Resolve(id)
		require.True(t, ok, id)
		assert.True(t, p.Price.Equal(decimal.RequireFromString(price)), "%s: got %s", id, p.Price)
	}
	assert.Equal(t, "usd", c.Currency())
}

func TestResolve_Unknown(t *testing.T) {
	_, ok := Default().Resolve("APEX")
	assert.False(t, ok)
}

func TestPromo(t *testing.T) {
	c := Default()
	cutoff := time.Date(2026, 12, 31, 23, 59, 59, 0, time.UTC)

	p, err := c.Promo(" 2000! ", cutoff.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(50), p.PercentOff)
	assert.Equal(t, int64(750), p.Apply(1500))
	assert.Equal(t, int64(1750), p.Apply(3500))

	_, err = c.Promo("2000!", cutoff.Add(time.Second))
	assert.ErrorIs(t, err, ErrPromoExpired)

	_, err = c.Promo("1999!", cutoff.Add(-time.Hour))
	assert.ErrorIs(t, err, ErrPromoInvalid)
}

func TestParse_Validation(t *testing.T) {
	cases := map[string]string{
		"duplicate": "products:\n  - {id: a, name: A, price: \"1\"}\n  - {id: a, name: B, price: \"2\"}\n",
		"bad price": "products:\n  - {id: a, name: A, price: \"x\"}\n",
		"zero":      "products:\n  - {id: a, name: A, price: \"0\"}\n",
		"percent":   "promos:\n  - {code: X, percent_off: 0}\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(doc))
			assert.Error(t, err)
		})
	}
}
