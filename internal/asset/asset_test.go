package asset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c := Default()

	ngn, ok := c.Lookup("FIAT_NGN")
	require.True(t, ok)
	assert.Equal(t, KindFiat, ngn.Kind)
	assert.Equal(t, int32(2), ngn.Decimals)
	assert.False(t, ngn.IsPriced())

	btc, ok := c.Lookup("BTC")
	require.True(t, ok)
	assert.Equal(t, KindCrypto, btc.Kind)
	assert.Equal(t, int32(8), btc.Decimals)
	assert.True(t, btc.IsPriced())

	_, ok = c.Lookup("DOGE")
	assert.False(t, ok)
}

func TestRegisterGiftCard(t *testing.T) {
	c := NewCatalog()
	a := c.RegisterGiftCard(" sephora ")

	assert.Equal(t, "GIFTCARD_SEPHORA", a.Code)
	assert.Equal(t, KindGiftCard, a.Kind)
	assert.True(t, a.IsPriced())

	got, ok := c.Lookup("GIFTCARD_SEPHORA")
	require.True(t, ok)
	assert.Equal(t, a, got)
}

func TestMustLookupPanics(t *testing.T) {
	c := NewCatalog()
	assert.Panics(t, func() { c.MustLookup("GHOST") })
}
