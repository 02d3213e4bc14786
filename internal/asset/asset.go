package asset

import (
	"fmt"
	"strings"
)

// Kind classifies an asset for pricing and settlement purposes.
type Kind string

const (
	KindFiat     Kind = "FIAT"
	KindCrypto   Kind = "CRYPTO"
	KindGiftCard Kind = "GIFTCARD"
)

// Asset describes a single asset the ledger can hold. Amounts are always
// expressed in the asset's minor unit; Decimals is the number of minor-unit
// digits per whole unit (2 for NGN kobo, 8 for BTC satoshi).
type Asset struct {
	Code     string `json:"code"`
	Kind     Kind   `json:"kind"`
	Decimals int32  `json:"decimals"`
}

// Catalog holds the set of assets recognized by the ledger.
type Catalog struct {
	assets map[string]Asset
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{assets: make(map[string]Asset)}
}

// Default returns a catalog seeded with the assets the platform supports
// out of the box.
func Default() *Catalog {
	c := NewCatalog()
	c.Register(Asset{Code: "FIAT_NGN", Kind: KindFiat, Decimals: 2})
	c.Register(Asset{Code: "BTC", Kind: KindCrypto, Decimals: 8})
	c.Register(Asset{Code: "ETH", Kind: KindCrypto, Decimals: 8})
	c.Register(Asset{Code: "USDT", Kind: KindCrypto, Decimals: 6})
	c.Register(Asset{Code: "GIFTCARD_AMAZON", Kind: KindGiftCard, Decimals: 2})
	c.Register(Asset{Code: "GIFTCARD_ITUNES", Kind: KindGiftCard, Decimals: 2})
	c.Register(Asset{Code: "GIFTCARD_STEAM", Kind: KindGiftCard, Decimals: 2})
	return c
}

// Register adds or replaces an asset definition.
func (c *Catalog) Register(a Asset) {
	c.assets[a.Code] = a
}

// RegisterGiftCard registers a gift-card asset for the given retailer
// (two minor-unit digits, face value denominated).
func (c *Catalog) RegisterGiftCard(retailer string) Asset {
	a := Asset{
		Code:     "GIFTCARD_" + strings.ToUpper(strings.TrimSpace(retailer)),
		Kind:     KindGiftCard,
		Decimals: 2,
	}
	c.Register(a)
	return a
}

// Lookup returns the asset for code, if recognized.
func (c *Catalog) Lookup(code string) (Asset, bool) {
	a, ok := c.assets[code]
	return a, ok
}

// MustLookup is Lookup that panics on unknown codes. Intended for wiring
// code paths where the code was already validated.
func (c *Catalog) MustLookup(code string) Asset {
	a, ok := c.assets[code]
	if !ok {
		panic(fmt.Sprintf("asset %q not in catalog", code))
	}
	return a
}

// IsPriced reports whether transactions in this asset require an exchange
// rate from the pricing oracle.
func (a Asset) IsPriced() bool {
	return a.Kind == KindCrypto || a.Kind == KindGiftCard
}
