// Package oracle declares the adapter interfaces the ledger core consumes:
// pricing lookups, settlement verification, and KYC tier resolution. Each
// has one concrete variant per provider, selected by configuration; the core
// never calls an adapter while holding account locks.
package oracle

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnknownAsset is returned when no rate exists for an asset.
	ErrUnknownAsset = errors.New("no rate for asset")
	// ErrUnknownReference is returned when a settlement reference cannot
	// be matched.
	ErrUnknownReference = errors.New("settlement reference not found")
)

// Rate is a point-in-time exchange-rate snapshot: Price is the fiat
// minor-unit value of one whole unit of the asset.
type Rate struct {
	Asset     string
	Price     decimal.Decimal
	AsOf      time.Time
	ExpiresAt time.Time
}

// FreshAt reports whether the rate may still be applied at t under the
// given freshness threshold.
func (r Rate) FreshAt(t time.Time, threshold time.Duration) bool {
	if !r.ExpiresAt.IsZero() && t.After(r.ExpiresAt) {
		return false
	}
	return t.Sub(r.AsOf) <= threshold
}

// PricingOracle supplies exchange rates for priced assets (crypto,
// gift-card credit).
type PricingOracle interface {
	GetRate(ctx context.Context, assetCode string) (Rate, error)
}

// SettlementEvent is a confirmed external payment, delivered by a payment
// gateway and matched to a request by caller-supplied reference.
type SettlementEvent struct {
	Reference string
	Asset     string
	Amount    int64
	SettledAt time.Time
}

// SettlementGateway verifies that an off-system payment completed.
type SettlementGateway interface {
	VerifySettlement(ctx context.Context, reference string) (SettlementEvent, error)
}

// Tier is a user's KYC verification level, gating transaction limits.
type Tier string

const (
	TierBasic    Tier = "BASIC"
	TierStandard Tier = "STANDARD"
	TierPremium  Tier = "PREMIUM"
	TierBusiness Tier = "BUSINESS"
)

// AuthProvider resolves the authenticated owner's KYC tier. Onboarding and
// authentication themselves live outside the core.
type AuthProvider interface {
	KYCTier(ctx context.Context, ownerID string) (Tier, error)
}
