package oracle

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// StaticOracle serves rates from a fixed price table, stamping each lookup
// with the current time. Used in dev mode and tests; production wires a
// provider-backed implementation instead.
type StaticOracle struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
	ttl    time.Duration
	now    func() time.Time
}

// NewStaticOracle creates an oracle over the given whole-unit prices (fiat
// minor units per whole asset unit). Each rate is valid for ttl.
func NewStaticOracle(prices map[string]decimal.Decimal, ttl time.Duration) *StaticOracle {
	cp := make(map[string]decimal.Decimal, len(prices))
	for k, v := range prices {
		cp[k] = v
	}
	return &StaticOracle{prices: cp, ttl: ttl, now: time.Now}
}

// SetPrice updates or adds a price.
func (o *StaticOracle) SetPrice(assetCode string, price decimal.Decimal) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prices[assetCode] = price
}

func (o *StaticOracle) GetRate(ctx context.Context, assetCode string) (Rate, error) {
	o.mu.RLock()
	price, ok := o.prices[assetCode]
	o.mu.RUnlock()
	if !ok {
		return Rate{}, ErrUnknownAsset
	}
	now := o.now().UTC()
	return Rate{
		Asset:     assetCode,
		Price:     price,
		AsOf:      now,
		ExpiresAt: now.Add(o.ttl),
	}, nil
}

// StaticGateway verifies settlements against a fixed table of confirmed
// events, keyed by reference.
type StaticGateway struct {
	mu     sync.RWMutex
	events map[string]SettlementEvent
}

// NewStaticGateway creates a gateway over the given confirmed events.
func NewStaticGateway(events map[string]SettlementEvent) *StaticGateway {
	cp := make(map[string]SettlementEvent, len(events))
	for k, v := range events {
		cp[k] = v
	}
	return &StaticGateway{events: cp}
}

// Confirm records a settled external payment.
func (g *StaticGateway) Confirm(evt SettlementEvent) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.events[evt.Reference] = evt
}

func (g *StaticGateway) VerifySettlement(ctx context.Context, reference string) (SettlementEvent, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	evt, ok := g.events[reference]
	if !ok {
		return SettlementEvent{}, ErrUnknownReference
	}
	return evt, nil
}

// StaticTiers maps owner ids to KYC tiers, defaulting unknown owners to
// BASIC.
type StaticTiers struct {
	mu    sync.RWMutex
	tiers map[string]Tier
}

// NewStaticTiers creates a tier provider over the given assignments.
func NewStaticTiers(tiers map[string]Tier) *StaticTiers {
	cp := make(map[string]Tier, len(tiers))
	for k, v := range tiers {
		cp[k] = v
	}
	return &StaticTiers{tiers: cp}
}

// Assign sets an owner's tier.
func (p *StaticTiers) Assign(ownerID string, tier Tier) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tiers[ownerID] = tier
}

func (p *StaticTiers) KYCTier(ctx context.Context, ownerID string) (Tier, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if tier, ok := p.tiers[ownerID]; ok {
		return tier, nil
	}
	return TierBasic, nil
}

var (
	_ PricingOracle     = (*StaticOracle)(nil)
	_ SettlementGateway = (*StaticGateway)(nil)
	_ AuthProvider      = (*StaticTiers)(nil)
)
