package engine

import (
	"fmt"

	"github.com/securebank/ledger-core/internal/oracle"
)

// TierLimits caps what one source account may move per transaction and per
// UTC day, in the debited asset's minor unit. A zero cap means unlimited.
type TierLimits struct {
	SingleTransfer   int64
	DailyTransfer    int64
	SingleWithdrawal int64
	DailyWithdrawal  int64
	SingleCrypto     int64
	DailyCrypto      int64
}

// Single returns the per-transaction cap for t.
func (l TierLimits) Single(t TxType) int64 {
	switch t {
	case TxTransfer, TxBillPayment:
		return l.SingleTransfer
	case TxWithdrawal:
		return l.SingleWithdrawal
	case TxCryptoBuy, TxCryptoSell:
		return l.SingleCrypto
	}
	return 0
}

// Daily returns the per-day cap for t.
func (l TierLimits) Daily(t TxType) int64 {
	switch t {
	case TxTransfer, TxBillPayment:
		return l.DailyTransfer
	case TxWithdrawal:
		return l.DailyWithdrawal
	case TxCryptoBuy, TxCryptoSell:
		return l.DailyCrypto
	}
	return 0
}

// LimitPolicy maps KYC tiers to their limits. Unknown tiers fall back to
// BASIC.
type LimitPolicy map[oracle.Tier]TierLimits

// For returns the limits for tier.
func (p LimitPolicy) For(tier oracle.Tier) TierLimits {
	if l, ok := p[tier]; ok {
		return l
	}
	return p[oracle.TierBasic]
}

// DefaultLimits mirrors the platform's stock tier ladder (NGN kobo for the
// fiat-debited types). BASIC carries the stock per-user caps; the upper
// tiers scale them.
func DefaultLimits() LimitPolicy {
	return LimitPolicy{
		oracle.TierBasic: {
			SingleTransfer:   50_000_00,
			DailyTransfer:    100_000_00,
			SingleWithdrawal: 20_000_00,
			DailyWithdrawal:  50_000_00,
			SingleCrypto:     100_000_00,
			DailyCrypto:      200_000_00,
		},
		oracle.TierStandard: {
			SingleTransfer:   250_000_00,
			DailyTransfer:    500_000_00,
			SingleWithdrawal: 100_000_00,
			DailyWithdrawal:  250_000_00,
			SingleCrypto:     500_000_00,
			DailyCrypto:      1_000_000_00,
		},
		oracle.TierPremium: {
			SingleTransfer:   1_000_000_00,
			DailyTransfer:    2_000_000_00,
			SingleWithdrawal: 400_000_00,
			DailyWithdrawal:  1_000_000_00,
			SingleCrypto:     2_000_000_00,
			DailyCrypto:      4_000_000_00,
		},
		oracle.TierBusiness: {
			// Unlimited.
		},
	}
}

// LimitsFromOverrides applies per-tier cap overrides from configuration on
// top of the stock ladder. Caps not named keep their stock values; an
// unknown cap name is a startup error, not a silently unlimited account.
func LimitsFromOverrides(overrides map[string]map[string]int64) (LimitPolicy, error) {
	policy := DefaultLimits()
	for tier, caps := range overrides {
		limits := policy[oracle.Tier(tier)]
		for cap, v := range caps {
			switch cap {
			case "SINGLE_TRANSFER":
				limits.SingleTransfer = v
			case "DAILY_TRANSFER":
				limits.DailyTransfer = v
			case "SINGLE_WITHDRAWAL":
				limits.SingleWithdrawal = v
			case "DAILY_WITHDRAWAL":
				limits.DailyWithdrawal = v
			case "SINGLE_CRYPTO":
				limits.SingleCrypto = v
			case "DAILY_CRYPTO":
				limits.DailyCrypto = v
			default:
				return nil, fmt.Errorf("unknown limit cap %s for tier %s", cap, tier)
			}
		}
		policy[oracle.Tier(tier)] = limits
	}
	return policy, nil
}
