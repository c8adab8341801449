package paychmgr

import (
	"time"

	"github.com/raulk/clock"
	"github.com/samber/lo"

	"github.com/aachannels/aachan/chain/types"
)

type ExposureConfig struct {
	// MaxUnconfirmedByAsset caps, across all channels, how much unconfirmed
	// peer deposits in an asset may be spent. Assets not listed use
	// DefaultMaxUnconfirmed.
	MaxUnconfirmedByAsset map[types.Asset]int64
	DefaultMaxUnconfirmed int64
	// MaxUnconfirmedByChannel caps the same amount per channel.
	MaxUnconfirmedByChannel int64
	// MinAge is how long a peer deposit must have been visible before it is
	// counted at all.
	MinAge time.Duration
}

// ExposurePolicy decides how much of the peer's not yet stable deposits this
// node accepts payments against.
type ExposurePolicy struct {
	cfg   ExposureConfig
	clock clock.Clock
}

func NewExposurePolicy(cfg ExposureConfig, clk clock.Clock) *ExposurePolicy {
	return &ExposurePolicy{cfg: cfg, clock: clk}
}

func (p *ExposurePolicy) assetCeiling(asset types.Asset) int64 {
	if c, ok := p.cfg.MaxUnconfirmedByAsset[types.Asset(asset.String())]; ok {
		return c
	}
	return p.cfg.DefaultMaxUnconfirmed
}

// Allowed returns how much unconfirmed credit the peer may use in ci.
// usedElsewhere is the unconfirmed credit already used in other channels of
// the same asset. The result never drops below what ci has already used.
func (p *ExposurePolicy) Allowed(ci *ChannelInfo, pending []*PendingUnit, usedElsewhere int64) int64 {
	floor := ci.UnconfirmedAmountSpentByPeer

	risky := lo.SomeBy(pending, func(pu *PendingUnit) bool {
		return pu.CloseChannel || pu.IsBadSequence
	})
	if risky {
		return floor
	}
	definitionSeen := ci.IsDefinitionConfirmed || lo.SomeBy(pending, func(pu *PendingUnit) bool {
		return pu.HasDefinition
	})
	if !definitionSeen {
		return floor
	}

	cutoff := p.clock.Now().Add(-p.cfg.MinAge)
	aged := lo.SumBy(pending, func(pu *PendingUnit) int64 {
		if pu.Amount <= 0 || pu.ObservedAt.After(cutoff) {
			return 0
		}
		return pu.Amount
	})

	allowed := min(p.assetCeiling(ci.Asset)-usedElsewhere, p.cfg.MaxUnconfirmedByChannel, aged)
	return max(floor, allowed)
}
