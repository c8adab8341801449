package paychmgr

import (
	"testing"
	"time"

	"github.com/raulk/clock"
	"github.com/stretchr/testify/require"

	"github.com/aachannels/aachan/chain/types"
)

func TestExposureAllowed(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.Unix(1_700_000_000, 0))
	p := NewExposurePolicy(ExposureConfig{
		MaxUnconfirmedByAsset:   map[types.Asset]int64{types.AssetBase: 1e6},
		MaxUnconfirmedByChannel: 5e5,
		MinAge:                  time.Minute,
	}, clk)

	old := clk.Now().Add(-2 * time.Minute)
	fresh := clk.Now()

	ci := &ChannelInfo{Asset: types.AssetBase, IsDefinitionConfirmed: true}
	deposit := func(amount int64, at time.Time) *PendingUnit {
		return &PendingUnit{Unit: "u", Amount: amount, ObservedAt: at}
	}

	testCases := []struct {
		name          string
		ci            ChannelInfo
		pending       []*PendingUnit
		usedElsewhere int64
		expected      int64
	}{{
		name:     "no pending deposits",
		ci:       *ci,
		expected: 0,
	}, {
		name:     "aged deposit under ceilings",
		ci:       *ci,
		pending:  []*PendingUnit{deposit(2e5, old)},
		expected: 2e5,
	}, {
		name:     "fresh deposits are not counted",
		ci:       *ci,
		pending:  []*PendingUnit{deposit(2e5, old), deposit(1e5, fresh)},
		expected: 2e5,
	}, {
		name:     "channel ceiling",
		ci:       *ci,
		pending:  []*PendingUnit{deposit(9e5, old)},
		expected: 5e5,
	}, {
		name:          "asset ceiling shared with other channels",
		ci:            *ci,
		pending:       []*PendingUnit{deposit(9e5, old)},
		usedElsewhere: 8e5,
		expected:      2e5,
	}, {
		name:     "pending close",
		ci:       *ci,
		pending:  []*PendingUnit{deposit(2e5, old), {Unit: "c", CloseChannel: true, ObservedAt: old}},
		expected: 0,
	}, {
		name:     "bad sequence",
		ci:       *ci,
		pending:  []*PendingUnit{{Unit: "b", Amount: 2e5, IsBadSequence: true, ObservedAt: old}},
		expected: 0,
	}, {
		name:     "no definition yet",
		ci:       ChannelInfo{Asset: types.AssetBase},
		pending:  []*PendingUnit{deposit(2e5, old)},
		expected: 0,
	}, {
		name:     "definition pending",
		ci:       ChannelInfo{Asset: types.AssetBase},
		pending:  []*PendingUnit{{Unit: "d", Amount: 2e5, HasDefinition: true, ObservedAt: old}},
		expected: 2e5,
	}, {
		name:     "never below what is already used",
		ci:       ChannelInfo{Asset: types.AssetBase, IsDefinitionConfirmed: true, UnconfirmedAmountSpentByPeer: 3e5},
		pending:  []*PendingUnit{{Unit: "c", CloseChannel: true, ObservedAt: old}},
		expected: 3e5,
	}, {
		name:     "unlisted asset uses the default ceiling",
		ci:       ChannelInfo{Asset: "other", IsDefinitionConfirmed: true},
		pending:  []*PendingUnit{deposit(2e5, old)},
		expected: 0,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := p.Allowed(&tc.ci, tc.pending, tc.usedElsewhere)
			require.Equal(t, tc.expected, got)
			require.GreaterOrEqual(t, got, tc.ci.UnconfirmedAmountSpentByPeer)
		})
	}
}
