package simledger

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aachannels/aachan/chain/actors/builtin/channel"
	"github.com/aachannels/aachan/chain/types"
)

func newChannel(t *testing.T, l *Ledger, a, b *Node) (channel.Params, json.RawMessage, types.Address) {
	p := channel.Params{
		AddressA: a.Address(),
		AddressB: b.Address(),
		Asset:    types.AssetBase,
		Salt:     "salt",
		Timeout:  10,
	}
	def, err := p.Definition()
	require.NoError(t, err)
	raw, err := json.Marshal(def)
	require.NoError(t, err)
	addr, err := p.Address()
	require.NoError(t, err)
	return p, raw, addr
}

func next(t *testing.T, ch <-chan types.Unit) types.Unit {
	select {
	case u := <-ch:
		return u
	case <-time.After(5 * time.Second):
		t.Fatal("no unit delivered")
	}
	return types.Unit{}
}

func TestDepositRunsContract(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := New(nil)
	a, err := l.NewNode(1e9)
	require.NoError(t, err)
	b, err := l.NewNode(1e9)
	require.NoError(t, err)
	_, def, ch := newChannel(t, l, a, b)

	require.NoError(t, b.WatchAddress(ctx, ch))
	units, err := b.SubscribeUnits(ctx)
	require.NoError(t, err)

	unit, err := a.SendTransaction(ctx, &types.Transaction{
		From:       a.Address(),
		Outputs:    []types.Output{{Address: ch, Asset: types.AssetBase, Amount: 5e5}},
		Definition: def,
	})
	require.NoError(t, err)

	u := next(t, units)
	require.Equal(t, unit, u.ID)
	require.False(t, u.Stable)
	require.True(t, u.Reveals(ch))
	require.Nil(t, l.State(ch))
	require.EqualValues(t, 1e9-5e5, l.Balance(a.Address(), types.AssetBase))

	l.Stabilize()

	u = next(t, units)
	require.Equal(t, unit, u.ID)
	require.True(t, u.Stable)

	resp := next(t, units)
	require.True(t, resp.AuthoredBy(ch))
	var ev channel.Event
	require.NoError(t, json.Unmarshal(resp.Data, &ev))
	require.Equal(t, channel.EventOpen, ev.Type)
	require.EqualValues(t, 1, ev.EventID)
	require.Equal(t, unit, ev.TriggerUnit)

	st := l.State(ch)
	require.NotNil(t, st)
	require.Equal(t, channel.StatusOpen, st.Status)
	require.EqualValues(t, 5e5, st.BalanceA)

	state, err := b.ReadChannelState(ctx, ch)
	require.NoError(t, err)
	require.Equal(t, st, state)
}

func TestBounceNamesTrigger(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := New(nil)
	a, err := l.NewNode(1e9)
	require.NoError(t, err)
	b, err := l.NewNode(1e9)
	require.NoError(t, err)
	_, def, ch := newChannel(t, l, a, b)

	require.NoError(t, a.WatchAddress(ctx, ch))
	units, err := a.SubscribeUnits(ctx)
	require.NoError(t, err)

	unit, err := a.SendTransaction(ctx, &types.Transaction{
		From:       a.Address(),
		Outputs:    []types.Output{{Address: ch, Asset: types.AssetBase, Amount: channel.BounceFee - 1}},
		Definition: def,
	})
	require.NoError(t, err)
	next(t, units)

	l.Stabilize()
	require.Equal(t, unit, next(t, units).ID)

	resp := next(t, units)
	require.True(t, resp.AuthoredBy(ch))
	var bounced channel.BounceResponse
	require.NoError(t, json.Unmarshal(resp.Data, &bounced))
	require.Equal(t, channel.ReasonNoFunding, bounced.Error)
	require.Equal(t, unit, bounced.TriggerUnit)
}

func TestNotEnoughFunds(t *testing.T) {
	ctx := context.Background()
	l := New(nil)
	a, err := l.NewNode(100)
	require.NoError(t, err)
	b, err := l.NewNode(0)
	require.NoError(t, err)

	_, err = a.SendTransaction(ctx, &types.Transaction{
		From:    a.Address(),
		Outputs: []types.Output{{Address: b.Address(), Asset: types.AssetBase, Amount: 101}},
	})
	require.ErrorIs(t, err, types.ErrNotEnoughFunds)

	_, err = a.SendTransaction(ctx, &types.Transaction{
		From:    b.Address(),
		Outputs: []types.Output{{Address: b.Address(), Asset: types.AssetBase, Amount: 1}},
	})
	require.Error(t, err)
}

func TestBounceRefunds(t *testing.T) {
	ctx := context.Background()
	l := New(nil)
	l.SetAuto(true)
	a, err := l.NewNode(1e9)
	require.NoError(t, err)
	b, err := l.NewNode(1e9)
	require.NoError(t, err)
	stranger, err := l.NewNode(1e9)
	require.NoError(t, err)
	_, def, ch := newChannel(t, l, a, b)

	_, err = a.SendTransaction(ctx, &types.Transaction{
		From:       a.Address(),
		Outputs:    []types.Output{{Address: ch, Asset: types.AssetBase, Amount: 5e5}},
		Definition: def,
	})
	require.NoError(t, err)

	_, err = stranger.SendTransaction(ctx, &types.Transaction{
		From:    stranger.Address(),
		Outputs: []types.Output{{Address: ch, Asset: types.AssetBase, Amount: 5e5}},
	})
	require.NoError(t, err)

	require.EqualValues(t, 1e9-channel.BounceFee, l.Balance(stranger.Address(), types.AssetBase))
	require.EqualValues(t, 5e5+channel.BounceFee, l.Balance(ch, types.AssetBase))
	require.EqualValues(t, 1, l.State(ch).EventID)
}

func TestBadSequenceIsReverted(t *testing.T) {
	ctx := context.Background()
	l := New(nil)
	a, err := l.NewNode(1e9)
	require.NoError(t, err)
	b, err := l.NewNode(0)
	require.NoError(t, err)

	unit, err := a.SendTransaction(ctx, &types.Transaction{
		From:    a.Address(),
		Outputs: []types.Output{{Address: b.Address(), Asset: types.AssetBase, Amount: 1000}},
	})
	require.NoError(t, err)
	require.NoError(t, l.MarkBadSequence(unit, types.SequenceFinalBad))
	l.Stabilize()

	require.EqualValues(t, 1e9, l.Balance(a.Address(), types.AssetBase))
	require.Zero(t, l.Balance(b.Address(), types.AssetBase))

	u, ok := l.Unit(unit)
	require.True(t, ok)
	require.True(t, u.Stable)
	require.Error(t, l.MarkBadSequence(unit, types.SequenceTempBad))
}
