package paychmgr

import (
	"context"
	"testing"
	"time"

	ds "github.com/ipfs/go-datastore"
	ds_sync "github.com/ipfs/go-datastore/sync"
	"github.com/stretchr/testify/require"

	"github.com/aachannels/aachan/chain/types"
)

func testAddr(t *testing.T, n int) types.Address {
	a, err := types.AddressOf([]interface{}{"test", n})
	require.NoError(t, err)
	return a
}

func TestStore(t *testing.T) {
	ctx := context.Background()

	store := NewStore(ds_sync.MutexWrap(ds.NewMapDatastore()))
	addrs, err := store.ListChannels(ctx)
	require.NoError(t, err)
	require.Len(t, addrs, 0)

	ci := &ChannelInfo{
		Channel:     testAddr(t, 100),
		MyAddress:   testAddr(t, 101),
		PeerAddress: testAddr(t, 102),
		Salt:        "s1",
		Status:      StatusCreated,
		Period:      1,
	}
	ci2 := &ChannelInfo{
		Channel:     testAddr(t, 200),
		MyAddress:   testAddr(t, 101),
		PeerAddress: testAddr(t, 202),
		Salt:        "s2",
		Status:      StatusCreated,
		Period:      1,
	}

	// Track the channel
	require.NoError(t, store.TrackChannel(ctx, ci))

	// Tracking same channel again should error
	require.Error(t, store.TrackChannel(ctx, ci))

	// Track another channel
	require.NoError(t, store.TrackChannel(ctx, ci2))

	// List channels should include all channels
	addrs, err = store.ListChannels(ctx)
	require.NoError(t, err)
	require.Len(t, addrs, 2)
	require.Contains(t, addrs, ci.Channel)
	require.Contains(t, addrs, ci2.Channel)

	_, err = store.ByAddress(ctx, testAddr(t, 300))
	require.ErrorIs(t, err, ErrChannelNotTracked)

	found, err := store.ByPeerSalt(ctx, ci2.PeerAddress, "s2")
	require.NoError(t, err)
	require.Equal(t, ci2.Channel, found.Channel)
	_, err = store.ByPeerSalt(ctx, ci2.PeerAddress, "s1")
	require.ErrorIs(t, err, ErrChannelNotTracked)

	ci.AmountSpentByMe = 1234
	ci.PendingAction = &PendingAction{Kind: ActionConfirm, Period: 1}
	require.NoError(t, store.putChannelInfo(ctx, ci))
	got, err := store.ByAddress(ctx, ci.Channel)
	require.NoError(t, err)
	require.EqualValues(t, 1234, got.AmountSpentByMe)
	require.Equal(t, ActionConfirm, got.PendingAction.Kind)
}

func TestStoreDeposits(t *testing.T) {
	ctx := context.Background()
	store := NewStore(ds_sync.MutexWrap(ds.NewMapDatastore()))
	ch := testAddr(t, 1)

	// unit hashes are base64 and may contain slashes
	unit := "ab/cd+ef="
	require.NoError(t, store.AddMyDeposit(ctx, &MyDeposit{Channel: ch, Unit: unit, Amount: 5e5}))

	mine, err := store.ConfirmMyDeposit(ctx, ch, "other")
	require.NoError(t, err)
	require.False(t, mine)

	deps, err := store.MyDeposits(ctx, ch)
	require.NoError(t, err)
	require.Len(t, deps, 1)
	require.False(t, deps[0].IsConfirmedByAA)

	mine, err = store.ConfirmMyDeposit(ctx, ch, unit)
	require.NoError(t, err)
	require.True(t, mine)

	deps, err = store.MyDeposits(ctx, ch)
	require.NoError(t, err)
	require.True(t, deps[0].IsConfirmedByAA)
	require.Equal(t, unit, deps[0].Unit)
}

func TestStorePendingUnits(t *testing.T) {
	ctx := context.Background()
	store := NewStore(ds_sync.MutexWrap(ds.NewMapDatastore()))
	ch := testAddr(t, 1)
	other := testAddr(t, 2)
	now := time.Unix(1_700_000_000, 0).UTC()

	pu, err := store.PendingUnit(ctx, ch, "u1")
	require.NoError(t, err)
	require.Nil(t, pu)

	require.NoError(t, store.PutPendingUnit(ctx, &PendingUnit{Channel: ch, Unit: "u1", Amount: 10, ObservedAt: now}))
	require.NoError(t, store.PutPendingUnit(ctx, &PendingUnit{Channel: ch, Unit: "u/2", CloseChannel: true, ObservedAt: now}))
	require.NoError(t, store.PutPendingUnit(ctx, &PendingUnit{Channel: other, Unit: "u3", Amount: 30, ObservedAt: now}))

	pu, err = store.PendingUnit(ctx, ch, "u1")
	require.NoError(t, err)
	require.EqualValues(t, 10, pu.Amount)
	require.True(t, now.Equal(pu.ObservedAt))

	pending, err := store.PendingUnits(ctx, ch)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	require.NoError(t, store.DeletePendingUnit(ctx, ch, "u1"))
	require.NoError(t, store.DeletePendingUnit(ctx, ch, "missing"))
	pending, err = store.PendingUnits(ctx, ch)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.True(t, pending[0].CloseChannel)

	require.NoError(t, store.ClearPendingUnits(ctx, ch))
	pending, err = store.PendingUnits(ctx, ch)
	require.NoError(t, err)
	require.Empty(t, pending)

	// other channels are untouched
	pending, err = store.PendingUnits(ctx, other)
	require.NoError(t, err)
	require.Len(t, pending, 1)
}
