package ledger

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/filecoin-project/go-jsonrpc"
	"github.com/stretchr/testify/require"

	"github.com/aachannels/aachan/chain/types"
	"github.com/aachannels/aachan/ledger/simledger"
	"github.com/aachannels/aachan/lib/sigs"
)

// simNode serves a simulated wallet with the node's error codes.
type simNode struct {
	*simledger.Node
}

func (n *simNode) SendTransaction(ctx context.Context, tx *types.Transaction) (string, error) {
	unit, err := n.Node.SendTransaction(ctx, tx)
	if errors.Is(err, types.ErrNotEnoughFunds) {
		return "", &ErrNotEnoughFunds{}
	}
	return unit, err
}

func TestClient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := simledger.New(nil)
	l.SetAuto(true)
	node, err := l.NewNode(1e6)
	require.NoError(t, err)
	other, err := l.NewNode(0)
	require.NoError(t, err)

	srv := jsonrpc.NewServer(jsonrpc.WithServerErrors(RPCErrors))
	srv.Register("Ledger", &simNode{node})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	c, closer, err := NewClient(ctx, "ws://"+ts.Listener.Addr().String(), nil)
	require.NoError(t, err)
	defer closer()

	me, err := c.MyAddress(ctx)
	require.NoError(t, err)
	require.Equal(t, node.Address(), me)

	units, err := c.SubscribeUnits(ctx)
	require.NoError(t, err)

	unit, err := c.SendTransaction(ctx, &types.Transaction{
		From:    me,
		Outputs: []types.Output{{Address: other.Address(), Asset: types.AssetBase, Amount: 1000}},
	})
	require.NoError(t, err)

	var stable bool
	for !stable {
		select {
		case u := <-units:
			require.Equal(t, unit, u.ID)
			require.EqualValues(t, 1000, u.AmountTo(other.Address(), types.AssetBase))
			stable = u.Stable
		case <-time.After(5 * time.Second):
			t.Fatal("unit not delivered")
		}
	}

	_, err = c.SendTransaction(ctx, &types.Transaction{
		From:    me,
		Outputs: []types.Output{{Address: other.Address(), Asset: types.AssetBase, Amount: 1e9}},
	})
	require.ErrorIs(t, err, types.ErrNotEnoughFunds)

	// signing goes through the node's wallet
	pkg, err := sigs.Sign(ctx, c, me, map[string]int{"a": 1})
	require.NoError(t, err)
	signer, err := sigs.Verify(pkg)
	require.NoError(t, err)
	require.Equal(t, me, signer)

	st, err := c.ReadChannelState(ctx, other.Address())
	require.NoError(t, err)
	require.Nil(t, st)
}
