package node_test

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/filecoin-project/go-jsonrpc/auth"
	"github.com/raulk/clock"
	"github.com/stretchr/testify/require"

	"github.com/aachannels/aachan/api"
	"github.com/aachannels/aachan/api/client"
	"github.com/aachannels/aachan/chain/types"
	"github.com/aachannels/aachan/ledger/simledger"
	"github.com/aachannels/aachan/node"
	"github.com/aachannels/aachan/node/config"
	"github.com/aachannels/aachan/node/impl"
	"github.com/aachannels/aachan/paychmgr"
	"github.com/aachannels/aachan/peer"
)

// lateHandler lets the peer endpoint URL be known before the node that
// serves it is built.
type lateHandler struct {
	h atomic.Value
}

func (l *lateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h, ok := l.h.Load().(http.Handler)
	if !ok {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	h.ServeHTTP(w, r)
}

type testNode struct {
	api     api.Channels
	peerURL string
	apiURL  string
}

func startNode(t *testing.T, ctx context.Context, l *simledger.Ledger, clk clock.Clock) *testNode {
	wallet, err := l.NewNode(1e9)
	require.NoError(t, err)

	peerHandler := &lateHandler{}
	peerSrv := httptest.NewServer(peerHandler)
	t.Cleanup(peerSrv.Close)

	cfg := config.Default()
	cfg.Datastore.Backend = "memory"
	cfg.Peer.ContactURL = peerSrv.URL
	cfg.API.Secret = hex.EncodeToString([]byte("test secret test secret"))
	cfg.Channels.SweepInterval = config.Duration(time.Hour)

	var full api.Channels
	stop, err := node.New(ctx,
		node.ChannelsAPI(&full),
		node.Config(cfg),
		node.Test(wallet, clk),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = stop(context.Background()) })

	peerHandler.h.Store(peer.NewHTTPHandler(full.(*impl.ChannelsAPI).Manager))

	apiSrv := httptest.NewServer(node.ChannelsHandler(full, true))
	t.Cleanup(apiSrv.Close)

	return &testNode{
		api:     full,
		peerURL: peerSrv.URL,
		apiURL:  "ws://" + strings.TrimPrefix(apiSrv.URL, "http://") + "/rpc/v0",
	}
}

func (n *testNode) client(t *testing.T, ctx context.Context, perms ...auth.Permission) api.Channels {
	token, err := n.api.AuthNew(ctx, perms)
	require.NoError(t, err)

	headers := http.Header{}
	headers.Add("Authorization", "Bearer "+string(token))
	cl, closer, err := client.NewChannelsRPC(ctx, n.apiURL, headers)
	require.NoError(t, err)
	t.Cleanup(closer)
	return cl
}

func TestNodeRequiresConfig(t *testing.T) {
	_, err := node.New(context.Background())
	require.Error(t, err)
}

func TestNodeRefusesLocalDatastoreInHighAvailability(t *testing.T) {
	cfg := config.Default()
	cfg.Datastore.Backend = "memory"
	cfg.HighAvailability.Enabled = true

	_, err := node.New(context.Background(), node.Config(cfg))
	require.ErrorContains(t, err, "shared by all daemons")
}

func TestChannelsOverAPI(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := clock.NewMock()
	clk.Set(time.Unix(1_700_000_000, 0))
	l := simledger.New(clk)

	alice := startNode(t, ctx, l, clk)
	bob := startNode(t, ctx, l, clk)

	aliceAPI := alice.client(t, ctx, api.AllPermissions...)
	bobAPI := bob.client(t, ctx, api.AllPermissions...)

	v, err := aliceAPI.Version(ctx)
	require.NoError(t, err)
	require.NoError(t, api.CheckVersion(v.APIVersion))

	bobNotes, err := bobAPI.ChannelNotify(ctx)
	require.NoError(t, err)

	ch, err := aliceAPI.ChannelCreate(ctx, bob.peerURL, 1e6, api.ChannelCreateOpts{Timeout: 600})
	require.NoError(t, err)

	l.Stabilize()
	waitOpen := func(cl api.Channels) {
		require.Eventually(t, func() bool {
			st, err := cl.ChannelStatus(ctx, ch)
			return err == nil && st.Status == paychmgr.StatusOpen
		}, 5*time.Second, 10*time.Millisecond)
	}
	waitOpen(aliceAPI)
	waitOpen(bobAPI)

	res, err := aliceAPI.ChannelPay(ctx, ch, 1000, json.RawMessage(`{"order":7}`))
	require.NoError(t, err)
	require.Equal(t, paychmgr.PayAccepted, res.Outcome)

	received := waitNote(t, bobNotes, paychmgr.NotifyPaymentReceived)
	require.Equal(t, ch, received.Channel)
	require.EqualValues(t, 1000, received.Amount)
	require.JSONEq(t, `{"order":7}`, string(received.Message))

	st, err := bobAPI.ChannelStatus(ctx, ch)
	require.NoError(t, err)
	require.EqualValues(t, 1000, st.AmountSpentByPeer)
	require.EqualValues(t, 1000, st.Free)

	// errors keep their identity across the wire
	_, err = aliceAPI.ChannelPay(ctx, ch, 2e6, nil)
	require.ErrorIs(t, err, paychmgr.ErrInsufficientFunds)
	_, err = aliceAPI.ChannelStatus(ctx, types.Address("NOTACHANNEL"))
	require.ErrorIs(t, err, paychmgr.ErrChannelNotTracked)

	// payment packages handed over out of band
	pkg, err := aliceAPI.ChannelCreatePaymentPackage(ctx, ch, 500)
	require.NoError(t, err)
	info, err := bobAPI.ChannelVerifyPaymentPackage(ctx, pkg)
	require.NoError(t, err)
	require.Equal(t, ch, info.Channel)
	require.EqualValues(t, 500, info.Credit)
	_, err = bobAPI.ChannelAcceptPaymentPackage(ctx, pkg, nil)
	require.NoError(t, err)

	st, err = bobAPI.ChannelStatus(ctx, ch)
	require.NoError(t, err)
	require.EqualValues(t, 1500, st.AmountSpentByPeer)

	list, err := bobAPI.ChannelList(ctx)
	require.NoError(t, err)
	require.Equal(t, []types.Address{ch}, list)
}

func TestAPIPermissions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := clock.NewMock()
	l := simledger.New(clk)
	n := startNode(t, ctx, l, clk)

	reader := n.client(t, ctx, api.PermRead)

	_, err := reader.ChannelList(ctx)
	require.NoError(t, err)

	_, err = reader.ChannelCreate(ctx, "http://peer.test", 1e6, api.ChannelCreateOpts{})
	require.ErrorContains(t, err, "missing permission")

	_, err = reader.AuthNew(ctx, api.AllPermissions)
	require.ErrorContains(t, err, "missing permission")
}

func waitNote(t *testing.T, notes <-chan paychmgr.Notification, typ paychmgr.NotificationType) paychmgr.Notification {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case n, ok := <-notes:
			require.True(t, ok, "notification stream closed")
			if n.Type == typ {
				return n
			}
		case <-timeout:
			t.Fatalf("no %s notification", typ)
		}
	}
}
