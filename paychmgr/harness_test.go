package paychmgr

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	ds "github.com/ipfs/go-datastore"
	ds_sync "github.com/ipfs/go-datastore/sync"
	"github.com/raulk/clock"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/aachannels/aachan/chain/types"
	"github.com/aachannels/aachan/ledger/simledger"
	"github.com/aachannels/aachan/peer"
)

// memTransport routes requests to managers in the same process, through a
// JSON round trip like the HTTP transport.
type memTransport struct {
	lk       sync.RWMutex
	handlers map[string]peer.Handler
	down     map[string]bool
	refuse   map[string]string
}

func newMemTransport() *memTransport {
	return &memTransport{
		handlers: map[string]peer.Handler{},
		down:     map[string]bool{},
		refuse:   map[string]string{},
	}
}

func (m *memTransport) register(contact string, h peer.Handler) {
	m.lk.Lock()
	defer m.lk.Unlock()
	m.handlers[contact] = h
}

func (m *memTransport) setDown(contact string, down bool) {
	m.lk.Lock()
	defer m.lk.Unlock()
	m.down[contact] = down
}

func (m *memTransport) setRefuse(contact string, msg string) {
	m.lk.Lock()
	defer m.lk.Unlock()
	m.refuse[contact] = msg
}

func (m *memTransport) Send(ctx context.Context, contact string, req *peer.Request) (*peer.Response, error) {
	m.lk.RLock()
	h, ok := m.handlers[contact]
	down, refuse := m.down[contact], m.refuse[contact]
	m.lk.RUnlock()

	if !ok || down {
		return nil, xerrors.Errorf("sending to %s: %w", contact, peer.ErrTimeout)
	}
	if refuse != "" {
		return &peer.Response{Tag: req.Tag, Error: refuse}, nil
	}

	b, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	var wireReq peer.Request
	if err := json.Unmarshal(b, &wireReq); err != nil {
		return nil, err
	}
	resp := h.HandlePeerRequest(ctx, &wireReq)
	b, err = json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	var wireResp peer.Response
	return &wireResp, json.Unmarshal(b, &wireResp)
}

type testParty struct {
	pm    *Manager
	node  *simledger.Node
	notes chan Notification
}

type testEnv struct {
	ctx       context.Context
	clk       *clock.Mock
	ledger    *simledger.Ledger
	transport *memTransport
}

func newTestEnv(t *testing.T) *testEnv {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	clk := clock.NewMock()
	clk.Set(time.Unix(1_700_000_000, 0))
	return &testEnv{
		ctx:       ctx,
		clk:       clk,
		ledger:    simledger.New(clk),
		transport: newMemTransport(),
	}
}

func (e *testEnv) newParty(t *testing.T, name string, exposure ExposureConfig) *testParty {
	node, err := e.ledger.NewNode(1e9)
	require.NoError(t, err)

	pm, err := NewManager(e.ctx, ManagerParams{
		Config: Config{
			ContactURL:    "http://" + name + ".test",
			SweepInterval: time.Hour,
			CloseGrace:    time.Minute,
		},
		Store:     NewStore(ds_sync.MutexWrap(ds.NewMapDatastore())),
		Ledger:    node,
		Transport: e.transport,
		Exposure:  NewExposurePolicy(exposure, e.clk),
		Clock:     e.clk,
	})
	require.NoError(t, err)

	notes := make(chan Notification, 100)
	pm.Subscribe(func(n Notification) { notes <- n })

	require.NoError(t, pm.Start(e.ctx))
	t.Cleanup(func() { _ = pm.Stop() })
	e.transport.register(pm.cfg.ContactURL, pm)
	return &testParty{pm: pm, node: node, notes: notes}
}

func (p *testParty) waitFor(t *testing.T, typ NotificationType) Notification {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case n := <-p.notes:
			if n.Type == typ {
				return n
			}
		case <-timeout:
			t.Fatalf("no %s notification", typ)
		}
	}
}

func (p *testParty) status(t *testing.T, ch types.Address) *ChannelInfo {
	ci, err := p.pm.GetStatus(context.Background(), ch)
	require.NoError(t, err)
	return ci
}

func (p *testParty) waitStatus(t *testing.T, ch types.Address, cond func(*ChannelInfo) bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		return cond(p.status(t, ch))
	}, 5*time.Second, 10*time.Millisecond)
}

// openChannel has alice propose a channel to bob funded with amount and
// waits until both sides see it open.
func (e *testEnv) openChannel(t *testing.T, alice, bob *testParty, amount int64) types.Address {
	ch, err := alice.pm.CreateChannel(e.ctx, bob.pm.cfg.ContactURL, amount, CreateOpts{Timeout: 600})
	require.NoError(t, err)
	bob.waitFor(t, NotifyChannelCreatedByPeer)

	e.ledger.Stabilize()
	n := alice.waitFor(t, NotifyMyDepositStable)
	require.EqualValues(t, amount, n.Amount)
	n = bob.waitFor(t, NotifyPeerDepositStable)
	require.EqualValues(t, amount, n.Amount)
	return ch
}
