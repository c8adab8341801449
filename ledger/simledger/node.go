package simledger

import (
	"context"
	"sync"

	"golang.org/x/xerrors"

	"github.com/aachannels/aachan/chain/actors/builtin/channel"
	"github.com/aachannels/aachan/chain/types"
	"github.com/aachannels/aachan/lib/sigs"
)

// Node is one wallet's view of the ledger.
type Node struct {
	*sigs.KeySigner

	l    *Ledger
	addr types.Address

	lk      sync.Mutex
	watched map[types.Address]struct{}
	subs    []*mailbox
}

// NewNode creates a wallet with a fresh key and the given native balance.
func (l *Ledger) NewNode(balance int64) (*Node, error) {
	ks := sigs.NewKeySigner()
	addr, err := ks.GenerateKey()
	if err != nil {
		return nil, err
	}
	n := &Node{
		KeySigner: ks,
		l:         l,
		addr:      addr,
		watched:   make(map[types.Address]struct{}),
	}

	l.lk.Lock()
	defer l.lk.Unlock()
	l.nodes = append(l.nodes, n)
	if balance > 0 {
		l.credit(addr, types.AssetBase, balance)
	}
	return n, nil
}

func (n *Node) Address() types.Address {
	return n.addr
}

func (n *Node) MyAddress(context.Context) (types.Address, error) {
	return n.addr, nil
}

func (n *Node) SendTransaction(ctx context.Context, tx *types.Transaction) (string, error) {
	if tx.From != n.addr {
		return "", xerrors.Errorf("node wallet is %s, cannot send from %s", n.addr, tx.From)
	}
	return n.l.submit(ctx, tx)
}

func (n *Node) WatchAddress(_ context.Context, addr types.Address) error {
	if err := addr.Validate(); err != nil {
		return err
	}
	n.lk.Lock()
	defer n.lk.Unlock()
	n.watched[addr] = struct{}{}
	return nil
}

// SubscribeUnits delivers units authored by or paying to this wallet or a
// watched address. The subscription ends with ctx.
func (n *Node) SubscribeUnits(ctx context.Context) (<-chan types.Unit, error) {
	mb := newMailbox()
	n.lk.Lock()
	n.subs = append(n.subs, mb)
	n.lk.Unlock()

	out := make(chan types.Unit)
	go func() {
		defer close(out)
		defer n.unsubscribe(mb)
		mb.pump(ctx, out)
	}()
	return out, nil
}

func (n *Node) ReadChannelState(_ context.Context, ch types.Address) (*channel.State, error) {
	return n.l.State(ch), nil
}

func (n *Node) unsubscribe(mb *mailbox) {
	n.lk.Lock()
	defer n.lk.Unlock()
	for i, s := range n.subs {
		if s == mb {
			n.subs = append(n.subs[:i], n.subs[i+1:]...)
			return
		}
	}
}

func (n *Node) interested(u *types.Unit) bool {
	if _, ok := n.watched[n.addr]; !ok {
		n.watched[n.addr] = struct{}{}
	}
	for _, a := range u.Authors {
		if _, ok := n.watched[a]; ok {
			return true
		}
	}
	for _, o := range u.Outputs {
		if _, ok := n.watched[o.Address]; ok {
			return true
		}
	}
	return false
}

// deliver is called with the ledger lock held and never blocks.
func (n *Node) deliver(u types.Unit) {
	n.lk.Lock()
	defer n.lk.Unlock()
	if !n.interested(&u) {
		return
	}
	for _, mb := range n.subs {
		mb.push(u)
	}
}

// mailbox is an unbounded queue between the ledger and one subscriber.
type mailbox struct {
	lk     sync.Mutex
	queue  []types.Unit
	notify chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{notify: make(chan struct{}, 1)}
}

func (m *mailbox) push(u types.Unit) {
	m.lk.Lock()
	m.queue = append(m.queue, u)
	m.lk.Unlock()
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *mailbox) pop() (types.Unit, bool) {
	m.lk.Lock()
	defer m.lk.Unlock()
	if len(m.queue) == 0 {
		return types.Unit{}, false
	}
	u := m.queue[0]
	m.queue = m.queue[1:]
	return u, true
}

func (m *mailbox) pump(ctx context.Context, out chan<- types.Unit) {
	for {
		u, ok := m.pop()
		if !ok {
			select {
			case <-m.notify:
				continue
			case <-ctx.Done():
				return
			}
		}
		select {
		case out <- u:
		case <-ctx.Done():
			return
		}
	}
}
