package paychmgr

import (
	"context"

	"github.com/aachannels/aachan/chain/actors/builtin/channel"
	"github.com/aachannels/aachan/chain/types"
	"github.com/aachannels/aachan/lib/sigs"
	"github.com/aachannels/aachan/peer"
)

// LedgerAPI is what the manager needs from the ledger node and the wallet
// running on it.
type LedgerAPI interface {
	sigs.Signer

	// MyAddress is the wallet address this node pays from and signs with.
	MyAddress(ctx context.Context) (types.Address, error)
	// SendTransaction composes, signs and broadcasts tx and returns the unit
	// hash. It fails with types.ErrNotEnoughFunds if the wallet cannot pay.
	SendTransaction(ctx context.Context, tx *types.Transaction) (string, error)
	// WatchAddress makes the node report units touching addr.
	WatchAddress(ctx context.Context, addr types.Address) error
	// SubscribeUnits delivers watched units: once when first seen and again
	// when they become stable.
	SubscribeUnits(ctx context.Context) (<-chan types.Unit, error)
	// ReadChannelState returns the contract state, or nil if the contract has
	// not been triggered yet.
	ReadChannelState(ctx context.Context, ch types.Address) (*channel.State, error)
}

// PeerTransport delivers requests to a peer.
type PeerTransport = peer.Transport
