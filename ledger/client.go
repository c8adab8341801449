// Package ledger talks to the ledger node that holds the wallet, composes
// units and reports the ones touching our channels.
package ledger

import (
	"context"
	"net/http"

	"github.com/filecoin-project/go-jsonrpc"
	logging "github.com/ipfs/go-log/v2"

	"github.com/aachannels/aachan/chain/actors/builtin/channel"
	"github.com/aachannels/aachan/chain/types"
	"github.com/aachannels/aachan/lib/sigs"
)

var log = logging.Logger("ledger")

const (
	ENotEnoughFunds = iota + jsonrpc.FirstUserCode
	EUnknownAddress
)

var RPCErrors = jsonrpc.NewErrors()

func init() {
	RPCErrors.Register(ENotEnoughFunds, new(*ErrNotEnoughFunds))
	RPCErrors.Register(EUnknownAddress, new(*ErrUnknownAddress))
}

// ErrNotEnoughFunds is the node's refusal to compose a unit the wallet
// cannot pay for. It matches types.ErrNotEnoughFunds.
type ErrNotEnoughFunds struct{}

func (ErrNotEnoughFunds) Error() string { return types.ErrNotEnoughFunds.Error() }

func (ErrNotEnoughFunds) Is(target error) bool { return target == types.ErrNotEnoughFunds }

// ErrUnknownAddress signals that the node has no key for the address.
type ErrUnknownAddress struct{}

func (ErrUnknownAddress) Error() string { return "address not in wallet" }

func (ErrUnknownAddress) Is(target error) bool { return target == sigs.ErrKeyNotFound }

// Client is a JSON-RPC client of the ledger node. Methods live in the
// "Ledger" namespace.
type Client struct {
	Internal struct {
		MyAddress        func(ctx context.Context) (types.Address, error)
		SendTransaction  func(ctx context.Context, tx *types.Transaction) (string, error)
		WatchAddress     func(ctx context.Context, addr types.Address) error
		SubscribeUnits   func(ctx context.Context) (<-chan types.Unit, error)
		ReadChannelState func(ctx context.Context, ch types.Address) (*channel.State, error)
		WalletDefinition func(ctx context.Context, addr types.Address) (sigs.Definition, error)
		WalletSign       func(ctx context.Context, addr types.Address, hash []byte) ([]byte, error)
	}
}

// NewClient dials the ledger node. Unit subscriptions need a websocket
// endpoint (ws:// or wss://).
func NewClient(ctx context.Context, addr string, requestHeader http.Header) (*Client, jsonrpc.ClientCloser, error) {
	var c Client
	closer, err := jsonrpc.NewMergeClient(ctx, addr, "Ledger",
		[]interface{}{&c.Internal},
		requestHeader,
		jsonrpc.WithErrors(RPCErrors),
	)
	if err != nil {
		return nil, nil, err
	}
	log.Infow("connected to ledger node", "addr", addr)
	return &c, closer, nil
}

func (c *Client) MyAddress(ctx context.Context) (types.Address, error) {
	return c.Internal.MyAddress(ctx)
}

func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) (string, error) {
	return c.Internal.SendTransaction(ctx, tx)
}

func (c *Client) WatchAddress(ctx context.Context, addr types.Address) error {
	return c.Internal.WatchAddress(ctx, addr)
}

func (c *Client) SubscribeUnits(ctx context.Context) (<-chan types.Unit, error) {
	return c.Internal.SubscribeUnits(ctx)
}

func (c *Client) ReadChannelState(ctx context.Context, ch types.Address) (*channel.State, error) {
	return c.Internal.ReadChannelState(ctx, ch)
}

func (c *Client) WalletDefinition(ctx context.Context, addr types.Address) (sigs.Definition, error) {
	return c.Internal.WalletDefinition(ctx, addr)
}

func (c *Client) WalletSign(ctx context.Context, addr types.Address, hash []byte) ([]byte, error) {
	return c.Internal.WalletSign(ctx, addr, hash)
}

var _ sigs.Signer = (*Client)(nil)
