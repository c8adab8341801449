package api

import (
	"context"
	"encoding/json"

	"github.com/filecoin-project/go-jsonrpc/auth"

	"github.com/aachannels/aachan/chain/actors/builtin/channel"
	"github.com/aachannels/aachan/chain/types"
	"github.com/aachannels/aachan/lib/sigs"
	"github.com/aachannels/aachan/paychmgr"
)

//                       MODIFYING THE API INTERFACE
//
// When adding / changing methods in this file:
// * Do the change here
// * Adjust implementation in `node/impl/`
// * Add the method with its perm tag to `api/apistruct/struct.go`

// Common is the part of the API every node serves.
type Common interface {
	AuthVerify(ctx context.Context, token string) ([]auth.Permission, error) //perm:read
	AuthNew(ctx context.Context, perms []auth.Permission) ([]byte, error)    //perm:admin

	// Version provides information about API provider
	Version(context.Context) (APIVersion, error) //perm:read

	// Shutdown stops the daemon
	Shutdown(context.Context) error //perm:admin
}

// Channels is the operator API of a channel node.
type Channels interface {
	Common

	// ChannelCreate proposes a channel to the peer at peerURL and funds it
	// with amount.
	ChannelCreate(ctx context.Context, peerURL string, amount int64, opts ChannelCreateOpts) (types.Address, error) //perm:sign
	// ChannelDeposit adds amount to our side and returns the unit hash.
	ChannelDeposit(ctx context.Context, ch types.Address, amount int64) (string, error)                                   //perm:sign
	ChannelPay(ctx context.Context, ch types.Address, amount int64, message json.RawMessage) (*paychmgr.PayResult, error) //perm:sign
	ChannelClose(ctx context.Context, ch types.Address) (string, error)                                                   //perm:sign

	ChannelStatus(ctx context.Context, ch types.Address) (*ChannelStatus, error) //perm:read
	ChannelList(ctx context.Context) ([]types.Address, error)                    //perm:read
	// ChannelSetAutoRefill keeps the free balance above threshold by
	// depositing amount. A zero threshold turns refilling off.
	ChannelSetAutoRefill(ctx context.Context, ch types.Address, threshold, amount int64) error //perm:write

	// ChannelCreatePaymentPackage spends amount and returns the signed
	// package instead of sending it to the peer.
	ChannelCreatePaymentPackage(ctx context.Context, ch types.Address, amount int64) (*sigs.SignedPackage, error) //perm:sign
	// ChannelVerifyPaymentPackage checks a package from a peer without
	// accepting it.
	ChannelVerifyPaymentPackage(ctx context.Context, pkg *sigs.SignedPackage) (*PaymentPackageInfo, error) //perm:read
	// ChannelAcceptPaymentPackage accepts a package delivered outside the
	// peer transport, as if the peer had sent it.
	ChannelAcceptPaymentPackage(ctx context.Context, pkg *sigs.SignedPackage, message json.RawMessage) (json.RawMessage, error) //perm:write

	// ChannelNotify streams channel notifications until ctx ends.
	ChannelNotify(ctx context.Context) (<-chan paychmgr.Notification, error) //perm:read
}

type APIVersion struct {
	Version    string
	APIVersion Version
	Address    types.Address
}

type ChannelCreateOpts struct {
	// Timeout in seconds; zero uses the node default.
	Timeout int64
	// Asset of the channel; empty means the native currency.
	Asset types.Asset
}

type ChannelStatus struct {
	*paychmgr.ChannelInfo
	Free int64 `json:"free"`
}

type PaymentPackageInfo struct {
	Channel types.Address           `json:"aa_address"`
	Signer  types.Address           `json:"signer"`
	Message *channel.PaymentMessage `json:"message"`
	// Credit is what accepting the package would add, given what the peer
	// has already been credited for.
	Credit int64 `json:"credit"`
}
