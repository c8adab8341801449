package apistruct

import (
	"context"
	"encoding/json"

	"github.com/filecoin-project/go-jsonrpc/auth"
	"golang.org/x/xerrors"

	"github.com/aachannels/aachan/api"
	"github.com/aachannels/aachan/chain/types"
	"github.com/aachannels/aachan/lib/sigs"
	"github.com/aachannels/aachan/paychmgr"
)

var ErrNotSupported = xerrors.New("method not supported")

type CommonStruct struct {
	Internal struct {
		AuthVerify func(ctx context.Context, token string) ([]auth.Permission, error) `perm:"read"`
		AuthNew    func(ctx context.Context, perms []auth.Permission) ([]byte, error) `perm:"admin"`

		Version  func(context.Context) (api.APIVersion, error) `perm:"read"`
		Shutdown func(context.Context) error                   `perm:"admin"`
	}
}

// ChannelsStruct implements api.Channels passing calls to user-provided
// function values.
type ChannelsStruct struct {
	CommonStruct

	Internal struct {
		ChannelCreate  func(context.Context, string, int64, api.ChannelCreateOpts) (types.Address, error)        `perm:"sign"`
		ChannelDeposit func(context.Context, types.Address, int64) (string, error)                               `perm:"sign"`
		ChannelPay     func(context.Context, types.Address, int64, json.RawMessage) (*paychmgr.PayResult, error) `perm:"sign"`
		ChannelClose   func(context.Context, types.Address) (string, error)                                      `perm:"sign"`

		ChannelStatus        func(context.Context, types.Address) (*api.ChannelStatus, error) `perm:"read"`
		ChannelList          func(context.Context) ([]types.Address, error)                   `perm:"read"`
		ChannelSetAutoRefill func(context.Context, types.Address, int64, int64) error         `perm:"write"`

		ChannelCreatePaymentPackage func(context.Context, types.Address, int64) (*sigs.SignedPackage, error)             `perm:"sign"`
		ChannelVerifyPaymentPackage func(context.Context, *sigs.SignedPackage) (*api.PaymentPackageInfo, error)          `perm:"read"`
		ChannelAcceptPaymentPackage func(context.Context, *sigs.SignedPackage, json.RawMessage) (json.RawMessage, error) `perm:"write"`

		ChannelNotify func(context.Context) (<-chan paychmgr.Notification, error) `perm:"read"`
	}
}

// PermissionedChannelsAPI wraps a so that every method checks the caller's
// permissions against its perm tag.
func PermissionedChannelsAPI(a api.Channels) api.Channels {
	var out ChannelsStruct
	auth.PermissionedProxy(api.AllPermissions, api.DefaultPerms, a, &out.Internal)
	auth.PermissionedProxy(api.AllPermissions, api.DefaultPerms, a, &out.CommonStruct.Internal)
	return &out
}

func (c *CommonStruct) AuthVerify(ctx context.Context, token string) ([]auth.Permission, error) {
	if c.Internal.AuthVerify == nil {
		return nil, ErrNotSupported
	}
	return c.Internal.AuthVerify(ctx, token)
}

func (c *CommonStruct) AuthNew(ctx context.Context, perms []auth.Permission) ([]byte, error) {
	if c.Internal.AuthNew == nil {
		return nil, ErrNotSupported
	}
	return c.Internal.AuthNew(ctx, perms)
}

// Version implements API.Version
func (c *CommonStruct) Version(ctx context.Context) (api.APIVersion, error) {
	if c.Internal.Version == nil {
		return api.APIVersion{}, ErrNotSupported
	}
	return c.Internal.Version(ctx)
}

func (c *CommonStruct) Shutdown(ctx context.Context) error {
	if c.Internal.Shutdown == nil {
		return ErrNotSupported
	}
	return c.Internal.Shutdown(ctx)
}

func (c *ChannelsStruct) ChannelCreate(ctx context.Context, peerURL string, amount int64, opts api.ChannelCreateOpts) (types.Address, error) {
	if c.Internal.ChannelCreate == nil {
		return types.Undef, ErrNotSupported
	}
	return c.Internal.ChannelCreate(ctx, peerURL, amount, opts)
}

func (c *ChannelsStruct) ChannelDeposit(ctx context.Context, ch types.Address, amount int64) (string, error) {
	if c.Internal.ChannelDeposit == nil {
		return "", ErrNotSupported
	}
	return c.Internal.ChannelDeposit(ctx, ch, amount)
}

func (c *ChannelsStruct) ChannelPay(ctx context.Context, ch types.Address, amount int64, message json.RawMessage) (*paychmgr.PayResult, error) {
	if c.Internal.ChannelPay == nil {
		return nil, ErrNotSupported
	}
	return c.Internal.ChannelPay(ctx, ch, amount, message)
}

func (c *ChannelsStruct) ChannelClose(ctx context.Context, ch types.Address) (string, error) {
	if c.Internal.ChannelClose == nil {
		return "", ErrNotSupported
	}
	return c.Internal.ChannelClose(ctx, ch)
}

func (c *ChannelsStruct) ChannelStatus(ctx context.Context, ch types.Address) (*api.ChannelStatus, error) {
	if c.Internal.ChannelStatus == nil {
		return nil, ErrNotSupported
	}
	return c.Internal.ChannelStatus(ctx, ch)
}

func (c *ChannelsStruct) ChannelList(ctx context.Context) ([]types.Address, error) {
	if c.Internal.ChannelList == nil {
		return nil, ErrNotSupported
	}
	return c.Internal.ChannelList(ctx)
}

func (c *ChannelsStruct) ChannelSetAutoRefill(ctx context.Context, ch types.Address, threshold, amount int64) error {
	if c.Internal.ChannelSetAutoRefill == nil {
		return ErrNotSupported
	}
	return c.Internal.ChannelSetAutoRefill(ctx, ch, threshold, amount)
}

func (c *ChannelsStruct) ChannelCreatePaymentPackage(ctx context.Context, ch types.Address, amount int64) (*sigs.SignedPackage, error) {
	if c.Internal.ChannelCreatePaymentPackage == nil {
		return nil, ErrNotSupported
	}
	return c.Internal.ChannelCreatePaymentPackage(ctx, ch, amount)
}

func (c *ChannelsStruct) ChannelVerifyPaymentPackage(ctx context.Context, pkg *sigs.SignedPackage) (*api.PaymentPackageInfo, error) {
	if c.Internal.ChannelVerifyPaymentPackage == nil {
		return nil, ErrNotSupported
	}
	return c.Internal.ChannelVerifyPaymentPackage(ctx, pkg)
}

func (c *ChannelsStruct) ChannelAcceptPaymentPackage(ctx context.Context, pkg *sigs.SignedPackage, message json.RawMessage) (json.RawMessage, error) {
	if c.Internal.ChannelAcceptPaymentPackage == nil {
		return nil, ErrNotSupported
	}
	return c.Internal.ChannelAcceptPaymentPackage(ctx, pkg, message)
}

func (c *ChannelsStruct) ChannelNotify(ctx context.Context) (<-chan paychmgr.Notification, error) {
	if c.Internal.ChannelNotify == nil {
		return nil, ErrNotSupported
	}
	return c.Internal.ChannelNotify(ctx)
}

var _ api.Common = &CommonStruct{}
var _ api.Channels = &ChannelsStruct{}
