package impl

import (
	"context"
	"encoding/json"

	"github.com/filecoin-project/go-jsonrpc/auth"
	"github.com/gbrlsnchs/jwt/v3"
	logging "github.com/ipfs/go-log/v2"
	"go.uber.org/fx"
	"golang.org/x/xerrors"

	"github.com/aachannels/aachan/api"
	"github.com/aachannels/aachan/build"
	"github.com/aachannels/aachan/chain/types"
	"github.com/aachannels/aachan/lib/sigs"
	"github.com/aachannels/aachan/node/modules/dtypes"
	"github.com/aachannels/aachan/paychmgr"
	"github.com/aachannels/aachan/peer"
)

var log = logging.Logger("node")

type JwtPayload struct {
	Allow []auth.Permission
}

type ChannelsAPI struct {
	fx.In

	APISecret    *dtypes.APIAlg
	ShutdownChan dtypes.ShutdownChan
	Manager      *paychmgr.Manager
}

var _ api.Channels = &ChannelsAPI{}

func (a *ChannelsAPI) AuthVerify(ctx context.Context, token string) ([]auth.Permission, error) {
	var payload JwtPayload
	if _, err := jwt.Verify([]byte(token), (*jwt.HMACSHA)(a.APISecret), &payload); err != nil {
		return nil, xerrors.Errorf("JWT Verification failed: %w", err)
	}
	return payload.Allow, nil
}

func (a *ChannelsAPI) AuthNew(ctx context.Context, perms []auth.Permission) ([]byte, error) {
	p := JwtPayload{
		Allow: perms,
	}
	return jwt.Sign(&p, (*jwt.HMACSHA)(a.APISecret))
}

func (a *ChannelsAPI) Version(context.Context) (api.APIVersion, error) {
	return api.APIVersion{
		Version:    build.UserVersion(),
		APIVersion: api.ChannelsAPIVersion0,
		Address:    a.Manager.MyAddress(),
	}, nil
}

func (a *ChannelsAPI) Shutdown(ctx context.Context) error {
	a.ShutdownChan <- struct{}{}
	return nil
}

func (a *ChannelsAPI) ChannelCreate(ctx context.Context, peerURL string, amount int64, opts api.ChannelCreateOpts) (types.Address, error) {
	ch, err := a.Manager.CreateChannel(ctx, peerURL, amount, paychmgr.CreateOpts{
		Timeout: opts.Timeout,
		Asset:   opts.Asset,
	})
	return ch, api.TypedError(err)
}

func (a *ChannelsAPI) ChannelDeposit(ctx context.Context, ch types.Address, amount int64) (string, error) {
	unit, err := a.Manager.Deposit(ctx, ch, amount)
	return unit, api.TypedError(err)
}

func (a *ChannelsAPI) ChannelPay(ctx context.Context, ch types.Address, amount int64, message json.RawMessage) (*paychmgr.PayResult, error) {
	res, err := a.Manager.Pay(ctx, ch, amount, message)
	return res, api.TypedError(err)
}

func (a *ChannelsAPI) ChannelClose(ctx context.Context, ch types.Address) (string, error) {
	unit, err := a.Manager.Close(ctx, ch)
	return unit, api.TypedError(err)
}

func (a *ChannelsAPI) ChannelStatus(ctx context.Context, ch types.Address) (*api.ChannelStatus, error) {
	ci, err := a.Manager.GetStatus(ctx, ch)
	if err != nil {
		return nil, api.TypedError(err)
	}
	return &api.ChannelStatus{ChannelInfo: ci, Free: ci.Free()}, nil
}

func (a *ChannelsAPI) ChannelList(ctx context.Context) ([]types.Address, error) {
	return a.Manager.ListChannels(ctx)
}

func (a *ChannelsAPI) ChannelSetAutoRefill(ctx context.Context, ch types.Address, threshold, amount int64) error {
	return api.TypedError(a.Manager.SetAutoRefill(ctx, ch, threshold, amount))
}

func (a *ChannelsAPI) ChannelCreatePaymentPackage(ctx context.Context, ch types.Address, amount int64) (*sigs.SignedPackage, error) {
	pkg, err := a.Manager.IssuePaymentPackage(ctx, ch, amount)
	return pkg, api.TypedError(err)
}

func (a *ChannelsAPI) ChannelVerifyPaymentPackage(ctx context.Context, pkg *sigs.SignedPackage) (*api.PaymentPackageInfo, error) {
	ci, msg, err := a.Manager.VerifyPaymentPackage(ctx, pkg)
	if err != nil {
		return nil, api.TypedError(err)
	}
	return &api.PaymentPackageInfo{
		Channel: ci.Channel,
		Signer:  ci.PeerAddress,
		Message: msg,
		Credit:  max(msg.AmountSpent-ci.AmountSpentByPeer, 0) + ci.OverpaymentFromPeer,
	}, nil
}

func (a *ChannelsAPI) ChannelAcceptPaymentPackage(ctx context.Context, pkg *sigs.SignedPackage, message json.RawMessage) (json.RawMessage, error) {
	raw, err := json.Marshal(pkg)
	if err != nil {
		return nil, err
	}
	req, err := peer.NewRequest(peer.CmdPay, peer.PayParams{SignedPackage: raw, Message: message})
	if err != nil {
		return nil, err
	}
	var out json.RawMessage
	if err := a.Manager.HandlePeerRequest(ctx, req).Result(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// ChannelNotify relays manager notifications. Notifications that the
// client does not read fast enough are dropped.
func (a *ChannelsAPI) ChannelNotify(ctx context.Context) (<-chan paychmgr.Notification, error) {
	out := make(chan paychmgr.Notification, 64)
	buf := make(chan paychmgr.Notification, 64)
	unsub := a.Manager.Subscribe(func(n paychmgr.Notification) {
		select {
		case buf <- n:
		default:
			log.Warnw("dropping notification for slow client", "type", n.Type, "channel", n.Channel)
		}
	})

	go func() {
		defer close(out)
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case n := <-buf:
				select {
				case out <- n:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
