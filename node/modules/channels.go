package modules

import (
	"context"
	"net/http"
	"time"

	"github.com/raulk/clock"
	"go.uber.org/fx"
	"golang.org/x/xerrors"

	"github.com/aachannels/aachan/chain/types"
	"github.com/aachannels/aachan/ledger"
	"github.com/aachannels/aachan/lib/addrlock"
	"github.com/aachannels/aachan/node/config"
	"github.com/aachannels/aachan/node/modules/helpers"
	"github.com/aachannels/aachan/paychmgr"
	"github.com/aachannels/aachan/peer"
)

// LedgerClient connects to the ledger node holding the wallet.
func LedgerClient(mctx helpers.MetricsCtx, lc fx.Lifecycle, cfg *config.Config) (paychmgr.LedgerAPI, error) {
	header := http.Header{}
	if cfg.Ledger.Token != "" {
		header.Add("Authorization", "Bearer "+cfg.Ledger.Token)
	}
	cl, closer, err := ledger.NewClient(helpers.LifecycleCtx(mctx, lc), cfg.Ledger.Endpoint, header)
	if err != nil {
		return nil, xerrors.Errorf("connecting to ledger node: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			closer()
			return nil
		},
	})
	return cl, nil
}

func PeerTransport(cfg *config.Config) peer.Transport {
	return peer.NewHTTPTransport(time.Duration(cfg.Peer.Timeout))
}

// ChannelLocks returns the in-process locker, stacked under etcd locks when
// several daemons share the wallet.
func ChannelLocks(mctx helpers.MetricsCtx, lc fx.Lifecycle, cfg *config.Config) (addrlock.Locker, error) {
	local := addrlock.NewLocal()
	ha := cfg.HighAvailability
	if !ha.Enabled {
		return local, nil
	}

	etcd, err := addrlock.NewEtcd(helpers.LifecycleCtx(mctx, lc), addrlock.EtcdConfig{
		Endpoints:  ha.EtcdEndpoints,
		User:       ha.EtcdUser,
		Pass:       ha.EtcdPassword,
		Namespace:  ha.Namespace,
		SessionTTL: int(time.Duration(ha.SessionTTL).Seconds()),
	})
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			return etcd.Close()
		},
	})
	return addrlock.Stacked{local, etcd}, nil
}

func ExposurePolicy(cfg *config.Config, clk clock.Clock) *paychmgr.ExposurePolicy {
	byAsset := make(map[types.Asset]int64, len(cfg.Exposure.MaxUnconfirmedByAsset))
	for asset, limit := range cfg.Exposure.MaxUnconfirmedByAsset {
		byAsset[types.Asset(asset)] = limit
	}
	return paychmgr.NewExposurePolicy(paychmgr.ExposureConfig{
		MaxUnconfirmedByAsset:   byAsset,
		DefaultMaxUnconfirmed:   cfg.Exposure.DefaultMaxUnconfirmed,
		MaxUnconfirmedByChannel: cfg.Exposure.MaxUnconfirmedByChannel,
		MinAge:                  time.Duration(cfg.Exposure.MinAge),
	}, clk)
}

type ChannelManagerParams struct {
	fx.In

	MetricsCtx helpers.MetricsCtx
	Lifecycle  fx.Lifecycle
	Config     *config.Config
	Store      *paychmgr.Store
	Ledger     paychmgr.LedgerAPI
	Transport  peer.Transport
	Locks      addrlock.Locker
	Exposure   *paychmgr.ExposurePolicy
	Clock      clock.Clock
}

// ChannelManager builds the manager and ties its background work to the
// node lifecycle.
func ChannelManager(p ChannelManagerParams) (*paychmgr.Manager, error) {
	cc := p.Config.Channels
	pm, err := paychmgr.NewManager(helpers.LifecycleCtx(p.MetricsCtx, p.Lifecycle), paychmgr.ManagerParams{
		Config: paychmgr.Config{
			ContactURL:         p.Config.Peer.ContactURL,
			MinDeposit:         cc.MinDeposit,
			DefaultTimeout:     cc.DefaultTimeout,
			AAVersion:          cc.AAVersion,
			SweepInterval:      time.Duration(cc.SweepInterval),
			SweepParallelism:   cc.SweepParallelism,
			CloseGrace:         time.Duration(cc.CloseGrace),
			SeenUnitsCacheSize: cc.SeenUnitsCacheSize,
		},
		Store:     p.Store,
		Ledger:    p.Ledger,
		Transport: p.Transport,
		Locks:     p.Locks,
		Exposure:  p.Exposure,
		Clock:     p.Clock,
	})
	if err != nil {
		return nil, xerrors.Errorf("creating channel manager: %w", err)
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: pm.Start,
		OnStop: func(_ context.Context) error {
			return pm.Stop()
		},
	})
	return pm, nil
}
