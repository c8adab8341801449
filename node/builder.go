package node

import (
	"context"

	"github.com/ipfs/go-datastore"
	logging "github.com/ipfs/go-log/v2"
	"github.com/raulk/clock"
	"go.uber.org/fx"
	"golang.org/x/xerrors"

	"github.com/aachannels/aachan/api"
	"github.com/aachannels/aachan/lib/addrlock"
	"github.com/aachannels/aachan/node/config"
	"github.com/aachannels/aachan/node/impl"
	"github.com/aachannels/aachan/node/modules"
	"github.com/aachannels/aachan/node/modules/dtypes"
	"github.com/aachannels/aachan/node/modules/helpers"
	"github.com/aachannels/aachan/paychmgr"
	"github.com/aachannels/aachan/peer"
)

var log = logging.Logger("builder")

// special keys modules whose provided type does not identify them.
type special struct{ id int }

type invoke int

// Invokes are called in the order they are defined.
//
//nolint:golint
const (
	ServePeerKey = invoke(iota)
	ServeMetricsKey
	ExtractApiKey

	_nInvokes // keep this last
)

type Settings struct {
	// modules holds one constructor per key. The key is the type the
	// constructor provides, or a special key when that type is ambiguous.
	modules map[interface{}]fx.Option

	// invokes run in key order once every constructor is known.
	invokes []fx.Option

	// Config is set by the Config option; a node cannot be built without it.
	Config bool
}

func (s *Settings) fxOptions() fx.Option {
	opts := make([]fx.Option, 0, len(s.modules)+len(s.invokes))
	for _, m := range s.modules {
		opts = append(opts, m)
	}
	for _, inv := range s.invokes {
		if inv != nil {
			opts = append(opts, inv)
		}
	}
	return fx.Options(opts...)
}

// StopFunc stops the node
type StopFunc func(context.Context) error

func defaults() []Option {
	return []Option{
		Override(new(helpers.MetricsCtx), func() context.Context {
			return context.Background()
		}),
		Override(new(dtypes.ShutdownChan), make(chan struct{})),
		Override(new(clock.Clock), clock.New),
	}
}

// Config sets up constructors based on the provided Config
func Config(cfg *config.Config) Option {
	return Options(
		func(s *Settings) error {
			if err := cfg.Validate(); err != nil {
				return xerrors.Errorf("invalid config: %w", err)
			}
			s.Config = true
			return nil
		},
		Override(new(*config.Config), cfg),

		Override(new(*dtypes.APIAlg), modules.APISecret),
		Override(new(datastore.Batching), modules.Datastore),
		Override(new(paychmgr.LedgerAPI), modules.LedgerClient),
		Override(new(peer.Transport), modules.PeerTransport),
		Override(new(addrlock.Locker), modules.ChannelLocks),
		Override(new(*paychmgr.ExposurePolicy), modules.ExposurePolicy),
		Override(new(*paychmgr.Store), paychmgr.NewStore),
		Override(new(*paychmgr.Manager), modules.ChannelManager),

		Override(ServePeerKey, modules.ServePeer),
		If(cfg.Metrics.Enabled,
			Override(ServeMetricsKey, modules.ServeMetrics),
		),
	)
}

// ChannelsAPI extracts the node API into out once the node is built.
func ChannelsAPI(out *api.Channels) Option {
	return func(s *Settings) error {
		resAPI := &impl.ChannelsAPI{}
		s.invokes[ExtractApiKey] = fx.Populate(resAPI)
		*out = resAPI
		return nil
	}
}

// New builds the channel node described by opts and starts it: the manager
// is running and, unless unset, the peer endpoint is listening. The
// returned function stops everything New started.
func New(ctx context.Context, opts ...Option) (StopFunc, error) {
	settings := Settings{
		modules: map[interface{}]fx.Option{},
		invokes: make([]fx.Option, _nInvokes),
	}
	if err := Options(Options(defaults()...), Options(opts...))(&settings); err != nil {
		return nil, xerrors.Errorf("applying node options: %w", err)
	}
	if !settings.Config {
		return nil, xerrors.New("node config not set")
	}

	app := fx.New(settings.fxOptions(), fx.NopLogger)
	if err := app.Start(ctx); err != nil {
		// drop fx.NopLogger above to see which constructor failed
		return nil, xerrors.Errorf("starting node: %w", err)
	}
	log.Info("channel node started")
	return app.Stop, nil
}

// Test replaces the ledger connection and clock, and leaves serving the peer
// endpoint to the caller. It must come after Config.
func Test(ledger paychmgr.LedgerAPI, clk clock.Clock) Option {
	return Options(
		Override(new(paychmgr.LedgerAPI), ledger),
		Override(new(clock.Clock), clk),
		Unset(ServePeerKey),
		Unset(ServeMetricsKey),
	)
}
