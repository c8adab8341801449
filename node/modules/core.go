package modules

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"

	"github.com/gbrlsnchs/jwt/v3"
	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	badgerds "github.com/ipfs/go-ds-badger2"
	levelds "github.com/ipfs/go-ds-leveldb"
	logging "github.com/ipfs/go-log/v2"
	"github.com/mitchellh/go-homedir"
	"go.uber.org/fx"
	"golang.org/x/xerrors"

	"github.com/aachannels/aachan/lib/pgds"
	"github.com/aachannels/aachan/node/config"
	"github.com/aachannels/aachan/node/modules/dtypes"
	"github.com/aachannels/aachan/node/modules/helpers"
)

var log = logging.Logger("modules")

// APISecret decodes the configured token key. Without one a random key is
// used, which invalidates issued tokens on every restart.
func APISecret(cfg *config.Config) (*dtypes.APIAlg, error) {
	if cfg.API.Secret == "" {
		log.Warn("no API secret configured, generating an ephemeral one")
		key, err := io.ReadAll(io.LimitReader(rand.Reader, 32))
		if err != nil {
			return nil, xerrors.Errorf("generating API secret: %w", err)
		}
		return (*dtypes.APIAlg)(jwt.NewHS256(key)), nil
	}

	key, err := hex.DecodeString(cfg.API.Secret)
	if err != nil {
		return nil, xerrors.Errorf("decoding API secret: %w", err)
	}
	return (*dtypes.APIAlg)(jwt.NewHS256(key)), nil
}

func Datastore(mctx helpers.MetricsCtx, lc fx.Lifecycle, cfg *config.Config) (datastore.Batching, error) {
	var ds datastore.Batching
	switch cfg.Datastore.Backend {
	case "memory", "":
		ds = dssync.MutexWrap(datastore.NewMapDatastore())
	case "leveldb":
		path, err := homedir.Expand(cfg.Datastore.Path)
		if err != nil {
			return nil, err
		}
		lds, err := levelds.NewDatastore(path, nil)
		if err != nil {
			return nil, xerrors.Errorf("opening leveldb datastore at %s: %w", path, err)
		}
		ds = lds
	case "badger":
		path, err := homedir.Expand(cfg.Datastore.Path)
		if err != nil {
			return nil, err
		}
		opts := badgerds.DefaultOptions
		bds, err := badgerds.NewDatastore(path, &opts)
		if err != nil {
			return nil, xerrors.Errorf("opening badger datastore at %s: %w", path, err)
		}
		ds = bds
	case "postgres":
		pds, err := pgds.New(helpers.LifecycleCtx(mctx, lc), cfg.Datastore.URL, cfg.Datastore.Table)
		if err != nil {
			return nil, xerrors.Errorf("opening postgres datastore: %w", err)
		}
		ds = pds
	default:
		return nil, xerrors.Errorf("unknown datastore backend %q", cfg.Datastore.Backend)
	}

	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			return ds.Close()
		},
	})
	return ds, nil
}
