package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	"github.com/urfave/cli/v2"
	"go.opencensus.io/stats"
	"go.opencensus.io/tag"
	"golang.org/x/xerrors"

	"github.com/aachannels/aachan/api"
	"github.com/aachannels/aachan/build"
	"github.com/aachannels/aachan/metrics"
	"github.com/aachannels/aachan/node"
	"github.com/aachannels/aachan/node/config"
	"github.com/aachannels/aachan/node/modules/dtypes"
)

var configFlag = &cli.StringFlag{
	Name:    "config",
	Usage:   "path to the config file",
	Value:   "~/.aachan/config.toml",
	EnvVars: []string{"AACHAN_CONFIG"},
}

// DaemonCmd is the `aachan daemon` command
var DaemonCmd = &cli.Command{
	Name:  "daemon",
	Usage: "Start an aachan daemon process",
	Flags: []cli.Flag{
		configFlag,
		&cli.StringFlag{
			Name:  "api",
			Usage: "override the API listen address",
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx, _ := tag.New(context.Background(),
			tag.Insert(metrics.Version, build.BuildVersion),
			tag.Insert(metrics.Commit, build.CurrentCommit),
		)
		stats.Record(ctx, metrics.AAChanInfo.M(1))

		cfg, err := config.FromFile(cctx.String("config"))
		if err != nil {
			return xerrors.Errorf("loading config: %w", err)
		}
		if cctx.IsSet("api") {
			cfg.API.ListenAddress = cctx.String("api")
		}
		if cfg.Peer.ContactURL == "" {
			return xerrors.New("Peer.ContactURL must be set so peers can reach this node")
		}

		shutdownChan := make(chan struct{})

		var full api.Channels
		stop, err := node.New(ctx,
			node.ChannelsAPI(&full),
			node.Config(cfg),
			node.Override(new(dtypes.ShutdownChan), shutdownChan),
		)
		if err != nil {
			return xerrors.Errorf("initializing node: %w", err)
		}

		if err := writeAdminToken(ctx, full, cfg.API.TokenPath); err != nil {
			_ = stop(ctx)
			return err
		}

		rpcStopper, err := node.ServeRPC(node.ChannelsHandler(full, true), "aachan-daemon", cfg.API.ListenAddress)
		if err != nil {
			_ = stop(ctx)
			return xerrors.Errorf("failed to start json-rpc endpoint: %s", err)
		}

		// Monitor for shutdown.
		finishCh := node.MonitorShutdown(shutdownChan,
			node.ShutdownHandler{Component: "rpc server", StopFunc: rpcStopper},
			node.ShutdownHandler{Component: "node", StopFunc: stop},
		)
		<-finishCh
		return nil
	},
}

// writeAdminToken leaves a token for the local CLI next to the config.
func writeAdminToken(ctx context.Context, a api.Channels, path string) error {
	if path == "" {
		return nil
	}
	path, err := homedir.Expand(path)
	if err != nil {
		return err
	}
	token, err := a.AuthNew(ctx, api.AllPermissions)
	if err != nil {
		return xerrors.Errorf("creating admin token: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	if err := os.WriteFile(path, token, 0600); err != nil {
		return xerrors.Errorf("writing admin token: %w", err)
	}
	log.Infow("wrote admin token", "path", path)
	return nil
}
