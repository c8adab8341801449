package main

import (
	"bytes"
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/aachannels/aachan/node/config"
)

var configCmd = &cli.Command{
	Name:  "config",
	Usage: "Manage node config",
	Subcommands: []*cli.Command{
		configDefaultCmd,
		configShowCmd,
	},
}

var configDefaultCmd = &cli.Command{
	Name:  "default",
	Usage: "Print default node config",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "no-comment",
			Usage: "don't comment default values",
		},
	},
	Action: func(cctx *cli.Context) error {
		c := config.Default()

		if cctx.Bool("no-comment") {
			return printConfig(c)
		}

		cb, err := config.ConfigComment(c)
		if err != nil {
			return err
		}

		fmt.Println(string(cb))
		return nil
	},
}

var configShowCmd = &cli.Command{
	Name:  "show",
	Usage: "Print the config the daemon would run with",
	Flags: []cli.Flag{
		configFlag,
	},
	Action: func(cctx *cli.Context) error {
		c, err := config.FromFile(cctx.String("config"))
		if err != nil {
			return err
		}
		c.API.Secret = redact(c.API.Secret)
		c.Ledger.Token = redact(c.Ledger.Token)
		c.HighAvailability.EtcdPassword = redact(c.HighAvailability.EtcdPassword)
		c.Datastore.URL = redact(c.Datastore.URL)
		return printConfig(c)
	},
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "<redacted>"
}

func printConfig(c *config.Config) error {
	buf := new(bytes.Buffer)
	e := toml.NewEncoder(buf)
	if err := e.Encode(c); err != nil {
		return xerrors.Errorf("encoding config: %w", err)
	}
	fmt.Println(buf.String())
	return nil
}
