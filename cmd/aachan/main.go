package main

import (
	logging "github.com/ipfs/go-log/v2"
	"github.com/urfave/cli/v2"

	"github.com/aachannels/aachan/build"
	lcli "github.com/aachannels/aachan/cli"
	"github.com/aachannels/aachan/lib/aalog"
)

var log = logging.Logger("main")

func main() {
	aalog.SetupLogLevels()

	local := []*cli.Command{
		DaemonCmd,
		configCmd,
	}

	app := &cli.App{
		Name:                 "aachan",
		Usage:                "Payment channels over autonomous agents",
		Version:              build.UserVersion(),
		EnableBashCompletion: true,
		Flags:                lcli.APIFlags,
		Commands:             append(local, lcli.Commands...),
	}

	lcli.RunApp(app)
}
