package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/aachannels/aachan/chain/types"
	"github.com/aachannels/aachan/paychmgr"
)

type PrintHelpErr struct {
	Err error
	Ctx *cli.Context
}

func (e *PrintHelpErr) Error() string {
	return e.Err.Error()
}

func (e *PrintHelpErr) Unwrap() error {
	return e.Err
}

func (e *PrintHelpErr) Is(o error) bool {
	_, ok := o.(*PrintHelpErr)
	return ok
}

func ShowHelp(cctx *cli.Context, err error) error {
	return &PrintHelpErr{Err: err, Ctx: cctx}
}

func IncorrectNumArgs(cctx *cli.Context) error {
	return ShowHelp(cctx, xerrors.Errorf("incorrect number of arguments, got %d", cctx.NArg()))
}

// errorHint suggests what the operator can do about err.
func errorHint(err error) string {
	switch {
	case errors.Is(err, paychmgr.ErrChannelNotTracked):
		return "'aachan channel list' shows the channels this node knows"
	case errors.Is(err, paychmgr.ErrInsufficientFunds):
		return "add funds with 'aachan channel deposit', or enable 'aachan channel autorefill'"
	case errors.Is(err, paychmgr.ErrNotOpen):
		return "the channel opens once a deposit is stable on the ledger, see 'aachan channel status'"
	case errors.Is(err, paychmgr.ErrClosing):
		return "deposit again after the close settles to start a new period"
	case errors.Is(err, types.ErrNotEnoughFunds):
		return "the ledger wallet cannot cover this, top it up first"
	}
	return ""
}

func RunApp(app *cli.App) {
	if err := app.Run(os.Args); err != nil {
		if os.Getenv("AACHAN_DEV") != "" {
			log.Warnf("%+v", err)
		} else {
			fmt.Fprintf(os.Stderr, "%s %s\n", color.RedString("ERROR:"), err) // nolint:errcheck
		}
		if hint := errorHint(err); hint != "" {
			fmt.Fprintf(os.Stderr, "hint: %s\n", hint) // nolint:errcheck
		}
		var phe *PrintHelpErr
		if errors.As(err, &phe) {
			fmt.Fprintln(os.Stderr) // nolint:errcheck
			_ = cli.ShowCommandHelp(phe.Ctx, phe.Ctx.Command.Name)
		}
		os.Exit(1)
	}
}
