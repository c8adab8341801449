package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/hako/durafmt"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"

	"github.com/aachannels/aachan/paychmgr"
)

// Set the global default, to be overridden by individual cli flags in order
func init() {
	color.NoColor = os.Getenv("GOLOG_LOG_FMT") != "color" &&
		!isatty.IsTerminal(os.Stdout.Fd()) &&
		!isatty.IsCygwinTerminal(os.Stdout.Fd())
}

type AppFmt struct {
	app   *cli.App
	Stdin io.Reader
}

func NewAppFmt(a *cli.App) *AppFmt {
	var stdin io.Reader
	istdin, ok := a.Metadata["stdin"]
	if ok {
		stdin = istdin.(io.Reader)
	} else {
		stdin = os.Stdin
	}
	return &AppFmt{app: a, Stdin: stdin}
}

func (a *AppFmt) Print(args ...interface{}) {
	fmt.Fprint(a.app.Writer, args...)
}

func (a *AppFmt) Println(args ...interface{}) {
	fmt.Fprintln(a.app.Writer, args...)
}

func (a *AppFmt) Printf(fmtstr string, args ...interface{}) {
	fmt.Fprintf(a.app.Writer, fmtstr, args...)
}

func colorStatus(s paychmgr.Status) string {
	switch s {
	case paychmgr.StatusOpen:
		return color.GreenString(string(s))
	case paychmgr.StatusClosed:
		return color.RedString(string(s))
	case "":
		return "-"
	default:
		return color.YellowString(string(s))
	}
}

func amount(v int64) string {
	return humanize.Comma(v)
}

// closeDeadline describes when a close started at ts can be confirmed.
func closeDeadline(now time.Time, ts, timeout int64) string {
	if ts == 0 {
		return ""
	}
	deadline := time.Unix(ts+timeout, 0)
	if !now.Before(deadline) {
		return "confirmable now"
	}
	return fmt.Sprintf("confirmable in %s", durafmt.Parse(deadline.Sub(now)).LimitFirstN(2))
}
