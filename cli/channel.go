package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/aachannels/aachan/api"
	"github.com/aachannels/aachan/chain/types"
	"github.com/aachannels/aachan/lib/sigs"
)

var channelCmd = &cli.Command{
	Name:  "channel",
	Usage: "Manage payment channels",
	Subcommands: []*cli.Command{
		channelCreateCmd,
		channelDepositCmd,
		channelPayCmd,
		channelCloseCmd,
		channelStatusCmd,
		channelListCmd,
		channelAutoRefillCmd,
		channelNotifyCmd,
	},
}

func parseAmount(s string) (int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, xerrors.Errorf("parsing amount %q: %w", s, err)
	}
	if v <= 0 {
		return 0, xerrors.Errorf("amount must be positive, got %d", v)
	}
	return v, nil
}

func parseChannel(s string) (types.Address, error) {
	ch, err := types.ParseAddress(s)
	if err != nil {
		return "", xerrors.Errorf("parsing channel address: %w", err)
	}
	return ch, nil
}

var channelCreateCmd = &cli.Command{
	Name:      "create",
	Usage:     "Open a channel with a peer and fund it",
	ArgsUsage: "[peerUrl amount]",
	Flags: []cli.Flag{
		&cli.Int64Flag{
			Name:  "timeout",
			Usage: "seconds the peer has to dispute a close; 0 uses the daemon default",
		},
		&cli.StringFlag{
			Name:  "asset",
			Usage: "asset of the channel",
			Value: string(types.AssetBase),
		},
	},
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() != 2 {
			return IncorrectNumArgs(cctx)
		}
		amt, err := parseAmount(cctx.Args().Get(1))
		if err != nil {
			return ShowHelp(cctx, err)
		}

		napi, closer, err := GetAPI(cctx)
		if err != nil {
			return err
		}
		defer closer()

		ch, err := napi.ChannelCreate(ReqContext(cctx), cctx.Args().First(), amt, api.ChannelCreateOpts{
			Timeout: cctx.Int64("timeout"),
			Asset:   types.Asset(cctx.String("asset")),
		})
		if err != nil {
			return err
		}
		NewAppFmt(cctx.App).Println(ch)
		return nil
	},
}

var channelDepositCmd = &cli.Command{
	Name:      "deposit",
	Usage:     "Add funds to our side of a channel",
	ArgsUsage: "[channel amount]",
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() != 2 {
			return IncorrectNumArgs(cctx)
		}
		ch, err := parseChannel(cctx.Args().First())
		if err != nil {
			return ShowHelp(cctx, err)
		}
		amt, err := parseAmount(cctx.Args().Get(1))
		if err != nil {
			return ShowHelp(cctx, err)
		}

		napi, closer, err := GetAPI(cctx)
		if err != nil {
			return err
		}
		defer closer()

		unit, err := napi.ChannelDeposit(ReqContext(cctx), ch, amt)
		if err != nil {
			return err
		}
		NewAppFmt(cctx.App).Println(unit)
		return nil
	},
}

var channelPayCmd = &cli.Command{
	Name:      "pay",
	Usage:     "Pay the peer of a channel",
	ArgsUsage: "[channel amount]",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "message",
			Usage: "JSON message delivered to the peer with the payment",
		},
	},
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() != 2 {
			return IncorrectNumArgs(cctx)
		}
		ch, err := parseChannel(cctx.Args().First())
		if err != nil {
			return ShowHelp(cctx, err)
		}
		amt, err := parseAmount(cctx.Args().Get(1))
		if err != nil {
			return ShowHelp(cctx, err)
		}
		var msg json.RawMessage
		if m := cctx.String("message"); m != "" {
			if !json.Valid([]byte(m)) {
				return ShowHelp(cctx, xerrors.New("--message must be valid JSON"))
			}
			msg = json.RawMessage(m)
		}

		napi, closer, err := GetAPI(cctx)
		if err != nil {
			return err
		}
		defer closer()

		res, err := napi.ChannelPay(ReqContext(cctx), ch, amt, msg)
		if err != nil {
			return err
		}
		afmt := NewAppFmt(cctx.App)
		afmt.Println("Outcome:", res.Outcome)
		if len(res.Response) > 0 {
			afmt.Println("Response:", string(res.Response))
		}
		return nil
	},
}

var channelCloseCmd = &cli.Command{
	Name:      "close",
	Usage:     "Start closing a channel",
	ArgsUsage: "[channel]",
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() != 1 {
			return IncorrectNumArgs(cctx)
		}
		ch, err := parseChannel(cctx.Args().First())
		if err != nil {
			return ShowHelp(cctx, err)
		}

		napi, closer, err := GetAPI(cctx)
		if err != nil {
			return err
		}
		defer closer()

		unit, err := napi.ChannelClose(ReqContext(cctx), ch)
		if err != nil {
			return err
		}
		NewAppFmt(cctx.App).Println(unit)
		return nil
	},
}

var channelStatusCmd = &cli.Command{
	Name:      "status",
	Usage:     "Show the state of a channel",
	ArgsUsage: "[channel]",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "json",
			Usage: "print the full record as JSON",
		},
	},
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() != 1 {
			return IncorrectNumArgs(cctx)
		}
		ch, err := parseChannel(cctx.Args().First())
		if err != nil {
			return ShowHelp(cctx, err)
		}

		napi, closer, err := GetAPI(cctx)
		if err != nil {
			return err
		}
		defer closer()

		st, err := napi.ChannelStatus(ReqContext(cctx), ch)
		if err != nil {
			return err
		}

		afmt := NewAppFmt(cctx.App)
		if cctx.Bool("json") {
			b, err := json.MarshalIndent(st, "", "  ")
			if err != nil {
				return err
			}
			afmt.Println(string(b))
			return nil
		}

		w := tabwriter.NewWriter(cctx.App.Writer, 2, 4, 2, ' ', 0)
		kv := func(k string, v interface{}) { _, _ = io.WriteString(w, k+":\t"+toString(v)+"\n") }
		kv("Channel", st.Channel)
		kv("Peer", st.PeerAddress)
		kv("Asset", st.Asset)
		kv("Status", colorStatus(st.Status))
		if st.UnconfirmedStatus != "" {
			kv("Unconfirmed status", colorStatus(st.UnconfirmedStatus))
		}
		kv("Period", st.Period)
		kv("Deposited by me", amount(st.AmountDepositedByMe))
		kv("Deposited by peer", amount(st.AmountDepositedByPeer))
		kv("Spent by me", amount(st.AmountSpentByMe))
		kv("Spent by peer", amount(st.AmountSpentByPeer))
		kv("Free", amount(st.Free))
		if st.AmountPossiblyLostByMe > 0 {
			kv("Possibly lost", amount(st.AmountPossiblyLostByMe))
		}
		if d := closeDeadline(time.Now(), st.CloseTimestamp, st.Timeout); d != "" {
			kv("Close", d)
		}
		if act := st.PendingAction; act != nil {
			if act.Unit == "" {
				kv("Pending action", string(act.Kind))
			} else {
				kv("Pending action", fmt.Sprintf("%s, sent in %s", act.Kind, act.Unit))
			}
		}
		return w.Flush()
	},
}

func toString(v interface{}) string {
	switch v := v.(type) {
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case interface{ String() string }:
		return v.String()
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

var channelListCmd = &cli.Command{
	Name:  "list",
	Usage: "List tracked channels",
	Action: func(cctx *cli.Context) error {
		napi, closer, err := GetAPI(cctx)
		if err != nil {
			return err
		}
		defer closer()
		ctx := ReqContext(cctx)

		chs, err := napi.ChannelList(ctx)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cctx.App.Writer, 2, 4, 2, ' ', 0)
		_, _ = io.WriteString(w, "CHANNEL\tPEER\tSTATUS\tFREE\n")
		for _, ch := range chs {
			st, err := napi.ChannelStatus(ctx, ch)
			if err != nil {
				return xerrors.Errorf("getting status of %s: %w", ch, err)
			}
			_, _ = io.WriteString(w, string(ch)+"\t"+string(st.PeerAddress)+"\t"+colorStatus(st.Status)+"\t"+amount(st.Free)+"\n")
		}
		return w.Flush()
	},
}

var channelAutoRefillCmd = &cli.Command{
	Name:        "autorefill",
	Usage:       "Deposit amount whenever the free balance drops below threshold",
	ArgsUsage:   "[channel threshold amount]",
	Description: `A threshold of 0 turns refilling off.`,
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() != 3 {
			return IncorrectNumArgs(cctx)
		}
		ch, err := parseChannel(cctx.Args().First())
		if err != nil {
			return ShowHelp(cctx, err)
		}
		threshold, err := strconv.ParseInt(cctx.Args().Get(1), 10, 64)
		if err != nil {
			return ShowHelp(cctx, xerrors.Errorf("parsing threshold: %w", err))
		}
		amt, err := strconv.ParseInt(cctx.Args().Get(2), 10, 64)
		if err != nil {
			return ShowHelp(cctx, xerrors.Errorf("parsing amount: %w", err))
		}

		napi, closer, err := GetAPI(cctx)
		if err != nil {
			return err
		}
		defer closer()

		return napi.ChannelSetAutoRefill(ReqContext(cctx), ch, threshold, amt)
	},
}

var channelNotifyCmd = &cli.Command{
	Name:  "notify",
	Usage: "Print channel notifications as JSON lines until interrupted",
	Action: func(cctx *cli.Context) error {
		napi, closer, err := GetAPI(cctx)
		if err != nil {
			return err
		}
		defer closer()

		notes, err := napi.ChannelNotify(ReqContext(cctx))
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cctx.App.Writer)
		for n := range notes {
			if err := enc.Encode(n); err != nil {
				return err
			}
		}
		return nil
	},
}

var packageCmd = &cli.Command{
	Name:  "package",
	Usage: "Hand payment packages over outside the peer connection",
	Subcommands: []*cli.Command{
		packageCreateCmd,
		packageVerifyCmd,
		packageAcceptCmd,
	},
}

var packageCreateCmd = &cli.Command{
	Name:      "create",
	Usage:     "Spend amount and print the signed package",
	ArgsUsage: "[channel amount]",
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() != 2 {
			return IncorrectNumArgs(cctx)
		}
		ch, err := parseChannel(cctx.Args().First())
		if err != nil {
			return ShowHelp(cctx, err)
		}
		amt, err := parseAmount(cctx.Args().Get(1))
		if err != nil {
			return ShowHelp(cctx, err)
		}

		napi, closer, err := GetAPI(cctx)
		if err != nil {
			return err
		}
		defer closer()

		pkg, err := napi.ChannelCreatePaymentPackage(ReqContext(cctx), ch, amt)
		if err != nil {
			return err
		}
		return json.NewEncoder(cctx.App.Writer).Encode(pkg)
	},
}

// readPackage reads a package from the file named by the first argument, or
// stdin when it is "-".
func readPackage(cctx *cli.Context) (*sigs.SignedPackage, error) {
	if cctx.NArg() != 1 {
		return nil, IncorrectNumArgs(cctx)
	}
	var r io.Reader
	if name := cctx.Args().First(); name == "-" {
		r = NewAppFmt(cctx.App).Stdin
	} else {
		f, err := os.Open(name)
		if err != nil {
			return nil, err
		}
		defer f.Close() //nolint:errcheck
		r = f
	}

	var pkg sigs.SignedPackage
	if err := json.NewDecoder(r).Decode(&pkg); err != nil {
		return nil, xerrors.Errorf("decoding package: %w", err)
	}
	return &pkg, nil
}

var packageVerifyCmd = &cli.Command{
	Name:      "verify",
	Usage:     "Check a package from a peer without accepting it",
	ArgsUsage: "[file|-]",
	Action: func(cctx *cli.Context) error {
		pkg, err := readPackage(cctx)
		if err != nil {
			return err
		}

		napi, closer, err := GetAPI(cctx)
		if err != nil {
			return err
		}
		defer closer()

		info, err := napi.ChannelVerifyPaymentPackage(ReqContext(cctx), pkg)
		if err != nil {
			return err
		}
		afmt := NewAppFmt(cctx.App)
		afmt.Println("Channel:", info.Channel)
		afmt.Println("Signer:", info.Signer)
		afmt.Println("Period:", info.Message.Period)
		afmt.Println("Credit:", amount(info.Credit))
		return nil
	},
}

var packageAcceptCmd = &cli.Command{
	Name:      "accept",
	Usage:     "Accept a package as if the peer had sent it",
	ArgsUsage: "[file|-]",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "message",
			Usage: "JSON message attached to the payment",
		},
	},
	Action: func(cctx *cli.Context) error {
		pkg, err := readPackage(cctx)
		if err != nil {
			return err
		}
		var msg json.RawMessage
		if m := cctx.String("message"); m != "" {
			msg = json.RawMessage(m)
		}

		napi, closer, err := GetAPI(cctx)
		if err != nil {
			return err
		}
		defer closer()

		resp, err := napi.ChannelAcceptPaymentPackage(ReqContext(cctx), pkg, msg)
		if err != nil {
			return err
		}
		if len(resp) > 0 {
			NewAppFmt(cctx.App).Println(string(resp))
		}
		return nil
	},
}
