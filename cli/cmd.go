package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/filecoin-project/go-jsonrpc"
	logging "github.com/ipfs/go-log/v2"
	"github.com/mitchellh/go-homedir"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/aachannels/aachan/api"
	"github.com/aachannels/aachan/api/client"
)

var log = logging.Logger("cli")

const (
	metadataContext = "context"
	// metadataTestNode lets tests hand commands an API without a daemon.
	metadataTestNode = "testnode"

	EnvAPIInfo    = "AACHAN_API_INFO"
	DefaultAPIURL = "ws://127.0.0.1:6360/rpc/v0"
)

// APIFlags are the flags every command talking to the daemon needs.
var APIFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "api-info",
		Usage:   "daemon API as [token:]url",
		EnvVars: []string{EnvAPIInfo},
	},
	&cli.StringFlag{
		Name:  "token-path",
		Usage: "file holding the API token, used when api-info carries none",
		Value: "~/.aachan/token",
	},
}

type APIInfo struct {
	Addr  string
	Token []byte
}

// ParseApiInfo splits "token:url". A bare url carries no token.
func ParseApiInfo(s string) APIInfo {
	tok, addr, ok := strings.Cut(s, ":")
	if ok && hasScheme(addr) {
		return APIInfo{Addr: addr, Token: []byte(tok)}
	}
	return APIInfo{Addr: s}
}

func hasScheme(s string) bool {
	for _, scheme := range []string{"ws://", "wss://", "http://", "https://"} {
		if strings.HasPrefix(s, scheme) {
			return true
		}
	}
	return false
}

func (a APIInfo) AuthHeader() http.Header {
	if len(a.Token) == 0 {
		log.Warn("API Token not set and requested, capabilities might be limited.")
		return nil
	}
	headers := http.Header{}
	headers.Add("Authorization", "Bearer "+string(a.Token))
	return headers
}

func GetAPIInfo(cctx *cli.Context) (APIInfo, error) {
	ainfo := APIInfo{Addr: DefaultAPIURL}
	if s := cctx.String("api-info"); s != "" {
		ainfo = ParseApiInfo(s)
	}
	if len(ainfo.Token) > 0 {
		return ainfo, nil
	}

	path, err := homedir.Expand(cctx.String("token-path"))
	if err != nil {
		return APIInfo{}, xerrors.Errorf("expanding token path: %w", err)
	}
	tok, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return APIInfo{}, xerrors.Errorf("reading token: %w", err)
	default:
		ainfo.Token = []byte(strings.TrimSpace(string(tok)))
	}
	return ainfo, nil
}

// GetAPI connects to the daemon named by the api flags.
func GetAPI(cctx *cli.Context) (api.Channels, jsonrpc.ClientCloser, error) {
	if tn, ok := cctx.App.Metadata[metadataTestNode]; ok {
		return tn.(api.Channels), func() {}, nil
	}

	ainfo, err := GetAPIInfo(cctx)
	if err != nil {
		return nil, nil, xerrors.Errorf("could not get API info: %w", err)
	}

	a, closer, err := client.NewChannelsRPC(cctx.Context, ainfo.Addr, ainfo.AuthHeader())
	if err != nil {
		return nil, nil, xerrors.Errorf("connecting to daemon at %s: %w", ainfo.Addr, err)
	}

	v, err := a.Version(cctx.Context)
	if err != nil {
		closer()
		return nil, nil, err
	}
	if err := api.CheckVersion(v.APIVersion); err != nil {
		closer()
		return nil, nil, err
	}
	return a, closer, nil
}

// ReqContext returns context for cli execution. Calling it for the first time
// installs SIGTERM handler that will close returned context.
// Not safe for concurrent execution.
func ReqContext(cctx *cli.Context) context.Context {
	if uctx, ok := cctx.App.Metadata[metadataContext]; ok {
		// unchecked cast as if something else is in there
		// it is crash worthy either way
		return uctx.(context.Context)
	}

	ctx, done := context.WithCancel(cctx.Context)
	sigChan := make(chan os.Signal, 2)
	go func() {
		<-sigChan
		done()
	}()
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	cctx.App.Metadata[metadataContext] = ctx
	return ctx
}

var Commands = []*cli.Command{
	authCmd,
	channelCmd,
	packageCmd,
	versionCmd,
	stopCmd,
}

var versionCmd = &cli.Command{
	Name:  "version",
	Usage: "Print daemon version",
	Action: func(cctx *cli.Context) error {
		napi, closer, err := GetAPI(cctx)
		if err != nil {
			return err
		}
		defer closer()

		v, err := napi.Version(ReqContext(cctx))
		if err != nil {
			return err
		}
		afmt := NewAppFmt(cctx.App)
		afmt.Println("Daemon:", v.Version, "API:", v.APIVersion)
		afmt.Println("Wallet:", v.Address)
		return nil
	},
}

var stopCmd = &cli.Command{
	Name:  "stop",
	Usage: "Stop a running daemon",
	Action: func(cctx *cli.Context) error {
		napi, closer, err := GetAPI(cctx)
		if err != nil {
			return err
		}
		defer closer()

		return napi.Shutdown(ReqContext(cctx))
	},
}
