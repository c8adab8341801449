package cli

import (
	"github.com/filecoin-project/go-jsonrpc/auth"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/aachannels/aachan/api"
)

var authCmd = &cli.Command{
	Name:  "auth",
	Usage: "Manage RPC permissions",
	Subcommands: []*cli.Command{
		authCreateAdminToken,
		authApiInfoToken,
	},
}

func permsFromFlag(cctx *cli.Context) ([]auth.Permission, error) {
	if !cctx.IsSet("perm") {
		return nil, xerrors.New("--perm flag not set")
	}
	perms, ok := api.PermissionsUpTo(auth.Permission(cctx.String("perm")))
	if !ok {
		return nil, xerrors.Errorf("--perm flag has to be one of: %s", api.AllPermissions)
	}
	return perms, nil
}

var authCreateAdminToken = &cli.Command{
	Name:  "create-token",
	Usage: "Create token",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "perm",
			Usage: "permission to assign to the token, one of: read, write, sign, admin",
		},
	},

	Action: func(cctx *cli.Context) error {
		perms, err := permsFromFlag(cctx)
		if err != nil {
			return err
		}

		napi, closer, err := GetAPI(cctx)
		if err != nil {
			return err
		}
		defer closer()

		token, err := napi.AuthNew(ReqContext(cctx), perms)
		if err != nil {
			return err
		}

		NewAppFmt(cctx.App).Println(string(token))
		return nil
	},
}

var authApiInfoToken = &cli.Command{
	Name:  "api-info",
	Usage: "Get token with API info required to connect to this node",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "perm",
			Usage: "permission to assign to the token, one of: read, write, sign, admin",
		},
	},

	Action: func(cctx *cli.Context) error {
		perms, err := permsFromFlag(cctx)
		if err != nil {
			return err
		}

		napi, closer, err := GetAPI(cctx)
		if err != nil {
			return err
		}
		defer closer()

		token, err := napi.AuthNew(ReqContext(cctx), perms)
		if err != nil {
			return err
		}

		ainfo, err := GetAPIInfo(cctx)
		if err != nil {
			return xerrors.Errorf("could not get API info: %w", err)
		}

		NewAppFmt(cctx.App).Printf("%s=%s:%s\n", EnvAPIInfo, string(token), ainfo.Addr)
		return nil
	},
}
