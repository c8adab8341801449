package node

import (
	"errors"
	"net"
	"net/http"
	_ "net/http/pprof"
	"time"

	"github.com/filecoin-project/go-jsonrpc"
	"github.com/filecoin-project/go-jsonrpc/auth"
	"github.com/gorilla/mux"
	"golang.org/x/xerrors"

	"github.com/aachannels/aachan/api"
	"github.com/aachannels/aachan/api/apistruct"
	"github.com/aachannels/aachan/metrics/proxy"
)

// ServeRPC serves an HTTP handler over the supplied listen address
func ServeRPC(h http.Handler, id string, addr string) (StopFunc, error) {
	lst, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, xerrors.Errorf("could not listen: %w", err)
	}

	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 30 * time.Second,
	}

	go func() {
		err := srv.Serve(lst)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warnf("rpc server failed: %s", err)
		}
	}()
	log.Infow("serving API", "id", id, "addr", lst.Addr().String())

	return srv.Shutdown, nil
}

// ChannelsHandler returns a channels node handler, to be mounted as-is on the
// server.
func ChannelsHandler(a api.Channels, permissioned bool) http.Handler {
	m := mux.NewRouter()

	rpcServer := jsonrpc.NewServer(jsonrpc.WithServerErrors(api.RPCErrors))

	wapi := proxy.MetricedChannelsAPI(a)
	if permissioned {
		wapi = apistruct.PermissionedChannelsAPI(wapi)
	}

	rpcServer.Register("AAChan", wapi)

	m.Handle("/rpc/v0", rpcServer)
	m.PathPrefix("/").Handler(http.DefaultServeMux) // pprof

	if !permissioned {
		return m
	}

	return &auth.Handler{
		Verify: a.AuthVerify,
		Next:   m.ServeHTTP,
	}
}
