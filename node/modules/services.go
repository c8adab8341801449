package modules

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/fx"
	"golang.org/x/xerrors"

	"github.com/aachannels/aachan/metrics"
	"github.com/aachannels/aachan/node/config"
	"github.com/aachannels/aachan/paychmgr"
	"github.com/aachannels/aachan/peer"
)

func serveHTTP(lc fx.Lifecycle, name, addr string, h http.Handler) {
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 30 * time.Second,
	}
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			lst, err := net.Listen("tcp", addr)
			if err != nil {
				return xerrors.Errorf("%s listen on %s: %w", name, addr, err)
			}
			log.Infow("serving", "service", name, "addr", lst.Addr().String())
			go func() {
				if err := srv.Serve(lst); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Errorw("server stopped", "service", name, "error", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

// ServePeer exposes the manager to peers on the peer listen address.
func ServePeer(lc fx.Lifecycle, cfg *config.Config, pm *paychmgr.Manager) {
	serveHTTP(lc, "peer", cfg.Peer.ListenAddress, peer.NewHTTPHandler(pm))
}

func ServeMetrics(lc fx.Lifecycle, cfg *config.Config) error {
	exporter, err := metrics.Exporter(cfg.Metrics.Namespace)
	if err != nil {
		return err
	}
	m := mux.NewRouter()
	m.Handle("/metrics", exporter)
	serveHTTP(lc, "metrics", cfg.Metrics.ListenAddress, m)
	return nil
}
