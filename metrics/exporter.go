package metrics

import (
	"net/http"

	"contrib.go.opencensus.io/exporter/prometheus"
	promclient "github.com/prometheus/client_golang/prometheus"
	"go.opencensus.io/stats/view"
	"golang.org/x/xerrors"
)

// Exporter registers the default views and returns an http handler serving
// them in the prometheus text format.
func Exporter(namespace string) (http.Handler, error) {
	registry, ok := promclient.DefaultRegisterer.(*promclient.Registry)
	if !ok {
		registry = promclient.NewRegistry()
	}
	exporter, err := prometheus.NewExporter(prometheus.Options{
		Registry:  registry,
		Namespace: namespace,
	})
	if err != nil {
		return nil, xerrors.Errorf("could not create the prometheus stats exporter: %w", err)
	}
	if err := view.Register(DefaultViews...); err != nil {
		return nil, xerrors.Errorf("cannot register the view: %w", err)
	}
	return exporter, nil
}
