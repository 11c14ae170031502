// Package metrics wires bhdir's OTEL meter instruments and exposes them via
// the Prometheus exporter, generalizing petomalina-pot.ServerMetricsOptions'
// instrument set from a single bucket-backed server to bhdir's
// Filer/Directory/Watcher/Index components, per SPEC_FULL.md §4.9. Every
// instrument is constructed once, eagerly, in New.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "bhdir"

// Metrics holds every instrument bhdir records to, mirroring the instrument
// set petomalina-pot.ServerMetricsOptions keeps on its Server.
type Metrics struct {
	provider *sdkmetric.MeterProvider

	FilerLockWaitDuration metric.Float64Histogram

	DirectorySets  metric.Int64Counter
	DirectoryGets  metric.Int64Counter
	DirectoryDels  metric.Int64Counter
	DirectoryLists metric.Int64Counter

	WatcherJournalEntriesProcessed metric.Int64Counter

	IndexSaveDuration metric.Float64Histogram
}

// New constructs the Prometheus exporter/reader pair and every instrument
// bhdir records to. Unlike petomalina-pot's OTLP/gRPC setup, bhdir exposes
// metrics for local scraping rather than pushing them to a collector, since
// the daemon has no outbound network dependency otherwise (spec.md §1).
func New() (*Metrics, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter(meterName)

	m := &Metrics{provider: provider}

	m.FilerLockWaitDuration, err = meter.Float64Histogram(
		"bhdir_filer_lock_wait_duration",
		metric.WithDescription("time spent waiting on a bucket file's sidecar lock"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	m.DirectorySets, err = meter.Int64Counter(
		"bhdir_directory_sets",
		metric.WithDescription("number of directory set operations"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	m.DirectoryGets, err = meter.Int64Counter(
		"bhdir_directory_gets",
		metric.WithDescription("number of directory get operations"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	m.DirectoryDels, err = meter.Int64Counter(
		"bhdir_directory_dels",
		metric.WithDescription("number of directory del operations"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	m.DirectoryLists, err = meter.Int64Counter(
		"bhdir_directory_lists",
		metric.WithDescription("number of directory ls operations"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	m.WatcherJournalEntriesProcessed, err = meter.Int64Counter(
		"bhdir_watcher_journal_entries_processed",
		metric.WithDescription("number of journal events the watcher has dispatched"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, err
	}

	m.IndexSaveDuration, err = meter.Float64Histogram(
		"bhdir_index_save_duration",
		metric.WithDescription("time spent serializing and persisting the AVL index"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// Handler returns the HTTP handler the Prometheus exporter scrapes from,
// for mounting under the configured metrics listen address. The OTEL
// Prometheus exporter registers its collector on the default registry, so
// promhttp's standard handler serves it without further wiring.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Shutdown flushes and tears down the meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	return m.provider.Shutdown(ctx)
}
