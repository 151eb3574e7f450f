// Package telemetry exposes spec.md §7's observable counters as Prometheus
// metrics (grounded on adred-codev-ws_poc/ws metrics.go's counter vocabulary
// and promhttp exposition pattern) and as a compact one-line log summary.
package telemetry

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Counters holds every name spec.md §7 lists as an "observable counter".
// Prometheus vectors carry the same data for scraping; the atomic fields
// back the compact one-line log summary that cmd/datacat emits once at the
// end of each command. The two duration gauges are not part of that summary.
type Counters struct {
	RequestsTotal        prometheus.Counter
	RequestsFailed        prometheus.Counter
	RowsWritten           prometheus.Counter
	GapsFound             prometheus.Counter
	GapsFilled            prometheus.Counter
	ZipDownloads          prometheus.Counter
	LastCollectDuration    prometheus.Gauge
	LastBackfillDuration   prometheus.Gauge

	requestsTotal  atomic.Int64
	requestsFailed atomic.Int64
	rowsWritten    atomic.Int64
	gapsFound      atomic.Int64
	gapsFilled     atomic.Int64
	zipDownloads   atomic.Int64
}

// NewCounters builds the full counter set. It registers nothing; Registry
// does that against a fresh registry.
func NewCounters() *Counters {
	c := &Counters{
		RequestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "datacat_requests_total", Help: "Total outbound HTTP requests issued.",
		}),
		RequestsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "datacat_requests_failed_total", Help: "Outbound HTTP requests that failed.",
		}),
		RowsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "datacat_rows_written_total", Help: "Rows upserted into the store.",
		}),
		GapsFound: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "datacat_gaps_found_total", Help: "(symbol, day) gaps found by scans.",
		}),
		GapsFilled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "datacat_gaps_filled_total", Help: "(symbol, day) gaps brought above threshold.",
		}),
		ZipDownloads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "datacat_zip_downloads_total", Help: "Archive ZIP files downloaded.",
		}),
		LastCollectDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "datacat_last_collect_duration_seconds", Help: "Wall-clock duration of the last REST metrics tick.",
		}),
		LastBackfillDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "datacat_last_backfill_duration_seconds", Help: "Wall-clock duration of the last backfill pass.",
		}),
	}
	return c
}

// Registry builds a Prometheus registry with this Counters set registered,
// for use behind an HTTP /metrics handler.
func (c *Counters) Registry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		c.RequestsTotal, c.RequestsFailed, c.RowsWritten,
		c.GapsFound, c.GapsFilled, c.ZipDownloads,
		c.LastCollectDuration, c.LastBackfillDuration,
	)
	return reg
}

// Serve starts a /metrics HTTP endpoint on addr using this Counters'
// registry. It blocks; run it in its own goroutine.
func (c *Counters) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.Registry(), promhttp.HandlerOpts{}))
	return http.ListenAndServe(addr, mux)
}

func (c *Counters) IncRequests()       { c.RequestsTotal.Inc(); c.requestsTotal.Add(1) }
func (c *Counters) IncRequestsFailed() { c.RequestsFailed.Inc(); c.requestsFailed.Add(1) }
func (c *Counters) AddRowsWritten(n int) {
	c.RowsWritten.Add(float64(n))
	c.rowsWritten.Add(int64(n))
}
func (c *Counters) IncGapsFound()  { c.GapsFound.Inc(); c.gapsFound.Add(1) }
func (c *Counters) IncGapsFilled() { c.GapsFilled.Inc(); c.gapsFilled.Add(1) }
func (c *Counters) IncZipDownloads() {
	c.ZipDownloads.Inc()
	c.zipDownloads.Add(1)
}
func (c *Counters) SetCollectDuration(d time.Duration)  { c.LastCollectDuration.Set(d.Seconds()) }
func (c *Counters) SetBackfillDuration(d time.Duration) { c.LastBackfillDuration.Set(d.Seconds()) }

// LogSummary emits the compact one-line counter summary spec.md §7 requires
// ("Emitted via the log pipeline as a compact one-line string").
func (c *Counters) LogSummary(log zerolog.Logger, op string) {
	log.Info().
		Str("op", op).
		Int64("requests_total", c.requestsTotal.Load()).
		Int64("requests_failed", c.requestsFailed.Load()).
		Int64("rows_written", c.rowsWritten.Load()).
		Int64("gaps_found", c.gapsFound.Load()).
		Int64("gaps_filled", c.gapsFilled.Load()).
		Int64("zip_downloads", c.zipDownloads.Load()).
		Msg("counters")
}
