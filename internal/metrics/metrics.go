package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SourceItems is the number of entries the last fetch produced per source and kind.
	SourceItems = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "iptv_catalog_source_items",
		Help: "Entries produced by the last fetch of a source",
	}, []string{"source", "kind"})

	// SourceErrors counts soft upstream failures (an action or whole source degraded to empty).
	SourceErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "iptv_catalog_source_errors_total",
		Help: "Upstream fetch failures that degraded to an empty result",
	}, []string{"source", "action"})

	// CatalogStreams is the number of streams in the catalog currently served.
	CatalogStreams = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "iptv_catalog_streams",
		Help: "Streams in the served catalog",
	}, []string{"kind"})

	// CatalogLoads counts catalog (re)loads by result.
	CatalogLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "iptv_catalog_loads_total",
		Help: "Catalog loads into the server",
	}, []string{"result"})

	// PipelineRuns counts build/import runs by mode and result.
	PipelineRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "iptv_catalog_pipeline_runs_total",
		Help: "Catalog build and import runs",
	}, []string{"mode", "result"})

	// Requests counts API requests by action (or route) and HTTP status class.
	Requests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "iptv_catalog_requests_total",
		Help: "Client requests handled",
	}, []string{"endpoint", "code"})

	// AuthFailures counts requests rejected for bad credentials.
	AuthFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "iptv_catalog_auth_failures_total",
		Help: "Requests with unknown credentials",
	})

	// Redirects counts stream redirect resolutions by kind and result (hit/miss).
	Redirects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "iptv_catalog_redirects_total",
		Help: "Stream redirect resolutions",
	}, []string{"kind", "result"})

	// LogoResolutions counts logo resolutions by outcome (cached, fetched, placeholder).
	LogoResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "iptv_catalog_logo_resolutions_total",
		Help: "Logo provider resolutions by outcome",
	}, []string{"outcome"})
)

// RecordSourceItems sets the item gauge for one source and kind.
func RecordSourceItems(source, kind string, n int) {
	SourceItems.WithLabelValues(source, kind).Set(float64(n))
}

// RecordSourceError increments the soft failure counter.
func RecordSourceError(source, action string) {
	SourceErrors.WithLabelValues(source, action).Inc()
}

// SetCatalogStreams updates the served catalog size.
func SetCatalogStreams(live, movies int) {
	CatalogStreams.WithLabelValues("live").Set(float64(live))
	CatalogStreams.WithLabelValues("movie").Set(float64(movies))
}

// RecordCatalogLoad increments the load counter; ok selects the result label.
func RecordCatalogLoad(ok bool) {
	CatalogLoads.WithLabelValues(result(ok)).Inc()
}

// RecordPipelineRun increments the run counter for mode (build, import-feed, import-registry).
func RecordPipelineRun(mode string, ok bool) {
	PipelineRuns.WithLabelValues(mode, result(ok)).Inc()
}

// RecordRequest increments the request counter.
func RecordRequest(endpoint, code string) {
	Requests.WithLabelValues(endpoint, code).Inc()
}

// RecordAuthFailure increments the auth failure counter.
func RecordAuthFailure() {
	AuthFailures.Inc()
}

// RecordRedirect increments the redirect counter.
func RecordRedirect(kind string, hit bool) {
	r := "miss"
	if hit {
		r = "hit"
	}
	Redirects.WithLabelValues(kind, r).Inc()
}

// RecordLogo increments the logo outcome counter.
func RecordLogo(outcome string) {
	LogoResolutions.WithLabelValues(outcome).Inc()
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
