// Package metrics exposes prometheus collectors for the API client and the
// ingestion loops. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors registered by New
type Metrics struct {
	apiRequests        *prometheus.CounterVec
	outageAlerts       prometheus.Counter
	communitiesUpdated *prometheus.CounterVec
	historyRows        prometheus.Counter
	wallsUpdated       *prometheus.CounterVec
	postsSaved         prometheus.Counter
	parseFailures      *prometheus.CounterVec
	queueSize          *prometheus.GaugeVec
	lateSeconds        *prometheus.GaugeVec
}

// New creates the collectors and registers them in reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vkcommunities_api_requests_total",
			Help: "VK API calls by method and result",
		}, []string{"method", "result"}),
		outageAlerts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vkcommunities_api_outage_alerts_total",
			Help: "Alerts raised for sustained VK API network failures",
		}),
		communitiesUpdated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vkcommunities_communities_updated_total",
			Help: "Community metadata refreshes by result",
		}, []string{"result"}),
		historyRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vkcommunities_history_rows_total",
			Help: "Follower history snapshots written",
		}),
		wallsUpdated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vkcommunities_walls_updated_total",
			Help: "Wall refreshes by result",
		}, []string{"result"}),
		postsSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vkcommunities_posts_saved_total",
			Help: "Wall posts written",
		}),
		parseFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vkcommunities_parse_failures_total",
			Help: "Raw records skipped because they could not be parsed",
		}, []string{"kind"}),
		queueSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vkcommunities_queue_size",
			Help: "Communities waiting in the in-memory queue of a loop",
		}, []string{"loop"}),
		lateSeconds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vkcommunities_late_seconds",
			Help: "How far behind schedule the last processed community was",
		}, []string{"loop"}),
	}

	reg.MustRegister(
		m.apiRequests,
		m.outageAlerts,
		m.communitiesUpdated,
		m.historyRows,
		m.wallsUpdated,
		m.postsSaved,
		m.parseFailures,
		m.queueSize,
		m.lateSeconds,
	)

	return m
}

// APIRequest counts an API call by method; result is "ok", "error", "malformed" or "network"
func (m *Metrics) APIRequest(method, result string) {
	if m == nil {
		return
	}
	m.apiRequests.WithLabelValues(method, result).Inc()
}

// OutageAlert counts a sustained network outage alert
func (m *Metrics) OutageAlert() {
	if m == nil {
		return
	}
	m.outageAlerts.Inc()
}

// CommunityUpdated records a metadata refresh; result is "ok" or "no_data"
func (m *Metrics) CommunityUpdated(result string, withHistory bool) {
	if m == nil {
		return
	}
	m.communitiesUpdated.WithLabelValues(result).Inc()
	if withHistory {
		m.historyRows.Inc()
	}
}

// WallUpdated records a wall refresh; result is "posts", "empty" or "inaccessible"
func (m *Metrics) WallUpdated(result string, posts int) {
	if m == nil {
		return
	}
	m.wallsUpdated.WithLabelValues(result).Inc()
	m.postsSaved.Add(float64(posts))
}

// ParseFailure counts a malformed raw record of the given kind
func (m *Metrics) ParseFailure(kind string) {
	if m == nil {
		return
	}
	m.parseFailures.WithLabelValues(kind).Inc()
}

// QueueSize sets the number of queued communities of a loop
func (m *Metrics) QueueSize(loop string, size int) {
	if m == nil {
		return
	}
	m.queueSize.WithLabelValues(loop).Set(float64(size))
}

// Late sets by how many seconds the last update of a loop was overdue
func (m *Metrics) Late(loop string, seconds float64) {
	if m == nil {
		return
	}
	m.lateSeconds.WithLabelValues(loop).Set(seconds)
}

// Handler returns the scrape handler for gatherer
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
