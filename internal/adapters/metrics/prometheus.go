package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/viralforge/media-download-proxy/internal/ports"
)

const namespace = "media_proxy"

// Prometheus records pipeline outcomes on a private registry.
type Prometheus struct {
	registry *prometheus.Registry

	rejections      *prometheus.CounterVec
	suspicionPoints *prometheus.CounterVec
	bans            prometheus.Counter
	sessions        prometheus.Counter
	downloads       prometheus.Counter
	downloadFails   *prometheus.CounterVec
	bandwidth       prometheus.Counter
	downloadSizes   prometheus.Histogram
}

func NewPrometheus() *Prometheus {
	m := &Prometheus{
		registry: prometheus.NewRegistry(),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejections_total",
			Help:      "Requests refused by the protection pipeline, by reason.",
		}, []string{"reason"}),
		suspicionPoints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "suspicion_points_total",
			Help:      "Suspicion score added to sessions, by reason.",
		}, []string{"reason"}),
		bans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_bans_total",
			Help:      "Temporary bans placed or renewed.",
		}),
		sessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Sessions created.",
		}),
		downloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_completed_total",
			Help:      "Download links handed out.",
		}),
		downloadFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_failed_total",
			Help:      "Downloads that failed after the lease was taken, by reason.",
		}, []string{"reason"}),
		bandwidth: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bandwidth_megabytes_total",
			Help:      "Megabytes accounted against session bandwidth.",
		}),
		downloadSizes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "download_size_megabytes",
			Help:      "Reported size of handed-out downloads.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 150, 200},
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.rejections,
		m.suspicionPoints,
		m.bans,
		m.sessions,
		m.downloads,
		m.downloadFails,
		m.bandwidth,
		m.downloadSizes,
	)
	return m
}

var _ ports.Metrics = (*Prometheus)(nil)

func (m *Prometheus) Rejected(reason string) {
	m.rejections.WithLabelValues(reason).Inc()
}

// SuspicionApplied labels by reason prefix only; file-size reasons embed the size.
func (m *Prometheus) SuspicionApplied(reason string, amount int) {
	m.suspicionPoints.WithLabelValues(reasonLabel(reason)).Add(float64(amount))
}

func (m *Prometheus) SessionBanned() { m.bans.Inc() }

func (m *Prometheus) SessionCreated() { m.sessions.Inc() }

func (m *Prometheus) DownloadCompleted(sizeMB float64) {
	m.downloads.Inc()
	m.bandwidth.Add(sizeMB)
	m.downloadSizes.Observe(sizeMB)
}

func (m *Prometheus) DownloadFailed(reason string) {
	m.downloadFails.WithLabelValues(reason).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func reasonLabel(reason string) string {
	for i, r := range reason {
		if r == ':' {
			return reason[:i]
		}
	}
	return reason
}
