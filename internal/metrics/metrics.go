package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"torrent2http/internal/domain"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "torrent2http",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "torrent2http",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 30, 120, 600},
	}, []string{"method", "path"})

	BytesServedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "torrent2http",
		Name:      "bytes_served_total",
		Help:      "Total payload bytes written to HTTP clients.",
	})

	StreamAbortsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "torrent2http",
		Name:      "stream_aborts_total",
		Help:      "Streaming responses aborted before completion, by reason.",
	}, []string{"reason"})

	OpenFiles = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "torrent2http",
		Name:      "open_files",
		Help:      "Number of currently open streaming files.",
	})

	PieceWaitDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "torrent2http",
		Name:      "piece_wait_duration_seconds",
		Help:      "Time readers spent blocked waiting for a missing piece.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	})

	DeadlinesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "torrent2http",
		Name:      "piece_deadlines_total",
		Help:      "Piece deadline requests issued to the engine, by kind.",
	}, []string{"kind"})

	DownloadRateBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "torrent2http",
		Name:      "download_rate_bytes",
		Help:      "Current download rate in bytes per second.",
	})

	UploadRateBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "torrent2http",
		Name:      "upload_rate_bytes",
		Help:      "Current upload rate in bytes per second.",
	})

	PeersConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "torrent2http",
		Name:      "peers_connected",
		Help:      "Number of connected peers.",
	})

	SeedsConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "torrent2http",
		Name:      "seeds_connected",
		Help:      "Number of connected seeds.",
	})

	Progress = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "torrent2http",
		Name:      "progress_ratio",
		Help:      "Torrent download progress between 0 and 1.",
	})

	ResumeSavesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "torrent2http",
		Name:      "resume_saves_total",
		Help:      "Resume and state blob writes, by blob and result.",
	}, []string{"blob", "result"})

	AlertsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "torrent2http",
		Name:      "engine_alerts_total",
		Help:      "Engine alerts consumed, by kind.",
	}, []string{"kind"})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		BytesServedTotal,
		StreamAbortsTotal,
		OpenFiles,
		PieceWaitDuration,
		DeadlinesTotal,
		DownloadRateBytes,
		UploadRateBytes,
		PeersConnected,
		SeedsConnected,
		Progress,
		ResumeSavesTotal,
		AlertsTotal,
	)
}

// ObserveStatus publishes a torrent status snapshot to the swarm gauges.
func ObserveStatus(st domain.TorrentStatus) {
	DownloadRateBytes.Set(float64(st.DownloadRate))
	UploadRateBytes.Set(float64(st.UploadRate))
	PeersConnected.Set(float64(st.NumPeers))
	SeedsConnected.Set(float64(st.NumSeeds))
	Progress.Set(st.Progress)
}
