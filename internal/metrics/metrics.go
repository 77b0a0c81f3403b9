// Package metrics はPrometheusメトリクスを定義する
//
// camera.Observer と stream.Recorder を実装しており、
// ワーカーとエンコーダーに渡すだけで計測できる。
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"nvrwall/internal/camera"
)

const namespace = "nvrwall"

// Metrics は全メトリクスを保持する
type Metrics struct {
	// カメラ
	FramesReceived *prometheus.CounterVec
	StatusChanges  *prometheus.CounterVec
	CameraOnline   *prometheus.GaugeVec

	// ストリーム
	ChunksEmitted   prometheus.Counter
	ChunkSize       prometheus.Histogram
	EncodeErrors    prometheus.Counter
	ComposeDuration prometheus.Histogram

	// 視聴者
	ActiveViewers  prometheus.Gauge
	ViewerSessions prometheus.Counter

	// HTTP
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New はメトリクスを作成して reg に登録する
// テストでは prometheus.NewRegistry() を渡すと重複登録を避けられる
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		FramesReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "frames_received_total",
				Help:      "Total number of frames received per channel",
			},
			[]string{"channel"},
		),
		StatusChanges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "camera_status_changes_total",
				Help:      "Total number of camera status transitions",
			},
			[]string{"channel", "status"},
		),
		CameraOnline: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "camera_online",
				Help:      "Whether the camera is currently delivering frames (1) or not (0)",
			},
			[]string{"channel"},
		),

		ChunksEmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_chunks_emitted_total",
			Help:      "Total number of MJPEG chunks emitted",
		}),
		ChunkSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stream_chunk_size_bytes",
			Help:      "Size of MJPEG chunks in bytes",
			Buckets:   prometheus.ExponentialBuckets(16*1024, 2, 8), // 16KB to 2MB
		}),
		EncodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_encode_errors_total",
			Help:      "Total number of composites dropped because JPEG encoding failed",
		}),
		ComposeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "grid_compose_duration_seconds",
			Help:      "Time spent composing the grid image",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 10), // 1ms to ~0.5s
		}),

		ActiveViewers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_viewers",
			Help:      "Number of currently connected stream viewers",
		}),
		ViewerSessions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "viewer_sessions_total",
			Help:      "Total number of stream viewer sessions",
		}),

		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

// FrameReceived は camera.Observer の実装
func (m *Metrics) FrameReceived(ch camera.Channel) {
	m.FramesReceived.WithLabelValues(ch.String()).Inc()
}

// StatusChanged は camera.Observer の実装
func (m *Metrics) StatusChanged(ch camera.Channel, status camera.Status) {
	m.StatusChanges.WithLabelValues(ch.String(), string(status)).Inc()

	online := 0.0
	if status == camera.StatusOnline {
		online = 1
	}
	m.CameraOnline.WithLabelValues(ch.String()).Set(online)
}

// ChunkEmitted は stream.Recorder の実装
func (m *Metrics) ChunkEmitted(size int) {
	m.ChunksEmitted.Inc()
	m.ChunkSize.Observe(float64(size))
}

// EncodeFailed は stream.Recorder の実装
func (m *Metrics) EncodeFailed() {
	m.EncodeErrors.Inc()
}

// ComposeObserved は stream.Recorder の実装
func (m *Metrics) ComposeObserved(d time.Duration) {
	m.ComposeDuration.Observe(d.Seconds())
}

// ViewerConnected は視聴開始を記録する
func (m *Metrics) ViewerConnected() {
	m.ActiveViewers.Inc()
	m.ViewerSessions.Inc()
}

// ViewerDisconnected は視聴終了を記録する
func (m *Metrics) ViewerDisconnected() {
	m.ActiveViewers.Dec()
}

// RecordHTTPRequest はHTTPリクエストを記録する
func (m *Metrics) RecordHTTPRequest(method, path, status string, d time.Duration) {
	m.HTTPRequests.WithLabelValues(method, path, status).Inc()
	m.HTTPDuration.WithLabelValues(method, path).Observe(d.Seconds())
}
