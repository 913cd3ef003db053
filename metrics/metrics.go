package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the dashboard collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	framesEmitted   *prometheus.CounterVec
	framesSkipped   prometheus.Counter
	captureFailures prometheus.Counter
	tickFaults      prometheus.Counter
	streamViewers   prometheus.Gauge
	subscribers     prometheus.Gauge
	messagesSent    prometheus.Counter
	subscriberDrops prometheus.Counter
	cameraLive      prometheus.Gauge
}

// New registers the collectors on reg. Use prometheus.NewRegistry() in tests.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		gatherer: reg,
		framesEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dashboard_frames_emitted_total",
			Help: "Frames written to MJPEG viewers, by frame kind.",
		}, []string{"kind"}),
		framesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dashboard_frames_skipped_total",
			Help: "Ticks that emitted nothing because encoding failed.",
		}),
		captureFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dashboard_capture_failures_total",
			Help: "Live capture attempts that returned an error or no data.",
		}),
		tickFaults: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dashboard_tick_faults_total",
			Help: "Pipeline ticks that faulted and triggered the error backoff.",
		}),
		streamViewers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dashboard_stream_viewers",
			Help: "Currently connected MJPEG viewers.",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dashboard_stats_subscribers",
			Help: "Currently registered stats channel subscribers.",
		}),
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dashboard_stats_messages_sent_total",
			Help: "Messages written to stats channel subscribers.",
		}),
		subscriberDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dashboard_stats_subscribers_dropped_total",
			Help: "Subscribers removed after a failed or stalled send.",
		}),
		cameraLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dashboard_camera_live",
			Help: "1 when a physical capture device is bound, 0 in fallback.",
		}),
	}
	reg.MustRegister(
		m.framesEmitted, m.framesSkipped, m.captureFailures, m.tickFaults,
		m.streamViewers, m.subscribers, m.messagesSent, m.subscriberDrops, m.cameraLive,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) FrameEmitted(kind string) {
	if m == nil {
		return
	}
	m.framesEmitted.WithLabelValues(kind).Inc()
}

func (m *Metrics) FrameSkipped() {
	if m == nil {
		return
	}
	m.framesSkipped.Inc()
}

func (m *Metrics) CaptureFailed() {
	if m == nil {
		return
	}
	m.captureFailures.Inc()
}

func (m *Metrics) TickFault() {
	if m == nil {
		return
	}
	m.tickFaults.Inc()
}

func (m *Metrics) ViewerConnected() {
	if m == nil {
		return
	}
	m.streamViewers.Inc()
}

func (m *Metrics) ViewerDisconnected() {
	if m == nil {
		return
	}
	m.streamViewers.Dec()
}

func (m *Metrics) SetSubscribers(n int) {
	if m == nil {
		return
	}
	m.subscribers.Set(float64(n))
}

func (m *Metrics) MessageSent() {
	if m == nil {
		return
	}
	m.messagesSent.Inc()
}

func (m *Metrics) SubscriberDropped() {
	if m == nil {
		return
	}
	m.subscriberDrops.Inc()
}

func (m *Metrics) SetCameraLive(live bool) {
	if m == nil {
		return
	}
	if live {
		m.cameraLive.Set(1)
		return
	}
	m.cameraLive.Set(0)
}
