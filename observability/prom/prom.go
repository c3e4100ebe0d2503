package prom

import (
	"net/http"
	"time"

	"github.com/floegence/lantun/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry returns a fresh Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// Handler returns a Prometheus HTTP handler bound to the registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// TunnelObserver exports tunnel metrics to Prometheus.
type TunnelObserver struct {
	connGauge    prometheus.Gauge
	queueGauge   prometheus.Gauge
	dialTotal    *prometheus.CounterVec
	sentTotal    *prometheus.CounterVec
	sentBytes    prometheus.Counter
	recvTotal    *prometheus.CounterVec
	recvBytes    prometheus.Counter
	closeTotal   *prometheus.CounterVec
	sendLatency  prometheus.Histogram
	droppedTotal prometheus.Counter
}

// NewTunnelObserver registers tunnel metrics on the registry.
func NewTunnelObserver(reg *prometheus.Registry) *TunnelObserver {
	o := &TunnelObserver{
		connGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lantun_connections",
			Help: "Current registered connection count.",
		}),
		queueGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lantun_queue_depth",
			Help: "Messages waiting in the outbound queue.",
		}),
		dialTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lantun_dial_total",
			Help: "Sender dial attempts by result.",
		}, []string{"result"}),
		sentTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lantun_frames_sent_total",
			Help: "Frames written by kind.",
		}, []string{"kind"}),
		sentBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lantun_frames_sent_bytes_total",
			Help: "Frame payload bytes written.",
		}),
		recvTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lantun_frames_received_total",
			Help: "Frames read by result.",
		}, []string{"result"}),
		recvBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lantun_frames_received_bytes_total",
			Help: "Frame payload bytes read.",
		}),
		closeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lantun_close_total",
			Help: "Connection close reasons.",
		}, []string{"reason"}),
		sendLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "lantun_send_latency_seconds",
			Help:    "Time spent encrypting and writing one frame.",
			Buckets: prometheus.DefBuckets,
		}),
		droppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lantun_messages_dropped_total",
			Help: "Queued messages dropped after exhausting their send attempts.",
		}),
	}
	reg.MustRegister(
		o.connGauge,
		o.queueGauge,
		o.dialTotal,
		o.sentTotal,
		o.sentBytes,
		o.recvTotal,
		o.recvBytes,
		o.closeTotal,
		o.sendLatency,
		o.droppedTotal,
	)
	return o
}

func (o *TunnelObserver) ConnCount(n int64) {
	o.connGauge.Set(float64(n))
}

func (o *TunnelObserver) Dial(result observability.DialResult) {
	o.dialTotal.WithLabelValues(string(result)).Inc()
}

func (o *TunnelObserver) FrameSent(kind observability.FrameKind, bytes int) {
	o.sentTotal.WithLabelValues(string(kind)).Inc()
	o.sentBytes.Add(float64(bytes))
}

func (o *TunnelObserver) FrameReceived(result observability.RecvResult, bytes int) {
	o.recvTotal.WithLabelValues(string(result)).Inc()
	o.recvBytes.Add(float64(bytes))
}

func (o *TunnelObserver) SendLatency(d time.Duration) {
	o.sendLatency.Observe(d.Seconds())
}

func (o *TunnelObserver) Close(reason observability.CloseReason) {
	o.closeTotal.WithLabelValues(string(reason)).Inc()
}

func (o *TunnelObserver) QueueDepth(n int) {
	o.queueGauge.Set(float64(n))
}

func (o *TunnelObserver) Dropped() {
	o.droppedTotal.Inc()
}
