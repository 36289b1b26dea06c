package http //nolint:revive // intentional naming for domain clarity

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts the requests a Source makes. One Metrics may be shared by
// many sources.
type Metrics struct {
	requests *prometheus.CounterVec
	bytes    prometheus.Counter
	duration prometheus.Histogram
	throttle prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jmod_http_requests_total",
			Help: "Requests made to read remote containers, by method and status",
		}, []string{"method", "code"}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jmod_http_read_bytes_total",
			Help: "Container bytes returned by range requests",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "jmod_http_request_duration_seconds",
			Help:    "Latency of requests to remote containers",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		throttle: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jmod_http_throttled_total",
			Help: "Requests delayed by the rate limiter",
		}),
	}
	for _, c := range []prometheus.Collector{m.requests, m.bytes, m.duration, m.throttle} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// observe records a completed request. A zero code means the request failed
// before a response arrived.
func (m *Metrics) observe(method string, code int, start time.Time) {
	if m == nil {
		return
	}
	label := "error"
	if code != 0 {
		label = strconv.Itoa(code)
	}
	m.requests.WithLabelValues(method, label).Inc()
	m.duration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) read(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.bytes.Add(float64(n))
}

func (m *Metrics) throttled() {
	if m == nil {
		return
	}
	m.throttle.Inc()
}
