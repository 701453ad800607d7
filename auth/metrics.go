package auth

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts flows per provider. A nil *Metrics records nothing.
type Metrics struct {
	authURLs  *prometheus.CounterVec
	callbacks *prometheus.CounterVec
	exchange  *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg, or with
// the default registerer when reg is nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		authURLs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "socialauth_auth_url_total",
			Help: "Authorization URLs generated",
		}, []string{"provider"}),
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "socialauth_callback_total",
			Help: "Callbacks handled, by outcome",
		}, []string{"provider", "result"}), // result: success or an error code
		exchange: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "socialauth_token_exchange_duration_seconds",
			Help:    "Latency of authorization code exchanges",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
	}
	for _, c := range []prometheus.Collector{m.authURLs, m.callbacks, m.exchange} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) authURL(providerID string) {
	if m == nil {
		return
	}
	m.authURLs.WithLabelValues(providerID).Inc()
}

func (m *Metrics) callback(providerID, result string) {
	if m == nil {
		return
	}
	m.callbacks.WithLabelValues(providerID, result).Inc()
}

func (m *Metrics) exchanged(providerID string, d time.Duration) {
	if m == nil {
		return
	}
	m.exchange.WithLabelValues(providerID).Observe(d.Seconds())
}
