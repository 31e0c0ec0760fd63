package ppdbg

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the client's prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	received      *prometheus.CounterVec
	requests      *prometheus.CounterVec
	pending       prometheus.Gauge
	handlerPanics *prometheus.CounterVec
	state         prometheus.Gauge
	disconnects   prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ppdbg",
			Name:      "messages_received_total",
			Help:      "Inbound messages by topic.",
		}, []string{"topic"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ppdbg",
			Name:      "requests_total",
			Help:      "Requests issued by topic and outcome.",
		}, []string{"topic", "outcome"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ppdbg",
			Name:      "requests_pending",
			Help:      "Requests awaiting a reply.",
		}),
		handlerPanics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ppdbg",
			Name:      "listener_panics_total",
			Help:      "Listener invocations that panicked, by topic.",
		}, []string{"topic"}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ppdbg",
			Name:      "connection_state",
			Help:      "0 disconnected, 1 connecting, 2 connected.",
		}),
		disconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ppdbg",
			Name:      "disconnects_total",
			Help:      "Connections closed, explicitly or not.",
		}),
	}
	for _, c := range []prometheus.Collector{m.received, m.requests, m.pending, m.handlerPanics, m.state, m.disconnects} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) messageReceived(topic string) {
	if m != nil {
		m.received.WithLabelValues(topic).Inc()
	}
}

func (m *Metrics) requestDone(topic, outcome string) {
	if m != nil {
		m.requests.WithLabelValues(topic, outcome).Inc()
	}
}

func (m *Metrics) setPending(n int) {
	if m != nil {
		m.pending.Set(float64(n))
	}
}

func (m *Metrics) handlerPanic(topic string) {
	if m != nil {
		m.handlerPanics.WithLabelValues(topic).Inc()
	}
}

func (m *Metrics) setState(s State) {
	if m != nil {
		m.state.Set(float64(s))
	}
}

func (m *Metrics) disconnected() {
	if m != nil {
		m.disconnects.Inc()
	}
}
