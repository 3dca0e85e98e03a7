package totemsrp

import "github.com/prometheus/client_golang/prometheus"

// Metrics collects the counters and gauges an operator dashboards a running
// ring against: state transitions, retransmits, queue depth, delivered
// message counts.
//
// Grounded on the teacher's control/metrics.go (a registry object the rest
// of the library pushes named values into); generalized from an untyped
// string-keyed map to typed prometheus instruments registered through the
// standard Collector interface, per the domain-stack wiring for
// prometheus/client_golang.
type Metrics struct {
	stateTransitions *prometheus.CounterVec
	tokensForwarded  prometheus.Counter
	tokenLosses      prometheus.Counter
	retransmits      prometheus.Counter
	messagesDelivered prometheus.Counter
	newMsgQueueDepth prometheus.Gauge
	ringSeq          prometheus.Gauge
}

// NewMetrics constructs a Metrics instance bound to namespace/subsystem
// labels, ready to be registered with a prometheus.Registerer.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		stateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "totemsrp",
			Name:      "state_transitions_total",
			Help:      "Count of membership state machine transitions by target state.",
		}, []string{"state"}),
		tokensForwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "totemsrp",
			Name:      "tokens_forwarded_total",
			Help:      "Count of ORF tokens forwarded to the next member.",
		}),
		tokenLosses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "totemsrp",
			Name:      "token_losses_total",
			Help:      "Count of detected token-loss events.",
		}),
		retransmits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "totemsrp",
			Name:      "retransmits_total",
			Help:      "Count of messages retransmitted from a sort queue.",
		}),
		messagesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "totemsrp",
			Name:      "messages_delivered_total",
			Help:      "Count of messages delivered to the upper service.",
		}),
		newMsgQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "totemsrp",
			Name:      "new_message_queue_depth",
			Help:      "Current depth of the outbound new-message queue.",
		}),
		ringSeq: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "totemsrp",
			Name:      "ring_seq",
			Help:      "Current ring_id sequence number.",
		}),
	}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.stateTransitions.Describe(ch)
	ch <- m.tokensForwarded.Desc()
	ch <- m.tokenLosses.Desc()
	ch <- m.retransmits.Desc()
	ch <- m.messagesDelivered.Desc()
	ch <- m.newMsgQueueDepth.Desc()
	ch <- m.ringSeq.Desc()
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.stateTransitions.Collect(ch)
	ch <- m.tokensForwarded
	ch <- m.tokenLosses
	ch <- m.retransmits
	ch <- m.messagesDelivered
	ch <- m.newMsgQueueDepth
	ch <- m.ringSeq
}
