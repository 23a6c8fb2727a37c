package metrics

import (
	"github.com/flashbots/sealbatch/protocol"
	"github.com/prometheus/client_golang/prometheus"
)

// Collector turns protocol operations and events into Prometheus series.
type Collector struct {
	operations     *prometheus.CounterVec
	events         *prometheus.CounterVec
	securityAlerts *prometheus.CounterVec
	submissions    prometheus.Counter
	currentBatch   prometheus.Gauge
	lastRequestID  prometheus.Gauge
	paused         prometheus.Gauge
}

// NewCollector creates and registers the protocol collectors.
func NewCollector(namespace string, reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Public protocol operations by outcome code.",
		}, []string{"operation", "code"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Committed protocol events by kind.",
		}, []string{"kind"}),
		securityAlerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callback_security_alerts_total",
			Help:      "Rejected oracle callbacks that were replayed or no longer matched the committed state.",
		}, []string{"code"}),
		submissions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Accepted encrypted submissions.",
		}),
		currentBatch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_batch_id",
			Help:      "Id of the most recently opened batch.",
		}),
		lastRequestID: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_request_id",
			Help:      "Id of the most recent decryption request.",
		}),
		paused: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "paused",
			Help:      "1 while the protocol is paused.",
		}),
	}

	for _, col := range []prometheus.Collector{
		c.operations, c.events, c.securityAlerts, c.submissions,
		c.currentBatch, c.lastRequestID, c.paused,
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ObserveOperation implements protocol.Observer.
func (c *Collector) ObserveOperation(op protocol.Operation, err error) {
	code := "ok"
	if err != nil {
		code = protocol.ErrorCode(err)
	}
	c.operations.WithLabelValues(string(op), code).Inc()

	if protocol.IsSecurityCritical(err) {
		c.securityAlerts.WithLabelValues(code).Inc()
	}
}

// Emit implements protocol.EventSink.
func (c *Collector) Emit(ev *protocol.Event) {
	c.events.WithLabelValues(string(ev.Kind)).Inc()

	switch ev.Kind {
	case protocol.EventSubmissionRecorded:
		c.submissions.Inc()
	case protocol.EventBatchOpened:
		c.currentBatch.Set(float64(ev.BatchID))
	case protocol.EventDecryptionRequested:
		c.lastRequestID.Set(float64(ev.RequestID))
	case protocol.EventPauseChanged:
		if ev.Paused != nil && *ev.Paused {
			c.paused.Set(1)
		} else {
			c.paused.Set(0)
		}
	}
}

// RegisterGaugeFunc exposes a value sampled at scrape time, such as an
// oracle queue depth.
func RegisterGaugeFunc(reg prometheus.Registerer, namespace, name, help string, fn func() float64) error {
	return reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}
