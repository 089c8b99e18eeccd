package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "account_mirror"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	messages := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "ws_messages_total",
		Help:      "Total number of account stream frames received.",
	})
	parseFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "ws_parse_failures_total",
		Help:      "Total number of frames dropped due to decode errors.",
	})
	reconnects := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "ws_reconnects_total",
		Help:      "Total number of reconnect attempts.",
	})
	snapshots := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "snapshots_applied_total",
		Help:      "Total number of full-state snapshots applied.",
	})
	finals := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "orders_finalized_total",
		Help:      "Total number of orders moved to the final-orders list.",
	})
	heartbeats := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "heartbeats_answered_total",
		Help:      "Total number of server pings answered with a pong.",
	})

	registry.MustRegister(messages, parseFailures, reconnects, snapshots, finals, heartbeats)

	m := &Metrics{
		MessagesReceived:   promCounter{messages},
		ParseFailures:      promCounter{parseFailures},
		Reconnects:         promCounter{reconnects},
		SnapshotsApplied:   promCounter{snapshots},
		OrdersFinalized:    promCounter{finals},
		HeartbeatsAnswered: promCounter{heartbeats},
	}

	return &Prometheus{
		Metrics:  m,
		registry: registry,
	}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
