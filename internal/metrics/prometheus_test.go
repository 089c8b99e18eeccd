package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusCounters(t *testing.T) {
	prom := NewPrometheus()
	prom.Metrics.MessagesReceived.Inc()
	prom.Metrics.ParseFailures.Inc()
	prom.Metrics.Reconnects.Inc()
	prom.Metrics.SnapshotsApplied.Inc()
	prom.Metrics.OrdersFinalized.Inc()
	prom.Metrics.HeartbeatsAnswered.Inc()

	for _, counter := range []Counter{
		prom.Metrics.MessagesReceived,
		prom.Metrics.ParseFailures,
		prom.Metrics.Reconnects,
		prom.Metrics.SnapshotsApplied,
		prom.Metrics.OrdersFinalized,
		prom.Metrics.HeartbeatsAnswered,
	} {
		pc, ok := counter.(promCounter)
		if !ok {
			t.Fatalf("expected prometheus-backed counter, got %T", counter)
		}
		if got := testutil.ToFloat64(pc.counter); got != 1 {
			t.Fatalf("expected 1, got %v", got)
		}
	}
}
