package metrics

type Counter interface {
	Inc()
}

type Metrics struct {
	MessagesReceived   Counter
	ParseFailures      Counter
	Reconnects         Counter
	SnapshotsApplied   Counter
	OrdersFinalized    Counter
	HeartbeatsAnswered Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		MessagesReceived:   n,
		ParseFailures:      n,
		Reconnects:         n,
		SnapshotsApplied:   n,
		OrdersFinalized:    n,
		HeartbeatsAnswered: n,
	}
}
