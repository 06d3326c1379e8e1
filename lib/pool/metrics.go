package pool

import (
	"github.com/prometheus/client_golang/prometheus"

	apperrors "github.com/tonpool/tonpool/lib/errors"
)

// Pool metrics, registered with the default Prometheus registry.
var (
	// SlotsReady is the number of slots holding an established connection.
	SlotsReady = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tonpool",
		Subsystem: "pool",
		Name:      "slots_ready",
		Help:      "Number of slots holding an established connection",
	})
	// EstablishTotal counts connection establishment attempts.
	EstablishTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tonpool",
		Subsystem: "pool",
		Name:      "establish_total",
		Help:      "Connection establishment attempts by check and result",
	}, []string{"check", "result"})
	// EstablishDuration tracks time spent establishing connections.
	EstablishDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tonpool",
		Subsystem: "pool",
		Name:      "establish_duration_seconds",
		Help:      "Time spent establishing a connection",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"check"})
	// DeadConnectionsTotal counts hand-outs of connections whose background
	// task had already terminated.
	DeadConnectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tonpool",
		Subsystem: "pool",
		Name:      "dead_connections_total",
		Help:      "Connections handed out after their background task terminated",
	})
	// InvokeAttemptsTotal counts individual invoke attempts, retries included.
	InvokeAttemptsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tonpool",
		Subsystem: "pool",
		Name:      "invoke_attempts_total",
		Help:      "Invoke attempts including retries",
	})
	// InvokeTotal counts completed invokes by outcome.
	InvokeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tonpool",
		Subsystem: "pool",
		Name:      "invoke_total",
		Help:      "Completed invokes by outcome",
	}, []string{"result"})
	// CallsTotal counts calls observed by MetricsCallback.
	CallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tonpool",
		Subsystem: "conn",
		Name:      "calls_total",
		Help:      "Calls dispatched on connections by method and result",
	}, []string{"method", "result"})
	// CallDuration tracks call latency observed by MetricsCallback.
	CallDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tonpool",
		Subsystem: "conn",
		Name:      "call_duration_seconds",
		Help:      "Latency of calls dispatched on connections",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})
	// ConnectionsOpen is the number of sessions reported connected and not
	// yet disconnected by MetricsCallback.
	ConnectionsOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tonpool",
		Subsystem: "conn",
		Name:      "open",
		Help:      "Sessions currently connected",
	})
)

func init() {
	prometheus.MustRegister(
		SlotsReady,
		EstablishTotal,
		EstablishDuration,
		DeadConnectionsTotal,
		InvokeAttemptsTotal,
		InvokeTotal,
		CallsTotal,
		CallDuration,
		ConnectionsOpen,
	)
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case apperrors.IsTransient(err):
		return "overloaded"
	case apperrors.IsClosed(err):
		return "closed"
	default:
		if _, ok := apperrors.RemoteCode(err); ok {
			return "remote"
		}
		return "error"
	}
}
