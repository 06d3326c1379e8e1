package pool

import (
	"log/slog"
	"time"
)

// Callback observes connection lifecycle and call events. Every connection
// opened by a pool receives the pool's callback, so implementations must be
// safe for concurrent use.
type Callback interface {
	OnConnected(tag, server string)
	OnDisconnected(tag string, err error)
	OnInvoke(tag, method string)
	OnResult(tag, method string, elapsed time.Duration, err error)
}

// NoopCallback ignores all events.
type NoopCallback struct{}

func (NoopCallback) OnConnected(string, string)                    {}
func (NoopCallback) OnDisconnected(string, error)                  {}
func (NoopCallback) OnInvoke(string, string)                       {}
func (NoopCallback) OnResult(string, string, time.Duration, error) {}

// LogCallback writes events to a structured logger.
type LogCallback struct {
	Logger *slog.Logger
}

// NewLogCallback returns a LogCallback scoped to the connection component.
func NewLogCallback(logger *slog.Logger) *LogCallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogCallback{Logger: logger.With("component", "conn")}
}

func (c *LogCallback) OnConnected(tag, server string) {
	c.Logger.Info("connected", "tag", tag, "server", server)
}

func (c *LogCallback) OnDisconnected(tag string, err error) {
	if err != nil {
		c.Logger.Warn("disconnected", "tag", tag, "error", err)
		return
	}
	c.Logger.Info("disconnected", "tag", tag)
}

func (c *LogCallback) OnInvoke(tag, method string) {
	c.Logger.Debug("invoke", "tag", tag, "method", method)
}

func (c *LogCallback) OnResult(tag, method string, elapsed time.Duration, err error) {
	if err != nil {
		c.Logger.Debug("invoke failed", "tag", tag, "method", method, "elapsed", elapsed, "error", err)
		return
	}
	c.Logger.Debug("invoke done", "tag", tag, "method", method, "elapsed", elapsed)
}

// MetricsCallback records events as Prometheus metrics.
type MetricsCallback struct{}

func (MetricsCallback) OnConnected(string, string) {
	ConnectionsOpen.Inc()
}

func (MetricsCallback) OnDisconnected(string, error) {
	ConnectionsOpen.Dec()
}

func (MetricsCallback) OnInvoke(string, string) {}

func (MetricsCallback) OnResult(_ string, method string, elapsed time.Duration, err error) {
	CallsTotal.WithLabelValues(method, resultLabel(err)).Inc()
	CallDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// MultiCallback fans events out to several callbacks in order.
type MultiCallback []Callback

func (m MultiCallback) OnConnected(tag, server string) {
	for _, cb := range m {
		cb.OnConnected(tag, server)
	}
}

func (m MultiCallback) OnDisconnected(tag string, err error) {
	for _, cb := range m {
		cb.OnDisconnected(tag, err)
	}
}

func (m MultiCallback) OnInvoke(tag, method string) {
	for _, cb := range m {
		cb.OnInvoke(tag, method)
	}
}

func (m MultiCallback) OnResult(tag, method string, elapsed time.Duration, err error) {
	for _, cb := range m {
		cb.OnResult(tag, method, elapsed, err)
	}
}
