// Package testutil provides in-memory collaborators for testing pool clients
// without reaching real lite-servers.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tonpool/tonpool/lib/pool"
)

// InvokeFunc produces the result of a call on a fake connection.
type InvokeFunc func(ctx context.Context, conn *FakeConn, call pool.Call) (any, error)

// FakeFactory is a scriptable pool.Factory. Establishments succeed
// immediately unless failures are queued, a delay is set, or the factory is
// blocked.
type FakeFactory struct {
	mu       sync.Mutex
	delay    time.Duration
	gate     chan struct{}
	failures []error
	invoke   InvokeFunc
	noWatch  bool

	counts map[pool.ConnectionCheck]int
	conns  []*FakeConn
	params []pool.Params
	active atomic.Int32
	peak   atomic.Int32
}

// NewFakeFactory returns a factory whose connections answer every call with
// the call's method name.
func NewFakeFactory() *FakeFactory {
	return &FakeFactory{
		counts: make(map[pool.ConnectionCheck]int),
		invoke: func(_ context.Context, _ *FakeConn, call pool.Call) (any, error) {
			return call.Method(), nil
		},
	}
}

// SetDelay makes each establishment take d, or until its context ends.
func (f *FakeFactory) SetDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

// Block holds every establishment until the returned release is called.
func (f *FakeFactory) Block() (release func()) {
	gate := make(chan struct{})
	f.mu.Lock()
	f.gate = gate
	f.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// FailNext queues errors returned by the next establishments, in order.
func (f *FakeFactory) FailNext(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, errs...)
}

// SetInvoke replaces the call handler of all connections.
func (f *FakeFactory) SetInvoke(fn InvokeFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invoke = fn
}

// OmitWatcher makes successful establishments return a nil watcher.
func (f *FakeFactory) OmitWatcher() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.noWatch = true
}

func (f *FakeFactory) Connect(ctx context.Context, params pool.Params, cb pool.Callback) (pool.Conn, *pool.Watcher, error) {
	return f.open(ctx, pool.CheckNone, params, cb)
}

func (f *FakeFactory) ConnectHealthy(ctx context.Context, params pool.Params, cb pool.Callback) (pool.Conn, *pool.Watcher, error) {
	return f.open(ctx, pool.CheckHealth, params, cb)
}

func (f *FakeFactory) ConnectArchive(ctx context.Context, params pool.Params, cb pool.Callback) (pool.Conn, *pool.Watcher, error) {
	return f.open(ctx, pool.CheckArchive, params, cb)
}

func (f *FakeFactory) open(ctx context.Context, check pool.ConnectionCheck, params pool.Params, cb pool.Callback) (pool.Conn, *pool.Watcher, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	f.mu.Lock()
	f.counts[check]++
	f.params = append(f.params, params)
	delay, gate := f.delay, f.gate
	var failure error
	if len(f.failures) > 0 {
		failure = f.failures[0]
		f.failures = f.failures[1:]
	}
	noWatch := f.noWatch
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
	if failure != nil {
		return nil, nil, failure
	}

	conn := &FakeConn{
		factory:  f,
		tag:      uuid.NewString(),
		check:    check,
		params:   params,
		callback: cb,
		watcher:  pool.NewWatcher(),
	}
	f.mu.Lock()
	conn.index = len(f.conns)
	f.conns = append(f.conns, conn)
	f.mu.Unlock()

	if cb != nil {
		cb.OnConnected(conn.tag, fmt.Sprintf("fake-%d", conn.index))
	}
	if noWatch {
		return conn, nil, nil
	}
	return conn, conn.watcher, nil
}

// Establishments returns the number of establishment attempts made through
// the entry point for check.
func (f *FakeFactory) Establishments(check pool.ConnectionCheck) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[check]
}

// TotalEstablishments returns the number of establishment attempts made
// through any entry point.
func (f *FakeFactory) TotalEstablishments() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.counts {
		total += n
	}
	return total
}

// PeakConcurrency returns the highest number of establishments observed in
// flight at once.
func (f *FakeFactory) PeakConcurrency() int {
	return int(f.peak.Load())
}

// Conns returns the connections opened so far, in order.
func (f *FakeFactory) Conns() []*FakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeConn(nil), f.conns...)
}

// Params returns the parameters of every establishment attempt, in order.
func (f *FakeFactory) Params() []pool.Params {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]pool.Params(nil), f.params...)
}

func (f *FakeFactory) handler() InvokeFunc {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.invoke
}

// FakeConn is a connection opened by FakeFactory.
type FakeConn struct {
	factory  *FakeFactory
	index    int
	tag      string
	check    pool.ConnectionCheck
	params   pool.Params
	callback pool.Callback
	watcher  *pool.Watcher

	invokes atomic.Int64
	closed  atomic.Bool
}

func (c *FakeConn) Tag() string { return c.tag }

// Index is the connection's position in the factory's opening order.
func (c *FakeConn) Index() int { return c.index }

// Check is the entry point the connection was opened through.
func (c *FakeConn) Check() pool.ConnectionCheck { return c.check }

// Params are the parameters the connection was opened with.
func (c *FakeConn) Params() pool.Params { return c.params }

// Watcher returns the watcher handed to the pool.
func (c *FakeConn) Watcher() *pool.Watcher { return c.watcher }

// Kill terminates the connection's background task.
func (c *FakeConn) Kill(err error) {
	c.watcher.Finish(err)
	if c.callback != nil {
		c.callback.OnDisconnected(c.tag, err)
	}
}

// Invocations returns the number of calls dispatched on the connection.
func (c *FakeConn) Invocations() int64 { return c.invokes.Load() }

// Closed reports whether Close was called.
func (c *FakeConn) Closed() bool { return c.closed.Load() }

func (c *FakeConn) Invoke(ctx context.Context, call pool.Call) (any, error) {
	c.invokes.Add(1)
	if c.callback != nil {
		c.callback.OnInvoke(c.tag, call.Method())
	}
	start := time.Now()
	res, err := c.factory.handler()(ctx, c, call)
	if c.callback != nil {
		c.callback.OnResult(c.tag, call.Method(), time.Since(start), err)
	}
	return res, err
}

func (c *FakeConn) Close() error {
	c.closed.Store(true)
	c.watcher.Finish(nil)
	return nil
}

// Call is a minimal pool.Call.
type Call struct {
	Name          string
	NonIdempotent bool
}

func (c Call) Method() string { return c.Name }

func (c Call) Idempotent() bool { return !c.NonIdempotent }

// FailFirst returns a handler that fails the first n calls across all
// connections with err and answers the rest with the method name.
func FailFirst(n int, err error) InvokeFunc {
	var calls atomic.Int64
	return func(_ context.Context, _ *FakeConn, call pool.Call) (any, error) {
		if calls.Add(1) <= int64(n) {
			return nil, err
		}
		return call.Method(), nil
	}
}
