package pool

import (
	"context"
	"sync"
)

// Params are the connection parameters shared by every slot. Each slot works
// on its own copy with KeystoreDir pointing at a private subdirectory.
type Params struct {
	// Config is the network config document.
	Config string
	// KeystoreDir is the keystore root; empty disables on-disk state.
	KeystoreDir string
	// RefreshCheckpoint asks for the config's init block to be refreshed
	// from the bootstrap servers before any connection is opened.
	RefreshCheckpoint bool
}

// Call is a request dispatched on a pooled connection.
type Call interface {
	// Method names the call for logs and metrics.
	Method() string
}

// IdempotentCall is implemented by calls that know whether re-issuing them
// after a transient failure is safe. Calls that do not implement it are
// treated as safe to retry.
type IdempotentCall interface {
	Call
	Idempotent() bool
}

func retryable(call Call) bool {
	if ic, ok := call.(IdempotentCall); ok {
		return ic.Idempotent()
	}
	return true
}

// Conn is a handle to an established session. Copies share the session.
type Conn interface {
	// Tag identifies the session in logs.
	Tag() string
	// Invoke dispatches call on this session.
	Invoke(ctx context.Context, call Call) (any, error)
	// Close ends the session.
	Close() error
}

// Factory opens sessions. Each entry point corresponds to a ConnectionCheck
// and returns the session together with the watcher observing its liveness.
type Factory interface {
	Connect(ctx context.Context, params Params, cb Callback) (Conn, *Watcher, error)
	ConnectHealthy(ctx context.Context, params Params, cb Callback) (Conn, *Watcher, error)
	ConnectArchive(ctx context.Context, params Params, cb Callback) (Conn, *Watcher, error)
}

// Watcher observes the background task that keeps a session alive.
// Its state can be polled without blocking.
type Watcher struct {
	done chan struct{}
	once sync.Once
	mu   sync.Mutex
	err  error
}

// NewWatcher returns a watcher for a running task.
func NewWatcher() *Watcher {
	return &Watcher{done: make(chan struct{})}
}

// Watch runs task in a new goroutine and returns a watcher that finishes
// when task returns.
func Watch(task func() error) *Watcher {
	w := NewWatcher()
	go func() {
		w.Finish(task())
	}()
	return w
}

// Finish marks the task as terminated with cause err. Only the first call
// has an effect.
func (w *Watcher) Finish(err error) {
	w.once.Do(func() {
		w.mu.Lock()
		w.err = err
		w.mu.Unlock()
		close(w.done)
	})
}

// Done is closed when the task terminates.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

// Finished reports whether the task has terminated.
func (w *Watcher) Finished() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

// Err returns the termination cause, or nil while the task is running.
func (w *Watcher) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}
