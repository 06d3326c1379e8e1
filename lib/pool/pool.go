package pool

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	apperrors "github.com/tonpool/tonpool/lib/errors"
	"github.com/tonpool/tonpool/lib/logging"
	"github.com/tonpool/tonpool/lib/netconfig"
	"github.com/tonpool/tonpool/lib/resilience"
)

// Options configures a Client.
type Options struct {
	// Size is the number of slots. Must be at least 1.
	Size int
	// Params is the template every slot's parameters are derived from.
	Params Params
	// Retry is the policy applied by Invoke.
	Retry resilience.RetryStrategy
	// Callback receives connection events. Defaults to NoopCallback.
	Callback Callback
	// Check selects the factory entry point used to open sessions.
	Check ConnectionCheck
	// Factory opens sessions. Required.
	Factory Factory
	// Bootstrap fetches the latest checkpoint when Params.RefreshCheckpoint
	// is set.
	Bootstrap netconfig.CheckpointFetcher
	// Logger receives operator events. Defaults to slog.Default().
	Logger *slog.Logger
	// Clock drives retry waits. Defaults to the wall clock.
	Clock clock.Clock
}

// DefaultOptions returns Options with a single slot, the default retry
// policy and no connection check.
func DefaultOptions() Options {
	return Options{
		Size:     1,
		Retry:    resilience.DefaultRetryStrategy(),
		Callback: NoopCallback{},
		Check:    CheckNone,
	}
}

func (o *Options) validate() error {
	if o.Size < 1 {
		return apperrors.Configuration(fmt.Sprintf("pool size must be at least 1, got %d", o.Size), nil)
	}
	if o.Factory == nil {
		return apperrors.Configuration("connection factory is required", nil)
	}
	if o.Params.RefreshCheckpoint && o.Bootstrap == nil {
		return apperrors.Configuration("checkpoint refresh requested without a bootstrap fetcher", nil)
	}
	if o.Callback == nil {
		o.Callback = NoopCallback{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	return nil
}

// Stats is a snapshot of pool activity.
type Stats struct {
	// Size is the number of slots.
	Size int
	// Ready is the number of slots holding a session.
	Ready int
	// Establishments is the number of sessions opened so far.
	Establishments uint64
	// DeadHandouts counts sessions returned after their background task ended.
	DeadHandouts uint64
	// Invokes is the number of Invoke calls.
	Invokes uint64
	// Attempts is the number of invoke attempts, retries included.
	Attempts uint64
}

type inner struct {
	slots  []*slot
	retry  resilience.RetryStrategy
	clock  clock.Clock
	logger *slog.Logger

	closed   atomic.Bool
	invokes  atomic.Uint64
	attempts atomic.Uint64
}

// Client is a fixed-size pool of lazily established lite-server sessions.
// A *Client is safe for concurrent use; every holder of the pointer shares
// the same slots.
type Client struct {
	inner *inner
}

// New builds a client. When opts.Params.RefreshCheckpoint is set, the
// network config's init block is refreshed from the bootstrap servers before
// anything else happens. One keystore subdirectory per slot is created under
// opts.Params.KeystoreDir. No connection is opened here.
func New(ctx context.Context, opts Options) (*Client, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger.With("component", "pool")
	opts.Logger = logger

	params := opts.Params
	if params.RefreshCheckpoint {
		patched, err := netconfig.Patch(ctx, params.Config, opts.Bootstrap, logger)
		if err != nil {
			return nil, err
		}
		params.Config = patched
	}

	in := &inner{
		slots:  make([]*slot, 0, opts.Size),
		retry:  opts.Retry,
		clock:  opts.Clock,
		logger: logger,
	}
	for i := 0; i < opts.Size; i++ {
		p := params
		if params.KeystoreDir != "" {
			p.KeystoreDir = filepath.Join(params.KeystoreDir, strconv.Itoa(i))
			if err := os.MkdirAll(p.KeystoreDir, 0o700); err != nil {
				return nil, apperrors.Filesystem(fmt.Sprintf("fail to create keystore directory %s", p.KeystoreDir), err)
			}
		}
		in.slots = append(in.slots, newSlot(i, p, &opts))
	}

	log.WithField("size", opts.Size).
		WithField("check", opts.Check.String()).
		WithField("max_retries", opts.Retry.MaxRetries).
		Debug("pool created")
	return &Client{inner: in}, nil
}

// GetConnection returns the session of a uniformly random slot, opening it
// first if the slot is empty. Concurrent callers that land on an empty slot
// share a single establishment.
func (c *Client) GetConnection(ctx context.Context) (Conn, error) {
	if c.inner.closed.Load() {
		return nil, apperrors.ErrClosed
	}
	s := c.inner.slots[rand.IntN(len(c.inner.slots))]
	return s.connection(ctx)
}

// Invoke dispatches call on a pooled session and returns the session used
// along with the result. A lite-server overload failure, whether raised by
// the call or while opening the session, triggers a new attempt on a freshly
// selected slot after the retry interval. Calls implementing IdempotentCall
// and reporting false are attempted once.
func (c *Client) Invoke(ctx context.Context, call Call) (Conn, any, error) {
	c.inner.invokes.Add(1)

	retryIf := resilience.ShouldRetry
	if !retryable(call) {
		retryIf = func(error) bool { return false }
	}

	var (
		conn   Conn
		result any
	)
	err := c.inner.retry.Do(ctx, c.inner.clock, func() error {
		c.inner.attempts.Add(1)
		InvokeAttemptsTotal.Inc()

		cn, err := c.GetConnection(ctx)
		if err != nil {
			return err
		}
		res, err := cn.Invoke(ctx, call)
		if err != nil {
			return err
		}
		conn, result = cn, res
		return nil
	}, retryIf)

	InvokeTotal.WithLabelValues(resultLabel(err)).Inc()
	if err != nil {
		log.WithField("method", call.Method()).WithError(err).Debug("invoke failed")
		return nil, nil, err
	}
	return conn, result, nil
}

// InvokeOn dispatches call on conn without retrying. It is meant for follow
// up calls that must reach the session a previous Invoke used.
func (c *Client) InvokeOn(ctx context.Context, conn Conn, call Call) (any, error) {
	if c.inner.closed.Load() {
		return nil, apperrors.ErrClosed
	}
	return conn.Invoke(ctx, call)
}

// Size returns the number of slots.
func (c *Client) Size() int {
	return len(c.inner.slots)
}

// Stats returns current pool statistics.
func (c *Client) Stats() Stats {
	st := Stats{
		Size:     len(c.inner.slots),
		Invokes:  c.inner.invokes.Load(),
		Attempts: c.inner.attempts.Load(),
	}
	for _, s := range c.inner.slots {
		if s.ready.Load() {
			st.Ready++
		}
		st.Establishments += s.opens.Load()
		st.DeadHandouts += s.dead.Load()
	}
	return st
}

// Close closes every established session. Subsequent calls fail with
// ErrClosed. Close is idempotent.
func (c *Client) Close() error {
	if !c.inner.closed.CompareAndSwap(false, true) {
		return nil
	}

	var errs error
	for _, s := range c.inner.slots {
		errs = multierr.Append(errs, s.close())
	}
	c.inner.logger.Debug("pool closed", "slots", len(c.inner.slots))
	return errs
}

// SetLogVerbosityLevel sets the process-wide log verbosity, from 0 (fatal
// only) to 5 (trace).
func SetLogVerbosityLevel(level uint32) {
	logging.SetVerbosityLevel(level)
}
