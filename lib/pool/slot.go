package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/semaphore"

	apperrors "github.com/tonpool/tonpool/lib/errors"
)

// established pairs a session with the watcher of its background task. The
// two are always stored and replaced together.
type established struct {
	conn    Conn
	watcher *Watcher
}

// slot lazily owns at most one connection. The guard serializes
// establishment so concurrent first callers open a single session; waiters
// are admitted in FIFO order and give up when their context ends.
type slot struct {
	index    int
	params   Params
	callback Callback
	check    ConnectionCheck
	factory  Factory
	logger   *slog.Logger
	clock    clock.Clock

	guard *semaphore.Weighted

	// Guarded by guard.
	current *established
	closed  bool

	ready atomic.Bool
	opens atomic.Uint64
	dead  atomic.Uint64
}

func newSlot(index int, params Params, opts *Options) *slot {
	return &slot{
		index:    index,
		params:   params,
		callback: opts.Callback,
		check:    opts.Check,
		factory:  opts.Factory,
		logger:   opts.Logger.With("slot", index),
		clock:    opts.Clock,
		guard:    semaphore.NewWeighted(1),
	}
}

// connection returns the slot's session, establishing it on first use. A
// session whose background task has ended is still returned; the condition
// is only reported.
func (s *slot) connection(ctx context.Context) (Conn, error) {
	if err := s.guard.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.guard.Release(1)

	if s.closed {
		return nil, apperrors.ErrClosed
	}

	if cur := s.current; cur != nil {
		if cur.watcher.Finished() {
			s.dead.Add(1)
			DeadConnectionsTotal.Inc()
			s.logger.Warn("returning dead connection", "tag", cur.conn.Tag(), "error", cur.watcher.Err())
		}
		return cur.conn, nil
	}

	return s.establishLocked(ctx)
}

func (s *slot) establishLocked(ctx context.Context) (Conn, error) {
	log.WithField("slot", s.index).WithField("check", s.check.String()).Debug("establishing connection")

	start := s.clock.Now()
	conn, watcher, err := s.check.establish(ctx, s.factory, s.params, s.callback)
	EstablishDuration.WithLabelValues(s.check.String()).Observe(s.clock.Since(start).Seconds())
	if err == nil && (conn == nil || watcher == nil) {
		if conn != nil {
			_ = conn.Close()
		}
		err = apperrors.Internal(fmt.Sprintf("factory returned incomplete connection for slot %d", s.index), nil)
	}
	if err != nil {
		EstablishTotal.WithLabelValues(s.check.String(), "error").Inc()
		log.WithField("slot", s.index).WithError(err).Debug("failed to establish connection")
		return nil, err
	}

	EstablishTotal.WithLabelValues(s.check.String(), "ok").Inc()
	s.current = &established{conn: conn, watcher: watcher}
	s.opens.Add(1)
	s.ready.Store(true)
	SlotsReady.Inc()
	s.logger.Debug("connection established", "tag", conn.Tag())
	return conn, nil
}

// close releases the session and refuses further use of the slot. It waits
// for an in-flight establishment to finish first.
func (s *slot) close() error {
	if err := s.guard.Acquire(context.Background(), 1); err != nil {
		return err
	}
	defer s.guard.Release(1)

	if s.closed {
		return nil
	}
	s.closed = true

	cur := s.current
	s.current = nil
	if cur == nil {
		return nil
	}
	s.ready.Store(false)
	SlotsReady.Dec()
	if err := cur.conn.Close(); err != nil {
		return fmt.Errorf("slot %d: %w", s.index, err)
	}
	return nil
}
