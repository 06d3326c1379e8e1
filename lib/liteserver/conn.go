package liteserver

import (
	"context"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/xssnick/tonutils-go/liteclient"
	"github.com/xssnick/tonutils-go/ton"
	"go.uber.org/multierr"

	"github.com/tonpool/tonpool/lib/pool"
)

// Conn is a session with a single lite-server.
type Conn struct {
	tag      string
	server   string
	client   *liteclient.ConnectionPool
	api      *ton.APIClient
	keystore *Keystore
	callback pool.Callback
	clock    clock.Clock
	watcher  *pool.Watcher

	closeOnce sync.Once
	downOnce  sync.Once

	// mu orders announce against disconnected so that OnDisconnected is
	// reported exactly once, and only after OnConnected.
	mu        sync.Mutex
	announced bool
}

var _ pool.Conn = (*Conn)(nil)

// Tag identifies the session in logs.
func (c *Conn) Tag() string { return c.tag }

// Server returns the lite-server address.
func (c *Conn) Server() string { return c.server }

// API exposes the underlying client for calls not covered by Query helpers.
func (c *Conn) API() ton.APIClientWrapped { return c.api }

// Invoke runs call, which must be a Query, on this session. Lite-server
// failures are reported as RemoteError.
func (c *Conn) Invoke(ctx context.Context, call pool.Call) (any, error) {
	q, ok := call.(Query)
	if !ok {
		return nil, fmt.Errorf("liteserver: unsupported call %T", call)
	}

	method := q.Method()
	c.callback.OnInvoke(c.tag, method)
	start := c.clock.Now()
	res, err := q.Do(ctx, c.api)
	err = mapError(err)
	c.callback.OnResult(c.tag, method, c.clock.Since(start), err)

	if err == nil {
		if blk, ok := res.(*ton.BlockIDExt); ok && blk.Workchain == -1 && method == methodGetMasterchainInfo {
			c.remember(blk)
		}
	}
	return res, err
}

// remember records a verified masterchain block in the keystore.
func (c *Conn) remember(blk *ton.BlockIDExt) {
	if c.keystore == nil || blk == nil {
		return
	}
	saved, err := c.keystore.SaveBlock(recordOf(blk, c.server, c.clock.Now()))
	if err != nil {
		log.WithField("tag", c.tag).WithError(err).Debug("failed to record block")
		return
	}
	if saved {
		log.WithField("tag", c.tag).WithField("seqno", blk.SeqNo).Debug("recorded masterchain block")
	}
}

// announce reports the session as connected. A session that dropped before
// this point is reported as disconnected right after.
func (c *Conn) announce() {
	c.mu.Lock()
	c.announced = true
	down := c.watcher.Finished()
	c.mu.Unlock()

	c.callback.OnConnected(c.tag, c.server)
	if down {
		c.callback.OnDisconnected(c.tag, c.watcher.Err())
	}
}

// disconnected ends the session's watcher. Sessions that were never
// announced, such as ones failing verification, emit no event.
func (c *Conn) disconnected(err error) {
	c.downOnce.Do(func() {
		c.mu.Lock()
		c.watcher.Finish(err)
		announced := c.announced
		c.mu.Unlock()

		if announced {
			c.callback.OnDisconnected(c.tag, err)
		}
	})
}

// Close stops the session and releases its keystore.
func (c *Conn) Close() error {
	var errs error
	c.closeOnce.Do(func() {
		c.disconnected(nil)
		c.client.Stop()
		if c.keystore != nil {
			errs = multierr.Append(errs, c.keystore.Close())
		}
	})
	return errs
}
