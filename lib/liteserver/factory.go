// Package liteserver opens pool sessions to TON lite-servers using
// tonutils-go, verifies them according to the pool's connection check, and
// discovers recent checkpoints for network config refreshes.
package liteserver

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"log/slog"
	mrand "math/rand/v2"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/xssnick/tonutils-go/liteclient"
	"github.com/xssnick/tonutils-go/ton"
	"go.uber.org/multierr"

	apperrors "github.com/tonpool/tonpool/lib/errors"
	"github.com/tonpool/tonpool/lib/netconfig"
	"github.com/tonpool/tonpool/lib/pool"
)

// FactoryConfig configures a Factory.
type FactoryConfig struct {
	// MaxBlockAge bounds the age of a healthy node's last masterchain block.
	// Default: 60 seconds
	MaxBlockAge time.Duration
	// ProofPolicy is the proof check policy of opened sessions: "unsafe",
	// "fast" or "secure".
	// Default: "fast"
	ProofPolicy string
	// Logger receives operator events. Defaults to slog.Default().
	Logger *slog.Logger
	// Clock is used to judge block age. Defaults to the wall clock.
	Clock clock.Clock
}

// Factory implements pool.Factory over tonutils-go. Each session talks to a
// single lite-server picked at random from the config.
type Factory struct {
	cfg    FactoryConfig
	policy ton.ProofCheckPolicy
	logger *slog.Logger
}

var _ pool.Factory = (*Factory)(nil)

// NewFactory returns a Factory with defaults applied to cfg.
func NewFactory(cfg FactoryConfig) (*Factory, error) {
	policy, err := ParseProofPolicy(cfg.ProofPolicy)
	if err != nil {
		return nil, apperrors.Configuration("invalid proof policy", err)
	}
	if cfg.MaxBlockAge <= 0 {
		cfg.MaxBlockAge = DefaultMaxBlockAge
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Factory{
		cfg:    cfg,
		policy: policy,
		logger: cfg.Logger.With("component", "liteserver"),
	}, nil
}

// ParseProofPolicy parses a proof check policy name. Empty means "fast".
func ParseProofPolicy(name string) (ton.ProofCheckPolicy, error) {
	switch strings.ToLower(name) {
	case "", "fast":
		return ton.ProofCheckPolicyFast, nil
	case "secure":
		return ton.ProofCheckPolicySecure, nil
	case "unsafe":
		return ton.ProofCheckPolicyUnsafe, nil
	default:
		return 0, fmt.Errorf("unknown proof policy %q", name)
	}
}

// Connect opens a session without verification.
func (f *Factory) Connect(ctx context.Context, params pool.Params, cb pool.Callback) (pool.Conn, *pool.Watcher, error) {
	return f.open(ctx, params, cb, nil)
}

// ConnectHealthy opens a session to a node that is alive and synced.
func (f *Factory) ConnectHealthy(ctx context.Context, params pool.Params, cb pool.Callback) (pool.Conn, *pool.Watcher, error) {
	return f.open(ctx, params, cb, healthCheck(f.cfg.Clock.Now, f.cfg.MaxBlockAge))
}

// ConnectArchive opens a session to a synced node that serves full history.
func (f *Factory) ConnectArchive(ctx context.Context, params pool.Params, cb pool.Callback) (pool.Conn, *pool.Watcher, error) {
	return f.open(ctx, params, cb, archiveCheck(f.cfg.Clock.Now, f.cfg.MaxBlockAge))
}

// open tries the config's servers in random order until one connects and
// passes verify.
func (f *Factory) open(ctx context.Context, params pool.Params, cb pool.Callback, verify verifyFunc) (pool.Conn, *pool.Watcher, error) {
	if cb == nil {
		cb = pool.NoopCallback{}
	}

	cfg, err := netconfig.Parse(params.Config)
	if err != nil {
		return nil, nil, err
	}
	servers := cfg.Liteservers()
	if len(servers) == 0 {
		return nil, nil, apperrors.Configuration("config lists no lite-servers", nil)
	}

	var ks *Keystore
	var clientKey ed25519.PrivateKey
	if params.KeystoreDir != "" {
		if ks, err = OpenKeystore(params.KeystoreDir); err != nil {
			return nil, nil, err
		}
		if clientKey, err = ks.ClientKey(); err != nil {
			_ = ks.Close()
			return nil, nil, err
		}
	} else if _, clientKey, err = ed25519.GenerateKey(rand.Reader); err != nil {
		return nil, nil, apperrors.Internal("fail to generate client key", err)
	}

	var errs error
	for _, i := range mrand.Perm(len(servers)) {
		srv := servers[i]
		conn, err := f.dial(ctx, cfg, srv, ks, clientKey, cb, verify)
		if err == nil {
			return conn, conn.watcher, nil
		}
		f.logger.Warn("lite-server rejected", "server", srv.Addr, "error", err)
		errs = multierr.Append(errs, fmt.Errorf("%s: %w", srv.Addr, err))
		if ctx.Err() != nil {
			break
		}
	}

	if ks != nil {
		_ = ks.Close()
	}
	return nil, nil, errs
}

func (f *Factory) dial(ctx context.Context, cfg *netconfig.Config, srv netconfig.Liteserver, ks *Keystore, clientKey ed25519.PrivateKey, cb pool.Callback, verify verifyFunc) (*Conn, error) {
	lc := liteclient.NewConnectionPool()
	if err := lc.AddConnection(ctx, srv.Addr, srv.Key, clientKey); err != nil {
		return nil, err
	}

	api := ton.NewAPIClient(lc, f.policy)
	api.SetTrustedBlockFromConfig(cfg.Global())
	if ks != nil {
		rec, err := ks.LastBlock()
		if err != nil {
			log.WithField("path", ks.Path()).WithError(err).Debug("ignoring unreadable keystore state")
		} else if rec != nil && rec.Seqno > cfg.Checkpoint().Seqno {
			api.SetTrustedBlock(rec.BlockID())
			log.WithField("seqno", rec.Seqno).Debug("trusting block from keystore")
		}
	}

	c := &Conn{
		tag:      uuid.NewString(),
		server:   srv.Addr,
		client:   lc,
		api:      api,
		keystore: ks,
		callback: cb,
		clock:    f.cfg.Clock,
		watcher:  pool.NewWatcher(),
	}
	lc.SetOnDisconnect(func(addr, _ string) {
		c.disconnected(fmt.Errorf("connection to %s lost", addr))
	})
	if verify != nil {
		master, err := verify(ctx, api)
		if err != nil {
			lc.Stop()
			return nil, err
		}
		c.remember(master)
	}

	c.announce()
	f.logger.Info("connected to lite-server", "server", c.server, "tag", c.tag)
	return c, nil
}
