package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tonpool/tonpool/lib/liteserver"
	"github.com/tonpool/tonpool/lib/logging"
	"github.com/tonpool/tonpool/lib/netconfig"
	"github.com/tonpool/tonpool/lib/pool"
)

// ServiceState represents the lifecycle state of a Service.
type ServiceState int

const (
	// StateInitial is the initial state before Start is called.
	StateInitial ServiceState = iota
	// StateStarting means the pool is being built.
	StateStarting
	// StateRunning means the pool is accepting calls.
	StateRunning
	// StateStopping means the pool is being closed.
	StateStopping
	// StateStopped means the pool has been closed.
	StateStopped
)

func (s ServiceState) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithFactory replaces the lite-server factory.
func WithFactory(f pool.Factory) ServiceOption {
	return func(s *Service) { s.factory = f }
}

// WithBootstrap replaces the checkpoint fetcher.
func WithBootstrap(b netconfig.CheckpointFetcher) ServiceOption {
	return func(s *Service) { s.bootstrap = b }
}

// WithCallback replaces the connection event callback.
func WithCallback(cb pool.Callback) ServiceOption {
	return func(s *Service) { s.callback = cb }
}

// Service builds a pool client from a Config and owns its lifecycle.
type Service struct {
	mu     sync.RWMutex
	config *Config
	logger *slog.Logger
	state  ServiceState
	client *pool.Client

	factory   pool.Factory
	bootstrap netconfig.CheckpointFetcher
	callback  pool.Callback

	startedAt time.Time

	onStateChange func(oldState, newState ServiceState)
	onError       func(err error, message string)
}

// NewService creates a Service with the given configuration.
// The pool is not built until Start is called.
func NewService(cfg *Config, logger *slog.Logger, opts ...ServiceOption) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		config: cfg,
		logger: logger.With("component", "service"),
		state:  StateInitial,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.callback == nil {
		s.callback = pool.MultiCallback{pool.NewLogCallback(logger), pool.MetricsCallback{}}
	}
	return s, nil
}

// Start loads the network config, refreshes its checkpoint if configured,
// and builds the pool. No lite-server session is opened until the first
// call.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateInitial && s.state != StateStopped {
		s.mu.Unlock()
		return fmt.Errorf("cannot start service in state %s", s.state)
	}
	oldState := s.state
	s.state = StateStarting
	s.mu.Unlock()

	s.emitStateChange(oldState, StateStarting)
	logging.SetVerbosityLevel(s.config.Log.Verbosity)

	s.logger.Info("starting service",
		"size", s.config.Pool.Size,
		"check", s.config.Pool.Check.String(),
		"keystore_dir", s.config.Network.KeystoreDir,
	)

	client, err := s.build(ctx)
	if err != nil {
		s.transitionTo(StateStopped)
		s.emitError(err, "failed to build pool")
		return fmt.Errorf("building pool: %w", err)
	}

	s.mu.Lock()
	s.client = client
	s.state = StateRunning
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.emitStateChange(StateStarting, StateRunning)
	s.logger.Info("service started")
	return nil
}

func (s *Service) build(ctx context.Context) (*pool.Client, error) {
	netCfg := s.config.Network

	doc, err := LoadNetworkConfig(ctx, netCfg)
	if err != nil {
		return nil, err
	}

	factory := s.factory
	if factory == nil {
		f, err := liteserver.NewFactory(liteserver.FactoryConfig{
			MaxBlockAge: netCfg.MaxBlockAge.Std(),
			ProofPolicy: netCfg.ProofPolicy,
			Logger:      s.logger,
		})
		if err != nil {
			return nil, err
		}
		factory = f
	}
	bootstrap := s.bootstrap
	if bootstrap == nil {
		bootstrap = liteserver.NewBootstrapper(netCfg.QueryTimeout.Std())
	}

	return pool.New(ctx, pool.Options{
		Size: s.config.Pool.Size,
		Params: pool.Params{
			Config:            doc,
			KeystoreDir:       netCfg.KeystoreDir,
			RefreshCheckpoint: netCfg.RefreshCheckpoint,
		},
		Retry:     s.config.RetryStrategy(),
		Callback:  s.callback,
		Check:     s.config.Pool.Check,
		Factory:   factory,
		Bootstrap: bootstrap,
		Logger:    s.logger,
	})
}

// Stop closes the pool. It blocks until every session is closed or ctx
// ends.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return fmt.Errorf("cannot stop service in state %s", s.state)
	}
	s.state = StateStopping
	client := s.client
	s.mu.Unlock()

	s.emitStateChange(StateRunning, StateStopping)
	s.logger.Info("stopping service")

	done := make(chan error, 1)
	go func() { done <- client.Close() }()

	select {
	case err := <-done:
		s.transitionTo(StateStopped)
		s.emitStateChange(StateStopping, StateStopped)
		if err != nil {
			s.emitError(err, "failed to close sessions")
			return err
		}
		s.logger.Info("service stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) transitionTo(state ServiceState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// State returns the current state of the service.
func (s *Service) State() ServiceState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Client returns the pool, or nil before a successful Start.
func (s *Service) Client() *pool.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

// Config returns the service's configuration.
func (s *Service) Config() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// Uptime returns how long the service has been running.
// Returns zero if not running.
func (s *Service) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.startedAt.IsZero() || s.state != StateRunning {
		return 0
	}
	return time.Since(s.startedAt)
}

// SetOnStateChange sets a callback for state changes.
// The callback is invoked synchronously during state transitions.
func (s *Service) SetOnStateChange(callback func(oldState, newState ServiceState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStateChange = callback
}

// SetOnError sets a callback for error events.
func (s *Service) SetOnError(callback func(err error, message string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = callback
}

func (s *Service) emitStateChange(oldState, newState ServiceState) {
	s.mu.RLock()
	callback := s.onStateChange
	s.mu.RUnlock()

	if callback != nil {
		callback(oldState, newState)
	}
}

func (s *Service) emitError(err error, message string) {
	s.mu.RLock()
	callback := s.onError
	s.mu.RUnlock()

	if callback != nil {
		callback(err, message)
	}
}
