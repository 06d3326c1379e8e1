// Package pool manages a fixed number of lite-server sessions and spreads
// calls across them.
//
// A Client owns Size slots. Each slot opens its session the first time a
// caller is routed to it and keeps it for the life of the client. Every call
// picks a slot uniformly at random, so load is spread evenly without shared
// bookkeeping.
//
// # Basic Usage
//
//	factory, err := liteserver.NewFactory(liteserver.FactoryConfig{})
//	if err != nil {
//	    return err
//	}
//
//	opts := pool.DefaultOptions()
//	opts.Size = 4
//	opts.Params = pool.Params{Config: doc, KeystoreDir: "/var/lib/tonpool"}
//	opts.Check = pool.CheckHealth
//	opts.Factory = factory
//
//	client, err := pool.New(ctx, opts)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	conn, result, err := client.Invoke(ctx, liteserver.GetMasterchainInfo())
//
// # Connection checks
//
// Check selects how new sessions are verified:
//   - CheckNone: no verification
//   - CheckHealth: the node must be alive and synced
//   - CheckArchive: the node must also serve full history
//
// # Retries
//
// Invoke retries failures carrying lite-server status 500 (overloaded) at a
// fixed interval, up to Retry.MaxRetries extra attempts. Each attempt selects
// a slot anew. Other failures are returned immediately.
//
// # Liveness
//
// A session's background task is observed through a Watcher. When a slot's
// task has ended, the slot keeps handing out the same session and logs a
// "returning dead connection" warning; it does not reconnect.
//
// # Metrics
//
// Prometheus metrics are registered with the default registry:
//   - tonpool_pool_slots_ready: slots holding a session
//   - tonpool_pool_establish_total: establishment attempts by check and result
//   - tonpool_pool_establish_duration_seconds: establishment latency
//   - tonpool_pool_dead_connections_total: dead session hand-outs
//   - tonpool_pool_invoke_attempts_total: invoke attempts including retries
//   - tonpool_pool_invoke_total: completed invokes by outcome
//   - tonpool_conn_calls_total, tonpool_conn_call_duration_seconds and
//     tonpool_conn_open: recorded by MetricsCallback
package pool
