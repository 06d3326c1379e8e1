// tonpool keeps a pool of verified TON lite-server sessions.
//
// Usage:
//
//	tonpool [flags]                  Run the pool and serve metrics
//	tonpool query <method>           Run one query through the pool
//	tonpool checkpoint               Print the latest key block agreed on by the network
//	tonpool config init              Write the default configuration file
//
// Flags:
//
//	-config string
//	    Path to configuration file (default "~/.tonpool/config.toml")
//	-network-config string
//	    Network config document (overrides config)
//	-size int
//	    Number of lite-server sessions (overrides config)
//	-check string
//	    Connection check: none, health or archive (overrides config)
//	-keystore string
//	    Keystore root directory (overrides config)
//	-v
//	    Enable verbose logging
//	-version
//	    Print version and exit
//
// Settings can also be overridden with TONPOOL_* environment variables.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tonpool/tonpool/lib/core"
	"github.com/tonpool/tonpool/lib/liteserver"
	"github.com/tonpool/tonpool/lib/logging"
	"github.com/tonpool/tonpool/lib/pool"
	"github.com/tonpool/tonpool/version"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const shutdownTimeout = 30 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	defaultConfigPath := filepath.Join(homeDir, ".tonpool", "config.toml")

	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	networkConfig := flag.String("network-config", "", "Network config document (overrides config)")
	size := flag.Int("size", 0, "Number of lite-server sessions (overrides config)")
	check := flag.String("check", "", "Connection check: none, health or archive (overrides config)")
	keystore := flag.String("keystore", "", "Keystore root directory (overrides config)")
	verbose := flag.Bool("v", false, "Enable verbose logging")
	showVersion := flag.Bool("version", false, "Print version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "tonpool - TON lite-server connection pool\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  tonpool [flags]            Run the pool and serve metrics\n")
		fmt.Fprintf(os.Stderr, "  tonpool query <method>     Run one query (%s)\n", queryNames())
		fmt.Fprintf(os.Stderr, "  tonpool checkpoint         Print the latest agreed key block\n")
		fmt.Fprintf(os.Stderr, "  tonpool config init        Write the default configuration file\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("tonpool version %s\n", version.Full())
		return 0
	}

	args := flag.Args()
	if len(args) >= 2 && args[0] == "config" && args[1] == "init" {
		return handleConfigInit(*configPath)
	}

	cfg, err := core.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return 1
	}
	if err := cfg.ApplyEnvOverrides(); err != nil {
		fmt.Fprintf(os.Stderr, "Error in environment: %v\n", err)
		return 1
	}

	if *networkConfig != "" {
		cfg.Network.ConfigPath = *networkConfig
	}
	if *size > 0 {
		cfg.Pool.Size = *size
	}
	if *check != "" {
		if err := cfg.Pool.Check.UnmarshalText([]byte(*check)); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	}
	if *keystore != "" {
		cfg.Network.KeystoreDir = *keystore
	}
	if *verbose {
		cfg.Log.Verbosity = logging.VerbosityDebug
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid config: %v\n", err)
		return 1
	}

	pool.SetLogVerbosityLevel(cfg.Log.Verbosity)
	logger := logging.NewLogger(os.Stderr, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if len(args) > 0 {
		switch args[0] {
		case "query":
			return handleQuery(ctx, cfg, logger, args[1:])
		case "checkpoint":
			return handleCheckpoint(ctx, cfg)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
			flag.Usage()
			return 1
		}
	}

	return serve(ctx, cfg, logger)
}

// serve runs the pool until a shutdown signal arrives.
func serve(ctx context.Context, cfg *core.Config, logger *slog.Logger) int {
	svc, err := core.NewService(cfg, logger)
	if err != nil {
		logger.Error("failed to create service", "error", err)
		return 1
	}
	svc.SetOnError(func(err error, message string) {
		logger.Error(message, "error", err)
	})

	if err := svc.Start(ctx); err != nil {
		logger.Error("failed to start service", "error", err)
		return 1
	}

	var metricsServer *http.Server
	if cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(svc.Client().Stats())
		})
		metricsServer = &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		logger.Info("serving metrics", "addr", cfg.Metrics.Listen)
	}

	logger.Info("tonpool started", "size", cfg.Pool.Size, "check", cfg.Pool.Check.String(), "version", version.Full())

	<-ctx.Done()
	logger.Info("received signal, shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	code := 0
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics shutdown error", "error", err)
			code = 1
		}
	}
	if err := svc.Stop(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		code = 1
	}

	logger.Info("tonpool stopped", "stats", svc.Client().Stats())
	return code
}

var queries = map[string]func() liteserver.Query{
	"masterchain-info": liteserver.GetMasterchainInfo,
	"time":             liteserver.GetTime,
}

func queryNames() string {
	return "masterchain-info, time"
}

// handleQuery runs one query through a fresh pool and prints the result as
// JSON.
func handleQuery(ctx context.Context, cfg *core.Config, logger *slog.Logger, args []string) int {
	if len(args) != 1 {
		fmt.Fprintf(os.Stderr, "Usage: tonpool query <%s>\n", queryNames())
		return 1
	}
	mk, ok := queries[args[0]]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown query: %s\n", args[0])
		return 1
	}

	svc, err := core.NewService(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if err := svc.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = svc.Stop(stopCtx)
	}()

	conn, result, err := svc.Client().Invoke(ctx, mk())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	out := map[string]any{"result": result}
	if ls, ok := conn.(*liteserver.Conn); ok {
		out["server"] = ls.Server()
	}
	return printJSON(out)
}

// handleCheckpoint asks every lite-server in the network config for its
// latest key block and prints the one most of them agree on.
func handleCheckpoint(ctx context.Context, cfg *core.Config) int {
	doc, err := core.LoadNetworkConfig(ctx, cfg.Network)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	servers, err := core.ParseLiteservers(doc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	cp, err := liteserver.NewBootstrapper(cfg.Network.QueryTimeout.Std()).FetchLatestCheckpoint(ctx, servers)
	if cp == nil {
		fmt.Fprintf(os.Stderr, "Error: no checkpoint: %v\n", err)
		return 1
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: some lite-servers did not answer: %v\n", err)
	}
	return printJSON(cp)
}

func handleConfigInit(path string) int {
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(os.Stderr, "Error: %s already exists\n", path)
		return 1
	}
	if err := core.SaveConfig(core.DefaultConfig(), path); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Printf("Wrote %s\n", path)
	return 0
}

func printJSON(v any) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Println(string(data))
	return 0
}
