// svnoded - Bitcoin SV node daemon with safe-mode fork monitoring
//
// The daemon maintains a block-header index fed by libp2p gossip, watches
// competing chain tips for dangerous forks, and publishes safe-mode status
// changes to a webhook, the log, and connected WebSocket clients.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/richmills3/bitcoin-sv/internal/logger"
	"github.com/richmills3/bitcoin-sv/pkg/alert"
	"github.com/richmills3/bitcoin-sv/pkg/api"
	"github.com/richmills3/bitcoin-sv/pkg/chain"
	"github.com/richmills3/bitcoin-sv/pkg/config"
	"github.com/richmills3/bitcoin-sv/pkg/limiter"
	"github.com/richmills3/bitcoin-sv/pkg/metrics"
	"github.com/richmills3/bitcoin-sv/pkg/p2p"
	"github.com/richmills3/bitcoin-sv/pkg/safemode"
)

var (
	// Version info (set by build)
	Version   = "1.0.0"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Root command
var rootCmd = &cobra.Command{
	Use:   "svnoded",
	Short: "Bitcoin SV node daemon",
	Long: `svnoded - Bitcoin SV node daemon.

Maintains the block-header index, monitors competing chain tips for
dangerous forks, and raises the process-wide safe-mode level. Status
changes are published to a webhook, the log, and WebSocket subscribers.`,
	Run: runDaemon,
}

var (
	configPath string
	logLevel   string
)

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to configuration file")
	rootCmd.Flags().StringVarP(&logLevel, "log-level", "l", "info", "Log level (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runDaemon(cmd *cobra.Command, args []string) {
	// Initialize logger
	log := logger.NewLogger(logLevel)
	log.WithFields(logger.Fields{
		"version":    Version,
		"git_commit": GitCommit,
		"build_time": BuildTime,
	}).Info("Starting svnoded")

	// Load configuration
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}

	log.WithFields(logger.Fields{
		"api_port":          cfg.API.Port,
		"p2p_enabled":       cfg.P2P.Enabled,
		"webhook_address":   cfg.SafeMode.WebhookAddress,
		"max_fork_distance": cfg.SafeMode.MaxForkDistance,
		"min_fork_length":   cfg.SafeMode.MinForkLength,
	}).Info("Configuration loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Metrics exporter
	var exporter *metrics.Exporter
	if cfg.Metrics.Enabled {
		exporter = metrics.NewExporter(cfg.Metrics.Port, cfg.Metrics.Path)
		go func() {
			log.WithField("port", cfg.Metrics.Port).Info("Starting metrics server")
			if err := exporter.Start(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Fatal("Metrics server failed")
			}
		}()
	}

	// 2. Chain state with persistent header store
	chainState := chain.NewChainState(log)

	store, err := chain.OpenStore(cfg.Node.HeaderStorePath, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to open header store")
	}
	defer store.Close()
	chainState.SetStore(store)

	// 3. Safe-mode monitor
	alerts := alert.NewSink(cfg.Node.AlertCommand, log)
	monitor := safemode.NewMonitor(&cfg.SafeMode, chainState, alerts, log)
	defer monitor.Shutdown()

	// Every index or tip change re-runs the safe-mode check
	chainState.AddTipHook(func(newIdx *chain.BlockIndex) {
		start := time.Now()
		monitor.Check(newIdx)
		if exporter != nil {
			exporter.ChecksTotal.Inc()
			exporter.CheckDuration.Observe(time.Since(start).Seconds())
			// A new header carries no block data yet; ConnectBlockData runs
			// the hooks only after setting ChainTx
			if newIdx != nil && newIdx.ChainTx == 0 {
				exporter.HeadersIndexed.Inc()
			}
		}
	})

	// 4. Rate limiter and API server
	rateLimiter := limiter.NewRateLimiter(cfg.RateLimiter, log)
	defer rateLimiter.Stop()

	apiServer := api.NewServer(cfg.API, rateLimiter, chainState, monitor, log)

	monitor.SetChangeHook(func(res *safemode.Result) {
		if exporter != nil {
			exporter.SafeModeLevel.Set(float64(res.MaxLevel))
			exporter.ForksTracked.Set(float64(len(res.Forks)))
			if cfg.SafeMode.WebhookAddress != "" {
				exporter.WebhookPosts.Inc()
			}
		}
		apiServer.Hub().Broadcast("safemode", "safemode", map[string]interface{}{
			"level": res.MaxLevel.String(),
			"forks": len(res.Forks),
		})
	})

	// 5. Restore the block index and prime the monitor
	chainState.Lock.Lock()
	if _, err := chainState.LoadFromStore(); err != nil {
		chainState.Lock.Unlock()
		log.WithError(err).Fatal("Failed to restore block index")
	}
	monitor.Check(nil)
	chainState.Lock.Unlock()

	// 6. P2P header gossip
	if cfg.P2P.Enabled {
		p2pManager := p2p.NewManager(cfg.P2P, chainState, log)
		if err := p2pManager.Start(ctx); err != nil {
			log.WithError(err).Fatal("Failed to start P2P network")
		}
		defer p2pManager.Stop()

		// Announce locally accepted headers to peers; publishing happens off
		// the chain lock
		chainState.AddTipHook(func(newIdx *chain.BlockIndex) {
			if newIdx == nil {
				return
			}
			go func(idx *chain.BlockIndex) {
				if err := p2pManager.Announce(ctx, idx); err != nil {
					log.WithError(err).Debug("Header announcement failed")
				}
			}(newIdx)
		})
	}

	// 7. API server
	go func() {
		if err := apiServer.Start(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("API server failed")
		}
	}()

	log.Info("svnoded started")

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.WithField("signal", sig.String()).Info("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("API server shutdown failed")
	}
	if exporter != nil {
		if err := exporter.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("Metrics server shutdown failed")
		}
	}

	log.Info("svnoded stopped")
}
