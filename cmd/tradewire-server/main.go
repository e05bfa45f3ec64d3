package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/grafana/pyroscope-go"
	"github.com/joho/godotenv"

	"tradewire/internal/api"
	"tradewire/internal/broker"
	"tradewire/internal/cache"
	"tradewire/internal/config"
	"tradewire/internal/engine"
	"tradewire/internal/journal"
	"tradewire/internal/metrics"
	"tradewire/internal/secrets"
	"tradewire/internal/symbols"
	"tradewire/internal/util"
)

func main() {
	_ = godotenv.Load()

	// Load config.
	cfgPath := "config/tradewire.yaml"
	if p := os.Getenv("TRADEWIRE_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	// Setup logging.
	logWriter := io.Writer(os.Stdout)
	if cfg.Server.LogFile != "" {
		logFile, err := os.OpenFile(cfg.Server.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			log.Fatalf("opening log file: %v", err)
		}
		defer logFile.Close()
		logWriter = io.MultiWriter(os.Stdout, logFile)
	}
	logger := util.NewLoggerTo(logWriter, cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	// Create stores.
	for _, p := range []string{cfg.Cache.Path, cfg.Journal.Path} {
		if dir := filepath.Dir(p); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				log.Fatalf("creating data directory %s: %v", dir, err)
			}
		}
	}
	rec := metrics.NewRegistry()

	cacheStore, err := cache.NewSQLiteStore(cfg.Cache.Path)
	if err != nil {
		log.Fatalf("opening cache store: %v", err)
	}
	defer cacheStore.Close()
	breaker := cache.NewBreakerStore(cacheStore, cfg.Cache.FailureThreshold, rec)

	journalStore, err := journal.NewStore(cfg.Journal.Path, logger)
	if err != nil {
		log.Fatalf("opening journal store: %v", err)
	}
	defer journalStore.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Load credentials. Paper mode trades against simulators and skips the
	// broker secrets entirely; the databento key is still picked up when
	// present so futures symbols resolve.
	var creds secrets.Credentials
	if cfg.Trading.PaperMode {
		creds.DatabentoAPIKey = os.Getenv(secrets.EnvVarName(secrets.PathDatabentoAPIKey))
	} else {
		src, err := secretSource(cfg)
		if err != nil {
			log.Fatalf("configuring secret source: %v", err)
		}
		creds, err = secrets.Load(ctx, src)
		if err != nil {
			log.Fatalf("loading credentials: %v", err)
		}
	}

	// Wire the engine.
	adapters := buildAdapters(cfg, creds, breaker, logger)
	market := symbols.NewDatabento(cfg.Symbols.BaseURL, cfg.Symbols.Dataset, creds.DatabentoAPIKey, logger)
	resolver := symbols.NewResolver(market, breaker, cfg.Symbols, rec, logger)
	eng := engine.NewEngine(adapters, resolver, journalStore, rec, logger)
	srv := api.NewServer(eng, adapters, journalStore, breaker, rec, logger)

	// Continuous profiling.
	if cfg.Profiling.Enabled {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: cfg.Profiling.ApplicationName,
			ServerAddress:   cfg.Profiling.ServerAddress,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			logger.Warn("continuous profiling disabled", "error", err)
		} else {
			defer profiler.Stop()
			logger.Info("continuous profiling enabled", "server", cfg.Profiling.ServerAddress)
		}
	}

	// Start HTTP server.
	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("tradewire server listening", "addr", httpServer.Addr, "paper_mode", cfg.Trading.PaperMode)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down tradewire server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

func secretSource(cfg *config.Config) (secrets.Source, error) {
	switch cfg.Secrets.Source {
	case "env":
		return secrets.EnvSource{}, nil
	case "file":
		return secrets.NewFileSource(cfg.Secrets.File)
	}
	return nil, fmt.Errorf("unknown secrets source %q", cfg.Secrets.Source)
}

func buildAdapters(cfg *config.Config, creds secrets.Credentials, store cache.Store, logger *slog.Logger) engine.Adapters {
	if cfg.Trading.PaperMode {
		return engine.Adapters{
			Forex:   broker.NewSimulator("oanda", broker.SemanticsAlwaysExecute, broker.CloseOppositeSide),
			Futures: broker.NewSimulator("tradovate", broker.SemanticsNetPosition, broker.CloseLiquidateAll),
			Crypto:  broker.NewSimulator("coinbase", broker.SemanticsAlwaysExecute, broker.CloseOppositeSide),
		}
	}
	return engine.Adapters{
		Forex: broker.NewOANDA(cfg.OANDA.BaseURL, creds.OANDAAccount, creds.OANDAToken, logger),
		Futures: broker.NewTradovate(broker.TradovateConfig{
			BaseURL:  cfg.Tradovate.BaseURL,
			Username: creds.TradovateUsername,
			Password: creds.TradovatePassword,
			DeviceID: creds.TradovateDeviceID,
			CID:      creds.TradovateCID,
			Secret:   creds.TradovateSecret,
			Quantity: cfg.Trading.FuturesQuantity,
		}, store, logger),
		Crypto: broker.NewCoinbase(cfg.Coinbase.BaseURL, creds.CoinbaseKeyName, creds.CoinbasePrivateKey, logger),
	}
}
