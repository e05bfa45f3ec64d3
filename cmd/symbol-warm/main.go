// Command symbol-warm builds the continuous-to-contract futures mapping
// ahead of the trading session and stores it in the symbol cache, so the
// first webhook of the day does not pay for the volume ranking.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"

	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"

	"tradewire/internal/cache"
	"tradewire/internal/config"
	"tradewire/internal/secrets"
	"tradewire/internal/symbols"
	"tradewire/internal/util"
)

func main() {
	_ = godotenv.Load()

	cfgPath := "config/tradewire.yaml"
	if p := os.Getenv("TRADEWIRE_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level)
	util.SetDefault(logger)

	ctx := context.Background()

	var src secrets.Source
	switch cfg.Secrets.Source {
	case "env":
		src = secrets.EnvSource{}
	case "file":
		src, err = secrets.NewFileSource(cfg.Secrets.File)
		if err != nil {
			log.Fatalf("loading secrets file: %v", err)
		}
	default:
		log.Fatalf("unknown secrets source %q", cfg.Secrets.Source)
	}
	vals, err := src.Fetch(ctx, []string{secrets.PathDatabentoAPIKey})
	if err != nil {
		log.Fatalf("loading databento key: %v", err)
	}

	if dir := filepath.Dir(cfg.Cache.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("creating data directory %s: %v", dir, err)
		}
	}
	store, err := cache.NewSQLiteStore(cfg.Cache.Path)
	if err != nil {
		log.Fatalf("opening cache store: %v", err)
	}
	defer store.Close()
	breaker := cache.NewBreakerStore(store, cfg.Cache.FailureThreshold, nil)

	market := symbols.NewDatabento(cfg.Symbols.BaseURL, cfg.Symbols.Dataset, vals[secrets.PathDatabentoAPIKey], logger)
	resolver := symbols.NewResolver(market, breaker, cfg.Symbols, nil, logger)

	mapping, err := resolver.Warm(ctx)
	if err != nil {
		log.Fatalf("warming symbol cache: %v", err)
	}

	fronts := make([]string, 0, len(mapping))
	for front := range mapping {
		fronts = append(fronts, front)
	}
	sort.Strings(fronts)

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Continuous", "Contract")
	for _, front := range fronts {
		table.Append(front, mapping[front])
	}
	table.Render()
	fmt.Printf("cached %d contract mappings\n", len(mapping))
}
