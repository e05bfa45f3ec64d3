// Command journal-archive exports one month of the execution journal to a
// parquet file and optionally prunes the exported rows from SQLite.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"tradewire/internal/config"
	"tradewire/internal/journal"
	"tradewire/internal/util"
)

func main() {
	_ = godotenv.Load()

	month := flag.String("month", "", "month to export as YYYY-MM (default: previous month)")
	prune := flag.Bool("prune", false, "delete exported rows from the journal after archiving")
	flag.Parse()

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

	target := time.Now().UTC().AddDate(0, -1, 0)
	if *month != "" {
		target, err = time.Parse("2006-01", *month)
		if err != nil {
			log.Fatalf("parsing -month %q: %v", *month, err)
		}
	}
	year, mon := target.Year(), target.Month()

	store, err := journal.NewStore(cfg.Journal.Path, logger)
	if err != nil {
		log.Fatalf("opening journal store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	path, rows, err := store.ExportMonth(ctx, cfg.Journal.ArchiveDir, year, mon)
	if err != nil {
		log.Fatalf("exporting journal: %v", err)
	}
	if rows == 0 {
		fmt.Printf("no executions recorded in %04d-%02d\n", year, mon)
		return
	}
	fmt.Printf("archived %d executions to %s\n", rows, path)

	if *prune {
		cutoff := time.Date(year, mon, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
		deleted, err := store.DeleteBefore(ctx, cutoff)
		if err != nil {
			log.Fatalf("pruning journal: %v", err)
		}
		fmt.Printf("pruned %d executions before %s\n", deleted, cutoff.Format("2006-01-02"))
	}
}
