// Command rebuild replays the whole ledger into the stock_ledger table
// once and reports processed against expected record counts. It exits 1
// when the replay aborts, so the caller can retry.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"

	"go.uber.org/zap"

	"github.com/warp/trade-ledger/config"
	"github.com/warp/trade-ledger/generic"
	"github.com/warp/trade-ledger/ledger"
	"github.com/warp/trade-ledger/logging"
	"github.com/warp/trade-ledger/store"
	"github.com/warp/trade-ledger/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	refreshStock := flag.Bool("refresh-stock", true, "Refresh the stock cache after a successful rebuild")
	verbose := flag.Bool("v", false, "Print per-product balances")
	flag.Parse()
	cfg.DBPath = *dbPath

	logger, err := logging.New(logging.Config{
		Level:       cfg.LogLevel,
		Format:      "console",
		Service:     "trade-ledger-rebuild",
		Environment: cfg.Environment,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	os.Exit(run(cfg, logger, *refreshStock, *verbose))
}

func run(cfg config.Config, logger *zap.Logger, refreshStock, verbose bool) int {
	ctx := context.Background()

	db, err := sqlite.New(cfg.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "database: %v\n", err)
		return 1
	}
	defer db.Close()

	// Every backend's slot lives outside this process (job_locks in the
	// shared database, or Redis), so a server rebuild on the same data
	// makes this run fail with a conflict instead of interleaving.
	backend, err := store.Open(ctx, cfg, db, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cache backend: %v\n", err)
		return 1
	}
	defer backend.Close()

	engine := ledger.NewEngine(ledger.Config{
		Query:    db,
		Registry: db,
		Writer:   db,
		Cache:    backend.Cache,
		Locker:   backend.Locker,
		Logger:   logger,
	})

	fmt.Printf("Rebuilding stock ledger from %s\n", cfg.DBPath)
	res, err := engine.RebuildStockLedger(ctx)
	if aborted, ok := ledger.IsRebuildAborted(err); ok {
		fmt.Fprintf(os.Stderr, "rebuild aborted: %d of %d records written: %v\n",
			aborted.Processed, aborted.Expected, aborted.Err)
		return 1
	}
	if generic.IsConflict(err) {
		fmt.Fprintln(os.Stderr, "rebuild already running in another process, try again later")
		return 1
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "rebuild failed: %v\n", err)
		return 1
	}

	fmt.Printf("Processed %d of %d records for %d products (job %s)\n",
		res.RecordsProcessed, res.Expected, len(res.Balances), res.JobID)

	if verbose {
		models := make([]string, 0, len(res.Balances))
		for m := range res.Balances {
			models = append(models, m)
		}
		sort.Strings(models)
		for _, m := range models {
			fmt.Printf("  %-30s %s\n", m, res.Balances[m].String())
		}
	}

	if refreshStock {
		refreshed, err := engine.RefreshStock(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "stock cache refresh failed: %v\n", err)
			return 1
		}
		fmt.Printf("Stock cache refreshed: %d products\n", refreshed.ProductsCount)
	}
	return 0
}
