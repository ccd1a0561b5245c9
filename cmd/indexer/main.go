package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brc20/indexer/internal/brc20/processor"
	"github.com/brc20/indexer/internal/brc20/registry"
	"github.com/brc20/indexer/internal/config"
	"github.com/brc20/indexer/internal/indexer"
	"github.com/brc20/indexer/internal/indexer/reorg"
	"github.com/brc20/indexer/internal/logging"
	"github.com/brc20/indexer/internal/rpcclient"
	"github.com/brc20/indexer/internal/store/sqlite"
	"github.com/brc20/indexer/internal/utxo"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		if err := runIndexer(os.Args[2:]); err != nil {
			slog.Error("indexer error", "error", err)
			os.Exit(1)
		}
	case "version":
		fmt.Printf("brc20-indexer %s\n", version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: brc20-indexer <command> [flags]

Commands:
  run        Start indexing blocks
  version    Print version information

Flags for run:
  --max-blocks N    Stop after processing N blocks (default: unlimited)
  --continuous      Keep polling for new blocks after catching up to the tip
  --indexer-only    Run only the indexer (this binary has no API server, so
                    this is always the case)
`)
}

func runIndexer(args []string) error {
	var maxBlocks int64
	continuous := false

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--max-blocks":
			if i+1 >= len(args) {
				return fmt.Errorf("--max-blocks requires a value")
			}
			i++
			if _, err := fmt.Sscanf(args[i], "%d", &maxBlocks); err != nil {
				return fmt.Errorf("invalid --max-blocks value %q: %w", args[i], err)
			}
		case "--continuous":
			continuous = true
		case "--indexer-only":
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logCloser, err := logging.Setup(cfg.LogLevel, cfg.LogDir)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer logCloser.Close()

	slog.Info("starting brc20 indexer",
		"version", version,
		"rpc_url", cfg.RPCURL,
		"db_path", cfg.DBPath,
		"start_block_height", cfg.StartBlockHeight,
		"continuous", continuous,
		"max_blocks", maxBlocks,
	)

	st, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer st.Close()

	slog.Info("database opened and migrated", "path", cfg.DBPath)

	rpc := rpcclient.New(cfg.RPCURL, cfg.RPCUser, cfg.RPCPass, cfg.MaxRetries,
		time.Duration(cfg.HealthCheckIntervalSeconds)*time.Second)

	resolver, err := utxo.New(rpc, cfg.UTXOCacheSize, true)
	if err != nil {
		return fmt.Errorf("failed to create UTXO resolver: %w", err)
	}

	reg := registry.New()
	proc := processor.New(reg, resolver, indexer.NewValidatorStore(st), cfg.MintPositionHeight, cfg.MarketplaceCutoffHeight)
	reorgHandler := reorg.New(rpc, st, cfg.StartBlockHeight, cfg.MaxReorgDepth)

	ix := indexer.New(rpc, st, proc, reorgHandler, cfg.StartBlockHeight, cfg.MaxReorgDepth, cfg.StopOnError, cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	startHeight, err := ix.DetermineStartHeight(ctx)
	if err != nil {
		return fmt.Errorf("failed to determine start height: %w", err)
	}

	slog.Info("resuming indexation", "start_height", startHeight, "config_start", cfg.StartBlockHeight)

	if err := ix.Run(ctx, startHeight, maxBlocks, continuous); err != nil {
		if ctx.Err() != nil {
			slog.Info("indexing interrupted by signal")
			return nil
		}
		return fmt.Errorf("indexing failed: %w", err)
	}

	return nil
}
