package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dreamware/ledgermesh/internal/ledger"
	"github.com/dreamware/ledgermesh/internal/node"
	"github.com/dreamware/ledgermesh/internal/platform/config"
	"github.com/dreamware/ledgermesh/internal/platform/httpserver"
	"github.com/dreamware/ledgermesh/internal/platform/logger"
	"github.com/dreamware/ledgermesh/internal/platform/metrics"
)

const dbWaitLimit = 30 * time.Second

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:          "node",
		Short:        "Worker node holding a replica of one or more ledger partitions",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")

	root.AddCommand(&cobra.Command{
		Use:   "start",
		Short: "Start the worker HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadNode(cfgFile)
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}
			log = log.With(zap.String("node", cfg.ID))
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, log)
		},
	})
	return root
}

func run(ctx context.Context, cfg config.Node, log *zap.Logger) error {
	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}

	handler, err := newHandler(ctx, cfg, store, log, metrics.New(prometheus.NewRegistry()))
	if err != nil {
		_ = closeStore(ctx)
		return err
	}

	log.Info("worker ready", zap.String("addr", cfg.Server.Addr), zap.String("driver", cfg.Ledger.Driver))
	return httpserver.Run(ctx, httpserver.New(cfg.Server.Addr, handler), log, cfg.Server.ShutdownGrace, closeStore)
}

// newHandler wires the ledger engine behind the worker routes and checks that
// the store answers before the listener opens.
func newHandler(ctx context.Context, cfg config.Node, store ledger.Store, log *zap.Logger, m *metrics.Metrics) (http.Handler, error) {
	n := node.New(ledger.NewEngine(cfg.ID, store, log, m), log)
	if err := n.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ledger not reachable: %w", err)
	}

	r := httpserver.NewRouter(log, cfg.Server.InboundConcurrency, cfg.Server.BacklogTimeout)
	n.Register(r)
	r.Handle("/metrics", m.Handler())
	return r, nil
}

// openStore builds the configured ledger store and returns the drain that
// releases it.
func openStore(ctx context.Context, cfg config.Node, log *zap.Logger) (ledger.Store, httpserver.Drainer, error) {
	seed, err := parseSeed(cfg.Ledger.Seed)
	if err != nil {
		return nil, nil, err
	}

	switch cfg.Ledger.Driver {
	case "memory":
		return ledger.NewMemoryStore(seed), func(context.Context) error { return nil }, nil
	case "postgres":
	default:
		return nil, nil, fmt.Errorf("unknown ledger driver %q", cfg.Ledger.Driver)
	}

	db, err := ledger.OpenPostgres(cfg.Database.DSN(), cfg.Database.MaxOpenConns)
	if err != nil {
		return nil, nil, err
	}
	closeDB := func(context.Context) error { return db.Close() }

	if err := ledger.WaitForDatabase(ctx, db, log, dbWaitLimit); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("database %s:%d unreachable: %w", cfg.Database.Host, cfg.Database.Port, err)
	}

	store := ledger.NewPostgresStore(db)
	if cfg.Ledger.EnsureSchema {
		if err := store.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
	}
	if len(seed) > 0 {
		if err := store.Seed(ctx, seed); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
	}
	return store, closeDB, nil
}

func parseSeed(raw map[string]string) (map[string]decimal.Decimal, error) {
	seed := make(map[string]decimal.Decimal, len(raw))
	for id, s := range raw {
		amount, err := decimal.NewFromString(s)
		if err != nil {
			return nil, fmt.Errorf("seed balance for %s: %w", id, err)
		}
		if amount.IsNegative() {
			return nil, fmt.Errorf("seed balance for %s is negative", id)
		}
		seed[id] = amount
	}
	return seed, nil
}
