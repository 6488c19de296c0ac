package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dreamware/ledgermesh/internal/cluster"
	"github.com/dreamware/ledgermesh/internal/coordinator"
	"github.com/dreamware/ledgermesh/internal/platform/config"
	"github.com/dreamware/ledgermesh/internal/platform/httpserver"
	"github.com/dreamware/ledgermesh/internal/platform/logger"
	"github.com/dreamware/ledgermesh/internal/platform/metrics"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:          "coordinator",
		Short:        "Central node routing balance, transfer and reconciliation requests to worker replicas",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")

	root.AddCommand(&cobra.Command{
		Use:   "start",
		Short: "Start the coordinator HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadCoordinator(cfgFile)
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, log)
		},
	})
	return root
}

// server bundles the coordinator's long-lived parts.
type server struct {
	dir     *coordinator.PartitionDirectory
	channel *cluster.Channel
	health  *coordinator.HealthMonitor
	handler http.Handler
}

func newServer(cfg config.Coordinator, log *zap.Logger, m *metrics.Metrics) (*server, error) {
	dir := coordinator.NewPartitionDirectory(cfg.Partitioning.Prefix, cfg.Partitioning.Count)
	for _, n := range cfg.Nodes {
		if err := dir.Register(n.ID, n.Address, n.Partitions); err != nil {
			return nil, fmt.Errorf("register %s: %w", n.ID, err)
		}
		log.Info("node registered", zap.String("node", n.ID), zap.String("addr", n.Address), zap.Strings("partitions", n.Partitions))
	}
	for key, replicas := range dir.Partitions() {
		if replicas < cfg.Partitioning.MinReplicas {
			log.Warn("partition below replica minimum, transfers will be refused",
				zap.String("partition", key), zap.Int("replicas", replicas), zap.Int("min", cfg.Partitioning.MinReplicas))
		}
	}

	ch := cluster.NewChannel(cluster.ChannelConfig{
		Concurrency:    cfg.Outbound.Concurrency,
		ConnectTimeout: cfg.Outbound.ConnectTimeout,
		CallTimeout:    cfg.Outbound.CallTimeout,
	}, log, m)

	health := coordinator.NewHealthMonitor(ch, cfg.HealthInterval, log)
	health.SetOnUnhealthy(func(nodeID string) {
		fields := []zap.Field{zap.String("node", nodeID)}
		if h := health.GetNodeHealth(nodeID); h != nil {
			fields = append(fields, zap.Int("consecutive_fails", h.ConsecutiveFails), zap.Time("last_healthy", h.LastHealthy))
		}
		log.Warn("replica unhealthy; routing order unchanged", fields...)
	})

	r := httpserver.NewRouter(log, cfg.Server.InboundConcurrency, cfg.Server.BacklogTimeout)
	coordinator.NewAPI(dir, ch, cfg.Partitioning.MinReplicas, health, log, m).Register(r)
	r.Handle("/metrics", m.Handler())

	return &server{dir: dir, channel: ch, health: health, handler: r}, nil
}

func run(ctx context.Context, cfg config.Coordinator, log *zap.Logger) error {
	m := metrics.New(prometheus.NewRegistry())
	s, err := newServer(cfg, log, m)
	if err != nil {
		return err
	}
	s.health.Start(ctx, s.dir.Nodes)

	return httpserver.Run(ctx, httpserver.New(cfg.Server.Addr, s.handler), log, cfg.Server.ShutdownGrace,
		func(context.Context) error {
			s.health.Stop()
			return nil
		},
		s.channel.Close,
	)
}
