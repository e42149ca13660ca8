package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ser94mor/cloudtiering/internal/config"
	"github.com/ser94mor/cloudtiering/internal/interpose"
	"github.com/ser94mor/cloudtiering/internal/logging"
	"github.com/ser94mor/cloudtiering/internal/metrics"
	"github.com/ser94mor/cloudtiering/internal/migrator"
	"github.com/ser94mor/cloudtiering/internal/objectstore/s3"
	"github.com/ser94mor/cloudtiering/internal/queueio"
	"github.com/ser94mor/cloudtiering/internal/repair"
	"github.com/ser94mor/cloudtiering/internal/scanner"
	"github.com/ser94mor/cloudtiering/internal/supervisor"
	"github.com/ser94mor/cloudtiering/internal/worker"
)

var (
	logLevel    string
	logFile     string
	metricsAddr string
	joinTimeout time.Duration
	skipRepair  bool
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cloudtiering <config-path>",
		Short: "Demote cold files to object storage and promote them back on access",
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.ExactArgs(1)(cmd, args); err != nil {
				cmd.PrintErrln("Usage: " + cmd.UseLine())
				return err
			}
			return nil
		},
		SilenceUsage: true,
		RunE:         runDaemon,
	}

	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	cmd.Flags().StringVar(&logFile, "log-file", "", "path to a rotating log file (default: stderr)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "if set, port or host:port to serve /metrics on (the host part is ignored; the listener binds all interfaces)")
	cmd.Flags().DurationVar(&joinTimeout, "join-timeout", 30*time.Second, "how long to wait for tasks to exit on shutdown before reporting them wedged")
	cmd.Flags().BoolVar(&skipRepair, "skip-repair", false, "skip the startup crash-recovery repair pass")

	return cmd
}

func runDaemon(cmd *cobra.Command, args []string) error {
	configPath := args[0]

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, logCloser, err := logging.New(logging.Config{
		Level:      logLevel,
		FilePath:   logFile,
		MaxSizeMB:  100,
		MaxAgeDays: 28,
		MaxBackups: 7,
		Compress:   true,
	})
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logCloser.Close()

	port := metricsPort(metricsAddr)
	collector, err := metrics.NewCollector(metrics.Config{
		Enabled: port != 0,
		Port:    port,
	})
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := collector.Start(ctx); err != nil {
		return fmt.Errorf("start metrics listener: %w", err)
	}

	store := s3.New(s3.Config{
		Endpoint:        cfg.S3Endpoint,
		Bucket:          cfg.S3Bucket,
		AccessKeyID:     cfg.S3AccessKey,
		SecretAccessKey: cfg.S3SecretKey,
		UseHTTPS:        cfg.TransferProtocol == "https",
		Retries:         cfg.S3Retries,
	}, logger)
	if err := store.Connect(ctx); err != nil {
		return fmt.Errorf("connect to object store: %w", err)
	}
	defer store.Disconnect(context.Background())

	demotePrimary, err := queueio.New(queueio.Config{Capacity: cfg.PrimaryDemoteQSize, RecordMax: cfg.PathMax})
	if err != nil {
		return fmt.Errorf("create primary demotion queue: %w", err)
	}
	defer demotePrimary.Destroy()

	demoteSecondary, err := queueio.New(queueio.Config{Capacity: cfg.SecondaryDemoteQSize, RecordMax: cfg.PathMax})
	if err != nil {
		return fmt.Errorf("create secondary demotion queue: %w", err)
	}
	defer demoteSecondary.Destroy()

	promotePrimary, err := queueio.New(queueio.Config{Capacity: cfg.PrimaryPromoteQSize, RecordMax: cfg.PathMax})
	if err != nil {
		return fmt.Errorf("create primary promotion queue: %w", err)
	}
	defer promotePrimary.Destroy()

	promoteSecondary, err := queueio.New(queueio.Config{
		Capacity:   cfg.SecondaryPromoteQSize,
		RecordMax:  cfg.PathMax,
		SharedName: cfg.PromoteShmName,
	})
	if err != nil {
		return fmt.Errorf("create secondary promotion queue: %w", err)
	}
	defer promoteSecondary.Destroy()

	// QueueTrigger is the producer shape an out-of-process interposition
	// layer uses against the secondary promotion queue the promotion
	// worker drains; such a layer reaches that queue by attaching to its
	// shared segment when PromoteShmName is set. The trigger built here is
	// not used, and nothing in this process pushes to the primary
	// promotion tier.
	_ = interpose.NewQueueTrigger(promoteSecondary)

	m := migrator.New(store, logger)

	sc, err := scanner.New(scanner.Config{
		MountPoint:      cfg.FsMountPoint,
		ScanInterval:    time.Duration(cfg.ScanIntervalSec) * time.Second,
		EvictionAge:     time.Duration(cfg.EvictionAgeSec) * time.Second,
		MaxScanFailures: 1000,
		StartRate:       cfg.DemoteStartRate,
		StopRate:        cfg.DemoteStopRate,
	}, demotePrimary, logger)
	if err != nil {
		return fmt.Errorf("create scanner: %w", err)
	}

	if !skipRepair {
		r := repair.New(repair.Config{StaleAfter: time.Hour}, logger)
		if err := r.Walk(ctx, cfg.FsMountPoint); err != nil {
			return fmt.Errorf("startup repair: %w", err)
		}
	}

	demoteWorker := worker.New("demote", worker.Demotion, demotePrimary, demoteSecondary, m, collector, logger)
	promoteWorker := worker.New("promote", worker.Promotion, promotePrimary, promoteSecondary, m, collector, logger)

	sup := supervisor.New(supervisor.Config{JoinTimeout: joinTimeout}, logger,
		supervisor.Task{Name: "scanner", Run: sc.Run},
		supervisor.Task{Name: "demote-worker", Run: demoteWorker.Run},
		supervisor.Task{Name: "promote-worker", Run: promoteWorker.Run},
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()
	defer signal.Stop(sigCh)

	logger.Info("cloudtiering started", "mount", cfg.FsMountPoint, "bucket", cfg.S3Bucket)
	if err := sup.Run(ctx); err != nil {
		return fmt.Errorf("supervisor: %w", err)
	}
	return nil
}

// metricsPort extracts the numeric port from a "host:port" or bare
// "port" flag value; an unparsable value disables the metrics listener.
func metricsPort(addr string) int {
	if addr == "" {
		return 0
	}
	portStr := addr
	if _, p, err := net.SplitHostPort(addr); err == nil {
		portStr = p
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0
	}
	return port
}
