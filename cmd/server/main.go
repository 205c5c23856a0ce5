package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/phiaccrual/internal/config"
	"github.com/ryandielhenn/phiaccrual/internal/logging"
	"github.com/ryandielhenn/phiaccrual/internal/telemetry"
	"github.com/ryandielhenn/phiaccrual/pkg/gossip"
	"github.com/ryandielhenn/phiaccrual/pkg/node"
	"github.com/ryandielhenn/phiaccrual/pkg/registry"
	"github.com/ryandielhenn/phiaccrual/pkg/ring"
)

var (
	version = "dev"
	gitSHA  = "unknown"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to YAML config (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, *configPath, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, configPath string, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	telemetry.SetBuildInfo(version, gitSHA)

	// 1. Failure detector and membership for this node
	fd, err := gossip.NewPhiFailureDetector(cfg.Detector.Phi())
	if err != nil {
		return err
	}
	self := gossip.Member{ID: gossip.NodeID(cfg.Node.ID), Addr: cfg.Node.Addr, LastUpdate: time.Now()}
	members, err := gossip.NewMembers(self, fd, cfg.Membership.Thresholds, log)
	if err != nil {
		return err
	}
	n := node.NewNode(members, fd, ring.New(128, ring.FNV32a), cfg.Probe.Replicas, log)

	// 2. Create etcd client
	log.Info("creating etcd client", zap.Strings("endpoints", cfg.Etcd.Endpoints))
	cli, err := registry.NewClient(cfg.Etcd.Endpoints, cfg.Etcd.DialTimeout)
	if err != nil {
		return fmt.Errorf("etcd client: %w", err)
	}
	defer cli.Close()

	// 3. Register this node
	leaseID, cancelLease, err := registry.RegisterNode(ctx, cli, log, cfg.Etcd.Prefix, cfg.Node.ID, cfg.Node.Addr, cfg.Etcd.LeaseTTL)
	if err != nil {
		return err
	}
	defer func() {
		cancelLease()
		revokeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = cli.Revoke(revokeCtx, leaseID)
	}()
	log.Info("registered", zap.String("id", cfg.Node.ID), zap.String("addr", cfg.Node.Addr))

	// 4. Bootstrap and follow peers
	err = registry.WatchPeers(ctx, cli, log, cfg.Etcd.Prefix, func(peers map[string]string) {
		log.Info("peer set changed", zap.Int("peers", len(peers)))
		n.SetPeers(peers)
	})
	if err != nil {
		return err
	}

	// 5. Background loops: evaluation, active probes, config reload
	go n.Run(ctx, cfg.Membership.EvaluateInterval)
	if cfg.Probe.Enabled {
		go node.NewProber(n, cfg.Probe.Interval, cfg.Probe.Timeout, cfg.Probe.Path).Run(ctx)
	}
	if configPath != "" {
		go func() {
			err := config.Watch(ctx, configPath, log, func(c *config.Config) {
				if err := members.SetThresholds(c.Membership.Thresholds); err != nil {
					log.Warn("thresholds not applied", zap.Error(err))
				}
			})
			if err != nil {
				log.Error("config watch stopped", zap.Error(err))
			}
		}()
	}

	// 6. HTTP endpoints
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", n.Healthz)
	mux.Handle("/metrics", telemetry.MetricsHandler())
	mux.Handle("/info", telemetry.Instrument("info", http.HandlerFunc(n.Info)))
	mux.Handle("/heartbeat/", telemetry.Instrument("heartbeat", http.HandlerFunc(n.Heartbeat)))
	mux.Handle("/peers", telemetry.Instrument("peers", http.HandlerFunc(n.Peers)))
	mux.Handle("/peers/", telemetry.Instrument("peer", http.HandlerFunc(n.Peers)))

	srv := &http.Server{Addr: cfg.Node.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		log.Info("phiaccrual node listening", zap.String("addr", cfg.Node.Listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
