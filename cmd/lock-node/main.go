// Command lock-node runs one replica of the lock cluster: a raft.Node
// driving a lockmanager.Manager state machine, its deadlock monitor,
// and the /raft and /lock HTTP surfaces spec.md §6 describes.
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
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	logging "github.com/op/go-logging"

	"github.com/dionp3/distributed-sync-system/config"
	"github.com/dionp3/distributed-sync-system/lockmanager"
	"github.com/dionp3/distributed-sync-system/logctx"
	"github.com/dionp3/distributed-sync-system/metrics"
	"github.com/dionp3/distributed-sync-system/raft"
	"github.com/dionp3/distributed-sync-system/transport"
)

var logger *logging.Logger

func init() {
	logger = logctx.New("cmd/lock-node")
}

func main() {
	root := &cobra.Command{
		Use:   "lock-node",
		Short: "Runs one replica of the distributed lock cluster",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}
	if err := root.Execute(); err != nil {
		logger.Fatalf("lock-node: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("lock-node: config: %w", err)
	}
	if cfg.NodeType != config.NodeTypeLock {
		return fmt.Errorf("lock-node: NODE_TYPE must be %q, got %q", config.NodeTypeLock, cfg.NodeType)
	}

	peerIDs := make([]string, 0, len(cfg.RaftPeers))
	for id := range cfg.RaftPeers {
		if id != cfg.NodeID {
			peerIDs = append(peerIDs, id)
		}
	}

	client := transport.NewClient(cfg.RaftPeers)
	node := raft.New(cfg.NodeID, peerIDs, client)
	locks := lockmanager.New(node)
	node.Bind(locks)
	monitor := lockmanager.NewMonitor(locks, 0)

	registry := metrics.NewRegistry(prometheus.DefaultRegisterer)
	server := transport.NewServer(node, locks, nil, nil)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		node.Run()
		return nil
	})
	group.Go(func() error {
		monitor.Run()
		return nil
	})
	group.Go(func() error {
		return observeLoop(gctx, func() { registry.ObserveRaft(node.GetStatus()) })
	})
	group.Go(func() error {
		return serveHTTP(gctx, cfg.Port, server.Router)
	})

	logger.Infof("lock-node %s listening on :%d, peers=%v", cfg.NodeID, cfg.Port, peerIDs)

	<-gctx.Done()
	node.Stop()
	monitor.Stop()
	return group.Wait()
}

// observeLoop periodically calls fn to refresh /metrics gauges from
// live engine state, until ctx is canceled.
func observeLoop(ctx context.Context, fn func()) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn()
		}
	}
}

// serveHTTP runs an http.Server bound to port until ctx is canceled,
// then shuts it down gracefully.
func serveHTTP(ctx context.Context, port int, handler http.Handler) error {
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: handler}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}
