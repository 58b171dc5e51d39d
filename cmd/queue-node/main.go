// Command queue-node runs one shard of the distributed queue: a
// queue.Node consulting a shared consistent-hash ring, its redelivery
// monitor, and the /queue HTTP surface spec.md §6 describes.
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
	"github.com/dionp3/distributed-sync-system/kvstore"
	"github.com/dionp3/distributed-sync-system/logctx"
	"github.com/dionp3/distributed-sync-system/metrics"
	"github.com/dionp3/distributed-sync-system/queue"
	"github.com/dionp3/distributed-sync-system/ring"
	"github.com/dionp3/distributed-sync-system/transport"
)

var logger *logging.Logger

func init() {
	logger = logctx.New("cmd/queue-node")
}

func main() {
	root := &cobra.Command{
		Use:   "queue-node",
		Short: "Runs one shard of the distributed persistent queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}
	if err := root.Execute(); err != nil {
		logger.Fatalf("queue-node: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("queue-node: config: %w", err)
	}
	if cfg.NodeType != config.NodeTypeQueue {
		return fmt.Errorf("queue-node: NODE_TYPE must be %q, got %q", config.NodeTypeQueue, cfg.NodeType)
	}

	store := kvstore.NewRedisFromHost(cfg.RedisHost)
	r := ring.New(cfg.QueueNodes...)
	node := queue.New(cfg.NodeID, r, store)
	monitor := queue.NewMonitor(node)

	registry := metrics.NewRegistry(prometheus.DefaultRegisterer)
	server := transport.NewServer(nil, nil, node, nil)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		monitor.Run()
		return nil
	})
	group.Go(func() error {
		return observeLoop(gctx, func() { registry.ObserveQueueStatus(cfg.NodeID, "ready") })
	})
	group.Go(func() error {
		return serveHTTP(gctx, cfg.Port, server.Router)
	})

	logger.Infof("queue-node %s listening on :%d, ring=%v", cfg.NodeID, cfg.Port, cfg.QueueNodes)

	<-gctx.Done()
	monitor.Stop()
	return group.Wait()
}

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
