// Command cache-node runs one node of the MESI-coherent cache mesh: a
// cache.Cache backed by the external key-value store as main memory,
// broadcasting invalidations to its peers, and serving the /cache HTTP
// surface spec.md §6 describes.
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

	"github.com/dionp3/distributed-sync-system/cache"
	"github.com/dionp3/distributed-sync-system/config"
	"github.com/dionp3/distributed-sync-system/kvstore"
	"github.com/dionp3/distributed-sync-system/logctx"
	"github.com/dionp3/distributed-sync-system/metrics"
	"github.com/dionp3/distributed-sync-system/transport"
)

var logger *logging.Logger

func init() {
	logger = logctx.New("cmd/cache-node")
}

func main() {
	root := &cobra.Command{
		Use:   "cache-node",
		Short: "Runs one node of the MESI-coherent cache mesh",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}
	if err := root.Execute(); err != nil {
		logger.Fatalf("cache-node: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("cache-node: config: %w", err)
	}
	if cfg.NodeType != config.NodeTypeCache {
		return fmt.Errorf("cache-node: NODE_TYPE must be %q, got %q", config.NodeTypeCache, cfg.NodeType)
	}

	store := kvstore.NewRedisFromHost(cfg.RedisHost)
	client := transport.NewClient(cfg.CachePeers)
	c := cache.New(cfg.NodeID, cfg.CacheMaxSize, store, client)

	registry := metrics.NewRegistry(prometheus.DefaultRegisterer)
	server := transport.NewServer(nil, nil, nil, c)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return observeLoop(gctx, func() { registry.ObserveCache(c.GetMetrics()) })
	})
	group.Go(func() error {
		return serveHTTP(gctx, cfg.Port, server.Router)
	})

	logger.Infof("cache-node %s listening on :%d, capacity=%d", cfg.NodeID, cfg.Port, cfg.CacheMaxSize)

	<-gctx.Done()
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
