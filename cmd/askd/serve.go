package main

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	askhttp "github.com/fyrsmithlabs/askd/internal/http"
	"github.com/fyrsmithlabs/askd/internal/mcp"
	"github.com/fyrsmithlabs/askd/internal/notify"
	"github.com/fyrsmithlabs/askd/internal/orchestrator"
	"github.com/fyrsmithlabs/askd/internal/permission"
	"github.com/fyrsmithlabs/askd/internal/snapshot"
	"github.com/fyrsmithlabs/askd/internal/workflows"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, approval worker and retention purge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

// runServe starts every long-running component and blocks until ctx is
// cancelled or one of them fails.
func runServe(ctx context.Context) error {
	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.cfg
	logger := a.logger

	pipeline, evaluator, err := a.pipeline()
	if err != nil {
		return err
	}

	store, err := openSnapshots(ctx, a)
	if err != nil {
		return err
	}

	var (
		opts      []orchestrator.Option
		publisher *notify.Publisher
		temporal  client.Client
	)

	if cfg.NATS.Enabled {
		nc, err := nats.Connect(cfg.NATS.URL,
			nats.Name("askd"),
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(time.Second),
		)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
		}
		defer nc.Close()

		publisher, err = notify.NewPublisher(nc, cfg.NATS.SubjectPrefix, logger)
		if err != nil {
			return err
		}
		opts = append(opts, orchestrator.WithObserver(publisher))
		logger.Info(ctx, "connected to NATS", zap.String("url", cfg.NATS.URL))
	}

	if cfg.Temporal.Enabled {
		temporal, err = client.Dial(client.Options{
			HostPort:  cfg.Temporal.HostPort,
			Namespace: cfg.Temporal.Namespace,
		})
		if err != nil {
			return fmt.Errorf("unable to create Temporal client: %w", err)
		}
		defer temporal.Close()

		starter, err := workflows.NewStarter(temporal, workflows.StarterConfig{
			TaskQueue:       cfg.Temporal.TaskQueue,
			ApprovalTimeout: cfg.Temporal.ApprovalTimeout.Duration(),
		}, logger)
		if err != nil {
			return err
		}
		opts = append(opts, orchestrator.WithObserver(starter))
		logger.Info(ctx, "temporal client connected", zap.String("host", cfg.Temporal.HostPort))
	}

	orch, err := orchestrator.New(orchestratorConfig(cfg), pipeline, store, logger, opts...)
	if err != nil {
		return err
	}

	var serverOpts []askhttp.Option
	if publisher != nil {
		serverOpts = append(serverOpts, askhttp.WithEventSource(eventSource(publisher)))
	}
	if cfg.Server.MCPEnabled {
		mcpServer, err := mcp.NewServer(&mcp.Config{Name: "askd", Version: version}, orch, logger)
		if err != nil {
			return err
		}
		serverOpts = append(serverOpts, askhttp.WithMCP(mcpServer.HTTPHandler()))
	}

	srv, err := askhttp.NewServer(orch, logger, &askhttp.Config{
		Host:      cfg.Server.Host,
		Port:      cfg.Server.Port,
		Heartbeat: 30 * time.Second,
	}, serverOpts...)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info(gctx, "HTTP server listening",
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
			zap.Bool("mcp", cfg.Server.MCPEnabled))
		return srv.Start()
	})

	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		logger.Info(sctx, "shutting down HTTP server")
		return srv.Shutdown(sctx)
	})

	g.Go(func() error {
		return orch.PurgeLoop(gctx, cfg.Orchestrator.PurgeInterval.Duration())
	})

	if cfg.Permission.Watch && cfg.Permission.PolicyFile != "" {
		g.Go(func() error {
			return permission.Watch(gctx, cfg.Permission.PolicyFile, evaluator, logger)
		})
	}

	if temporal != nil {
		w := worker.New(temporal, cfg.Temporal.TaskQueue, worker.Options{})
		workflows.Register(w, &workflows.Activities{Resumer: orch})
		g.Go(func() error {
			if err := w.Start(); err != nil {
				return fmt.Errorf("worker error: %w", err)
			}
			logger.Info(gctx, "approval worker started", zap.String("task_queue", cfg.Temporal.TaskQueue))
			<-gctx.Done()
			w.Stop()
			logger.Info(context.Background(), "approval worker stopped")
			return nil
		})
	}

	err = g.Wait()
	logger.Info(context.Background(), "server shutdown complete")
	return err
}

// openSnapshots opens the configured snapshot store and registers it for
// closing.
func openSnapshots(ctx context.Context, a *app) (snapshot.Store, error) {
	if a.cfg.Snapshot.Provider != "sqlite" {
		s := snapshot.NewMemoryStore()
		a.closers = append(a.closers, s.Close)
		return s, nil
	}
	s, err := snapshot.OpenSQLite(ctx, a.cfg.Snapshot.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot store: %w", err)
	}
	a.closers = append(a.closers, s.Close)
	return s, nil
}

// eventSource exposes NATS watchers as HTTP event streams.
func eventSource(p *notify.Publisher) askhttp.EventSource {
	return askhttp.EventSourceFunc(func(conversationID string) (askhttp.EventStream, error) {
		w, err := p.Watch(conversationID)
		if err != nil {
			return nil, err
		}
		return w, nil
	})
}
