package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/draftloop/cache"
	"github.com/c360studio/draftloop/citation"
	"github.com/c360studio/draftloop/config"
	"github.com/c360studio/draftloop/events"
	"github.com/c360studio/draftloop/ingest"
	"github.com/c360studio/draftloop/llm"
	"github.com/c360studio/draftloop/metrics"
	"github.com/c360studio/draftloop/queue"
	"github.com/c360studio/draftloop/readability"
	"github.com/c360studio/draftloop/server"
	"github.com/c360studio/draftloop/storage"
	"github.com/c360studio/draftloop/workflow"
)

// app owns every wired component and their shutdown order.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	nc         *nats.Conn
	cache      *cache.Cache
	bus        *events.Bus
	engine     *workflow.Engine
	dispatcher *queue.Dispatcher
	jsRunner   *queue.JetStreamRunner
	srv        *server.Server
	watcher    *config.Watcher
}

// newApp wires the service from configuration. An empty NATS URL selects
// the in-process queue and store; an empty Redis URL selects the
// in-process cache backend. The LLM gateway serves mock content until a
// provider API key is present.
func newApp(ctx context.Context, cfg *config.Config, configPath string, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	m := metrics.New()

	// Cache
	var backend cache.Backend
	if cfg.Redis.URL != "" {
		backend = cache.Open(ctx, cfg.Redis.URL, cfg.Redis.DialTimeout, logger)
	} else {
		backend = cache.NewMemory()
	}
	a.cache = cache.New(backend, cfg.Cache.Prefix, logger)
	a.cache.OnLookup(m.CountCacheRequest)

	// Storage and queue backends
	var (
		store        workflow.Store
		js           jetstream.JetStream
		storeBackend = "memory"
		queueBackend = "inproc"
	)
	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL,
			nats.MaxReconnects(cfg.NATS.MaxReconnects),
			nats.ReconnectWait(cfg.NATS.ReconnectWait),
			nats.Name("draftloop"))
		if err != nil {
			return nil, fmt.Errorf("connect to NATS: %w", err)
		}
		a.nc = nc

		js, err = jetstream.New(nc)
		if err != nil {
			return nil, fmt.Errorf("create JetStream context: %w", err)
		}
		store, err = storage.NewKVStore(ctx, js)
		if err != nil {
			return nil, fmt.Errorf("create KV store: %w", err)
		}
		storeBackend = "jetstream"
		queueBackend = "jetstream"
	} else {
		store = storage.NewMemoryStore()
	}

	// LLM gateway
	registry := llm.NewRegistry(cfg.LLM)
	client := llm.NewClient(registry,
		llm.WithLogger(logger),
		llm.WithHTTPClient(&http.Client{Timeout: cfg.LLM.Timeout}))
	gateway := llm.NewGateway(client, registry, cfg.LLM.Temperature, cfg.LLM.MaxTokens, logger,
		llm.WithCache(a.cache),
		llm.WithTokenHook(m.CountTokens))

	// Citations
	crossref := citation.NewClient(cfg.CrossRef.BaseURL, cfg.CrossRef.Mailto, cfg.CrossRef.Timeout, logger,
		citation.WithCache(a.cache))
	validator := citation.NewValidator(crossref, logger)

	analyzer := readability.New(logger)

	a.bus = events.NewBus(logger, events.WithCountHook(m.SetEventSubscribers))

	a.engine = workflow.NewEngine(store, gateway, validator, analyzer, a.bus,
		defaultsFromConfig(cfg.Workflow), logger,
		workflow.WithCache(a.cache),
		workflow.WithHooks(workflow.Hooks{
			StageDuration: func(stage workflow.NodeType, d time.Duration) {
				m.ObserveStageDuration(string(stage), d)
			},
			GateFailure: func(stage workflow.NodeType) {
				m.CountGateFailure(string(stage))
			},
			WorkflowCompleted: m.CountWorkflowCompleted,
		}))

	// Task runner
	queueOpts := queue.Options{
		RetryLimit:  cfg.Workflow.InfraRetryLimit,
		BackoffBase: cfg.Workflow.InfraBackoffBase,
		BackoffCap:  cfg.Workflow.InfraBackoffCap,
		OnExhausted: a.engine.TaskExhausted,
	}
	if js != nil {
		runner, err := queue.NewJetStreamRunner(ctx, js, cfg.NATS.Stream, a.engine, queueOpts, logger)
		if err != nil {
			return nil, fmt.Errorf("create task runner: %w", err)
		}
		a.jsRunner = runner
		a.engine.SetRunner(runner)
	} else {
		a.dispatcher = queue.NewDispatcher(a.engine, queueOpts, logger)
		a.engine.SetRunner(a.dispatcher)
	}

	importer := ingest.NewImporter(30*time.Second, "draftloop/"+Version, logger)

	a.srv = server.New(cfg.Server, server.Deps{
		Engine:         a.engine,
		Store:          store,
		Bus:            a.bus,
		Citations:      crossref,
		Importer:       importer,
		Cache:          a.cache,
		MetricsHandler: m.Handler(),
		LLMConfigured:  gateway.Configured(),
		QueueBackend:   queueBackend,
		StoreBackend:   storeBackend,
	}, logger)

	// Live reload of gate thresholds. Only worth watching when a file is
	// actually in play.
	watchPath := configPath
	if watchPath == "" {
		if _, err := os.Stat(config.DefaultPath); err == nil {
			watchPath = config.DefaultPath
		}
	}
	if watchPath != "" {
		watcher, err := config.NewWatcher(watchPath, func(updated *config.Config) {
			a.engine.SetDefaults(defaultsFromConfig(updated.Workflow))
		}, logger)
		if err != nil {
			logger.Warn("config watcher unavailable", "error", err)
		} else {
			a.watcher = watcher
		}
	}

	logger.Info("draftloop wired",
		"store", storeBackend,
		"queue", queueBackend,
		"cache", backend.Name(),
		"llm_configured", gateway.Configured())
	return a, nil
}

// run serves until the context is cancelled, then shuts down in reverse
// dependency order.
func (a *app) run(ctx context.Context) error {
	if a.watcher != nil {
		if err := a.watcher.Start(ctx); err != nil {
			a.logger.Warn("config watcher failed to start", "error", err)
		}
	}

	if a.jsRunner != nil {
		go func() {
			if err := a.jsRunner.Consume(ctx); err != nil {
				a.logger.Error("task consumer stopped", "error", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			a.shutdown()
			return err
		}
	}

	a.shutdown()
	return nil
}

func (a *app) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := a.srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown failed", "error", err)
	}
	if a.watcher != nil {
		_ = a.watcher.Stop()
	}
	if a.dispatcher != nil {
		a.dispatcher.Close()
	}
	a.bus.Close()
	if err := a.cache.Close(); err != nil {
		a.logger.Warn("cache close failed", "error", err)
	}
	if a.nc != nil {
		if err := a.nc.Drain(); err != nil {
			a.logger.Warn("NATS drain failed", "error", err)
		}
	}
	a.logger.Info("shutdown complete")
}

func defaultsFromConfig(w config.WorkflowConfig) workflow.Defaults {
	return workflow.Defaults{
		ReadabilityThreshold: w.ReadabilityThreshold,
		MaxRetries:           w.MaxRetries,
		GrammarErrorLimit:    w.GrammarErrorLimit,
		CitationMinRate:      w.CitationMinRate,
		TimeoutSeconds:       int(w.StageTimeout.Seconds()),
		WritingMode:          w.WritingMode,
		TargetWordCount:      w.TargetWordCount,
	}
}
