// Package querychat provides a high-level façade over the agent loop and its
// services (conversation memory, artifacts, tools, tracing). Most
// applications interact with this package by:
//  1. Creating a QueryChat via New() (optionally overriding default services)
//  2. Calling Chat(ctx, threadID, message) per user turn
//  3. Calling Close() on shutdown
//
// The façade delegates orchestration to agent.Agent while keeping setup
// ergonomics concise. All defaults are safe for local development and
// testing; production deployments typically supply a database DSN, durable
// store implementations and a structured logger.
package querychat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/querychat/querychat/agent"
	"github.com/querychat/querychat/artifact"
	"github.com/querychat/querychat/builtin"
	"github.com/querychat/querychat/config"
	"github.com/querychat/querychat/core"
	"github.com/querychat/querychat/logging"
	"github.com/querychat/querychat/memory"
	"github.com/querychat/querychat/metrics"
	"github.com/querychat/querychat/model"
	"github.com/querychat/querychat/model/anthropic"
	"github.com/querychat/querychat/model/openai"
	"github.com/querychat/querychat/prompt"
	"github.com/querychat/querychat/tool"
	"github.com/querychat/querychat/trace"
)

// Options configures the QueryChat instance. Any unset service is built from
// the Config (which itself defaults to config.Default()).
type Options struct {
	// Config drives service construction for everything not overridden
	// below. Nil uses config.Default().
	Config *config.Config

	// Model overrides the configured reasoning provider.
	Model model.Model

	// Store overrides the configured conversation store.
	Store core.ThreadStore

	// Artifacts overrides the configured artifact store.
	Artifacts core.ArtifactStore

	// Querier overrides the configured database connection backing the
	// SQL tools. When both this and Config.Database.DSN are unset the
	// instance runs without database tools.
	Querier builtin.Querier

	// Tracer overrides the configured trace store.
	Tracer trace.Store

	// ColumnMeanings documents legacy column names, surfaced through the
	// describe_tables tool.
	ColumnMeanings map[string]string

	// SchemaNotes are appended to the system prompt.
	SchemaNotes string

	// Instructions overrides the prompt builder entirely.
	Instructions agent.InstructionsFunc

	// ExtraTools are registered alongside the builtin tools before the
	// registry freezes.
	ExtraTools []tool.Tool

	// Logger overrides the default structured logger built from
	// Config.Log (slog JSON to stderr at the configured level).
	Logger logging.Logger
}

// QueryChat is the high-level façade aggregating the agent loop and its
// services.
type QueryChat struct {
	agent     *agent.Agent
	artifacts core.ArtifactStore
	logger    logging.Logger

	janitorStop context.CancelFunc
	closers     []func()
}

// New creates a QueryChat instance. Services not overridden through options
// are constructed from the configuration; the tool registry is frozen before
// the first turn can observe it.
func New(ctx context.Context, optFns ...func(o *Options)) (*QueryChat, error) {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}

	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Export.UnidocLicense != "" {
		if err := builtin.SetPDFLicense(cfg.Export.UnidocLicense); err != nil {
			return nil, fmt.Errorf("querychat: register pdf license: %w", err)
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = buildLogger(cfg)
	}

	qc := &QueryChat{logger: logger}

	m, err := buildModel(&opts, cfg)
	if err != nil {
		return nil, err
	}

	store, err := buildStore(ctx, &opts, cfg, qc)
	if err != nil {
		qc.Close()
		return nil, err
	}

	artifacts, err := buildArtifacts(&opts, cfg, qc)
	if err != nil {
		qc.Close()
		return nil, err
	}
	qc.artifacts = artifacts

	querier, err := buildQuerier(ctx, &opts, cfg, qc)
	if err != nil {
		qc.Close()
		return nil, err
	}

	tracer, err := buildTracer(ctx, &opts, cfg, qc)
	if err != nil {
		qc.Close()
		return nil, err
	}

	registry := tool.NewRegistry()
	if querier != nil {
		if err := builtin.RegisterAll(registry, querier, func(o *builtin.RegistryOptions) {
			o.ColumnMeanings = opts.ColumnMeanings
		}); err != nil {
			qc.Close()
			return nil, err
		}
	}
	for _, t := range opts.ExtraTools {
		if err := registry.Register(t); err != nil {
			qc.Close()
			return nil, err
		}
	}

	toolTimeout, err := cfg.ToolTimeout()
	if err != nil {
		qc.Close()
		return nil, err
	}
	executor := tool.NewExecutor(registry, artifacts, func(o *tool.ExecutorOptions) {
		o.Timeout = toolTimeout
		o.Logger = logger
	})

	instructions := opts.Instructions
	if instructions == nil && querier != nil {
		instructions = promptInstructions(querier, opts.SchemaNotes)
	}

	qc.agent = agent.New(m, store, registry, executor, func(o *agent.Options) {
		o.MaxSteps = cfg.Agent.MaxSteps
		o.HistoryWindow = cfg.Agent.HistoryWindow
		o.StorageRetries = cfg.Agent.StorageRetries
		o.Instructions = instructions
		o.Tracer = tracer
		o.Logger = logger
	})

	qc.startJanitor(cfg)
	qc.startMetricsServer(cfg)
	return qc, nil
}

// Chat runs one conversational turn on the given thread and blocks until it
// terminates. Turns on the same thread are serialized.
func (qc *QueryChat) Chat(ctx context.Context, threadID, message string) (*agent.Response, error) {
	return qc.agent.Chat(ctx, threadID, message)
}

// Artifacts exposes the artifact store, e.g. for serving downloads.
func (qc *QueryChat) Artifacts() core.ArtifactStore {
	return qc.artifacts
}

// MetricsHandler returns an http.Handler serving the Prometheus registry,
// for callers embedding the endpoint in their own server.
func (qc *QueryChat) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(metrics.DefaultRegistry, promhttp.HandlerOpts{})
}

// WriteMetrics writes a point-in-time snapshot of the collectors in
// Prometheus text format.
func (qc *QueryChat) WriteMetrics(w io.Writer) error {
	return metrics.WritePrometheus(w)
}

// Close stops the cleanup janitor and releases owned connections. Stores
// passed in through options are not closed; their lifecycle belongs to the
// caller.
func (qc *QueryChat) Close() {
	if qc.janitorStop != nil {
		qc.janitorStop()
		qc.janitorStop = nil
	}
	for _, closeFn := range qc.closers {
		closeFn()
	}
	qc.closers = nil
}

func buildModel(opts *Options, cfg *config.Config) (model.Model, error) {
	if opts.Model != nil {
		return opts.Model, nil
	}
	switch cfg.Model.Provider {
	case "openai":
		return openai.NewModel(func(o *openai.Options) {
			if cfg.Model.Name != "" {
				o.Model = cfg.Model.Name
			}
			if cfg.Model.Temperature > 0 {
				o.Temperature = cfg.Model.Temperature
			}
			o.APIKey = cfg.Model.APIKey
		}), nil
	case "anthropic":
		return anthropic.NewModel(func(o *anthropic.Options) {
			if cfg.Model.Name != "" {
				o.Model = anthropicsdk.Model(cfg.Model.Name)
			}
			if cfg.Model.Temperature > 0 {
				o.Temperature = cfg.Model.Temperature
			}
			o.APIKey = cfg.Model.APIKey
		}), nil
	default:
		return nil, fmt.Errorf("querychat: unknown model provider %q", cfg.Model.Provider)
	}
}

func buildStore(ctx context.Context, opts *Options, cfg *config.Config, qc *QueryChat) (core.ThreadStore, error) {
	if opts.Store != nil {
		return opts.Store, nil
	}
	switch cfg.Memory.Type {
	case "", "memory":
		return memory.NewInMemoryStore(), nil
	case "postgres":
		store, err := memory.NewPostgresStore(ctx, cfg.Memory.DSN)
		if err != nil {
			return nil, err
		}
		qc.closers = append(qc.closers, store.Close)
		return store, nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.Memory.RedisAddr, DB: cfg.Memory.RedisDB})
		qc.closers = append(qc.closers, func() { _ = client.Close() })
		return memory.NewRedisStore(client), nil
	default:
		return nil, fmt.Errorf("querychat: unknown memory type %q", cfg.Memory.Type)
	}
}

func buildArtifacts(opts *Options, cfg *config.Config, qc *QueryChat) (core.ArtifactStore, error) {
	if opts.Artifacts != nil {
		return opts.Artifacts, nil
	}
	ttl, err := cfg.ArtifactTTL()
	if err != nil {
		return nil, err
	}
	if cfg.Export.Dir == "" {
		return artifact.NewInMemoryStore(func(o *artifact.Options) {
			o.TTL = ttl
			o.DownloadPrefix = cfg.Export.DownloadPrefix
		}), nil
	}
	return artifact.NewFSStore(cfg.Export.Dir, func(o *artifact.Options) {
		o.TTL = ttl
		o.DownloadPrefix = cfg.Export.DownloadPrefix
	})
}

func buildQuerier(ctx context.Context, opts *Options, cfg *config.Config, qc *QueryChat) (builtin.Querier, error) {
	if opts.Querier != nil {
		return opts.Querier, nil
	}
	if cfg.Database.DSN == "" {
		return nil, nil
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("querychat: parse database dsn: %w", err)
	}
	if cfg.Database.MaxConns > 0 {
		poolCfg.MaxConns = cfg.Database.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("querychat: connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("querychat: ping database: %w", err)
	}
	qc.closers = append(qc.closers, pool.Close)
	return builtin.NewPgQuerierFromPool(pool), nil
}

func buildTracer(ctx context.Context, opts *Options, cfg *config.Config, qc *QueryChat) (trace.Store, error) {
	if opts.Tracer != nil {
		return opts.Tracer, nil
	}
	if !cfg.Trace.Enabled {
		return nil, nil
	}
	switch cfg.Trace.Type {
	case "", "memory":
		return trace.NewInMemoryStore(), nil
	case "postgres":
		store, err := trace.NewPostgresStore(ctx, cfg.Trace.DSN)
		if err != nil {
			return nil, err
		}
		qc.closers = append(qc.closers, store.Close)
		return store, nil
	default:
		return nil, fmt.Errorf("querychat: unknown trace type %q", cfg.Trace.Type)
	}
}

// promptInstructions rebuilds the system prompt each step so the table list
// and current date stay fresh across long-lived processes.
func promptInstructions(querier builtin.Querier, schemaNotes string) agent.InstructionsFunc {
	builder := prompt.NewBuilder(func(o *prompt.BuilderOptions) {
		o.SchemaNotes = schemaNotes
	})
	return func(ctx context.Context) (string, error) {
		tables, err := querier.Tables(ctx)
		if err != nil {
			return "", fmt.Errorf("querychat: list tables: %w", err)
		}
		return builder.Build(querier.Dialect(), tables)
	}
}

// startJanitor launches the background cleanup loop when the artifact store
// supports sweeping and a cleanup interval is configured.
func (qc *QueryChat) startJanitor(cfg *config.Config) {
	sweeper, ok := qc.artifacts.(artifact.Sweeper)
	if !ok {
		return
	}
	interval, err := cfg.CleanupInterval()
	if err != nil || interval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	qc.janitorStop = cancel
	janitor := artifact.NewJanitor(sweeper, interval, qc.logger)
	go janitor.Run(ctx)
}

// startMetricsServer serves /metrics on the configured address when the
// metrics endpoint is enabled. Close shuts it down.
func (qc *QueryChat) startMetricsServer(cfg *config.Config) {
	if !cfg.Metrics.Enabled {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", qc.MetricsHandler())
	srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
	qc.closers = append(qc.closers, func() { _ = srv.Close() })
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			qc.logger.Error("metrics.server_failed", "addr", cfg.Metrics.Addr, "error", err.Error())
		}
	}()
}

// buildLogger turns the log section of the configuration into the default
// structured logger.
func buildLogger(cfg *config.Config) logging.Logger {
	return logging.NewLogger(&logging.LoggerConfig{
		Level:  logging.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})
}
