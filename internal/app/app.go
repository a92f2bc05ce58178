// Package app builds the long-lived services of a run from configuration and owns their shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/rostertrack/internal/archive"
	"github.com/JakeFAU/rostertrack/internal/clock/system"
	"github.com/JakeFAU/rostertrack/internal/config"
	"github.com/JakeFAU/rostertrack/internal/dataset"
	"github.com/JakeFAU/rostertrack/internal/extract"
	collyfetcher "github.com/JakeFAU/rostertrack/internal/fetcher/colly"
	"github.com/JakeFAU/rostertrack/internal/generator"
	uuidgen "github.com/JakeFAU/rostertrack/internal/id/uuid"
	"github.com/JakeFAU/rostertrack/internal/pagination"
	"github.com/JakeFAU/rostertrack/internal/pipeline"
	"github.com/JakeFAU/rostertrack/internal/placement"
	"github.com/JakeFAU/rostertrack/internal/policy/ratelimit"
	pubsubpublisher "github.com/JakeFAU/rostertrack/internal/publisher/pubsub"
	"github.com/JakeFAU/rostertrack/internal/retry"
	"github.com/JakeFAU/rostertrack/internal/storage/gcs"
	"github.com/JakeFAU/rostertrack/internal/storage/local"
	"github.com/JakeFAU/rostertrack/internal/storage/memory"
	"github.com/JakeFAU/rostertrack/internal/storage/postgres"
	"github.com/JakeFAU/rostertrack/internal/tracker"
	"github.com/JakeFAU/rostertrack/internal/validate"
)

// App holds the services shared by every command.
type App struct {
	Config     config.Config
	Logger     *zap.Logger
	RunID      string
	Blobs      tracker.BlobStore
	Archive    *archive.Client
	Discoverer *pagination.Discoverer
	Registry   *extract.Registry
	Validator  *validate.Validator
	// Generator is nil when rule generation is disabled or has no API key.
	Generator *generator.Generator
	Placement *placement.Checker
	Dataset   *dataset.Store

	closers []func() error
}

// New wires every service described by cfg. Services that fail to start are closed before the
// error is returned.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if a.RunID, err = uuidgen.NewUUIDGenerator().NewID(); err != nil {
		return nil, err
	}
	a.Logger = logger.With(zap.String("run_id", a.RunID))

	if a.Blobs, err = a.blobStore(ctx); err != nil {
		return nil, err
	}

	clock := system.New()
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Crawler.UserAgent,
		RespectRobots: cfg.Crawler.RespectRobots,
		Timeout:       cfg.Archive.RequestTimeout,
	})
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.Crawler.RPS,
		DefaultBurst: cfg.Crawler.Burst,
		HostRPS:      cfg.Crawler.HostRPS,
	})
	policy := retry.NewExponentialPolicy(tracker.IsRetryable)
	policy.MaxAttempts = cfg.Archive.MaxAttempts
	policy.InitialDelay = cfg.Archive.InitialDelay
	if cfg.Archive.MaxDelay > 0 {
		policy.MaxDelay = cfg.Archive.MaxDelay
	}
	policy.Jitter = cfg.Archive.Jitter

	a.Archive = archive.New(fetcher, limiter, policy, clock, archive.Config{
		TimemapEndpoint: cfg.Archive.TimemapEndpoint,
		RawContent:      cfg.Archive.RawContent,
	}, a.Logger)
	a.Discoverer = pagination.New(a.Archive, pagination.Config{
		Param:           cfg.Pagination.Param,
		HeadingSelector: cfg.Pagination.HeadingSelector,
		Threshold:       cfg.Pagination.Threshold,
		MaxPages:        cfg.Pagination.MaxPages,
	}, a.Logger)

	builtins, err := extract.Builtins()
	if err != nil {
		return nil, fmt.Errorf("load built-in modules: %w", err)
	}
	a.Registry = extract.NewRegistry(a.Blobs, nil, builtins, a.Logger)
	a.Validator = &validate.Validator{RequireInSource: cfg.Validation.RequireInSource}
	a.Placement = placement.New(a.Archive, a.Logger)

	if a.Generator, err = a.generator(); err != nil {
		return nil, err
	}

	a.Dataset = dataset.New(a.Blobs, clock, dataset.Config{Prefix: cfg.Dataset.Prefix, RunID: a.RunID}, a.Logger)
	if err := a.registerMirrors(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

// Orchestrator builds the pipeline over the app's services.
func (a *App) Orchestrator(dryRun bool) *pipeline.Orchestrator {
	var gen pipeline.Generator
	if a.Generator != nil {
		gen = a.Generator
	}
	return pipeline.New(
		a.Discoverer,
		a.Archive,
		a.Archive,
		a.Registry,
		gen,
		a.Validator,
		a.Placement,
		a.Dataset,
		pipeline.Config{
			ProgramConcurrency:  a.Config.Pipeline.ProgramConcurrency,
			SnapshotConcurrency: a.Config.Pipeline.SnapshotConcurrency,
			DryRun:              dryRun,
		},
		a.Logger,
	)
}

// Close releases every client opened by New, in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.Logger.Warn("error closing services", zap.Error(err))
		return err
	}
	return nil
}

func (a *App) blobStore(ctx context.Context) (tracker.BlobStore, error) {
	cfg := a.Config.Storage
	switch cfg.Backend {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		a.Logger.Info("using gcs storage", zap.String("bucket", cfg.GCSBucket))
		return gcs.New(client, gcs.Config{Bucket: cfg.GCSBucket, Prefix: cfg.GCSPrefix})
	case "memory":
		a.Logger.Warn("using in-memory storage; rules and dataset versions are discarded on exit")
		return memory.NewBlobStore(), nil
	default:
		a.Logger.Info("using local storage", zap.String("dir", cfg.LocalDir))
		return local.New(local.Config{BaseDir: cfg.LocalDir})
	}
}

func (a *App) generator() (*generator.Generator, error) {
	cfg := a.Config.Generator
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.APIKey == "" {
		a.Logger.Warn("rule generation disabled: no API key configured")
		return nil, nil
	}

	var data []byte
	if cfg.PromptsFile != "" {
		raw, err := os.ReadFile(cfg.PromptsFile)
		if err != nil {
			return nil, fmt.Errorf("read prompts: %w", err)
		}
		data = raw
	}
	prompts, err := generator.LoadPrompts(data)
	if err != nil {
		return nil, err
	}

	service, err := generator.NewOpenAIService(generator.OpenAIConfig{
		APIKey:            cfg.APIKey,
		Model:             cfg.Model,
		BaseURL:           cfg.BaseURL,
		RequestsPerMinute: cfg.RequestsPerMinute,
		Timeout:           cfg.Timeout,
	})
	if err != nil {
		return nil, err
	}
	return generator.New(
		a.Registry,
		a.Validator,
		service,
		prompts,
		rand.New(rand.NewSource(time.Now().UnixNano())),
		generator.Config{
			ChunkSize:       cfg.ChunkSize,
			ChunkCount:      cfg.ChunkCount,
			MaxIterations:   cfg.MaxIterations,
			MaxHistoryChars: cfg.MaxHistoryChars,
			ServiceAttempts: cfg.ServiceAttempts,
			ServiceDelay:    cfg.ServiceDelay,
		},
		a.Logger,
	), nil
}

func (a *App) registerMirrors(ctx context.Context) error {
	if dsn := a.Config.DB.DSN; dsn != "" {
		store, err := postgres.NewSummaryStore(ctx, postgres.SummaryStoreConfig{
			DSN:             dsn,
			Table:           a.Config.DB.Table,
			MaxConns:        a.Config.DB.MaxConns,
			MinConns:        a.Config.DB.MinConns,
			MaxConnLifetime: a.Config.DB.MaxConnLifetime,
		})
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() error { store.Close(); return nil })
		a.Dataset.Register(store)
		a.Logger.Info("mirroring dataset versions to postgres", zap.String("table", a.Config.DB.Table))
	}

	if project := a.Config.PubSub.ProjectID; project != "" {
		client, err := pubsub.NewClient(ctx, project)
		if err != nil {
			return fmt.Errorf("create pubsub client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		publisher := pubsubpublisher.New(client)
		a.closers = append(a.closers, func() error { publisher.Close(); return nil })
		a.Dataset.Register(dataset.NewNotifier(publisher, a.Config.PubSub.TopicName, a.Dataset))
		a.Logger.Info("announcing dataset versions", zap.String("topic", a.Config.PubSub.TopicName))
	}
	return nil
}
