package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/hazyhaar/permitpack/assemble"
	"github.com/hazyhaar/permitpack/blob"
	"github.com/hazyhaar/permitpack/config"
	"github.com/hazyhaar/permitpack/metrics"
	"github.com/hazyhaar/permitpack/permit"
	"github.com/hazyhaar/permitpack/retrieve"
	"github.com/hazyhaar/permitpack/specsheet"
	"github.com/hazyhaar/permitpack/store"
)

// app holds the wired components of one invocation.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *store.Store
	metrics   *metrics.Metrics
	retriever *retrieve.Retriever
	pipe      *permit.Pipeline
}

// appOptions selects which optional components a command needs.
type appOptions struct {
	store   bool
	network bool
	publish bool
}

func loadConfig(g *globalFlags, logOut io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, nil, err
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
		if err := cfg.Validate(); err != nil {
			return nil, nil, err
		}
	}
	logger := cfg.NewLogger(logOut)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func newApp(ctx context.Context, g *globalFlags, logOut io.Writer, opts appOptions) (*app, error) {
	cfg, logger, err := loadConfig(g, logOut)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, metrics: metrics.New()}

	catalog, err := specsheet.LoadCatalog(cfg.CatalogFile)
	if err != nil {
		return nil, err
	}

	if opts.store {
		a.store, err = store.Open(cfg.Database)
		if err != nil {
			return nil, err
		}
	}

	var blobStore blob.Store
	if opts.publish {
		blobStore, err = newBlobStore(ctx, cfg.Blob)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	if opts.network && cfg.Retrieval.Enabled {
		a.retriever = newRetriever(cfg, a.metrics, logger)
	}

	a.pipe = permit.New(permit.Deps{
		CacheDir:     cfg.CacheDir,
		OutputDir:    cfg.OutputDir,
		MaxBasePages: cfg.BasePages,
		Catalog:      catalog,
		Assembler:    assemble.New(assemble.Config{MaxBasePages: cfg.BasePages, Logger: logger}),
		Retriever:    a.retriever,
		Blob:         blobStore,
		Store:        a.store,
		Metrics:      a.metrics,
		Logger:       logger,
	})
	logger.Debug("permitpack: wired",
		"cache_dir", cfg.CacheDir,
		"catalog_entries", catalog.Len(),
		"store", a.store != nil,
		"retrieval", a.retriever != nil,
		"blob", cfg.Blob.Driver,
	)
	return a, nil
}

// Close releases the store and the browser.
func (a *app) Close() error {
	var errs []error
	if a.retriever != nil {
		errs = append(errs, a.retriever.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}

func newBlobStore(ctx context.Context, c config.BlobConfig) (blob.Store, error) {
	switch c.Driver {
	case "":
		return nil, nil
	case "local":
		return blob.NewLocalStore(c.Dir), nil
	case "s3":
		return blob.NewS3Store(ctx, blob.S3Config{
			Bucket:          c.Bucket,
			Region:          c.Region,
			Endpoint:        c.Endpoint,
			Prefix:          c.Prefix,
			AccessKeyID:     c.AccessKeyID,
			SecretAccessKey: c.SecretAccessKey,
		})
	}
	return nil, fmt.Errorf("unknown blob driver %q", c.Driver)
}

func newEngine(c config.EngineConfig) retrieve.Engine {
	return retrieve.Engine{
		Name:        c.Name,
		URLTemplate: c.URLTemplate,
		ResultPath:  c.ResultPath,
		Fields:      c.Fields,
		Headers:     c.Headers,
	}
}

func newRetriever(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) *retrieve.Retriever {
	r := cfg.Retrieval
	var renderer retrieve.Renderer
	if r.Browser.Enabled {
		renderer = retrieve.NewBrowser(retrieve.BrowserConfig{RemoteURL: r.Browser.RemoteURL, Logger: logger})
	}
	return retrieve.New(retrieve.Config{
		CacheDir:      cfg.CacheDir,
		Engine:        newEngine(r.Engine),
		Concurrency:   r.Concurrency,
		Timeout:       r.Timeout,
		MaxCandidates: r.MaxCandidates,
		MaxBytes:      r.MaxBytes,
		UserAgent:     r.UserAgent,
		Retries:       r.Retries,
		Renderer:      renderer,
		Metrics:       m,
		Logger:        logger.With("component", "retrieve"),
	})
}
