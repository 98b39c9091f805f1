package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/okian/geofeat/internal/adapters/index"
	"github.com/okian/geofeat/internal/adapters/raster"
	app "github.com/okian/geofeat/internal/app"
	"github.com/okian/geofeat/internal/config"
	"github.com/okian/geofeat/internal/domain/patch"
	"github.com/okian/geofeat/internal/domain/rcf"
	"github.com/okian/geofeat/internal/domain/tiles"
	"github.com/okian/geofeat/pkg/logger"
)

// closer releases a resource opened while wiring.
type closer func() error

// buildIndex opens the configured tile footprint index.
func buildIndex(ctx context.Context, cfg config.IndexConfig, log logger.Logger) (tiles.Index, closer, error) {
	switch cfg.Backend {
	case config.IndexManifest:
		idx, err := index.LoadManifest(cfg.ManifestPath)
		if err != nil {
			return nil, nil, err
		}
		log.Info(ctx, "loaded tile manifest", logger.String("path", cfg.ManifestPath), logger.Int("tiles", idx.Len()))
		return idx, func() error { return nil }, nil
	case config.IndexPostGIS:
		db, err := index.OpenPostgres(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		idx := index.NewPostGISIndex(db,
			index.WithTable(cfg.Table),
			index.WithIDColumn(cfg.IDColumn),
			index.WithGeomColumn(cfg.GeomColumn),
		)
		log.Info(ctx, "connected to postgis tile index", logger.String("table", cfg.Table))
		return idx, idx.Close, nil
	}
	return nil, nil, fmt.Errorf("%w: index backend %q", config.ErrInvalidConfig, cfg.Backend)
}

// buildSource routes local tile ids to the filesystem and URLs to the
// block-cached HTTP reader.
func buildSource(ctx context.Context, cfg config.RasterConfig, log logger.Logger) (raster.Source, closer) {
	var (
		far     raster.BlockCache
		release closer = func() error { return nil }
	)
	if client := raster.OpenRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB); client != nil {
		far = raster.NewRedisCache(client, cfg.RedisTTL, log)
		release = client.Close
		log.Info(ctx, "using redis block cache", logger.String("addr", cfg.RedisAddr))
	}
	cache := raster.NewTieredCache(raster.NewMemoryCache(cfg.CacheBlocks), far)

	remote := raster.NewHTTPSource(
		raster.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}),
		raster.WithBlockSize(cfg.BlockSize),
		raster.WithCache(cache),
		raster.WithRetries(cfg.HTTPRetries),
		raster.WithURLQuery(cfg.URLQuery),
		raster.WithLogger(log),
	)
	return raster.NewRouter(raster.NewFileSource(cfg.Root), remote), release
}

// buildModel builds the seeded model, persisting or loading its weights when
// a path is configured.
func buildModel(ctx context.Context, cfg config.ModelConfig, log logger.Logger) (*rcf.Model, error) {
	opts := []rcf.Option{
		rcf.WithNumFilters(cfg.NumFilters),
		rcf.WithPatchSize(cfg.PatchSize),
		rcf.WithNumChannels(cfg.NumChannels),
		rcf.WithBias(cfg.Bias),
		rcf.WithSeed(cfg.Seed),
	}
	if cfg.WeightsPath == "" {
		return rcf.New(opts...)
	}
	m, created, err := rcf.LoadOrCreate(cfg.WeightsPath, opts...)
	if err != nil {
		return nil, err
	}
	if created {
		log.Info(ctx, "wrote model weights", logger.String("path", cfg.WeightsPath))
	} else {
		log.Info(ctx, "loaded model weights", logger.String("path", cfg.WeightsPath))
	}
	return m, nil
}

// buildService wires the featurization service from cfg. The returned
// closer releases the index and cache connections.
func buildService(ctx context.Context, cfg *config.Config, log logger.Logger) (*app.Service, closer, error) {
	m, err := buildModel(ctx, cfg.Model, log.Named("model"))
	if err != nil {
		return nil, nil, fmt.Errorf("build model: %w", err)
	}
	idx, closeIndex, err := buildIndex(ctx, cfg.Index, log.Named("index"))
	if err != nil {
		return nil, nil, fmt.Errorf("open tile index: %w", err)
	}
	source, closeSource := buildSource(ctx, cfg.Raster, log.Named("raster"))

	svc := app.New(
		tiles.NewResolver(idx),
		patch.New(source, patch.WithLogger(log.Named("patch"))),
		m,
		app.WithLogger(log.Named("service")),
		app.WithWorkerCount(cfg.WorkerCount),
		app.WithQueueSize(cfg.QueueSize),
		app.WithMaxBatchSize(cfg.MaxBatchSize),
		app.WithBufferMeters(cfg.BufferMeters),
	)
	return svc, func() error { return errors.Join(closeIndex(), closeSource()) }, nil
}
