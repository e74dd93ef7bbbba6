package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/example/facegate/internal/config"
	"github.com/example/facegate/internal/events"
	"github.com/example/facegate/internal/gallery"
	"github.com/example/facegate/internal/grpcclient"
	"github.com/example/facegate/internal/imageprocessor"
	"github.com/example/facegate/internal/matcher"
	"github.com/example/facegate/internal/repository"
	"github.com/example/facegate/internal/usecase"
)

const startupTimeout = 30 * time.Second

// app holds the components shared by every command.
type app struct {
	repo        *repository.EmbeddingRepository
	provider    *gallery.Provider
	enrollment  *usecase.EnrollmentUseCase
	recognition *usecase.RecognitionUseCase
	publisher   events.Publisher

	closers []func()
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{}
	if err := a.init(ctx, cfg, logger); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	db, err := repository.Open(ctx, cfg.DB, logger)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	repo, err := repository.NewEmbeddingRepository(db, cfg.Embedding.Dimension, logger)
	if err != nil {
		return err
	}
	if err := repo.Init(ctx); err != nil {
		return err
	}
	a.repo = repo

	versions, err := a.initVersionStore(ctx, cfg.Redis, logger)
	if err != nil {
		return err
	}
	a.provider = gallery.NewProvider(repo, versions, cfg.Embedding.Dimension, logger)

	searcher, err := matcher.NewSearcher(cfg.Matcher.Search, cfg.Matcher.HNSWNeighbors)
	if err != nil {
		return err
	}
	m, err := matcher.New(cfg.Matcher.Threshold, cfg.Embedding.Dimension, searcher)
	if err != nil {
		return err
	}
	selector, err := matcher.ParseSelection(cfg.Matcher.FaceSelection)
	if err != nil {
		return err
	}
	policy, err := matcher.ParseScorePolicy(cfg.Matcher.ScorePolicy)
	if err != nil {
		return err
	}

	extractor, err := a.initExtractor(ctx, cfg.Extractor, logger)
	if err != nil {
		return err
	}

	a.publisher = events.Nop{}
	if cfg.MQTT.Enabled {
		publisher, err := events.NewMQTTPublisher(cfg.MQTT, logger)
		if err != nil {
			return err
		}
		a.publisher = publisher
		a.closers = append(a.closers, publisher.Close)
	}

	// Enrollment always stores one face per image, so "all" degrades to the first face.
	a.enrollment = usecase.NewEnrollmentUseCase(repo, extractor, a.provider, selector, logger)
	a.recognition = usecase.NewRecognitionUseCase(extractor, a.provider, m, selector, policy, a.publisher, logger)

	if cfg.Gallery.RefreshInterval > 0 {
		stop, err := a.provider.StartRefresher(cfg.Gallery.RefreshInterval)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, stop)
	}
	return nil
}

func (a *app) initExtractor(ctx context.Context, cfg config.ExtractorConfig, logger *zap.Logger) (imageprocessor.Client, error) {
	opts := imageprocessor.Options{Model: cfg.Model, DetSize: cfg.DetSize}
	if cfg.Kind == "http" {
		return imageprocessor.NewHTTPClient(cfg.Addr, cfg.Timeout, opts, logger), nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	client, conn, err := grpcclient.DialFeatureExtractor(dialCtx, cfg.Addr, opts, logger, grpc.WithUserAgent("facegate"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to feature extractor: %w", err)
	}
	a.closers = append(a.closers, func() { _ = conn.Close() })
	return client, nil
}

func (a *app) initVersionStore(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (gallery.VersionStore, error) {
	if cfg.Addr == "" {
		return &gallery.LocalVersion{}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	a.closers = append(a.closers, func() { _ = client.Close() })
	logger.Info("sharing gallery version through redis", zap.String("addr", cfg.Addr), zap.String("key", cfg.GalleryKey))
	return gallery.NewSharedVersion(gallery.NewRedisCache(client), cfg.GalleryKey), nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
