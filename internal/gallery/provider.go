package gallery

import (
	"context"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/example/facegate/internal/repository"
)

// Loader is the read side of the embedding store.
type Loader interface {
	LoadAll(ctx context.Context) ([]repository.Sample, error)
}

// Provider owns the current gallery snapshot. A snapshot is reused while the
// version store reports the generation it was built at; otherwise it is
// rebuilt from a full scan of the store.
type Provider struct {
	loader   Loader
	versions VersionStore
	dim      int
	logger   *zap.Logger

	mu       sync.RWMutex
	snapshot *Gallery
	version  int64
}

// NewProvider builds a provider. A nil VersionStore means in-process versioning.
func NewProvider(loader Loader, versions VersionStore, dim int, logger *zap.Logger) *Provider {
	if versions == nil {
		versions = &LocalVersion{}
	}
	return &Provider{
		loader:   loader,
		versions: versions,
		dim:      dim,
		logger:   logger.Named("gallery"),
	}
}

// Current returns an up-to-date snapshot.
func (p *Provider) Current(ctx context.Context) (*Gallery, error) {
	version, err := p.versions.Version(ctx)
	if err != nil {
		// Without a trustworthy generation every call rebuilds.
		p.logger.Warn("gallery version unavailable, rebuilding", zap.Error(err))
		return p.rebuild(ctx, -1, false)
	}

	p.mu.RLock()
	snapshot, cached := p.snapshot, p.version
	p.mu.RUnlock()
	if snapshot != nil && cached == version {
		return snapshot, nil
	}
	return p.rebuild(ctx, version, false)
}

// Refresh reloads the store regardless of the version. Writes made by other
// processes that do not share the version store become visible here.
func (p *Provider) Refresh(ctx context.Context) (*Gallery, error) {
	version, err := p.versions.Version(ctx)
	if err != nil {
		version = -1
	}
	return p.rebuild(ctx, version, true)
}

// Invalidate marks every cached snapshot stale after a successful append.
func (p *Provider) Invalidate(ctx context.Context) {
	if _, err := p.versions.Bump(ctx); err != nil {
		p.logger.Warn("failed to bump gallery version", zap.Error(err))
		p.mu.Lock()
		p.snapshot = nil
		p.mu.Unlock()
	}
}

func (p *Provider) rebuild(ctx context.Context, version int64, force bool) (*Gallery, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !force && version >= 0 && p.snapshot != nil && p.version == version {
		return p.snapshot, nil
	}

	samples, err := p.loader.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	g, err := Build(p.dim, samples)
	if err != nil {
		return nil, err
	}

	if version >= 0 {
		p.snapshot, p.version = g, version
	} else {
		p.snapshot = nil
	}
	p.logger.Debug("gallery rebuilt",
		zap.Int("identities", g.Len()),
		zap.Int("samples", g.SampleCount()),
		zap.Int64("version", version))
	return g, nil
}

// StartRefresher rebuilds the snapshot on a fixed interval so writes made by
// other processes become visible without a shared version store. The returned
// function stops the scheduler.
func (p *Provider) StartRefresher(interval time.Duration) (func(), error) {
	scheduler := gocron.NewScheduler(time.UTC)
	scheduler.SingletonModeAll()

	_, err := scheduler.Every(interval).Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		defer cancel()
		if _, err := p.Refresh(ctx); err != nil {
			p.logger.Error("scheduled gallery refresh failed", zap.Error(err))
		}
	})
	if err != nil {
		return nil, err
	}

	scheduler.StartAsync()
	p.logger.Info("gallery refresher started", zap.Duration("interval", interval))
	return scheduler.Stop, nil
}
