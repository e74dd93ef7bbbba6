package usecase

import (
	"context"

	"github.com/example/facegate/internal/faceid"
	"github.com/example/facegate/internal/gallery"
)

// SampleStore persists enrolled embeddings.
type SampleStore interface {
	Append(ctx context.Context, identity string, embedding faceid.Embedding) error
}

// GallerySource hands out the current gallery snapshot.
type GallerySource interface {
	Current(ctx context.Context) (*gallery.Gallery, error)
}

// GalleryInvalidator is notified after new samples are stored.
type GalleryInvalidator interface {
	Invalidate(ctx context.Context)
}
