// Package imageprocessor defines the feature extractor contract: an encoded
// image goes in, zero or more faces with embeddings and boxes come out.
package imageprocessor

import (
	"context"

	"github.com/example/facegate/internal/faceid"
)

// Client exposes the subset of functionality used by the enrollment and recognition flows.
type Client interface {
	// Detect returns the faces found in an encoded image. An empty slice is
	// not an error.
	Detect(ctx context.Context, image []byte) ([]faceid.Face, error)
}

// Options are forwarded to the extraction service with every request.
type Options struct {
	Model   string
	DetSize int
}
