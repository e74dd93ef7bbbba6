// Package gallery groups enrolled samples by identity and keeps a versioned
// in-memory snapshot of that grouping for the matcher.
package gallery

import (
	"fmt"

	"github.com/example/facegate/internal/faceid"
	"github.com/example/facegate/internal/repository"
)

// Entry is one identity with at least one enrolled sample.
type Entry struct {
	Identity   string
	Embeddings []faceid.Embedding
	Vectors    []faceid.Vector
}

// Gallery maps identities to their samples. Identities iterate in the order
// their first sample was stored, which fixes tie-breaking in the matcher.
// A Gallery is immutable once built.
type Gallery struct {
	dim     int
	entries []Entry
	index   map[string]int
	samples int
}

// Build groups samples by identity. Samples must already be in insertion order.
func Build(dim int, samples []repository.Sample) (*Gallery, error) {
	g := &Gallery{dim: dim, index: make(map[string]int)}
	for _, s := range samples {
		if err := s.Embedding.Validate(dim); err != nil {
			return nil, fmt.Errorf("sample %d (%s): %w", s.ID, s.Identity, err)
		}
		pos, ok := g.index[s.Identity]
		if !ok {
			pos = len(g.entries)
			g.index[s.Identity] = pos
			g.entries = append(g.entries, Entry{Identity: s.Identity})
		}
		entry := &g.entries[pos]
		entry.Embeddings = append(entry.Embeddings, s.Embedding)
		entry.Vectors = append(entry.Vectors, faceid.NewVector(s.Embedding))
		g.samples++
	}
	return g, nil
}

// Empty returns a gallery with no identities.
func Empty(dim int) *Gallery {
	return &Gallery{dim: dim, index: map[string]int{}}
}

func (g *Gallery) Dim() int { return g.dim }

// Len is the number of identities.
func (g *Gallery) Len() int { return len(g.entries) }

// SampleCount is the number of embeddings across all identities.
func (g *Gallery) SampleCount() int { return g.samples }

// Entries exposes the identities in iteration order. Callers must not modify it.
func (g *Gallery) Entries() []Entry { return g.entries }

// Lookup returns the entry for identity.
func (g *Gallery) Lookup(identity string) (Entry, bool) {
	pos, ok := g.index[identity]
	if !ok {
		return Entry{}, false
	}
	return g.entries[pos], true
}
