package matcher

import (
	"sync"

	"github.com/coder/hnsw"

	"github.com/example/facegate/internal/faceid"
	"github.com/example/facegate/internal/gallery"
)

// Candidate is the best identity a Searcher found, before thresholding.
type Candidate struct {
	Identity string
	Score    float64
	Found    bool
}

// Searcher finds the identity whose best sample is most similar to the query.
type Searcher interface {
	Search(query faceid.Vector, g *gallery.Gallery) Candidate
}

// BruteForce scans every sample: per identity it keeps the maximum cosine
// similarity, across identities the global maximum. Ties keep the identity
// that comes first in gallery order.
type BruteForce struct{}

func (BruteForce) Search(query faceid.Vector, g *gallery.Gallery) Candidate {
	var best Candidate
	for _, entry := range g.Entries() {
		score, ok := bestOf(query, entry.Vectors)
		if !ok {
			continue
		}
		if !best.Found || score > best.Score {
			best = Candidate{Identity: entry.Identity, Score: score, Found: true}
		}
	}
	return best
}

func bestOf(query faceid.Vector, vectors []faceid.Vector) (float64, bool) {
	if len(vectors) == 0 {
		return 0, false
	}
	best := faceid.Cosine(query, vectors[0])
	for _, v := range vectors[1:] {
		if sim := faceid.Cosine(query, v); sim > best {
			best = sim
		}
	}
	return best, true
}

// HNSW answers queries from a navigable small-world graph built once per
// gallery snapshot. Only the k nearest samples are scored exactly, so the
// result can differ from BruteForce on large galleries.
type HNSW struct {
	neighbors int

	mu     sync.Mutex
	built  *gallery.Gallery
	graph  *hnsw.Graph[int]
	owners []int // node key -> entry position
}

// NewHNSW creates an HNSW searcher that inspects up to neighbors samples per query.
func NewHNSW(neighbors int) *HNSW {
	if neighbors <= 0 {
		neighbors = 16
	}
	return &HNSW{neighbors: neighbors}
}

func (h *HNSW) Search(query faceid.Vector, g *gallery.Gallery) Candidate {
	graph, owners := h.index(g)
	if graph == nil || graph.Len() == 0 {
		return Candidate{}
	}

	k := h.neighbors
	if n := graph.Len(); k > n {
		k = n
	}

	entries := g.Entries()
	scores := make(map[int]float64, k)
	for _, node := range graph.Search(toFloat32(query), k) {
		pos := owners[node.Key]
		sim := faceid.Cosine(query, faceid.NewVector(faceid.Embedding(node.Value)))
		if prev, ok := scores[pos]; !ok || sim > prev {
			scores[pos] = sim
		}
	}

	var best Candidate
	for pos := range entries {
		score, ok := scores[pos]
		if !ok {
			continue
		}
		if !best.Found || score > best.Score {
			best = Candidate{Identity: entries[pos].Identity, Score: score, Found: true}
		}
	}
	return best
}

func (h *HNSW) index(g *gallery.Gallery) (*hnsw.Graph[int], []int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.built == g {
		return h.graph, h.owners
	}

	graph := hnsw.NewGraph[int]()
	graph.M = h.neighbors
	graph.Ml = 1.0 / float64(h.neighbors)
	graph.Distance = hnsw.CosineDistance

	var owners []int
	for pos, entry := range g.Entries() {
		for i, e := range entry.Embeddings {
			if entry.Vectors[i].IsZero() {
				continue
			}
			graph.Add(hnsw.MakeNode(len(owners), []float32(e)))
			owners = append(owners, pos)
		}
	}

	h.built, h.graph, h.owners = g, graph, owners
	return graph, owners
}

func toFloat32(v faceid.Vector) []float32 {
	out := make([]float32, len(v.Values))
	for i, x := range v.Values {
		out[i] = float32(x)
	}
	return out
}
