// Package matcher turns a query embedding into an identity decision against a
// gallery snapshot.
package matcher

import (
	"fmt"

	"github.com/example/facegate/internal/faceid"
	"github.com/example/facegate/internal/gallery"
)

// ScorePolicy decides which score a call site reports for a rejected match.
type ScorePolicy string

const (
	// ScoreRaw always reports the best similarity found, so near misses are visible.
	ScoreRaw ScorePolicy = "raw"
	// ScoreZeroBelowThreshold reports 0 whenever the match is rejected.
	ScoreZeroBelowThreshold ScorePolicy = "zero_below_threshold"
)

// ParseScorePolicy validates a configured policy name.
func ParseScorePolicy(name string) (ScorePolicy, error) {
	switch p := ScorePolicy(name); p {
	case ScoreRaw, ScoreZeroBelowThreshold:
		return p, nil
	default:
		return "", fmt.Errorf("unknown score policy %q", name)
	}
}

// Result is the decision for one query.
type Result struct {
	// Identity is the accepted identity or faceid.Unknown.
	Identity string
	// Nearest is the best-scoring identity even when it was rejected.
	Nearest string
	// Score is the raw best similarity, 0 when the gallery is empty.
	Score    float64
	Accepted bool
}

// ReportedScore applies policy to the raw score.
func (r Result) ReportedScore(policy ScorePolicy) float64 {
	if !r.Accepted && policy == ScoreZeroBelowThreshold {
		return 0
	}
	return r.Score
}

// Unknown is the result for an empty gallery or degenerate query.
func Unknown() Result {
	return Result{Identity: faceid.Unknown}
}

// Matcher applies the acceptance threshold on top of a Searcher.
type Matcher struct {
	threshold float64
	dim       int
	searcher  Searcher
}

// New builds a matcher. Acceptance is inclusive: score >= threshold.
func New(threshold float64, dim int, searcher Searcher) (*Matcher, error) {
	if threshold <= 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be in (0, 1], got %v", threshold)
	}
	if dim <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive, got %d", faceid.ErrDimensionMismatch, dim)
	}
	if searcher == nil {
		searcher = BruteForce{}
	}
	return &Matcher{threshold: threshold, dim: dim, searcher: searcher}, nil
}

func (m *Matcher) Threshold() float64 { return m.threshold }

// Match finds the best identity for query. It never fails for an empty gallery
// or a zero vector; those yield Unknown with score 0.
func (m *Matcher) Match(query faceid.Embedding, g *gallery.Gallery) (Result, error) {
	if err := query.Validate(m.dim); err != nil {
		return Result{}, err
	}
	if g == nil || g.Len() == 0 {
		return Unknown(), nil
	}
	if g.Dim() != m.dim {
		return Result{}, fmt.Errorf("%w: gallery has %d, matcher has %d", faceid.ErrDimensionMismatch, g.Dim(), m.dim)
	}

	q := faceid.NewVector(query)
	if q.IsZero() {
		return Unknown(), nil
	}

	best := m.searcher.Search(q, g)
	if !best.Found {
		return Unknown(), nil
	}

	result := Result{Identity: faceid.Unknown, Nearest: best.Identity, Score: best.Score}
	if best.Score >= m.threshold {
		result.Identity = best.Identity
		result.Accepted = true
	}
	return result, nil
}
