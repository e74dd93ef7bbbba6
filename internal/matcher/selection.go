package matcher

import (
	"fmt"

	"github.com/example/facegate/internal/faceid"
)

// FaceSelector picks which detected faces are matched or enrolled when an
// image contains several.
type FaceSelector interface {
	Select(faces []faceid.Face) []faceid.Face
}

// FirstFace keeps the extractor's first detection and ignores the rest.
type FirstFace struct{}

func (FirstFace) Select(faces []faceid.Face) []faceid.Face {
	if len(faces) == 0 {
		return nil
	}
	return faces[:1]
}

// LargestFace keeps the detection with the largest box; ties keep the earlier one.
type LargestFace struct{}

func (LargestFace) Select(faces []faceid.Face) []faceid.Face {
	if len(faces) == 0 {
		return nil
	}
	best := 0
	for i := 1; i < len(faces); i++ {
		if faces[i].BBox.Area() > faces[best].BBox.Area() {
			best = i
		}
	}
	return faces[best : best+1]
}

// AllFaces keeps every detection.
type AllFaces struct{}

func (AllFaces) Select(faces []faceid.Face) []faceid.Face {
	return faces
}

// ParseSelection maps a configured strategy name to a selector.
func ParseSelection(name string) (FaceSelector, error) {
	switch name {
	case "", "first":
		return FirstFace{}, nil
	case "largest":
		return LargestFace{}, nil
	case "all":
		return AllFaces{}, nil
	default:
		return nil, fmt.Errorf("unknown face selection %q", name)
	}
}

// NewSearcher maps a configured search name to a Searcher.
func NewSearcher(name string, neighbors int) (Searcher, error) {
	switch name {
	case "", "bruteforce":
		return BruteForce{}, nil
	case "hnsw":
		return NewHNSW(neighbors), nil
	default:
		return nil, fmt.Errorf("unknown search strategy %q", name)
	}
}
