package faceid

// BBox is a detection rectangle in corner form as returned by the extractor.
type BBox struct {
	X1, Y1, X2, Y2 float64
}

// Box is the rectangle shape exposed to API clients.
type Box struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Box converts corner coordinates to origin plus size, truncating like an int cast.
func (b BBox) Box() Box {
	x1, y1 := int(b.X1), int(b.Y1)
	return Box{X: x1, Y: y1, Width: int(b.X2) - x1, Height: int(b.Y2) - y1}
}

// Area is used by the largest-face selection strategy.
func (b BBox) Area() float64 {
	w, h := b.X2-b.X1, b.Y2-b.Y1
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Face is one detection produced by the feature extractor.
type Face struct {
	Embedding Embedding
	BBox      BBox
	Score     float64
}
