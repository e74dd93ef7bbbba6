package faceid

import "errors"

// Error kinds shared across the engine. Callers match them with errors.Is;
// concrete failures wrap one of these with %w.
var (
	// ErrStorage covers schema init, read and write failures against the embedding store.
	ErrStorage = errors.New("storage failure")
	// ErrNoFace means the feature extractor returned no faces for an image.
	ErrNoFace = errors.New("no face detected")
	// ErrDecode means the submitted image bytes could not be decoded.
	ErrDecode = errors.New("image decode failed")
	// ErrCapture means the image source failed to deliver a frame.
	ErrCapture = errors.New("capture failed")
	// ErrDimensionMismatch means an embedding does not have the configured dimensionality.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrInvalidEmbedding means an embedding holds a NaN or infinite component.
	ErrInvalidEmbedding = errors.New("embedding has non-finite values")
	// ErrCancelled is returned by an image source when the operator cancels.
	ErrCancelled = errors.New("cancelled by operator")
	// ErrInvalidIdentity means an identity label is empty.
	ErrInvalidIdentity = errors.New("identity must not be empty")
)
