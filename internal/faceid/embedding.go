package faceid

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// Unknown is the identity reported when no enrolled identity is accepted.
const Unknown = "Unknown"

// Embedding is a fixed-length face feature vector produced by the feature extractor.
type Embedding []float32

// Validate checks the embedding against the configured dimensionality and
// rejects NaN or infinite components.
func (e Embedding) Validate(dim int) error {
	if len(e) != dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(e), dim)
	}
	for i, v := range e {
		if f := float64(v); math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: component %d is %v", ErrInvalidEmbedding, i, v)
		}
	}
	return nil
}

// Clone returns a copy that does not share the backing array.
func (e Embedding) Clone() Embedding {
	out := make(Embedding, len(e))
	copy(out, e)
	return out
}

// Float64 widens the embedding for similarity arithmetic.
func (e Embedding) Float64() []float64 {
	out := make([]float64, len(e))
	for i, v := range e {
		out[i] = float64(v)
	}
	return out
}

// Encode serializes the embedding as consecutive little-endian IEEE-754 float32
// values with no header, so a blob is exactly len(e)*4 bytes.
func (e Embedding) Encode() []byte {
	buf := make([]byte, len(e)*4)
	for i, v := range e {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// DecodeEmbedding parses a blob written by Encode and enforces the dimensionality.
func DecodeEmbedding(blob []byte, dim int) (Embedding, error) {
	if len(blob) != dim*4 {
		return nil, fmt.Errorf("%w: blob has %d bytes, want %d", ErrDimensionMismatch, len(blob), dim*4)
	}
	out := make(Embedding, dim)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return out, nil
}

// NormalizeIdentity trims the label and rejects empty ones.
func NormalizeIdentity(identity string) (string, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return "", ErrInvalidIdentity
	}
	return identity, nil
}
