// Package imagesource turns uploaded payloads, files and camera frames into
// encoded images for the feature extractor.
package imagesource

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/example/facegate/internal/faceid"
)

// Image is a validated encoded image.
type Image struct {
	Data   []byte
	Format string
	Width  int
	Height int
}

// DecodePayload accepts a data URL ("data:image/jpeg;base64,...") or bare
// base64 and returns the decoded image bytes after checking they form a
// readable image. All failures wrap faceid.ErrDecode.
func DecodePayload(payload string) (*Image, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, fmt.Errorf("%w: no image provided", faceid.ErrDecode)
	}

	encoded := payload
	if strings.HasPrefix(payload, "data:") {
		_, after, ok := strings.Cut(payload, ",")
		if !ok {
			return nil, fmt.Errorf("%w: no image provided", faceid.ErrDecode)
		}
		encoded = after
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		if raw, err = base64.RawStdEncoding.DecodeString(encoded); err != nil {
			return nil, fmt.Errorf("%w: invalid base64: %w", faceid.ErrDecode, err)
		}
	}
	return DecodeBytes(raw)
}

// DecodeBytes validates an encoded image.
func DecodeBytes(raw []byte) (*Image, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty image", faceid.ErrDecode)
	}
	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", faceid.ErrDecode, err)
	}
	bounds := img.Bounds()
	return &Image{Data: raw, Format: format, Width: bounds.Dx(), Height: bounds.Dy()}, nil
}
