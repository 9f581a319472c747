package domain

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
)

// ContentTypePNG is the only content type the renderer produces.
const ContentTypePNG = "image/png"

// ImageArtifact is a rendered PNG and its measured properties. It owns its
// buffer; callers receive read-only views and must not modify them.
type ImageArtifact struct {
	data   []byte
	width  int
	height int
	scale  float64
}

// NewPNGArtifact takes ownership of data and records the dimensions decoded
// from its PNG header. Bytes that are not a PNG image are rejected.
func NewPNGArtifact(data []byte, scale float64) (*ImageArtifact, error) {
	if len(data) == 0 {
		return nil, errors.New("empty image buffer")
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode png header: %w", err)
	}
	return &ImageArtifact{data: data, width: cfg.Width, height: cfg.Height, scale: scale}, nil
}

// Bytes returns the encoded PNG. The slice is shared and must be treated as read-only.
func (a *ImageArtifact) Bytes() []byte { return a.data }

// Width is the decoded pixel width.
func (a *ImageArtifact) Width() int { return a.width }

// Height is the decoded pixel height.
func (a *ImageArtifact) Height() int { return a.height }

// Size is the encoded byte length.
func (a *ImageArtifact) Size() int { return len(a.data) }

// Scale is the device scale factor the image was rendered at.
func (a *ImageArtifact) Scale() float64 { return a.scale }

// ContentType is always image/png.
func (a *ImageArtifact) ContentType() string { return ContentTypePNG }

// Bounds returns the image rectangle, convenient for comparisons in callers.
func (a *ImageArtifact) Bounds() image.Rectangle {
	return image.Rect(0, 0, a.width, a.height)
}
