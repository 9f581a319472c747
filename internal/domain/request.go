package domain

import (
	"fmt"
	"math"
	"strings"
)

// DeliveryMode selects how a rendered image is handed back to the caller.
type DeliveryMode int

const (
	// DeliveryURL uploads the image and returns its public URL only.
	DeliveryURL DeliveryMode = iota + 1
	// DeliveryInline returns the image inline as base64 and never touches storage.
	DeliveryInline
	// DeliveryBoth uploads the image and also returns it inline.
	DeliveryBoth
)

// ParseDeliveryMode maps the wire values "url", "base64" and "both" to a
// DeliveryMode. An empty value selects DeliveryURL.
func ParseDeliveryMode(s string) (DeliveryMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "url":
		return DeliveryURL, nil
	case "base64":
		return DeliveryInline, nil
	case "both":
		return DeliveryBoth, nil
	default:
		return 0, fmt.Errorf("%w: unknown response_format %q", ErrInvalidRequestParameters, s)
	}
}

func (m DeliveryMode) String() string {
	switch m {
	case DeliveryURL:
		return "url"
	case DeliveryInline:
		return "base64"
	case DeliveryBoth:
		return "both"
	default:
		return fmt.Sprintf("DeliveryMode(%d)", int(m))
	}
}

// Valid reports whether m is one of the declared modes.
func (m DeliveryMode) Valid() bool {
	switch m {
	case DeliveryURL, DeliveryInline, DeliveryBoth:
		return true
	default:
		return false
	}
}

// NeedsUpload reports whether the mode requires the image to be persisted.
func (m DeliveryMode) NeedsUpload() bool {
	switch m {
	case DeliveryURL, DeliveryBoth:
		return true
	case DeliveryInline:
		return false
	default:
		return false
	}
}

// NeedsInline reports whether the mode returns the encoded bytes.
func (m DeliveryMode) NeedsInline() bool {
	switch m {
	case DeliveryInline, DeliveryBoth:
		return true
	case DeliveryURL:
		return false
	default:
		return false
	}
}

// RenderRequest is a validated-upstream request to rasterize one document.
type RenderRequest struct {
	HTML        string
	CSS         string
	Width       int
	Height      int
	Scale       float64
	FullPage    bool
	Transparent bool
	Mode        DeliveryMode
}

// Limits bounds what a single request may ask of the renderer.
type Limits struct {
	MaxWidth     int
	MaxHeight    int
	MinScale     float64
	MaxScale     float64
	MaxHTMLBytes int
	MaxCSSBytes  int
}

// Validate checks the request against l. Zero-valued limits are not enforced.
func (r RenderRequest) Validate(l Limits) error {
	if strings.TrimSpace(r.HTML) == "" {
		return fmt.Errorf("%w: html must not be empty", ErrInvalidRequestParameters)
	}
	if l.MaxHTMLBytes > 0 && len(r.HTML) > l.MaxHTMLBytes {
		return fmt.Errorf("%w: html exceeds %d bytes", ErrInvalidRequestParameters, l.MaxHTMLBytes)
	}
	if l.MaxCSSBytes > 0 && len(r.CSS) > l.MaxCSSBytes {
		return fmt.Errorf("%w: css exceeds %d bytes", ErrInvalidRequestParameters, l.MaxCSSBytes)
	}
	if r.Width < 1 || (l.MaxWidth > 0 && r.Width > l.MaxWidth) {
		return fmt.Errorf("%w: width must be between 1 and %d, got %d", ErrInvalidRequestParameters, l.MaxWidth, r.Width)
	}
	if r.Height < 1 || (l.MaxHeight > 0 && r.Height > l.MaxHeight) {
		return fmt.Errorf("%w: height must be between 1 and %d, got %d", ErrInvalidRequestParameters, l.MaxHeight, r.Height)
	}
	if math.IsNaN(r.Scale) || r.Scale <= 0 ||
		(l.MinScale > 0 && r.Scale < l.MinScale) ||
		(l.MaxScale > 0 && r.Scale > l.MaxScale) {
		return fmt.Errorf("%w: scale must be between %g and %g, got %g", ErrInvalidRequestParameters, l.MinScale, l.MaxScale, r.Scale)
	}
	if !r.Mode.Valid() {
		return fmt.Errorf("%w: unknown delivery mode %d", ErrInvalidRequestParameters, int(r.Mode))
	}
	return nil
}
