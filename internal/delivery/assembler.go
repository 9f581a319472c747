// Package delivery shapes a rendered image into the caller-facing result.
package delivery

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"html2image/internal/domain"
)

const dataURIPrefix = "data:" + domain.ContentTypePNG + ";base64,"

// Assembler builds Results. It performs no I/O.
type Assembler struct {
	now func() time.Time
}

// NewAssembler returns an Assembler stamping results with the current time.
func NewAssembler() *Assembler {
	return &Assembler{now: time.Now}
}

// Assemble builds the result for mode. upload must be present for modes that
// persist the image and is ignored for inline-only delivery.
func (a *Assembler) Assemble(art *domain.ImageArtifact, upload *domain.UploadResult, mode domain.DeliveryMode) (domain.Result, error) {
	if art == nil {
		return domain.Result{}, errors.New("assemble: no artifact")
	}

	res := domain.Result{Success: true, Metadata: a.metadata(art)}
	switch mode {
	case domain.DeliveryURL:
		if upload == nil {
			return domain.Result{}, domain.ErrMissingUpload
		}
		res.URL = &upload.URL
		withStorage(&res.Metadata, upload)
	case domain.DeliveryInline:
		inline := EncodeDataURI(art)
		res.Base64 = &inline
	case domain.DeliveryBoth:
		if upload == nil {
			return domain.Result{}, domain.ErrMissingUpload
		}
		inline := EncodeDataURI(art)
		res.URL = &upload.URL
		res.Base64 = &inline
		withStorage(&res.Metadata, upload)
	default:
		return domain.Result{}, fmt.Errorf("%w: unknown delivery mode %d", domain.ErrInvalidRequestParameters, int(mode))
	}
	return res, nil
}

func (a *Assembler) metadata(art *domain.ImageArtifact) domain.Metadata {
	return domain.Metadata{
		Width:       art.Width(),
		Height:      art.Height(),
		SizeBytes:   art.Size(),
		ContentType: art.ContentType(),
		Scale:       art.Scale(),
		GeneratedAt: a.now().UTC(),
	}
}

func withStorage(m *domain.Metadata, upload *domain.UploadResult) {
	m.StorageKey = upload.Key
	m.StorageBucket = upload.Bucket
}

// EncodeDataURI returns the artifact as a data:image/png;base64 URI.
func EncodeDataURI(art *domain.ImageArtifact) string {
	data := art.Bytes()
	buf := make([]byte, len(dataURIPrefix)+base64.StdEncoding.EncodedLen(len(data)))
	copy(buf, dataURIPrefix)
	base64.StdEncoding.Encode(buf[len(dataURIPrefix):], data)
	return string(buf)
}
