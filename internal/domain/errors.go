package domain

import (
	"errors"
)

var (
	// ErrInvalidRequestParameters signals dimensions, scale or payload sizes outside the configured bounds.
	ErrInvalidRequestParameters = errors.New("invalid request parameters")
	// ErrInvalidMarkup signals that the browser could not load the document within the load timeout.
	ErrInvalidMarkup = errors.New("invalid markup")
	// ErrRenderTimeout signals that the capture exceeded its deadline or the caller gave up.
	ErrRenderTimeout = errors.New("render timeout")
	// ErrEngineCrash signals that the browser tab or process went away mid-operation.
	ErrEngineCrash = errors.New("engine crash")
	// ErrPoolExhausted signals that no browser tab became free in time.
	ErrPoolExhausted = errors.New("browser pool exhausted")
	// ErrPoolClosed signals that the browser pool has been shut down.
	ErrPoolClosed = errors.New("browser pool closed")
	// ErrUpload wraps any failure of the object storage collaborator.
	ErrUpload = errors.New("upload failed")
	// ErrStorageNotConfigured signals that a persisting delivery mode was requested without storage.
	ErrStorageNotConfigured = errors.New("object storage not configured")
	// ErrMissingUpload signals that a URL delivery was assembled without an upload result.
	ErrMissingUpload = errors.New("url delivery requires an upload result")

	// ErrInvalidAPIKey signals that the provided API key is not known.
	ErrInvalidAPIKey = errors.New("invalid api key")
	// ErrTokenStoreNotReady signals that the token store has not been loaded yet.
	// This can happen during startup when the DB isn't ready.
	ErrTokenStoreNotReady = errors.New("token store not ready")
)

// Wire codes reported to callers in failure responses.
const (
	CodeInvalidRequestParameters = "INVALID_REQUEST_PARAMETERS"
	CodeInvalidMarkup            = "INVALID_MARKUP"
	CodeRenderTimeout            = "RENDER_TIMEOUT"
	CodeEngineCrash              = "ENGINE_CRASH"
	CodePoolExhausted            = "POOL_EXHAUSTED"
	CodeUploadError              = "UPLOAD_ERROR"
	CodeMissingUpload            = "MISSING_UPLOAD"
	CodeInternal                 = "INTERNAL_ERROR"
)

// Code maps an error from the render pipeline to its stable wire code.
// Upload failures are checked first so that "rendering succeeded, delivery
// failed" is never reported as a render failure.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUpload):
		return CodeUploadError
	case errors.Is(err, ErrInvalidRequestParameters):
		return CodeInvalidRequestParameters
	case errors.Is(err, ErrInvalidMarkup):
		return CodeInvalidMarkup
	case errors.Is(err, ErrRenderTimeout):
		return CodeRenderTimeout
	case errors.Is(err, ErrEngineCrash):
		return CodeEngineCrash
	case errors.Is(err, ErrPoolExhausted), errors.Is(err, ErrPoolClosed):
		return CodePoolExhausted
	case errors.Is(err, ErrMissingUpload):
		return CodeMissingUpload
	default:
		return CodeInternal
	}
}
