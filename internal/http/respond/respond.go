// Package respond writes the JSON failure body shared by handlers,
// middleware and the server error handler:
//
//	{"success": false, "error": {"code": "...", "type": "...", "message": "..."}}
package respond

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"html2image/internal/domain"
)

// Codes that do not come from the render pipeline.
const (
	CodeValidation           = "VALIDATION_ERROR"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeTokenStoreNotReady   = "TOKEN_STORE_NOT_READY"
	CodeRateLimited          = "RATE_LIMITED"
	CodeStorageNotConfigured = "STORAGE_NOT_CONFIGURED"
	CodeNotFound             = "NOT_FOUND"
)

var types = map[string]string{
	domain.CodeInvalidRequestParameters: "InvalidRequestParameters",
	domain.CodeInvalidMarkup:            "InvalidMarkup",
	domain.CodeRenderTimeout:            "RenderTimeout",
	domain.CodeEngineCrash:              "EngineCrash",
	domain.CodePoolExhausted:            "PoolExhausted",
	domain.CodeUploadError:              "UploadError",
	domain.CodeMissingUpload:            "MissingUpload",
	domain.CodeInternal:                 "InternalError",
	CodeValidation:                      "ValidationError",
	CodeUnauthorized:                    "Unauthorized",
	CodeTokenStoreNotReady:              "TokenStoreNotReady",
	CodeRateLimited:                     "RateLimited",
	CodeStorageNotConfigured:            "StorageNotConfigured",
	CodeNotFound:                        "NotFound",
}

// Detail is one field-level validation problem.
type Detail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type body struct {
	Code    string   `json:"code"`
	Type    string   `json:"type"`
	Message string   `json:"message"`
	Details []Detail `json:"details,omitempty"`
}

// Failure is the JSON envelope of every non-success response.
type Failure struct {
	Success bool `json:"success"`
	Error   body `json:"error"`
}

// Type returns the error type name reported next to code.
func Type(code string) string {
	if t, ok := types[code]; ok {
		return t
	}
	return "Error"
}

// Status maps a pipeline error to its HTTP status.
func Status(err error) int {
	switch {
	case errors.Is(err, domain.ErrUpload):
		return fiber.StatusBadGateway
	case errors.Is(err, domain.ErrInvalidRequestParameters):
		return fiber.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidMarkup):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrRenderTimeout):
		return fiber.StatusRequestTimeout
	case errors.Is(err, domain.ErrPoolExhausted), errors.Is(err, domain.ErrPoolClosed), errors.Is(err, domain.ErrEngineCrash):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, domain.ErrStorageNotConfigured):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// Code returns the wire code for err.
func Code(err error) string {
	if errors.Is(err, domain.ErrStorageNotConfigured) && !errors.Is(err, domain.ErrUpload) {
		return CodeStorageNotConfigured
	}
	return domain.Code(err)
}

// Error writes err as a failure response.
func Error(c *fiber.Ctx, err error) error {
	return JSON(c, Status(err), Code(err), err.Error())
}

// JSON writes a failure response with an explicit status and code.
func JSON(c *fiber.Ctx, status int, code, message string, details ...Detail) error {
	return c.Status(status).JSON(Failure{
		Success: false,
		Error: body{
			Code:    code,
			Type:    Type(code),
			Message: message,
			Details: details,
		},
	})
}

// CodeForStatus derives a code for plain HTTP errors raised by fiber itself.
func CodeForStatus(status int) string {
	switch status {
	case fiber.StatusNotFound:
		return CodeNotFound
	case fiber.StatusUnauthorized:
		return CodeUnauthorized
	case fiber.StatusTooManyRequests:
		return CodeRateLimited
	case fiber.StatusBadRequest, fiber.StatusRequestEntityTooLarge, fiber.StatusUnprocessableEntity:
		return CodeValidation
	}
	if status >= 500 {
		return domain.CodeInternal
	}
	return strings.ToUpper(strings.ReplaceAll(http.StatusText(status), " ", "_"))
}
