package handler

import (
	"errors"
	"net/http"
)

// ErrNilResponse indicates a handler returned nil instead of a Response
var ErrNilResponse = errors.New("handler returned nil response")

// HTTPError carries a status code and a stable machine-readable code.
// Message is optional; when empty the status text is returned to clients.
type HTTPError struct {
	Status  int
	Code    string
	Message string
}

// Error implements the error interface.
func (e HTTPError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Code
}

// WithMessage returns a copy of e carrying a client-facing message.
func (e HTTPError) WithMessage(msg string) HTTPError {
	e.Message = msg
	return e
}

// NewHTTPError creates a custom HTTP error.
//
// Example:
//
//	var ErrDeviceTrialUsed = handler.NewHTTPError(http.StatusConflict, "DEVICE_TRIAL_USED", "")
func NewHTTPError(status int, code, message string) HTTPError {
	return HTTPError{Status: status, Code: code, Message: message}
}

var (
	ErrBadRequest           = HTTPError{Status: http.StatusBadRequest, Code: "BAD_REQUEST"}
	ErrUnauthorized         = HTTPError{Status: http.StatusUnauthorized, Code: "UNAUTHORIZED"}
	ErrForbidden            = HTTPError{Status: http.StatusForbidden, Code: "FORBIDDEN"}
	ErrNotFound             = HTTPError{Status: http.StatusNotFound, Code: "NOT_FOUND"}
	ErrConflict             = HTTPError{Status: http.StatusConflict, Code: "CONFLICT"}
	ErrRequestTooLarge      = HTTPError{Status: http.StatusRequestEntityTooLarge, Code: "REQUEST_TOO_LARGE"}
	ErrUnsupportedMediaType = HTTPError{Status: http.StatusUnsupportedMediaType, Code: "UNSUPPORTED_MEDIA_TYPE"}
	ErrUnprocessableEntity  = HTTPError{Status: http.StatusUnprocessableEntity, Code: "UNPROCESSABLE_ENTITY"}
	ErrInternalServerError  = HTTPError{Status: http.StatusInternalServerError, Code: "INTERNAL_ERROR"}
	ErrBadGateway           = HTTPError{Status: http.StatusBadGateway, Code: "BAD_GATEWAY"}
	ErrServiceUnavailable   = HTTPError{Status: http.StatusServiceUnavailable, Code: "SERVICE_UNAVAILABLE"}
)
