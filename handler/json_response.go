package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmitrymomot/tierkeep/pkg/binder"
	"github.com/dmitrymomot/tierkeep/pkg/validator"
)

// JSONResponse is the standard JSON response structure
type JSONResponse struct {
	Data  any            `json:"data,omitempty"`
	Meta  map[string]any `json:"meta,omitempty"`
	Error *ErrorDetail   `json:"error,omitempty"`
}

// ErrorDetail contains error information
type ErrorDetail struct {
	Code    string              `json:"code,omitempty"`
	Message string              `json:"message,omitempty"`
	Details map[string][]string `json:"details,omitempty"`
}

// jsonResponse implements Response for JSON rendering
type jsonResponse struct {
	status int
	body   JSONResponse
}

func (j jsonResponse) Render(w http.ResponseWriter, r *http.Request) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(j.status)
	return json.NewEncoder(w).Encode(j.body)
}

// JSONOption configures JSON response
type JSONOption func(*jsonResponse)

// WithJSONStatus sets custom HTTP status code
func WithJSONStatus(status int) JSONOption {
	return func(r *jsonResponse) {
		r.status = status
	}
}

// WithJSONMeta adds metadata to response
func WithJSONMeta(meta map[string]any) JSONOption {
	return func(r *jsonResponse) {
		r.body.Meta = meta
	}
}

// JSON creates a JSON response with options
func JSON(v any, opts ...JSONOption) Response {
	r := &jsonResponse{status: http.StatusOK}

	switch val := v.(type) {
	case JSONResponse:
		r.body = val
	case error:
		r.body.Error = ErrorToDetail(val, &r.status)
	default:
		r.body.Data = v
	}

	for _, opt := range opts {
		opt(r)
	}
	return r
}

// JSONError creates a JSON error response from an error with options
func JSONError(err error, opts ...JSONOption) Response {
	r := &jsonResponse{status: http.StatusInternalServerError}
	r.body.Error = ErrorToDetail(err, &r.status)

	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ErrorToDetail converts err to an ErrorDetail and sets the matching status.
// Unclassified errors become a generic 500 so internal messages never leak.
func ErrorToDetail(err error, status *int) *ErrorDetail {
	if verrs := validator.ExtractValidationErrors(err); verrs != nil {
		*status = http.StatusUnprocessableEntity
		details := make(map[string][]string)
		for _, field := range verrs.Fields() {
			details[field] = verrs.Get(field)
		}
		return &ErrorDetail{
			Code:    "VALIDATION_ERROR",
			Message: "request validation failed",
			Details: details,
		}
	}

	var httpErr HTTPError
	if errors.As(err, &httpErr) {
		*status = httpErr.Status
		msg := httpErr.Message
		if msg == "" {
			msg = http.StatusText(httpErr.Status)
		}
		return &ErrorDetail{Code: httpErr.Code, Message: msg}
	}

	if binder.IsBindingError(err) {
		httpErr := ErrBadRequest
		if errors.Is(err, binder.ErrUnsupportedMediaType) || errors.Is(err, binder.ErrMissingContentType) {
			httpErr = ErrUnsupportedMediaType
		}
		*status = httpErr.Status
		return &ErrorDetail{Code: httpErr.Code, Message: err.Error()}
	}

	*status = http.StatusInternalServerError
	return &ErrorDetail{
		Code:    ErrInternalServerError.Code,
		Message: "an error occurred processing your request",
	}
}
