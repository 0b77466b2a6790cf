package handler

import (
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/tierkeep/pkg/logger"
	"github.com/dmitrymomot/tierkeep/pkg/requestid"
)

// NewErrorHandler returns an ErrorHandler that logs the error with request
// context and renders it as a JSON error envelope.
// Client errors log at WARN, server errors at ERROR.
func NewErrorHandler(log *slog.Logger) ErrorHandler[Context] {
	if log == nil {
		log = slog.Default()
	}

	return func(ctx Context, err error) {
		r := ctx.Request()

		status := http.StatusInternalServerError
		detail := ErrorToDetail(err, &status)

		level := slog.LevelError
		if status < http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		log.LogAttrs(r.Context(), level, "request error",
			logger.RequestID(requestid.FromContext(r.Context())),
			logger.Error(err),
			slog.Int("status_code", status),
			slog.String("error_code", detail.Code),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			logger.Component("http"),
		)

		resp := jsonResponse{status: status, body: JSONResponse{Error: detail}}
		if renderErr := resp.Render(ctx.ResponseWriter(), r); renderErr != nil {
			log.ErrorContext(r.Context(), "failed to render error response", logger.Error(renderErr))
		}
	}
}

// defaultErrorHandler renders the JSON error envelope without logging.
func defaultErrorHandler[C Context](ctx C, err error) {
	_ = JSONError(err).Render(ctx.ResponseWriter(), ctx.Request())
}
