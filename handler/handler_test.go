package handler_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/tierkeep/handler"
	"github.com/dmitrymomot/tierkeep/pkg/binder"
)

type cancelRequest struct {
	UserID string `path:"userId"`
	Reason string `json:"reason"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) handler.JSONResponse {
	t.Helper()
	var env handler.JSONResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestWrap(t *testing.T) {
	t.Parallel()

	pathBinder := binder.Path(func(_ *http.Request, key string) string {
		if key == "userId" {
			return "u-1"
		}
		return ""
	})

	t.Run("binds in order and renders", func(t *testing.T) {
		t.Parallel()

		h := handler.Wrap(func(_ handler.Context, req cancelRequest) handler.Response {
			return handler.JSON(req, handler.WithJSONStatus(http.StatusAccepted))
		}, handler.WithBinders[handler.Context, cancelRequest](binder.JSON(), pathBinder))

		r := httptest.NewRequest(http.MethodPost, "/subscription/u-1/cancel", strings.NewReader(`{"reason":"too pricey"}`))
		r.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		h(rec, r)

		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
		assert.JSONEq(t, `{"data":{"UserID":"u-1","reason":"too pricey"}}`, rec.Body.String())
	})

	t.Run("binding error short-circuits", func(t *testing.T) {
		t.Parallel()

		called := false
		h := handler.Wrap(func(_ handler.Context, _ cancelRequest) handler.Response {
			called = true
			return handler.JSON(nil)
		}, handler.WithBinders[handler.Context, cancelRequest](binder.JSON()))

		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
		r.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		h(rec, r)

		assert.False(t, called)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "BAD_REQUEST", decodeEnvelope(t, rec).Error.Code)
	})

	t.Run("nil response goes to error handler", func(t *testing.T) {
		t.Parallel()

		var got error
		h := handler.Wrap(func(_ handler.Context, _ struct{}) handler.Response {
			return nil
		}, handler.WithErrorHandler[handler.Context, struct{}](func(_ handler.Context, err error) {
			got = err
		}))

		h(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
		assert.ErrorIs(t, got, handler.ErrNilResponse)
	})

	t.Run("decorators wrap outermost first", func(t *testing.T) {
		t.Parallel()

		var order []string
		mark := func(name string) handler.Decorator[handler.Context, struct{}] {
			return func(next handler.HandlerFunc[handler.Context, struct{}]) handler.HandlerFunc[handler.Context, struct{}] {
				return func(ctx handler.Context, req struct{}) handler.Response {
					order = append(order, name)
					return next(ctx, req)
				}
			}
		}

		h := handler.Wrap(func(_ handler.Context, _ struct{}) handler.Response {
			order = append(order, "handler")
			return handler.JSON("ok")
		}, handler.WithDecorators(mark("outer"), mark("inner")))

		h(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, []string{"outer", "inner", "handler"}, order)
	})

	t.Run("context exposes request and writer", func(t *testing.T) {
		t.Parallel()

		rec := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		h := handler.Wrap(func(ctx handler.Context, _ struct{}) handler.Response {
			assert.Same(t, r, ctx.Request())
			assert.NoError(t, ctx.Err())
			return handler.JSON("ok")
		})
		h(rec, r)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestJSONError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantMsg    string
	}{
		{
			name:       "http error with message",
			err:        handler.NewHTTPError(http.StatusConflict, "DEVICE_TRIAL_USED", "trial already used on this device"),
			wantStatus: http.StatusConflict,
			wantCode:   "DEVICE_TRIAL_USED",
			wantMsg:    "trial already used on this device",
		},
		{
			name:       "http error falls back to status text",
			err:        handler.ErrNotFound,
			wantStatus: http.StatusNotFound,
			wantCode:   "NOT_FOUND",
			wantMsg:    "Not Found",
		},
		{
			name:       "wrapped http error",
			err:        errors.Join(errors.New("lookup"), handler.ErrForbidden),
			wantStatus: http.StatusForbidden,
			wantCode:   "FORBIDDEN",
		},
		{
			name:       "unsupported media type",
			err:        binder.ErrUnsupportedMediaType,
			wantStatus: http.StatusUnsupportedMediaType,
			wantCode:   "UNSUPPORTED_MEDIA_TYPE",
		},
		{
			name:       "unclassified error hides message",
			err:        errors.New("pq: connection refused"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "INTERNAL_ERROR",
			wantMsg:    "an error occurred processing your request",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := httptest.NewRecorder()
			require.NoError(t, handler.JSONError(tt.err).Render(rec, httptest.NewRequest(http.MethodGet, "/", nil)))

			assert.Equal(t, tt.wantStatus, rec.Code)
			env := decodeEnvelope(t, rec)
			require.NotNil(t, env.Error)
			assert.Nil(t, env.Data)
			assert.Equal(t, tt.wantCode, env.Error.Code)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, env.Error.Message)
			}
		})
	}
}

func TestJSON(t *testing.T) {
	t.Parallel()

	t.Run("data with meta", func(t *testing.T) {
		t.Parallel()

		rec := httptest.NewRecorder()
		resp := handler.JSON(map[string]string{"type": "pro"}, handler.WithJSONMeta(map[string]any{"source": "cache"}))
		require.NoError(t, resp.Render(rec, httptest.NewRequest(http.MethodGet, "/", nil)))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"data":{"type":"pro"},"meta":{"source":"cache"}}`, rec.Body.String())
	})

	t.Run("error value renders as error", func(t *testing.T) {
		t.Parallel()

		rec := httptest.NewRecorder()
		require.NoError(t, handler.JSON(handler.ErrConflict).Render(rec, httptest.NewRequest(http.MethodGet, "/", nil)))
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}
