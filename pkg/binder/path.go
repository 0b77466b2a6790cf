package binder

import (
	"fmt"
	"net/http"
	"reflect"
)

// Path creates a path parameter binder using the router's extractor,
// e.g. chi.URLParam. Fields are matched by their `path:"name"` tag;
// `path:"-"` skips a field and untagged fields are ignored.
//
//	type CancelRequest struct {
//		UserID string `path:"userId"`
//	}
//
//	r.Post("/subscription/{userId}/cancel", handler.Wrap(cancel,
//		handler.WithBinders[handler.Context, CancelRequest](binder.Path(chi.URLParam)),
//	))
func Path(extractor func(r *http.Request, key string) string) func(r *http.Request, v any) error {
	return func(r *http.Request, v any) error {
		if extractor == nil {
			return fmt.Errorf("%w: extractor function is nil", ErrFailedToParsePath)
		}

		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Ptr || rv.IsNil() {
			return fmt.Errorf("%w: target must be a non-nil pointer", ErrFailedToParsePath)
		}
		rv = rv.Elem()
		if rv.Kind() != reflect.Struct {
			return fmt.Errorf("%w: target must be a pointer to struct", ErrFailedToParsePath)
		}

		rt := rv.Type()
		for i := range rv.NumField() {
			field := rv.Field(i)
			fieldType := rt.Field(i)
			if !field.CanSet() {
				continue
			}

			name, ok := pathTag(fieldType)
			if !ok {
				continue
			}

			value := extractor(r, name)
			if value == "" {
				continue
			}
			if err := setFieldValue(field, fieldType.Type, value); err != nil {
				return fmt.Errorf("%w: field %s: %v", ErrFailedToParsePath, fieldType.Name, err)
			}
		}
		return nil
	}
}
