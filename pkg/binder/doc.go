// Package binder decodes HTTP requests into typed structs for handler.Wrap.
//
// JSON reads an application/json body of at most DefaultMaxJSONSize bytes
// in strict mode (unknown fields and trailing data are errors). Path fills
// fields tagged `path:"name"` from router URL parameters.
//
// Every failure wraps one of the package sentinels so that callers can map
// it to a status code with IsBindingError and errors.Is.
package binder
