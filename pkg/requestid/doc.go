// Package requestid attaches a correlation ID to every HTTP request.
//
// Middleware accepts a client-supplied X-Request-ID when it is at most 128
// characters of [a-zA-Z0-9_-], otherwise it generates a UUID. The ID is
// available through FromContext and is added to log records by
// LoggerExtractor.
package requestid
