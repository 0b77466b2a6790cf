// Package clientip resolves the originating client address of a request
// behind reverse proxies.
//
// GetIP checks CF-Connecting-IP, X-Forwarded-For (first valid entry) and
// X-Real-IP before falling back to RemoteAddr. Middleware stores the result in
// the request context where FromContext, KeyFunc and LoggerExtractor read it.
//
// GetIP never fails: when nothing parses as an IP it returns "".
package clientip
