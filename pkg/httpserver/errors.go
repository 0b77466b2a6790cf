package httpserver

import "errors"

var (
	ErrStart          = errors.New("http server: listen failed")
	ErrServe          = errors.New("http server: serve failed")
	ErrShutdown       = errors.New("http server: graceful shutdown failed")
	ErrAlreadyRunning = errors.New("http server: already running")
)
