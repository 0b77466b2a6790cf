package redis

import "errors"

var (
	ErrFailedToParseRedisConnString = errors.New("failed to parse redis connection string")
	ErrRedisNotReady                = errors.New("redis did not become ready within the given time period")
	ErrEmptyConnectionURL           = errors.New("empty redis connection URL")
	ErrHealthcheckFailed            = errors.New("redis healthcheck failed")
	ErrEmptyKey                     = errors.New("redis key must not be empty")
	ErrLockFailed                   = errors.New("redis lock operation failed")
	ErrDedupeFailed                 = errors.New("redis dedupe operation failed")
)
