package rate

import "errors"

var (
	// ErrRateLimited is returned once a failure budget is spent.
	ErrRateLimited      = errors.New("rate limited")
	ErrRedisUnavailable = errors.New("redis unavailable")
)
