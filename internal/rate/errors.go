package rate

import "errors"

// ErrRateLimited is returned when a counter exceeds its budget.
var ErrRateLimited = errors.New("rate limited")

// ErrRedisUnavailable wraps transport-level Redis failures.
var ErrRedisUnavailable = errors.New("rate limiter redis unavailable")
