// Package ratelimit implements fixed-window request counters in Redis.
//
// Every counter lives under ratelimit:<type>:<identifier>:<endpoint>. The
// first increment of a window sets its expiry, so a window starts at the
// first request and the counter disappears when it ends.
//
// Default rules:
//
//	IP       - 100 requests per 60s
//	USER     - 1000 requests per 60s
//	ENDPOINT - 5000 requests per 60s
//
// Limiter.Check only reads a counter and Limiter.Increment only writes it.
// Middleware composes the two for every request: the caller's key (user when
// authenticated, IP otherwise) and the endpoint key are both incremented,
// and the request is refused with 429 when either exceeds its rule.
package ratelimit
