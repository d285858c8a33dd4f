package exception

import "github.com/yanun0323/errors"

// Upstream (REST fallback) errors
var (
	ErrUpstreamStatus      = errors.New("upstream: unexpected status code")
	ErrUpstreamEmpty       = errors.New("upstream: empty ticker response")
	ErrUpstreamRejected    = errors.New("upstream: response reported an error")
	ErrUpstreamUnsupported = errors.New("upstream: unsupported exchange")
)
