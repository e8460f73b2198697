package harness

import "errors"

// Every error returned by Suite and New wraps exactly one of the first five
// sentinels, so callers can tell the failing phase apart with errors.Is.
var (
	ErrConfiguration = errors.New("harness: configuration failed")
	ErrPackaging     = errors.New("harness: packaging failed")
	ErrStart         = errors.New("harness: server start failed")
	ErrDeploy        = errors.New("harness: deploy failed")
	ErrStop          = errors.New("harness: server stop failed")

	ErrServerUnavailable = errors.New("harness: server unavailable")
	ErrInvalidAppID      = errors.New("harness: invalid application id")
)
