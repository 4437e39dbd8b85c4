package model

import "errors"

var (
	// ErrNotStarted is returned when handlers are created on an interceptor that is not running.
	ErrNotStarted = errors.New("interceptor is not running")
	// ErrRequestSavingDisabled is returned by Handler.Requests when saving was not enabled.
	ErrRequestSavingDisabled = errors.New("request saving is disabled for this interceptor")
	ErrUnknownInterceptorType = errors.New("unknown interceptor type")
	ErrInvalidPathPattern     = errors.New("invalid path pattern")
	ErrInvalidMethod          = errors.New("invalid http method")
	ErrInvalidResponse        = errors.New("invalid response declaration")
	// ErrUnsupportedUnhandledAction is returned when a remote interceptor is configured to bypass.
	ErrUnsupportedUnhandledAction = errors.New("unhandled request action is not supported by this interceptor type")
	// ErrNetworkRejected is the synthetic network failure produced by the reject strategy.
	ErrNetworkRejected = errors.New("network request rejected: no handler matched")
)
