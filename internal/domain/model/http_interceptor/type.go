package model

import "strings"

// HTTPMethod is an upper-case HTTP request method.
type HTTPMethod string

const (
	MethodGet     HTTPMethod = "GET"
	MethodPost    HTTPMethod = "POST"
	MethodPut     HTTPMethod = "PUT"
	MethodPatch   HTTPMethod = "PATCH"
	MethodDelete  HTTPMethod = "DELETE"
	MethodHead    HTTPMethod = "HEAD"
	MethodOptions HTTPMethod = "OPTIONS"
)

// ParseHTTPMethod normalizes a method name; ok is false for methods handlers cannot target.
func ParseHTTPMethod(method string) (HTTPMethod, bool) {
	m := HTTPMethod(strings.ToUpper(strings.TrimSpace(method)))
	switch m {
	case MethodGet, MethodPost, MethodPut, MethodPatch, MethodDelete, MethodHead, MethodOptions:
		return m, true
	default:
		return m, false
	}
}

func (m HTTPMethod) String() string {
	return string(m)
}

// InterceptorType 拦截器类型
type InterceptorType string

const (
	InterceptorTypeLocal  InterceptorType = "local"
	InterceptorTypeRemote InterceptorType = "remote"
)

func (t InterceptorType) IsValid() bool {
	switch t {
	case InterceptorTypeLocal, InterceptorTypeRemote:
		return true
	default:
		return false
	}
}

// HandlerState tracks whether a handler is currently inside its client's registry.
type HandlerState int

const (
	HandlerStateUnregistered HandlerState = iota
	HandlerStateRegistered
)

func (s HandlerState) String() string {
	switch s {
	case HandlerStateRegistered:
		return "registered"
	default:
		return "unregistered"
	}
}

// UnhandledAction 未匹配请求的处理方式
type UnhandledAction string

const (
	UnhandledActionBypass UnhandledAction = "bypass"
	UnhandledActionReject UnhandledAction = "reject"
)

func (a UnhandledAction) IsValid() bool {
	switch a {
	case UnhandledActionBypass, UnhandledActionReject:
		return true
	default:
		return false
	}
}
