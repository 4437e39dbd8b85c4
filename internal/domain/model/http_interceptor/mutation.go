package model

import "context"

// MutationType names a change to handler state. The values double as RPC message types.
type MutationType string

const (
	MutationCreateHandler    MutationType = "createHandler"
	MutationSetResponse      MutationType = "setResponse"
	MutationBypassHandler    MutationType = "bypassHandler"
	MutationClearInterceptor MutationType = "clearInterceptor"
)

func (t MutationType) IsValid() bool {
	switch t {
	case MutationCreateHandler, MutationSetResponse, MutationBypassHandler, MutationClearInterceptor:
		return true
	default:
		return false
	}
}

// Mutation describes one change to an interceptor's handler registry.
// Restrictions and response factories never leave the process, only identities do.
type Mutation struct {
	Type          MutationType `json:"type"`
	InterceptorID string       `json:"interceptorId"`
	BaseURL       string       `json:"baseUrl"`
	HandlerID     string       `json:"handlerId,omitempty"`
	Method        HTTPMethod   `json:"method,omitempty"`
	Path          string       `json:"path,omitempty"`
}

// HandlerOwner is the registry a handler belongs to. Mutations go through the owner
// so they are committed before they become visible to matching.
type HandlerOwner interface {
	SetHandlerResponse(ctx context.Context, h *Handler, factory ResponseFactory) error
	BypassHandler(ctx context.Context, h *Handler) error
}
