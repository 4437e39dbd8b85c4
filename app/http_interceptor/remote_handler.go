package http_interceptor

import (
	"context"

	model "go_http_interceptor/internal/domain/model/http_interceptor"
)

// RemoteHandler is a handler mirrored on the interceptor server. Mutations return once
// the server has committed them, or with the server's commit error.
type RemoteHandler struct {
	handler *model.Handler
}

func (h *RemoteHandler) ID() string {
	return h.handler.ID()
}

func (h *RemoteHandler) Method() model.HTTPMethod {
	return h.handler.Method()
}

func (h *RemoteHandler) Path() string {
	return h.handler.Path()
}

func (h *RemoteHandler) IsBypassed() bool {
	return h.handler.IsBypassed()
}

func (h *RemoteHandler) HasResponse() bool {
	return h.handler.HasResponse()
}

func (h *RemoteHandler) IsRegistered() bool {
	return h.handler.IsRegistered()
}

// With appends restrictions. They are evaluated in this process and never sent to the server.
func (h *RemoteHandler) With(restrictions ...model.Restriction) *RemoteHandler {
	h.handler.With(restrictions...)
	return h
}

func (h *RemoteHandler) WithHeaders(headers map[string]string) *RemoteHandler {
	return h.With(&model.StaticRestriction{Headers: headers})
}

func (h *RemoteHandler) WithSearchParams(params map[string][]string) *RemoteHandler {
	return h.With(&model.StaticRestriction{SearchParams: params})
}

func (h *RemoteHandler) WithBody(body any) *RemoteHandler {
	return h.With(&model.StaticRestriction{Body: body})
}

func (h *RemoteHandler) Respond(ctx context.Context, decl model.ResponseDeclaration) (*RemoteHandler, error) {
	if err := h.handler.Respond(ctx, decl); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *RemoteHandler) RespondWith(ctx context.Context, factory model.ResponseFactory) (*RemoteHandler, error) {
	if err := h.handler.RespondWith(ctx, factory); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *RemoteHandler) Bypass(ctx context.Context) (*RemoteHandler, error) {
	if err := h.handler.Bypass(ctx); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *RemoteHandler) Requests() ([]*model.NormalizedRequest, error) {
	return h.handler.Requests()
}
