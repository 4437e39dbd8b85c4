package http_interceptor

import (
	"context"

	model "go_http_interceptor/internal/domain/model/http_interceptor"
)

// LocalHandler is a chainable handler. Local mutations never wait on a server,
// so the first error is kept and reported by Err.
type LocalHandler struct {
	handler *model.Handler
	err     error
}

func (h *LocalHandler) ID() string {
	return h.handler.ID()
}

func (h *LocalHandler) Method() model.HTTPMethod {
	return h.handler.Method()
}

func (h *LocalHandler) Path() string {
	return h.handler.Path()
}

func (h *LocalHandler) IsBypassed() bool {
	return h.handler.IsBypassed()
}

func (h *LocalHandler) HasResponse() bool {
	return h.handler.HasResponse()
}

func (h *LocalHandler) IsRegistered() bool {
	return h.handler.IsRegistered()
}

// With appends restrictions; every one of them must pass.
func (h *LocalHandler) With(restrictions ...model.Restriction) *LocalHandler {
	h.handler.With(restrictions...)
	return h
}

// WithHeaders requires each header to be present with the given value.
func (h *LocalHandler) WithHeaders(headers map[string]string) *LocalHandler {
	return h.With(&model.StaticRestriction{Headers: headers})
}

// WithSearchParams requires each search param to carry exactly the given values, in order.
func (h *LocalHandler) WithSearchParams(params map[string][]string) *LocalHandler {
	return h.With(&model.StaticRestriction{SearchParams: params})
}

// WithBody requires the body to contain body (partial match for structured bodies).
func (h *LocalHandler) WithBody(body any) *LocalHandler {
	return h.With(&model.StaticRestriction{Body: body})
}

// Respond sets or replaces the response; a detached handler re-registers as the newest one.
func (h *LocalHandler) Respond(decl model.ResponseDeclaration) *LocalHandler {
	h.keep(h.handler.Respond(context.Background(), decl))
	return h
}

// RespondWith sets a computed response, invoked once per matched request.
func (h *LocalHandler) RespondWith(factory model.ResponseFactory) *LocalHandler {
	h.keep(h.handler.RespondWith(context.Background(), factory))
	return h
}

func (h *LocalHandler) Bypass() *LocalHandler {
	h.keep(h.handler.Bypass(context.Background()))
	return h
}

// Requests returns the matched requests, each with its response attached.
func (h *LocalHandler) Requests() ([]*model.NormalizedRequest, error) {
	return h.handler.Requests()
}

// Err returns the first error of the chain.
func (h *LocalHandler) Err() error {
	return h.err
}

func (h *LocalHandler) keep(err error) {
	if err != nil && h.err == nil {
		h.err = err
	}
}
