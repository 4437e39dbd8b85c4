package model

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Handler is a single registered mock: method + path pattern, restrictions and a response.
type Handler struct {
	id           string
	method       HTTPMethod
	path         string
	pattern      *PathPattern
	owner        HandlerOwner
	saveRequests bool

	mu           sync.RWMutex
	restrictions []Restriction
	responder    ResponseFactory
	bypassed     bool
	state        HandlerState
	seq          uint64
	requests     []*NormalizedRequest
}

// NewHandler creates an unregistered handler without a response.
func NewHandler(owner HandlerOwner, method HTTPMethod, pattern *PathPattern, saveRequests bool) *Handler {
	return &Handler{
		id:           uuid.NewString(),
		method:       method,
		path:         pattern.Template(),
		pattern:      pattern,
		owner:        owner,
		saveRequests: saveRequests,
		state:        HandlerStateUnregistered,
	}
}

func (h *Handler) ID() string {
	return h.id
}

func (h *Handler) Method() HTTPMethod {
	return h.method
}

// Path returns the normalized path template the handler was declared with.
func (h *Handler) Path() string {
	return h.path
}

func (h *Handler) Pattern() *PathPattern {
	return h.pattern
}

// With appends restrictions. All of them must pass, in declaration order.
func (h *Handler) With(restrictions ...Restriction) *Handler {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range restrictions {
		if r != nil {
			h.restrictions = append(h.restrictions, r)
		}
	}
	return h
}

// Respond sets or replaces a static response. A bypassed or detached handler
// becomes matchable again as the most recently declared one.
func (h *Handler) Respond(ctx context.Context, decl ResponseDeclaration) error {
	if err := decl.Validate(); err != nil {
		return err
	}
	return h.RespondWith(ctx, StaticResponse(decl))
}

// RespondWith sets or replaces a computed response. The factory runs once per matched request.
func (h *Handler) RespondWith(ctx context.Context, factory ResponseFactory) error {
	if factory == nil {
		return fmt.Errorf("%w: response factory is nil", ErrInvalidResponse)
	}
	return h.owner.SetHandlerResponse(ctx, h, factory)
}

// Bypass excludes the handler from matching. Declarations and position are kept.
func (h *Handler) Bypass(ctx context.Context) error {
	return h.owner.BypassHandler(ctx, h)
}

// Requests returns a copy of the saved request log.
func (h *Handler) Requests() ([]*NormalizedRequest, error) {
	if !h.saveRequests {
		return nil, ErrRequestSavingDisabled
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*NormalizedRequest, len(h.requests))
	copy(out, h.requests)
	return out, nil
}

func (h *Handler) IsBypassed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.bypassed
}

func (h *Handler) HasResponse() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.responder != nil
}

func (h *Handler) State() HandlerState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

func (h *Handler) IsRegistered() bool {
	return h.State() == HandlerStateRegistered
}

// Seq is the registry position; higher is more recent.
func (h *Handler) Seq() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seq
}

// IsMatchable reports whether the handler takes part in matching at all.
func (h *Handler) IsMatchable() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state == HandlerStateRegistered && !h.bypassed && h.responder != nil
}

// MarkRegistered is called by the owner when the handler enters its registry at seq.
func (h *Handler) MarkRegistered(seq uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = HandlerStateRegistered
	h.seq = seq
}

// MarkUnregistered detaches the handler. The object and its log stay usable.
func (h *Handler) MarkUnregistered() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = HandlerStateUnregistered
}

// ApplyResponse installs a committed response and moves the handler to seq.
func (h *Handler) ApplyResponse(factory ResponseFactory, seq uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.responder = factory
	h.bypassed = false
	h.state = HandlerStateRegistered
	h.seq = seq
}

// ApplyBypass applies a committed bypass.
func (h *Handler) ApplyBypass() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bypassed = true
}

// Matches evaluates the restriction list against req, whose path params must already be set.
func (h *Handler) Matches(ctx context.Context, req *NormalizedRequest) bool {
	h.mu.RLock()
	restrictions := make([]Restriction, len(h.restrictions))
	copy(restrictions, h.restrictions)
	h.mu.RUnlock()
	return EvaluateRestrictions(ctx, restrictions, req)
}

// Resolve produces the response for a matched request and records it when saving is on.
func (h *Handler) Resolve(ctx context.Context, req *NormalizedRequest) (*ResolvedResponse, error) {
	h.mu.RLock()
	responder := h.responder
	h.mu.RUnlock()
	if responder == nil {
		return nil, errors.New("handler has no response")
	}

	decl, err := responder(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("response factory of handler %s failed: %w", h.id, err)
	}
	resolved, err := MaterializeResponse(decl)
	if err != nil {
		return nil, fmt.Errorf("handler %s: %w", h.id, err)
	}

	if h.saveRequests {
		saved := req.Clone()
		saved.Response = resolved.Clone()
		h.mu.Lock()
		h.requests = append(h.requests, saved)
		h.mu.Unlock()
	}
	return resolved, nil
}

func (h *Handler) String() string {
	return fmt.Sprintf("Handler{ID: %s, Method: %s, Path: %s}", h.id, h.method, h.path)
}
