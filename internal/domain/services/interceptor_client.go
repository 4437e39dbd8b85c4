package services

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"go_http_interceptor/internal/domain/iface"
	model "go_http_interceptor/internal/domain/model/http_interceptor"
	"go_http_interceptor/utils"

	"github.com/google/uuid"
)

// ClientOptions 拦截器客户端配置
type ClientOptions struct {
	ID           string
	Type         model.InterceptorType
	BaseURL      string
	SaveRequests bool
	// Committer is nil for local interceptors.
	Committer iface.Committer
}

// route is the ordered handler list of one (method, pattern shape).
type route struct {
	key      string
	handlers []*model.Handler
}

// InterceptorClient is the per base URL handler registry and matching engine.
type InterceptorClient struct {
	id           string
	typ          model.InterceptorType
	baseURL      string
	basePath     string
	saveRequests bool
	committer    iface.Committer

	// mutateMu keeps commit order equal to call order.
	mutateMu sync.Mutex
	mu       sync.RWMutex
	running  bool
	seq      uint64
	routes   map[model.HTTPMethod]map[string]*route
	pending  atomic.Int64
}

var (
	_ iface.InterceptorClient = (*InterceptorClient)(nil)
	_ model.HandlerOwner      = (*InterceptorClient)(nil)
)

func NewInterceptorClient(opts ClientOptions) (*InterceptorClient, error) {
	if !opts.Type.IsValid() {
		return nil, fmt.Errorf("%w: %q", model.ErrUnknownInterceptorType, opts.Type)
	}
	u, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", opts.BaseURL, err)
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	return &InterceptorClient{
		id:           id,
		typ:          opts.Type,
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		basePath:     "/" + strings.Trim(u.EscapedPath(), "/"),
		saveRequests: opts.SaveRequests,
		committer:    opts.Committer,
		routes:       make(map[model.HTTPMethod]map[string]*route),
	}, nil
}

func (c *InterceptorClient) ID() string {
	return c.id
}

func (c *InterceptorClient) Type() model.InterceptorType {
	return c.typ
}

func (c *InterceptorClient) BaseURL() string {
	return c.baseURL
}

func (c *InterceptorClient) SavesRequests() bool {
	return c.saveRequests
}

// PendingCommits is the number of mutations waiting for acknowledgment.
func (c *InterceptorClient) PendingCommits() int64 {
	return c.pending.Load()
}

func (c *InterceptorClient) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = true
}

// Stop marks the client stopped. In-flight resolutions finish on their snapshot.
func (c *InterceptorClient) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
}

func (c *InterceptorClient) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

// CreateHandler registers an empty handler for method + path. It only matches once it has a response.
func (c *InterceptorClient) CreateHandler(ctx context.Context, method model.HTTPMethod, path string) (*model.Handler, error) {
	if !c.IsRunning() {
		return nil, model.ErrNotStarted
	}
	m, ok := model.ParseHTTPMethod(string(method))
	if !ok {
		return nil, fmt.Errorf("%w: %q", model.ErrInvalidMethod, method)
	}
	pattern, err := model.CompilePathPattern(path)
	if err != nil {
		return nil, err
	}

	h := model.NewHandler(c, m, pattern, c.saveRequests)

	c.mutateMu.Lock()
	defer c.mutateMu.Unlock()
	if err := c.commit(ctx, c.mutation(model.MutationCreateHandler, h)); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.insertLocked(h)
	c.mu.Unlock()

	utils.GetLogger().WithFields(map[string]interface{}{
		"interceptorId": c.id,
		"handlerId":     h.ID(),
		"method":        m,
		"url":           model.JoinURL(c.baseURL, pattern.Template()),
		"params":        pattern.ParamNames(),
	}).Debug("handler created")
	return h, nil
}

// SetHandlerResponse commits a response and moves the handler to the tail of its list,
// re-attaching it first when a clear detached it.
func (c *InterceptorClient) SetHandlerResponse(ctx context.Context, h *model.Handler, factory model.ResponseFactory) error {
	if !c.IsRunning() {
		return model.ErrNotStarted
	}

	c.mutateMu.Lock()
	defer c.mutateMu.Unlock()
	if !h.IsRegistered() {
		if err := c.commit(ctx, c.mutation(model.MutationCreateHandler, h)); err != nil {
			return err
		}
	}
	if err := c.commit(ctx, c.mutation(model.MutationSetResponse, h)); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(h)
	seq := c.insertLocked(h)
	h.ApplyResponse(factory, seq)
	return nil
}

// BypassHandler keeps the handler's position. Responding again clears the flag.
func (c *InterceptorClient) BypassHandler(ctx context.Context, h *model.Handler) error {
	if !c.IsRunning() {
		return model.ErrNotStarted
	}

	c.mutateMu.Lock()
	defer c.mutateMu.Unlock()
	// a detached handler is in no registry, so there is nothing to commit
	if h.IsRegistered() {
		if err := c.commit(ctx, c.mutation(model.MutationBypassHandler, h)); err != nil {
			return err
		}
	}
	h.ApplyBypass()
	return nil
}

// Clear empties every handler list. Handlers are detached, not destroyed.
func (c *InterceptorClient) Clear(ctx context.Context) error {
	c.mutateMu.Lock()
	defer c.mutateMu.Unlock()
	if err := c.commit(ctx, model.Mutation{
		Type:          model.MutationClearInterceptor,
		InterceptorID: c.id,
		BaseURL:       c.baseURL,
	}); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, routes := range c.routes {
		for _, r := range routes {
			for _, h := range r.handlers {
				h.MarkUnregistered()
			}
		}
	}
	c.routes = make(map[model.HTTPMethod]map[string]*route)
	return nil
}

// Handlers returns the registered handlers, oldest first.
func (c *InterceptorClient) Handlers() []*model.Handler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*model.Handler
	for _, routes := range c.routes {
		for _, r := range routes {
			out = append(out, r.handlers...)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq() < out[j].Seq() })
	return out
}

type candidate struct {
	handler *model.Handler
	params  map[string]string
	seq     uint64
}

// Resolve runs the matching algorithm: handlers whose pattern matches the path are walked
// from most to least recently declared, skipping bypassed ones and ones without a response.
// The first handler whose restrictions all pass produces the response.
func (c *InterceptorClient) Resolve(ctx context.Context, req *model.NormalizedRequest) (*model.ResolvedResponse, error) {
	relative, ok := c.relativePath(req.Path())
	if !ok {
		return nil, nil
	}

	candidates := c.snapshot(req.Method, relative)
	for _, cand := range candidates {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !cand.handler.IsMatchable() {
			continue
		}
		matchReq := req.WithPathParams(cand.params)
		if !cand.handler.Matches(ctx, matchReq) {
			continue
		}

		resolved, err := cand.handler.Resolve(ctx, matchReq)
		if err != nil {
			return nil, err
		}
		req.PathParams = matchReq.PathParams
		req.Response = resolved
		utils.GetLogger().WithFields(map[string]interface{}{
			"interceptorId": c.id,
			"handlerId":     cand.handler.ID(),
			"method":        req.Method,
			"url":           req.URLString(),
			"status":        resolved.Status,
		}).Debug("request matched")
		return resolved, nil
	}
	return nil, nil
}

// snapshot collects the candidates under the read lock, newest first.
func (c *InterceptorClient) snapshot(method model.HTTPMethod, path string) []candidate {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []candidate
	for _, r := range c.routes[method] {
		for _, h := range r.handlers {
			params, ok := h.Pattern().Match(path)
			if !ok {
				// every handler in a route shares the shape
				break
			}
			out = append(out, candidate{handler: h, params: params, seq: h.Seq()})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].seq > out[j].seq })
	return out
}

func (c *InterceptorClient) relativePath(path string) (string, bool) {
	if c.basePath == "/" {
		return path, true
	}
	if path == c.basePath {
		return "/", true
	}
	if !strings.HasPrefix(path, c.basePath+"/") {
		return "", false
	}
	return strings.TrimPrefix(path, c.basePath), true
}

func (c *InterceptorClient) insertLocked(h *model.Handler) uint64 {
	routes, ok := c.routes[h.Method()]
	if !ok {
		routes = make(map[string]*route)
		c.routes[h.Method()] = routes
	}
	key := h.Pattern().Key()
	r, ok := routes[key]
	if !ok {
		r = &route{key: key}
		routes[key] = r
	}
	r.handlers = append(r.handlers, h)
	c.seq++
	h.MarkRegistered(c.seq)
	return c.seq
}

func (c *InterceptorClient) removeLocked(h *model.Handler) {
	r, ok := c.routes[h.Method()][h.Pattern().Key()]
	if !ok {
		return
	}
	for i, existing := range r.handlers {
		if existing == h {
			r.handlers = append(r.handlers[:i], r.handlers[i+1:]...)
			return
		}
	}
}

func (c *InterceptorClient) mutation(typ model.MutationType, h *model.Handler) model.Mutation {
	return model.Mutation{
		Type:          typ,
		InterceptorID: c.id,
		BaseURL:       c.baseURL,
		HandlerID:     h.ID(),
		Method:        h.Method(),
		Path:          h.Path(),
	}
}

func (c *InterceptorClient) commit(ctx context.Context, m model.Mutation) error {
	if c.committer == nil {
		return nil
	}
	c.pending.Add(1)
	defer c.pending.Add(-1)
	if err := c.committer.Commit(ctx, m); err != nil {
		return fmt.Errorf("failed to commit %s: %w", m.Type, err)
	}
	return nil
}
