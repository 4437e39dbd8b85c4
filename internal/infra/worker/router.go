package worker

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go_http_interceptor/internal/domain/iface"
	model "go_http_interceptor/internal/domain/model/http_interceptor"
	"go_http_interceptor/utils"
)

// Route binds an interceptor client to the worker together with its unhandled-request strategy.
type Route struct {
	Client   iface.InterceptorClient
	Strategy model.UnhandledRequestStrategyFunc
	seq      uint64
}

// Router maps request URLs to the interceptor clients registered on a worker.
type Router struct {
	mu     sync.RWMutex
	routes map[string]*Route
	seq    uint64
}

func NewRouter() *Router {
	return &Router{routes: make(map[string]*Route)}
}

// Register adds or replaces the route of client. A nil strategy uses the worker default.
func (r *Router) Register(client iface.InterceptorClient, strategy model.UnhandledRequestStrategyFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	r.routes[client.ID()] = &Route{Client: client, Strategy: strategy, seq: r.seq}
}

// Unregister removes only client's route and reports whether it was present.
func (r *Router) Unregister(client iface.InterceptorClient) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.routes[client.ID()]; !ok {
		return false
	}
	delete(r.routes, client.ID())
	return true
}

func (r *Router) Get(id string) (*Route, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	route, ok := r.routes[id]
	return route, ok
}

func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.routes)
}

// Lookup returns the routes whose base URL is a prefix of rawURL, the longest base URL
// first and, for equal base URLs, the most recently registered first.
func (r *Router) Lookup(rawURL string) []*Route {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Route
	for _, route := range r.routes {
		if HasBaseURLPrefix(rawURL, route.Client.BaseURL()) {
			out = append(out, route)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		li, lj := len(out[i].Client.BaseURL()), len(out[j].Client.BaseURL())
		if li != lj {
			return li > lj
		}
		return out[i].seq > out[j].seq
	})
	return out
}

// HasBaseURLPrefix reports whether rawURL lies under baseURL on a path segment boundary.
func HasBaseURLPrefix(rawURL, baseURL string) bool {
	baseURL = strings.TrimRight(baseURL, "/")
	if !strings.HasPrefix(rawURL, baseURL) {
		return false
	}
	rest := rawURL[len(baseURL):]
	return rest == "" || rest[0] == '/' || rest[0] == '?' || rest[0] == '#'
}

// Dispatch asks every running candidate in order and returns the first match.
// A nil response with a nil error means no candidate matched.
func Dispatch(ctx context.Context, routes []*Route, req *model.NormalizedRequest) (*model.ResolvedResponse, error) {
	for _, route := range routes {
		if !route.Client.IsRunning() {
			continue
		}
		resolved, err := route.Client.Resolve(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("interceptor %s failed to resolve %s %s: %w",
				route.Client.ID(), req.Method, req.URLString(), err)
		}
		if resolved != nil {
			return resolved, nil
		}
	}
	return nil, nil
}

// strategyFor computes the strategy of route, falling back when it is unset or fails.
func strategyFor(ctx context.Context, route *Route, req *model.NormalizedRequest, fallback model.UnhandledRequestStrategy) model.UnhandledRequestStrategy {
	if route == nil || route.Strategy == nil {
		return fallback
	}
	strategy, err := route.Strategy(ctx, req)
	if err != nil {
		utils.GetLogger().WithField("interceptorId", route.Client.ID()).
			Warnf("unhandled request strategy failed, using the default: %v", err)
		return fallback
	}
	if err := strategy.Validate(); err != nil {
		utils.GetLogger().WithField("interceptorId", route.Client.ID()).
			Warnf("invalid unhandled request strategy, using the default: %v", err)
		return fallback
	}
	return strategy
}

func logUnhandled(route *Route, req *model.NormalizedRequest, strategy model.UnhandledRequestStrategy) {
	if !strategy.Log {
		return
	}
	fields := map[string]interface{}{
		"method": req.Method,
		"url":    req.URLString(),
		"action": strategy.Action,
	}
	if route != nil {
		fields["interceptorId"] = route.Client.ID()
	}
	utils.GetLogger().WithFields(fields).Warn("unhandled request")
}
