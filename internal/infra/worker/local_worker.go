package worker

import (
	"fmt"
	"net/http"
	"sync"

	"go_http_interceptor/internal/domain/iface"
	model "go_http_interceptor/internal/domain/model/http_interceptor"
	configs "go_http_interceptor/internal/infra/config"
	"go_http_interceptor/utils"
)

// LocalWorkerOptions 本地 worker 配置
type LocalWorkerOptions struct {
	// Next handles pass-through requests. Defaults to http.DefaultTransport.
	Next http.RoundTripper
	// DefaultStrategy applies when an interceptor has no strategy of its own.
	DefaultStrategy model.UnhandledRequestStrategy
}

// LocalWorker is the in-process interception hook. It is an http.RoundTripper, so any
// http.Client using it has its requests resolved against the registered interceptors.
type LocalWorker struct {
	router          *Router
	next            http.RoundTripper
	defaultStrategy model.UnhandledRequestStrategy
}

var _ http.RoundTripper = (*LocalWorker)(nil)

func NewLocalWorker(opts LocalWorkerOptions) *LocalWorker {
	next := opts.Next
	if next == nil {
		next = http.DefaultTransport
	}
	strategy := opts.DefaultStrategy
	if !strategy.Action.IsValid() {
		strategy = model.DefaultUnhandledRequestStrategy
	}
	return &LocalWorker{
		router:          NewRouter(),
		next:            next,
		defaultStrategy: strategy,
	}
}

var (
	defaultLocalWorker     *LocalWorker
	defaultLocalWorkerOnce sync.Once
)

// DefaultLocalWorker is the process-wide worker shared by interceptors created without one.
// Its default strategy comes from the `unhandled` config section.
func DefaultLocalWorker() *LocalWorker {
	defaultLocalWorkerOnce.Do(func() {
		strategy := model.DefaultUnhandledRequestStrategy
		cfg, err := configs.LoadConfig()
		if err != nil {
			utils.GetLogger().Warnf("failed to load interceptor config, using defaults: %v", err)
		} else {
			strategy = model.UnhandledRequestStrategy{
				Action: model.UnhandledAction(cfg.Unhandled.Action),
				Log:    cfg.Unhandled.Log,
			}
		}
		defaultLocalWorker = NewLocalWorker(LocalWorkerOptions{DefaultStrategy: strategy})
	})
	return defaultLocalWorker
}

func (w *LocalWorker) Register(client iface.InterceptorClient, strategy model.UnhandledRequestStrategyFunc) {
	w.router.Register(client, strategy)
}

// Unregister removes client's routing. The worker keeps serving the other interceptors.
func (w *LocalWorker) Unregister(client iface.InterceptorClient) bool {
	return w.router.Unregister(client)
}

// Interceptors is the number of interceptors currently routed through the worker.
func (w *LocalWorker) Interceptors() int {
	return w.router.Len()
}

// installedTransport routes one client's requests through a worker. Pass-through
// requests go to that client's own transport.
type installedTransport struct {
	worker *LocalWorker
	next   http.RoundTripper
}

func (t *installedTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	return t.worker.roundTrip(r, t.next)
}

// Install makes c send its requests through the worker, keeping c's transport for pass-through.
// The worker itself is left untouched, so clients installed on a shared worker keep their own transports.
func (w *LocalWorker) Install(c *http.Client) *http.Client {
	switch tr := c.Transport.(type) {
	case nil:
		c.Transport = w
	case *LocalWorker:
		if tr != w {
			c.Transport = &installedTransport{worker: w, next: tr}
		}
	case *installedTransport:
		if tr.worker != w {
			c.Transport = &installedTransport{worker: w, next: tr}
		}
	default:
		c.Transport = &installedTransport{worker: w, next: tr}
	}
	return c
}

// Client returns a new http.Client routed through the worker.
func (w *LocalWorker) Client() *http.Client {
	return &http.Client{Transport: w}
}

// RoundTrip resolves r against the interceptors whose base URL prefixes its URL. Requests
// no interceptor claims go straight to the worker's next transport.
func (w *LocalWorker) RoundTrip(r *http.Request) (*http.Response, error) {
	return w.roundTrip(r, w.next)
}

func (w *LocalWorker) roundTrip(r *http.Request, next http.RoundTripper) (*http.Response, error) {
	ctx := r.Context()
	routes := w.router.Lookup(requestURL(r))
	if len(routes) == 0 {
		return next.RoundTrip(r)
	}

	req, err := model.NormalizeRequest(ctx, r)
	if err != nil {
		return nil, err
	}

	resolved, err := Dispatch(ctx, routes, req)
	if err != nil {
		return nil, err
	}
	if resolved != nil {
		return resolved.ToHTTPResponse(r), nil
	}

	strategy := strategyFor(ctx, routes[0], req, w.defaultStrategy)
	logUnhandled(routes[0], req, strategy)
	if strategy.Action == model.UnhandledActionBypass {
		return next.RoundTrip(r)
	}
	return nil, fmt.Errorf("%w: %s %s", model.ErrNetworkRejected, req.Method, req.URLString())
}

func requestURL(r *http.Request) string {
	u := *r.URL
	if u.Host == "" {
		u.Host = r.Host
	}
	if u.Scheme == "" {
		u.Scheme = "http"
		if r.TLS != nil {
			u.Scheme = "https"
		}
	}
	return u.String()
}
