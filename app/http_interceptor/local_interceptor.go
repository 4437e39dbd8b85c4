package http_interceptor

import (
	"context"
	"fmt"
	"net/http"

	model "go_http_interceptor/internal/domain/model/http_interceptor"
	"go_http_interceptor/internal/domain/services"
	"go_http_interceptor/internal/infra/worker"
	"go_http_interceptor/utils"
)

// LocalInterceptor resolves requests in the same process, through a shared LocalWorker.
type LocalInterceptor struct {
	opts     Options
	client   *services.InterceptorClient
	worker   *worker.LocalWorker
	strategy model.UnhandledRequestStrategyFunc
}

func NewLocalInterceptor(opts Options) (*LocalInterceptor, error) {
	if opts.Type == "" {
		opts.Type = model.InterceptorTypeLocal
	}
	if opts.Type != model.InterceptorTypeLocal {
		return nil, fmt.Errorf("%w: %q is not a local interceptor", model.ErrUnknownInterceptorType, opts.Type)
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	client, err := services.NewInterceptorClient(services.ClientOptions{
		Type:         model.InterceptorTypeLocal,
		BaseURL:      opts.BaseURL,
		SaveRequests: opts.SaveRequests,
	})
	if err != nil {
		return nil, err
	}

	w := opts.Worker
	if w == nil {
		w = worker.DefaultLocalWorker()
	}

	return &LocalInterceptor{
		opts:     opts,
		client:   client,
		worker:   w,
		strategy: opts.strategy(),
	}, nil
}

func (i *LocalInterceptor) ID() string {
	return i.client.ID()
}

func (i *LocalInterceptor) Type() model.InterceptorType {
	return model.InterceptorTypeLocal
}

func (i *LocalInterceptor) BaseURL() string {
	return i.client.BaseURL()
}

func (i *LocalInterceptor) IsRunning() bool {
	return i.client.IsRunning()
}

// Worker returns the worker the interceptor registers with.
func (i *LocalInterceptor) Worker() *worker.LocalWorker {
	return i.worker
}

// HTTPClient returns an http.Client whose requests go through the interceptor's worker.
func (i *LocalInterceptor) HTTPClient() *http.Client {
	return i.worker.Client()
}

func (i *LocalInterceptor) Start(_ context.Context) error {
	if i.client.IsRunning() {
		return nil
	}
	i.client.Start()
	i.worker.Register(i.client, i.strategy)
	utils.GetLogger().WithFields(map[string]interface{}{
		"interceptorId": i.client.ID(),
		"baseUrl":       i.client.BaseURL(),
	}).Debug("local interceptor started")
	return nil
}

// Stop removes this interceptor's routing only; the worker keeps serving the others.
func (i *LocalInterceptor) Stop(_ context.Context) error {
	if !i.client.IsRunning() {
		return nil
	}
	i.worker.Unregister(i.client)
	i.client.Stop()
	return nil
}

// Clear removes every handler. Handler objects stay usable and re-register when they respond again.
func (i *LocalInterceptor) Clear(ctx context.Context) error {
	return i.client.Clear(ctx)
}

func (i *LocalInterceptor) Get(path string) (*LocalHandler, error) {
	return i.Handle(model.MethodGet, path)
}

func (i *LocalInterceptor) Post(path string) (*LocalHandler, error) {
	return i.Handle(model.MethodPost, path)
}

func (i *LocalInterceptor) Put(path string) (*LocalHandler, error) {
	return i.Handle(model.MethodPut, path)
}

func (i *LocalInterceptor) Patch(path string) (*LocalHandler, error) {
	return i.Handle(model.MethodPatch, path)
}

func (i *LocalInterceptor) Delete(path string) (*LocalHandler, error) {
	return i.Handle(model.MethodDelete, path)
}

func (i *LocalInterceptor) Head(path string) (*LocalHandler, error) {
	return i.Handle(model.MethodHead, path)
}

func (i *LocalInterceptor) Options(path string) (*LocalHandler, error) {
	return i.Handle(model.MethodOptions, path)
}

// Handle creates a handler for any supported method.
func (i *LocalInterceptor) Handle(method model.HTTPMethod, path string) (*LocalHandler, error) {
	h, err := i.client.CreateHandler(context.Background(), method, path)
	if err != nil {
		return nil, err
	}
	return &LocalHandler{handler: h}, nil
}

// Handlers returns the registered handlers, oldest first.
func (i *LocalInterceptor) Handlers() []*LocalHandler {
	handlers := i.client.Handlers()
	out := make([]*LocalHandler, len(handlers))
	for idx, h := range handlers {
		out[idx] = &LocalHandler{handler: h}
	}
	return out
}
