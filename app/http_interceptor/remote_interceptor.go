package http_interceptor

import (
	"context"
	"fmt"
	"sync"

	model "go_http_interceptor/internal/domain/model/http_interceptor"
	"go_http_interceptor/internal/domain/services"
	"go_http_interceptor/internal/infra/worker"
	"go_http_interceptor/utils"
)

// RemoteInterceptor mirrors its handlers on an interceptor server. Every mutation waits
// for the server's commit; requests the server pushes back are resolved locally.
type RemoteInterceptor struct {
	opts      Options
	serverURL string
	store     *worker.RemoteWorkerStore
	client    *services.InterceptorClient
	strategy  model.UnhandledRequestStrategyFunc

	mu     sync.Mutex
	worker *worker.RemoteWorker
}

// remoteCommitter forwards commits to whichever worker the interceptor currently holds.
type remoteCommitter struct {
	interceptor *RemoteInterceptor
}

func (c remoteCommitter) Commit(ctx context.Context, m model.Mutation) error {
	w := c.interceptor.currentWorker()
	if w == nil {
		return model.ErrNotStarted
	}
	return w.Commit(ctx, m)
}

func NewRemoteInterceptor(opts Options) (*RemoteInterceptor, error) {
	if opts.Type == "" {
		opts.Type = model.InterceptorTypeRemote
	}
	if opts.Type != model.InterceptorTypeRemote {
		return nil, fmt.Errorf("%w: %q is not a remote interceptor", model.ErrUnknownInterceptorType, opts.Type)
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	store := opts.Store
	if store == nil {
		store = worker.DefaultRemoteWorkerStore()
	}

	i := &RemoteInterceptor{
		opts:      opts,
		serverURL: opts.serverURL(),
		store:     store,
		strategy:  opts.strategy(),
	}
	client, err := services.NewInterceptorClient(services.ClientOptions{
		Type:         model.InterceptorTypeRemote,
		BaseURL:      opts.BaseURL,
		SaveRequests: opts.SaveRequests,
		Committer:    remoteCommitter{interceptor: i},
	})
	if err != nil {
		return nil, err
	}
	i.client = client
	return i, nil
}

func (i *RemoteInterceptor) ID() string {
	return i.client.ID()
}

func (i *RemoteInterceptor) Type() model.InterceptorType {
	return model.InterceptorTypeRemote
}

func (i *RemoteInterceptor) BaseURL() string {
	return i.client.BaseURL()
}

// ServerURL is the interceptor server the base url points at.
func (i *RemoteInterceptor) ServerURL() string {
	return i.serverURL
}

func (i *RemoteInterceptor) IsRunning() bool {
	return i.client.IsRunning()
}

// PendingCommits is the number of mutations still waiting for the server.
func (i *RemoteInterceptor) PendingCommits() int64 {
	return i.client.PendingCommits()
}

// Start acquires the shared connection to the server.
func (i *RemoteInterceptor) Start(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.worker != nil {
		return nil
	}

	w, err := i.store.Acquire(ctx, i.serverURL)
	if err != nil {
		return fmt.Errorf("failed to start remote interceptor: %w", err)
	}
	i.worker = w
	i.client.Start()
	w.Register(i.client, i.strategy)
	return nil
}

// Stop clears the interceptor's handlers on the server and releases the connection.
func (i *RemoteInterceptor) Stop(ctx context.Context) error {
	i.mu.Lock()
	w := i.worker
	i.mu.Unlock()
	if w == nil {
		return nil
	}

	clearErr := i.client.Clear(ctx)
	if clearErr != nil {
		utils.GetLogger().WithField("interceptorId", i.client.ID()).WithError(clearErr).
			Warn("failed to clear handlers on the interceptor server")
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	w.Unregister(i.client)
	i.client.Stop()
	i.worker = nil
	if err := i.store.Release(i.serverURL); err != nil {
		return err
	}
	return clearErr
}

func (i *RemoteInterceptor) Clear(ctx context.Context) error {
	return i.client.Clear(ctx)
}

func (i *RemoteInterceptor) Get(ctx context.Context, path string) (*RemoteHandler, error) {
	return i.Handle(ctx, model.MethodGet, path)
}

func (i *RemoteInterceptor) Post(ctx context.Context, path string) (*RemoteHandler, error) {
	return i.Handle(ctx, model.MethodPost, path)
}

func (i *RemoteInterceptor) Put(ctx context.Context, path string) (*RemoteHandler, error) {
	return i.Handle(ctx, model.MethodPut, path)
}

func (i *RemoteInterceptor) Patch(ctx context.Context, path string) (*RemoteHandler, error) {
	return i.Handle(ctx, model.MethodPatch, path)
}

func (i *RemoteInterceptor) Delete(ctx context.Context, path string) (*RemoteHandler, error) {
	return i.Handle(ctx, model.MethodDelete, path)
}

func (i *RemoteInterceptor) Head(ctx context.Context, path string) (*RemoteHandler, error) {
	return i.Handle(ctx, model.MethodHead, path)
}

func (i *RemoteInterceptor) Options(ctx context.Context, path string) (*RemoteHandler, error) {
	return i.Handle(ctx, model.MethodOptions, path)
}

// Handle creates a handler and waits until the server committed it.
func (i *RemoteInterceptor) Handle(ctx context.Context, method model.HTTPMethod, path string) (*RemoteHandler, error) {
	h, err := i.client.CreateHandler(ctx, method, path)
	if err != nil {
		return nil, err
	}
	return &RemoteHandler{handler: h}, nil
}

func (i *RemoteInterceptor) Handlers() []*RemoteHandler {
	handlers := i.client.Handlers()
	out := make([]*RemoteHandler, len(handlers))
	for idx, h := range handlers {
		out[idx] = &RemoteHandler{handler: h}
	}
	return out
}

func (i *RemoteInterceptor) currentWorker() *worker.RemoteWorker {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.worker
}
