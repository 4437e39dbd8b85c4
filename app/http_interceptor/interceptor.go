package http_interceptor

import (
	"context"
	"fmt"

	model "go_http_interceptor/internal/domain/model/http_interceptor"
)

// Interceptor is the lifecycle shared by local and remote interceptors.
type Interceptor interface {
	Type() model.InterceptorType
	BaseURL() string
	IsRunning() bool
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Clear(ctx context.Context) error
}

var (
	_ Interceptor = (*LocalInterceptor)(nil)
	_ Interceptor = (*RemoteInterceptor)(nil)
)

// New creates a local or remote interceptor according to opts.Type.
func New(opts Options) (Interceptor, error) {
	switch opts.Type {
	case model.InterceptorTypeLocal:
		return NewLocalInterceptor(opts)
	case model.InterceptorTypeRemote:
		return NewRemoteInterceptor(opts)
	default:
		return nil, fmt.Errorf("%w: %q", model.ErrUnknownInterceptorType, opts.Type)
	}
}
