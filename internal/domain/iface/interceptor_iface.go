package iface

import (
	"context"

	model "go_http_interceptor/internal/domain/model/http_interceptor"
)

// InterceptorClient 拦截器客户端接口, what a worker needs to route and resolve requests
type InterceptorClient interface {
	ID() string
	BaseURL() string
	IsRunning() bool
	// Resolve 匹配请求; a nil response with a nil error means unmatched
	Resolve(ctx context.Context, req *model.NormalizedRequest) (*model.ResolvedResponse, error)
}

// Committer makes a mutation durable before it is applied to the local registry.
type Committer interface {
	Commit(ctx context.Context, m model.Mutation) error
}
