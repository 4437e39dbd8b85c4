package http_interceptor

import (
	"context"
	"fmt"

	model "go_http_interceptor/internal/domain/model/http_interceptor"
)

// JSONFactory builds a response factory that decodes the request body as JSON into T
// before calling fn. A body that does not decode fails the resolution with the decode error.
func JSONFactory[T any](fn func(ctx context.Context, req *model.NormalizedRequest, body T) (model.ResponseDeclaration, error)) model.ResponseFactory {
	return func(ctx context.Context, req *model.NormalizedRequest) (model.ResponseDeclaration, error) {
		var body T
		if err := req.DecodeBody(&body); err != nil {
			return model.ResponseDeclaration{}, fmt.Errorf("%s %s: %w", req.Method, req.URLString(), err)
		}
		return fn(ctx, req, body)
	}
}
