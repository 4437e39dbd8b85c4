//go:build wireinject
// +build wireinject

package interceptor_server_app

import (
	configs "go_http_interceptor/internal/infra/config"

	"github.com/google/wire"
)

func InitializeServer(cfg *configs.InterceptorConfig) (*Server, error) {
	wire.Build(ServerSet)
	return &Server{}, nil
}
