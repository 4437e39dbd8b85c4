package interceptor_server_app

import (
	configs "go_http_interceptor/internal/infra/config"

	"github.com/google/wire"
)

var ServerSet = wire.NewSet(
	configs.LoadServerConfig,
	NewRegistry,
	NewServer,
)
