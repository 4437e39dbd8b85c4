package configs

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ConfigPathEnv points at the YAML configuration file.
const ConfigPathEnv = "INTERCEPTOR_CONFIG_PATH"

// DefaultRPCPath is the websocket endpoint remote workers connect to.
const DefaultRPCPath = "/.interceptor/rpc"

// InterceptorConfig 拦截器配置
type InterceptorConfig struct {
	Log       LogConfig       `yaml:"log"`
	Remote    RemoteConfig    `yaml:"remote"`
	Unhandled UnhandledConfig `yaml:"unhandled"`
	Server    ServerConfig    `yaml:"server"`
}

type LogConfig struct {
	Level string `json:"level" yaml:"level" validate:"omitempty,oneof=trace debug info warn warning error fatal panic"`
	File  string `json:"file" yaml:"file"`
}

// RemoteConfig 远程 worker 连接参数
type RemoteConfig struct {
	DialRetryCount  int           `json:"dialRetryCount" yaml:"dialRetryCount" validate:"min=1"`
	DialRetryDelay  time.Duration `json:"dialRetryDelay" yaml:"dialRetryDelay" validate:"min=0"`
	CommitTimeout   time.Duration `json:"commitTimeout" yaml:"commitTimeout" validate:"min=0"`
	ResolvePoolSize int           `json:"resolvePoolSize" yaml:"resolvePoolSize" validate:"min=1"`
	RPCPath         string        `json:"rpcPath" yaml:"rpcPath" validate:"required,startswith=/"`
}

// UnhandledConfig is the worker-level default unhandled-request strategy.
type UnhandledConfig struct {
	Action string `json:"action" yaml:"action" validate:"required,oneof=bypass reject"`
	Log    bool   `json:"log" yaml:"log"`
}

type ServerConfig struct {
	Host    string `json:"host" yaml:"host" validate:"required"`
	Port    int    `json:"port" yaml:"port" validate:"min=0,max=65535"`
	RPCPath string `json:"rpcPath" yaml:"rpcPath" validate:"required,startswith=/"`
}

// Addr returns the listen address of the interceptor server.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DefaultConfig returns the configuration used when no file is provided.
func DefaultConfig() *InterceptorConfig {
	return &InterceptorConfig{
		Log: LogConfig{Level: "info"},
		Remote: RemoteConfig{
			DialRetryCount:  3,
			DialRetryDelay:  200 * time.Millisecond,
			CommitTimeout:   10 * time.Second,
			ResolvePoolSize: 64,
			RPCPath:         DefaultRPCPath,
		},
		Unhandled: UnhandledConfig{Action: "bypass", Log: true},
		Server: ServerConfig{
			Host:    "localhost",
			Port:    4000,
			RPCPath: DefaultRPCPath,
		},
	}
}

// LoadConfig 加载配置; without INTERCEPTOR_CONFIG_PATH the defaults are returned.
func LoadConfig() (*InterceptorConfig, error) {
	path := os.Getenv(ConfigPathEnv)
	if path == "" {
		return DefaultConfig(), nil
	}
	return LoadConfigFile(path)
}

// LoadConfigFile reads a YAML file on top of the defaults.
func LoadConfigFile(path string) (*InterceptorConfig, error) {
	configFile, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(configFile, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

func LoadRemoteConfig() (*RemoteConfig, error) {
	config, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to read interceptor config: %w", err)
	}
	return &config.Remote, nil
}

func LoadServerConfig(c *InterceptorConfig) *ServerConfig {
	return &c.Server
}

// Validate 验证配置
func (c *InterceptorConfig) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return err
	}

	if c.Remote.CommitTimeout > 0 && c.Remote.CommitTimeout < c.Remote.DialRetryDelay {
		return errors.New("remote commitTimeout must be greater than or equal to dialRetryDelay")
	}

	return nil
}
