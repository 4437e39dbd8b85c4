package http_interceptor

import (
	"fmt"
	"net/url"

	model "go_http_interceptor/internal/domain/model/http_interceptor"
	"go_http_interceptor/internal/infra/worker"

	"github.com/go-playground/validator/v10"
)

// Options 拦截器配置
type Options struct {
	Type    model.InterceptorType `json:"type" validate:"required"`
	BaseURL string                `json:"baseURL" validate:"required,url"`
	// SaveRequests keeps a log of matched requests on every handler.
	SaveRequests bool `json:"saveRequests"`
	// OnUnhandledRequest is the static strategy; OnUnhandledRequestFunc wins when both are set.
	OnUnhandledRequest     *model.UnhandledRequestStrategy    `json:"onUnhandledRequest,omitempty"`
	OnUnhandledRequestFunc model.UnhandledRequestStrategyFunc `json:"-" validate:"-"`

	// Worker is the local worker to register with, DefaultLocalWorker when nil.
	Worker *worker.LocalWorker `json:"-" validate:"-"`
	// Store is the remote worker store, DefaultRemoteWorkerStore when nil.
	Store *worker.RemoteWorkerStore `json:"-" validate:"-"`
}

// Validate performs validation on Options
func (o *Options) Validate() error {
	if !o.Type.IsValid() {
		return fmt.Errorf("%w: %q", model.ErrUnknownInterceptorType, o.Type)
	}

	validate := validator.New()
	if err := validate.Struct(o); err != nil {
		return fmt.Errorf("invalid interceptor options: %w", err)
	}

	u, err := url.Parse(o.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid interceptor options: base url %q must be an absolute http(s) url", o.BaseURL)
	}

	if o.Type == model.InterceptorTypeRemote && o.OnUnhandledRequest != nil &&
		o.OnUnhandledRequest.Action != model.UnhandledActionReject {
		return fmt.Errorf("%w: remote interceptors only support %q, got %q",
			model.ErrUnsupportedUnhandledAction, model.UnhandledActionReject, o.OnUnhandledRequest.Action)
	}
	return nil
}

// strategy returns the per-request strategy func; nil means the worker default.
func (o *Options) strategy() model.UnhandledRequestStrategyFunc {
	if o.OnUnhandledRequestFunc != nil {
		return o.OnUnhandledRequestFunc
	}
	if o.OnUnhandledRequest != nil {
		return o.OnUnhandledRequest.Static()
	}
	if o.Type == model.InterceptorTypeRemote {
		return model.UnhandledRequestStrategy{Action: model.UnhandledActionReject, Log: true}.Static()
	}
	return nil
}

// serverURL is the origin of the base url, where remote interceptors find their server.
func (o *Options) serverURL() string {
	u, err := url.Parse(o.BaseURL)
	if err != nil {
		return o.BaseURL
	}
	return (&url.URL{Scheme: u.Scheme, Host: u.Host}).String()
}
