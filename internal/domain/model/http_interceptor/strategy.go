package model

import (
	"context"
	"fmt"
)

// UnhandledRequestStrategy decides what happens to a request no handler matched.
type UnhandledRequestStrategy struct {
	Action UnhandledAction `json:"action" yaml:"action" validate:"required,oneof=bypass reject"`
	Log    bool            `json:"log" yaml:"log"`
}

// UnhandledRequestStrategyFunc computes the strategy per request.
type UnhandledRequestStrategyFunc func(ctx context.Context, req *NormalizedRequest) (UnhandledRequestStrategy, error)

// DefaultUnhandledRequestStrategy bypasses and logs.
var DefaultUnhandledRequestStrategy = UnhandledRequestStrategy{Action: UnhandledActionBypass, Log: true}

func (s UnhandledRequestStrategy) Validate() error {
	if !s.Action.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnsupportedUnhandledAction, s.Action)
	}
	return nil
}

// Static wraps a fixed strategy as a strategy func.
func (s UnhandledRequestStrategy) Static() UnhandledRequestStrategyFunc {
	return func(context.Context, *NormalizedRequest) (UnhandledRequestStrategy, error) {
		return s, nil
	}
}
