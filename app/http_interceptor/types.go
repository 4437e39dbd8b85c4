package http_interceptor

import (
	model "go_http_interceptor/internal/domain/model/http_interceptor"
	"go_http_interceptor/internal/infra/rpc"
)

type (
	InterceptorType              = model.InterceptorType
	HTTPMethod                   = model.HTTPMethod
	Restriction                  = model.Restriction
	RestrictionFunc              = model.RestrictionFunc
	StaticRestriction            = model.StaticRestriction
	BodyPathRestriction          = model.BodyPathRestriction
	ResponseDeclaration          = model.ResponseDeclaration
	ResponseFactory              = model.ResponseFactory
	NormalizedRequest            = model.NormalizedRequest
	ResolvedResponse             = model.ResolvedResponse
	FormData                     = model.FormData
	FormFile                     = model.FormFile
	UnhandledAction              = model.UnhandledAction
	UnhandledRequestStrategy     = model.UnhandledRequestStrategy
	UnhandledRequestStrategyFunc = model.UnhandledRequestStrategyFunc
	CommitError                  = rpc.CommitError
)

const (
	TypeLocal  = model.InterceptorTypeLocal
	TypeRemote = model.InterceptorTypeRemote

	ActionBypass = model.UnhandledActionBypass
	ActionReject = model.UnhandledActionReject
)

var (
	AllOf       = model.AllOf
	AnyOf       = model.AnyOf
	Not         = model.Not
	NewFormData = model.NewFormData
)

var (
	ErrNotStarted                 = model.ErrNotStarted
	ErrRequestSavingDisabled      = model.ErrRequestSavingDisabled
	ErrUnknownInterceptorType     = model.ErrUnknownInterceptorType
	ErrInvalidPathPattern         = model.ErrInvalidPathPattern
	ErrInvalidResponse            = model.ErrInvalidResponse
	ErrUnsupportedUnhandledAction = model.ErrUnsupportedUnhandledAction
	ErrNetworkRejected            = model.ErrNetworkRejected
	ErrConnectionClosed           = rpc.ErrConnectionClosed
	ErrCommitFailed               = rpc.ErrCommitFailed
)
