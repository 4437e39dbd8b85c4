package model

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"go_http_interceptor/utils"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ResponseDeclaration is the response a handler produces for a matched request.
type ResponseDeclaration struct {
	Status  int               `json:"status" validate:"required,min=100,max=599"`
	Headers map[string]string `json:"headers,omitempty"`
	// Body is encoded by type: string as text, []byte as binary, url.Values as
	// url-encoded, *FormData as multipart and anything else as JSON.
	Body any `json:"body,omitempty"`
}

func (d ResponseDeclaration) Validate() error {
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}

// ResponseFactory computes a response per matched request. Results are never cached.
type ResponseFactory func(ctx context.Context, req *NormalizedRequest) (ResponseDeclaration, error)

// StaticResponse wraps a fixed declaration as a factory.
func StaticResponse(decl ResponseDeclaration) ResponseFactory {
	return func(context.Context, *NormalizedRequest) (ResponseDeclaration, error) {
		return decl, nil
	}
}

// ResolvedResponse is a materialized response ready to be written back to the caller.
type ResolvedResponse struct {
	Status  int         `json:"status"`
	Headers http.Header `json:"headers"`
	Body    any         `json:"body"`
	RawBody []byte      `json:"-"`
}

// MaterializeResponse encodes a declaration into wire form and parses the body back,
// so saved requests expose the same structured view as the caller will see.
func MaterializeResponse(decl ResponseDeclaration) (*ResolvedResponse, error) {
	if err := decl.Validate(); err != nil {
		return nil, err
	}

	headers := http.Header{}
	for k, v := range decl.Headers {
		headers.Set(k, v)
	}

	raw, contentType, err := EncodeBody(decl.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if contentType != "" && headers.Get("Content-Type") == "" {
		headers.Set("Content-Type", contentType)
	}

	body, err := ParseBody(headers.Get("Content-Type"), raw)
	if err != nil {
		utils.GetLogger().WithField("status", decl.Status).
			Warnf("failed to parse response body, treating it as empty: %v", err)
		body = nil
	}

	return &ResolvedResponse{
		Status:  decl.Status,
		Headers: headers,
		Body:    body,
		RawBody: raw,
	}, nil
}

// ToHTTPResponse converts the response to the net/http representation for req.
func (r *ResolvedResponse) ToHTTPResponse(req *http.Request) *http.Response {
	resp := &http.Response{
		Status:        fmt.Sprintf("%d %s", r.Status, http.StatusText(r.Status)),
		StatusCode:    r.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        r.Headers.Clone(),
		Body:          http.NoBody,
		ContentLength: int64(len(r.RawBody)),
		Request:       req,
	}
	if resp.Header == nil {
		resp.Header = http.Header{}
	}
	if len(r.RawBody) > 0 {
		resp.Body = io.NopCloser(bytes.NewReader(r.RawBody))
	}
	return resp
}

// WriteTo writes the response to an http.ResponseWriter.
func (r *ResolvedResponse) WriteTo(w http.ResponseWriter) error {
	for k, values := range r.Headers {
		for _, v := range values {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(r.Status)
	if len(r.RawBody) == 0 {
		return nil
	}
	if _, err := w.Write(r.RawBody); err != nil {
		return fmt.Errorf("failed to write response body: %w", err)
	}
	return nil
}

func (r *ResolvedResponse) Clone() *ResolvedResponse {
	if r == nil {
		return nil
	}
	return &ResolvedResponse{
		Status:  r.Status,
		Headers: r.Headers.Clone(),
		Body:    cloneBody(r.Body),
		RawBody: append([]byte(nil), r.RawBody...),
	}
}

func (r *ResolvedResponse) String() string {
	return fmt.Sprintf("Status: %d, Headers: %v, Body: %s", r.Status, r.Headers, string(r.RawBody))
}
