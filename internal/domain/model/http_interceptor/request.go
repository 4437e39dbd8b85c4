package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go_http_interceptor/utils"

	"github.com/google/uuid"
)

// NormalizedRequest is the stable view of an intercepted request used for matching.
type NormalizedRequest struct {
	ID           string            `json:"id"`
	Method       HTTPMethod        `json:"method"`
	URL          *url.URL          `json:"-"`
	PathParams   map[string]string `json:"pathParams"`
	Headers      http.Header       `json:"headers"`
	SearchParams url.Values        `json:"searchParams"`
	// Body is nil, a JSON value, *FormData, url.Values, string or []byte.
	Body       any               `json:"body"`
	RawBody    []byte            `json:"-"`
	Response   *ResolvedResponse `json:"response,omitempty"`
	ReceivedAt time.Time         `json:"receivedAt"`
}

// NormalizeRequest reads the request body (restoring it afterwards) and builds
// the normalized view. Body parse failures are logged and leave Body nil.
func NormalizeRequest(ctx context.Context, r *http.Request) (*NormalizedRequest, error) {
	var raw []byte
	if r.Body != nil && r.Body != http.NoBody {
		body, err := io.ReadAll(r.Body)
		r.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
		raw = body
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	u := &url.URL{}
	if r.URL != nil {
		copied := *r.URL
		u = &copied
	}
	if u.Host == "" && r.Host != "" {
		u.Host = r.Host
	}
	if u.Scheme == "" {
		u.Scheme = "http"
		if r.TLS != nil {
			u.Scheme = "https"
		}
	}

	headers := r.Header.Clone()
	if headers == nil {
		headers = http.Header{}
	}

	method, _ := ParseHTTPMethod(r.Method)
	if r.Method == "" {
		method = MethodGet
	}

	req := &NormalizedRequest{
		ID:           uuid.NewString(),
		Method:       method,
		URL:          u,
		PathParams:   map[string]string{},
		Headers:      headers,
		SearchParams: u.Query(),
		RawBody:      raw,
		ReceivedAt:   time.Now(),
	}

	body, err := ParseBody(headers.Get("Content-Type"), raw)
	if err != nil {
		utils.GetLogger().WithFields(map[string]interface{}{
			"method":      req.Method,
			"url":         u.String(),
			"contentType": headers.Get("Content-Type"),
		}).Warnf("failed to parse request body, treating it as empty: %v", err)
		body = nil
	}
	req.Body = body

	return req, nil
}

// Path returns the escaped request URL path, so an encoded slash stays inside its segment.
func (r *NormalizedRequest) Path() string {
	if r.URL == nil {
		return ""
	}
	return r.URL.EscapedPath()
}

// DecodeBody unmarshals the raw body as JSON into v.
func (r *NormalizedRequest) DecodeBody(v any) error {
	if len(r.RawBody) == 0 {
		return fmt.Errorf("request body is empty")
	}
	if err := json.Unmarshal(r.RawBody, v); err != nil {
		return fmt.Errorf("failed to decode request body: %w", err)
	}
	return nil
}

// WithPathParams returns a shallow copy carrying the given path parameters.
func (r *NormalizedRequest) WithPathParams(params map[string]string) *NormalizedRequest {
	out := *r
	out.PathParams = params
	return &out
}

// Clone returns a deep copy, suitable for a handler's saved request log.
func (r *NormalizedRequest) Clone() *NormalizedRequest {
	out := *r
	if r.URL != nil {
		u := *r.URL
		out.URL = &u
	}
	out.PathParams = make(map[string]string, len(r.PathParams))
	for k, v := range r.PathParams {
		out.PathParams[k] = v
	}
	out.Headers = r.Headers.Clone()
	out.SearchParams = cloneBody(r.SearchParams).(url.Values)
	out.Body = cloneBody(r.Body)
	out.RawBody = append([]byte(nil), r.RawBody...)
	if r.Response != nil {
		out.Response = r.Response.Clone()
	}
	return &out
}

// URLString returns the full request URL, or "" when unknown.
func (r *NormalizedRequest) URLString() string {
	if r.URL == nil {
		return ""
	}
	return r.URL.String()
}
