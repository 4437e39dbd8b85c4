package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	model "go_http_interceptor/internal/domain/model/http_interceptor"
)

// MessageType 消息类型
type MessageType string

const (
	MessageCreateHandler    = MessageType(model.MutationCreateHandler)
	MessageSetResponse      = MessageType(model.MutationSetResponse)
	MessageBypassHandler    = MessageType(model.MutationBypassHandler)
	MessageClearInterceptor = MessageType(model.MutationClearInterceptor)

	MessageCommit      MessageType = "commit"
	MessageCommitError MessageType = "commitError"

	MessageResolveRequest MessageType = "resolveRequest"
	MessageResolveResult  MessageType = "resolveResult"
)

var (
	ErrConnectionClosed = errors.New("interceptor server connection closed")
	ErrCommitFailed     = errors.New("interceptor server rejected the mutation")
)

// Message is the envelope of every frame. Replies carry the request id in ReplyTo.
type Message struct {
	ID      string          `json:"id"`
	Type    MessageType     `json:"type"`
	ReplyTo string          `json:"replyTo,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Decode unmarshals the message payload into v.
func (m *Message) Decode(v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("message %s (%s) has no data", m.ID, m.Type)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("failed to decode %s message: %w", m.Type, err)
	}
	return nil
}

// CommitErrorPayload carries the server reported cause of a failed mutation.
type CommitErrorPayload struct {
	Message string `json:"message"`
}

// CommitError is returned to the caller whose mutation the server refused.
type CommitError struct {
	Type  MessageType
	Cause string
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrCommitFailed.Error(), e.Type, e.Cause)
}

func (e *CommitError) Unwrap() error {
	return ErrCommitFailed
}

// SerializedRequest is the wire form of an intercepted request.
type SerializedRequest struct {
	ID      string      `json:"id"`
	Method  string      `json:"method"`
	URL     string      `json:"url"`
	Headers http.Header `json:"headers"`
	Body    []byte      `json:"body,omitempty"`
}

// SerializedResponse is the wire form of a resolved response.
type SerializedResponse struct {
	Status  int         `json:"status"`
	Headers http.Header `json:"headers"`
	Body    []byte      `json:"body,omitempty"`
}

// ResolveRequestPayload asks one interceptor to resolve a request.
type ResolveRequestPayload struct {
	InterceptorID string            `json:"interceptorId"`
	Request       SerializedRequest `json:"request"`
}

// ResolveResultPayload answers a resolveRequest. Matched false means unmatched.
type ResolveResultPayload struct {
	Matched  bool                `json:"matched"`
	Response *SerializedResponse `json:"response,omitempty"`
	Error    string              `json:"error,omitempty"`
}

// SerializeRequest reads r's body, restoring it afterwards.
func SerializeRequest(r *http.Request, id string) (SerializedRequest, error) {
	var body []byte
	if r.Body != nil && r.Body != http.NoBody {
		raw, err := io.ReadAll(r.Body)
		r.Body.Close()
		if err != nil {
			return SerializedRequest{}, fmt.Errorf("failed to read request body: %w", err)
		}
		body = raw
		r.Body = io.NopCloser(bytes.NewReader(raw))
	}

	u := *r.URL
	if u.Host == "" {
		u.Host = r.Host
	}
	if u.Scheme == "" {
		u.Scheme = "http"
		if r.TLS != nil {
			u.Scheme = "https"
		}
	}

	return SerializedRequest{
		ID:      id,
		Method:  r.Method,
		URL:     u.String(),
		Headers: r.Header.Clone(),
		Body:    body,
	}, nil
}

// Normalize rebuilds the request and runs it through the regular normalizer.
func (s SerializedRequest) Normalize(ctx context.Context) (*model.NormalizedRequest, error) {
	if _, err := url.Parse(s.URL); err != nil {
		return nil, fmt.Errorf("invalid request url %q: %w", s.URL, err)
	}
	r, err := http.NewRequestWithContext(ctx, strings.ToUpper(s.Method), s.URL, bytes.NewReader(s.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild request: %w", err)
	}
	for k, values := range s.Headers {
		for _, v := range values {
			r.Header.Add(k, v)
		}
	}
	req, err := model.NormalizeRequest(ctx, r)
	if err != nil {
		return nil, err
	}
	if s.ID != "" {
		req.ID = s.ID
	}
	return req, nil
}

func SerializeResponse(r *model.ResolvedResponse) *SerializedResponse {
	return &SerializedResponse{
		Status:  r.Status,
		Headers: r.Headers.Clone(),
		Body:    append([]byte(nil), r.RawBody...),
	}
}

// Resolved turns the wire response back into a ResolvedResponse.
func (s *SerializedResponse) Resolved() *model.ResolvedResponse {
	headers := s.Headers.Clone()
	if headers == nil {
		headers = http.Header{}
	}
	body, err := model.ParseBody(headers.Get("Content-Type"), s.Body)
	if err != nil {
		body = nil
	}
	return &model.ResolvedResponse{
		Status:  s.Status,
		Headers: headers,
		Body:    body,
		RawBody: append([]byte(nil), s.Body...),
	}
}

// Endpoint maps an http(s) server URL to the websocket URL of its rpc path.
func Endpoint(serverURL, rpcPath string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server url %q: %w", serverURL, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid server url %q: unsupported scheme %q", serverURL, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid server url %q: missing host", serverURL)
	}
	u.Path = rpcPath
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}
