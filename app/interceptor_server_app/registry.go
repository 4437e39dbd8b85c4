package interceptor_server_app

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	model "go_http_interceptor/internal/domain/model/http_interceptor"
	"go_http_interceptor/internal/infra/rpc"
)

var ErrUnknownHandler = errors.New("unknown handler")

// mirroredHandler is the server's view of a client handler: identity and state only.
// Restrictions and responses stay with the client.
type mirroredHandler struct {
	conn          *rpc.Channel
	interceptorID string
	handlerID     string
	baseURL       string
	basePath      string
	method        model.HTTPMethod
	pattern       *model.PathPattern
	hasResponse   bool
	bypassed      bool
	seq           uint64
}

// Candidate is an interceptor that may resolve a request, over the connection it lives on.
type Candidate struct {
	Conn          *rpc.Channel
	InterceptorID string
	BaseURL       string
}

// Registry 服务端 handler 镜像; the last commit it accepts wins.
type Registry struct {
	mu       sync.RWMutex
	seq      uint64
	handlers map[string]*mirroredHandler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]*mirroredHandler)}
}

// Apply applies a mutation received on conn. Mutations are serialized per registry.
func (r *Registry) Apply(conn *rpc.Channel, m model.Mutation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch m.Type {
	case model.MutationCreateHandler:
		return r.createLocked(conn, m)
	case model.MutationSetResponse:
		h, err := r.findLocked(conn, m.HandlerID)
		if err != nil {
			return err
		}
		r.seq++
		h.hasResponse = true
		h.bypassed = false
		h.seq = r.seq
		return nil
	case model.MutationBypassHandler:
		h, err := r.findLocked(conn, m.HandlerID)
		if err != nil {
			return err
		}
		h.bypassed = true
		return nil
	case model.MutationClearInterceptor:
		for id, h := range r.handlers {
			if h.conn == conn && h.interceptorID == m.InterceptorID {
				delete(r.handlers, id)
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported mutation %q", m.Type)
	}
}

func (r *Registry) createLocked(conn *rpc.Channel, m model.Mutation) error {
	if m.HandlerID == "" || m.InterceptorID == "" {
		return errors.New("handler and interceptor ids are required")
	}
	method, ok := model.ParseHTTPMethod(string(m.Method))
	if !ok {
		return fmt.Errorf("%w: %q", model.ErrInvalidMethod, m.Method)
	}
	pattern, err := model.CompilePathPattern(m.Path)
	if err != nil {
		return err
	}
	base, err := url.Parse(m.BaseURL)
	if err != nil || base.Host == "" {
		return fmt.Errorf("invalid base url %q", m.BaseURL)
	}

	r.seq++
	r.handlers[m.HandlerID] = &mirroredHandler{
		conn:          conn,
		interceptorID: m.InterceptorID,
		handlerID:     m.HandlerID,
		baseURL:       strings.TrimRight(m.BaseURL, "/"),
		basePath:      "/" + strings.Trim(base.EscapedPath(), "/"),
		method:        method,
		pattern:       pattern,
		seq:           r.seq,
	}
	return nil
}

func (r *Registry) findLocked(conn *rpc.Channel, handlerID string) (*mirroredHandler, error) {
	h, ok := r.handlers[handlerID]
	if !ok || h.conn != conn {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHandler, handlerID)
	}
	return h, nil
}

// DropConnection forgets every handler mirrored over conn.
func (r *Registry) DropConnection(conn *rpc.Channel) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	dropped := 0
	for id, h := range r.handlers {
		if h.conn == conn {
			delete(r.handlers, id)
			dropped++
		}
	}
	return dropped
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// Candidates lists the interceptors owning a matchable handler for method + path: the most
// specific base path first, then the most recently declared handler first.
func (r *Registry) Candidates(method model.HTTPMethod, path string) []Candidate {
	r.mu.RLock()
	var matched []*mirroredHandler
	for _, h := range r.handlers {
		if h.method != method || !h.hasResponse || h.bypassed {
			continue
		}
		relative, ok := relativePath(path, h.basePath)
		if !ok {
			continue
		}
		if _, ok := h.pattern.Match(relative); ok {
			matched = append(matched, h)
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if len(matched[i].basePath) != len(matched[j].basePath) {
			return len(matched[i].basePath) > len(matched[j].basePath)
		}
		return matched[i].seq > matched[j].seq
	})

	seen := make(map[string]struct{})
	var out []Candidate
	for _, h := range matched {
		if _, ok := seen[h.interceptorID]; ok {
			continue
		}
		seen[h.interceptorID] = struct{}{}
		out = append(out, Candidate{Conn: h.conn, InterceptorID: h.interceptorID, BaseURL: h.baseURL})
	}
	return out
}

func relativePath(path, basePath string) (string, bool) {
	if basePath == "/" {
		return path, true
	}
	if path == basePath {
		return "/", true
	}
	if !strings.HasPrefix(path, basePath+"/") {
		return "", false
	}
	return strings.TrimPrefix(path, basePath), true
}
