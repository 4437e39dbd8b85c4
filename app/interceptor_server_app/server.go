package interceptor_server_app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	model "go_http_interceptor/internal/domain/model/http_interceptor"
	configs "go_http_interceptor/internal/infra/config"
	"go_http_interceptor/internal/infra/rpc"
	"go_http_interceptor/utils"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

const resolveTimeout = 30 * time.Second

// Server is the interceptor server remote interceptors connect to. Every request that is
// not an rpc connection is resolved by pushing it to the interceptors that may own it.
type Server struct {
	cfg      *configs.ServerConfig
	registry *Registry
	router   *httprouter.Router
	upgrader websocket.Upgrader

	mu         sync.Mutex
	httpServer *http.Server
	conns      map[*rpc.Channel]struct{}
}

func NewServer(cfg *configs.ServerConfig, registry *Registry) *Server {
	s := &Server{
		cfg:      cfg,
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: make(map[*rpc.Channel]struct{}),
	}

	router := httprouter.New()
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false
	router.HandleMethodNotAllowed = false
	router.HandleOPTIONS = false
	router.GET(cfg.RPCPath, s.handleRPC)
	router.NotFound = http.HandlerFunc(s.handleIntercepted)
	router.PanicHandler = s.handlePanic
	s.router = router
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Registry() *Registry {
	return s.registry
}

func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr(), err)
	}
	return s.Serve(l)
}

func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	s.httpServer = &http.Server{Handler: s.router}
	srv := s.httpServer
	s.mu.Unlock()

	utils.GetLogger().WithFields(map[string]interface{}{
		"addr":    l.Addr().String(),
		"rpcPath": s.cfg.RPCPath,
	}).Info("interceptor server listening")
	if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and closes every rpc connection.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	conns := make([]*rpc.Channel, 0, len(s.conns))
	for ch := range s.conns {
		conns = append(conns, ch)
	}
	s.mu.Unlock()

	for _, ch := range conns {
		_ = ch.Close()
	}
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	logger := utils.GetLogger()
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("upgrade rpc connection err: %v", err)
		return
	}

	ch := rpc.NewChannel(conn, s.onMessage)
	s.mu.Lock()
	s.conns[ch] = struct{}{}
	s.mu.Unlock()
	logger.WithField("remote", r.RemoteAddr).Info("interceptor connected")

	<-ch.Done()

	s.mu.Lock()
	delete(s.conns, ch)
	s.mu.Unlock()
	dropped := s.registry.DropConnection(ch)
	logger.WithFields(map[string]interface{}{
		"remote":   r.RemoteAddr,
		"handlers": dropped,
	}).Info("interceptor disconnected")
}

// onMessage commits mutations in arrival order, so one connection's commits keep its call order.
func (s *Server) onMessage(ch *rpc.Channel, msg *rpc.Message) {
	logger := utils.GetLogger()

	var m model.Mutation
	if err := msg.Decode(&m); err != nil {
		_ = ch.Reply(msg, rpc.MessageCommitError, rpc.CommitErrorPayload{Message: err.Error()})
		return
	}
	m.Type = model.MutationType(msg.Type)
	if !m.Type.IsValid() {
		logger.WithField("type", msg.Type).Warn("unexpected rpc message")
		_ = ch.Reply(msg, rpc.MessageCommitError, rpc.CommitErrorPayload{Message: fmt.Sprintf("unsupported message type %q", msg.Type)})
		return
	}

	if err := s.registry.Apply(ch, m); err != nil {
		logger.WithFields(map[string]interface{}{
			"type":          m.Type,
			"interceptorId": m.InterceptorID,
			"handlerId":     m.HandlerID,
		}).Warnf("rejecting mutation: %v", err)
		_ = ch.Reply(msg, rpc.MessageCommitError, rpc.CommitErrorPayload{Message: err.Error()})
		return
	}
	_ = ch.Reply(msg, rpc.MessageCommit, nil)
}

// handleIntercepted resolves r through the candidate interceptors, first match wins.
// Without a match the connection is aborted, which callers see as a network error.
func (s *Server) handleIntercepted(w http.ResponseWriter, r *http.Request) {
	logger := utils.GetLogger()

	method, _ := model.ParseHTTPMethod(r.Method)
	candidates := s.registry.Candidates(method, r.URL.EscapedPath())

	serialized, err := rpc.SerializeRequest(r, uuid.NewString())
	if err != nil {
		logger.Errorf("read intercepted request err: %v", err)
		panic(http.ErrAbortHandler)
	}

	for _, cand := range candidates {
		result, err := s.resolve(r.Context(), cand, serialized)
		if err != nil {
			logger.WithField("interceptorId", cand.InterceptorID).Warnf("resolve request err: %v", err)
			continue
		}
		if !result.Matched || result.Response == nil {
			continue
		}

		for k, values := range result.Response.Headers {
			for _, v := range values {
				w.Header().Add(k, v)
			}
		}
		w.WriteHeader(result.Response.Status)
		if len(result.Response.Body) > 0 {
			_, _ = w.Write(result.Response.Body)
		}
		return
	}

	logger.WithFields(map[string]interface{}{
		"method": r.Method,
		"url":    serialized.URL,
	}).Warn("unhandled request")
	panic(http.ErrAbortHandler)
}

func (s *Server) resolve(ctx context.Context, cand Candidate, req rpc.SerializedRequest) (*rpc.ResolveResultPayload, error) {
	ctx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()

	reply, err := cand.Conn.Request(ctx, rpc.MessageResolveRequest, rpc.ResolveRequestPayload{
		InterceptorID: cand.InterceptorID,
		Request:       req,
	})
	if err != nil {
		return nil, err
	}
	var result rpc.ResolveResultPayload
	if err := reply.Decode(&result); err != nil {
		return nil, err
	}
	if result.Error != "" {
		return nil, errors.New(result.Error)
	}
	return &result, nil
}

func (s *Server) handlePanic(w http.ResponseWriter, r *http.Request, p interface{}) {
	if p == http.ErrAbortHandler {
		panic(p)
	}
	utils.GetLogger().WithFields(map[string]interface{}{
		"panic": p,
		"stack": string(debug.Stack()),
	}).Error("handle request panic")
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}
