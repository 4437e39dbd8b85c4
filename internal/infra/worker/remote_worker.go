package worker

import (
	"context"
	"fmt"
	"sync"

	"go_http_interceptor/internal/domain/iface"
	model "go_http_interceptor/internal/domain/model/http_interceptor"
	configs "go_http_interceptor/internal/infra/config"
	"go_http_interceptor/internal/infra/rpc"
	"go_http_interceptor/utils"

	"github.com/avast/retry-go/v4"
	"github.com/panjf2000/ants/v2"
)

// RemoteWorker is one connection to an interceptor server, shared by every remote
// interceptor pointing at it. It commits their mutations and answers resolve pushes.
type RemoteWorker struct {
	serverURL string
	cfg       configs.RemoteConfig
	channel   *rpc.Channel
	router    *Router
	pool      *ants.Pool

	closeOnce sync.Once
}

var _ iface.Committer = (*RemoteWorker)(nil)

// DialRemoteWorker connects to serverURL, retrying per cfg.
func DialRemoteWorker(ctx context.Context, serverURL string, cfg configs.RemoteConfig) (*RemoteWorker, error) {
	endpoint, err := rpc.Endpoint(serverURL, cfg.RPCPath)
	if err != nil {
		return nil, err
	}

	pool, err := ants.NewPool(cfg.ResolvePoolSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create ants pool: %w", err)
	}

	w := &RemoteWorker{
		serverURL: serverURL,
		cfg:       cfg,
		router:    NewRouter(),
		pool:      pool,
	}

	err = retry.Do(
		func() error {
			ch, err := rpc.Dial(ctx, endpoint, w.onMessage)
			if err != nil {
				return err
			}
			w.channel = ch
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(cfg.DialRetryCount)),
		retry.Delay(cfg.DialRetryDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			utils.GetLogger().WithField("server", serverURL).Debugf("dial attempt %d failed: %v", n+1, err)
		}),
	)
	if err != nil {
		pool.Release()
		return nil, fmt.Errorf("failed to connect to interceptor server %s: %w", serverURL, err)
	}

	go w.watch()
	return w, nil
}

func (w *RemoteWorker) ServerURL() string {
	return w.serverURL
}

func (w *RemoteWorker) Register(client iface.InterceptorClient, strategy model.UnhandledRequestStrategyFunc) {
	w.router.Register(client, strategy)
}

func (w *RemoteWorker) Unregister(client iface.InterceptorClient) bool {
	return w.router.Unregister(client)
}

func (w *RemoteWorker) IsClosed() bool {
	return w.channel.Err() != nil
}

// Commit sends m and waits for the server's commit or commitError.
func (w *RemoteWorker) Commit(ctx context.Context, m model.Mutation) error {
	if w.cfg.CommitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.CommitTimeout)
		defer cancel()
	}

	reply, err := w.channel.Request(ctx, rpc.MessageType(m.Type), m)
	if err != nil {
		return err
	}

	switch reply.Type {
	case rpc.MessageCommit:
		return nil
	case rpc.MessageCommitError:
		var payload rpc.CommitErrorPayload
		if err := reply.Decode(&payload); err != nil {
			payload.Message = err.Error()
		}
		return &rpc.CommitError{Type: rpc.MessageType(m.Type), Cause: payload.Message}
	default:
		return fmt.Errorf("unexpected reply %q to %s", reply.Type, m.Type)
	}
}

func (w *RemoteWorker) Close() error {
	var err error
	w.closeOnce.Do(func() {
		err = w.channel.Close()
		w.pool.Release()
	})
	return err
}

func (w *RemoteWorker) onMessage(ch *rpc.Channel, msg *rpc.Message) {
	if msg.Type != rpc.MessageResolveRequest {
		utils.GetLogger().WithField("type", msg.Type).Warn("ignoring unexpected message from interceptor server")
		return
	}
	if err := w.pool.Submit(func() { w.handleResolve(ch, msg) }); err != nil {
		utils.GetLogger().WithError(err).Error("failed to schedule resolve request")
		_ = ch.Reply(msg, rpc.MessageResolveResult, rpc.ResolveResultPayload{Error: err.Error()})
	}
}

// handleResolve runs the regular matching algorithm for a request the server pushed.
func (w *RemoteWorker) handleResolve(ch *rpc.Channel, msg *rpc.Message) {
	result := w.resolve(msg)
	if err := ch.Reply(msg, rpc.MessageResolveResult, result); err != nil {
		utils.GetLogger().WithError(err).Warn("failed to send resolve result")
	}
}

func (w *RemoteWorker) resolve(msg *rpc.Message) rpc.ResolveResultPayload {
	var payload rpc.ResolveRequestPayload
	if err := msg.Decode(&payload); err != nil {
		return rpc.ResolveResultPayload{Error: err.Error()}
	}

	route, ok := w.router.Get(payload.InterceptorID)
	if !ok {
		return rpc.ResolveResultPayload{}
	}

	ctx := context.Background()
	req, err := payload.Request.Normalize(ctx)
	if err != nil {
		return rpc.ResolveResultPayload{Error: err.Error()}
	}

	resolved, err := Dispatch(ctx, []*Route{route}, req)
	if err != nil {
		utils.GetLogger().WithField("interceptorId", payload.InterceptorID).WithError(err).Warn("failed to resolve pushed request")
		return rpc.ResolveResultPayload{Error: err.Error()}
	}
	if resolved == nil {
		logUnhandled(route, req, strategyFor(ctx, route, req, model.UnhandledRequestStrategy{
			Action: model.UnhandledActionReject,
			Log:    true,
		}))
		return rpc.ResolveResultPayload{}
	}
	return rpc.ResolveResultPayload{Matched: true, Response: rpc.SerializeResponse(resolved)}
}

// watch logs connection loss. Further mutations fail with rpc.ErrConnectionClosed.
func (w *RemoteWorker) watch() {
	<-w.channel.Done()
	if err := w.channel.Err(); err != nil && w.router.Len() > 0 {
		utils.GetLogger().WithField("server", w.serverURL).WithError(err).
			Error("lost connection to interceptor server")
	}
}
