package worker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	model "go_http_interceptor/internal/domain/model/http_interceptor"
	"go_http_interceptor/internal/domain/services"
	configs "go_http_interceptor/internal/infra/config"
	"go_http_interceptor/internal/infra/rpc"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer acknowledges every mutation except those on paths containing "forbidden".
type fakeServer struct {
	*httptest.Server
	connections atomic.Int32
	mu          sync.Mutex
	channels    []*rpc.Channel
	mutations   []model.Mutation
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{}
	upgrader := websocket.Upgrader{}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != configs.DefaultRPCPath {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fs.connections.Add(1)
		ch := rpc.NewChannel(conn, fs.onMessage)
		fs.mu.Lock()
		fs.channels = append(fs.channels, ch)
		fs.mu.Unlock()
		<-ch.Done()
	}))
	t.Cleanup(func() {
		fs.mu.Lock()
		for _, ch := range fs.channels {
			_ = ch.Close()
		}
		fs.mu.Unlock()
		fs.Close()
	})
	return fs
}

func (fs *fakeServer) onMessage(ch *rpc.Channel, msg *rpc.Message) {
	var m model.Mutation
	if err := msg.Decode(&m); err != nil {
		_ = ch.Reply(msg, rpc.MessageCommitError, rpc.CommitErrorPayload{Message: err.Error()})
		return
	}
	if strings.Contains(m.Path, "forbidden") {
		_ = ch.Reply(msg, rpc.MessageCommitError, rpc.CommitErrorPayload{Message: "path is forbidden"})
		return
	}
	fs.mu.Lock()
	fs.mutations = append(fs.mutations, m)
	fs.mu.Unlock()
	_ = ch.Reply(msg, rpc.MessageCommit, nil)
}

func (fs *fakeServer) channel(t *testing.T) *rpc.Channel {
	t.Helper()
	fs.mu.Lock()
	defer fs.mu.Unlock()
	require.NotEmpty(t, fs.channels)
	return fs.channels[len(fs.channels)-1]
}

func testRemoteConfig() configs.RemoteConfig {
	cfg := configs.DefaultConfig().Remote
	cfg.DialRetryDelay = 10 * time.Millisecond
	cfg.CommitTimeout = 2 * time.Second
	return cfg
}

func newRemoteClient(t *testing.T, w *RemoteWorker, baseURL string) *services.InterceptorClient {
	t.Helper()
	c, err := services.NewInterceptorClient(services.ClientOptions{
		Type:      model.InterceptorTypeRemote,
		BaseURL:   baseURL,
		Committer: w,
	})
	require.NoError(t, err)
	c.Start()
	w.Register(c, nil)
	return c
}

func TestRemoteWorkerStoreSharesConnections(t *testing.T) {
	fs := newFakeServer(t)
	store := NewRemoteWorkerStore(testRemoteConfig())

	var wg sync.WaitGroup
	workers := make([]*RemoteWorker, 5)
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w, err := store.Acquire(context.Background(), fs.URL)
			if err == nil {
				workers[i] = w
			}
		}(i)
	}
	wg.Wait()

	for _, w := range workers {
		require.NotNil(t, w)
		assert.Same(t, workers[0], w)
	}
	assert.Equal(t, int32(1), fs.connections.Load())
	assert.Equal(t, 5, store.RefCount(fs.URL+"/"))

	for i := 0; i < 4; i++ {
		require.NoError(t, store.Release(fs.URL))
	}
	assert.False(t, workers[0].IsClosed())

	require.NoError(t, store.Release(fs.URL))
	assert.True(t, workers[0].IsClosed())
	assert.True(t, errors.Is(store.Release(fs.URL), ErrWorkerNotAcquired))
}

func TestRemoteWorkerStoreDialFailure(t *testing.T) {
	cfg := testRemoteConfig()
	cfg.DialRetryCount = 2
	store := NewRemoteWorkerStore(cfg)

	_, err := store.Acquire(context.Background(), "http://127.0.0.1:1")
	assert.Error(t, err)
	assert.Equal(t, 0, store.RefCount("http://127.0.0.1:1"))
}

func TestRemoteWorkerCommit(t *testing.T) {
	fs := newFakeServer(t)
	w, err := DialRemoteWorker(context.Background(), fs.URL, testRemoteConfig())
	require.NoError(t, err)
	defer w.Close()

	c := newRemoteClient(t, w, fs.URL+"/api")
	h, err := c.CreateHandler(context.Background(), model.MethodGet, "/users")
	require.NoError(t, err)
	require.NoError(t, h.Respond(context.Background(), model.ResponseDeclaration{Status: 200}))

	_, err = c.CreateHandler(context.Background(), model.MethodGet, "/forbidden")
	var commitErr *rpc.CommitError
	require.True(t, errors.As(err, &commitErr))
	assert.Equal(t, "path is forbidden", commitErr.Cause)
	assert.True(t, errors.Is(err, rpc.ErrCommitFailed))

	fs.mu.Lock()
	defer fs.mu.Unlock()
	require.Len(t, fs.mutations, 2)
	assert.Equal(t, model.MutationCreateHandler, fs.mutations[0].Type)
	assert.Equal(t, model.MutationSetResponse, fs.mutations[1].Type)
	assert.Equal(t, c.ID(), fs.mutations[1].InterceptorID)
}

func TestRemoteWorkerAnswersResolvePushes(t *testing.T) {
	fs := newFakeServer(t)
	w, err := DialRemoteWorker(context.Background(), fs.URL, testRemoteConfig())
	require.NoError(t, err)
	defer w.Close()

	c := newRemoteClient(t, w, fs.URL)
	h, err := c.CreateHandler(context.Background(), model.MethodGet, "/users/:id")
	require.NoError(t, err)
	require.NoError(t, h.Respond(context.Background(), model.ResponseDeclaration{Status: 200, Body: map[string]any{"id": "1"}}))

	push := func(interceptorID, path string) rpc.ResolveResultPayload {
		reply, err := fs.channel(t).Request(context.Background(), rpc.MessageResolveRequest, rpc.ResolveRequestPayload{
			InterceptorID: interceptorID,
			Request:       rpc.SerializedRequest{Method: http.MethodGet, URL: fs.URL + path},
		})
		require.NoError(t, err)
		var result rpc.ResolveResultPayload
		require.NoError(t, reply.Decode(&result))
		return result
	}

	result := push(c.ID(), "/users/1")
	require.True(t, result.Matched)
	resolved := result.Response.Resolved()
	assert.Equal(t, 200, resolved.Status)
	assert.Equal(t, map[string]any{"id": "1"}, resolved.Body)

	assert.False(t, push(c.ID(), "/groups/1").Matched)
	assert.False(t, push("unknown-interceptor", "/users/1").Matched)
}

func TestRemoteWorkerConnectionLossFailsMutations(t *testing.T) {
	fs := newFakeServer(t)
	w, err := DialRemoteWorker(context.Background(), fs.URL, testRemoteConfig())
	require.NoError(t, err)
	defer w.Close()
	c := newRemoteClient(t, w, fs.URL)

	require.NoError(t, fs.channel(t).Close())
	require.Eventually(t, w.IsClosed, 5*time.Second, 10*time.Millisecond)

	_, err = c.CreateHandler(context.Background(), model.MethodGet, "/users")
	assert.True(t, errors.Is(err, rpc.ErrConnectionClosed))
}
