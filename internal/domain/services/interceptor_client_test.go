package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	model "go_http_interceptor/internal/domain/model/http_interceptor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingCommitter struct {
	mu        sync.Mutex
	mutations []model.Mutation
	err       error
}

func (r *recordingCommitter) Commit(_ context.Context, m model.Mutation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.mutations = append(r.mutations, m)
	return nil
}

func (r *recordingCommitter) types() []model.MutationType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.MutationType, len(r.mutations))
	for i, m := range r.mutations {
		out[i] = m.Type
	}
	return out
}

func newStartedClient(t *testing.T, baseURL string, save bool) *InterceptorClient {
	t.Helper()
	c, err := NewInterceptorClient(ClientOptions{Type: model.InterceptorTypeLocal, BaseURL: baseURL, SaveRequests: save})
	require.NoError(t, err)
	c.Start()
	return c
}

func normalize(t *testing.T, method, target, contentType, body string) *model.NormalizedRequest {
	t.Helper()
	r := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	req, err := model.NormalizeRequest(context.Background(), r)
	require.NoError(t, err)
	return req
}

func mustHandler(t *testing.T, c *InterceptorClient, method model.HTTPMethod, path string) *model.Handler {
	t.Helper()
	h, err := c.CreateHandler(context.Background(), method, path)
	require.NoError(t, err)
	return h
}

func respond(t *testing.T, h *model.Handler, status int, body any) *model.Handler {
	t.Helper()
	require.NoError(t, h.Respond(context.Background(), model.ResponseDeclaration{Status: status, Body: body}))
	return h
}

func resolveStatus(t *testing.T, c *InterceptorClient, req *model.NormalizedRequest) int {
	t.Helper()
	resolved, err := c.Resolve(context.Background(), req)
	require.NoError(t, err)
	if resolved == nil {
		return 0
	}
	return resolved.Status
}

func TestNewInterceptorClientUnknownType(t *testing.T) {
	_, err := NewInterceptorClient(ClientOptions{Type: "carrier-pigeon", BaseURL: "http://localhost:3000"})
	assert.True(t, errors.Is(err, model.ErrUnknownInterceptorType))
}

func TestCreateHandlerBeforeStart(t *testing.T) {
	c, err := NewInterceptorClient(ClientOptions{Type: model.InterceptorTypeLocal, BaseURL: "http://localhost:3000"})
	require.NoError(t, err)

	_, err = c.CreateHandler(context.Background(), model.MethodGet, "/users")
	assert.True(t, errors.Is(err, model.ErrNotStarted))

	c.Start()
	h := mustHandler(t, c, model.MethodGet, "/users")
	c.Stop()
	assert.True(t, errors.Is(h.Respond(context.Background(), model.ResponseDeclaration{Status: 200}), model.ErrNotStarted))
}

func TestCreateHandlerInvalidInput(t *testing.T) {
	c := newStartedClient(t, "http://localhost:3000", false)

	_, err := c.CreateHandler(context.Background(), "BREW", "/coffee")
	assert.True(t, errors.Is(err, model.ErrInvalidMethod))

	_, err = c.CreateHandler(context.Background(), model.MethodGet, "/users/:")
	assert.True(t, errors.Is(err, model.ErrInvalidPathPattern))
}

func TestResolveRecency(t *testing.T) {
	c := newStartedClient(t, "http://localhost:3000", false)
	for _, status := range []int{200, 201, 202} {
		respond(t, mustHandler(t, c, model.MethodGet, "/users"), status, nil)
	}
	// declared without a response, never matches
	mustHandler(t, c, model.MethodGet, "/users")

	assert.Equal(t, 202, resolveStatus(t, c, normalize(t, http.MethodGet, "http://localhost:3000/users", "", "")))
}

func TestResolveRecencyShadowsNarrowerHandler(t *testing.T) {
	c := newStartedClient(t, "http://localhost:3000", false)
	narrow := mustHandler(t, c, model.MethodGet, "/users").
		With(&model.StaticRestriction{SearchParams: map[string][]string{"page": {"1"}}})
	respond(t, narrow, 200, nil)
	respond(t, mustHandler(t, c, model.MethodGet, "/users"), 204, nil)

	assert.Equal(t, 204, resolveStatus(t, c, normalize(t, http.MethodGet, "http://localhost:3000/users?page=1", "", "")))
}

func TestResolveRestrictionsAreANDed(t *testing.T) {
	c := newStartedClient(t, "http://localhost:3000", false)
	h := mustHandler(t, c, model.MethodGet, "/users").
		With(&model.StaticRestriction{Headers: map[string]string{"Authorization": "Bearer token"}}).
		With(&model.StaticRestriction{SearchParams: map[string][]string{"page": {"1"}}})
	respond(t, h, 200, nil)

	tests := []struct {
		name     string
		header   bool
		query    string
		expected int
	}{
		{name: "both", header: true, query: "?page=1", expected: 200},
		{name: "missing header", header: false, query: "?page=1", expected: 0},
		{name: "missing param", header: true, query: "", expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "http://localhost:3000/users"+tt.query, nil)
			if tt.header {
				r.Header.Set("Authorization", "Bearer token")
			}
			req, err := model.NormalizeRequest(context.Background(), r)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, resolveStatus(t, c, req))
		})
	}
}

func TestResolveBypass(t *testing.T) {
	c := newStartedClient(t, "http://localhost:3000", false)
	older := respond(t, mustHandler(t, c, model.MethodGet, "/users"), 200, nil)
	newer := respond(t, mustHandler(t, c, model.MethodGet, "/users"), 201, nil)
	req := func() *model.NormalizedRequest {
		return normalize(t, http.MethodGet, "http://localhost:3000/users", "", "")
	}

	require.NoError(t, newer.Bypass(context.Background()))
	assert.Equal(t, 200, resolveStatus(t, c, req()))

	// bypass never moves the handler
	require.NoError(t, older.Bypass(context.Background()))
	assert.Equal(t, 0, resolveStatus(t, c, req()))

	// declaring again makes it the most recent one
	respond(t, older, 203, nil)
	respond(t, newer, 201, nil)
	assert.Equal(t, 201, resolveStatus(t, c, req()))
	respond(t, older, 203, nil)
	assert.Equal(t, 203, resolveStatus(t, c, req()))
}

func TestClearAndReattach(t *testing.T) {
	c := newStartedClient(t, "http://localhost:3000", true)
	h := respond(t, mustHandler(t, c, model.MethodGet, "/users"), 200, nil)
	other := respond(t, mustHandler(t, c, model.MethodGet, "/users"), 201, nil)

	assert.Equal(t, 201, resolveStatus(t, c, normalize(t, http.MethodGet, "http://localhost:3000/users", "", "")))
	before, err := other.Requests()
	require.NoError(t, err)
	require.Len(t, before, 1)

	require.NoError(t, c.Clear(context.Background()))
	assert.False(t, h.IsRegistered())
	assert.Empty(t, c.Handlers())
	assert.Equal(t, 0, resolveStatus(t, c, normalize(t, http.MethodGet, "http://localhost:3000/users", "", "")))

	respond(t, h, 200, nil)
	assert.True(t, h.IsRegistered())
	assert.Equal(t, 200, resolveStatus(t, c, normalize(t, http.MethodGet, "http://localhost:3000/users", "", "")))

	after, err := other.Requests()
	require.NoError(t, err)
	assert.Len(t, after, 1)
}

func TestResolvePathParamsAndSpecificity(t *testing.T) {
	c := newStartedClient(t, "http://localhost:3000", true)
	byID := respond(t, mustHandler(t, c, model.MethodGet, "/users/:id"), 200, map[string]any{"id": "1"})
	respond(t, mustHandler(t, c, model.MethodGet, "/users/2"), 404, nil)

	req := normalize(t, http.MethodGet, "http://localhost:3000/users/1", "", "")
	resolved, err := c.Resolve(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, resolved)
	assert.Equal(t, 200, resolved.Status)
	assert.Equal(t, map[string]any{"id": "1"}, resolved.Body)
	assert.Equal(t, map[string]string{"id": "1"}, req.PathParams)

	assert.Equal(t, 404, resolveStatus(t, c, normalize(t, http.MethodGet, "http://localhost:3000/users/2", "", "")))

	saved, err := byID.Requests()
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, "1", saved[0].PathParams["id"])
	assert.Equal(t, 200, saved[0].Response.Status)
}

func TestResolveEncodedSlashInParam(t *testing.T) {
	c := newStartedClient(t, "http://localhost:3000", true)
	h := respond(t, mustHandler(t, c, model.MethodGet, "/users/:id"), 200, nil)

	assert.Equal(t, 200, resolveStatus(t, c, normalize(t, http.MethodGet, "http://localhost:3000/users/a%2Fb", "", "")))
	saved, err := h.Requests()
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, "a/b", saved[0].PathParams["id"])
}

func TestResolveBodyRestrictionSuperset(t *testing.T) {
	c := newStartedClient(t, "http://localhost:3000", false)
	h := mustHandler(t, c, model.MethodPost, "/users").
		With(&model.StaticRestriction{Body: map[string]any{"name": "User 1"}})
	respond(t, h, 201, nil)

	assert.Equal(t, 201, resolveStatus(t, c, normalize(t, http.MethodPost, "http://localhost:3000/users", "application/json", `{"name":"User 1","extra":"x"}`)))
	assert.Equal(t, 0, resolveStatus(t, c, normalize(t, http.MethodPost, "http://localhost:3000/users", "application/json", `{"name":"User 2"}`)))
}

func TestResolveBodyRoundTrip(t *testing.T) {
	c := newStartedClient(t, "http://localhost:3000", false)
	h := mustHandler(t, c, model.MethodPost, "/users")
	require.NoError(t, h.RespondWith(context.Background(), func(_ context.Context, req *model.NormalizedRequest) (model.ResponseDeclaration, error) {
		return model.ResponseDeclaration{Status: 201, Body: req.Body}, nil
	}))

	req := normalize(t, http.MethodPost, "http://localhost:3000/users", "application/json", `{"id":"1","name":"User 1"}`)
	assert.Equal(t, map[string]any{"id": "1", "name": "User 1"}, req.Body)

	resolved, err := c.Resolve(context.Background(), req)
	require.NoError(t, err)
	parsed, err := model.ParseBody(resolved.Headers.Get("Content-Type"), resolved.RawBody)
	require.NoError(t, err)
	assert.Equal(t, req.Body, parsed)
}

func TestResolveUnmatched(t *testing.T) {
	c := newStartedClient(t, "http://localhost:3000/api", false)
	respond(t, mustHandler(t, c, model.MethodGet, "/users"), 200, nil)

	tests := []struct {
		name     string
		method   string
		target   string
		expected int
	}{
		{name: "under base path", method: http.MethodGet, target: "http://localhost:3000/api/users", expected: 200},
		{name: "other method", method: http.MethodPost, target: "http://localhost:3000/api/users", expected: 0},
		{name: "outside base path", method: http.MethodGet, target: "http://localhost:3000/users", expected: 0},
		{name: "base path prefix only", method: http.MethodGet, target: "http://localhost:3000/apiv2/users", expected: 0},
		{name: "unknown path", method: http.MethodGet, target: "http://localhost:3000/api/groups", expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, resolveStatus(t, c, normalize(t, tt.method, tt.target, "", "")))
		})
	}
}

func TestResolveFactoryIsNotCached(t *testing.T) {
	c := newStartedClient(t, "http://localhost:3000", false)
	count := 0
	h := mustHandler(t, c, model.MethodGet, "/counter")
	require.NoError(t, h.RespondWith(context.Background(), func(context.Context, *model.NormalizedRequest) (model.ResponseDeclaration, error) {
		count++
		return model.ResponseDeclaration{Status: 200, Body: map[string]any{"count": count}}, nil
	}))

	for i := 1; i <= 3; i++ {
		resolved, err := c.Resolve(context.Background(), normalize(t, http.MethodGet, "http://localhost:3000/counter", "", ""))
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"count": float64(i)}, resolved.Body)
	}
}

func TestMutationsAreCommittedInOrder(t *testing.T) {
	committer := &recordingCommitter{}
	c, err := NewInterceptorClient(ClientOptions{Type: model.InterceptorTypeRemote, BaseURL: "http://localhost:4000/api", Committer: committer})
	require.NoError(t, err)
	c.Start()

	h := mustHandler(t, c, model.MethodGet, "/users")
	respond(t, h, 200, nil)
	require.NoError(t, h.Bypass(context.Background()))
	require.NoError(t, c.Clear(context.Background()))
	respond(t, h, 200, nil)

	assert.Equal(t, []model.MutationType{
		model.MutationCreateHandler,
		model.MutationSetResponse,
		model.MutationBypassHandler,
		model.MutationClearInterceptor,
		model.MutationCreateHandler,
		model.MutationSetResponse,
	}, committer.types())
	assert.Equal(t, "http://localhost:4000/api", committer.mutations[0].BaseURL)
	assert.Equal(t, "/users", committer.mutations[0].Path)
	assert.Equal(t, int64(0), c.PendingCommits())
}

func TestBypassDetachedHandlerIsNotCommitted(t *testing.T) {
	committer := &recordingCommitter{}
	c, err := NewInterceptorClient(ClientOptions{Type: model.InterceptorTypeRemote, BaseURL: "http://localhost:4000", Committer: committer})
	require.NoError(t, err)
	c.Start()

	h := respond(t, mustHandler(t, c, model.MethodGet, "/users"), 200, nil)
	require.NoError(t, c.Clear(context.Background()))

	require.NoError(t, h.Bypass(context.Background()))
	assert.True(t, h.IsBypassed())
	assert.False(t, h.IsRegistered())

	respond(t, h, 201, nil)
	assert.False(t, h.IsBypassed())
	assert.Equal(t, 201, resolveStatus(t, c, normalize(t, http.MethodGet, "http://localhost:4000/users", "", "")))

	assert.Equal(t, []model.MutationType{
		model.MutationCreateHandler,
		model.MutationSetResponse,
		model.MutationClearInterceptor,
		model.MutationCreateHandler,
		model.MutationSetResponse,
	}, committer.types())
}

func TestFailedCommitIsNotApplied(t *testing.T) {
	committer := &recordingCommitter{}
	c, err := NewInterceptorClient(ClientOptions{Type: model.InterceptorTypeRemote, BaseURL: "http://localhost:4000", Committer: committer})
	require.NoError(t, err)
	c.Start()

	h := mustHandler(t, c, model.MethodGet, "/users")
	committer.err = errors.New("server said no")

	err = h.Respond(context.Background(), model.ResponseDeclaration{Status: 200})
	assert.ErrorContains(t, err, "server said no")
	assert.False(t, h.HasResponse())

	_, err = c.CreateHandler(context.Background(), model.MethodGet, "/groups")
	assert.Error(t, err)
	assert.Len(t, c.Handlers(), 1)
}

func TestConcurrentResolveAndRespond(t *testing.T) {
	c := newStartedClient(t, "http://localhost:3000", true)
	h := respond(t, mustHandler(t, c, model.MethodGet, "/users"), 200, nil)

	reqs := make([]*model.NormalizedRequest, 20)
	for i := range reqs {
		reqs[i] = normalize(t, http.MethodGet, "http://localhost:3000/users", "", "")
	}

	var wg sync.WaitGroup
	for _, req := range reqs {
		wg.Add(2)
		go func(req *model.NormalizedRequest) {
			defer wg.Done()
			_, _ = c.Resolve(context.Background(), req)
		}(req)
		go func() {
			defer wg.Done()
			_ = h.Respond(context.Background(), model.ResponseDeclaration{Status: 200})
		}()
	}
	wg.Wait()

	saved, err := h.Requests()
	require.NoError(t, err)
	assert.Len(t, saved, 20)
}
