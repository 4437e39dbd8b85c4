package model

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go_http_interceptor/utils"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRequest(t *testing.T, method, target, contentType, body string) *NormalizedRequest {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	r.Header.Set("Authorization", "Bearer token")
	req, err := NormalizeRequest(context.Background(), r)
	require.NoError(t, err)
	return req
}

func TestStaticRestriction(t *testing.T) {
	req := newTestRequest(t, http.MethodPost, "http://localhost:3000/users?tag=a&tag=b&page=1",
		"application/json", `{"name":"User 1","extra":"x","address":{"city":"A","zip":"1"},"tags":["x","y"]}`)

	tests := []struct {
		name        string
		restriction *StaticRestriction
		expected    bool
	}{
		{name: "empty", restriction: &StaticRestriction{}, expected: true},
		{name: "header", restriction: &StaticRestriction{Headers: map[string]string{"authorization": "Bearer token"}}, expected: true},
		{name: "header mismatch", restriction: &StaticRestriction{Headers: map[string]string{"Authorization": "Bearer other"}}, expected: false},
		{name: "header missing", restriction: &StaticRestriction{Headers: map[string]string{"X-Missing": "1"}}, expected: false},
		{name: "search params", restriction: &StaticRestriction{SearchParams: map[string][]string{"tag": {"a", "b"}}}, expected: true},
		{name: "search params any order", restriction: &StaticRestriction{SearchParams: map[string][]string{"tag": {"b", "a"}}}, expected: true},
		{name: "search params repeated value", restriction: &StaticRestriction{SearchParams: map[string][]string{"tag": {"a", "a"}}}, expected: false},
		{name: "search params subset of values", restriction: &StaticRestriction{SearchParams: map[string][]string{"tag": {"a"}}}, expected: false},
		{name: "body subset", restriction: &StaticRestriction{Body: map[string]any{"name": "User 1"}}, expected: true},
		{name: "body nested subset", restriction: &StaticRestriction{Body: map[string]any{"address": map[string]any{"city": "A"}}}, expected: true},
		{name: "body mismatch", restriction: &StaticRestriction{Body: map[string]any{"name": "User 2"}}, expected: false},
		{name: "body array exact length", restriction: &StaticRestriction{Body: map[string]any{"tags": []string{"x", "y"}}}, expected: true},
		{name: "body array shorter", restriction: &StaticRestriction{Body: map[string]any{"tags": []string{"x"}}}, expected: false},
		{name: "body struct", restriction: &StaticRestriction{Body: struct {
			Name string `json:"name"`
		}{Name: "User 1"}}, expected: true},
		{name: "exact body superset fails", restriction: &StaticRestriction{Body: map[string]any{"name": "User 1"}, Exact: true}, expected: false},
		{name: "exact search params", restriction: &StaticRestriction{SearchParams: map[string][]string{"tag": {"a", "b"}}, Exact: true}, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := tt.restriction.Evaluate(context.Background(), req)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ok)
		})
	}
}

func TestStaticRestrictionNonJSONBodies(t *testing.T) {
	form := newTestRequest(t, http.MethodPost, "http://localhost:3000/login", "application/x-www-form-urlencoded", "user=a&scope=x&scope=y")
	ok, _ := (&StaticRestriction{Body: map[string]any{"user": "a"}}).Evaluate(context.Background(), form)
	assert.True(t, ok)
	ok, _ = (&StaticRestriction{Body: map[string]any{"scope": []string{"x", "y"}}}).Evaluate(context.Background(), form)
	assert.True(t, ok)

	text := newTestRequest(t, http.MethodPost, "http://localhost:3000/echo", "text/plain", "hello")
	ok, _ = (&StaticRestriction{Body: "hello"}).Evaluate(context.Background(), text)
	assert.True(t, ok)
	ok, _ = (&StaticRestriction{Body: "hell"}).Evaluate(context.Background(), text)
	assert.False(t, ok)
}

func TestBodyPathRestriction(t *testing.T) {
	req := newTestRequest(t, http.MethodPost, "http://localhost:3000/orders", "application/json", `{"items":[{"sku":"A1","qty":2}]}`)

	tests := []struct {
		name     string
		path     string
		value    any
		expected bool
	}{
		{name: "nested", path: "$.items[0].sku", value: "A1", expected: true},
		{name: "without root", path: ".items[0].qty", value: 2, expected: true},
		{name: "mismatch", path: "$.items[0].sku", value: "B2", expected: false},
		{name: "missing key", path: "$.customer.id", value: "1", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := (&BodyPathRestriction{Path: tt.path, Value: tt.value}).Evaluate(context.Background(), req)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ok)
		})
	}
}

func TestCombinators(t *testing.T) {
	req := newTestRequest(t, http.MethodGet, "http://localhost:3000/users", "", "")
	yes := RestrictionFunc(func(context.Context, *NormalizedRequest) (bool, error) { return true, nil })
	no := RestrictionFunc(func(context.Context, *NormalizedRequest) (bool, error) { return false, nil })
	boom := RestrictionFunc(func(context.Context, *NormalizedRequest) (bool, error) { return false, errors.New("boom") })

	tests := []struct {
		name        string
		restriction Restriction
		expected    bool
	}{
		{name: "all of", restriction: AllOf(yes, yes), expected: true},
		{name: "all of with false", restriction: AllOf(yes, no), expected: false},
		{name: "any of", restriction: AnyOf(no, yes), expected: true},
		{name: "any of skips errors", restriction: AnyOf(boom, yes), expected: true},
		{name: "any of none", restriction: AnyOf(no, no), expected: false},
		{name: "not", restriction: Not(no), expected: true},
		{name: "not error stays non-match", restriction: Not(boom), expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, EvaluateRestrictions(context.Background(), []Restriction{tt.restriction}, req))
		})
	}
}

func TestEvaluateRestrictionsShortCircuits(t *testing.T) {
	req := newTestRequest(t, http.MethodGet, "http://localhost:3000/users", "", "")
	calls := 0
	count := RestrictionFunc(func(context.Context, *NormalizedRequest) (bool, error) {
		calls++
		return true, nil
	})
	no := RestrictionFunc(func(context.Context, *NormalizedRequest) (bool, error) { return false, nil })

	assert.False(t, EvaluateRestrictions(context.Background(), []Restriction{count, no, count}, req))
	assert.Equal(t, 1, calls)
}

func TestEvaluateRestrictionsRecoversFailures(t *testing.T) {
	hook := test.NewLocal(utils.GetLogger())
	defer hook.Reset()

	req := newTestRequest(t, http.MethodGet, "http://localhost:3000/users", "", "")
	panics := RestrictionFunc(func(context.Context, *NormalizedRequest) (bool, error) { panic("bad predicate") })
	fails := RestrictionFunc(func(context.Context, *NormalizedRequest) (bool, error) { return true, errors.New("rejected") })

	assert.False(t, EvaluateRestrictions(context.Background(), []Restriction{panics}, req))
	assert.False(t, EvaluateRestrictions(context.Background(), []Restriction{fails}, req))
	assert.Len(t, hook.AllEntries(), 2)
}
