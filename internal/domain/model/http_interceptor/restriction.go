package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"reflect"
	"strings"

	"go_http_interceptor/utils"

	"github.com/PaesslerAG/jsonpath"
)

// Restriction is a condition a request must satisfy for a handler to apply.
type Restriction interface {
	Evaluate(ctx context.Context, req *NormalizedRequest) (bool, error)
}

// RestrictionFunc is a predicate restriction. A returned error counts as a non-match.
type RestrictionFunc func(ctx context.Context, req *NormalizedRequest) (bool, error)

func (f RestrictionFunc) Evaluate(ctx context.Context, req *NormalizedRequest) (bool, error) {
	return f(ctx, req)
}

// StaticRestriction is a structural declaration. Keys absent from the declaration are
// unconstrained unless Exact is set.
type StaticRestriction struct {
	Headers      map[string]string
	SearchParams map[string][]string
	Body         any
	Exact        bool
}

var _ Restriction = (*StaticRestriction)(nil)

func (s *StaticRestriction) Evaluate(_ context.Context, req *NormalizedRequest) (bool, error) {
	return s.matchHeaders(req) && s.matchSearchParams(req) && s.matchBody(req), nil
}

func (s *StaticRestriction) matchHeaders(req *NormalizedRequest) bool {
	for key, expected := range s.Headers {
		values := req.Headers.Values(key)
		if len(values) == 0 {
			return false
		}
		if strings.Join(values, ", ") != expected {
			return false
		}
	}
	if s.Exact && s.Headers != nil {
		declared := make(map[string]struct{}, len(s.Headers))
		for key := range s.Headers {
			declared[strings.ToLower(key)] = struct{}{}
		}
		for key := range req.Headers {
			if _, ok := declared[strings.ToLower(key)]; !ok {
				return false
			}
		}
	}
	return true
}

func (s *StaticRestriction) matchSearchParams(req *NormalizedRequest) bool {
	for key, expected := range s.SearchParams {
		values, ok := req.SearchParams[key]
		if !ok || !sameValues(values, expected) {
			return false
		}
	}
	if s.Exact && s.SearchParams != nil && len(req.SearchParams) != len(s.SearchParams) {
		return false
	}
	return true
}

// sameValues compares repeated values as a multiset.
func sameValues(actual, expected []string) bool {
	if len(actual) != len(expected) {
		return false
	}
	counts := make(map[string]int, len(expected))
	for _, v := range expected {
		counts[v]++
	}
	for _, v := range actual {
		if counts[v] == 0 {
			return false
		}
		counts[v]--
	}
	return true
}

func (s *StaticRestriction) matchBody(req *NormalizedRequest) bool {
	if s.Body == nil {
		return true
	}
	expected := comparableValue(s.Body)
	actual := comparableValue(req.Body)
	if s.Exact {
		return reflect.DeepEqual(expected, actual)
	}
	return partialMatch(expected, actual)
}

// BodyPathRestriction passes when the JSONPath lookup on the parsed body equals Value.
type BodyPathRestriction struct {
	Path  string
	Value any
}

var _ Restriction = (*BodyPathRestriction)(nil)

func (b *BodyPathRestriction) Evaluate(_ context.Context, req *NormalizedRequest) (bool, error) {
	body := comparableValue(req.Body)
	switch body.(type) {
	case map[string]any, []any:
	default:
		return false, nil
	}

	path := b.Path
	if !strings.HasPrefix(path, "$") {
		path = "$" + path
	}
	res, err := jsonpath.Get(path, body)
	if err != nil {
		// unknown keys and out of range indexes are plain non-matches
		return false, nil
	}
	return reflect.DeepEqual(comparableValue(b.Value), res), nil
}

// AllOf passes when every restriction passes.
func AllOf(restrictions ...Restriction) Restriction {
	return RestrictionFunc(func(ctx context.Context, req *NormalizedRequest) (bool, error) {
		for _, r := range restrictions {
			ok, err := evaluateRestriction(ctx, r, req)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	})
}

// AnyOf passes when at least one restriction passes. Failing restrictions count as false.
func AnyOf(restrictions ...Restriction) Restriction {
	return RestrictionFunc(func(ctx context.Context, req *NormalizedRequest) (bool, error) {
		var firstErr error
		for _, r := range restrictions {
			ok, err := evaluateRestriction(ctx, r, req)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			if ok {
				return true, nil
			}
		}
		return false, firstErr
	})
}

// Not inverts a restriction. An error stays an error, it never becomes a match.
func Not(r Restriction) Restriction {
	return RestrictionFunc(func(ctx context.Context, req *NormalizedRequest) (bool, error) {
		ok, err := evaluateRestriction(ctx, r, req)
		if err != nil {
			return false, err
		}
		return !ok, nil
	})
}

// EvaluateRestrictions ANDs the restrictions in declaration order, stopping at the first failure.
// Errors and panics are logged and count as a non-match.
func EvaluateRestrictions(ctx context.Context, restrictions []Restriction, req *NormalizedRequest) bool {
	for i, r := range restrictions {
		if ctx.Err() != nil {
			return false
		}
		ok, err := evaluateRestriction(ctx, r, req)
		if err != nil {
			utils.GetLogger().WithFields(map[string]interface{}{
				"method":      req.Method,
				"url":         req.URLString(),
				"restriction": i,
			}).Warnf("restriction failed, treating as non-match: %v", err)
			return false
		}
		if !ok {
			return false
		}
	}
	return true
}

func evaluateRestriction(ctx context.Context, r Restriction, req *NormalizedRequest) (matched bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			matched = false
			err = fmt.Errorf("restriction panicked: %v", p)
		}
	}()
	return r.Evaluate(ctx, req)
}

// comparableValue maps declared and parsed bodies onto JSON-like values so both
// sides of a comparison share one representation.
func comparableValue(v any) any {
	switch b := v.(type) {
	case nil:
		return nil
	case string, bool, float64:
		return b
	case []byte:
		return b
	case map[string]any:
		out := make(map[string]any, len(b))
		for k, item := range b {
			out[k] = comparableValue(item)
		}
		return out
	case []any:
		out := make([]any, len(b))
		for i, item := range b {
			out[i] = comparableValue(item)
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(b))
		for k, item := range b {
			out[k] = item
		}
		return out
	case url.Values:
		return formValues(b)
	case map[string][]string:
		return formValues(url.Values(b))
	case *FormData:
		if b == nil {
			return nil
		}
		return formValues(b.Values)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return v
		}
		var out any
		if err := json.Unmarshal(raw, &out); err != nil {
			return v
		}
		return out
	}
}

func formValues(values url.Values) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		if len(v) == 1 {
			out[k] = v[0]
			continue
		}
		items := make([]any, len(v))
		for i, item := range v {
			items[i] = item
		}
		out[k] = items
	}
	return out
}

// partialMatch reports whether every key/value declared in expected is present in actual.
// Arrays must have equal length and match index by index.
func partialMatch(expected, actual any) bool {
	switch e := expected.(type) {
	case map[string]any:
		a, ok := actual.(map[string]any)
		if !ok {
			return false
		}
		for k, ev := range e {
			av, ok := a[k]
			if !ok || !partialMatch(ev, av) {
				return false
			}
		}
		return true
	case []any:
		a, ok := actual.([]any)
		if !ok || len(a) != len(e) {
			return false
		}
		for i := range e {
			if !partialMatch(e[i], a[i]) {
				return false
			}
		}
		return true
	case []byte:
		switch a := actual.(type) {
		case []byte:
			return bytes.Equal(e, a)
		case string:
			return string(e) == a
		default:
			return false
		}
	case string:
		switch a := actual.(type) {
		case string:
			return e == a
		case []byte:
			return e == string(a)
		default:
			return false
		}
	default:
		return reflect.DeepEqual(expected, actual)
	}
}
