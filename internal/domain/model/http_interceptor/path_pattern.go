package model

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var paramNameRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type patternSegment struct {
	literal string
	param   string
}

func (s patternSegment) isParam() bool {
	return s.param != ""
}

// PathPattern is a compiled path template made of literal and `:name` segments.
// It is immutable once compiled.
type PathPattern struct {
	template string
	segments []patternSegment
	key      string
}

// CompilePathPattern compiles a template such as "/users/:id/orders".
// Leading, trailing and repeated slashes are ignored, so "/a", "/a/" and "a" compile to the same pattern.
func CompilePathPattern(template string) (*PathPattern, error) {
	parts := splitPath(template)
	segments := make([]patternSegment, 0, len(parts))
	keyParts := make([]string, 0, len(parts))
	seen := make(map[string]struct{})

	for _, part := range parts {
		if !strings.HasPrefix(part, ":") {
			segments = append(segments, patternSegment{literal: part})
			keyParts = append(keyParts, part)
			continue
		}

		name := part[1:]
		if !paramNameRegex.MatchString(name) {
			return nil, fmt.Errorf("%w: %q has an invalid parameter segment %q", ErrInvalidPathPattern, template, part)
		}
		if _, ok := seen[name]; ok {
			return nil, fmt.Errorf("%w: %q declares parameter %q twice", ErrInvalidPathPattern, template, name)
		}
		seen[name] = struct{}{}
		segments = append(segments, patternSegment{param: name})
		keyParts = append(keyParts, ":")
	}

	normalized := make([]string, len(segments))
	for i, s := range segments {
		if s.isParam() {
			normalized[i] = ":" + s.param
		} else {
			normalized[i] = s.literal
		}
	}

	return &PathPattern{
		template: "/" + strings.Join(normalized, "/"),
		segments: segments,
		key:      "/" + strings.Join(keyParts, "/"),
	}, nil
}

// MustCompilePathPattern is like CompilePathPattern but panics on error.
func MustCompilePathPattern(template string) *PathPattern {
	p, err := CompilePathPattern(template)
	if err != nil {
		panic(err)
	}
	return p
}

// Template returns the normalized template, always starting with "/".
func (p *PathPattern) Template() string {
	return p.template
}

// Key identifies the pattern shape. Parameter names do not take part in it,
// so "/users/:id" and "/users/:userId" share a key.
func (p *PathPattern) Key() string {
	return p.key
}

// ParamNames returns parameter names in declaration order.
func (p *PathPattern) ParamNames() []string {
	names := make([]string, 0)
	for _, s := range p.segments {
		if s.isParam() {
			names = append(names, s.param)
		}
	}
	return names
}

// Match tests an escaped path and extracts the named parameters, unescaped.
// Segments are split before unescaping, so "%2F" never splits a segment.
func (p *PathPattern) Match(path string) (map[string]string, bool) {
	parts := splitPath(path)
	if len(parts) != len(p.segments) {
		return nil, false
	}

	params := make(map[string]string, len(p.segments))
	for i, s := range p.segments {
		part := unescapeSegment(parts[i])
		if s.isParam() {
			params[s.param] = part
			continue
		}
		if part != s.literal {
			return nil, false
		}
	}
	return params, true
}

func unescapeSegment(part string) string {
	if !strings.Contains(part, "%") {
		return part
	}
	if unescaped, err := url.PathUnescape(part); err == nil {
		return unescaped
	}
	return part
}

func (p *PathPattern) String() string {
	return p.template
}

// JoinURL joins a base URL and a path with exactly one slash between them.
func JoinURL(base, path string) string {
	base = strings.TrimRight(base, "/")
	path = strings.TrimLeft(path, "/")
	if path == "" {
		return base
	}
	return base + "/" + path
}

func splitPath(path string) []string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	raw := strings.Split(path, "/")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}
