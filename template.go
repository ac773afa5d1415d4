package couchdb

import (
	"regexp"
	"sync"

	"github.com/cabify/couchkit/internal/exprlang"
)

// placeholderRE matches a brace-delimited placeholder. Placeholders may
// contain at most one nested level of {word}.
var placeholderRE = regexp.MustCompile(`\{((?:[^{}]+|\{\w+\})*)\}`)

var simpleNameRE = regexp.MustCompile(`^\w+$`)

// Resolver is the value a placeholder scope can hold: either a plain
// value, or a function computing one from the current request options
// and the placeholder's name.
type Resolver interface{}

// PlaceholderFunc is a Resolver that is invoked rather than used
// directly.
type PlaceholderFunc func(opts *RequestOptions, name string) interface{}

// templateCache memoises compiled expressions by source text, shared
// across every expansion performed by a Client.
type templateCache struct {
	mu    sync.Mutex
	exprs map[string]*exprlang.Expr
}

func newTemplateCache() *templateCache {
	return &templateCache{exprs: make(map[string]*exprlang.Expr)}
}

func (tc *templateCache) compile(src string) (*exprlang.Expr, error) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if e, ok := tc.exprs[src]; ok {
		return e, nil
	}
	e, err := exprlang.Compile(src)
	if err != nil {
		return nil, err
	}
	tc.exprs[src] = e
	return e, nil
}

// expandTemplate expands every {...} placeholder in tmpl, resolving
// simple names against opts first and then client, falling back to
// leaving the placeholder untouched (braces included) when unbound in
// both scopes.
func (c *Client) expandTemplate(tmpl string, opts *RequestOptions) (string, error) {
	var outerErr error
	result := placeholderRE.ReplaceAllStringFunc(tmpl, func(match string) string {
		if outerErr != nil {
			return match
		}
		body := match[1 : len(match)-1]
		if simpleNameRE.MatchString(body) {
			v, ok := c.resolvePlaceholder(body, opts)
			if !ok {
				return match
			}
			return stringify(v)
		}
		expr, err := c.templates.compile(body)
		if err != nil {
			outerErr = err
			return match
		}
		v, err := expr.Eval(func(name string) (interface{}, bool) {
			return c.resolvePlaceholder(name, opts)
		})
		if err != nil {
			outerErr = err
			return match
		}
		return stringify(v)
	})
	if outerErr != nil {
		return "", outerErr
	}
	return result, nil
}

// resolvePlaceholder looks a name up in the per-call scope first, then
// the per-client scope. The bool result reports whether a binding
// exists at all (as opposed to being present but falsy/zero).
func (c *Client) resolvePlaceholder(name string, opts *RequestOptions) (interface{}, bool) {
	if opts != nil {
		if v, ok := opts.Extra[name]; ok {
			return resolveValue(v, opts, name), true
		}
	}
	if v, ok := c.placeholders[name]; ok {
		return resolveValue(v, opts, name), true
	}
	return nil, false
}

func resolveValue(v interface{}, opts *RequestOptions, name string) interface{} {
	if fn, ok := v.(PlaceholderFunc); ok {
		return fn(opts, name)
	}
	if fn, ok := v.(func(*RequestOptions, string) interface{}); ok {
		return fn(opts, name)
	}
	return v
}

func stringify(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		if x {
			return "true"
		}
		return "false"
	case float64:
		return trimFloat(x)
	default:
		return toStringFallback(x)
	}
}
