/*
Copyright 2026 The gemcore Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package router dispatches a request to one of several handlers by
// path, generalizing the regex-keyed dispatch table the teacher's
// front package built for a fixed set of ActivityPub endpoints into
// the three matching strategies spec.md §4.6 calls for.
package router

import (
	"context"
	"regexp"
	"strings"

	"github.com/dimkr/gemcore/gemini"
)

// Kind selects how a Route's Pattern is matched against a request
// path.
type Kind int

const (
	// Exact matches the path byte-for-byte.
	Exact Kind = iota
	// Prefix matches any path starting with Pattern.
	Prefix
	// Regex matches Pattern as a compiled regular expression.
	Regex
)

// Route binds a pattern to a handler.
type Route struct {
	Pattern string
	Kind    Kind
	Handler gemini.Handler

	re *regexp.Regexp
}

// Router dispatches to the first Route, in registration order, whose
// pattern matches the request path. It implements [gemini.Handler]
// itself, so a Router can be nested inside another or wrapped by
// middleware like any other handler.
type Router struct {
	routes   []*Route
	notFound gemini.Handler
}

// New builds a Router from routes, matched in the order given;
// notFound handles any request no route claims. A nil notFound
// yields a bare 51 NOT FOUND.
func New(notFound gemini.Handler, routes ...Route) (*Router, error) {
	r := &Router{notFound: notFound}

	if r.notFound == nil {
		r.notFound = gemini.HandlerFunc(func(ctx context.Context, req *gemini.Request, clientIP string) *gemini.Response {
			return &gemini.Response{Status: 51, Meta: "Not found"}
		})
	}

	for _, route := range routes {
		route := route
		if route.Kind == Regex {
			re, err := regexp.Compile("^(?:" + route.Pattern + ")$")
			if err != nil {
				return nil, err
			}
			route.re = re
		}
		r.routes = append(r.routes, &route)
	}

	return r, nil
}

// Handle dispatches req to the first matching route's handler.
func (r *Router) Handle(ctx context.Context, req *gemini.Request, clientIP string) *gemini.Response {
	path := req.URL.Path

	for _, route := range r.routes {
		if route.matches(path) {
			return route.Handler.Handle(ctx, req, clientIP)
		}
	}

	return r.notFound.Handle(ctx, req, clientIP)
}

func (route *Route) matches(path string) bool {
	switch route.Kind {
	case Exact:
		return path == route.Pattern
	case Prefix:
		return matchesPrefix(path, route.Pattern)
	case Regex:
		return route.re.MatchString(path)
	default:
		return false
	}
}

// matchesPrefix reports whether path is under pattern at a path-segment
// boundary: pattern itself, pattern already ending in "/", or pattern
// followed by "/" in path. This keeps "/api" from matching "/apikey".
func matchesPrefix(path, pattern string) bool {
	if !strings.HasPrefix(path, pattern) {
		return false
	}
	if len(path) == len(pattern) || strings.HasSuffix(pattern, "/") {
		return true
	}
	return path[len(pattern)] == '/'
}
