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

// Package middleware implements request interceptors that wrap a
// [gemini.Handler]: access control, per-IP rate limiting and client
// certificate authentication, per spec.md §4.5.
package middleware

import (
	"context"

	"github.com/dimkr/gemcore/gemini"
)

// Middleware wraps a Handler with cross-cutting behavior, same shape
// as the Handler it wraps so middlewares compose by nesting.
type Middleware func(next gemini.Handler) gemini.Handler

// Chain applies middlewares to next in order, so the first middleware
// in the list is the outermost: it sees the request first and the
// response last.
func Chain(next gemini.Handler, middlewares ...Middleware) gemini.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		next = middlewares[i](next)
	}
	return next
}

// ctxKey namespaces context values this package injects, so a
// downstream handler can retrieve them without importing an unrelated
// middleware's internals.
type ctxKey int

const certSubjectKey ctxKey = iota

// CertSubjectFromContext returns the common name CertAuth recorded
// for the current request's client certificate, if any.
func CertSubjectFromContext(ctx context.Context) (string, bool) {
	cn, ok := ctx.Value(certSubjectKey).(string)
	return cn, ok
}
