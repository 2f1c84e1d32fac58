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

// Package proxy forwards a request to an upstream Gemini server and
// relays its response verbatim, per spec.md §4.8. Grounded on the
// client engine in package session, with redirect-following turned
// off: a proxy hands a 3x straight back to its own caller instead of
// chasing it server-side.
package proxy

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dimkr/gemcore/gemini"
	"github.com/dimkr/gemcore/session"
	"github.com/dimkr/gemcore/uri"
)

// Rewrite turns an incoming request path into the upstream URI to
// fetch. A nil Rewrite proxies the request unchanged, host included.
type Rewrite func(req *gemini.Request) (string, error)

// Handler forwards requests to an upstream Gemini host.
type Handler struct {
	Session *session.Session
	Rewrite Rewrite
	Log     *slog.Logger
}

func (h *Handler) logger() *slog.Logger {
	if h.Log != nil {
		return h.Log
	}
	return slog.Default()
}

// Handle implements [gemini.Handler]. Any upstream failure — a dial
// error, a TOFU mismatch, a malformed response — is reported to the
// downstream client as 43 PROXY ERROR rather than propagated, since
// spec.md §4.8 treats the upstream as opaque to the client it serves.
func (h *Handler) Handle(ctx context.Context, req *gemini.Request, clientIP string) *gemini.Response {
	target := req.URL.String()
	if h.Rewrite != nil {
		rewritten, err := h.Rewrite(req)
		if err != nil {
			h.logger().WarnContext(ctx, "Failed to rewrite proxied request", "error", err)
			return &gemini.Response{Status: 59, Meta: "Bad request"}
		}
		target = rewritten
	}

	if _, err := uri.Parse(target); err != nil {
		return &gemini.Response{Status: 59, Meta: "Bad request"}
	}

	s := *h.Session
	s.FollowRedirects = false

	if s.Config != nil && s.Config.ProxyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Config.ProxyTimeout)
		defer cancel()
	}

	resp, err := s.Fetch(ctx, target)
	if err != nil {
		h.logger().WarnContext(ctx, "Proxied request failed", "target", target, "error", err)

		if errors.Is(err, context.DeadlineExceeded) {
			return &gemini.Response{Status: 43, Meta: "Upstream timed out"}
		}

		return &gemini.Response{Status: 43, Meta: "Proxy error"}
	}

	return resp
}
