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

package middleware

import (
	"context"
	"net"

	"github.com/dimkr/gemcore/gemini"
)

// Policy is the outcome applied when neither Deny nor Allow claims a
// client IP.
type Policy int

const (
	// DefaultDeny rejects any IP not covered by Allow.
	DefaultDeny Policy = iota
	// DefaultAllow permits any IP not covered by Deny.
	DefaultAllow
)

// AccessControlConfig configures [AccessControl], per spec.md §4.5.1.
type AccessControlConfig struct {
	// Allow, if non-empty, is the set of CIDR blocks permitted to
	// proceed; an IP outside it is denied regardless of Default.
	Allow []net.IPNet
	// Deny is the set of CIDR blocks always rejected, no matter what
	// Allow or Default say: deny precedence is absolute.
	Deny []net.IPNet
	// Default is the policy applied when neither Allow nor Deny
	// claims the client IP.
	Default Policy
}

var accessDenied = &gemini.Response{Status: 53, Meta: "Access denied"}

// AccessControl enforces cfg: an unparsable client IP is always
// denied, a deny-list hit always overrides an allow-list hit, an
// allow-list (when configured) is otherwise authoritative, and
// anything left unclaimed falls through to cfg.Default.
func AccessControl(cfg AccessControlConfig) Middleware {
	return func(next gemini.Handler) gemini.Handler {
		return gemini.HandlerFunc(func(ctx context.Context, req *gemini.Request, clientIP string) *gemini.Response {
			ip := net.ParseIP(clientIP)
			if ip == nil {
				return accessDenied
			}

			for _, n := range cfg.Deny {
				if n.Contains(ip) {
					return accessDenied
				}
			}

			if len(cfg.Allow) > 0 {
				for _, n := range cfg.Allow {
					if n.Contains(ip) {
						return next.Handle(ctx, req, clientIP)
					}
				}
				return accessDenied
			}

			if cfg.Default == DefaultAllow {
				return next.Handle(ctx, req, clientIP)
			}
			return accessDenied
		})
	}
}
