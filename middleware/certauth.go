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
	"strings"

	"github.com/dimkr/gemcore/gemini"
)

// CertAuthRule toggles whether a client certificate is required for
// requests whose path starts with PathPrefix, overriding
// CertAuthConfig.RequireCert for that path. Rules are evaluated in
// order; the first matching rule wins.
type CertAuthRule struct {
	PathPrefix string
	Require    bool
}

// CertAuthConfig configures [CertAuth], per spec.md §4.5.3.
type CertAuthConfig struct {
	// RequireCert is the default requirement, overridden per request
	// by the first matching entry in Rules.
	RequireCert bool

	// Allowed, when non-empty, is the set of fingerprints ("sha256:...")
	// permitted to proceed. While it is set, a request with no
	// certificate or with any other fingerprint is rejected, whatever
	// RequireCert and Rules say.
	Allowed map[string]bool

	// Rules lets specific path prefixes toggle RequireCert.
	Rules []CertAuthRule
}

func (c CertAuthConfig) requiresCertFor(path string) bool {
	for _, rule := range c.Rules {
		if strings.HasPrefix(path, rule.PathPrefix) {
			return rule.Require
		}
	}
	return c.RequireCert
}

// CertAuth enforces cfg: if no rule applies and no certificate is
// required or allow-listed, the request proceeds unchanged (spec.md
// §4.5.3 step 1). Otherwise a missing certificate is rejected with 60
// CLIENT CERTIFICATE REQUIRED, and a certificate whose fingerprint
// isn't in cfg.Allowed (when configured) is rejected with 61
// CERTIFICATE NOT AUTHORIZED. On success the certificate's common name
// is recorded in the request context, readable via
// [CertSubjectFromContext].
func CertAuth(cfg CertAuthConfig) Middleware {
	return func(next gemini.Handler) gemini.Handler {
		return gemini.HandlerFunc(func(ctx context.Context, req *gemini.Request, clientIP string) *gemini.Response {
			require := cfg.requiresCertFor(req.URL.Path)

			if req.ClientCert == nil {
				if require || len(cfg.Allowed) > 0 {
					return &gemini.Response{Status: 60, Meta: "Client certificate required"}
				}
				return next.Handle(ctx, req, clientIP)
			}

			if len(cfg.Allowed) > 0 && !cfg.Allowed[req.ClientCertFingerprint] {
				return &gemini.Response{Status: 61, Meta: "Certificate not authorized"}
			}

			ctx = context.WithValue(ctx, certSubjectKey, req.ClientCert.Subject.CommonName)
			return next.Handle(ctx, req, clientIP)
		})
	}
}
