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

// Package session implements the client-facing half of a Gemini
// transaction: dialing, TOFU enforcement and gemini-scheme redirect
// following, layered on top of the wire-level engine in package
// gemini exactly as spec.md §4.3 describes.
package session

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/url"

	"github.com/dimkr/gemcore/cfg"
	"github.com/dimkr/gemcore/gemini"
	"github.com/dimkr/gemcore/tlsconf"
	"github.com/dimkr/gemcore/tofu"
	"github.com/dimkr/gemcore/uri"
)

// ErrTooManyRedirects is returned once a transaction follows more than
// cfg.Config.MaxRedirects gemini-scheme redirects.
var ErrTooManyRedirects = errors.New("session: too many redirects")

// ErrRedirectLoop is returned when a redirect chain revisits a URI it
// has already seen.
var ErrRedirectLoop = errors.New("session: redirect loop detected")

// ErrCrossSchemeRedirect marks a redirect target outside the gemini
// scheme. Fetch does not follow such a redirect: it returns the 3x
// response itself, with a nil error.
var ErrCrossSchemeRedirect = errors.New("session: refusing to auto-follow a non-gemini redirect")

// Session is a single client's view of the Gemini network: a TOFU
// store and an optional client certificate, shared across however
// many transactions [Session.Fetch] runs.
type Session struct {
	Config *cfg.Config
	TOFU   *tofu.Store
	Cert   *tls.Certificate

	// FollowRedirects controls whether Fetch auto-follows gemini-scheme
	// 3x responses. The proxy handler sets this to false, since a
	// reverse proxy hands the redirect back to its own client instead
	// of chasing it itself.
	FollowRedirects bool
}

// Fetch runs a complete Gemini transaction for rawURL: dial, TLS
// handshake with TOFU verification, send the request and read the
// response, following gemini-scheme redirects up to
// Config.MaxRedirects hops when FollowRedirects is set.
func (s *Session) Fetch(ctx context.Context, rawURL string) (*gemini.Response, error) {
	seen := make(map[string]bool)
	current := rawURL

	for hop := 0; ; hop++ {
		if s.Config.MaxRedirects > 0 && hop > s.Config.MaxRedirects {
			return nil, ErrTooManyRedirects
		}

		if seen[current] {
			return nil, ErrRedirectLoop
		}
		seen[current] = true

		resp, err := s.fetchOnce(ctx, current)
		if err != nil {
			return nil, err
		}

		if !s.FollowRedirects || !resp.IsRedirect() {
			return resp, nil
		}

		target, err := resolveRedirect(current, resp.Meta)
		if err != nil {
			if errors.Is(err, ErrCrossSchemeRedirect) {
				// spec.md §4.3 step 5: a cross-protocol redirect is
				// handed back to the caller verbatim, not treated as a
				// transaction failure.
				return resp, nil
			}
			return nil, fmt.Errorf("session: invalid redirect target: %w", err)
		}

		current = target
	}
}

// fetchOnce runs a single request/response transaction, with no
// redirect handling.
func (s *Session) fetchOnce(ctx context.Context, rawURL string) (*gemini.Response, error) {
	req, err := gemini.NewRequest(rawURL)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.Config.ClientTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", req.URL.HostPort())
	if err != nil {
		return nil, fmt.Errorf("session: failed to connect to %s: %w", req.URL.HostPort(), err)
	}

	host, port := req.URL.Host, req.URL.Port

	opts := tlsconf.ClientOptions{Certificate: s.Cert, ServerName: host}
	if s.TOFU != nil {
		opts.OnPeerCertificate = func(cert *x509.Certificate) error {
			fingerprint := tofu.Fingerprint(cert)

			result, err := s.TOFU.Verify(ctx, host, port, fingerprint)
			if err != nil {
				var changed *tofu.ErrChanged
				if errors.As(err, &changed) {
					return changed
				}
				return err
			}

			if result == tofu.Changed {
				return fmt.Errorf("session: certificate for %s:%d changed since first contact", host, port)
			}

			return nil
		}
	}

	return gemini.Do(ctx, conn, tlsconf.ClientConfig(opts), req, s.Config, nil)
}

// resolveRedirect resolves meta, the target of a 3x response to
// current, against current's URI, rejecting anything that does not
// stay on the gemini scheme (spec.md §4.3: redirects are only
// auto-followed within the Gemini protocol, never to titan or an
// external scheme).
func resolveRedirect(current, meta string) (string, error) {
	base, err := url.Parse(current)
	if err != nil {
		return "", err
	}

	target, err := base.Parse(meta)
	if err != nil {
		return "", err
	}

	resolved := target.String()

	parsed, err := uri.Parse(resolved)
	if err != nil {
		if errors.Is(err, uri.ErrUnsupportedScheme) {
			return "", ErrCrossSchemeRedirect
		}
		return "", err
	}

	if parsed.Scheme != "gemini" {
		return "", ErrCrossSchemeRedirect
	}

	return resolved, nil
}
