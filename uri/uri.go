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

// Package uri parses and normalizes the request-line URIs carried by
// the Gemini and Titan protocols.
package uri

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/idna"
)

// ErrInvalidURI is wrapped by every parse failure; use errors.Is to
// detect any rejection regardless of the underlying reason.
var ErrInvalidURI = errors.New("uri: invalid")

// ErrUnsupportedScheme is additionally wrapped when raw has no scheme
// or one outside allowedSchemes, so a caller can report the canonical
// "Invalid scheme" message spec.md §8 specifies instead of the
// underlying detail.
var ErrUnsupportedScheme = errors.New("uri: unsupported scheme")

// DefaultPort is the default Gemini/Titan port, used whenever a URI
// omits one.
const DefaultPort = 1965

// MaxLineLength is the largest a serialized URI plus its trailing
// CRLF may be.
const MaxLineLength = 1024

// Schemes this package accepts. Any other scheme is rejected.
var allowedSchemes = map[string]bool{
	"gemini": true,
	"titan":  true,
}

// URI is a parsed, normalized Gemini or Titan URI.
type URI struct {
	Scheme   string
	Host     string
	Port     int
	Path     string
	RawQuery string
}

func invalid(format string, a ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidURI, fmt.Sprintf(format, a...))
}

// Parse parses and normalizes raw, rejecting anything spec.md §4.1
// disallows: empty input, an unsupported scheme, an empty hostname,
// userinfo, a fragment, an out-of-range port, or a serialized form
// that would exceed [MaxLineLength] once CRLF-terminated.
func Parse(raw string) (*URI, error) {
	if raw == "" {
		return nil, invalid("empty URI")
	}

	if len(raw)+2 > MaxLineLength {
		return nil, invalid("URI exceeds %d bytes including CRLF", MaxLineLength)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, invalid("%s", err)
	}

	if u.Scheme == "" {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedScheme, invalid("missing scheme"))
	}

	scheme := strings.ToLower(u.Scheme)
	if !allowedSchemes[scheme] {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedScheme, invalid("unsupported scheme %q", u.Scheme))
	}

	if u.User != nil {
		return nil, invalid("userinfo is not allowed")
	}

	if u.Fragment != "" {
		return nil, invalid("fragment is not allowed")
	}

	host := u.Hostname()
	if host == "" {
		return nil, invalid("missing hostname")
	}

	asciiHost, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return nil, invalid("invalid hostname %q: %s", host, err)
	}

	port := DefaultPort
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 || n > 65535 {
			return nil, invalid("invalid port %q", p)
		}
		port = n
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	} else if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	return &URI{
		Scheme:   scheme,
		Host:     asciiHost,
		Port:     port,
		Path:     path,
		RawQuery: u.RawQuery,
	}, nil
}

// String renders u in normalized form: the default port is omitted,
// the path always starts with "/", and the query is preserved
// verbatim. Normalize(Normalize(u)) == Normalize(u) for any u that
// parsed successfully, since String's output always round-trips
// through Parse unchanged.
func (u *URI) String() string {
	var b strings.Builder
	b.WriteString(u.Scheme)
	b.WriteString("://")
	b.WriteString(u.Host)
	if u.Port != DefaultPort {
		fmt.Fprintf(&b, ":%d", u.Port)
	}
	b.WriteString(u.Path)
	if u.RawQuery != "" {
		b.WriteString("?")
		b.WriteString(u.RawQuery)
	}
	return b.String()
}

// HostPort returns "host:port", suitable for net.Dial.
func (u *URI) HostPort() string {
	return fmt.Sprintf("%s:%d", u.Host, u.Port)
}

// Normalize parses raw and immediately re-serializes it. It is a
// convenience for callers that only need the canonical string form.
func Normalize(raw string) (string, error) {
	u, err := Parse(raw)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}
