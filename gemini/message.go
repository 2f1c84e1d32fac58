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

// Package gemini implements the wire-level Gemini protocol: the
// request and response value types and the client and server state
// machines that drive a single transaction over a TLS stream.
package gemini

import (
	"crypto/sha256"
	"crypto/x509"
	"fmt"
	"io"
	"strings"

	"github.com/dimkr/gemcore/status"
	"github.com/dimkr/gemcore/uri"
)

// fingerprintOf returns the "sha256:<hex>" fingerprint of cert's DER
// encoding, matching the format the tofu package stores on the client
// side (spec.md §6.2) so a CertAuth middleware can compare the two
// without either side importing the other.
func fingerprintOf(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return fmt.Sprintf("sha256:%x", sum)
}

// Request is a single parsed Gemini (or Titan) request. It is built
// once, fully populated, by whichever engine received it, and is
// never mutated afterward — per spec.md §9's builder/finalizer note,
// the server engine never hands out a Request before its certificate
// fields are final.
type Request struct {
	// Raw is the exact request line the client sent, without the
	// trailing CRLF.
	Raw string

	// URL is Raw, parsed and normalized.
	URL *uri.URI

	// ClientCert is the peer certificate presented during the TLS
	// handshake, or nil if none was presented.
	ClientCert *x509.Certificate

	// ClientCertFingerprint is the "sha256:<hex>" fingerprint of
	// ClientCert. It is set if and only if ClientCert is non-nil.
	ClientCertFingerprint string

	// Body is the request body following the request line. It is only
	// populated for titan:// requests, which are the one case in the
	// Gemini family where a request carries a body; it is nil for a
	// plain gemini:// request.
	Body io.Reader
}

// NewRequest parses raw and constructs a Request with no attached
// client certificate.
func NewRequest(raw string) (*Request, error) {
	u, err := uri.Parse(raw)
	if err != nil {
		return nil, err
	}

	return &Request{Raw: raw, URL: u}, nil
}

// WithClientCert returns a copy of r with its certificate fields
// populated, implementing the builder/finalizer pattern spec.md §9
// calls for instead of mutating a request that might already be
// shared.
func (r *Request) WithClientCert(cert *x509.Certificate, fingerprint string) *Request {
	clone := *r
	clone.ClientCert = cert
	clone.ClientCertFingerprint = fingerprint
	return &clone
}

// WithBody returns a copy of r carrying body, for the server engine
// to attach a titan:// request's upload stream.
func (r *Request) WithBody(body io.Reader) *Request {
	clone := *r
	clone.Body = body
	return &clone
}

// Response is an immutable Gemini response: a status, a meta string
// and, for 2x responses only, a body.
type Response struct {
	Status int
	Meta   string
	Body   string

	// URL is the originating request URI, carried for logging only.
	URL *uri.URI
}

// IsSuccess reports whether r.Status is in the 20-29 range.
func (r *Response) IsSuccess() bool { return status.IsSuccess(r.Status) }

// IsRedirect reports whether r.Status is in the 30-39 range.
func (r *Response) IsRedirect() bool { return status.IsRedirect(r.Status) }

// IsError reports whether r.Status is 40 or above.
func (r *Response) IsError() bool { return status.IsError(r.Status) }

// MIMEType extracts the MIME type from Meta ("type/subtype[; charset=...]"),
// defaulting to "text/gemini" if Meta is empty or its part before the
// first ";" is blank. Any other text is returned as is, without a
// check that it has a "type/subtype" form. Only meaningful for 2x
// responses.
func (r *Response) MIMEType() string {
	mt, _ := parseMeta(r.Meta)
	return mt
}

// Charset extracts the charset parameter from Meta, defaulting to
// "utf-8". Only meaningful for 2x responses.
func (r *Response) Charset() string {
	_, cs := parseMeta(r.Meta)
	return cs
}

func parseMeta(meta string) (mimeType, charset string) {
	mimeType = "text/gemini"
	charset = "utf-8"

	if meta == "" {
		return
	}

	parts := strings.Split(meta, ";")
	if t := strings.TrimSpace(parts[0]); t != "" {
		mimeType = t
	}

	for _, param := range parts[1:] {
		param = strings.TrimSpace(param)
		if v, ok := strings.CutPrefix(param, "charset="); ok {
			charset = strings.Trim(v, `"`)
		}
	}

	return
}
