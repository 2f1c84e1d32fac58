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

package gemini

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/dimkr/gemcore/cfg"
	"github.com/dimkr/gemcore/status"
)

// Errors returned by [Do], matching the taxonomy spec.md §7 assigns to
// the client protocol engine.
var (
	ErrProtocolError    = errors.New("gemini: malformed response header")
	ErrBodyTooLarge     = errors.New("gemini: response body exceeds maximum size")
	ErrConnectionClosed = errors.New("gemini: connection closed before a complete response was received")
)

// PeerCertificate is the server's leaf certificate, captured from the
// handshake so a caller can run it through TOFU verification.
type PeerCertificate struct {
	Cert        *x509.Certificate
	Fingerprint string
}

// Do opens a TLS connection to addr, sends req as a Gemini request
// line and reads the full response, enforcing cfg's size limits. The
// connection is torn down before Do returns; Gemini has no concept of
// keep-alive (spec.md §2).
//
// peerHook, if non-nil, is called with the server's certificate right
// after the handshake completes and before the request line is sent,
// so a caller can abort the transaction (by returning a non-nil error)
// on TOFU mismatch before any data is exchanged.
func Do(ctx context.Context, conn net.Conn, tlsConfig *tls.Config, req *Request, c *cfg.Config, peerHook func(PeerCertificate) error) (*Response, error) {
	tlsConn := tls.Client(conn, tlsConfig)
	defer tlsConn.Close()

	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, fmt.Errorf("gemini: handshake failed: %w", err)
	}

	if peerHook != nil {
		state := tlsConn.ConnectionState()
		if len(state.PeerCertificates) == 0 {
			return nil, fmt.Errorf("%w: server presented no certificate", ErrProtocolError)
		}
		cert := state.PeerCertificates[0]
		if err := peerHook(PeerCertificate{Cert: cert, Fingerprint: fingerprintOf(cert)}); err != nil {
			return nil, err
		}
	}

	if deadline, ok := ctx.Deadline(); ok {
		tlsConn.SetDeadline(deadline)
	}

	if _, err := io.WriteString(tlsConn, req.Raw+"\r\n"); err != nil {
		return nil, fmt.Errorf("gemini: failed to send request: %w", err)
	}

	// the header and the body share one buffered reader, so body bytes
	// that arrive in the same TLS record as the header are not lost.
	br := bufio.NewReader(tlsConn)

	statusCode, meta, err := readHeader(br)
	if err != nil {
		return nil, err
	}

	resp := &Response{Status: statusCode, Meta: meta, URL: req.URL}

	if !resp.IsSuccess() {
		return resp, nil
	}

	body, err := readBody(br, c.MaxResponseBodySize)
	if err != nil {
		return resp, err
	}
	resp.Body = body

	return resp, nil
}

// readHeader reads and parses the "<status> SP <meta>" header line
// spec.md §4.2 specifies: exactly two ASCII digits, a single space,
// then meta up to 1024 bytes, terminated by CRLF.
func readHeader(r io.Reader) (int, string, error) {
	br := bufio.NewReaderSize(r, 1029)

	line, err := br.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			return 0, "", ErrConnectionClosed
		}
		return 0, "", fmt.Errorf("gemini: failed to read response header: %w", err)
	}

	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")

	if len(line) < 2 {
		return 0, "", fmt.Errorf("%w: header too short", ErrProtocolError)
	}

	code, err := strconv.Atoi(line[:2])
	if err != nil || !status.IsValid(code) {
		return 0, "", fmt.Errorf("%w: invalid status code %q", ErrProtocolError, line[:2])
	}

	meta := ""
	if len(line) > 2 {
		if line[2] != ' ' {
			return 0, "", fmt.Errorf("%w: missing space after status code", ErrProtocolError)
		}
		meta = line[3:]
	}

	if len(meta) > 1024 {
		return 0, "", fmt.Errorf("%w: meta exceeds 1024 bytes", ErrProtocolError)
	}

	return code, meta, nil
}

// readBody reads the response body, stopping with [ErrBodyTooLarge] if
// it exceeds maxSize, and validating it as UTF-8 per spec.md §4.2 step
// 5 ("decode as UTF-8 at end; invalid UTF-8 fails the transaction").
// A maxSize of 0 means unlimited.
func readBody(r io.Reader, maxSize int64) (string, error) {
	var data []byte
	var err error

	if maxSize <= 0 {
		data, err = io.ReadAll(r)
		if err != nil {
			return "", fmt.Errorf("gemini: failed to read response body: %w", err)
		}
	} else {
		data, err = io.ReadAll(io.LimitReader(r, maxSize+1))
		if err != nil {
			return "", fmt.Errorf("gemini: failed to read response body: %w", err)
		}
		if int64(len(data)) > maxSize {
			return "", ErrBodyTooLarge
		}
	}

	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: response body is not valid UTF-8", ErrProtocolError)
	}

	return string(data), nil
}
