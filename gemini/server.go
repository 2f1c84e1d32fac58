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
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/dimkr/gemcore/cfg"
	"github.com/dimkr/gemcore/logcontext"
	"github.com/dimkr/gemcore/uri"
)

// Handler processes one request and produces a response. Handlers run
// on the goroutine the server engine spawned for their connection
// (spec.md §5: one task per connection), so a Handler that blocks
// only blocks its own connection; that goroutine is itself the
// "completed future" a synchronous Handler implicitly returns, and a
// Handler that needs to do real asynchronous work is free to run its
// own goroutines and channels internally before returning.
type Handler interface {
	Handle(ctx context.Context, req *Request, clientIP string) *Response
}

// HandlerFunc adapts a function to a [Handler].
type HandlerFunc func(ctx context.Context, req *Request, clientIP string) *Response

func (f HandlerFunc) Handle(ctx context.Context, req *Request, clientIP string) *Response {
	return f(ctx, req, clientIP)
}

// Server accepts Gemini connections and dispatches each request to a
// Handler.
type Server struct {
	Addr      string
	TLSConfig *tls.Config
	Handler   Handler
	Config    *cfg.Config
	Log       *slog.Logger
}

func (s *Server) logger() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}

// ListenAndServe accepts connections until ctx is canceled, spawning
// one goroutine per connection (spec.md §5), and returns once every
// in-flight connection has been torn down.
func (s *Server) ListenAndServe(ctx context.Context) error {
	l, err := tls.Listen("tcp", s.Addr, s.TLSConfig)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup

	wg.Go(func() {
		<-ctx.Done()
		l.Close()
	})

	conns := make(chan net.Conn)

	wg.Go(func() {
		for ctx.Err() == nil {
			conn, err := l.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger().Warn("Failed to accept a connection", "error", err)
				continue
			}
			conns <- conn
		}
	})

	for ctx.Err() == nil {
		select {
		case <-ctx.Done():
		case conn := <-conns:
			reqCtx, cancel := context.WithTimeout(ctx, s.Config.GeminiRequestTimeout)

			wg.Go(func() {
				<-reqCtx.Done()
				conn.Close()
			})

			wg.Go(func() {
				defer cancel()
				s.handle(reqCtx, conn)
			})
		}
	}

	wg.Wait()
	return nil
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	clientIP := ""
	if addr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		clientIP = addr.IP.String()
	}

	ctx = logcontext.Add(ctx, "conn_id", uuid.NewString(), "client_ip", clientIP)
	log := s.logger()

	if err := conn.SetDeadline(time.Now().Add(s.Config.GeminiRequestTimeout)); err != nil {
		log.WarnContext(ctx, "Failed to set deadline", "error", err)
		return
	}

	tlsConn, ok := conn.(*tls.Conn)
	if !ok {
		log.WarnContext(ctx, "Connection is not TLS")
		return
	}

	if err := tlsConn.HandshakeContext(ctx); err != nil {
		log.WarnContext(ctx, "Handshake failed", "error", err)
		return
	}

	req, leftover, sendErr := s.readRequest(conn)
	if sendErr != nil {
		s.writeResponse(conn, sendErr)
		return
	}

	state := tlsConn.ConnectionState()
	if len(state.PeerCertificates) > 0 {
		cert := state.PeerCertificates[0]
		req = req.WithClientCert(cert, fingerprintOf(cert))
	}

	if req.URL.Scheme == "titan" {
		req = req.WithBody(io.MultiReader(bytes.NewReader(leftover), conn))
	}

	resp := s.dispatch(ctx, req, clientIP)
	s.writeResponse(conn, resp)
}

func (s *Server) dispatch(ctx context.Context, req *Request, clientIP string) (resp *Response) {
	defer func() {
		if r := recover(); r != nil {
			s.logger().ErrorContext(ctx, "Handler panicked", "error", r)
			resp = &Response{Status: 40, Meta: fmt.Sprintf("Server error: %v", r)}
		}
	}()

	return s.Handler.Handle(ctx, req, clientIP)
}

// readRequest reads bytes from conn until CRLF or the configured size
// cap is exceeded, following spec.md §4.4: over-size requests and
// invalid UTF-8 or URIs are reported as a ready-to-send 59 response
// rather than an error, since the server engine never fails a
// connection without sending something back.
//
// It returns any bytes read past the terminating CRLF as leftover:
// a titan:// request's body may begin in the same TLS record as its
// request line, and those bytes must not be discarded.
func (s *Server) readRequest(conn net.Conn) (req *Request, leftover []byte, sendErr *Response) {
	max := s.Config.MaxRequestSize
	buf := make([]byte, max+1)
	total := 0
	crlfAt := -1

	for crlfAt == -1 {
		n, err := conn.Read(buf[total:])
		if err != nil {
			if errors.Is(err, io.EOF) && total == 0 {
				return nil, nil, &Response{Status: 59, Meta: "Connection closed before request"}
			}
			return nil, nil, &Response{Status: 59, Meta: "Failed to read request"}
		}
		total += n

		if total > max {
			return nil, nil, &Response{Status: 59, Meta: fmt.Sprintf("Request exceeds maximum size (%d bytes)", max)}
		}

		for i := 1; i < total; i++ {
			if buf[i-1] == '\r' && buf[i] == '\n' {
				crlfAt = i
				break
			}
		}
	}

	line := buf[:crlfAt-1]
	if !utf8.Valid(line) {
		return nil, nil, &Response{Status: 59, Meta: "Invalid UTF-8 encoding"}
	}

	parsed, err := NewRequest(string(line))
	if err != nil {
		if errors.Is(err, uri.ErrUnsupportedScheme) {
			return nil, nil, &Response{Status: 59, Meta: "Invalid scheme"}
		}
		return nil, nil, &Response{Status: 59, Meta: err.Error()}
	}

	return parsed, buf[crlfAt+1 : total], nil
}

func (s *Server) writeResponse(conn net.Conn, resp *Response) {
	header := fmt.Sprintf("%d %s\r\n", resp.Status, resp.Meta)
	if _, err := conn.Write([]byte(header)); err != nil {
		return
	}

	if resp.IsSuccess() && resp.Body != "" {
		conn.Write([]byte(resp.Body))
	}
}
