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

// Package titan implements the Titan companion protocol: uploading
// and deleting files under a document root via a titan:// request
// whose path carries ";size=", ";mime=" and ";token=" parameters and
// whose body, for an upload, is exactly size bytes long.
package titan

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/natefinch/atomic"

	"github.com/dimkr/gemcore/cfg"
	"github.com/dimkr/gemcore/gemini"
)

// ErrInvalidRequest is wrapped by every rejection of a malformed
// titan:// request line.
var ErrInvalidRequest = errors.New("titan: invalid request")

// Params are the ";key=value" parameters Titan appends to the final
// path segment of a request URI.
type Params struct {
	Path  string
	Size  int64
	MIME  string
	Token string
}

// ParseParams splits rawPath (a URI path, e.g. "/notes/a.gmi;size=12;mime=text/plain")
// into the clean file path and its Titan parameters. Size is required;
// MIME defaults to "application/octet-stream" and Token defaults to
// empty when absent.
func ParseParams(rawPath string) (*Params, error) {
	// parameters start at the first ";"; splitting on "/" first would
	// cut a value such as "mime=text/plain" in two.
	path, rawParams, _ := strings.Cut(rawPath, ";")

	p := &Params{Path: path, MIME: "application/octet-stream"}

	var parts []string
	if rawParams != "" {
		parts = strings.Split(rawParams, ";")
	}

	sawSize := false
	for _, kv := range parts {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("%w: malformed parameter %q", ErrInvalidRequest, kv)
		}

		switch key {
		case "size":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("%w: invalid size %q", ErrInvalidRequest, value)
			}
			p.Size = n
			sawSize = true
		case "mime":
			p.MIME = value
		case "token":
			p.Token = value
		}
	}

	if !sawSize {
		return nil, fmt.Errorf("%w: missing size parameter", ErrInvalidRequest)
	}

	return p, nil
}

// Handler implements uploads and deletes under Config.StaticDocumentRoot.
type Handler struct {
	Root          string
	MaxUploadSize int64
	// Token, if non-empty, must match every request's ";token=" value.
	Token string
	Log   *slog.Logger
}

// New builds a Handler rooted at c.StaticDocumentRoot.
func New(c *cfg.Config, token string, log *slog.Logger) (*Handler, error) {
	root, err := filepath.Abs(c.StaticDocumentRoot)
	if err != nil {
		return nil, err
	}

	if log == nil {
		log = slog.Default()
	}

	return &Handler{Root: root, MaxUploadSize: c.MaxTitanUploadSize, Token: token, Log: log}, nil
}

func (h *Handler) resolve(cleanPath string) (string, error) {
	candidate := filepath.Join(h.Root, filepath.Clean("/"+cleanPath))
	if !strings.HasPrefix(candidate, h.Root+string(filepath.Separator)) && candidate != h.Root {
		return "", errors.New("titan: path escapes document root")
	}
	return candidate, nil
}

// Handle implements [gemini.Handler]. An upload (size > 0) writes the
// request body atomically to disk; a delete (size == 0) removes the
// file if it exists.
func (h *Handler) Handle(ctx context.Context, req *gemini.Request, clientIP string) *gemini.Response {
	params, err := ParseParams(req.URL.Path)
	if err != nil {
		return &gemini.Response{Status: 59, Meta: err.Error()}
	}

	if h.Token != "" && params.Token != h.Token {
		return &gemini.Response{Status: 61, Meta: "Invalid upload token"}
	}

	if params.Size > h.MaxUploadSize {
		return &gemini.Response{Status: 59, Meta: "Upload exceeds maximum size"}
	}

	path, err := h.resolve(params.Path)
	if err != nil {
		return &gemini.Response{Status: 59, Meta: "Invalid path"}
	}

	if params.Size == 0 {
		return h.delete(ctx, path)
	}

	return h.upload(ctx, path, params, req)
}

func (h *Handler) delete(ctx context.Context, path string) *gemini.Response {
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return &gemini.Response{Status: 51, Meta: "Not found"}
		}
		h.Log.WarnContext(ctx, "Failed to delete uploaded file", "path", path, "error", err)
		return &gemini.Response{Status: 40, Meta: "Failed to delete file"}
	}
	return &gemini.Response{Status: 20, Meta: "text/gemini"}
}

// upload reads exactly params.Size bytes from req.Body and writes them
// to path via atomic.WriteFile, so a crashed or truncated upload never
// leaves a half-written file in place of whatever was there before.
func (h *Handler) upload(ctx context.Context, path string, params *Params, req *gemini.Request) *gemini.Response {
	if req.Body == nil {
		h.Log.ErrorContext(ctx, "Titan upload request carries no body reader", "path", path)
		return &gemini.Response{Status: 40, Meta: "Server error"}
	}

	body := io.LimitReader(req.Body, params.Size)
	data, err := io.ReadAll(body)
	if err != nil {
		h.Log.WarnContext(ctx, "Failed to read upload body", "path", path, "error", err)
		return &gemini.Response{Status: 40, Meta: "Failed to read upload"}
	}

	if int64(len(data)) != params.Size {
		return &gemini.Response{Status: 59, Meta: "Upload body shorter than declared size"}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		h.Log.WarnContext(ctx, "Failed to create upload directory", "path", path, "error", err)
		return &gemini.Response{Status: 40, Meta: "Failed to store upload"}
	}

	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		h.Log.WarnContext(ctx, "Failed to write uploaded file", "path", path, "error", err)
		return &gemini.Response{Status: 40, Meta: "Failed to store upload"}
	}

	return &gemini.Response{Status: 20, Meta: "text/gemini"}
}
