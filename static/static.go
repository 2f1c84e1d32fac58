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

// Package static serves files from a document root over Gemini,
// grounded on the teacher's front/cache.go caching layer but adapted
// from caching rendered ActivityPub pages to caching raw file bytes,
// invalidated by fsnotify the moment the document root changes on
// disk instead of by TTL.
package static

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/dimkr/gemcore/cfg"
	"github.com/dimkr/gemcore/gemini"
)

func init() {
	mime.AddExtensionType(".gmi", "text/gemini")
	mime.AddExtensionType(".gemini", "text/gemini")
}

// Handler serves files rooted at Config.StaticDocumentRoot.
type Handler struct {
	root     string
	index    []string
	maxSize  int64
	log      *slog.Logger
	watcher  *fsnotify.Watcher
	mu       sync.RWMutex
	cache    map[string][]byte
	watchErr error
}

// New builds a Handler and starts watching c.StaticDocumentRoot for
// changes; call Close when the handler is no longer needed to stop
// the watcher goroutine.
func New(ctx context.Context, log *slog.Logger, c *cfg.Config) (*Handler, error) {
	root, err := filepath.Abs(c.StaticDocumentRoot)
	if err != nil {
		return nil, fmt.Errorf("static: failed to resolve document root: %w", err)
	}

	if log == nil {
		log = slog.Default()
	}

	h := &Handler{
		root:    root,
		index:   c.StaticIndexNames,
		maxSize: c.StaticMaxFileSize,
		log:     log,
		cache:   make(map[string][]byte),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("static: failed to start watcher: %w", err)
	}
	h.watcher = watcher

	if err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	}); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("static: failed to watch document root: %w", err)
	}

	go h.watch(ctx)

	return h, nil
}

// Close stops the filesystem watcher.
func (h *Handler) Close() error {
	return h.watcher.Close()
}

func (h *Handler) watch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			h.invalidate(event.Name)
		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.log.Warn("Static document root watcher error", "error", err)
		}
	}
}

func (h *Handler) invalidate(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.cache, path)
}

// resolve maps a request path to an absolute filesystem path rooted
// at h.root, refusing anything that would escape the root through
// ".." segments or symlink tricks, by canonicalizing and re-checking
// containment rather than trusting the textual path.
func (h *Handler) resolve(requestPath string) (string, error) {
	cleaned := filepath.Clean("/" + requestPath)
	candidate := filepath.Join(h.root, cleaned)

	real, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		if os.IsNotExist(err) {
			return candidate, nil
		}
		return "", err
	}

	rootReal, err := filepath.EvalSymlinks(h.root)
	if err != nil {
		return "", err
	}

	if real != rootReal && !strings.HasPrefix(real, rootReal+string(filepath.Separator)) {
		return "", errors.New("static: path escapes document root")
	}

	return real, nil
}

// Handle implements [gemini.Handler].
func (h *Handler) Handle(ctx context.Context, req *gemini.Request, clientIP string) *gemini.Response {
	path, err := h.resolve(req.URL.Path)
	if err != nil {
		return &gemini.Response{Status: 51, Meta: "Not found"}
	}

	info, err := os.Stat(path)
	if err != nil {
		return &gemini.Response{Status: 51, Meta: "Not found"}
	}

	if info.IsDir() {
		resolved, ok := h.resolveIndex(path)
		if !ok {
			return &gemini.Response{Status: 51, Meta: "Not found"}
		}
		path = resolved
		info, err = os.Stat(path)
		if err != nil {
			return &gemini.Response{Status: 51, Meta: "Not found"}
		}
	}

	if info.Size() > h.maxSize {
		return &gemini.Response{Status: 50, Meta: "File too large"}
	}

	data, err := h.readCached(path)
	if err != nil {
		h.log.WarnContext(ctx, "Failed to read static file", "path", path, "error", err)
		return &gemini.Response{Status: 40, Meta: "Failed to read file"}
	}

	return &gemini.Response{Status: 20, Meta: mimeTypeFor(path), Body: string(data)}
}

func (h *Handler) resolveIndex(dir string) (string, bool) {
	for _, name := range h.index {
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true
		}
	}
	return "", false
}

func (h *Handler) readCached(path string) ([]byte, error) {
	h.mu.RLock()
	data, ok := h.cache[path]
	h.mu.RUnlock()
	if ok {
		return data, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	h.cache[path] = data
	h.mu.Unlock()

	return data, nil
}

func mimeTypeFor(path string) string {
	ext := filepath.Ext(path)
	if ext == "" || ext == ".gmi" || ext == ".gemini" {
		return "text/gemini"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
