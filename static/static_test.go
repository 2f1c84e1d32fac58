package static

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dimkr/gemcore/cfg"
	"github.com/dimkr/gemcore/gemini"
)

func testHandler(t *testing.T, root string) *Handler {
	t.Helper()

	c := &cfg.Config{StaticDocumentRoot: root}
	c.FillDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h, err := New(ctx, nil, c)
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func request(t *testing.T, rawURL string) *gemini.Request {
	t.Helper()
	req, err := gemini.NewRequest(rawURL)
	require.NoError(t, err)
	return req
}

func TestHandle_ServesFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hello.gmi"), []byte("# Hi\n"), 0o644))

	h := testHandler(t, dir)
	resp := h.Handle(context.Background(), request(t, "gemini://example.com/hello.gmi"), "")

	assert.Equal(t, 20, resp.Status)
	assert.Equal(t, "text/gemini", resp.Meta)
	assert.Equal(t, "# Hi\n", resp.Body)
}

func TestHandle_ServesIndexForDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.gmi"), []byte("root\n"), 0o644))

	h := testHandler(t, dir)
	resp := h.Handle(context.Background(), request(t, "gemini://example.com/"), "")

	assert.Equal(t, 20, resp.Status)
	assert.Equal(t, "root\n", resp.Body)
}

func TestHandle_MissingFileIsNotFound(t *testing.T) {
	dir := t.TempDir()
	h := testHandler(t, dir)

	resp := h.Handle(context.Background(), request(t, "gemini://example.com/nope.gmi"), "")
	assert.Equal(t, 51, resp.Status)
}

func TestHandle_RejectsPathTraversal(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "public")
	require.NoError(t, os.Mkdir(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "secret.txt"), []byte("top secret"), 0o644))

	h := testHandler(t, sub)
	resp := h.Handle(context.Background(), request(t, "gemini://example.com/../secret.txt"), "")
	assert.Equal(t, 51, resp.Status)
}

func TestHandle_OversizeFileRejected(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "big.bin"), make([]byte, 1024), 0o644))

	c := &cfg.Config{StaticDocumentRoot: dir, StaticMaxFileSize: 10}
	c.FillDefaults()
	c.StaticMaxFileSize = 10

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h, err := New(ctx, nil, c)
	require.NoError(t, err)
	defer h.Close()

	resp := h.Handle(context.Background(), request(t, "gemini://example.com/big.bin"), "")
	assert.Equal(t, 50, resp.Status)
}

func TestHandle_CacheInvalidatedOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.gmi")
	require.NoError(t, os.WriteFile(path, []byte("v1\n"), 0o644))

	h := testHandler(t, dir)

	resp := h.Handle(context.Background(), request(t, "gemini://example.com/doc.gmi"), "")
	assert.Equal(t, "v1\n", resp.Body)

	require.NoError(t, os.WriteFile(path, []byte("v2\n"), 0o644))

	// give the fsnotify watcher goroutine a moment to process the
	// write event and invalidate the cache entry.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp = h.Handle(context.Background(), request(t, "gemini://example.com/doc.gmi"), "")
		if resp.Body == "v2\n" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	assert.Equal(t, "v2\n", resp.Body)
}
