package proxy

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dimkr/gemcore/cfg"
	"github.com/dimkr/gemcore/gemini"
	"github.com/dimkr/gemcore/session"
	"github.com/dimkr/gemcore/tofu"
)

func selfSignedCert(t *testing.T) tls.Certificate {
	t.Helper()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tmpl := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}

	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
	require.NoError(t, err)

	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}
}

func upstream(t *testing.T, response string) string {
	t.Helper()

	cert := selfSignedCert(t)
	l, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	})
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		buf := make([]byte, 1024)
		conn.Read(buf)
		conn.Write([]byte(response))
		conn.Close()
	}()

	return l.Addr().String()
}

func testSession(t *testing.T) *session.Session {
	c := &cfg.Config{}
	c.FillDefaults()
	c.ClientTimeout = 5 * time.Second

	store, err := tofu.Open(context.Background(), slog.New(slog.DiscardHandler), "file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return &session.Session{Config: c, TOFU: store}
}

func TestHandle_RelaysUpstreamResponse(t *testing.T) {
	addr := upstream(t, "20 text/gemini\r\nhello from upstream\n")

	h := &Handler{Session: testSession(t)}
	req, err := gemini.NewRequest(fmt.Sprintf("gemini://%s/", addr))
	require.NoError(t, err)

	resp := h.Handle(context.Background(), req, "127.0.0.1")
	assert.Equal(t, 20, resp.Status)
	assert.Equal(t, "hello from upstream\n", resp.Body)
}

func TestHandle_DoesNotFollowUpstreamRedirect(t *testing.T) {
	addr := upstream(t, "30 gemini://example.com/elsewhere\r\n")

	h := &Handler{Session: testSession(t)}
	req, err := gemini.NewRequest(fmt.Sprintf("gemini://%s/", addr))
	require.NoError(t, err)

	resp := h.Handle(context.Background(), req, "127.0.0.1")
	assert.True(t, resp.IsRedirect())
	assert.Equal(t, "gemini://example.com/elsewhere", resp.Meta)
}

func TestHandle_UpstreamUnreachableYieldsProxyError(t *testing.T) {
	h := &Handler{Session: testSession(t)}
	req, err := gemini.NewRequest("gemini://127.0.0.1:1/")
	require.NoError(t, err)

	resp := h.Handle(context.Background(), req, "127.0.0.1")
	assert.Equal(t, 43, resp.Status)
}

func TestHandle_RewriteAppliesBeforeFetch(t *testing.T) {
	addr := upstream(t, "20 text/gemini\r\nrewritten\n")

	h := &Handler{
		Session: testSession(t),
		Rewrite: func(req *gemini.Request) (string, error) {
			return fmt.Sprintf("gemini://%s/mapped", addr), nil
		},
	}

	req, err := gemini.NewRequest("gemini://original-host.invalid/path")
	require.NoError(t, err)

	resp := h.Handle(context.Background(), req, "127.0.0.1")
	assert.Equal(t, "rewritten\n", resp.Body)
}
