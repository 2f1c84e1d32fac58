package gemini

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dimkr/gemcore/cfg"
	"github.com/dimkr/gemcore/tlsconf"
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

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  priv,
		Leaf:        cert,
	}
}

// serveOnce accepts exactly one TLS connection on a loopback listener
// and writes raw bytes back over it, for exercising the client engine
// against a scripted server response.
func serveOnce(t *testing.T, serverCert tls.Certificate, respond func(conn net.Conn)) net.Listener {
	t.Helper()

	l, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{
		Certificates: []tls.Certificate{serverCert},
		MinVersion:   tls.VersionTLS12,
	})
	require.NoError(t, err)

	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		respond(conn)
	}()

	return l
}

func testConfig() *cfg.Config {
	c := &cfg.Config{}
	c.FillDefaults()
	return c
}

func TestDo_SuccessResponse(t *testing.T) {
	serverCert := selfSignedCert(t)
	l := serveOnce(t, serverCert, func(conn net.Conn) {
		buf := make([]byte, 1024)
		conn.Read(buf)
		conn.Write([]byte("20 text/gemini\r\n# hello\n"))
	})
	defer l.Close()

	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)

	req, err := NewRequest("gemini://localhost/")
	require.NoError(t, err)

	resp, err := Do(context.Background(), conn, tlsconf.ClientConfig(tlsconf.ClientOptions{InsecureSkipVerify: true}), req, testConfig(), nil)
	require.NoError(t, err)
	assert.Equal(t, 20, resp.Status)
	assert.Equal(t, "text/gemini", resp.Meta)
	assert.Equal(t, "# hello\n", resp.Body)
}

func TestDo_RedirectHasNoBody(t *testing.T) {
	serverCert := selfSignedCert(t)
	l := serveOnce(t, serverCert, func(conn net.Conn) {
		buf := make([]byte, 1024)
		conn.Read(buf)
		conn.Write([]byte("30 gemini://example.com/new\r\n"))
	})
	defer l.Close()

	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)

	req, err := NewRequest("gemini://localhost/")
	require.NoError(t, err)

	resp, err := Do(context.Background(), conn, tlsconf.ClientConfig(tlsconf.ClientOptions{InsecureSkipVerify: true}), req, testConfig(), nil)
	require.NoError(t, err)
	assert.True(t, resp.IsRedirect())
	assert.Empty(t, resp.Body)
}

func TestDo_RejectsMalformedHeader(t *testing.T) {
	serverCert := selfSignedCert(t)
	l := serveOnce(t, serverCert, func(conn net.Conn) {
		buf := make([]byte, 1024)
		conn.Read(buf)
		conn.Write([]byte("not a status line\r\n"))
	})
	defer l.Close()

	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)

	req, err := NewRequest("gemini://localhost/")
	require.NoError(t, err)

	_, err = Do(context.Background(), conn, tlsconf.ClientConfig(tlsconf.ClientOptions{InsecureSkipVerify: true}), req, testConfig(), nil)
	assert.ErrorIs(t, err, ErrProtocolError)
}

func TestDo_RejectsOversizeBody(t *testing.T) {
	serverCert := selfSignedCert(t)
	l := serveOnce(t, serverCert, func(conn net.Conn) {
		buf := make([]byte, 1024)
		conn.Read(buf)
		conn.Write([]byte("20 text/plain\r\n"))
		conn.Write(make([]byte, 64))
	})
	defer l.Close()

	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)

	req, err := NewRequest("gemini://localhost/")
	require.NoError(t, err)

	c := testConfig()
	c.MaxResponseBodySize = 8

	_, err = Do(context.Background(), conn, tlsconf.ClientConfig(tlsconf.ClientOptions{InsecureSkipVerify: true}), req, c, nil)
	assert.ErrorIs(t, err, ErrBodyTooLarge)
}

func TestDo_RejectsInvalidUTF8Body(t *testing.T) {
	serverCert := selfSignedCert(t)
	l := serveOnce(t, serverCert, func(conn net.Conn) {
		buf := make([]byte, 1024)
		conn.Read(buf)
		conn.Write([]byte("20 text/plain\r\n"))
		conn.Write([]byte{0xff, 0xfe, 0xfd})
	})
	defer l.Close()

	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)

	req, err := NewRequest("gemini://localhost/")
	require.NoError(t, err)

	_, err = Do(context.Background(), conn, tlsconf.ClientConfig(tlsconf.ClientOptions{InsecureSkipVerify: true}), req, testConfig(), nil)
	assert.ErrorIs(t, err, ErrProtocolError)
}

func TestDo_ConnectionClosedBeforeHeader(t *testing.T) {
	serverCert := selfSignedCert(t)
	l := serveOnce(t, serverCert, func(conn net.Conn) {
		buf := make([]byte, 1024)
		conn.Read(buf)
	})
	defer l.Close()

	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)

	req, err := NewRequest("gemini://localhost/")
	require.NoError(t, err)

	_, err = Do(context.Background(), conn, tlsconf.ClientConfig(tlsconf.ClientOptions{InsecureSkipVerify: true}), req, testConfig(), nil)
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestDo_PeerHookReceivesCertificateAndCanAbort(t *testing.T) {
	serverCert := selfSignedCert(t)
	l := serveOnce(t, serverCert, func(conn net.Conn) {
		buf := make([]byte, 1024)
		conn.Read(buf)
		conn.Write([]byte("20 text/gemini\r\nbody\n"))
	})
	defer l.Close()

	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)

	req, err := NewRequest("gemini://localhost/")
	require.NoError(t, err)

	var seen PeerCertificate
	_, err = Do(context.Background(), conn, tlsconf.ClientConfig(tlsconf.ClientOptions{InsecureSkipVerify: true}), req, testConfig(), func(pc PeerCertificate) error {
		seen = pc
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, "localhost", seen.Cert.Subject.CommonName)
	assert.Regexp(t, `^sha256:`, seen.Fingerprint)
}
