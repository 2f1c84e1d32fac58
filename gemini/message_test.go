package gemini

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequest_ParsesURL(t *testing.T) {
	req, err := NewRequest("gemini://example.com/foo")
	require.NoError(t, err)
	assert.Equal(t, "example.com", req.URL.Host)
	assert.Nil(t, req.ClientCert)
}

func TestNewRequest_RejectsInvalidURI(t *testing.T) {
	_, err := NewRequest("not a uri")
	assert.Error(t, err)
}

func TestWithClientCert_DoesNotMutateOriginal(t *testing.T) {
	req, err := NewRequest("gemini://example.com/")
	require.NoError(t, err)

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tmpl := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "client"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	withCert := req.WithClientCert(cert, fingerprintOf(cert))

	assert.Nil(t, req.ClientCert)
	assert.NotNil(t, withCert.ClientCert)
	assert.Equal(t, cert, withCert.ClientCert)
	assert.NotEqual(t, req, withCert)
}

func TestResponse_Predicates(t *testing.T) {
	assert.True(t, (&Response{Status: 20}).IsSuccess())
	assert.True(t, (&Response{Status: 31}).IsRedirect())
	assert.True(t, (&Response{Status: 51}).IsError())
	assert.True(t, (&Response{Status: 60}).IsError())
}

func TestResponse_MIMETypeAndCharset_Default(t *testing.T) {
	r := &Response{Status: 20, Meta: ""}
	assert.Equal(t, "text/gemini", r.MIMEType())
	assert.Equal(t, "utf-8", r.Charset())
}

func TestResponse_MIMETypeAndCharset_Explicit(t *testing.T) {
	r := &Response{Status: 20, Meta: "text/plain; charset=iso-8859-1"}
	assert.Equal(t, "text/plain", r.MIMEType())
	assert.Equal(t, "iso-8859-1", r.Charset())
}

func TestResponse_MIMEType_QuotedCharset(t *testing.T) {
	r := &Response{Status: 20, Meta: `text/html; charset="utf-8"`}
	assert.Equal(t, "utf-8", r.Charset())
}

func TestFingerprintOf_MatchesFormat(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tmpl := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "peer"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	assert.Regexp(t, `^sha256:[0-9a-f]{64}$`, fingerprintOf(cert))
}
