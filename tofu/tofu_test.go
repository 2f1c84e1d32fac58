package tofu

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), slog.New(slog.DiscardHandler), "file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func certWithCN(t *testing.T, cn string) *x509.Certificate {
	t.Helper()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tmpl := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}

	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

func TestVerify_FirstContactIsNew(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	result, err := s.Verify(ctx, "example.com", 1965, "sha256:aaaa")
	require.NoError(t, err)
	assert.Equal(t, New, result)
}

func TestVerify_SecondContactWithSameFingerprintMatches(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Verify(ctx, "example.com", 1965, "sha256:aaaa")
	require.NoError(t, err)

	result, err := s.Verify(ctx, "example.com", 1965, "sha256:aaaa")
	require.NoError(t, err)
	assert.Equal(t, Match, result)
}

func TestVerify_ChangedFingerprintFails(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Verify(ctx, "example.com", 1965, "sha256:aaaa")
	require.NoError(t, err)

	result, err := s.Verify(ctx, "example.com", 1965, "sha256:bbbb")
	assert.Equal(t, Changed, result)

	var changed *ErrChanged
	require.True(t, errors.As(err, &changed))
	assert.Equal(t, "sha256:aaaa", changed.Old)
	assert.Equal(t, "sha256:bbbb", changed.New)
}

func TestTrust_OverridesChangedFingerprint(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Trust(ctx, "example.com", 1965, "sha256:aaaa"))
	require.NoError(t, s.Trust(ctx, "example.com", 1965, "sha256:bbbb"))

	result, err := s.Verify(ctx, "example.com", 1965, "sha256:bbbb")
	require.NoError(t, err)
	assert.Equal(t, Match, result)
}

func TestRevoke_RemovesRecord(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Trust(ctx, "example.com", 1965, "sha256:aaaa"))
	require.NoError(t, s.Revoke(ctx, "example.com", 1965))

	result, err := s.Verify(ctx, "example.com", 1965, "sha256:bbbb")
	require.NoError(t, err)
	assert.Equal(t, New, result)
}

func TestClear_RemovesAllRecords(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Trust(ctx, "a.example", 1965, "sha256:aaaa"))
	require.NoError(t, s.Trust(ctx, "b.example", 1965, "sha256:bbbb"))
	require.NoError(t, s.Clear(ctx))

	records, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestList_ReturnsAllRecords(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Trust(ctx, "a.example", 1965, "sha256:aaaa"))
	require.NoError(t, s.Trust(ctx, "b.example", 1965, "sha256:bbbb"))

	records, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a.example", records[0].Hostname)
	assert.Equal(t, "b.example", records[1].Hostname)
}

func TestFingerprint_MatchesFormat(t *testing.T) {
	cert := certWithCN(t, "example.com")
	fp := Fingerprint(cert)
	assert.Regexp(t, `^sha256:[0-9a-f]{64}$`, fp)
}

func TestFingerprint_DifferentCertsDifferentFingerprints(t *testing.T) {
	a := certWithCN(t, "a.example")
	b := certWithCN(t, "b.example")
	assert.NotEqual(t, Fingerprint(a), Fingerprint(b))
}
