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

// Package tlsconf builds the [tls.Config] values the client and server
// engines dial and listen with.
//
// Mainstream TLS stacks reject a peer chain that doesn't terminate at
// a trusted CA, but Gemini server and client certificates are almost
// always self-signed. The server config installs a
// VerifyPeerCertificate callback that accepts any syntactically valid
// chain; the client config skips chain validation and, when given a
// hook, hands the server's leaf certificate to it. Either way the
// actual trust decision is left to the application layer (TOFU on the
// client, fingerprint authorization on the server), following the
// teacher's front/gemini.ListenAndServe.
package tlsconf

import (
	"crypto/tls"
	"crypto/x509"
)

// ServerConfig returns a [tls.Config] for a Gemini listener: it
// requests, but never requires, a client certificate, and never
// rejects a chain that doesn't resolve to a known CA — self-signed
// client certificates are the Gemini norm and authorization happens
// above TLS, by certificate fingerprint.
func ServerConfig(certPath, keyPath string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		ClientAuth:   tls.RequestClientCert,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			for _, raw := range rawCerts {
				if _, err := x509.ParseCertificate(raw); err != nil {
					return err
				}
			}
			return nil
		},
	}, nil
}

// ClientOptions configures [ClientConfig].
type ClientOptions struct {
	// InsecureSkipVerify disables all certificate inspection,
	// including TOFU. Intended for tests only.
	InsecureSkipVerify bool

	// OnPeerCertificate, when set, receives the server's leaf
	// certificate after every successful handshake, before the
	// connection is handed back to the caller. The client session
	// uses this hook to run the TOFU check.
	OnPeerCertificate func(*x509.Certificate) error

	// Certificate, when non-nil, is presented to the server during
	// the handshake.
	Certificate *tls.Certificate

	// ServerName is sent as the SNI extension during the handshake.
	// spec.md §6.1 requires SNI on every client connection.
	ServerName string
}

// ClientConfig returns a [tls.Config] for dialing a Gemini server. It
// never consults the system root store: Gemini servers are almost
// always self-signed, so the decision to trust a given certificate is
// made by opts.OnPeerCertificate (typically a TOFU check), not by
// chain validation.
func ClientConfig(opts ClientOptions) *tls.Config {
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: true,
		ServerName:         opts.ServerName,
	}

	if opts.Certificate != nil {
		cfg.Certificates = []tls.Certificate{*opts.Certificate}
	}

	if opts.InsecureSkipVerify || opts.OnPeerCertificate == nil {
		return cfg
	}

	cfg.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return nil
		}

		cert, err := x509.ParseCertificate(rawCerts[0])
		if err != nil {
			return err
		}

		return opts.OnPeerCertificate(cert)
	}

	return cfg
}
