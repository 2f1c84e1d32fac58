/*
Copyright 2023 - 2025 Dima Krasner

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

// Package cfg defines the runtime configuration of a Gemini client and
// server.
package cfg

import "time"

// Config holds every tunable of the client and server engines. An
// embedding application fills in what it cares about and calls
// [Config.FillDefaults] to backfill the rest; no file format is parsed
// here.
type Config struct {
	// GeminiRequestTimeout bounds a single server-side request, from
	// accept to response sent.
	GeminiRequestTimeout time.Duration

	// MaxRequestSize is the maximum size, in bytes, of a request line
	// including the trailing CRLF.
	MaxRequestSize int

	// MaxResponseBodySize caps the size of a response body the client
	// engine will buffer before failing with ErrBodyTooLarge.
	MaxResponseBodySize int64

	// ClientTimeout bounds an entire client transaction: connect,
	// handshake and transaction.
	ClientTimeout time.Duration

	// MaxRedirects is the hop cap a client session enforces when
	// following gemini-scheme redirects.
	MaxRedirects int

	// TOFUDatabasePath is the path to the SQLite database backing the
	// TOFU store. ":memory:" is valid for tests.
	TOFUDatabasePath string

	// CertPath and KeyPath locate the server's TLS certificate and
	// private key.
	CertPath string
	KeyPath  string

	// RateLimitCapacity and RateLimitRefillRate configure the per-IP
	// token bucket used by the rate-limiting middleware.
	RateLimitCapacity    float64
	RateLimitRefillRate  float64
	RateLimitBucketTTL   time.Duration
	RateLimitSweepPeriod time.Duration

	// StaticDocumentRoot is the root directory served by the static
	// file handler.
	StaticDocumentRoot string

	// StaticIndexNames are tried, in order, when a request resolves to
	// a directory.
	StaticIndexNames []string

	// StaticMaxFileSize caps the size of a file the static handler
	// will serve.
	StaticMaxFileSize int64

	// ProxyTimeout bounds a single proxied request to an upstream.
	ProxyTimeout time.Duration

	// MaxTitanUploadSize caps the declared size of a Titan upload.
	MaxTitanUploadSize int64
}

// FillDefaults replaces zero-valued fields with sensible defaults.
func (c *Config) FillDefaults() {
	if c.GeminiRequestTimeout <= 0 {
		c.GeminiRequestTimeout = time.Second * 30
	}

	if c.MaxRequestSize <= 0 {
		c.MaxRequestSize = 1024
	}

	if c.MaxResponseBodySize <= 0 {
		c.MaxResponseBodySize = 5 * 1024 * 1024
	}

	if c.ClientTimeout <= 0 {
		c.ClientTimeout = time.Second * 30
	}

	if c.MaxRedirects <= 0 {
		c.MaxRedirects = 5
	}

	if c.TOFUDatabasePath == "" {
		c.TOFUDatabasePath = "tofu.sqlite3"
	}

	if c.RateLimitCapacity <= 0 {
		c.RateLimitCapacity = 20
	}

	if c.RateLimitRefillRate <= 0 {
		c.RateLimitRefillRate = 1
	}

	if c.RateLimitBucketTTL <= 0 {
		c.RateLimitBucketTTL = time.Minute * 10
	}

	if c.RateLimitSweepPeriod <= 0 {
		c.RateLimitSweepPeriod = time.Minute
	}

	if len(c.StaticIndexNames) == 0 {
		c.StaticIndexNames = []string{"index.gmi", "index.gemini"}
	}

	if c.StaticMaxFileSize <= 0 {
		c.StaticMaxFileSize = 100 * 1024 * 1024
	}

	if c.ProxyTimeout <= 0 {
		c.ProxyTimeout = time.Second * 30
	}

	if c.MaxTitanUploadSize <= 0 {
		c.MaxTitanUploadSize = 50 * 1024 * 1024
	}
}
