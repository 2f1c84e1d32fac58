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

// Package tofu implements the Trust-On-First-Use certificate store: a
// persistent map of (hostname, port) to the fingerprint first seen
// for that endpoint, backed by SQLite exactly as spec.md §6.2
// describes (and as the original Python implementation's
// security/tofu.py keeps it).
package tofu

import (
	"context"
	"crypto/sha256"
	"crypto/x509"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/dimkr/gemcore/dbx"
	"github.com/dimkr/gemcore/migrations"
)

// Result is the outcome of [Store.Verify].
type Result int

const (
	// New means no record existed for (hostname, port); one was
	// created.
	New Result = iota
	// Match means the presented fingerprint equals the stored one;
	// last_seen was updated.
	Match
	// Changed means a record existed with a different fingerprint.
	// The caller MUST NOT proceed without an explicit, out-of-band
	// decision to re-trust.
	Changed
)

// ErrChanged is returned by [Store.Verify] alongside [Changed]; it
// carries the old and new fingerprints so callers can surface both to
// an operator.
type ErrChanged struct {
	Hostname string
	Port     int
	Old      string
	New      string
}

func (e *ErrChanged) Error() string {
	return fmt.Sprintf("tofu: certificate for %s:%d changed from %s to %s", e.Hostname, e.Port, e.Old, e.New)
}

// Record is one row of the known_hosts table.
type Record struct {
	Hostname    string
	Port        int
	Fingerprint string
	FirstSeen   string
	LastSeen    string
}

// Store is a TOFU certificate store scoped to the lifetime of its
// *sql.DB handle; callers open it once per client session and Close
// it on teardown.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// Open opens (creating if necessary) the SQLite database at path and
// applies any pending schema migrations.
func Open(ctx context.Context, log *slog.Logger, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("tofu: failed to open %s: %w", path, err)
	}

	if log == nil {
		log = slog.Default()
	}

	if err := migrations.Run(ctx, log, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("tofu: failed to migrate %s: %w", path, err)
	}

	return &Store{db: db, log: log}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Fingerprint returns the SHA-256 fingerprint of cert's DER encoding
// in the "sha256:<hex>" form spec.md §3 and §6.2 require.
func Fingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return fmt.Sprintf("sha256:%x", sum)
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// Verify checks fingerprint against the stored record for
// (hostname, port), creating or updating it as needed. It never
// silently replaces a differing fingerprint: that always yields
// (Changed, *ErrChanged).
func (s *Store) Verify(ctx context.Context, hostname string, port int, fingerprint string) (Result, error) {
	var stored string
	err := s.db.QueryRowContext(
		ctx,
		`select fingerprint from known_hosts where hostname = ? and port = ?`,
		hostname, port,
	).Scan(&stored)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		ts := now()
		if _, err := s.db.ExecContext(
			ctx,
			`insert into known_hosts(hostname, port, fingerprint, first_seen, last_seen) values (?, ?, ?, ?, ?)`,
			hostname, port, fingerprint, ts, ts,
		); err != nil {
			return New, fmt.Errorf("tofu: failed to insert record for %s:%d: %w", hostname, port, err)
		}
		return New, nil

	case err != nil:
		return Changed, fmt.Errorf("tofu: failed to look up %s:%d: %w", hostname, port, err)

	case stored == fingerprint:
		if _, err := s.db.ExecContext(
			ctx,
			`update known_hosts set last_seen = ? where hostname = ? and port = ?`,
			now(), hostname, port,
		); err != nil {
			return Match, fmt.Errorf("tofu: failed to update last_seen for %s:%d: %w", hostname, port, err)
		}
		return Match, nil

	default:
		return Changed, &ErrChanged{Hostname: hostname, Port: port, Old: stored, New: fingerprint}
	}
}

// Trust unconditionally (re-)pins fingerprint for (hostname, port),
// for explicit operator-approved re-trust after a [Changed] result.
func (s *Store) Trust(ctx context.Context, hostname string, port int, fingerprint string) error {
	ts := now()
	_, err := s.db.ExecContext(
		ctx,
		`insert into known_hosts(hostname, port, fingerprint, first_seen, last_seen) values (?, ?, ?, ?, ?)
		 on conflict(hostname, port) do update set fingerprint = excluded.fingerprint, last_seen = excluded.last_seen`,
		hostname, port, fingerprint, ts, ts,
	)
	if err != nil {
		return fmt.Errorf("tofu: failed to trust %s:%d: %w", hostname, port, err)
	}
	return nil
}

// Revoke removes the record for (hostname, port), if any.
func (s *Store) Revoke(ctx context.Context, hostname string, port int) error {
	_, err := s.db.ExecContext(ctx, `delete from known_hosts where hostname = ? and port = ?`, hostname, port)
	if err != nil {
		return fmt.Errorf("tofu: failed to revoke %s:%d: %w", hostname, port, err)
	}
	return nil
}

// Clear removes every record from the store.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `delete from known_hosts`); err != nil {
		return fmt.Errorf("tofu: failed to clear store: %w", err)
	}
	return nil
}

// List returns every known-host record, for an operator audit view.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	return dbx.QueryCollect[Record](
		ctx,
		s.db,
		`select hostname, port, fingerprint, first_seen, last_seen from known_hosts order by hostname, port`,
	)
}
