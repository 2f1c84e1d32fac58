package migrations

import (
	"context"
	"database/sql"
)

func knownhosts(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		create table known_hosts(
			hostname text not null,
			port integer not null,
			fingerprint text not null,
			first_seen text not null,
			last_seen text not null,
			primary key(hostname, port)
		)
	`)
	return err
}
