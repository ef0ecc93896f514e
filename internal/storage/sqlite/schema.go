package sqlite

import (
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// schema is applied on every connection; all statements are idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS spaces (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	is_default INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS servers (
	space_id  TEXT NOT NULL REFERENCES spaces(id) ON DELETE CASCADE,
	id        TEXT NOT NULL,
	transport TEXT NOT NULL,
	command   TEXT NOT NULL DEFAULT '',
	args      TEXT NOT NULL DEFAULT '[]',
	endpoint  TEXT NOT NULL DEFAULT '',
	enabled   INTEGER NOT NULL DEFAULT 1,
	status    TEXT NOT NULL DEFAULT 'disconnected',
	PRIMARY KEY (space_id, id)
);

CREATE TABLE IF NOT EXISTS features (
	space_id    TEXT NOT NULL,
	server_id   TEXT NOT NULL,
	kind        TEXT NOT NULL,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	schema_json TEXT,
	PRIMARY KEY (space_id, server_id, kind, name)
);

CREATE TABLE IF NOT EXISTS feature_sets (
	id                TEXT PRIMARY KEY,
	space_id          TEXT NOT NULL REFERENCES spaces(id) ON DELETE CASCADE,
	name              TEXT NOT NULL,
	type              TEXT NOT NULL,
	builtin_server_id TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS feature_set_members (
	feature_set_id TEXT NOT NULL REFERENCES feature_sets(id) ON DELETE CASCADE,
	qualified_name TEXT NOT NULL,
	PRIMARY KEY (feature_set_id, qualified_name)
);

CREATE TABLE IF NOT EXISTS grants (
	id             TEXT PRIMARY KEY,
	client_id      TEXT NOT NULL,
	space_id       TEXT NOT NULL,
	feature_set_id TEXT NOT NULL,
	issued_at      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS grants_client_space ON grants(client_id, space_id);

CREATE TABLE IF NOT EXISTS clients (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL DEFAULT '',
	redirect_uris   TEXT NOT NULL DEFAULT '[]',
	mode            TEXT NOT NULL DEFAULT 'follow_active',
	locked_space_id TEXT NOT NULL DEFAULT '',
	created_at      INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL
);
`

func migrate(conn *sqlite.Conn) error {
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}
