package db

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

type DB struct {
	conn   *sql.DB
	driver string
}

// New opens a sqlite database at path.
func New(path string) (*DB, error) {
	return Open(DriverSQLite, path)
}

// Open connects to the durable store and brings the schema up to date. For
// sqlite, dsn is a file path; for postgres, a lib/pq connection string.
func Open(driver, dsn string) (*DB, error) {
	switch driver {
	case DriverSQLite:
		dsn = sqliteDSN(dsn)
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Every pooled connection to ":memory:" would get its own empty database.
	if driver == DriverSQLite && strings.HasPrefix(dsn, ":memory:") {
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(25)
	}
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, driver: driver}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return db, nil
}

// sqliteDSN applies the connection pragmas through the DSN so that every
// connection in the pool gets them, not only the first one.
//
// WAL lets readers work while a writer is writing, busy_timeout waits instead
// of failing with SQLITE_BUSY, NORMAL sync is safe with WAL, and the cache is
// 64MB.
func sqliteDSN(path string) string {
	params := "_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_cache_size=-64000&_foreign_keys=on"
	if strings.Contains(path, "?") {
		return path + "&" + params
	}
	return path + "?" + params
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT UNIQUE NOT NULL,
	password_hash TEXT NOT NULL,
	display_name TEXT,
	avatar_url TEXT,
	public_key TEXT,
	is_online BOOLEAN NOT NULL DEFAULT FALSE,
	last_seen DATETIME,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS rooms (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	created_by INTEGER REFERENCES users(id),
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS room_members (
	room_id INTEGER NOT NULL REFERENCES rooms(id),
	user_id INTEGER NOT NULL REFERENCES users(id),
	joined_at DATETIME NOT NULL,
	PRIMARY KEY (room_id, user_id)
);

CREATE TABLE IF NOT EXISTS direct_messages (
	id TEXT PRIMARY KEY,
	sender_id INTEGER NOT NULL REFERENCES users(id),
	recipient_id INTEGER NOT NULL REFERENCES users(id),
	content TEXT NOT NULL,
	nonce TEXT,
	sender_public_key TEXT,
	is_read BOOLEAN NOT NULL DEFAULT FALSE,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS group_messages (
	id TEXT PRIMARY KEY,
	sender_id INTEGER NOT NULL REFERENCES users(id),
	room_id INTEGER NOT NULL REFERENCES rooms(id),
	content TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS reactions (
	id TEXT PRIMARY KEY,
	emoji TEXT NOT NULL,
	user_id INTEGER NOT NULL REFERENCES users(id),
	direct_message_id TEXT REFERENCES direct_messages(id),
	group_message_id TEXT REFERENCES group_messages(id),
	created_at DATETIME NOT NULL,
	CHECK ((direct_message_id IS NULL) <> (group_message_id IS NULL))
);

CREATE INDEX IF NOT EXISTS idx_direct_messages_pair ON direct_messages(sender_id, recipient_id, created_at);
CREATE INDEX IF NOT EXISTS idx_direct_messages_unread ON direct_messages(recipient_id, sender_id, is_read);
CREATE INDEX IF NOT EXISTS idx_group_messages_room ON group_messages(room_id, created_at);
CREATE INDEX IF NOT EXISTS idx_room_members_user_id ON room_members(user_id);
CREATE INDEX IF NOT EXISTS idx_reactions_direct ON reactions(direct_message_id);
CREATE INDEX IF NOT EXISTS idx_reactions_group ON reactions(group_message_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_reactions_direct_unique ON reactions(user_id, emoji, direct_message_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_reactions_group_unique ON reactions(user_id, emoji, group_message_id);
`

func (db *DB) migrate() error {
	if _, err := db.conn.Exec(db.dialect(schema)); err != nil {
		return err
	}

	// Columns added after the first release. Errors mean the column exists.
	db.conn.Exec("ALTER TABLE users ADD COLUMN public_key TEXT")
	db.conn.Exec("ALTER TABLE direct_messages ADD COLUMN sender_public_key TEXT")

	return nil
}

// dialect rewrites sqlite DDL for postgres.
func (db *DB) dialect(ddl string) string {
	if db.driver != DriverPostgres {
		return ddl
	}
	ddl = strings.ReplaceAll(ddl, "INTEGER PRIMARY KEY AUTOINCREMENT", "SERIAL PRIMARY KEY")
	ddl = strings.ReplaceAll(ddl, "DATETIME", "TIMESTAMPTZ")
	return ddl
}

// Rebind converts ? placeholders to $n for postgres.
func (db *DB) Rebind(query string) string {
	if db.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (db *DB) Driver() string {
	return db.driver
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) GetConn() *sql.DB {
	return db.conn
}
