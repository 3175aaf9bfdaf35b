package db

import (
	"slices"
	"testing"
)

func TestPragmas(t *testing.T) {
	db, err := New(":memory:")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer db.Close()

	tests := []struct {
		pragma string
		want   []string
	}{
		// In-memory databases cannot use WAL.
		{pragma: "journal_mode", want: []string{"memory", "wal"}},
		{pragma: "busy_timeout", want: []string{"5000"}},
		{pragma: "synchronous", want: []string{"1", "2"}},
		{pragma: "cache_size", want: []string{"-64000"}},
		{pragma: "foreign_keys", want: []string{"1"}},
	}
	for _, tt := range tests {
		var got string
		if err := db.conn.QueryRow("PRAGMA " + tt.pragma).Scan(&got); err != nil {
			t.Fatalf("PRAGMA %s: %v", tt.pragma, err)
		}
		if !slices.Contains(tt.want, got) {
			t.Errorf("PRAGMA %s = %s, want one of %v", tt.pragma, got, tt.want)
		}
	}
}

func TestWALModeWithFile(t *testing.T) {
	db, err := New(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	defer db.Close()

	var journalMode string
	err = db.conn.QueryRow("PRAGMA journal_mode").Scan(&journalMode)
	if err != nil {
		t.Fatalf("Failed to query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("Expected journal_mode to be 'wal' for file database, got: %s", journalMode)
	}
}

func TestSchema(t *testing.T) {
	db, err := New(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	defer db.Close()

	for _, obj := range []struct{ kind, name string }{
		{"table", "users"},
		{"table", "rooms"},
		{"table", "room_members"},
		{"table", "direct_messages"},
		{"table", "group_messages"},
		{"table", "reactions"},
		{"index", "idx_room_members_user_id"},
		{"index", "idx_direct_messages_unread"},
		{"index", "idx_reactions_direct_unique"},
	} {
		var n int
		err := db.conn.QueryRow(`
			SELECT COUNT(*) FROM sqlite_master
			WHERE type = ? AND name = ?
		`, obj.kind, obj.name).Scan(&n)
		if err != nil {
			t.Fatalf("Failed to inspect schema: %v", err)
		}
		if n != 1 {
			t.Errorf("Expected %s %s to exist", obj.kind, obj.name)
		}
	}
}

func TestReactionTargetCheck(t *testing.T) {
	db, err := New(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	defer db.Close()

	conn := db.GetConn()
	if _, err := conn.Exec(`INSERT INTO users (username, password_hash, created_at) VALUES ('a', 'x', CURRENT_TIMESTAMP)`); err != nil {
		t.Fatalf("insert user: %v", err)
	}

	_, err = conn.Exec(`INSERT INTO reactions (id, emoji, user_id, created_at) VALUES ('r1', '👍', 1, CURRENT_TIMESTAMP)`)
	if err == nil {
		t.Fatal("expected reaction without a target to violate the check constraint")
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	path := t.TempDir() + "/test.db"
	for i := 0; i < 2; i++ {
		db, err := New(path)
		if err != nil {
			t.Fatalf("open #%d: %v", i+1, err)
		}
		db.Close()
	}
}

func TestRebind(t *testing.T) {
	pg := &DB{driver: DriverPostgres}
	if got := pg.Rebind("SELECT * FROM t WHERE a = ? AND b = ?"); got != "SELECT * FROM t WHERE a = $1 AND b = $2" {
		t.Errorf("postgres Rebind = %q", got)
	}
	lite := &DB{driver: DriverSQLite}
	if got := lite.Rebind("a = ?"); got != "a = ?" {
		t.Errorf("sqlite Rebind = %q", got)
	}
	if got := pg.dialect("id INTEGER PRIMARY KEY AUTOINCREMENT, at DATETIME"); got != "id SERIAL PRIMARY KEY, at TIMESTAMPTZ" {
		t.Errorf("dialect = %q", got)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open("mysql", "whatever"); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}
