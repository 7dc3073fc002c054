package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func TestSchemaVersionIsStampedAndChecked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bindery.db")
	st, err := OpenPath(path)
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	var version int
	if err := st.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil || version != schemaVersion {
		t.Fatalf("user_version = %d, %v", version, err)
	}
	if _, err := st.db.Exec("PRAGMA user_version = 99"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	st.Close()

	if _, err := OpenPath(path); !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("reopen with version 99: %v", err)
	}
}

func TestSchemaRejectsForeignAndIncompleteDatabases(t *testing.T) {
	ctx := context.Background()

	foreign := filepath.Join(t.TempDir(), "other.db")
	st, err := OpenPath(foreign)
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	for _, stmt := range []string{"DROP TABLE job_items", "DROP TABLE jobs", "DROP TABLE audiobooks", "CREATE TABLE notes (body TEXT)", "PRAGMA user_version = 0"} {
		if _, err := st.db.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("%s: %v", stmt, err)
		}
	}
	st.Close()
	if _, err := OpenPath(foreign); !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("unversioned foreign tables: %v", err)
	}

	partial := filepath.Join(t.TempDir(), "partial.db")
	st, err = OpenPath(partial)
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	if _, err := st.db.ExecContext(ctx, "DROP TABLE job_items"); err != nil {
		t.Fatalf("drop job_items: %v", err)
	}
	st.Close()
	if _, err := OpenPath(partial); !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("missing job_items: %v", err)
	}
}
