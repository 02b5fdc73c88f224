package restore

import (
	"bytes"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	serrors "github.com/ppggff/sos/core/errors"
)

func openTestSink(t *testing.T) (*SQLiteSink, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dest.db")
	sink, err := OpenSQLite(path, "")
	if err != nil {
		t.Fatalf("OpenSQLite() failed: %v", err)
	}
	return sink, path
}

func countKeys(t *testing.T, path string) int {
	t.Helper()
	db, err := sql.Open(driverName, path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer db.Close()

	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM " + TargetTable).Scan(&n); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	return n
}

func TestSQLiteSinkInsertAndCommit(t *testing.T) {
	sink, path := openTestSink(t)

	if err := sink.Begin(); err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}
	cursor, err := sink.OpenCursor()
	if err != nil {
		t.Fatalf("OpenCursor() failed: %v", err)
	}

	keys := [][]byte{[]byte("one"), []byte("two"), []byte("three")}
	for _, k := range keys {
		if err := cursor.Insert(k); err != nil {
			t.Fatalf("Insert(%q) failed: %v", k, err)
		}
	}
	if err := cursor.Close(); err != nil {
		t.Fatalf("cursor Close() failed: %v", err)
	}
	if err := sink.Commit(); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}
	if err := sink.Checkpoint(CheckpointFull); err != nil {
		t.Fatalf("Checkpoint(full) failed: %v", err)
	}
	if err := sink.Checkpoint(CheckpointRestart); err != nil {
		t.Fatalf("Checkpoint(restart) failed: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	if got := countKeys(t, path); got != len(keys) {
		t.Errorf("destination holds %d keys, want %d", got, len(keys))
	}
}

func TestSQLiteSinkDuplicateKeys(t *testing.T) {
	sink, path := openTestSink(t)

	if err := sink.Begin(); err != nil {
		t.Fatal(err)
	}
	cursor, err := sink.OpenCursor()
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := cursor.Insert([]byte("same")); err != nil {
			t.Fatalf("duplicate insert %d failed: %v", i, err)
		}
	}
	cursor.Close()
	if err := sink.Commit(); err != nil {
		t.Fatal(err)
	}
	sink.Close()

	if got := countKeys(t, path); got != 1 {
		t.Errorf("destination holds %d keys, want 1", got)
	}
}

func TestSQLiteSinkBeginTwice(t *testing.T) {
	sink, _ := openTestSink(t)
	defer sink.Close()

	if err := sink.Begin(); err != nil {
		t.Fatal(err)
	}
	if err := sink.Begin(); err == nil {
		t.Fatal("second Begin() succeeded with a transaction open")
	}
}

func TestSQLiteSinkCursorNeedsTransaction(t *testing.T) {
	sink, _ := openTestSink(t)
	defer sink.Close()

	if _, err := sink.OpenCursor(); err == nil {
		t.Fatal("OpenCursor() succeeded without a transaction")
	}
	if err := sink.Commit(); err == nil {
		t.Fatal("Commit() succeeded without a transaction")
	}
}

func TestSQLiteSinkCloseRollsBack(t *testing.T) {
	sink, path := openTestSink(t)

	if err := sink.Begin(); err != nil {
		t.Fatal(err)
	}
	cursor, err := sink.OpenCursor()
	if err != nil {
		t.Fatal(err)
	}
	if err := cursor.Insert([]byte("uncommitted")); err != nil {
		t.Fatal(err)
	}
	cursor.Close()

	// Close without Commit: the open transaction rolls back
	if err := sink.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if got := countKeys(t, path); got != 0 {
		t.Errorf("destination holds %d keys after rollback, want 0", got)
	}
}

func TestSQLiteSinkTemplateCopy(t *testing.T) {
	dir := t.TempDir()
	template := filepath.Join(dir, "template.db")

	// Build the template with the sink itself, pre-seeded with one key
	tsink, err := OpenSQLite(template, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := tsink.Begin(); err != nil {
		t.Fatal(err)
	}
	cursor, err := tsink.OpenCursor()
	if err != nil {
		t.Fatal(err)
	}
	if err := cursor.Insert([]byte("seeded")); err != nil {
		t.Fatal(err)
	}
	cursor.Close()
	if err := tsink.Commit(); err != nil {
		t.Fatal(err)
	}
	if err := tsink.Checkpoint(CheckpointFull); err != nil {
		t.Fatal(err)
	}
	if err := tsink.Close(); err != nil {
		t.Fatal(err)
	}

	dest := filepath.Join(dir, "dest.db")
	sink, err := OpenSQLite(dest, template)
	if err != nil {
		t.Fatalf("OpenSQLite() with template failed: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(dest); err != nil {
		t.Fatalf("destination not created: %v", err)
	}
	if got := countKeys(t, dest); got != 1 {
		t.Errorf("destination holds %d keys, want the template's 1", got)
	}
}

func TestSQLiteSinkExistingDestIgnoresTemplate(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "dest.db")

	first, err := OpenSQLite(dest, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := first.Begin(); err != nil {
		t.Fatal(err)
	}
	cursor, err := first.OpenCursor()
	if err != nil {
		t.Fatal(err)
	}
	if err := cursor.Insert([]byte("existing")); err != nil {
		t.Fatal(err)
	}
	cursor.Close()
	if err := first.Commit(); err != nil {
		t.Fatal(err)
	}
	if err := first.Close(); err != nil {
		t.Fatal(err)
	}

	// Template path does not even exist; it must not be consulted
	sink, err := OpenSQLite(dest, filepath.Join(dir, "no-such-template.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() on existing destination failed: %v", err)
	}
	sink.Close()

	if got := countKeys(t, dest); got != 1 {
		t.Errorf("destination holds %d keys, want 1", got)
	}
}

func TestSQLiteSinkOrderedReadback(t *testing.T) {
	sink, path := openTestSink(t)

	if err := sink.Begin(); err != nil {
		t.Fatal(err)
	}
	cursor, err := sink.OpenCursor()
	if err != nil {
		t.Fatal(err)
	}
	// Insert out of order; the index keeps them sorted
	for _, k := range []string{"delta", "alpha", "charlie", "bravo"} {
		if err := cursor.Insert([]byte(k)); err != nil {
			t.Fatal(err)
		}
	}
	cursor.Close()
	if err := sink.Commit(); err != nil {
		t.Fatal(err)
	}
	sink.Close()

	db, err := sql.Open(driverName, path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	rows, err := db.Query("SELECT key FROM " + TargetTable + " ORDER BY key")
	if err != nil {
		t.Fatal(err)
	}
	defer rows.Close()

	var got [][]byte
	for rows.Next() {
		var k []byte
		if err := rows.Scan(&k); err != nil {
			t.Fatal(err)
		}
		got = append(got, k)
	}
	if err := rows.Err(); err != nil {
		t.Fatal(err)
	}

	want := [][]byte{[]byte("alpha"), []byte("bravo"), []byte("charlie"), []byte("delta")}
	if len(got) != len(want) {
		t.Fatalf("got %d keys, want %d", len(got), len(want))
	}
	for i := range want {
		if !bytes.Equal(got[i], want[i]) {
			t.Errorf("key %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestIsBusyErr(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{fmt.Errorf("database is locked"), true},
		{fmt.Errorf("SQLITE_BUSY: database busy"), true},
		{fmt.Errorf("no such table"), false},
	}
	for _, tt := range tests {
		if got := isBusyErr(tt.err); got != tt.want {
			t.Errorf("isBusyErr(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestCheckpointBusyWrapsErrBusy(t *testing.T) {
	err := fmt.Errorf("checkpoint full: %w", serrors.ErrBusy)
	if !serrors.IsBusy(err) {
		t.Fatal("wrapped ErrBusy not recognized as busy")
	}
}
