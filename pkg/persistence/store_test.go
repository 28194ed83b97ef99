package persistence

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	"codecrew/pkg/proto"
	"codecrew/pkg/session"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_foreign_keys=ON&_journal_mode=WAL", path))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := initializeSchema(db); err != nil {
		t.Fatalf("initialize schema: %v", err)
	}
	return db
}

func TestSchemaVersionFreshDatabase(t *testing.T) {
	db := openTestDB(t)
	version, err := GetSchemaVersion(db)
	if err != nil {
		t.Fatalf("GetSchemaVersion: %v", err)
	}
	if version != CurrentSchemaVersion {
		t.Errorf("version = %d, want %d", version, CurrentSchemaVersion)
	}

	// Re-initializing must be a no-op.
	if err := initializeSchema(db); err != nil {
		t.Fatalf("re-initialize: %v", err)
	}
}

func TestSaveSnapshotRoundTrip(t *testing.T) {
	store := NewSessionStore(openTestDB(t))

	sess := session.New("sess-1", "write add")
	sess.SetRefinedPrompt("FUNCTION: add")
	sess.ApplyChoice(proto.ChoiceRefined)
	sess.NextAttempt()
	sess.Ledger().Append(1, "def add(a, b): return a + b")
	sess.SetStage(proto.StageSucceeded)

	if err := store.SaveSnapshot(sess); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	rec, err := store.GetSession("sess-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if rec.OriginalPrompt != "write add" {
		t.Errorf("original prompt = %q", rec.OriginalPrompt)
	}
	if rec.RefinedPrompt != "FUNCTION: add" {
		t.Errorf("refined prompt = %q", rec.RefinedPrompt)
	}
	if rec.Stage != string(proto.StageSucceeded) {
		t.Errorf("stage = %q", rec.Stage)
	}
	if rec.Attempt != 1 {
		t.Errorf("attempt = %d", rec.Attempt)
	}
	if !rec.FinishedAt.Valid {
		t.Error("finished_at not recorded for terminal session")
	}

	versions, err := store.GetVersions("sess-1")
	if err != nil {
		t.Fatalf("GetVersions: %v", err)
	}
	if len(versions) != 1 || versions[0].Code != "def add(a, b): return a + b" {
		t.Errorf("versions = %+v", versions)
	}
}

func TestSaveSnapshotIsIdempotent(t *testing.T) {
	store := NewSessionStore(openTestDB(t))

	sess := session.New("sess-1", "p")
	sess.NextAttempt()
	sess.Ledger().Append(1, "v1")

	if err := store.SaveSnapshot(sess); err != nil {
		t.Fatalf("first snapshot: %v", err)
	}

	sess.NextAttempt()
	sess.Ledger().Append(2, "v2")
	sess.SetStage(proto.StageFailed)

	if err := store.SaveSnapshot(sess); err != nil {
		t.Fatalf("second snapshot: %v", err)
	}

	versions, err := store.GetVersions("sess-1")
	if err != nil {
		t.Fatalf("GetVersions: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("versions = %d, want 2", len(versions))
	}
	if versions[0].Code != "v1" || versions[1].Code != "v2" {
		t.Errorf("version order wrong: %+v", versions)
	}

	rec, err := store.GetSession("sess-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if rec.Stage != string(proto.StageFailed) {
		t.Errorf("stage not updated: %q", rec.Stage)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	store := NewSessionStore(openTestDB(t))
	if _, err := store.GetSession("missing"); err == nil {
		t.Fatal("missing session returned no error")
	}
}

func TestListSessionsNewestFirst(t *testing.T) {
	store := NewSessionStore(openTestDB(t))

	for i := 1; i <= 3; i++ {
		sess := session.New(fmt.Sprintf("sess-%d", i), "p")
		if err := store.SaveSnapshot(sess); err != nil {
			t.Fatalf("snapshot %d: %v", i, err)
		}
	}

	records, err := store.ListSessions(2)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
}
