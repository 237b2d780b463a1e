package dircache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

// TestDirectoryIDStable expects repeat calls for the same directory
// to return the identity persisted on the first call.
func TestDirectoryIDStable(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	id1 := DirectoryID(dir)
	if _, err := uuid.Parse(id1); err != nil {
		t.Fatalf("DirectoryID returned a non-UUID %q: %v", id1, err)
	}
	if _, err := os.Stat(filepath.Join(dir, IDFileName)); err != nil {
		t.Errorf("identity file not created: %v", err)
	}
	if id2 := DirectoryID(dir); id2 != id1 {
		t.Errorf("second DirectoryID = %q, want %q", id2, id1)
	}
}

// TestDirectoryIDSurvivesRename expects the identity to travel with
// the directory when it moves.
func TestDirectoryIDSurvivesRename(t *testing.T) {
	t.Parallel()
	base := t.TempDir()
	oldPath := filepath.Join(base, "photos")
	newPath := filepath.Join(base, "photos-archived")
	if err := os.MkdirAll(oldPath, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	id := DirectoryID(oldPath)
	if err := os.Rename(oldPath, newPath); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if got := DirectoryID(newPath); got != id {
		t.Errorf("DirectoryID after rename = %q, want %q", got, id)
	}
}

// TestDirectoryIDFallback expects a deterministic path-derived
// identity when no marker can be read or written.
func TestDirectoryIDFallback(t *testing.T) {
	t.Parallel()
	missingA := filepath.Join(t.TempDir(), "gone", "a")
	missingB := filepath.Join(t.TempDir(), "gone", "b")

	idA := DirectoryID(missingA)
	if len(idA) != 64 {
		t.Fatalf("fallback id %q is not a hex digest", idA)
	}
	if got := DirectoryID(missingA); got != idA {
		t.Errorf("fallback id not stable: %q then %q", idA, got)
	}
	if idB := DirectoryID(missingB); idB == idA {
		t.Error("different paths produced the same fallback id")
	}
}

// TestDirectoryIDRewritesMalformedMarker expects garbage in the
// marker file to be replaced with a fresh identity.
func TestDirectoryIDRewritesMalformedMarker(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	marker := filepath.Join(dir, IDFileName)
	if err := os.WriteFile(marker, []byte("not a uuid\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	id := DirectoryID(dir)
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("DirectoryID returned a non-UUID %q: %v", id, err)
	}
	data, err := os.ReadFile(marker)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got := string(data); got != id+"\n" {
		t.Errorf("marker contents = %q, want %q", got, id+"\n")
	}
}
