package dircache

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// IDFileName is the marker file holding a directory's persistent
// identity. It travels with the directory across renames and
// remounts.
const IDFileName = ".photocat-id"

// DirectoryID returns a stable identity for dir: the UUID persisted
// in its marker file, created on first use when the directory is
// writable. Read-only and missing directories degrade to a hash of
// the canonical path, which is stable but does not survive moves.
func DirectoryID(dir string) string {
	canon, err := filepath.Abs(dir)
	if err != nil {
		canon = filepath.Clean(dir)
	}
	if resolved, err := filepath.EvalSymlinks(canon); err == nil {
		canon = resolved
	}

	idPath := filepath.Join(canon, IDFileName)
	if data, err := os.ReadFile(idPath); err == nil {
		if id, err := uuid.Parse(strings.TrimSpace(string(data))); err == nil {
			return id.String()
		}
	}

	// Missing or unreadable marker. A malformed one is rewritten.
	id := uuid.NewString()
	if err := os.WriteFile(idPath, []byte(id+"\n"), 0o644); err == nil {
		return id
	}
	return fmt.Sprintf("%x", sha256.Sum256([]byte(canon)))
}
