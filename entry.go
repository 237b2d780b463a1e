package photocat

import (
	"fmt"
	"time"
)

// NumShards is the fixed number of hash buckets in a catalog. Entries
// are partitioned by the first hex digit of their content hash.
const NumShards = 16

// CatalogEntry represents one indexed photo. ContentHash is the unique
// key; updating an entry with the same hash replaces all other fields.
type CatalogEntry struct {
	ContentHash string    // lowercase hex digest of the photo bytes
	Filename    string    // original display name, may contain any characters
	SizeBytes   int64     // photo size in bytes
	CapturedAt  time.Time // best-effort capture time (EXIF or file mtime)
	ModifiedAt  time.Time // filesystem modification time
	Width       int       // pixel width, 0 when unknown
	Height      int       // pixel height, 0 when unknown
}

// Validate checks the fields that must hold before an entry may be
// written to a shard.
func (e CatalogEntry) Validate() error {
	if !IsHexHash(e.ContentHash) {
		return fmt.Errorf("content hash %q is not a hex string", e.ContentHash)
	}
	if e.SizeBytes < 0 {
		return fmt.Errorf("negative size %d for %q", e.SizeBytes, e.Filename)
	}
	if e.Width < 0 || e.Height < 0 {
		return fmt.Errorf("negative dimensions %dx%d for %q", e.Width, e.Height, e.Filename)
	}
	return nil
}

// Shard returns the bucket index this entry belongs to.
func (e CatalogEntry) Shard() int {
	return BucketForHash(e.ContentHash)
}

// IsHexHash reports whether s is a non-empty hex string. Both cases
// are accepted.
func IsHexHash(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}

// BucketForHash maps a content hash to its shard index using the first
// hex digit, case insensitive. Empty or non-hex hashes map to bucket 0
// so that malformed input still has a deterministic home.
func BucketForHash(hash string) int {
	if hash == "" {
		return 0
	}
	c := hash[0]
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	}
	return 0
}

// ShardName returns the on-disk object name for a shard index: "shard-0"
// through "shard-f", a single lowercase hex digit suffix.
func ShardName(index int) string {
	return fmt.Sprintf("shard-%x", index)
}
