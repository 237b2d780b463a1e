package catalog

import (
	"errors"
	"testing"
	"time"

	"github.com/mhbvr/photocat"
)

// TestManifestSaveLoadRoundTrip tests manifest persistence
func TestManifestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m := NewManifest(time.Unix(1589600000, 0))
	m.EntryCount = 42
	for i := 0; i < photocat.NumShards; i++ {
		m.SetChecksum(i, Digest([]byte(photocat.ShardName(i))))
	}

	if err := SaveManifest(dir, m); err != nil {
		t.Fatalf("SaveManifest() failed: %v", err)
	}

	got, err := LoadManifest(dir)
	if err != nil {
		t.Fatalf("LoadManifest() failed: %v", err)
	}
	if got.Version != ManifestVersion {
		t.Errorf("Version = %d, want %d", got.Version, ManifestVersion)
	}
	if got.CreatedAt != 1589600000 || got.ModifiedAt != 1589600000 {
		t.Errorf("timestamps = %d/%d, want 1589600000", got.CreatedAt, got.ModifiedAt)
	}
	if got.EntryCount != 42 {
		t.Errorf("EntryCount = %d, want 42", got.EntryCount)
	}
	for i := 0; i < photocat.NumShards; i++ {
		sum, ok := got.Checksum(i)
		if !ok {
			t.Errorf("Checksum(%d) missing", i)
			continue
		}
		if want := Digest([]byte(photocat.ShardName(i))); sum != want {
			t.Errorf("Checksum(%d) = %q, want %q", i, sum, want)
		}
	}
}

// TestLoadManifestMissing tests the not-found sentinel
func TestLoadManifestMissing(t *testing.T) {
	t.Parallel()

	_, err := LoadManifest(t.TempDir())
	if !errors.Is(err, photocat.ErrManifestNotFound) {
		t.Errorf("LoadManifest() error = %v, want ErrManifestNotFound", err)
	}
}

// TestDecodeManifestInvalid tests rejection of malformed manifests
func TestDecodeManifestInvalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data string
	}{
		{name: "not json", data: "contentHash,filename"},
		{name: "version zero", data: `{"version":0,"shardChecksums":{}}`},
		{name: "version from the future", data: `{"version":99,"shardChecksums":{}}`},
		{name: "negative entry count", data: `{"version":1,"entryCount":-3,"shardChecksums":{}}`},
		{name: "shard key out of range", data: `{"version":1,"shardChecksums":{"10":"abcd"}}`},
		{name: "shard key not hex", data: `{"version":1,"shardChecksums":{"g":"abcd"}}`},
		{name: "checksum not hex", data: `{"version":1,"shardChecksums":{"0":"xyz"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeManifest([]byte(tt.data)); err == nil {
				t.Errorf("DecodeManifest(%q) expected error, got nil", tt.data)
			}
		})
	}
}

// TestManifestChecksumAccessors tests checksum get and set by shard
// index
func TestManifestChecksumAccessors(t *testing.T) {
	t.Parallel()

	m := &Manifest{Version: ManifestVersion}
	if _, ok := m.Checksum(3); ok {
		t.Error("Checksum() on empty manifest reported a digest")
	}
	m.SetChecksum(3, "abcd")
	sum, ok := m.Checksum(3)
	if !ok || sum != "abcd" {
		t.Errorf("Checksum(3) = %q/%v, want abcd/true", sum, ok)
	}
	if _, ok := m.Checksum(4); ok {
		t.Error("Checksum(4) reported a digest for an unset shard")
	}
	if key := shardKey(15); key != "f" {
		t.Errorf("shardKey(15) = %q, want f", key)
	}
}
