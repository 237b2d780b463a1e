package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/mhbvr/photocat"
)

// ManifestVersion is the current catalog format version.
const ManifestVersion = 1

// Manifest describes one catalog generation: when it was produced, how
// many entries it holds, and the digest of every shard. Checksums are
// keyed by the shard hex digit, "0" through "f". Timestamps are epoch
// seconds.
type Manifest struct {
	Version        int               `json:"version"`
	CreatedAt      int64             `json:"createdAt"`
	ModifiedAt     int64             `json:"modifiedAt"`
	EntryCount     int               `json:"entryCount"`
	ShardChecksums map[string]string `json:"shardChecksums"`
}

// NewManifest returns an empty manifest stamped with now.
func NewManifest(now time.Time) *Manifest {
	return &Manifest{
		Version:        ManifestVersion,
		CreatedAt:      now.Unix(),
		ModifiedAt:     now.Unix(),
		ShardChecksums: make(map[string]string),
	}
}

func shardKey(index int) string {
	return strconv.FormatInt(int64(index), 16)
}

// Checksum returns the recorded digest for one shard.
func (m *Manifest) Checksum(index int) (string, bool) {
	sum, ok := m.ShardChecksums[shardKey(index)]
	return sum, ok
}

// SetChecksum records the digest for one shard.
func (m *Manifest) SetChecksum(index int, sum string) {
	if m.ShardChecksums == nil {
		m.ShardChecksums = make(map[string]string)
	}
	m.ShardChecksums[shardKey(index)] = sum
}

// Validate checks the structural invariants of a decoded manifest.
func (m *Manifest) Validate() error {
	if m.Version < 1 || m.Version > ManifestVersion {
		return fmt.Errorf("unsupported manifest version %d", m.Version)
	}
	if m.EntryCount < 0 {
		return fmt.Errorf("negative entry count %d", m.EntryCount)
	}
	for key, sum := range m.ShardChecksums {
		index, err := strconv.ParseInt(key, 16, 32)
		if err != nil || index < 0 || index >= photocat.NumShards || shardKey(int(index)) != key {
			return fmt.Errorf("invalid shard key %q", key)
		}
		if !photocat.IsHexHash(sum) {
			return fmt.Errorf("invalid checksum for shard %s", key)
		}
	}
	return nil
}

// EncodeManifest renders a manifest as indented JSON.
func EncodeManifest(m *Manifest) ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	return append(data, '\n'), nil
}

// DecodeManifest parses and validates manifest JSON.
func DecodeManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// ManifestPath returns the manifest location inside a catalog root.
// The file name matches the remote object key, keeping the local and
// remote layouts identical.
func ManifestPath(dir string) string {
	return filepath.Join(dir, photocat.ManifestObject)
}

// LoadManifest reads the manifest of a catalog root. A missing file
// reports photocat.ErrManifestNotFound.
func LoadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(ManifestPath(dir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", photocat.ErrManifestNotFound, dir)
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return DecodeManifest(data)
}

// SaveManifest atomically writes the manifest of a catalog root.
func SaveManifest(dir string, m *Manifest) error {
	data, err := EncodeManifest(m)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create catalog dir: %w", err)
	}
	if err := WriteFileAtomic(ManifestPath(dir), data); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}
