package catalog

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"

	"github.com/mhbvr/photocat"
)

// ShardStore reads and writes the 16 shard files of one catalog root.
// It is a plain file layer: bucketing policy and in-memory state live
// in Service, change detection in the sync engine.
type ShardStore struct {
	dir    string
	logger *log.Logger
}

// NewShardStore returns a store over dir. A nil logger discards output.
func NewShardStore(dir string, logger *log.Logger) *ShardStore {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &ShardStore{dir: dir, logger: logger}
}

// Dir returns the catalog root directory.
func (s *ShardStore) Dir() string { return s.dir }

// Path returns the file path of one shard.
func (s *ShardStore) Path(index int) string {
	return filepath.Join(s.dir, photocat.ShardName(index))
}

// Exists reports whether the shard file is present on disk.
func (s *ShardStore) Exists(index int) bool {
	_, err := os.Stat(s.Path(index))
	return err == nil
}

// LoadResult is the outcome of reading one shard file.
type LoadResult struct {
	Entries  []photocat.CatalogEntry
	Skipped  int    // malformed records dropped by the codec
	Checksum string // digest of the bytes read; a missing file digests as empty
}

// Load reads one shard file. A missing file is an empty shard, not an
// error. Records that fail to parse are skipped and counted, a header
// record in the first position is skipped silently. The checksum covers
// the exact bytes read, so callers can hold it against the manifest.
func (s *ShardStore) Load(index int) (LoadResult, error) {
	data, err := s.Read(index)
	if err != nil {
		return LoadResult{}, err
	}
	entries, skipped := s.parse(index, data)
	return LoadResult{Entries: entries, Skipped: skipped, Checksum: Digest(data)}, nil
}

func (s *ShardStore) parse(index int, data []byte) ([]photocat.CatalogEntry, int) {
	cr := csv.NewReader(bytes.NewReader(data))
	cr.FieldsPerRecord = -1

	var entries []photocat.CatalogEntry
	skipped := 0
	first := true
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			skipped++
			s.logger.Printf("Skipping malformed record in %s: %v", photocat.ShardName(index), err)
			continue
		}
		if first && isHeaderRecord(record) {
			first = false
			continue
		}
		first = false
		entry, err := decodeRecord(record)
		if err != nil {
			skipped++
			s.logger.Printf("Skipping malformed record in %s: %v", photocat.ShardName(index), err)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, skipped
}

// Read returns the raw bytes of one shard file. A missing file reads
// as an empty shard.
func (s *ShardStore) Read(index int) ([]byte, error) {
	data, err := os.ReadFile(s.Path(index))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read shard %s: %w", photocat.ShardName(index), err)
	}
	return data, nil
}

// Save serializes and atomically writes one shard, returning the digest
// of the written bytes.
func (s *ShardStore) Save(index int, entries []photocat.CatalogEntry) (string, error) {
	data := SerializeShard(entries)
	if err := s.WriteRaw(index, data); err != nil {
		return "", err
	}
	return Digest(data), nil
}

// WriteRaw atomically writes already serialized shard bytes, used by
// the sync engine when staging remote shard content.
func (s *ShardStore) WriteRaw(index int, data []byte) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create catalog dir: %w", err)
	}
	if err := WriteFileAtomic(s.Path(index), data); err != nil {
		return fmt.Errorf("failed to write shard %s: %w", photocat.ShardName(index), err)
	}
	return nil
}

// Checksum returns the digest of the shard file as stored on disk. A
// missing file digests as an empty shard.
func (s *ShardStore) Checksum(index int) (string, error) {
	data, err := s.Read(index)
	if err != nil {
		return "", err
	}
	return Digest(data), nil
}

// SerializeShard renders entries as shard file bytes: one CSV record
// per entry, ordered by content hash so identical entry sets always
// produce identical bytes. An empty shard serializes to zero bytes.
func SerializeShard(entries []photocat.CatalogEntry) []byte {
	sorted := make([]photocat.CatalogEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ContentHash < sorted[j].ContentHash
	})

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	for _, e := range sorted {
		w.Write(encodeRecord(e))
	}
	w.Flush()
	return buf.Bytes()
}

// Digest is the checksum used for shard content throughout the
// catalog: lowercase hex SHA-256.
func Digest(data []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(data))
}

// WriteFileAtomic writes data to a temporary file in the target
// directory and renames it into place, so readers never observe a
// partially written file.
func WriteFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	success = true
	return nil
}
