// Package indexdb maintains a derived index of catalog entries and
// scan fingerprints in a local key-value store. It is a cache over the
// sharded catalog, never the source of truth: everything under the
// entry keyspace can be rebuilt from the shards at any time.
package indexdb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/pebble"

	"github.com/mhbvr/photocat"
	"github.com/mhbvr/photocat/catalog"
)

const (
	entryPrefix = "entry:"
	scanPrefix  = "scan:"
)

// DB is a per-root index backed by Pebble.
type DB struct {
	db *pebble.DB
}

// Open opens or creates the index at dbPath.
func Open(dbPath string) (*DB, error) {
	db, err := pebble.Open(dbPath, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open index database: %w", err)
	}
	return &DB{db: db}, nil
}

// OpenReader opens the index read-only.
func OpenReader(dbPath string) (*DB, error) {
	db, err := pebble.Open(dbPath, &pebble.Options{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open index database: %w", err)
	}
	return &DB{db: db}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

func entryKey(hash string) []byte {
	return []byte(entryPrefix + strings.ToLower(hash))
}

func scanKey(path string) []byte {
	return []byte(scanPrefix + path)
}

// PutEntries indexes a batch of entries keyed by content hash.
func (d *DB) PutEntries(entries []photocat.CatalogEntry) error {
	batch := d.db.NewBatch()
	defer batch.Close()

	for _, e := range entries {
		if err := batch.Set(entryKey(e.ContentHash), []byte(catalog.EncodeEntry(e)), pebble.NoSync); err != nil {
			return fmt.Errorf("failed to index entry %s: %w", e.ContentHash, err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit index batch: %w", err)
	}
	return nil
}

// LookupHash returns the indexed entry for hash if present.
func (d *DB) LookupHash(hash string) (photocat.CatalogEntry, bool, error) {
	data, closer, err := d.db.Get(entryKey(hash))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return photocat.CatalogEntry{}, false, nil
		}
		return photocat.CatalogEntry{}, false, fmt.Errorf("failed to read index entry %s: %w", hash, err)
	}
	line := string(data)
	closer.Close()

	entry, err := catalog.DecodeEntry(line)
	if err != nil {
		return photocat.CatalogEntry{}, false, fmt.Errorf("failed to decode index entry %s: %w", hash, err)
	}
	return entry, true, nil
}

// DeleteEntry removes hash from the index. Deleting a missing entry is
// not an error.
func (d *DB) DeleteEntry(hash string) error {
	if err := d.db.Delete(entryKey(hash), pebble.Sync); err != nil {
		return fmt.Errorf("failed to delete index entry %s: %w", hash, err)
	}
	return nil
}

// Count returns the number of indexed entries. Scan fingerprints are
// not counted.
func (d *DB) Count() (int, error) {
	iter, err := d.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(entryPrefix),
		UpperBound: []byte(entryPrefix + "\xff"),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	n := 0
	for iter.First(); iter.Valid(); iter.Next() {
		n++
	}
	if err := iter.Error(); err != nil {
		return 0, fmt.Errorf("iterator error: %w", err)
	}
	return n, nil
}

// EntrySource is anything that can produce the full entry list,
// normally the local catalog service.
type EntrySource interface {
	LoadAll(ctx context.Context) ([]photocat.CatalogEntry, error)
}

// RebuildFromCatalog drops the entry keyspace and repopulates it from
// src in one batch. Scan fingerprints are kept: they are keyed by file
// path and stay valid across catalog rewrites.
func (d *DB) RebuildFromCatalog(ctx context.Context, src EntrySource) (int, error) {
	entries, err := src.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load catalog: %w", err)
	}

	batch := d.db.NewBatch()
	defer batch.Close()

	if err := batch.DeleteRange([]byte(entryPrefix), []byte(entryPrefix+"\xff"), pebble.NoSync); err != nil {
		return 0, fmt.Errorf("failed to clear index: %w", err)
	}
	for _, e := range entries {
		if err := batch.Set(entryKey(e.ContentHash), []byte(catalog.EncodeEntry(e)), pebble.NoSync); err != nil {
			return 0, fmt.Errorf("failed to index entry %s: %w", e.ContentHash, err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, fmt.Errorf("failed to commit index batch: %w", err)
	}
	return len(entries), nil
}

// Fingerprint captures the cheap identity of a scanned file. A file
// whose size and mtime both match its remembered fingerprint keeps its
// recorded hash without being re-read.
type Fingerprint struct {
	SizeBytes   int64
	ModTimeUnix int64
	ContentHash string
}

func encodeFingerprint(fp Fingerprint) []byte {
	return []byte(fmt.Sprintf("%d,%d,%s", fp.SizeBytes, fp.ModTimeUnix, fp.ContentHash))
}

func decodeFingerprint(data []byte) (Fingerprint, error) {
	parts := strings.SplitN(string(data), ",", 3)
	if len(parts) != 3 {
		return Fingerprint{}, fmt.Errorf("malformed fingerprint %q", data)
	}
	size, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("malformed fingerprint size: %w", err)
	}
	mtime, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("malformed fingerprint mtime: %w", err)
	}
	return Fingerprint{SizeBytes: size, ModTimeUnix: mtime, ContentHash: parts[2]}, nil
}

// Fingerprint returns the remembered fingerprint for path if present.
func (d *DB) Fingerprint(path string) (Fingerprint, bool, error) {
	data, closer, err := d.db.Get(scanKey(path))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return Fingerprint{}, false, nil
		}
		return Fingerprint{}, false, fmt.Errorf("failed to read fingerprint for %s: %w", path, err)
	}
	raw := make([]byte, len(data))
	copy(raw, data)
	closer.Close()

	fp, err := decodeFingerprint(raw)
	if err != nil {
		return Fingerprint{}, false, err
	}
	return fp, true, nil
}

// RememberFingerprint records the fingerprint for path, replacing any
// previous one.
func (d *DB) RememberFingerprint(path string, fp Fingerprint) error {
	if err := d.db.Set(scanKey(path), encodeFingerprint(fp), pebble.NoSync); err != nil {
		return fmt.Errorf("failed to store fingerprint for %s: %w", path, err)
	}
	return nil
}
