// Package catalog implements the sharded on-disk photo catalog: a
// manifest plus 16 content-hash-bucketed CSV shards rooted at one
// directory. The same layout is mirrored byte for byte in a remote
// object store, which is what makes checksum-based change detection
// work.
package catalog

import (
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mhbvr/photocat"
)

// Shard lines are CSV records with a fixed field order. Width and
// height are optional and encode as empty fields when unknown.
const (
	fieldHash = iota
	fieldFilename
	fieldSize
	fieldCapturedAt
	fieldModifiedAt
	fieldWidth
	fieldHeight
	numFields
)

// requiredFields is the minimum record length accepted by the decoder.
// Records missing the trailing optional dimension fields still parse;
// extra fields beyond numFields are ignored for forward compatibility.
const requiredFields = fieldModifiedAt + 1

// EncodeEntry serializes one entry to a single CSV record. Filenames
// containing the delimiter, quotes, or newlines are quoted with internal
// quotes doubled. The returned string has no trailing newline.
func EncodeEntry(e photocat.CatalogEntry) string {
	var b strings.Builder
	w := csv.NewWriter(&b)
	w.Write(encodeRecord(e))
	w.Flush()
	return strings.TrimSuffix(b.String(), "\n")
}

// DecodeEntry parses a single CSV record produced by EncodeEntry.
// Decoding an encoded entry returns the original entry unchanged.
func DecodeEntry(line string) (photocat.CatalogEntry, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.FieldsPerRecord = -1
	record, err := r.Read()
	if err != nil {
		return photocat.CatalogEntry{}, fmt.Errorf("failed to parse entry record: %w", err)
	}
	return decodeRecord(record)
}

func encodeRecord(e photocat.CatalogEntry) []string {
	record := make([]string, numFields)
	record[fieldHash] = e.ContentHash
	record[fieldFilename] = e.Filename
	record[fieldSize] = strconv.FormatInt(e.SizeBytes, 10)
	record[fieldCapturedAt] = strconv.FormatInt(e.CapturedAt.Unix(), 10)
	record[fieldModifiedAt] = strconv.FormatInt(e.ModifiedAt.Unix(), 10)
	if e.Width > 0 {
		record[fieldWidth] = strconv.Itoa(e.Width)
	}
	if e.Height > 0 {
		record[fieldHeight] = strconv.Itoa(e.Height)
	}
	return record
}

func decodeRecord(record []string) (photocat.CatalogEntry, error) {
	var e photocat.CatalogEntry

	if len(record) < requiredFields {
		return e, fmt.Errorf("record has %d fields, want at least %d", len(record), requiredFields)
	}

	hash := record[fieldHash]
	if !photocat.IsHexHash(hash) {
		return e, fmt.Errorf("content hash %q is not a hex string", hash)
	}
	e.ContentHash = hash
	e.Filename = record[fieldFilename]

	size, err := strconv.ParseInt(record[fieldSize], 10, 64)
	if err != nil {
		return e, fmt.Errorf("invalid size %q: %w", record[fieldSize], err)
	}
	if size < 0 {
		return e, fmt.Errorf("negative size %d", size)
	}
	e.SizeBytes = size

	captured, err := strconv.ParseInt(record[fieldCapturedAt], 10, 64)
	if err != nil {
		return e, fmt.Errorf("invalid capture time %q: %w", record[fieldCapturedAt], err)
	}
	e.CapturedAt = time.Unix(captured, 0)

	modified, err := strconv.ParseInt(record[fieldModifiedAt], 10, 64)
	if err != nil {
		return e, fmt.Errorf("invalid modification time %q: %w", record[fieldModifiedAt], err)
	}
	e.ModifiedAt = time.Unix(modified, 0)

	if e.Width, err = decodeDimension(record, fieldWidth); err != nil {
		return e, err
	}
	if e.Height, err = decodeDimension(record, fieldHeight); err != nil {
		return e, err
	}

	return e, nil
}

// decodeDimension parses an optional positive integer field. Absent or
// empty fields mean unknown and decode as zero.
func decodeDimension(record []string, index int) (int, error) {
	if index >= len(record) || record[index] == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(record[index])
	if err != nil {
		return 0, fmt.Errorf("invalid dimension %q: %w", record[index], err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("dimension %d is not positive", v)
	}
	return v, nil
}

// isHeaderRecord reports whether a record looks like a column header
// rather than an entry: the first field of an entry is always a hex
// hash, so anything else in that position is treated as a header and
// skipped on read.
func isHeaderRecord(record []string) bool {
	return len(record) > 0 && !photocat.IsHexHash(record[fieldHash])
}
