package photocat

import (
	"context"
	"errors"
)

// ManifestObject is the object name of the catalog manifest, both on
// disk and in a remote store (under the owner prefix).
const ManifestObject = "manifest"

var (
	// ErrObjectNotFound is returned by ObjectStore.Get for a missing key.
	// Probe reports absence through ProbeResult.Exists instead.
	ErrObjectNotFound = errors.New("object not found")

	// ErrManifestNotFound indicates a catalog root without a manifest,
	// i.e. a catalog that has not been initialized yet.
	ErrManifestNotFound = errors.New("catalog manifest not found")

	// ErrChecksumMismatch indicates a staged shard whose digest does not
	// match the manifest. The sync that observed it was discarded.
	ErrChecksumMismatch = errors.New("shard checksum mismatch")

	// ErrSyncInProgress is returned when a sync attempt is requested
	// while another attempt for the same catalog root is still running.
	ErrSyncInProgress = errors.New("sync already in progress")
)

// ProbeResult is the outcome of a metadata-only object probe.
type ProbeResult struct {
	Exists bool   // whether the object is present
	Token  string // opaque version token, empty when absent
	Size   int64  // object size in bytes, 0 when absent or unknown
}

// ObjectStore provides access to a flat keyed object namespace.
// Different implementations can back it with a local directory, an HTTP
// object server, or memory. All operations honor context cancellation;
// callers own retry policy.
type ObjectStore interface {
	// Probe issues a metadata-only request for key. A missing object is
	// reported via ProbeResult.Exists, not as an error.
	Probe(ctx context.Context, key string) (*ProbeResult, error)

	// Get fetches the object body and its version token. Returns
	// ErrObjectNotFound for a missing key.
	Get(ctx context.Context, key string) ([]byte, string, error)

	// Put stores the object body and returns the resulting version token.
	Put(ctx context.Context, key string, data []byte) (string, error)

	// Delete removes the object. Deleting an absent key is not an
	// error, so retried removals converge.
	Delete(ctx context.Context, key string) error
}
