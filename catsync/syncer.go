package catsync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/mhbvr/photocat"
	"github.com/mhbvr/photocat/catalog"
)

// DefaultInterval is the minimum time between sync attempts for one
// root unless overridden.
const DefaultInterval = 15 * time.Minute

const (
	stagingSuffix = ".staging"
	backupSuffix  = ".old"
	stateSuffix   = ".syncstate"
)

// Syncer keeps one local catalog root in step with one remote store.
// A Syncer serializes its own syncs; a concurrent attempt reports
// photocat.ErrSyncInProgress instead of queueing. Commits replace the
// root directory wholesale. Readers sharing the root through a
// catalog.Registry are held off for the instant of the swap; readers
// in other processes that catch the window between renames get a
// checksum mismatch from the catalog instead of a silent partial view.
type Syncer struct {
	root      string
	remote    photocat.ObjectStore
	state     *StateDB
	statePath string
	registry  *catalog.Registry
	logger    *log.Logger
	tracer    oteltrace.Tracer
	interval  time.Duration
	now       func() time.Time

	mu sync.Mutex
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithLogger directs sync log output to logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Syncer) {
		s.logger = logger
	}
}

// WithInterval overrides the minimum time between sync attempts.
func WithInterval(d time.Duration) Option {
	return func(s *Syncer) {
		s.interval = d
	}
}

// WithClock overrides the time source used for throttling and token
// bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(s *Syncer) {
		s.now = now
	}
}

// WithRegistry makes the syncer commit through the root's shared
// catalog service, so cached readers block for the instant of the
// swap and then reload the new content.
func WithRegistry(reg *catalog.Registry) Option {
	return func(s *Syncer) {
		s.registry = reg
	}
}

// WithStatePath overrides where sync bookkeeping is stored. The
// default is the root path with a ".syncstate" suffix, next to the
// root rather than inside it so commits do not touch it.
func WithStatePath(path string) Option {
	return func(s *Syncer) {
		s.statePath = path
	}
}

// New returns a Syncer for the catalog at root against remote. Any
// commit interrupted by a previous crash is repaired before the state
// database opens.
func New(root string, remote photocat.ObjectStore, opts ...Option) (*Syncer, error) {
	if root == "" {
		return nil, fmt.Errorf("catalog root is required")
	}
	if remote == nil {
		return nil, fmt.Errorf("remote store is required")
	}
	s := &Syncer{
		root:     filepath.Clean(root),
		remote:   remote,
		logger:   log.New(io.Discard, "", 0),
		tracer:   otel.Tracer("catsync"),
		interval: DefaultInterval,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.statePath == "" {
		s.statePath = s.root + stateSuffix
	}

	if err := recoverInterruptedSwap(s.root); err != nil {
		return nil, err
	}

	state, err := OpenStateDB(s.statePath)
	if err != nil {
		return nil, err
	}
	s.state = state
	return s, nil
}

// Close releases the sync state database.
func (s *Syncer) Close() error {
	return s.state.Close()
}

// Root returns the local catalog root.
func (s *Syncer) Root() string { return s.root }

// Reset drops all sync bookkeeping, forcing the next sync to
// re-verify every object against the remote.
func (s *Syncer) Reset() error {
	return s.state.Clear()
}

// SyncResult reports what a sync attempt did.
type SyncResult struct {
	Updated       bool
	Throttled     bool
	ShardsFetched int
	BytesFetched  int64
	Duration      time.Duration
}

// SyncIfNeeded runs a sync unless one finished less than the
// configured interval ago.
func (s *Syncer) SyncIfNeeded(ctx context.Context) (*SyncResult, error) {
	last, err := s.state.LastSync()
	if err != nil {
		return nil, err
	}
	if !last.IsZero() && s.now().Sub(last) < s.interval {
		syncsTotal.WithLabelValues("throttled").Inc()
		return &SyncResult{Throttled: true}, nil
	}
	return s.Sync(ctx)
}

// Sync runs the full pull regardless of throttling: probe the remote
// manifest, stage changed shards with digest verification, swap the
// staged tree in atomically, then record the observed version tokens.
// On any failure the local root is left exactly as it was.
func (s *Syncer) Sync(ctx context.Context) (*SyncResult, error) {
	if !s.mu.TryLock() {
		return nil, fmt.Errorf("%w: %s", photocat.ErrSyncInProgress, s.root)
	}
	defer s.mu.Unlock()

	start := time.Now()
	res, err := s.sync(ctx)
	syncDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		syncsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}
	res.Duration = time.Since(start)
	if res.Updated {
		syncsTotal.WithLabelValues("updated").Inc()
	} else {
		syncsTotal.WithLabelValues("unchanged").Inc()
	}
	return res, nil
}

func (s *Syncer) sync(ctx context.Context) (*SyncResult, error) {
	ctx, span := s.tracer.Start(ctx, "catalog_sync")
	defer span.End()
	span.SetAttributes(attribute.String("catalog.root", s.root))

	if err := recoverInterruptedSwap(s.root); err != nil {
		return nil, err
	}

	res := &SyncResult{}

	probe, err := s.remote.Probe(ctx, photocat.ManifestObject)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to probe remote manifest: %w", err)
	}
	if !probe.Exists {
		return nil, fmt.Errorf("%w: remote store has no catalog", photocat.ErrManifestNotFound)
	}

	stored, err := s.state.Token(photocat.ManifestObject)
	if err != nil {
		return nil, err
	}
	if stored != "" && stored == probe.Token && s.localIntact() {
		span.SetAttributes(attribute.Bool("sync.unchanged", true))
		s.logger.Printf("Catalog %s unchanged, manifest token %s", s.root, probe.Token)
		if err := s.state.SetLastSync(s.now()); err != nil {
			s.logger.Printf("Failed to record sync time: %v", err)
		}
		return res, nil
	}

	manifestData, manifestToken, err := s.remote.Get(ctx, photocat.ManifestObject)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to fetch remote manifest: %w", err)
	}
	remote, err := catalog.DecodeManifest(manifestData)
	if err != nil {
		return nil, fmt.Errorf("remote manifest rejected: %w", err)
	}

	staging := s.root + stagingSuffix
	if err := os.RemoveAll(staging); err != nil {
		return nil, fmt.Errorf("failed to clear staging dir: %w", err)
	}
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create staging dir: %w", err)
	}
	defer os.RemoveAll(staging) // no-op after a successful swap

	if err := catalog.WriteFileAtomic(catalog.ManifestPath(staging), manifestData); err != nil {
		return nil, err
	}

	local := catalog.NewShardStore(s.root, s.logger)
	staged := catalog.NewShardStore(staging, s.logger)
	tokens := map[string]string{photocat.ManifestObject: manifestToken}

	for i := 0; i < photocat.NumShards; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fetched, size, err := s.syncShard(ctx, i, remote, local, staged, tokens)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		if fetched {
			res.ShardsFetched++
			res.BytesFetched += size
			shardsFetched.Inc()
			bytesFetched.Add(float64(size))
		}
	}

	changed, err := s.manifestChanged(manifestData)
	if err != nil {
		return nil, err
	}

	if s.registry != nil {
		// Readers sharing the root through the registry hold its lock
		// across both renames, so none of them can load between the
		// moment the old root moves aside and the staged tree lands.
		err = s.registry.For(s.root).Swap(func() error {
			return s.commit(staging)
		})
	} else {
		err = s.commit(staging)
	}
	if err != nil {
		return nil, err
	}
	res.Updated = res.ShardsFetched > 0 || changed

	if err := s.state.SetTokens(tokens, s.now()); err != nil {
		s.logger.Printf("Failed to store sync tokens: %v", err)
	}

	span.SetAttributes(
		attribute.Int("shards.fetched", res.ShardsFetched),
		attribute.Int64("bytes.fetched", res.BytesFetched),
	)
	s.logger.Printf("Synced catalog %s: %d shards fetched, %d bytes", s.root, res.ShardsFetched, res.BytesFetched)
	return res, nil
}

// syncShard stages shard index, fetching from the remote only when the
// local copy does not already match the digest the remote manifest
// demands.
func (s *Syncer) syncShard(ctx context.Context, index int, remote *catalog.Manifest, local, staged *catalog.ShardStore, tokens map[string]string) (bool, int64, error) {
	name := photocat.ShardName(index)
	want, ok := remote.Checksum(index)
	if !ok {
		return false, 0, fmt.Errorf("remote manifest rejected: no checksum for shard %s", name)
	}

	probe, err := s.remote.Probe(ctx, name)
	if err != nil {
		return false, 0, fmt.Errorf("failed to probe shard %s: %w", name, err)
	}
	if !probe.Exists {
		// Stores may drop empty shard objects. Anything else missing
		// means the remote contradicts its own manifest.
		if want != catalog.Digest(nil) {
			return false, 0, fmt.Errorf("%w: shard %s missing from remote", photocat.ErrChecksumMismatch, name)
		}
		if err := staged.WriteRaw(index, nil); err != nil {
			return false, 0, err
		}
		return false, 0, nil
	}

	localSum, err := local.Checksum(index)
	if err != nil {
		// An unreadable local shard never matches, so it gets refetched
		// like a missing one.
		s.logger.Printf("Treating unreadable local %s as missing: %v", name, err)
		localSum = ""
	}
	if localSum == want {
		// Identical content is already here, stage it without a fetch.
		data, err := local.Read(index)
		if err != nil {
			return false, 0, err
		}
		if err := staged.WriteRaw(index, data); err != nil {
			return false, 0, err
		}
		tokens[name] = probe.Token
		return false, 0, nil
	}

	data, token, err := s.remote.Get(ctx, name)
	if err != nil {
		return false, 0, fmt.Errorf("failed to fetch shard %s: %w", name, err)
	}
	if got := catalog.Digest(data); got != want {
		checksumMismatches.Inc()
		return false, 0, fmt.Errorf("%w: shard %s digest %s, manifest says %s", photocat.ErrChecksumMismatch, name, got, want)
	}
	if err := staged.WriteRaw(index, data); err != nil {
		return false, 0, err
	}
	tokens[name] = token
	return true, int64(len(data)), nil
}

// localIntact reports whether the root looks like a complete catalog:
// a readable manifest and all 16 shard files. It gates the probe-only
// fast path, a damaged root always goes through the full sync.
func (s *Syncer) localIntact() bool {
	if _, err := catalog.LoadManifest(s.root); err != nil {
		return false
	}
	store := catalog.NewShardStore(s.root, s.logger)
	for i := 0; i < photocat.NumShards; i++ {
		if !store.Exists(i) {
			return false
		}
	}
	return true
}

// manifestChanged reports whether the local manifest file differs from
// the fetched remote bytes. Read before commit, which replaces it.
func (s *Syncer) manifestChanged(remoteData []byte) (bool, error) {
	localData, err := os.ReadFile(catalog.ManifestPath(s.root))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return true, nil
		}
		return false, fmt.Errorf("failed to read local manifest: %w", err)
	}
	return !bytes.Equal(localData, remoteData), nil
}

// commit swaps the staged tree into place with two renames. A crash
// between them is repaired by recoverInterruptedSwap on the next run.
func (s *Syncer) commit(staging string) error {
	backup := s.root + backupSuffix
	if _, err := os.Stat(s.root); err == nil {
		if err := os.RemoveAll(backup); err != nil {
			return fmt.Errorf("failed to clear old backup: %w", err)
		}
		if err := os.Rename(s.root, backup); err != nil {
			return fmt.Errorf("failed to move current catalog aside: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to stat catalog root: %w", err)
	}

	if err := os.Rename(staging, s.root); err != nil {
		// Put the old catalog back so readers are not left rootless.
		if _, statErr := os.Stat(backup); statErr == nil {
			os.Rename(backup, s.root)
		}
		return fmt.Errorf("failed to commit staged catalog: %w", err)
	}

	if err := os.RemoveAll(backup); err != nil {
		s.logger.Printf("Failed to remove commit backup %s: %v", backup, err)
	}
	return nil
}

// recoverInterruptedSwap finishes or rolls back a commit that stopped
// between renames. A backup with no live root means the staged tree
// never landed, so the backup is restored. A backup next to a live
// root means the commit completed and the backup is stale.
func recoverInterruptedSwap(root string) error {
	backup := root + backupSuffix
	if _, err := os.Stat(backup); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to check for interrupted commit: %w", err)
	}
	if _, err := os.Stat(root); errors.Is(err, os.ErrNotExist) {
		if err := os.Rename(backup, root); err != nil {
			return fmt.Errorf("failed to restore interrupted commit: %w", err)
		}
		return nil
	}
	if err := os.RemoveAll(backup); err != nil {
		return fmt.Errorf("failed to drop stale commit backup: %w", err)
	}
	return nil
}
