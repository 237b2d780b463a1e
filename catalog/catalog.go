package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mhbvr/photocat"
)

// shardState is one shard held in memory: its entries keyed by lowercase
// content hash, the digest of the file bytes it was read from, and
// whether memory is ahead of disk.
type shardState struct {
	entries map[string]photocat.CatalogEntry
	diskSum string
	dirty   bool
}

// Service owns one catalog root. Shards load lazily into memory,
// mutations stay in memory until Flush persists changed shards and
// regenerates the manifest. All operations on one Service are
// serialized by an internal lock, so concurrent callers are safe but
// see strictly ordered mutations.
//
// The sync engine replaces catalog roots on disk behind the Service.
// Callers sharing the Service through a Registry do that inside Swap;
// anything else replacing the root must Invalidate afterwards.
type Service struct {
	root   string
	store  *ShardStore
	logger *log.Logger
	now    func() time.Time

	mu     sync.Mutex
	shards map[int]*shardState
}

// Option configures a Service.
type Option func(*Service)

// WithLogger directs service and shard log output to logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithClock overrides the time source used for manifest timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService returns a Service for the catalog rooted at root.
func NewService(root string, opts ...Option) *Service {
	s := &Service{
		root:   root,
		logger: log.New(io.Discard, "", 0),
		now:    time.Now,
		shards: make(map[int]*shardState),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.store = NewShardStore(root, s.logger)
	return s
}

// Root returns the catalog root directory.
func (s *Service) Root() string { return s.root }

// LoadAll returns every entry of the catalog, merged from all 16 shards
// in shard order and sorted by content hash within each shard. A root
// without a manifest is not a catalog yet and reports
// photocat.ErrManifestNotFound. Shards read from disk are verified
// against the manifest checksums, so a root whose shard files diverge
// from its manifest reports photocat.ErrChecksumMismatch instead of a
// silently partial catalog.
func (s *Service) LoadAll(ctx context.Context) ([]photocat.CatalogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := LoadManifest(s.root)
	if err != nil {
		return nil, err
	}
	if err := s.loadMissingLocked(m); err != nil {
		return nil, err
	}

	total := 0
	for i := 0; i < photocat.NumShards; i++ {
		total += len(s.shards[i].entries)
	}
	out := make([]photocat.CatalogEntry, 0, total)
	for i := 0; i < photocat.NumShards; i++ {
		shard := s.shards[i].entries
		hashes := make([]string, 0, len(shard))
		for hash := range shard {
			hashes = append(hashes, hash)
		}
		sort.Strings(hashes)
		for _, hash := range hashes {
			out = append(out, shard[hash])
		}
	}
	return out, nil
}

// loadMissingLocked reads every shard not yet cached, all in parallel.
// With a manifest in hand every freshly read shard is checked against
// its recorded checksum before anything is cached, and divergence comes
// back as photocat.ErrChecksumMismatch. An unreadable shard file is
// treated as an empty shard marked for rewrite, per the recreate on
// corruption policy; the checksum comparison is what surfaces it to
// readers.
func (s *Service) loadMissingLocked(m *Manifest) error {
	type shardLoad struct {
		res LoadResult
		err error
	}

	var wg sync.WaitGroup
	loads := make([]*shardLoad, photocat.NumShards)
	for i := 0; i < photocat.NumShards; i++ {
		if s.shards[i] != nil {
			continue
		}
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			out := &shardLoad{}
			out.res, out.err = s.store.Load(index)
			loads[index] = out
		}(i)
	}
	wg.Wait()

	if m != nil {
		for i, out := range loads {
			if out == nil {
				continue
			}
			sum := out.res.Checksum
			if out.err != nil {
				sum = Digest(nil)
			}
			want, ok := m.Checksum(i)
			if !ok {
				want = Digest(nil)
			}
			if sum != want {
				return fmt.Errorf("%w: shard %s", photocat.ErrChecksumMismatch, photocat.ShardName(i))
			}
		}
	}

	skipped := 0
	for i, out := range loads {
		if out == nil {
			continue
		}
		res := out.res
		if out.err != nil {
			s.logger.Printf("Treating unreadable %s as empty: %v", photocat.ShardName(i), out.err)
			res = LoadResult{Checksum: Digest(nil)}
		}
		st := &shardState{
			entries: make(map[string]photocat.CatalogEntry, len(res.Entries)),
			diskSum: res.Checksum,
			dirty:   out.err != nil,
		}
		for _, e := range res.Entries {
			st.entries[strings.ToLower(e.ContentHash)] = e
		}
		s.shards[i] = st
		skipped += res.Skipped
	}
	if skipped > 0 {
		s.logger.Printf("Skipped %d malformed records loading catalog %s", skipped, s.root)
	}
	return nil
}

// shardLocked returns the cached state of one shard, reading it from
// disk on first use. An unreadable file becomes an empty shard marked
// for rewrite.
func (s *Service) shardLocked(index int) *shardState {
	if st := s.shards[index]; st != nil {
		return st
	}
	res, err := s.store.Load(index)
	if err != nil {
		s.logger.Printf("Treating unreadable %s as empty: %v", photocat.ShardName(index), err)
		res = LoadResult{Checksum: Digest(nil)}
	}
	if res.Skipped > 0 {
		s.logger.Printf("Skipped %d malformed records in %s", res.Skipped, photocat.ShardName(index))
	}
	st := &shardState{
		entries: make(map[string]photocat.CatalogEntry, len(res.Entries)),
		diskSum: res.Checksum,
		dirty:   err != nil,
	}
	for _, e := range res.Entries {
		st.entries[strings.ToLower(e.ContentHash)] = e
	}
	s.shards[index] = st
	return st
}

// Upsert inserts or replaces the entry with the same content hash in
// its owning shard. The change is in memory until Flush.
func (s *Service) Upsert(ctx context.Context, e photocat.CatalogEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.Validate(); err != nil {
		return err
	}
	e.ContentHash = strings.ToLower(e.ContentHash)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertLocked(e)
	return nil
}

func (s *Service) upsertLocked(e photocat.CatalogEntry) {
	st := s.shardLocked(e.Shard())
	st.entries[e.ContentHash] = e
	st.dirty = true
}

// UpsertBatch applies many upserts, loading each touched shard once.
// The batch is validated up front and rejected whole on the first
// invalid entry.
func (s *Service) UpsertBatch(ctx context.Context, entries []photocat.CatalogEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for i := range entries {
		if err := entries[i].Validate(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		e.ContentHash = strings.ToLower(e.ContentHash)
		s.upsertLocked(e)
	}
	return nil
}

// Remove deletes the entry with the given content hash, reporting
// whether it was present. The change is in memory until Flush.
func (s *Service) Remove(ctx context.Context, contentHash string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	hash := strings.ToLower(contentHash)
	index := photocat.BucketForHash(hash)

	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.shardLocked(index)
	if _, ok := st.entries[hash]; !ok {
		return false, nil
	}
	delete(st.entries, hash)
	st.dirty = true
	return true, nil
}

// CreateEmpty initializes the root as an empty catalog: 16 empty shard
// files and a fresh manifest. Existing content is discarded.
func (s *Service) CreateEmpty(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < photocat.NumShards; i++ {
		s.shards[i] = &shardState{
			entries: make(map[string]photocat.CatalogEntry),
			dirty:   true,
		}
	}
	return s.flushLocked(false)
}

// Flush persists all changed shards and regenerates the manifest so its
// checksums and entry count match the shard files exactly. A clean,
// fully materialized catalog is left untouched.
func (s *Service) Flush(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dirtyLocked() && s.onDiskCompleteLocked() {
		return nil
	}
	return s.flushLocked(true)
}

func (s *Service) dirtyLocked() bool {
	for _, st := range s.shards {
		if st.dirty {
			return true
		}
	}
	return false
}

// onDiskCompleteLocked reports whether the root already has a manifest
// and all 16 shard files.
func (s *Service) onDiskCompleteLocked() bool {
	if _, err := LoadManifest(s.root); err != nil {
		return false
	}
	for i := 0; i < photocat.NumShards; i++ {
		if !s.store.Exists(i) {
			return false
		}
	}
	return true
}

func (s *Service) flushLocked(preserveCreated bool) error {
	if err := s.loadMissingLocked(nil); err != nil {
		return err
	}

	now := s.now()
	var m *Manifest
	if preserveCreated {
		existing, err := LoadManifest(s.root)
		switch {
		case err == nil:
			m = existing
		case errors.Is(err, photocat.ErrManifestNotFound):
		default:
			s.logger.Printf("Regenerating unreadable manifest for %s: %v", s.root, err)
		}
	}
	if m == nil {
		m = NewManifest(now)
	}
	m.Version = ManifestVersion
	m.ModifiedAt = now.Unix()

	count := 0
	for i := 0; i < photocat.NumShards; i++ {
		st := s.shards[i]
		data := SerializeShard(shardSlice(st.entries))
		sum := Digest(data)
		// A clean shard whose file bytes are not the canonical
		// serialization (salvaged records, stray header) is rewritten
		// too, otherwise the manifest checksum can never match the
		// file again.
		if st.dirty || sum != st.diskSum || !s.store.Exists(i) {
			if err := s.store.WriteRaw(i, data); err != nil {
				return err
			}
			st.diskSum = sum
			st.dirty = false
		}
		m.SetChecksum(i, sum)
		count += len(st.entries)
	}
	m.EntryCount = count

	if err := SaveManifest(s.root, m); err != nil {
		return err
	}
	s.logger.Printf("Flushed catalog %s: %d entries", s.root, count)
	return nil
}

func shardSlice(shard map[string]photocat.CatalogEntry) []photocat.CatalogEntry {
	entries := make([]photocat.CatalogEntry, 0, len(shard))
	for _, e := range shard {
		entries = append(entries, e)
	}
	return entries
}

// Verify recomputes every shard checksum on disk and compares it with
// the manifest, reporting photocat.ErrChecksumMismatch on divergence.
func (s *Service) Verify(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := LoadManifest(s.root)
	if err != nil {
		return err
	}
	for i := 0; i < photocat.NumShards; i++ {
		sum, err := s.store.Checksum(i)
		if err != nil {
			return err
		}
		want, ok := m.Checksum(i)
		if !ok || want != sum {
			return fmt.Errorf("%w: shard %s", photocat.ErrChecksumMismatch, photocat.ShardName(i))
		}
	}
	return nil
}

// Invalidate drops all cached shard state, including unflushed
// mutations. Call it after the root has been replaced on disk behind
// this Service.
func (s *Service) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shards = make(map[int]*shardState)
}

// Swap runs replace while holding the root's lock, then drops all
// cached shard state. The sync engine commits a staged catalog inside
// replace, so readers sharing this Service never observe the root
// between the renames of the swap.
func (s *Service) Swap(replace func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := replace()
	s.shards = make(map[int]*shardState)
	return err
}

// Registry hands out one Service per catalog root, so all callers of
// the same root share a single lock and shard cache.
type Registry struct {
	mu       sync.Mutex
	services map[string]*Service
	opts     []Option
}

// NewRegistry returns an empty registry. The options are applied to
// every Service it creates.
func NewRegistry(opts ...Option) *Registry {
	return &Registry{
		services: make(map[string]*Service),
		opts:     opts,
	}
}

// For returns the Service owning root, creating it on first use. Paths
// are cleaned so spelling variants of the same root share one Service.
func (r *Registry) For(root string) *Service {
	key := filepath.Clean(root)
	r.mu.Lock()
	defer r.mu.Unlock()
	svc, ok := r.services[key]
	if !ok {
		svc = NewService(key, r.opts...)
		r.services[key] = svc
	}
	return svc
}

// Drop forgets the Service for root. The next For call creates a fresh
// one reading current on-disk state.
func (r *Registry) Drop(root string) {
	key := filepath.Clean(root)
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.services, key)
}
