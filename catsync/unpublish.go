package catsync

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/mhbvr/photocat"
)

// UnpublishResult reports what an unpublish attempt removed.
type UnpublishResult struct {
	ObjectsDeleted int
}

// Unpublish removes the catalog from the remote store. The manifest
// goes first and the shards after, the inverse of publish order, so no
// reader can start syncing a half removed catalog. Deletions are
// idempotent, a retry after a partial failure finishes the job. The
// local catalog is left alone; sync bookkeeping is dropped so a later
// sync or publish starts from scratch.
func (s *Syncer) Unpublish(ctx context.Context) (*UnpublishResult, error) {
	if !s.mu.TryLock() {
		return nil, fmt.Errorf("%w: %s", photocat.ErrSyncInProgress, s.root)
	}
	defer s.mu.Unlock()

	res, err := s.unpublish(ctx)
	if err != nil {
		unpublishesTotal.WithLabelValues("failed").Inc()
		return nil, err
	}
	unpublishesTotal.WithLabelValues("removed").Inc()
	return res, nil
}

func (s *Syncer) unpublish(ctx context.Context) (*UnpublishResult, error) {
	ctx, span := s.tracer.Start(ctx, "catalog_unpublish")
	defer span.End()
	span.SetAttributes(attribute.String("catalog.root", s.root))

	res := &UnpublishResult{}
	remove := func(key string) error {
		probe, err := s.remote.Probe(ctx, key)
		if err != nil {
			return fmt.Errorf("failed to probe object %s: %w", key, err)
		}
		if err := s.remote.Delete(ctx, key); err != nil {
			return fmt.Errorf("failed to delete object %s: %w", key, err)
		}
		if probe.Exists {
			res.ObjectsDeleted++
		}
		return nil
	}

	if err := remove(photocat.ManifestObject); err != nil {
		span.RecordError(err)
		return nil, err
	}
	for i := 0; i < photocat.NumShards; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := remove(photocat.ShardName(i)); err != nil {
			span.RecordError(err)
			return nil, err
		}
	}

	if err := s.state.Clear(); err != nil {
		s.logger.Printf("Failed to drop sync state: %v", err)
	}

	span.SetAttributes(attribute.Int("objects.deleted", res.ObjectsDeleted))
	s.logger.Printf("Unpublished catalog %s: %d objects removed", s.root, res.ObjectsDeleted)
	return res, nil
}
