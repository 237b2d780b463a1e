package catsync

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel/attribute"

	"github.com/mhbvr/photocat"
	"github.com/mhbvr/photocat/catalog"
)

// PublishResult reports what a publish attempt uploaded.
type PublishResult struct {
	ShardsUploaded   int
	BytesUploaded    int64
	ManifestUploaded bool
}

// Publish pushes the local catalog to the remote store. Shards go
// first and the manifest last, so a remote reader never sees a
// manifest referencing shards that are not there yet. Shards whose
// digest already matches the remote manifest are skipped.
func (s *Syncer) Publish(ctx context.Context) (*PublishResult, error) {
	if !s.mu.TryLock() {
		return nil, fmt.Errorf("%w: %s", photocat.ErrSyncInProgress, s.root)
	}
	defer s.mu.Unlock()

	res, err := s.publish(ctx)
	if err != nil {
		publishesTotal.WithLabelValues("failed").Inc()
		return nil, err
	}
	if res.ShardsUploaded > 0 || res.ManifestUploaded {
		publishesTotal.WithLabelValues("uploaded").Inc()
	} else {
		publishesTotal.WithLabelValues("unchanged").Inc()
	}
	return res, nil
}

func (s *Syncer) publish(ctx context.Context) (*PublishResult, error) {
	ctx, span := s.tracer.Start(ctx, "catalog_publish")
	defer span.End()
	span.SetAttributes(attribute.String("catalog.root", s.root))

	localManifest, err := catalog.LoadManifest(s.root)
	if err != nil {
		return nil, err
	}
	manifestData, err := os.ReadFile(catalog.ManifestPath(s.root))
	if err != nil {
		return nil, fmt.Errorf("failed to read local manifest: %w", err)
	}

	local := catalog.NewShardStore(s.root, s.logger)

	// The manifest must describe the shard files exactly, otherwise
	// the remote would be born inconsistent.
	for i := 0; i < photocat.NumShards; i++ {
		sum, err := local.Checksum(i)
		if err != nil {
			return nil, err
		}
		want, ok := localManifest.Checksum(i)
		if !ok || want != sum {
			return nil, fmt.Errorf("%w: shard %s does not match local manifest, flush the catalog first", photocat.ErrChecksumMismatch, photocat.ShardName(i))
		}
	}

	probe, err := s.remote.Probe(ctx, photocat.ManifestObject)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to probe remote manifest: %w", err)
	}
	var remoteManifest *catalog.Manifest
	remoteUpToDate := false
	if probe.Exists {
		data, _, err := s.remote.Get(ctx, photocat.ManifestObject)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch remote manifest: %w", err)
		}
		if m, err := catalog.DecodeManifest(data); err == nil {
			remoteManifest = m
		} else {
			s.logger.Printf("Ignoring malformed remote manifest: %v", err)
		}
		remoteUpToDate = bytes.Equal(data, manifestData)
	}

	res := &PublishResult{}
	tokens := make(map[string]string)
	for i := 0; i < photocat.NumShards; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := photocat.ShardName(i)
		sum, _ := localManifest.Checksum(i)

		if remoteManifest != nil {
			if remoteSum, ok := remoteManifest.Checksum(i); ok && remoteSum == sum {
				pr, err := s.remote.Probe(ctx, name)
				if err != nil {
					return nil, fmt.Errorf("failed to probe shard %s: %w", name, err)
				}
				if pr.Exists {
					tokens[name] = pr.Token
					continue
				}
				if sum == catalog.Digest(nil) {
					continue
				}
			}
		}

		data, err := local.Read(i)
		if err != nil {
			return nil, err
		}
		token, err := s.remote.Put(ctx, name, data)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to upload shard %s: %w", name, err)
		}
		tokens[name] = token
		res.ShardsUploaded++
		res.BytesUploaded += int64(len(data))
		shardsUploaded.Inc()
		bytesUploaded.Add(float64(len(data)))
	}

	if !remoteUpToDate || res.ShardsUploaded > 0 {
		token, err := s.remote.Put(ctx, photocat.ManifestObject, manifestData)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to upload manifest: %w", err)
		}
		tokens[photocat.ManifestObject] = token
		res.ManifestUploaded = true
		res.BytesUploaded += int64(len(manifestData))
	} else {
		tokens[photocat.ManifestObject] = probe.Token
	}

	if err := s.state.SetTokens(tokens, s.now()); err != nil {
		s.logger.Printf("Failed to store sync tokens: %v", err)
	}

	span.SetAttributes(
		attribute.Int("shards.uploaded", res.ShardsUploaded),
		attribute.Int64("bytes.uploaded", res.BytesUploaded),
	)
	s.logger.Printf("Published catalog %s: %d shards uploaded, %d bytes", s.root, res.ShardsUploaded, res.BytesUploaded)
	return res, nil
}
