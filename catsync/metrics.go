package catsync

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

var (
	syncsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catsync_syncs_total",
			Help: "Total number of sync attempts",
		},
		[]string{"outcome"}, // "updated", "unchanged", "throttled", "failed"
	)

	syncDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "catsync_sync_duration_seconds",
			Help:    "Duration of sync attempts",
			Buckets: prometheus.DefBuckets,
		},
	)

	shardsFetched = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "catsync_shards_fetched_total",
			Help: "Total number of shard objects fetched from remotes",
		},
	)

	bytesFetched = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "catsync_bytes_fetched_total",
			Help: "Total bytes fetched from remotes",
		},
	)

	checksumMismatches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "catsync_checksum_mismatches_total",
			Help: "Total number of syncs aborted on a shard checksum mismatch",
		},
	)

	publishesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catsync_publishes_total",
			Help: "Total number of publish attempts",
		},
		[]string{"outcome"}, // "uploaded", "unchanged", "failed"
	)

	shardsUploaded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "catsync_shards_uploaded_total",
			Help: "Total number of shard objects uploaded to remotes",
		},
	)

	bytesUploaded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "catsync_bytes_uploaded_total",
			Help: "Total bytes uploaded to remotes",
		},
	)

	unpublishesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catsync_unpublishes_total",
			Help: "Total number of remote catalog removals",
		},
		[]string{"outcome"}, // "removed", "failed"
	)
)

func init() {
	prometheus.MustRegister(syncsTotal)
	prometheus.MustRegister(syncDuration)
	prometheus.MustRegister(shardsFetched)
	prometheus.MustRegister(bytesFetched)
	prometheus.MustRegister(checksumMismatches)
	prometheus.MustRegister(publishesTotal)
	prometheus.MustRegister(shardsUploaded)
	prometheus.MustRegister(bytesUploaded)
	prometheus.MustRegister(unpublishesTotal)
}

// SyncStats is a point-in-time snapshot of the sync and publish counters.
// The counters are shared by every Syncer in the process.
type SyncStats struct {
	Updated            int
	Unchanged          int
	Throttled          int
	Failed             int
	ShardsFetched      int
	BytesFetched       int64
	ChecksumMismatches int
	ShardsUploaded     int
	BytesUploaded      int64
}

// ReadStats extracts current values from the Prometheus counters.
func ReadStats() (*SyncStats, error) {
	stats := &SyncStats{
		ShardsFetched:      int(counterValue(shardsFetched)),
		BytesFetched:       int64(counterValue(bytesFetched)),
		ChecksumMismatches: int(counterValue(checksumMismatches)),
		ShardsUploaded:     int(counterValue(shardsUploaded)),
		BytesUploaded:      int64(counterValue(bytesUploaded)),
	}

	outcomes := []struct {
		label string
		dst   *int
	}{
		{"updated", &stats.Updated},
		{"unchanged", &stats.Unchanged},
		{"throttled", &stats.Throttled},
		{"failed", &stats.Failed},
	}
	for _, o := range outcomes {
		metric, err := syncsTotal.GetMetricWithLabelValues(o.label)
		if err != nil {
			return nil, err
		}
		*o.dst = int(counterValue(metric))
	}

	return stats, nil
}

// counterValue reads the current value out of a Prometheus counter.
func counterValue(c prometheus.Counter) float64 {
	pb := &dto.Metric{}
	c.Write(pb)
	return pb.GetCounter().GetValue()
}
