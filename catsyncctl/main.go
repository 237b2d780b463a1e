package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mhbvr/photocat"
	"github.com/mhbvr/photocat/catsync"
	"github.com/mhbvr/photocat/objstore/fsstore"
	"github.com/mhbvr/photocat/objstore/httpstore"
	"github.com/mhbvr/photocat/tracing"
)

func main() {
	var (
		root        = flag.String("root", "", "Local catalog root directory")
		remote      = flag.String("remote", "", "Remote store: http(s) URL or directory path")
		owner       = flag.String("owner", "", "Catalog prefix on the remote, e.g. catalogs/alice")
		force       = flag.Bool("force", false, "Sync even if the last sync was recent")
		push        = flag.Bool("push", false, "Publish the local catalog instead of pulling")
		wipe        = flag.Bool("wipe", false, "Remove the catalog from the remote instead of pulling")
		full        = flag.Bool("full", false, "Drop recorded version tokens and re-verify everything")
		interval    = flag.Duration("interval", catsync.DefaultInterval, "Minimum time between syncs")
		timeout     = flag.Duration("timeout", 10*time.Minute, "Overall operation timeout")
		metricsAddr = flag.String("metrics_addr", "", "Serve /metrics and /tracez on this address while running")
	)
	flag.Parse()

	if *root == "" {
		log.Fatal("Catalog root must be specified with -root flag")
	}
	if *remote == "" {
		log.Fatal("Remote store must be specified with -remote flag")
	}
	if *push && *wipe {
		log.Fatal("-push and -wipe are mutually exclusive")
	}

	zpagesHandler, cleanup, err := tracing.Initialize("catsyncctl")
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}
	defer cleanup()

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", promhttp.Handler())
		mux.Handle("GET /tracez", zpagesHandler)
		go func() {
			log.Printf("Serving metrics on %s", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.Fatalf("Metrics server failed: %v", err)
			}
		}()
	}

	store, err := openRemote(*remote, *owner)
	if err != nil {
		log.Fatalf("Failed to open remote store: %v", err)
	}

	syncer, err := catsync.New(*root, store,
		catsync.WithLogger(log.Default()),
		catsync.WithInterval(*interval),
	)
	if err != nil {
		log.Fatalf("Failed to create syncer: %v", err)
	}
	defer syncer.Close()

	if *full {
		if err := syncer.Reset(); err != nil {
			log.Fatalf("Failed to reset sync state: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if *push {
		res, err := syncer.Publish(ctx)
		if err != nil {
			log.Fatalf("Publish failed: %v", err)
		}
		fmt.Printf("Publish completed:\n")
		fmt.Printf("  Shards uploaded: %d\n", res.ShardsUploaded)
		fmt.Printf("  Bytes uploaded: %d\n", res.BytesUploaded)
		fmt.Printf("  Manifest uploaded: %v\n", res.ManifestUploaded)
		return
	}

	if *wipe {
		res, err := syncer.Unpublish(ctx)
		if err != nil {
			log.Fatalf("Wipe failed: %v", err)
		}
		fmt.Printf("Remote catalog removed:\n")
		fmt.Printf("  Objects deleted: %d\n", res.ObjectsDeleted)
		return
	}

	var res *catsync.SyncResult
	if *force {
		res, err = syncer.Sync(ctx)
	} else {
		res, err = syncer.SyncIfNeeded(ctx)
	}
	if err != nil {
		if errors.Is(err, photocat.ErrManifestNotFound) {
			log.Fatalf("Remote %s has no catalog", *remote)
		}
		log.Fatalf("Sync failed: %v", err)
	}

	switch {
	case res.Throttled:
		fmt.Printf("Sync skipped: last sync was less than %v ago (use -force to override)\n", *interval)
	case res.Updated:
		fmt.Printf("Catalog updated:\n")
		fmt.Printf("  Shards fetched: %d\n", res.ShardsFetched)
		fmt.Printf("  Bytes fetched: %d\n", res.BytesFetched)
		fmt.Printf("  Duration: %v\n", res.Duration)
	default:
		fmt.Printf("Catalog already up to date\n")
	}
}

// openRemote picks the store implementation from the remote spec: an
// http(s) URL talks to an object server, anything else is a local or
// mounted directory.
func openRemote(spec, owner string) (photocat.ObjectStore, error) {
	if strings.HasPrefix(spec, "http://") || strings.HasPrefix(spec, "https://") {
		base := strings.TrimSuffix(spec, "/")
		if owner != "" {
			base = base + "/" + strings.Trim(owner, "/")
		}
		return httpstore.NewClient(base, httpstore.WithLogger(log.Default()))
	}
	dir := spec
	if owner != "" {
		dir = filepath.Join(spec, owner)
	}
	return fsstore.New(dir), nil
}
