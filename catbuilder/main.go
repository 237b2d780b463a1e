package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"time"

	"github.com/mhbvr/photocat"
	"github.com/mhbvr/photocat/catalog"
	"github.com/mhbvr/photocat/indexdb"
	"github.com/mhbvr/photocat/scan"
)

func main() {
	var (
		srcDir     = flag.String("dir", "", "Source directory containing photo files")
		catalogDir = flag.String("catalog", "", "Catalog root directory")
		indexPath  = flag.String("index", "", "Index database path (default <catalog>.index)")
		workers    = flag.Int("workers", 4, "Number of concurrent scan workers")
		batchSize  = flag.Int("batch-size", 100, "Number of entries to add in each batch")
		full       = flag.Bool("full", false, "Re-hash every file, ignoring recorded fingerprints")
	)
	flag.Parse()

	if *srcDir == "" {
		log.Fatal("Source directory must be specified with -dir flag")
	}
	if *catalogDir == "" {
		log.Fatal("Catalog root must be specified with -catalog flag")
	}
	if *indexPath == "" {
		*indexPath = *catalogDir + ".index"
	}

	ctx := context.Background()

	idx, err := indexdb.Open(*indexPath)
	if err != nil {
		log.Fatalf("Failed to open index database: %v", err)
	}
	defer idx.Close()

	svc := catalog.NewService(*catalogDir, catalog.WithLogger(log.Default()))

	// Hashes already in the catalog. An unchanged file whose recorded
	// hash is still present does not need to be read again.
	known := make(map[string]bool)
	entries, err := svc.LoadAll(ctx)
	switch {
	case err == nil:
		for _, e := range entries {
			known[e.ContentHash] = true
		}
		fmt.Printf("Loaded existing catalog: %d entries\n", len(entries))
	case errors.Is(err, photocat.ErrManifestNotFound):
		fmt.Printf("Creating new catalog at %s\n", *catalogDir)
	default:
		log.Fatalf("Failed to load catalog: %v", err)
	}

	opts := []scan.Option{
		scan.WithWorkers(*workers),
		scan.WithLogger(log.Default()),
	}
	if !*full {
		opts = append(opts, scan.WithFilter(func(path string, info fs.FileInfo) bool {
			fp, ok, err := idx.Fingerprint(path)
			if err != nil || !ok {
				return true
			}
			unchanged := fp.SizeBytes == info.Size() && fp.ModTimeUnix == info.ModTime().Unix()
			return !(unchanged && known[fp.ContentHash])
		}))
	}

	fmt.Printf("Scanning directory: %s\n", *srcDir)
	start := time.Now()

	results, stats, err := scan.New(*srcDir, opts...).Run(ctx)
	if err != nil {
		log.Fatalf("Scan failed: %v", err)
	}

	fmt.Printf("Found %d photo files, %d need hashing\n", stats.Seen, stats.Scanned)
	fmt.Printf("Using batch size: %d\n", *batchSize)

	totalBatches := (len(results) + *batchSize - 1) / *batchSize

	// Process entries in batches
	for i := 0; i < len(results); i += *batchSize {
		end := i + *batchSize
		if end > len(results) {
			end = len(results)
		}

		batchNum := (i / *batchSize) + 1
		fmt.Printf("Processing batch %d/%d (%d entries)\n", batchNum, totalBatches, end-i)

		batch := make([]photocat.CatalogEntry, 0, end-i)
		for _, r := range results[i:end] {
			batch = append(batch, r.Entry)
		}
		if err := svc.UpsertBatch(ctx, batch); err != nil {
			log.Fatalf("Failed to process batch %d: %v", batchNum, err)
		}

		for _, r := range results[i:end] {
			fp := indexdb.Fingerprint{
				SizeBytes:   r.Entry.SizeBytes,
				ModTimeUnix: r.Entry.ModifiedAt.Unix(),
				ContentHash: r.Entry.ContentHash,
			}
			if err := idx.RememberFingerprint(r.Path, fp); err != nil {
				log.Fatalf("Failed to record fingerprint for %s: %v", r.Path, err)
			}
		}
	}

	if err := svc.Flush(ctx); err != nil {
		log.Fatalf("Failed to flush catalog: %v", err)
	}

	indexed, err := idx.RebuildFromCatalog(ctx, svc)
	if err != nil {
		log.Fatalf("Failed to rebuild index: %v", err)
	}

	fmt.Printf("\nCatalog build completed successfully:\n")
	fmt.Printf("  Catalog root: %s\n", *catalogDir)
	fmt.Printf("  Photo files found: %d\n", stats.Seen)
	fmt.Printf("  Files hashed: %d\n", stats.Scanned)
	fmt.Printf("  Files skipped (unchanged): %d\n", stats.Skipped)
	fmt.Printf("  Files failed: %d\n", stats.Failures)
	fmt.Printf("  Entries indexed: %d\n", indexed)
	fmt.Printf("  Elapsed: %v\n", time.Since(start))
}
