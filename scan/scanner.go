package scan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mhbvr/photocat"
)

// Result is one scanned photo file.
type Result struct {
	Path  string
	Entry photocat.CatalogEntry
}

// Stats summarizes a scan.
type Stats struct {
	Seen     int // photo files encountered by the walk
	Scanned  int // entries produced
	Skipped  int // rejected by the filter
	Failures int // unreadable files, logged and dropped
}

// Scanner walks a photo tree and extracts catalog entries with a
// fixed-size worker pool. Per-file failures never abort the scan.
type Scanner struct {
	root    string
	workers int
	logger  *log.Logger
	filter  func(path string, info fs.FileInfo) bool
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithWorkers sets the number of concurrent extraction workers.
func WithWorkers(n int) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithLogger directs scan log output to logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Scanner) {
		s.logger = logger
	}
}

// WithFilter installs a predicate consulted per photo file before it
// is read. Returning false skips the file, which is how callers plug
// in fingerprint-based change detection.
func WithFilter(filter func(path string, info fs.FileInfo) bool) Option {
	return func(s *Scanner) {
		s.filter = filter
	}
}

// New returns a Scanner for the photo tree at root.
func New(root string, opts ...Option) *Scanner {
	s := &Scanner{
		root:    root,
		workers: 4,
		logger:  log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type result struct {
	path  string
	entry photocat.CatalogEntry
	err   error
}

// Run walks the tree and extracts an entry for every accepted photo
// file. Results arrive in no particular order. Directories whose name
// starts with a dot are not descended into.
func (s *Scanner) Run(ctx context.Context) ([]Result, Stats, error) {
	paths := make(chan string)
	results := make(chan result)
	stats := Stats{}

	var walkErr error
	go func() {
		defer close(paths)
		walkErr = filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != s.root && strings.HasPrefix(d.Name(), ".") {
					return fs.SkipDir
				}
				return nil
			}
			if !IsPhoto(path) {
				return nil
			}
			stats.Seen++
			if s.filter != nil {
				info, err := d.Info()
				if err != nil {
					return err
				}
				if !s.filter(path, info) {
					stats.Skipped++
					return nil
				}
			}
			select {
			case paths <- path:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()

	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range paths {
				info, err := os.Stat(path)
				if err != nil {
					results <- result{path: path, err: err}
					continue
				}
				entry, err := FileEntry(path, info)
				if err != nil {
					results <- result{path: path, err: err}
					continue
				}
				results <- result{path: path, entry: entry}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var scanned []Result
	for r := range results {
		if r.err != nil {
			stats.Failures++
			s.logger.Printf("Skipping %s: %v", r.path, r.err)
			continue
		}
		stats.Scanned++
		scanned = append(scanned, Result{Path: r.path, Entry: r.entry})
	}

	if walkErr != nil && !errors.Is(walkErr, context.Canceled) {
		return scanned, stats, fmt.Errorf("failed to walk %s: %w", s.root, walkErr)
	}
	if err := ctx.Err(); err != nil {
		return scanned, stats, err
	}
	return scanned, stats, nil
}
