package photocat

import (
	"strings"
	"testing"
	"time"
)

// TestBucketForHash tests shard assignment from content hashes
func TestBucketForHash(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		hash string
		want int
	}{
		{name: "digit zero", hash: "0a1b2c", want: 0},
		{name: "digit nine", hash: "9f00aa", want: 9},
		{name: "lowercase a", hash: "abc123", want: 10},
		{name: "lowercase f", hash: "fedcba", want: 15},
		{name: "uppercase maps like lowercase", hash: "ABC123", want: 10},
		{name: "uppercase F", hash: "F00", want: 15},
		{name: "empty hash", hash: "", want: 0},
		{name: "non-hex first char", hash: "zzz", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BucketForHash(tt.hash)
			if got != tt.want {
				t.Errorf("BucketForHash(%q) = %d, want %d", tt.hash, got, tt.want)
			}
			// Bucketing must be deterministic.
			if again := BucketForHash(tt.hash); again != got {
				t.Errorf("BucketForHash(%q) second call = %d, first call = %d", tt.hash, again, got)
			}
		})
	}
}

// TestBucketForHashCaseInsensitive tests that case variants of a hash
// land in the same shard
func TestBucketForHashCaseInsensitive(t *testing.T) {
	t.Parallel()

	hashes := []string{"a1b2c3", "deadbeef", "F00D", "0123456789abcdef"}
	for _, hash := range hashes {
		lower := BucketForHash(strings.ToLower(hash))
		upper := BucketForHash(strings.ToUpper(hash))
		if lower != upper {
			t.Errorf("BucketForHash case mismatch for %q: lower=%d, upper=%d", hash, lower, upper)
		}
	}
}

// TestShardName tests shard file naming
func TestShardName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		index int
		want  string
	}{
		{index: 0, want: "shard-0"},
		{index: 9, want: "shard-9"},
		{index: 10, want: "shard-a"},
		{index: 15, want: "shard-f"},
	}

	for _, tt := range tests {
		got := ShardName(tt.index)
		if got != tt.want {
			t.Errorf("ShardName(%d) = %q, want %q", tt.index, got, tt.want)
		}
	}
}

// TestIsHexHash tests hex hash detection
func TestIsHexHash(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		s    string
		want bool
	}{
		{name: "lowercase hex", s: "0123456789abcdef", want: true},
		{name: "uppercase hex", s: "ABCDEF", want: true},
		{name: "mixed case", s: "aAbB99", want: true},
		{name: "empty", s: "", want: false},
		{name: "non-hex letter", s: "abcg", want: false},
		{name: "column header", s: "contentHash", want: false},
		{name: "whitespace", s: "ab cd", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsHexHash(tt.s); got != tt.want {
				t.Errorf("IsHexHash(%q) = %v, want %v", tt.s, got, tt.want)
			}
		})
	}
}

// TestCatalogEntryValidate tests entry validation rules
func TestCatalogEntryValidate(t *testing.T) {
	t.Parallel()

	valid := CatalogEntry{
		ContentHash: "deadbeef",
		Filename:    "IMG_0001.jpg",
		SizeBytes:   2048,
		CapturedAt:  time.Unix(1600000000, 0),
		ModifiedAt:  time.Unix(1600000100, 0),
		Width:       4032,
		Height:      3024,
	}

	tests := []struct {
		name    string
		mutate  func(*CatalogEntry)
		wantErr bool
	}{
		{name: "valid entry", mutate: func(*CatalogEntry) {}},
		{name: "unknown dimensions", mutate: func(e *CatalogEntry) { e.Width, e.Height = 0, 0 }},
		{name: "empty hash", mutate: func(e *CatalogEntry) { e.ContentHash = "" }, wantErr: true},
		{name: "non-hex hash", mutate: func(e *CatalogEntry) { e.ContentHash = "not-hex!" }, wantErr: true},
		{name: "negative size", mutate: func(e *CatalogEntry) { e.SizeBytes = -1 }, wantErr: true},
		{name: "negative width", mutate: func(e *CatalogEntry) { e.Width = -10 }, wantErr: true},
		{name: "negative height", mutate: func(e *CatalogEntry) { e.Height = -10 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := valid
			tt.mutate(&e)
			err := e.Validate()
			if tt.wantErr && err == nil {
				t.Error("Validate() expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Validate() unexpected error: %v", err)
			}
		})
	}
}

// TestEntryShard tests that an entry's shard matches its hash bucket
func TestEntryShard(t *testing.T) {
	t.Parallel()

	for _, hash := range []string{"00ff", "5abc", "a000", "f1f2"} {
		e := CatalogEntry{ContentHash: hash}
		if got, want := e.Shard(), BucketForHash(hash); got != want {
			t.Errorf("Shard() for %q = %d, want %d", hash, got, want)
		}
	}
}
