package memstore

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/mhbvr/photocat"
)

// TestPutProbeGet tests the basic object lifecycle
func TestPutProbeGet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := New()
	data := []byte("shard content")

	putToken, err := store.Put(ctx, "shard-0", data)
	if err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	probe, err := store.Probe(ctx, "shard-0")
	if err != nil {
		t.Fatalf("Probe() failed: %v", err)
	}
	if !probe.Exists {
		t.Fatal("Probe() Exists = false, want true")
	}
	if probe.Token != putToken {
		t.Errorf("Probe() token = %q, Put() returned %q", probe.Token, putToken)
	}
	if probe.Size != int64(len(data)) {
		t.Errorf("Probe() size = %d, want %d", probe.Size, len(data))
	}

	got, getToken, err := store.Get(ctx, "shard-0")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("Get() = %q, want %q", got, data)
	}
	if getToken != putToken {
		t.Errorf("Get() token = %q, want %q", getToken, putToken)
	}
}

// TestMissingObject tests probe and get behavior for absent keys
func TestMissingObject(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := New()

	probe, err := store.Probe(ctx, "nope")
	if err != nil {
		t.Fatalf("Probe() failed: %v", err)
	}
	if probe.Exists {
		t.Error("Probe() Exists = true for missing object")
	}

	_, _, err = store.Get(ctx, "nope")
	if !errors.Is(err, photocat.ErrObjectNotFound) {
		t.Errorf("Get() error = %v, want ErrObjectNotFound", err)
	}
}

// TestTokenChangesOnPut tests that rewriting a key changes its token
func TestTokenChangesOnPut(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := New()

	first, err := store.Put(ctx, "manifest", []byte("v1"))
	if err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	second, err := store.Put(ctx, "manifest", []byte("v2"))
	if err != nil {
		t.Fatalf("second Put() failed: %v", err)
	}
	if first == second {
		t.Errorf("token unchanged after rewrite: %q", first)
	}
}

// TestDelete tests key removal and its idempotency
func TestDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := New()

	if _, err := store.Put(ctx, "manifest", []byte("{}")); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	if err := store.Delete(ctx, "manifest"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}

	probe, err := store.Probe(ctx, "manifest")
	if err != nil {
		t.Fatalf("Probe() failed: %v", err)
	}
	if probe.Exists {
		t.Error("Probe() Exists = true after Delete")
	}

	if err := store.Delete(ctx, "manifest"); err != nil {
		t.Errorf("Delete() of absent key = %v, want nil", err)
	}
}

// TestSetError tests failure injection
func TestSetError(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := New()
	if _, err := store.Put(ctx, "a", []byte("x")); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	boom := errors.New("network down")
	store.SetError(boom)
	if _, err := store.Probe(ctx, "a"); !errors.Is(err, boom) {
		t.Errorf("Probe() error = %v, want injected error", err)
	}
	if _, _, err := store.Get(ctx, "a"); !errors.Is(err, boom) {
		t.Errorf("Get() error = %v, want injected error", err)
	}
	if _, err := store.Put(ctx, "a", nil); !errors.Is(err, boom) {
		t.Errorf("Put() error = %v, want injected error", err)
	}
	if err := store.Delete(ctx, "a"); !errors.Is(err, boom) {
		t.Errorf("Delete() error = %v, want injected error", err)
	}

	store.SetError(nil)
	if _, err := store.Probe(ctx, "a"); err != nil {
		t.Errorf("Probe() after clearing error failed: %v", err)
	}
}

// TestCounts tests operation counting
func TestCounts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := New()

	store.Put(ctx, "a", []byte("x"))
	store.Probe(ctx, "a")
	store.Probe(ctx, "b")
	store.Get(ctx, "a")

	probes, gets, puts := store.Counts()
	if probes != 2 || gets != 1 || puts != 1 {
		t.Errorf("Counts() = %d/%d/%d, want 2/1/1", probes, gets, puts)
	}

	store.ResetCounts()
	probes, gets, puts = store.Counts()
	if probes != 0 || gets != 0 || puts != 0 {
		t.Errorf("Counts() after reset = %d/%d/%d, want zeros", probes, gets, puts)
	}
}
