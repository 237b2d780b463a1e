// Package memstore provides an in-memory object store used in tests
// and as a scratch sync target. It counts operations so tests can
// assert how much traffic a sync produced.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/mhbvr/photocat"
)

type object struct {
	data    []byte
	version int64
}

// Store is an in-memory photocat.ObjectStore. Version tokens change on
// every Put of a key.
type Store struct {
	mu      sync.Mutex
	objects map[string]*object
	err     error

	probes int
	gets   int
	puts   int
}

var _ photocat.ObjectStore = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{objects: make(map[string]*object)}
}

// SetError makes every following operation fail with err until called
// with nil again, simulating an unreachable remote.
func (s *Store) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Counts returns how many Probe, Get and Put calls the store has seen,
// including failed ones.
func (s *Store) Counts() (probes, gets, puts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.probes, s.gets, s.puts
}

// ResetCounts zeroes the operation counters.
func (s *Store) ResetCounts() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.probes, s.gets, s.puts = 0, 0, 0
}

func token(key string, obj *object) string {
	return fmt.Sprintf("%s-v%d", key, obj.version)
}

func (s *Store) Probe(ctx context.Context, key string) (*photocat.ProbeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.probes++
	if s.err != nil {
		return nil, s.err
	}
	obj, ok := s.objects[key]
	if !ok {
		return &photocat.ProbeResult{}, nil
	}
	return &photocat.ProbeResult{
		Exists: true,
		Token:  token(key, obj),
		Size:   int64(len(obj.data)),
	}, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	if s.err != nil {
		return nil, "", s.err
	}
	obj, ok := s.objects[key]
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", photocat.ErrObjectNotFound, key)
	}
	data := make([]byte, len(obj.data))
	copy(data, obj.data)
	return data, token(key, obj), nil
}

func (s *Store) Put(ctx context.Context, key string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	if s.err != nil {
		return "", s.err
	}
	obj, ok := s.objects[key]
	if !ok {
		obj = &object{}
		s.objects[key] = obj
	}
	obj.data = make([]byte, len(data))
	copy(obj.data, data)
	obj.version++
	return token(key, obj), nil
}

// Delete removes a key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	delete(s.objects, key)
	return nil
}
