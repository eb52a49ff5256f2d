// Package memory implements an in-process kv.Store, used for tests
// and for the single-node demonstration CLI. It mirrors the shape of
// the teacher's in-memory tree/nullifier stores: a mutex-guarded map
// keyed by the colon-joined key string.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/ccoin/shield/internal/crypto"
	"github.com/ccoin/shield/internal/kv"
)

// Store is an in-memory implementation of kv.Store.
type Store struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{data: make(map[string][]byte)}
}

func (s *Store) Get(ctx context.Context, key kv.Key) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key.String()]
	if !ok {
		return nil, kv.ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (s *Store) Put(ctx context.Context, key kv.Key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := make([]byte, len(value))
	copy(stored, value)
	s.data[key.String()] = stored
	return nil
}

// GetEncrypted reads the ciphertext at key and decrypts it with
// encKey (a 32-byte AES-256 key derived from the caller's master
// public key or user key, per §6's wallet persistence layout).
func (s *Store) GetEncrypted(ctx context.Context, key kv.Key, encKey []byte) ([]byte, error) {
	ct, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return crypto.DecryptChunk(encKey, ct)
}

func (s *Store) PutEncrypted(ctx context.Context, key kv.Key, encKey []byte, value []byte) error {
	ct, err := crypto.EncryptChunk(encKey, value)
	if err != nil {
		return err
	}
	return s.Put(ctx, key, ct)
}

func (s *Store) Batch(ctx context.Context, ops []kv.Op) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range ops {
		stored := make([]byte, len(op.Value))
		copy(stored, op.Value)
		s.data[op.Key.String()] = stored
	}
	return nil
}

func (s *Store) CountNamespace(ctx context.Context, prefix kv.Key) (int, error) {
	p := prefix.String()
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for k := range s.data {
		if strings.HasPrefix(k, p) {
			count++
		}
	}
	return count, nil
}

func (s *Store) StreamNamespace(ctx context.Context, prefix kv.Key) (<-chan kv.Key, <-chan error) {
	keys := make(chan kv.Key)
	errs := make(chan error, 1)

	p := prefix.String()
	s.mu.RLock()
	var matched []string
	for k := range s.data {
		if strings.HasPrefix(k, p) {
			matched = append(matched, k)
		}
	}
	s.mu.RUnlock()
	sort.Strings(matched)

	go func() {
		defer close(keys)
		defer close(errs)
		for _, k := range matched {
			select {
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			case keys <- strings.Split(k, ":"):
			}
		}
	}()

	return keys, errs
}
