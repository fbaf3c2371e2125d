package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
)

// MemoryStore provides an in-memory implementation of the Store interface,
// intended for development and testing scenarios. Keys are held as SHA-256
// digests so raw secrets never sit in memory longer than the lookup.
type MemoryStore struct {
	mu   sync.RWMutex
	keys map[string]*Principal
}

// NewMemoryStore initialises the store with the provided seed keys.
func NewMemoryStore(seeds []Seed) (*MemoryStore, error) {
	store := &MemoryStore{keys: make(map[string]*Principal)}
	for _, seed := range seeds {
		if err := store.ApplySeed(context.Background(), seed); err != nil {
			return nil, err
		}
	}
	return store, nil
}

// ApplySeed implements the SeedWriter interface.
func (s *MemoryStore) ApplySeed(_ context.Context, seed Seed) error {
	key := strings.TrimSpace(seed.Key)
	if key == "" {
		return nil
	}
	name := strings.TrimSpace(seed.Name)
	if name == "" {
		name = "key-" + HashKey(key)[:8]
	}
	principal := &Principal{
		Name:     name,
		Scopes:   dedupeStrings(seed.Scopes),
		Disabled: seed.Disabled,
	}
	principal.normalise()

	s.mu.Lock()
	s.keys[HashKey(key)] = principal
	s.mu.Unlock()
	return nil
}

// FindKey implements the Store interface.
func (s *MemoryStore) FindKey(_ context.Context, key string) (*Principal, error) {
	s.mu.RLock()
	principal, ok := s.keys[HashKey(strings.TrimSpace(key))]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrInvalidKey
	}
	return principal.Clone(), nil
}

// HashKey 返回 API 密钥的十六进制摘要，存储层以摘要为主键。
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// dedupeStrings 去重并排序字符串列表。
func dedupeStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	var result []string
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		lowered := strings.ToLower(trimmed)
		if _, ok := seen[lowered]; ok {
			continue
		}
		seen[lowered] = struct{}{}
		result = append(result, lowered)
	}
	sort.Strings(result)
	return result
}
