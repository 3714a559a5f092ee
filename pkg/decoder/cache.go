package decoder

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/product-labo/Meta-sub005/pkg/storage"
)

// Storage key prefix for cached signatures
const prefixSignature = "/sig/fn/"

// KVSignatureCache persists signature entries in a key/value store
type KVSignatureCache struct {
	kv storage.KVStore
}

// NewKVSignatureCache creates a signature cache over kv
func NewKVSignatureCache(kv storage.KVStore) *KVSignatureCache {
	return &KVSignatureCache{kv: kv}
}

func signatureKey(selector string) []byte {
	return []byte(prefixSignature + selector)
}

// Load returns every cached entry, marked with the cache source
func (c *KVSignatureCache) Load() ([]SignatureEntry, error) {
	var (
		entries []SignatureEntry
		bad     error
	)
	err := c.kv.Iterate(context.Background(), []byte(prefixSignature), func(key, value []byte) bool {
		var entry SignatureEntry
		if err := json.Unmarshal(value, &entry); err != nil {
			bad = fmt.Errorf("corrupt signature entry %s: %w", key, err)
			return false
		}
		entry.Source = SourceCache
		entries = append(entries, entry)
		return true
	})
	if err != nil {
		return nil, err
	}
	if bad != nil {
		return nil, bad
	}
	return entries, nil
}

// Store writes an entry keyed by its selector
func (c *KVSignatureCache) Store(entry SignatureEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal signature entry: %w", err)
	}
	return c.kv.Put(context.Background(), signatureKey(entry.Selector), data)
}
