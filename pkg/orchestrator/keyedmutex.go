package orchestrator

import (
	"hash/fnv"
	"sync"
)

// KeyedMutex serialises work per key over a fixed set of shards, so keys
// in different shards never contend
type KeyedMutex struct {
	shards []sync.Mutex
}

// NewKeyedMutex creates a lock with n shards
func NewKeyedMutex(n int) *KeyedMutex {
	if n <= 0 {
		n = 64
	}
	return &KeyedMutex{shards: make([]sync.Mutex, n)}
}

// Lock locks the shard of key and returns its unlock function
func (k *KeyedMutex) Lock(key string) func() {
	m := &k.shards[k.shard(key)]
	m.Lock()
	return m.Unlock
}

func (k *KeyedMutex) shard(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(k.shards)))
}
