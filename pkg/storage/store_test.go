package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// setupPebbleStore creates a temporary PebbleDB store for testing
func setupPebbleStore(t *testing.T) *PebbleStore {
	t.Helper()

	store, err := NewPebbleStore(DefaultConfig(t.TempDir()), nil)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func stores(t *testing.T) map[string]KVStore {
	return map[string]KVStore{
		"pebble": setupPebbleStore(t),
		"memory": NewMemoryStore(),
	}
}

func TestKVStoreBasicOperations(t *testing.T) {
	ctx := context.Background()

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if err := store.Put(ctx, []byte("/a/1"), []byte("one")); err != nil {
				t.Fatalf("Put() error = %v", err)
			}

			got, err := store.Get(ctx, []byte("/a/1"))
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if string(got) != "one" {
				t.Errorf("Get() = %q, want %q", got, "one")
			}

			ok, err := store.Has(ctx, []byte("/a/1"))
			if err != nil || !ok {
				t.Errorf("Has() = %v, %v; want true", ok, err)
			}

			if err := store.Delete(ctx, []byte("/a/1")); err != nil {
				t.Fatalf("Delete() error = %v", err)
			}
			if _, err := store.Get(ctx, []byte("/a/1")); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
			}
			ok, _ = store.Has(ctx, []byte("/a/1"))
			if ok {
				t.Error("Has() after delete = true")
			}
		})
	}
}

func TestKVStoreIterateOrdered(t *testing.T) {
	ctx := context.Background()

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			// Insert out of order, including a neighbouring prefix
			for _, i := range []int{3, 1, 2} {
				key := fmt.Sprintf("/q/w1/%020d", i)
				if err := store.Put(ctx, []byte(key), []byte(fmt.Sprint(i))); err != nil {
					t.Fatal(err)
				}
			}
			_ = store.Put(ctx, []byte("/q/w2/00000000000000000001"), []byte("other"))

			var seen []string
			err := store.Iterate(ctx, []byte("/q/w1/"), func(key, value []byte) bool {
				seen = append(seen, string(value))
				return true
			})
			if err != nil {
				t.Fatalf("Iterate() error = %v", err)
			}
			if fmt.Sprint(seen) != "[1 2 3]" {
				t.Errorf("Iterate() order = %v, want [1 2 3]", seen)
			}

			// Early stop
			count := 0
			_ = store.Iterate(ctx, []byte("/q/"), func(key, value []byte) bool {
				count++
				return count < 2
			})
			if count != 2 {
				t.Errorf("Iterate() did not stop early, visited %d", count)
			}
		})
	}
}

func TestKVStoreBatch(t *testing.T) {
	ctx := context.Background()

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_ = store.Put(ctx, []byte("k0"), []byte("v0"))

			batch := store.NewBatch()
			defer batch.Close()
			_ = batch.Put([]byte("k1"), []byte("v1"))
			_ = batch.Put([]byte("k2"), []byte("v2"))
			_ = batch.Delete([]byte("k0"))
			if batch.Count() != 3 {
				t.Errorf("Count() = %d, want 3", batch.Count())
			}

			// Nothing visible before commit
			if ok, _ := store.Has(ctx, []byte("k1")); ok {
				t.Error("batch write visible before Commit()")
			}

			if err := batch.Commit(); err != nil {
				t.Fatalf("Commit() error = %v", err)
			}
			for _, k := range []string{"k1", "k2"} {
				if ok, _ := store.Has(ctx, []byte(k)); !ok {
					t.Errorf("key %s missing after commit", k)
				}
			}
			if ok, _ := store.Has(ctx, []byte("k0")); ok {
				t.Error("deleted key still present after commit")
			}
		})
	}
}

func TestKVStoreClosed(t *testing.T) {
	ctx := context.Background()

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if err := store.Close(); err != nil {
				t.Fatalf("Close() error = %v", err)
			}
			if err := store.Put(ctx, []byte("k"), []byte("v")); !errors.Is(err, ErrClosed) {
				t.Errorf("Put() after close error = %v, want ErrClosed", err)
			}
			if _, err := store.Get(ctx, []byte("k")); !errors.Is(err, ErrClosed) {
				t.Errorf("Get() after close error = %v, want ErrClosed", err)
			}
		})
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{"default", DefaultConfig("/tmp/x"), false},
		{"empty path", &Config{}, true},
		{"negative cache", &Config{Path: "/tmp/x", Cache: -1}, true},
		{"negative files", &Config{Path: "/tmp/x", MaxOpenFiles: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	if _, err := NewPebbleStore(nil, nil); err == nil {
		t.Error("NewPebbleStore(nil) should fail")
	}
}

func TestPrefixUpperBound(t *testing.T) {
	if got := prefixUpperBound([]byte("/a")); string(got) != "/b" {
		t.Errorf("prefixUpperBound(/a) = %q", got)
	}
	if got := prefixUpperBound([]byte{0x01, 0xff}); len(got) != 1 || got[0] != 0x02 {
		t.Errorf("prefixUpperBound(01ff) = %x", got)
	}
	if got := prefixUpperBound([]byte{0xff}); got != nil {
		t.Errorf("prefixUpperBound(ff) = %x, want nil", got)
	}
	if got := prefixUpperBound(nil); got != nil {
		t.Errorf("prefixUpperBound(nil) = %x, want nil", got)
	}
}
