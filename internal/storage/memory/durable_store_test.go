package memory

import (
	"context"
	"errors"
	"sort"
	"testing"

	"jpyc-onchain-lab/internal/storage"
)

func TestDurableStore_SetAndGet(t *testing.T) {
	store := NewDurableStore(0)
	ctx := context.Background()

	if err := store.Set(ctx, "k1", []byte("value")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := store.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "value" {
		t.Errorf("Expected value, got %q", got)
	}

	// Returned slice must not alias the stored one
	got[0] = 'X'
	again, _ := store.Get(ctx, "k1")
	if string(again) != "value" {
		t.Errorf("Stored value was mutated through returned slice: %q", again)
	}
}

func TestDurableStore_NotFound(t *testing.T) {
	store := NewDurableStore(0)

	_, err := store.Get(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestDurableStore_CapacityExceeded(t *testing.T) {
	store := NewDurableStore(10)
	ctx := context.Background()

	if err := store.Set(ctx, "a", []byte("1234")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if got := store.Used(); got != 5 {
		t.Errorf("Expected 5 bytes used, got %d", got)
	}

	err := store.Set(ctx, "b", []byte("123456"))
	if !errors.Is(err, storage.ErrCapacityExceeded) {
		t.Fatalf("Expected ErrCapacityExceeded, got %v", err)
	}

	// Overwriting an existing key only counts the delta
	if err := store.Set(ctx, "a", []byte("123456789")); err != nil {
		t.Errorf("Overwrite within quota failed: %v", err)
	}

	if err := store.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if got := store.Used(); got != 0 {
		t.Errorf("Expected 0 bytes used after delete, got %d", got)
	}
	if err := store.Set(ctx, "b", []byte("123456")); err != nil {
		t.Errorf("Set after delete failed: %v", err)
	}
}

func TestDurableStore_Keys(t *testing.T) {
	store := NewDurableStore(0)
	ctx := context.Background()

	for _, k := range []string{"c", "a", "b"} {
		if err := store.Set(ctx, k, []byte(k)); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}
	if err := store.Delete(ctx, "missing"); err != nil {
		t.Errorf("Delete of missing key returned %v", err)
	}

	keys, err := store.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	sort.Strings(keys)
	if len(keys) != 3 || keys[0] != "a" || keys[2] != "c" {
		t.Errorf("Unexpected keys: %v", keys)
	}
}

func TestDurableStore_InvalidKey(t *testing.T) {
	store := NewDurableStore(0)

	err := store.Set(context.Background(), "", []byte("x"))
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
}
