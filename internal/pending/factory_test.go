package pending

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestBuildStoreFromDSNMemory(t *testing.T) {
	store, err := BuildStoreFromDSN("memory://")
	if err != nil {
		t.Fatalf("memory dsn failed: %v", err)
	}
	if _, ok := store.(*MemoryStore); !ok {
		t.Fatalf("expected memory store, got %T", store)
	}
}

func TestBuildStoreFromDSNFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	store, err := BuildStoreFromDSN("file://" + path)
	if err != nil {
		t.Fatalf("file dsn failed: %v", err)
	}
	if _, ok := store.(*fileStore); !ok {
		t.Fatalf("expected file store, got %T", store)
	}
}

func TestBuildStoreFromDSNBarePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	store, err := BuildStoreFromDSN(path)
	if err != nil {
		t.Fatalf("bare path dsn failed: %v", err)
	}
	if _, ok := store.(*fileStore); !ok {
		t.Fatalf("expected file store, got %T", store)
	}
}

func TestBuildStoreFromDSNPostgres(t *testing.T) {
	store, err := BuildStoreFromDSN("postgres://localhost:5432/fieldsync")
	if err != nil {
		t.Fatalf("postgres dsn failed: %v", err)
	}
	if _, ok := store.(*PostgresStore); !ok {
		t.Fatalf("expected postgres store, got %T", store)
	}
}

func TestBuildStoreFromDSNRejectsUnsupportedScheme(t *testing.T) {
	if _, err := BuildStoreFromDSN("carrierpigeon://coop"); err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}
	if _, err := BuildStoreFromDSN("redis://localhost"); !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("expected ErrNotImplemented for redis, got %v", err)
	}
}

func TestRegisteredFactoryTakesPrecedence(t *testing.T) {
	marker := NewMemoryStore()
	RegisterStoreFactory("teststore", func(dsn string) (Store, error) {
		return marker, nil
	})
	store, err := BuildStoreFromDSN("teststore://anything")
	if err != nil {
		t.Fatalf("registered factory failed: %v", err)
	}
	if store != Store(marker) {
		t.Fatalf("expected registered factory's store")
	}
}
