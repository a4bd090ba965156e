package pending

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestMemoryStorePreservesInsertionOrder(t *testing.T) {
	store := NewMemoryStore()
	first, err := store.Enqueue("TR001", 1450, "plowing")
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	second, err := store.Enqueue("TR001", 1455, "")
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	entries, err := store.List("TR001")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].LocalID != first.LocalID || entries[1].LocalID != second.LocalID {
		t.Fatalf("entries out of insertion order: %v then %v", entries[0].LocalID, entries[1].LocalID)
	}
	if entries[0].State != StateQueued {
		t.Fatalf("expected queued state, got %s", entries[0].State)
	}
	if entries[0].IdempotencyKey == "" || entries[0].IdempotencyKey == entries[1].IdempotencyKey {
		t.Fatalf("expected distinct idempotency keys")
	}
}

func TestMemoryStoreRejectsSecondSyncing(t *testing.T) {
	store := NewMemoryStore()
	first, _ := store.Enqueue("TR001", 1450, "")
	second, _ := store.Enqueue("TR001", 1455, "")
	if err := store.MarkSyncing(first.LocalID); err != nil {
		t.Fatalf("mark syncing failed: %v", err)
	}
	if err := store.MarkSyncing(second.LocalID); !errors.Is(err, ErrSyncInFlight) {
		t.Fatalf("expected ErrSyncInFlight, got %v", err)
	}
	if err := store.MarkSynced(first.LocalID); err != nil {
		t.Fatalf("mark synced failed: %v", err)
	}
	if err := store.MarkSyncing(second.LocalID); err != nil {
		t.Fatalf("expected syncing to succeed after first cleared: %v", err)
	}
}

func TestMemoryStoreMarkFailedKeepsEntryQueued(t *testing.T) {
	store := NewMemoryStore()
	entry, _ := store.Enqueue("TR001", 1450, "")
	if err := store.MarkSyncing(entry.LocalID); err != nil {
		t.Fatalf("mark syncing failed: %v", err)
	}
	if err := store.MarkFailed(entry.LocalID, "server rejected: 500"); err != nil {
		t.Fatalf("mark failed failed: %v", err)
	}
	entries, _ := store.List("TR001")
	if len(entries) != 1 {
		t.Fatalf("expected failed entry to remain, got %d entries", len(entries))
	}
	if entries[0].State != StateFailed || entries[0].FailReason != "server rejected: 500" {
		t.Fatalf("unexpected failed entry: %+v", entries[0])
	}
}

func TestMemoryStoreClearAllIsScopedToTractor(t *testing.T) {
	store := NewMemoryStore()
	store.Enqueue("TR001", 1450, "")
	store.Enqueue("TR001", 1455, "")
	store.Enqueue("TR002", 800, "")
	removed, err := store.ClearAll("TR001")
	if err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}
	if count, _ := store.Count("TR002"); count != 1 {
		t.Fatalf("expected TR002 queue untouched, got %d", count)
	}
}

func TestClearAllRollsBackOnPersistFailure(t *testing.T) {
	store := NewMemoryStore()
	store.Enqueue("TR001", 1450, "")
	store.Enqueue("TR001", 1455, "")
	store.persist = func([]Entry) error {
		return errors.New("disk full")
	}
	if _, err := store.ClearAll("TR001"); err == nil {
		t.Fatalf("expected persist failure to surface")
	}
	store.persist = nil
	entries, _ := store.List("TR001")
	if len(entries) != 2 {
		t.Fatalf("expected entries restored after failed clear, got %d", len(entries))
	}
}

func TestMemoryStoreTractorIDsSorted(t *testing.T) {
	store := NewMemoryStore()
	store.Enqueue("TR002", 800, "")
	store.Enqueue("TR001", 1450, "")
	ids, err := store.TractorIDs()
	if err != nil {
		t.Fatalf("tractor ids failed: %v", err)
	}
	if len(ids) != 2 || ids[0] != "TR001" || ids[1] != "TR002" {
		t.Fatalf("unexpected tractor ids: %v", ids)
	}
}

func TestFileStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pending-queue.json")
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("new file store failed: %v", err)
	}
	first, err := store.Enqueue("TR001", 1450, "plowing")
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if _, err := store.Enqueue("TR001", 1455, ""); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	reopened, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("reopen file store failed: %v", err)
	}
	entries, err := reopened.List("TR001")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries after reopen, got %d", len(entries))
	}
	if entries[0].LocalID != first.LocalID {
		t.Fatalf("expected first entry %s first, got %s", first.LocalID, entries[0].LocalID)
	}
	if entries[0].IdempotencyKey != first.IdempotencyKey {
		t.Fatalf("idempotency key did not survive reopen")
	}
}

func TestFileStoreRequeuesSyncingOnReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pending-queue.json")
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("new file store failed: %v", err)
	}
	entry, _ := store.Enqueue("TR001", 1450, "")
	if err := store.MarkSyncing(entry.LocalID); err != nil {
		t.Fatalf("mark syncing failed: %v", err)
	}

	reopened, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("reopen file store failed: %v", err)
	}
	entries, _ := reopened.List("TR001")
	if len(entries) != 1 || entries[0].State != StateQueued {
		t.Fatalf("expected stranded syncing entry to be requeued, got %+v", entries)
	}
}

func TestEnqueueRejectsInvalidInput(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.Enqueue("", 100, ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty tractor id, got %v", err)
	}
	if _, err := store.Enqueue("TR001", -1, ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for negative hours, got %v", err)
	}
}
