// Package pending is the durable queue of usage-log entries that have not yet
// been confirmed by the remote service. Entries drain strictly oldest-first
// per tractor because every submission carries an absolute hour total.
package pending

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrNotFound       = errors.New("entry not found")
	ErrSyncInFlight   = errors.New("another entry is already syncing")
	ErrNotImplemented = errors.New("not implemented")
)

type SyncState string

const (
	StateQueued  SyncState = "queued"
	StateSyncing SyncState = "syncing"
	StateFailed  SyncState = "failed"
)

// Entry is one queued usage-log mutation. EndHours is the absolute meter
// reading after the operation, not a delta. The idempotency key is generated
// client-side so a retried submission after a timeout cannot double-apply.
type Entry struct {
	LocalID        string    `json:"local_id"`
	TractorID      string    `json:"tractor_id"`
	EndHours       float64   `json:"end_hours"`
	Notes          string    `json:"notes,omitempty"`
	IdempotencyKey string    `json:"idempotency_key"`
	CreatedAt      time.Time `json:"created_at"`
	State          SyncState `json:"state"`
	FailReason     string    `json:"fail_reason,omitempty"`
}

// Store is the pending-operation queue. Implementations must preserve
// insertion order per tractor, survive restarts (memory excepted), and allow
// at most one entry in StateSyncing at any time.
type Store interface {
	Enqueue(tractorID string, endHours float64, notes string) (Entry, error)
	MarkSyncing(localID string) error
	MarkSynced(localID string) error
	MarkFailed(localID, reason string) error
	List(tractorID string) ([]Entry, error)
	ListAll() ([]Entry, error)
	TractorIDs() ([]string, error)
	Count(tractorID string) (int, error)
	ClearAll(tractorID string) (int, error)
	Close() error
}

type MemoryStore struct {
	mu      sync.Mutex
	entries []Entry
	persist func([]Entry) error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Enqueue(tractorID string, endHours float64, notes string) (Entry, error) {
	tractorID = strings.TrimSpace(tractorID)
	if tractorID == "" || endHours < 0 {
		return Entry{}, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := Entry{
		LocalID:        "op_" + uuid.NewString(),
		TractorID:      tractorID,
		EndHours:       endHours,
		Notes:          notes,
		IdempotencyKey: uuid.NewString(),
		CreatedAt:      time.Now().UTC(),
		State:          StateQueued,
	}
	s.entries = append(s.entries, entry)
	if err := s.persistLocked(); err != nil {
		s.entries = s.entries[:len(s.entries)-1]
		return Entry{}, err
	}
	return entry, nil
}

func (s *MemoryStore) MarkSyncing(localID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(localID)
	if idx < 0 {
		return ErrNotFound
	}
	for i := range s.entries {
		if i != idx && s.entries[i].State == StateSyncing {
			return ErrSyncInFlight
		}
	}
	previous := s.entries[idx].State
	s.entries[idx].State = StateSyncing
	if err := s.persistLocked(); err != nil {
		s.entries[idx].State = previous
		return err
	}
	return nil
}

func (s *MemoryStore) MarkSynced(localID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(localID)
	if idx < 0 {
		return ErrNotFound
	}
	removed := s.entries[idx]
	s.entries = append(s.entries[:idx], s.entries[idx+1:]...)
	if err := s.persistLocked(); err != nil {
		s.entries = append(s.entries[:idx], append([]Entry{removed}, s.entries[idx:]...)...)
		return err
	}
	return nil
}

func (s *MemoryStore) MarkFailed(localID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(localID)
	if idx < 0 {
		return ErrNotFound
	}
	previousState := s.entries[idx].State
	previousReason := s.entries[idx].FailReason
	s.entries[idx].State = StateFailed
	s.entries[idx].FailReason = reason
	if err := s.persistLocked(); err != nil {
		s.entries[idx].State = previousState
		s.entries[idx].FailReason = previousReason
		return err
	}
	return nil
}

func (s *MemoryStore) List(tractorID string) ([]Entry, error) {
	tractorID = strings.TrimSpace(tractorID)
	if tractorID == "" {
		return nil, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Entry
	for _, entry := range s.entries {
		if entry.TractorID == tractorID {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListAll() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...), nil
}

func (s *MemoryStore) TractorIDs() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]struct{}{}
	var ids []string
	for _, entry := range s.entries {
		if _, ok := seen[entry.TractorID]; !ok {
			seen[entry.TractorID] = struct{}{}
			ids = append(ids, entry.TractorID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) Count(tractorID string) (int, error) {
	entries, err := s.List(tractorID)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

func (s *MemoryStore) ClearAll(tractorID string) (int, error) {
	tractorID = strings.TrimSpace(tractorID)
	if tractorID == "" {
		return 0, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	previous := s.entries
	kept := make([]Entry, 0, len(s.entries))
	removed := 0
	for _, entry := range s.entries {
		if entry.TractorID == tractorID {
			removed++
			continue
		}
		kept = append(kept, entry)
	}
	s.entries = kept
	if err := s.persistLocked(); err != nil {
		s.entries = previous
		return 0, err
	}
	return removed, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) indexLocked(localID string) int {
	for i := range s.entries {
		if s.entries[i].LocalID == localID {
			return i
		}
	}
	return -1
}

func (s *MemoryStore) persistLocked() error {
	if s.persist == nil {
		return nil
	}
	return s.persist(append([]Entry(nil), s.entries...))
}

// restore replaces the in-memory state. Entries found mid-sync are requeued:
// a Syncing marker after a restart means the process died before the
// submission was confirmed, and the idempotency key makes the resend safe.
func (s *MemoryStore) restore(entries []Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make([]Entry, 0, len(entries))
	for _, entry := range entries {
		if entry.State == StateSyncing {
			entry.State = StateQueued
		}
		s.entries = append(s.entries, entry)
	}
}
