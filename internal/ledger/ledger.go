// Package ledger produces the display-ready usage list: confirmed remote
// history merged with the locally pending queue. The merged view is derived
// on every read and never persisted.
package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tractorcare/fieldsync/internal/pending"
	"github.com/tractorcare/fieldsync/internal/tractorcare"
)

type Logger interface {
	Printf(format string, args ...any)
}

type Origin string

const (
	OriginRemote       Origin = "remote"
	OriginPendingLocal Origin = "pending_local"
)

// Record is one merged view item. StartHours and HoursUsed are nil for
// pending items: the true delta is only known once the server reconciles the
// absolute total.
type Record struct {
	Date       time.Time         `json:"date"`
	StartHours *float64          `json:"start_hours,omitempty"`
	EndHours   float64           `json:"end_hours"`
	HoursUsed  *float64          `json:"hours_used,omitempty"`
	Notes      string            `json:"notes,omitempty"`
	Origin     Origin            `json:"origin"`
	LocalID    string            `json:"local_id,omitempty"`
	SyncState  pending.SyncState `json:"sync_state,omitempty"`
	FailReason string            `json:"fail_reason,omitempty"`
}

type HistoryFetcher interface {
	UsageHistory(ctx context.Context, tractorID string, limit int) ([]tractorcare.UsageRecord, error)
}

type Options struct {
	Client       HistoryFetcher
	Store        pending.Store
	FetchTimeout time.Duration
	HistoryLimit int
	Logger       Logger
}

type Ledger struct {
	client       HistoryFetcher
	store        pending.Store
	fetchTimeout time.Duration
	historyLimit int
	logger       Logger

	mu        sync.Mutex
	lastKnown map[string][]tractorcare.UsageRecord
}

func NewLedger(opts Options) *Ledger {
	fetchTimeout := opts.FetchTimeout
	if fetchTimeout <= 0 {
		fetchTimeout = 15 * time.Second
	}
	return &Ledger{
		client:       opts.Client,
		store:        opts.Store,
		fetchTimeout: fetchTimeout,
		historyLimit: opts.HistoryLimit,
		logger:       opts.Logger,
	}
}

// Records returns remote history (falling back to the last successful fetch
// on error, or empty if none) followed by every pending entry projected as a
// synthetic record, in queue order.
func (l *Ledger) Records(ctx context.Context, tractorID string) ([]Record, error) {
	remote := l.fetchRemote(ctx, tractorID)

	entries, err := l.store.List(tractorID)
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(remote)+len(entries))
	for _, item := range remote {
		item := item
		records = append(records, Record{
			Date:       item.Date,
			StartHours: &item.StartHours,
			EndHours:   item.EndHours,
			HoursUsed:  &item.HoursUsed,
			Notes:      item.Notes,
			Origin:     OriginRemote,
		})
	}
	for _, entry := range entries {
		records = append(records, Record{
			Date:       entry.CreatedAt,
			EndHours:   entry.EndHours,
			Notes:      entry.Notes,
			Origin:     OriginPendingLocal,
			LocalID:    entry.LocalID,
			SyncState:  entry.State,
			FailReason: entry.FailReason,
		})
	}
	return records, nil
}

func (l *Ledger) fetchRemote(ctx context.Context, tractorID string) []tractorcare.UsageRecord {
	fetchCtx, cancel := context.WithTimeout(ctx, l.fetchTimeout)
	defer cancel()
	remote, err := l.client.UsageHistory(fetchCtx, tractorID, l.historyLimit)
	if err != nil {
		l.logf("usage history for %s unavailable, using last known: %v", tractorID, err)
		l.mu.Lock()
		defer l.mu.Unlock()
		return l.lastKnown[tractorID]
	}
	sort.SliceStable(remote, func(i, j int) bool {
		return remote[i].Date.Before(remote[j].Date)
	})
	l.mu.Lock()
	if l.lastKnown == nil {
		l.lastKnown = map[string][]tractorcare.UsageRecord{}
	}
	l.lastKnown[tractorID] = remote
	l.mu.Unlock()
	return remote
}

func (l *Ledger) logf(format string, args ...any) {
	if l.logger == nil {
		return
	}
	l.logger.Printf(format, args...)
}
