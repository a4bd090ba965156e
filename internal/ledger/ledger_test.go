package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tractorcare/fieldsync/internal/pending"
	"github.com/tractorcare/fieldsync/internal/tractorcare"
)

type fakeHistory struct {
	records []tractorcare.UsageRecord
	err     error
	calls   int
}

func (f *fakeHistory) UsageHistory(ctx context.Context, tractorID string, limit int) ([]tractorcare.UsageRecord, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.records, nil
}

func day(d int) time.Time {
	return time.Date(2025, time.March, d, 0, 0, 0, 0, time.UTC)
}

func TestRecordsMergeRemoteThenPending(t *testing.T) {
	store := pending.NewMemoryStore()
	store.Enqueue("TR001", 1460, "harvest")
	client := &fakeHistory{records: []tractorcare.UsageRecord{
		{Date: day(2), StartHours: 1450, EndHours: 1455, HoursUsed: 5},
		{Date: day(1), StartHours: 1445, EndHours: 1450, HoursUsed: 5},
	}}
	ledger := NewLedger(Options{Client: client, Store: store})

	records, err := ledger.Records(context.Background(), "TR001")
	if err != nil {
		t.Fatalf("records failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected remote+pending = 3, got %d", len(records))
	}
	if !records[0].Date.Equal(day(1)) || !records[1].Date.Equal(day(2)) {
		t.Fatalf("remote records not sorted ascending: %v, %v", records[0].Date, records[1].Date)
	}
	if records[0].Origin != OriginRemote || records[2].Origin != OriginPendingLocal {
		t.Fatalf("unexpected origins: %s, %s", records[0].Origin, records[2].Origin)
	}
	last := records[2]
	if last.EndHours != 1460 || last.Notes != "harvest" || last.SyncState != pending.StateQueued {
		t.Fatalf("pending projection wrong: %+v", last)
	}
	if last.StartHours != nil || last.HoursUsed != nil {
		t.Fatalf("pending records carry no delta until the server reconciles: %+v", last)
	}
	if records[0].StartHours == nil || *records[0].StartHours != 1445 {
		t.Fatalf("remote start hours lost: %+v", records[0])
	}
}

func TestRecordsFallBackToLastKnownOnFetchError(t *testing.T) {
	store := pending.NewMemoryStore()
	client := &fakeHistory{records: []tractorcare.UsageRecord{
		{Date: day(1), StartHours: 1445, EndHours: 1450, HoursUsed: 5},
	}}
	ledger := NewLedger(Options{Client: client, Store: store})

	if _, err := ledger.Records(context.Background(), "TR001"); err != nil {
		t.Fatalf("warm-up fetch failed: %v", err)
	}

	client.err = tractorcare.ErrUnreachable
	store.Enqueue("TR001", 1455, "")
	records, err := ledger.Records(context.Background(), "TR001")
	if err != nil {
		t.Fatalf("fetch error must not fail the merged view: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected cached remote + pending, got %d records", len(records))
	}
	if records[0].Origin != OriginRemote || records[0].EndHours != 1450 {
		t.Fatalf("cached remote record lost: %+v", records[0])
	}
}

func TestRecordsWithNoRemoteAndNoCache(t *testing.T) {
	store := pending.NewMemoryStore()
	store.Enqueue("TR001", 1455, "")
	client := &fakeHistory{err: errors.New("boom")}
	ledger := NewLedger(Options{Client: client, Store: store})

	records, err := ledger.Records(context.Background(), "TR001")
	if err != nil {
		t.Fatalf("records failed: %v", err)
	}
	if len(records) != 1 || records[0].Origin != OriginPendingLocal {
		t.Fatalf("expected pending-only view, got %+v", records)
	}
}

func TestLastKnownIsScopedPerTractor(t *testing.T) {
	store := pending.NewMemoryStore()
	client := &fakeHistory{records: []tractorcare.UsageRecord{
		{Date: day(1), EndHours: 1450},
	}}
	ledger := NewLedger(Options{Client: client, Store: store})

	if _, err := ledger.Records(context.Background(), "TR001"); err != nil {
		t.Fatalf("warm-up fetch failed: %v", err)
	}

	client.err = tractorcare.ErrTimeout
	records, err := ledger.Records(context.Background(), "TR002")
	if err != nil {
		t.Fatalf("records failed: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("TR002 must not see TR001's cache, got %+v", records)
	}
}
