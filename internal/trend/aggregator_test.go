package trend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tractorcare/fieldsync/internal/baseline"
	"github.com/tractorcare/fieldsync/internal/tractorcare"
)

type fakePredictions struct {
	records []tractorcare.PredictionRecord
	err     error
}

func (f *fakePredictions) Predictions(ctx context.Context, tractorID string) ([]tractorcare.PredictionRecord, error) {
	return f.records, f.err
}

type fakeBaselineFetcher struct {
	status map[string]any
	err    error
}

func (f *fakeBaselineFetcher) BaselineStatus(ctx context.Context, tractorID string) (map[string]any, error) {
	return f.status, f.err
}

func (f *fakeBaselineFetcher) BaselineHistory(ctx context.Context, tractorID string) ([]map[string]any, error) {
	return nil, errors.New("no history")
}

func deviation(v float64) *float64 { return &v }

func day(d int) time.Time {
	return time.Date(2025, time.March, d, 0, 0, 0, 0, time.UTC)
}

func TestAggregateSortsPointsAscending(t *testing.T) {
	client := &fakePredictions{records: []tractorcare.PredictionRecord{
		{ID: "p3", CreatedAt: day(3), BaselineDeviation: deviation(0.3), EngineHours: 1470},
		{ID: "p1", CreatedAt: day(1), BaselineDeviation: deviation(0.1), EngineHours: 1450},
		{ID: "p2", CreatedAt: day(2), BaselineDeviation: deviation(0.2), EngineHours: 1460},
	}}
	trend, err := NewAggregator(Options{Client: client}).Aggregate(context.Background(), "TR001")
	if err != nil {
		t.Fatalf("aggregate failed: %v", err)
	}
	if len(trend.Points) != 3 {
		t.Fatalf("expected 3 points, got %d", len(trend.Points))
	}
	for i, want := range []string{"p1", "p2", "p3"} {
		if trend.Points[i].PredictionID != want {
			t.Fatalf("point %d: expected %s, got %s", i, want, trend.Points[i].PredictionID)
		}
	}
}

func TestAggregateStatsBounds(t *testing.T) {
	client := &fakePredictions{records: []tractorcare.PredictionRecord{
		{ID: "p1", CreatedAt: day(1), BaselineDeviation: deviation(-0.4)},
		{ID: "p2", CreatedAt: day(2), BaselineDeviation: deviation(0.2)},
		{ID: "p3", CreatedAt: day(3), BaselineDeviation: deviation(0.8)},
	}}
	trend, err := NewAggregator(Options{Client: client}).Aggregate(context.Background(), "TR001")
	if err != nil {
		t.Fatalf("aggregate failed: %v", err)
	}
	stats := trend.Stats
	if stats.Min != -0.4 || stats.Max != 0.8 {
		t.Fatalf("unexpected bounds: %+v", stats)
	}
	if stats.Average < stats.Min || stats.Average > stats.Max {
		t.Fatalf("average outside bounds: %+v", stats)
	}
	want := (-0.4 + 0.2 + 0.8) / 3
	if diff := stats.Average - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected average %v, got %v", want, stats.Average)
	}
}

func TestAggregateEmptyPointSetUsesDefaultBounds(t *testing.T) {
	client := &fakePredictions{}
	trend, err := NewAggregator(Options{Client: client}).Aggregate(context.Background(), "TR001")
	if err != nil {
		t.Fatalf("aggregate failed: %v", err)
	}
	if trend.Stats != (Stats{Min: 0, Max: 1, Average: 0}) {
		t.Fatalf("expected default bounds, got %+v", trend.Stats)
	}
	if !trend.ReferenceDate.IsZero() {
		t.Fatalf("expected zero reference date, got %v", trend.ReferenceDate)
	}
}

func TestAggregateSkipsPointsWithoutDeviation(t *testing.T) {
	client := &fakePredictions{records: []tractorcare.PredictionRecord{
		{ID: "p1", CreatedAt: day(1), BaselineDeviation: nil},
		{ID: "p2", CreatedAt: day(2), BaselineDeviation: deviation(0.5)},
	}}
	trend, err := NewAggregator(Options{Client: client}).Aggregate(context.Background(), "TR001")
	if err != nil {
		t.Fatalf("aggregate failed: %v", err)
	}
	if len(trend.Points) != 1 || trend.Points[0].PredictionID != "p2" {
		t.Fatalf("pre-baseline predictions must be skipped: %+v", trend.Points)
	}
}

func TestAggregateFetchFailureIsFatal(t *testing.T) {
	client := &fakePredictions{err: tractorcare.ErrTimeout}
	_, err := NewAggregator(Options{Client: client}).Aggregate(context.Background(), "TR001")
	if err == nil {
		t.Fatalf("expected error when predictions are unavailable")
	}
	if !errors.Is(err, tractorcare.ErrTimeout) {
		t.Fatalf("timeout classification lost through wrapping: %v", err)
	}
}

func TestAggregateReferenceDatePrefersBaseline(t *testing.T) {
	resolver := baseline.NewResolver(baseline.Options{Client: &fakeBaselineFetcher{
		status: map[string]any{"status": "active", "baseline_id": "b1", "created_at": "2025-02-10T00:00:00Z"},
	}})
	client := &fakePredictions{records: []tractorcare.PredictionRecord{
		{ID: "p1", CreatedAt: day(1), BaselineDeviation: deviation(0.1)},
	}}
	trend, err := NewAggregator(Options{Client: client, Resolver: resolver}).Aggregate(context.Background(), "TR001")
	if err != nil {
		t.Fatalf("aggregate failed: %v", err)
	}
	want := time.Date(2025, time.February, 10, 0, 0, 0, 0, time.UTC)
	if !trend.ReferenceDate.Equal(want) {
		t.Fatalf("expected baseline creation date, got %v", trend.ReferenceDate)
	}
	if got := trend.DaysSince(trend.Points[0]); got != 19 {
		t.Fatalf("expected 19 days since baseline, got %v", got)
	}
	if trend.Baseline.Tier != baseline.TierPrimaryStatus {
		t.Fatalf("baseline metadata not carried: %+v", trend.Baseline)
	}
}

func TestAggregateBaselineFailureStillProducesTrend(t *testing.T) {
	resolver := baseline.NewResolver(baseline.Options{Client: &fakeBaselineFetcher{
		err: tractorcare.ErrUnreachable,
	}})
	client := &fakePredictions{records: []tractorcare.PredictionRecord{
		{ID: "p1", CreatedAt: day(5), BaselineDeviation: deviation(0.1)},
	}}
	trend, err := NewAggregator(Options{Client: client, Resolver: resolver}).Aggregate(context.Background(), "TR001")
	if err != nil {
		t.Fatalf("baseline failure must not fail aggregation: %v", err)
	}
	if trend.Baseline.Tier != baseline.TierUnresolved {
		t.Fatalf("expected unresolved baseline, got %s", trend.Baseline.Tier)
	}
	if !trend.ReferenceDate.Equal(day(5)) {
		t.Fatalf("expected earliest point as reference, got %v", trend.ReferenceDate)
	}
}
