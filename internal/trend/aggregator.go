// Package trend turns remote prediction records plus resolved baseline
// metadata into the deviation trend the UI plots.
package trend

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/tractorcare/fieldsync/internal/baseline"
	"github.com/tractorcare/fieldsync/internal/tractorcare"
)

type Logger interface {
	Printf(format string, args ...any)
}

// Point is one plotted deviation. The point set is rebuilt whole on every
// aggregation pass, sorted ascending by date, and never mutated in place.
type Point struct {
	Date           time.Time `json:"date"`
	Deviation      float64   `json:"deviation"`
	EngineHours    float64   `json:"engine_hours"`
	PredictionID   string    `json:"prediction_id"`
	BaselineStatus string    `json:"baseline_status,omitempty"`
}

// Stats are derived axis bounds. For an empty point set they are the UI-safe
// defaults min=0, max=1, average=0.
type Stats struct {
	Min     float64 `json:"min_deviation"`
	Max     float64 `json:"max_deviation"`
	Average float64 `json:"average_deviation"`
}

type Trend struct {
	Points        []Point           `json:"points"`
	Stats         Stats             `json:"stats"`
	ReferenceDate time.Time         `json:"reference_date"`
	Baseline      baseline.Metadata `json:"-"`
}

// DaysSince positions a point relative to the trend's reference date.
func (t Trend) DaysSince(p Point) float64 {
	return p.Date.Sub(t.ReferenceDate).Hours() / 24
}

type PredictionFetcher interface {
	Predictions(ctx context.Context, tractorID string) ([]tractorcare.PredictionRecord, error)
}

type Options struct {
	Client       PredictionFetcher
	Resolver     *baseline.Resolver
	FetchTimeout time.Duration
	Logger       Logger
}

type Aggregator struct {
	client       PredictionFetcher
	resolver     *baseline.Resolver
	fetchTimeout time.Duration
	logger       Logger
}

func NewAggregator(opts Options) *Aggregator {
	fetchTimeout := opts.FetchTimeout
	if fetchTimeout <= 0 {
		fetchTimeout = 20 * time.Second
	}
	return &Aggregator{
		client:       opts.Client,
		resolver:     opts.Resolver,
		fetchTimeout: fetchTimeout,
		logger:       opts.Logger,
	}
}

// Aggregate fetches predictions and resolves the baseline. Unlike baseline
// resolution, a prediction fetch failure is fatal: without predictions there
// is nothing to plot. Callers distinguish tractorcare.ErrTimeout from other
// failures for user messaging.
func (a *Aggregator) Aggregate(ctx context.Context, tractorID string) (Trend, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, a.fetchTimeout)
	defer cancel()
	predictions, err := a.client.Predictions(fetchCtx, tractorID)
	if err != nil {
		return Trend{}, fmt.Errorf("fetching predictions for %s: %w", tractorID, err)
	}

	meta := baseline.Metadata{Tier: baseline.TierUnresolved}
	if a.resolver != nil {
		meta = a.resolver.Resolve(ctx, tractorID)
	}

	points := make([]Point, 0, len(predictions))
	for _, record := range predictions {
		if record.BaselineDeviation == nil {
			continue
		}
		points = append(points, Point{
			Date:           record.CreatedAt,
			Deviation:      *record.BaselineDeviation,
			EngineHours:    record.EngineHours,
			PredictionID:   record.ID,
			BaselineStatus: record.BaselineStatus,
		})
	}
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Date.Before(points[j].Date)
	})

	trend := Trend{
		Points:        points,
		Stats:         computeStats(points),
		ReferenceDate: referenceDate(meta, points),
		Baseline:      meta,
	}
	a.logf("trend for %s: %d points, baseline tier %s", tractorID, len(points), meta.Tier)
	return trend, nil
}

// referenceDate prefers the resolved baseline's creation date; with no
// baseline it falls back to the earliest point, so the trend is renderable
// even before a baseline exists.
func referenceDate(meta baseline.Metadata, points []Point) time.Time {
	if meta.CreatedAt != nil {
		return *meta.CreatedAt
	}
	if len(points) > 0 {
		return points[0].Date
	}
	return time.Time{}
}

func computeStats(points []Point) Stats {
	if len(points) == 0 {
		return Stats{Min: 0, Max: 1, Average: 0}
	}
	min := points[0].Deviation
	max := points[0].Deviation
	sum := 0.0
	for _, p := range points {
		if p.Deviation < min {
			min = p.Deviation
		}
		if p.Deviation > max {
			max = p.Deviation
		}
		sum += p.Deviation
	}
	return Stats{
		Min:     min,
		Max:     max,
		Average: sum / float64(len(points)),
	}
}

func (a *Aggregator) logf(format string, args ...any) {
	if a.logger == nil {
		return
	}
	a.logger.Printf(format, args...)
}
