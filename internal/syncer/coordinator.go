// Package syncer drains the pending-operation queue to the remote service.
// One drain pass runs at a time; triggers that arrive mid-pass join the
// in-flight pass and receive its result.
package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/tractorcare/fieldsync/internal/events"
	"github.com/tractorcare/fieldsync/internal/pending"
	"github.com/tractorcare/fieldsync/internal/tractorcare"
)

type Logger interface {
	Printf(format string, args ...any)
}

// Submitter is the one remote operation the coordinator needs.
type Submitter interface {
	SubmitUsage(ctx context.Context, tractorID string, endHours float64, notes, idempotencyKey string) (tractorcare.UsageAck, error)
}

// Result is the aggregate outcome of a drain pass. Individual submission
// failures are recorded on their entries, not raised to the trigger.
// HoursUsed totals the server-computed deltas acknowledged during the pass.
type Result struct {
	Synced     int     `json:"synced"`
	Remaining  int     `json:"remaining"`
	AllCleared bool    `json:"all_cleared"`
	HoursUsed  float64 `json:"hours_used"`
}

type Options struct {
	Store         pending.Store
	Client        Submitter
	Bus           *events.Bus
	SubmitTimeout time.Duration
	Logger        Logger
}

type Coordinator struct {
	store         pending.Store
	client        Submitter
	bus           *events.Bus
	submitTimeout time.Duration
	logger        Logger

	mu       sync.Mutex
	syncing  bool
	passDone chan struct{}
	last     Result
}

func NewCoordinator(opts Options) *Coordinator {
	submitTimeout := opts.SubmitTimeout
	if submitTimeout <= 0 {
		submitTimeout = 15 * time.Second
	}
	return &Coordinator{
		store:         opts.Store,
		client:        opts.Client,
		bus:           opts.Bus,
		submitTimeout: submitTimeout,
		logger:        opts.Logger,
	}
}

// IsSyncing reports whether a drain pass is currently running.
func (c *Coordinator) IsSyncing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.syncing
}

// Sync runs one drain pass, or joins the pass already in flight and returns
// its result once it completes.
func (c *Coordinator) Sync(ctx context.Context) Result {
	c.mu.Lock()
	if c.syncing {
		done := c.passDone
		c.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			// The trigger gave up waiting; the pass itself keeps running.
		}
		c.mu.Lock()
		result := c.last
		c.mu.Unlock()
		return result
	}
	c.syncing = true
	done := make(chan struct{})
	c.passDone = done
	c.mu.Unlock()

	result := c.drain(ctx)

	c.mu.Lock()
	c.last = result
	c.syncing = false
	c.mu.Unlock()
	close(done)

	if c.bus != nil {
		c.bus.Publish(events.Event{
			Type:       events.SyncCompleted,
			Synced:     result.Synced,
			Remaining:  result.Remaining,
			AllCleared: result.AllCleared,
			HoursUsed:  result.HoursUsed,
		})
	}
	return result
}

// AttachConnectivity triggers a drain on every offline-to-online transition.
// The drain is scheduled on a fresh goroutine, not run inside the
// notification callback.
func (c *Coordinator) AttachConnectivity(subscribe func(fn func(online bool)) func()) func() {
	return subscribe(func(online bool) {
		if !online {
			return
		}
		go c.Sync(context.Background())
	})
}

// drain walks each tractor's queue oldest-first. A failed submission stops
// that tractor's drain (a later entry's absolute hours are only meaningful
// once earlier entries are confirmed) but does not block other tractors.
func (c *Coordinator) drain(ctx context.Context) Result {
	tractorIDs, err := c.store.TractorIDs()
	if err != nil {
		c.logf("drain aborted: listing tractors: %v", err)
		return Result{}
	}
	var result Result
	for _, tractorID := range tractorIDs {
		synced, remaining, hoursUsed := c.drainTractor(ctx, tractorID)
		result.Synced += synced
		result.Remaining += remaining
		result.HoursUsed += hoursUsed
	}
	result.AllCleared = result.Remaining == 0
	c.logf("drain pass complete: synced=%d remaining=%d", result.Synced, result.Remaining)
	return result
}

func (c *Coordinator) drainTractor(ctx context.Context, tractorID string) (synced, remaining int, hoursUsed float64) {
	entries, err := c.store.List(tractorID)
	if err != nil {
		c.logf("drain %s aborted: %v", tractorID, err)
		return 0, 0, 0
	}
	for i, entry := range entries {
		if ctx.Err() != nil {
			return synced, len(entries) - i, hoursUsed
		}
		if err := c.store.MarkSyncing(entry.LocalID); err != nil {
			c.logf("drain %s: mark syncing %s: %v", tractorID, entry.LocalID, err)
			return synced, len(entries) - i, hoursUsed
		}
		submitCtx, cancel := context.WithTimeout(ctx, c.submitTimeout)
		ack, err := c.client.SubmitUsage(submitCtx, entry.TractorID, entry.EndHours, entry.Notes, entry.IdempotencyKey)
		cancel()
		if err != nil {
			if markErr := c.store.MarkFailed(entry.LocalID, err.Error()); markErr != nil {
				c.logf("drain %s: mark failed %s: %v", tractorID, entry.LocalID, markErr)
			}
			c.logf("drain %s stopped at %s: %v", tractorID, entry.LocalID, err)
			return synced, len(entries) - i, hoursUsed
		}
		if err := c.store.MarkSynced(entry.LocalID); err != nil {
			c.logf("drain %s: mark synced %s: %v", tractorID, entry.LocalID, err)
			return synced, len(entries) - i, hoursUsed
		}
		synced++
		hoursUsed += ack.HoursUsed
		c.logf("drain %s: confirmed %s (hours_used=%.1f)", tractorID, entry.LocalID, ack.HoursUsed)
	}
	return synced, 0, hoursUsed
}

func (c *Coordinator) logf(format string, args ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Printf(format, args...)
}
