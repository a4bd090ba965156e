// Package baseline resolves the best-available baseline metadata for a
// tractor through a strict tiered cascade: status endpoint, then history
// endpoint, then unresolved. Tier failures advance the cascade silently; an
// unresolved baseline is a defined state, not an error.
package baseline

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/tractorcare/fieldsync/internal/tractorcare"
)

type Logger interface {
	Printf(format string, args ...any)
}

type Tier string

const (
	TierPrimaryStatus    Tier = "primary_status"
	TierSecondaryHistory Tier = "secondary_history"
	TierUnresolved       Tier = "unresolved"
)

// Metadata is resolved fresh per screen visit and immutable once returned.
// Pointer fields stay nil when the service omitted them; absence never fails
// resolution.
type Metadata struct {
	BaselineID             string
	Confidence             *float64
	NumSamples             *int
	TractorHoursAtCreation *float64
	LoadCondition          string
	CreatedAt              *time.Time
	Tier                   Tier
}

// Fetcher is the slice of the remote client the resolver uses.
type Fetcher interface {
	BaselineStatus(ctx context.Context, tractorID string) (map[string]any, error)
	BaselineHistory(ctx context.Context, tractorID string) ([]map[string]any, error)
}

type Options struct {
	Client      Fetcher
	TierTimeout time.Duration
	Logger      Logger
}

type Resolver struct {
	client      Fetcher
	tierTimeout time.Duration
	logger      Logger
}

func NewResolver(opts Options) *Resolver {
	tierTimeout := opts.TierTimeout
	if tierTimeout <= 0 {
		tierTimeout = 10 * time.Second
	}
	return &Resolver{
		client:      opts.Client,
		tierTimeout: tierTimeout,
		logger:      opts.Logger,
	}
}

// Resolve never returns an error. The tiers run sequentially; a terminal
// tier-1 status short-circuits tier 2 to spare bandwidth-limited links.
func (r *Resolver) Resolve(ctx context.Context, tractorID string) Metadata {
	if meta, ok := r.resolvePrimary(ctx, tractorID); ok {
		return meta
	}
	if meta, ok := r.resolveSecondary(ctx, tractorID); ok {
		return meta
	}
	r.logf("baseline for %s unresolved on all tiers", tractorID)
	return Metadata{Tier: TierUnresolved}
}

func (r *Resolver) resolvePrimary(ctx context.Context, tractorID string) (Metadata, bool) {
	tierCtx, cancel := context.WithTimeout(ctx, r.tierTimeout)
	defer cancel()
	payload, err := r.client.BaselineStatus(tierCtx, tractorID)
	if err != nil {
		r.logf("baseline status tier for %s failed: %v", tractorID, err)
		return Metadata{}, false
	}
	status := statusValue(payload)
	if !terminalStatus(status) {
		r.logf("baseline status tier for %s non-terminal: %q", tractorID, status)
		return Metadata{}, false
	}
	meta := extractMetadata(payload)
	meta.Tier = TierPrimaryStatus
	return meta, true
}

func (r *Resolver) resolveSecondary(ctx context.Context, tractorID string) (Metadata, bool) {
	tierCtx, cancel := context.WithTimeout(ctx, r.tierTimeout)
	defer cancel()
	history, err := r.client.BaselineHistory(tierCtx, tractorID)
	if err != nil {
		r.logf("baseline history tier for %s failed: %v", tractorID, err)
		return Metadata{}, false
	}
	if len(history) == 0 {
		return Metadata{}, false
	}
	chosen := history[0]
	for _, entry := range history {
		if terminalStatus(statusValue(entry)) {
			chosen = entry
			break
		}
	}
	meta := extractMetadata(chosen)
	meta.Tier = TierSecondaryHistory
	return meta, true
}

func statusValue(payload map[string]any) string {
	for _, key := range []string{"status", "baseline_status"} {
		if value, ok := payload[key].(string); ok && strings.TrimSpace(value) != "" {
			return strings.ToLower(strings.TrimSpace(value))
		}
	}
	return ""
}

// terminalStatus reports whether a baseline is usable as-is. The service's
// vocabulary: active and completed are terminal; collecting, establishing,
// and pending mean a collection is still in flight.
func terminalStatus(status string) bool {
	return status == "active" || status == "completed"
}

func extractMetadata(payload map[string]any) Metadata {
	return Metadata{
		BaselineID:             stringValue(payload, "baseline_id", "id"),
		Confidence:             floatValue(payload, "confidence"),
		NumSamples:             intValue(payload, "num_samples"),
		TractorHoursAtCreation: floatValue(payload, "tractor_hours", "tractor_hours_at_creation"),
		LoadCondition:          stringValue(payload, "load_condition"),
		CreatedAt:              timeValue(payload, "created_at", "finalized_at"),
	}
}

func stringValue(payload map[string]any, keys ...string) string {
	for _, key := range keys {
		if value, ok := payload[key].(string); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

// floatValue accepts numeric or numeric-string representations; the service
// has emitted both across versions.
func floatValue(payload map[string]any, keys ...string) *float64 {
	for _, key := range keys {
		raw, ok := payload[key]
		if !ok || raw == nil {
			continue
		}
		switch value := raw.(type) {
		case float64:
			v := value
			return &v
		case json.Number:
			if parsed, err := value.Float64(); err == nil {
				return &parsed
			}
		case string:
			if parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
				return &parsed
			}
		}
	}
	return nil
}

func intValue(payload map[string]any, keys ...string) *int {
	if f := floatValue(payload, keys...); f != nil {
		v := int(*f)
		return &v
	}
	return nil
}

func timeValue(payload map[string]any, keys ...string) *time.Time {
	for _, key := range keys {
		raw, ok := payload[key].(string)
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		if ts, err := tractorcare.ParseTimestamp(raw); err == nil {
			return &ts
		}
	}
	return nil
}

func (r *Resolver) logf(format string, args ...any) {
	if r.logger == nil {
		return
	}
	r.logger.Printf(format, args...)
}
