// Package tractorcare is the client for the remote TractorCare API. All
// network access in this repository goes through it; callers bound each call
// with a context deadline and receive errors from the taxonomy in errors.go.
package tractorcare

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// UsageRecord is one confirmed day of usage as reported by the server.
type UsageRecord struct {
	Date       time.Time
	StartHours float64
	EndHours   float64
	HoursUsed  float64
	Notes      string
}

// UsageAck is the server's acknowledgement of a usage submission.
type UsageAck struct {
	ID         string
	StartHours float64
	EndHours   float64
	HoursUsed  float64
}

// PredictionRecord is one remote anomaly prediction. BaselineDeviation is nil
// when the prediction was made before any baseline existed.
type PredictionRecord struct {
	ID                string
	CreatedAt         time.Time
	BaselineDeviation *float64
	BaselineStatus    string
	EngineHours       float64
}

// Client is the remote surface the sync core depends on. Production code uses
// HTTPClient; tests substitute fakes.
type Client interface {
	SubmitUsage(ctx context.Context, tractorID string, endHours float64, notes, idempotencyKey string) (UsageAck, error)
	UsageHistory(ctx context.Context, tractorID string, limit int) ([]UsageRecord, error)
	Predictions(ctx context.Context, tractorID string) ([]PredictionRecord, error)
	BaselineStatus(ctx context.Context, tractorID string) (map[string]any, error)
	BaselineHistory(ctx context.Context, tractorID string) ([]map[string]any, error)
}

type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

func NewHTTPClient(baseURL, token string, httpClient *http.Client) *HTTPClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8000"
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &HTTPClient{
		baseURL:    baseURL,
		token:      strings.TrimSpace(token),
		httpClient: httpClient,
		maxRetries: 3,
		baseDelay:  100 * time.Millisecond,
		maxDelay:   2 * time.Second,
	}
}

func (c *HTTPClient) SubmitUsage(ctx context.Context, tractorID string, endHours float64, notes, idempotencyKey string) (UsageAck, error) {
	body := map[string]any{
		"tractor_id": tractorID,
		"end_hours":  endHours,
	}
	if strings.TrimSpace(notes) != "" {
		body["notes"] = notes
	}
	if strings.TrimSpace(idempotencyKey) != "" {
		body["client_ref"] = idempotencyKey
	}
	headers := map[string]string{}
	if strings.TrimSpace(idempotencyKey) != "" {
		headers["Idempotency-Key"] = idempotencyKey
	}
	raw, err := c.doJSON(ctx, http.MethodPost, "/usage/log", headers, body)
	if err != nil {
		return UsageAck{}, err
	}
	if err := validateUsageAck(raw); err != nil {
		return UsageAck{}, err
	}
	payload, _ := raw.(map[string]any)
	ack := UsageAck{
		ID:         stringField(payload, "id"),
		StartHours: numberField(payload, "start_hours"),
		EndHours:   numberField(payload, "end_hours"),
		HoursUsed:  numberField(payload, "hours_used"),
	}
	return ack, nil
}

func (c *HTTPClient) UsageHistory(ctx context.Context, tractorID string, limit int) ([]UsageRecord, error) {
	q := url.Values{}
	q.Set("tractor_id", tractorID)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	raw, err := c.doJSON(ctx, http.MethodGet, "/usage/history?"+q.Encode(), nil, nil)
	if err != nil {
		return nil, err
	}
	items, err := listPayload(raw, "history", "/usage/history")
	if err != nil {
		return nil, err
	}
	if err := validateUsageHistory(items); err != nil {
		return nil, err
	}
	records := make([]UsageRecord, 0, len(items))
	for _, item := range items {
		entry, _ := item.(map[string]any)
		date, err := timestampField(entry, "date")
		if err != nil {
			return nil, &DecodeError{Endpoint: "/usage/history", Detail: err.Error()}
		}
		records = append(records, UsageRecord{
			Date:       date,
			StartHours: numberField(entry, "start_hours"),
			EndHours:   numberField(entry, "end_hours"),
			HoursUsed:  numberField(entry, "hours_used"),
			Notes:      stringField(entry, "notes"),
		})
	}
	return records, nil
}

func (c *HTTPClient) Predictions(ctx context.Context, tractorID string) ([]PredictionRecord, error) {
	q := url.Values{}
	q.Set("tractor_id", tractorID)
	raw, err := c.doJSON(ctx, http.MethodGet, "/predictions?"+q.Encode(), nil, nil)
	if err != nil {
		return nil, err
	}
	items, err := listPayload(raw, "predictions", "/predictions")
	if err != nil {
		return nil, err
	}
	if err := validatePredictions(items); err != nil {
		return nil, err
	}
	records := make([]PredictionRecord, 0, len(items))
	for _, item := range items {
		entry, _ := item.(map[string]any)
		createdAt, err := timestampField(entry, "created_at", "recorded_at")
		if err != nil {
			return nil, &DecodeError{Endpoint: "/predictions", Detail: err.Error()}
		}
		record := PredictionRecord{
			ID:             stringField(entry, "id"),
			CreatedAt:      createdAt,
			BaselineStatus: stringField(entry, "baseline_status"),
			EngineHours:    numberField(entry, "engine_hours"),
		}
		if value, ok := entry["baseline_deviation"]; ok && value != nil {
			if deviation, ok := toFloat(value); ok {
				record.BaselineDeviation = &deviation
			}
		}
		records = append(records, record)
	}
	return records, nil
}

// BaselineStatus returns the raw status payload. The baseline resolver parses
// it defensively (numeric-or-string fields, absent fields stay unset), so no
// schema is enforced here.
func (c *HTTPClient) BaselineStatus(ctx context.Context, tractorID string) (map[string]any, error) {
	q := url.Values{}
	q.Set("tractor_id", tractorID)
	raw, err := c.doJSON(ctx, http.MethodGet, "/baseline/status?"+q.Encode(), nil, nil)
	if err != nil {
		return nil, err
	}
	payload, ok := raw.(map[string]any)
	if !ok {
		return nil, &DecodeError{Endpoint: "/baseline/status", Detail: "expected a JSON object"}
	}
	return payload, nil
}

// BaselineHistory accepts both response shapes the service has shipped:
// {"history": [...]} and a bare {"baseline": {...}} from older builds.
func (c *HTTPClient) BaselineHistory(ctx context.Context, tractorID string) ([]map[string]any, error) {
	q := url.Values{}
	q.Set("tractor_id", tractorID)
	raw, err := c.doJSON(ctx, http.MethodGet, "/baseline/history?"+q.Encode(), nil, nil)
	if err != nil {
		return nil, err
	}
	payload, ok := raw.(map[string]any)
	if !ok {
		return nil, &DecodeError{Endpoint: "/baseline/history", Detail: "expected a JSON object"}
	}
	if history, ok := payload["history"].([]any); ok {
		entries := make([]map[string]any, 0, len(history))
		for _, item := range history {
			if entry, ok := item.(map[string]any); ok {
				entries = append(entries, entry)
			}
		}
		return entries, nil
	}
	if single, ok := payload["baseline"].(map[string]any); ok {
		return []map[string]any{single}, nil
	}
	return nil, nil
}

func (c *HTTPClient) doJSON(
	ctx context.Context,
	method, requestPath string,
	headers map[string]string,
	body any,
) (any, error) {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return nil, err
		}
	}
	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
		if err != nil {
			return nil, err
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		req.Header.Set("X-Correlation-Id", correlationID())
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		for key, value := range headers {
			req.Header.Set(key, value)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if transientTransportError(ctx, err) && attempt < c.maxRetries {
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return nil, classifyTransport(ctx, err)
				}
				continue
			}
			return nil, classifyTransport(ctx, err)
		}
		payloadBytes, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, classifyTransport(ctx, readErr)
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if len(payloadBytes) == 0 {
				return nil, nil
			}
			var out any
			if err := json.Unmarshal(payloadBytes, &out); err != nil {
				return nil, &DecodeError{Endpoint: requestPath, Detail: err.Error()}
			}
			return out, nil
		}

		if (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < c.maxRetries {
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return nil, classifyTransport(ctx, waitErr)
			}
			continue
		}

		var errPayload struct {
			Code    string `json:"code"`
			Message string `json:"message"`
			Detail  string `json:"detail"`
		}
		_ = json.Unmarshal(payloadBytes, &errPayload)
		message := errPayload.Message
		if message == "" {
			message = errPayload.Detail
		}
		return nil, &ServerError{
			StatusCode: resp.StatusCode,
			Code:       errPayload.Code,
			Message:    message,
		}
	}
}

func (c *HTTPClient) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	maxDelay := c.maxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > maxDelay {
			return maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := time.Parse(time.RFC1123, header); err == nil {
		delta := time.Until(ts)
		if delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func listPayload(raw any, wrapperKey, endpoint string) ([]any, error) {
	switch value := raw.(type) {
	case []any:
		return value, nil
	case map[string]any:
		if items, ok := value[wrapperKey].([]any); ok {
			return items, nil
		}
		return nil, &DecodeError{Endpoint: endpoint, Detail: fmt.Sprintf("object payload is missing %q", wrapperKey)}
	case nil:
		return nil, nil
	default:
		return nil, &DecodeError{Endpoint: endpoint, Detail: "expected a JSON array"}
	}
}

func stringField(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	if value, ok := payload[key].(string); ok {
		return value
	}
	return ""
}

func numberField(payload map[string]any, key string) float64 {
	if payload == nil {
		return 0
	}
	if value, ok := toFloat(payload[key]); ok {
		return value
	}
	return 0
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case json.Number:
		parsed, err := v.Float64()
		return parsed, err == nil
	default:
		return 0, false
	}
}

func timestampField(payload map[string]any, keys ...string) (time.Time, error) {
	for _, key := range keys {
		raw, ok := payload[key].(string)
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		return ParseTimestamp(raw)
	}
	return time.Time{}, fmt.Errorf("missing timestamp field %s", strings.Join(keys, "|"))
}

// ParseTimestamp accepts the formats the service has emitted over time:
// RFC3339 with or without offset, and a bare date.
func ParseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999",
		"2006-01-02T15:04:05",
		"2006-01-02",
	} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}

func correlationID() string {
	return fmt.Sprintf("fieldsync_%d", time.Now().UnixNano())
}
