package tractorcare

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Remote payloads are validated against explicit schemas at the boundary so a
// malformed response surfaces as a typed DecodeError instead of silently
// coerced zero values. Baseline payloads are the deliberate exception: their
// fields are parsed defensively by the resolver.

const usageHistoryItemSchema = `{
	"type": "object",
	"required": ["date", "start_hours", "end_hours", "hours_used"],
	"properties": {
		"date": {"type": "string", "minLength": 1},
		"start_hours": {"type": "number", "minimum": 0},
		"end_hours": {"type": "number", "minimum": 0},
		"hours_used": {"type": "number", "minimum": 0},
		"notes": {"type": ["string", "null"]}
	}
}`

const predictionItemSchema = `{
	"type": "object",
	"required": ["id", "engine_hours"],
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"created_at": {"type": "string"},
		"recorded_at": {"type": "string"},
		"baseline_deviation": {"type": ["number", "null"]},
		"baseline_status": {"type": ["string", "null"]},
		"engine_hours": {"type": "number", "minimum": 0}
	},
	"anyOf": [
		{"required": ["created_at"]},
		{"required": ["recorded_at"]}
	]
}`

const usageAckSchema = `{
	"type": "object",
	"required": ["tractor_id", "end_hours"],
	"properties": {
		"id": {"type": "string"},
		"tractor_id": {"type": "string", "minLength": 1},
		"start_hours": {"type": "number", "minimum": 0},
		"end_hours": {"type": "number", "minimum": 0},
		"hours_used": {"type": "number", "minimum": 0}
	}
}`

var (
	compiledUsageHistoryItem = mustCompileSchema("usage_history_item.json", usageHistoryItemSchema)
	compiledPredictionItem   = mustCompileSchema("prediction_item.json", predictionItemSchema)
	compiledUsageAck         = mustCompileSchema("usage_ack.json", usageAckSchema)
)

func mustCompileSchema(name, source string) *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(source))
	if err != nil {
		panic(fmt.Sprintf("schema %s: %v", name, err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, doc); err != nil {
		panic(fmt.Sprintf("schema %s: %v", name, err))
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("schema %s: %v", name, err))
	}
	return schema
}

func validateUsageHistory(items []any) error {
	for i, item := range items {
		if err := compiledUsageHistoryItem.Validate(item); err != nil {
			return &DecodeError{
				Endpoint: "/usage/history",
				Detail:   fmt.Sprintf("item %d: %v", i, err),
			}
		}
	}
	return nil
}

func validatePredictions(items []any) error {
	for i, item := range items {
		if err := compiledPredictionItem.Validate(item); err != nil {
			return &DecodeError{
				Endpoint: "/predictions",
				Detail:   fmt.Sprintf("item %d: %v", i, err),
			}
		}
	}
	return nil
}

func validateUsageAck(payload any) error {
	if payload == nil {
		// Older server builds ack with an empty body.
		return nil
	}
	if err := compiledUsageAck.Validate(payload); err != nil {
		return &DecodeError{Endpoint: "/usage/log", Detail: err.Error()}
	}
	return nil
}
