// Package extraction turns free text from chat and email events into structured trigger fields.
package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

// FieldSpec is one key the extractor is asked to fill.
type FieldSpec struct {
	Key         string `json:"key"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required"`
}

// Extractor pulls the requested fields out of text.
type Extractor interface {
	Extract(ctx context.Context, text string, fields []FieldSpec) (map[string]any, error)
}

// HTTPExtractor delegates extraction to a remote service that answers with a JSON object.
type HTTPExtractor struct {
	endpoint string
	client   *http.Client
}

func NewHTTPExtractor(endpoint string, timeout time.Duration) *HTTPExtractor {
	return &HTTPExtractor{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type extractRequest struct {
	Text   string      `json:"text"`
	Fields []FieldSpec `json:"fields"`
}

func (e *HTTPExtractor) Extract(ctx context.Context, text string, fields []FieldSpec) (map[string]any, error) {
	body, err := json.Marshal(extractRequest{Text: text, Fields: fields})
	if err != nil {
		return nil, fmt.Errorf("failed to encode extraction request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build extraction request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("extraction request failed: %w", err)
	}

	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("extraction service returned status %d", resp.StatusCode)
	}

	var extracted map[string]any

	err = json.NewDecoder(resp.Body).Decode(&extracted)
	if err != nil {
		return nil, fmt.Errorf("failed to decode extraction response: %w", err)
	}

	return extracted, nil
}

// NoopExtractor extracts nothing. Used when no extraction service is configured.
type NoopExtractor struct{}

func (NoopExtractor) Extract(context.Context, string, []FieldSpec) (map[string]any, error) {
	return map[string]any{}, nil
}

// Schema builds the JSON schema an extraction result must satisfy: required keys present and not null.
func Schema(fields []FieldSpec) map[string]any {
	properties := make(map[string]any, len(fields))
	required := make([]any, 0, len(fields))

	for _, field := range fields {
		property := map[string]any{}
		if field.Description != "" {
			property["description"] = field.Description
		}

		if field.Required {
			property["not"] = map[string]any{"type": "null"}
			required = append(required, field.Key)
		}

		properties[field.Key] = property
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}

	if len(required) > 0 {
		schema["required"] = required
	}

	return schema
}

// Warnings validates extracted against the fields' schema and describes each violation.
func Warnings(fields []FieldSpec, extracted map[string]any) []string {
	if extracted == nil {
		extracted = map[string]any{}
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(Schema(fields)), gojsonschema.NewGoLoader(extracted))
	if err != nil {
		return []string{fmt.Sprintf("extraction result could not be validated: %v", err)}
	}

	if result.Valid() {
		return []string{}
	}

	warnings := make([]string, 0, len(result.Errors()))

	for _, desc := range result.Errors() {
		switch desc.Type() {
		case "required":
			warnings = append(warnings, fmt.Sprintf("missing required field %q", desc.Details()["property"]))
		case "number_not":
			warnings = append(warnings, fmt.Sprintf("required field %q is empty", desc.Field()))
		default:
			warnings = append(warnings, desc.String())
		}
	}

	sort.Strings(warnings)

	return warnings
}
