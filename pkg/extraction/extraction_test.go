package extraction

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWarnings(t *testing.T) {
	fields := []FieldSpec{
		{Key: "amount", Required: true},
		{Key: "customer", Required: true},
		{Key: "note"},
	}

	tests := []struct {
		name      string
		extracted map[string]any
		expected  []string
	}{
		{
			name:      "all present",
			extracted: map[string]any{"amount": 10.0, "customer": "acme"},
			expected:  []string{},
		},
		{
			name:      "optional field may be missing",
			extracted: map[string]any{"amount": 10.0, "customer": "acme", "note": nil},
			expected:  []string{},
		},
		{
			name:      "missing required field",
			extracted: map[string]any{"amount": 10.0},
			expected:  []string{`missing required field "customer"`},
		},
		{
			name:      "null required field",
			extracted: map[string]any{"amount": nil, "customer": "acme"},
			expected:  []string{`required field "amount" is empty`},
		},
		{
			name:     "nothing extracted",
			expected: []string{`missing required field "amount"`, `missing required field "customer"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Warnings(fields, tt.extracted))
		})
	}
}

func TestSchema_NoRequiredFields(t *testing.T) {
	schema := Schema([]FieldSpec{{Key: "note", Description: "free note"}})

	assert.NotContains(t, schema, "required")
	assert.Equal(t, map[string]any{"description": "free note"}, schema["properties"].(map[string]any)["note"])
}

func TestHTTPExtractor(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req extractRequest

		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "invoice 42 for acme", req.Text)
		assert.Len(t, req.Fields, 1)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"customer":"acme"}`))
	}))
	defer server.Close()

	extractor := NewHTTPExtractor(server.URL, time.Second)

	extracted, err := extractor.Extract(t.Context(), "invoice 42 for acme", []FieldSpec{{Key: "customer", Required: true}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"customer": "acme"}, extracted)
}

func TestHTTPExtractor_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := NewHTTPExtractor(server.URL, time.Second).Extract(t.Context(), "text", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
