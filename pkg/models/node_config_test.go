package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeNodeConfig(t *testing.T) {
	t.Parallel()

	cfg, err := DecodeNodeConfig(NodeTypeHTTPRequest, map[string]any{
		"url":             "https://api.acme.test",
		"method":          "POST",
		"timeout_seconds": "15",
		"headers":         map[string]any{"X-Key": "k"},
	})
	require.NoError(t, err)

	request, ok := cfg.(HTTPRequestConfig)
	require.True(t, ok)
	assert.Equal(t, 15, request.TimeoutSeconds)
	assert.Equal(t, map[string]string{"X-Key": "k"}, request.Headers)

	cfg, err = DecodeNodeConfig(NodeTypeFicCreateInvoice, map[string]any{"clientId": "c1", "amount": "99.5"})
	require.NoError(t, err)
	assert.InDelta(t, 99.5, cfg.(InvoiceConfig).Amount, 0.0001)

	cfg, err = DecodeNodeConfig("custom_step", map[string]any{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, GenericConfig{Type: "custom_step", Fields: map[string]any{"a": 1}}, cfg)
	assert.Equal(t, "custom_step", cfg.NodeType())

	cfg, err = DecodeNodeConfig(NodeTypeIf, map[string]any{"left": 1, "op": "between", "right": 2})
	require.NoError(t, err)
	assert.Equal(t, "between", cfg.(IfConfig).Op)
}

func TestDecodeNodeConfig_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		nodeType string
		settings map[string]any
	}{
		{NodeTypeLog, map[string]any{}},
		{NodeTypeLog, map[string]any{"message": "m", "level": "trace"}},
		{NodeTypeIf, map[string]any{"left": 1, "right": 2}},
		{NodeTypeHTTPRequest, map[string]any{"url": "https://x.test", "method": "TRACE"}},
		{NodeTypeSlackMessage, map[string]any{"channelId": "C1"}},
		{NodeTypeSendEmail, map[string]any{"subject": "s"}},
		{NodeTypeFicCreateInvoice, map[string]any{"clientId": "c1", "amount": 0}},
		{NodeTypeHTTPRequest, map[string]any{"url": "https://x.test", "timeout_seconds": "soon"}},
	}

	for _, tt := range tests {
		_, err := DecodeNodeConfig(tt.nodeType, tt.settings)
		assert.Error(t, err, "%s %v", tt.nodeType, tt.settings)
	}
}
