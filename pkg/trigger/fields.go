package trigger

import (
	"slices"
	"sort"
	"strings"

	"github.com/dukex/flowpilot/pkg/expression"
	"github.com/dukex/flowpilot/pkg/extraction"
	"github.com/dukex/flowpilot/pkg/models"
)

const payloadPrefix = "trigger.payload."

// FieldSpecs returns the keys to extract for a workflow. Keys declared on the trigger win; otherwise the
// payload keys referenced by node configs are used. Reserved keys already carried by the event are excluded.
func FieldSpecs(cfg MessageConfig, definition models.WorkflowDefinition, reserved []string) []extraction.FieldSpec {
	keys := declaredKeys(cfg)
	if len(keys) == 0 {
		keys = ReferencedPayloadKeys(definition.Nodes)
	}

	specs := make([]extraction.FieldSpec, 0, len(keys))

	for _, key := range keys {
		if slices.Contains(reserved, key) {
			continue
		}

		spec := extraction.FieldSpec{Key: key, Required: true}

		if meta, ok := cfg.SlackFieldMeta[key]; ok {
			spec.Description = meta.Description

			if meta.Required != nil {
				spec.Required = *meta.Required
			}
		}

		specs = append(specs, spec)
	}

	return specs
}

func declaredKeys(cfg MessageConfig) []string {
	keys := make([]string, 0, len(cfg.SlackFields)+len(cfg.SlackFieldMeta))

	for _, key := range cfg.SlackFields {
		if !slices.Contains(keys, key) {
			keys = append(keys, key)
		}
	}

	extra := make([]string, 0, len(cfg.SlackFieldMeta))

	for key := range cfg.SlackFieldMeta {
		if !slices.Contains(keys, key) {
			extra = append(extra, key)
		}
	}

	sort.Strings(extra)

	return append(keys, extra...)
}

// ReferencedPayloadKeys scans node configs for {{trigger.payload.X}} tokens and returns each X once,
// in node order.
func ReferencedPayloadKeys(nodes []models.WorkflowNode) []string {
	keys := make([]string, 0)

	for _, node := range nodes {
		for _, text := range configStrings(node.Config) {
			for _, path := range expression.TokenPaths(text) {
				if !strings.HasPrefix(path, payloadPrefix) {
					continue
				}

				key, _, _ := strings.Cut(strings.TrimPrefix(path, payloadPrefix), ".")
				if key != "" && !slices.Contains(keys, key) {
					keys = append(keys, key)
				}
			}
		}
	}

	return keys
}

// configStrings collects every string inside a config, visiting map keys in sorted order.
func configStrings(value any) []string {
	switch v := value.(type) {
	case string:
		return []string{v}
	case map[string]any:
		keys := make([]string, 0, len(v))
		for key := range v {
			keys = append(keys, key)
		}

		sort.Strings(keys)

		out := make([]string, 0)
		for _, key := range keys {
			out = append(out, configStrings(v[key])...)
		}

		return out
	case []any:
		out := make([]string, 0)
		for _, item := range v {
			out = append(out, configStrings(item)...)
		}

		return out
	default:
		return nil
	}
}
