// Package expression resolves {{ path }} token expressions against a run context.
//
// Two flavors exist. Resolve is whole-field: a value that is exactly one token is dereferenced to whatever
// the path points at, and anything else is parsed as a literal. Interpolate is for free text: every token
// is replaced by its string form and the surrounding text is kept.
package expression

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/dukex/flowpilot/pkg/models"
)

var (
	wholeToken = regexp.MustCompile(`^\{\{\s*([^{}]+?)\s*\}\}$`)
	anyToken   = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)
)

// Resolve evaluates a whole-field expression. It never fails: unknown paths resolve to Undefined.
func Resolve(expr string, runCtx *models.RunContext) any {
	path, ok := TokenPath(expr)
	if !ok {
		return ParseLiteral(expr)
	}

	return Lookup(path, runCtx)
}

// ResolveValue resolves a config value. Strings go through Resolve, other JSON values are already literals.
func ResolveValue(value any, runCtx *models.RunContext) any {
	s, ok := value.(string)
	if !ok {
		return value
	}

	return Resolve(s, runCtx)
}

// ResolveConfig resolves every field of a node config.
func ResolveConfig(config map[string]any, runCtx *models.RunContext) map[string]any {
	resolved := make(map[string]any, len(config))

	for key, value := range config {
		resolved[key] = ResolveValue(value, runCtx)
	}

	return resolved
}

// TokenPath returns the path when the trimmed expression is a single token occupying the whole string.
func TokenPath(expr string) (string, bool) {
	match := wholeToken.FindStringSubmatch(strings.TrimSpace(expr))
	if match == nil {
		return "", false
	}

	return match[1], true
}

// Lookup dereferences a dotted path. trigger.* walks the trigger object, steps.<nodeId>.* walks that
// node's output, any other prefix walks the run context scope.
func Lookup(path string, runCtx *models.RunContext) any {
	if runCtx == nil {
		return Undefined
	}

	segments := strings.Split(path, ".")

	switch segments[0] {
	case "trigger":
		return walk(runCtx.Trigger(), segments[1:])
	case "steps":
		if len(segments) < 2 {
			return walk(runCtx.StepOutputs, nil)
		}

		output, ok := runCtx.StepOutputs[segments[1]]
		if !ok {
			return Undefined
		}

		return walk(output, segments[2:])
	default:
		return walk(runCtx.Scope(), segments)
	}
}

func walk(current any, segments []string) any {
	for _, segment := range segments {
		switch node := normalize(current).(type) {
		case map[string]any:
			next, ok := node[segment]
			if !ok {
				return Undefined
			}

			current = next
		case []any:
			if segment == "length" {
				current = float64(len(node))

				continue
			}

			index, err := strconv.Atoi(segment)
			if err != nil || index < 0 || index >= len(node) {
				return Undefined
			}

			current = node[index]
		case string:
			if segment != "length" {
				return Undefined
			}

			current = float64(len(node))
		default:
			return Undefined
		}
	}

	return normalize(current)
}

// normalize widens the typed maps that come out of Go callers into the JSON shapes walk understands.
func normalize(v any) any {
	switch value := v.(type) {
	case map[string]string:
		out := make(map[string]any, len(value))
		for k, s := range value {
			out[k] = s
		}

		return out
	case []string:
		out := make([]any, len(value))
		for i, s := range value {
			out[i] = s
		}

		return out
	case int:
		return float64(value)
	case int64:
		return float64(value)
	default:
		return v
	}
}

// Settings resolves a node config for execution. Fields whose whole value resolves to undefined are dropped,
// so a required field fed by a missing path fails config validation.
func Settings(config map[string]any, runCtx *models.RunContext) map[string]any {
	settings := ResolveConfig(config, runCtx)

	for key, value := range settings {
		if IsUndefined(value) {
			delete(settings, key)
		}
	}

	return settings
}
