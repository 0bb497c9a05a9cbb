package expression

import (
	"encoding/json"

	"github.com/dukex/flowpilot/pkg/models"
)

// Interpolate replaces every {{ path }} occurrence in text with the string form of its resolved value.
// Unknown paths render as an empty string; objects render as JSON.
func Interpolate(text string, runCtx *models.RunContext) string {
	return anyToken.ReplaceAllStringFunc(text, func(token string) string {
		match := anyToken.FindStringSubmatch(token)
		value := Lookup(match[1], runCtx)

		return render(value)
	})
}

// HasTokens reports whether text contains at least one token.
func HasTokens(text string) bool {
	return anyToken.MatchString(text)
}

// TokenPaths lists the paths of all tokens in text, in order of appearance.
func TokenPaths(text string) []string {
	matches := anyToken.FindAllStringSubmatch(text, -1)
	paths := make([]string, 0, len(matches))

	for _, match := range matches {
		paths = append(paths, match[1])
	}

	return paths
}

func render(value any) string {
	switch v := value.(type) {
	case undefined, nil:
		return ""
	case map[string]any:
		encoded, err := json.Marshal(v)
		if err != nil {
			return ToString(v)
		}

		return string(encoded)
	default:
		return ToString(v)
	}
}
