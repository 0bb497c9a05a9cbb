package trigger

import (
	"slices"
	"strings"
)

// MatchKeywords reports whether every keyword occurs in text, ignoring case. No keywords always match.
func MatchKeywords(text string, keywords []string) bool {
	lower := strings.ToLower(text)

	for _, keyword := range keywords {
		keyword = strings.TrimSpace(keyword)
		if keyword == "" {
			continue
		}

		if !strings.Contains(lower, strings.ToLower(keyword)) {
			return false
		}
	}

	return true
}

// allowed reports whether value is in list; an empty list allows everything.
func allowed(list []string, value string) bool {
	return len(list) == 0 || slices.Contains(list, value)
}

// senderAllowed matches a sender address against exact addresses or @domain entries, ignoring case.
func senderAllowed(list []string, from string) bool {
	if len(list) == 0 {
		return true
	}

	from = strings.ToLower(strings.TrimSpace(from))

	for _, entry := range list {
		entry = strings.ToLower(entry)

		if entry == from || (strings.HasPrefix(entry, "@") && strings.HasSuffix(from, entry)) {
			return true
		}
	}

	return false
}
