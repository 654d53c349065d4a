package storage

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseSelector parses a series selector into label matchers.
// Format: metric_name{label1="value1",label2="value2"}; either part may be
// omitted. The metric name is matched as the __name__ label.
func ParseSelector(query string) (map[string]string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	selectors := make(map[string]string)
	name, rest, hasLabels := strings.Cut(query, "{")
	if name = strings.TrimSpace(name); name != "" {
		selectors["__name__"] = name
	}
	if !hasLabels {
		return selectors, nil
	}

	body, ok := strings.CutSuffix(strings.TrimSpace(rest), "}")
	if !ok {
		return nil, fmt.Errorf("selector %q: missing closing brace", query)
	}

	for _, pair := range splitPairs(body) {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, raw, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("selector %q: expected label=\"value\" in %q", query, pair)
		}
		value, err := strconv.Unquote(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("selector %q: label %s: %w", query, key, err)
		}
		selectors[strings.TrimSpace(key)] = value
	}

	return selectors, nil
}

// splitPairs splits on commas outside quoted values
func splitPairs(body string) []string {
	var pairs []string
	start, quoted, escaped := 0, false, false
	for i, r := range body {
		switch {
		case escaped:
			escaped = false
		case r == '\\':
			escaped = true
		case r == '"':
			quoted = !quoted
		case r == ',' && !quoted:
			pairs = append(pairs, body[start:i])
			start = i + 1
		}
	}
	return append(pairs, body[start:])
}
