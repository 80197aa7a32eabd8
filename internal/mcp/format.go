package mcp

import (
	"fmt"
	"strings"
)

// FormatResults renders search hits as markdown for clients that only read
// text content.
func FormatResults(query string, results []ElementOutput) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results found for: %s", query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Results for: %s\n\n", query)
	for i, r := range results {
		name := r.Name
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Fprintf(&sb, "### %d. %s\n", i+1, name)
		fmt.Fprintf(&sb, "**Collection:** %s | **Page:** %d | **Document:** `%s`\n", r.Collection, r.Page+1, r.DocID)
		fmt.Fprintf(&sb, "**Box:** (%g, %g, %g, %g)\n\n", r.Box[0], r.Box[1], r.Box[2], r.Box[3])
		sb.WriteString(strings.TrimSpace(r.Content))
		sb.WriteString("\n\n")
	}
	return strings.TrimRight(sb.String(), "\n") + "\n"
}

// clampLimit returns defaultVal for non-positive limits and caps at max.
func clampLimit(limit, defaultVal, max int) int {
	if limit <= 0 {
		return defaultVal
	}
	if limit > max {
		return max
	}
	return limit
}
