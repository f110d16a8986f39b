// Package utils holds small helpers shared by the HTTP and storage layers.
package utils

import "strings"

// ParseCSV splits a comma-separated list and returns the trimmed non-empty
// values, or nil when there are none. Reports store their drivers this way and
// the event stream takes its ?types filter in the same form.
func ParseCSV(s string) []string {
	var result []string
	for _, v := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
