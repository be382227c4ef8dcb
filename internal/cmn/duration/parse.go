// Package duration parses the durations accepted in configuration and on
// the command line.
package duration

import (
	"fmt"
	"regexp"
	"time"
)

var dayPattern = regexp.MustCompile(`(\d+)d`)

// Parse accepts Go durations plus a d suffix for days, e.g. "1d12h".
// Negative durations are rejected.
func Parse(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("empty duration string")
	}

	expanded := dayPattern.ReplaceAllStringFunc(s, func(match string) string {
		var days int
		_, _ = fmt.Sscanf(match, "%dd", &days)
		return fmt.Sprintf("%dh", days*24)
	})

	d, err := time.ParseDuration(expanded)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration not allowed: %q", s)
	}
	return d, nil
}
