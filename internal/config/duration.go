package config

import (
	"fmt"
	"strings"
	"time"
)

// DurationOrDefault parses value as a duration, using fallback when value is
// blank. Config durations are strings ("30s", "5m") so YAML files and env
// vars stay readable.
func DurationOrDefault(value, fallback string) (time.Duration, error) {
	for _, candidate := range []string{value, fallback} {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		d, err := time.ParseDuration(candidate)
		if err != nil {
			return 0, fmt.Errorf("parse duration %q: %w", candidate, err)
		}
		return d, nil
	}
	return 0, fmt.Errorf("duration value is empty")
}
