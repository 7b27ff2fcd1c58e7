package utils

import "time"

// Now returns the current time in UTC, truncated to whole seconds so
// round-tripping through SQLite and YAML stays exact.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

func TimePtr(t time.Time) *time.Time {
	return &t
}
