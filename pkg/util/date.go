package util

import (
	"strconv"
	"strings"
	"time"
)

// unixMilliCutoff separates unix seconds from unix milliseconds. Second
// timestamps stay below it until the year 33658.
const unixMilliCutoff = 1e12

// ParseTime accepts RFC3339, RFC3339Nano, unix seconds and unix
// milliseconds. ok is false for an empty or unrecognised value.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
		return FromUnix(ts), true
	}
	return time.Time{}, false
}

// FromUnix converts an exchange timestamp that may be in seconds or
// milliseconds.
func FromUnix(ts int64) time.Time {
	if ts >= unixMilliCutoff {
		return time.UnixMilli(ts).UTC()
	}
	return time.Unix(ts, 0).UTC()
}
