package config

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// maxKeepAliveSeconds is the largest setting a time.Duration can hold.
const maxKeepAliveSeconds = math.MaxInt64 / int64(time.Second)

// ParseKeepAlive interprets a keep-alive setting given in seconds.
//
// An empty value yields DefaultKeepAlive. "0" disables the idle timeout. A
// positive integer is used as is. Anything else, including values too large
// for a time.Duration, also yields DefaultKeepAlive, with valid reporting
// false so callers can warn about it.
func ParseKeepAlive(value string) (d time.Duration, enabled bool, valid bool) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return DefaultKeepAlive, true, true
	}
	seconds, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil || seconds < 0 || seconds > maxKeepAliveSeconds {
		return DefaultKeepAlive, true, false
	}
	if seconds == 0 {
		return 0, false, true
	}
	return time.Duration(seconds) * time.Second, true, true
}
