package ratelimit

import (
	"regexp"
	"strconv"
	"time"
)

// banPattern matches Binance's 418 response body, e.g.
// "... banned until 1800000000000 ..." (milliseconds since epoch).
var banPattern = regexp.MustCompile(`banned until (\d+)`)

// ParseBan extracts the ban deadline from an HTTP 418 body, per spec.md
// §4.1's parse_ban contract. If the body doesn't carry a recognisable
// deadline, it falls back to now + 60s — the documented default.
func ParseBan(errText string) time.Time {
	m := banPattern.FindStringSubmatch(errText)
	if m == nil {
		return time.Now().Add(60 * time.Second)
	}
	ms, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return time.Now().Add(60 * time.Second)
	}
	return time.UnixMilli(ms)
}

// BanFromRetryAfter computes a ban deadline from an HTTP 429's Retry-After
// header value, interpreted as seconds (spec.md §4.1, §7).
func BanFromRetryAfter(retryAfterSeconds int) time.Time {
	if retryAfterSeconds <= 0 {
		retryAfterSeconds = 60
	}
	return time.Now().Add(time.Duration(retryAfterSeconds) * time.Second)
}
