package token

import (
	"strconv"
	"strings"
	"time"
)

// ExpiresAt extracts the exp=<unix-seconds> field from an upstream token of
// the form "tid=...;exp=1700000000;...". Leading digits after "exp=" are
// used; ok is false when no such segment or no digits exist.
func ExpiresAt(tok string) (exp time.Time, ok bool) {
	for _, seg := range strings.Split(tok, ";") {
		rest, found := strings.CutPrefix(seg, "exp=")
		if !found {
			continue
		}
		end := 0
		for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
			end++
		}
		secs, err := strconv.ParseInt(rest[:end], 10, 64)
		if err != nil {
			return time.Time{}, false
		}
		return time.Unix(secs, 0), true
	}
	return time.Time{}, false
}

// IsExpired reports whether tok is past its embedded expiry at now.
// Tokens without a parseable expiry count as expired.
func IsExpired(tok string, now time.Time) bool {
	exp, ok := ExpiresAt(tok)
	if !ok {
		return true
	}
	return now.Unix() > exp.Unix()
}
