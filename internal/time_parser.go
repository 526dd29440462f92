// internal/time_parser.go
// ------------------------
// This internal package provides helpers for turning rate-limit response headers into
// wait durations.
//
// Functions:
// - ParseFloatPrefix: Parse the leading decimal number of a header value ("1.5", " 2 ", "3s").
// - RetryAfterDelay: Convert a retry-after value in seconds into the delay before resubmitting.
package internal

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var floatPrefix = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?`)

// ParseFloatPrefix parses the leading number of s. It reports false when s does not start
// with a number.
func ParseFloatPrefix(s string) (float64, bool) {
	m := floatPrefix.FindString(strings.TrimSpace(s))
	if m == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// RetryAfterDelay converts a retry-after header given in seconds into a delay of
// round(|seconds| * 1000) ms plus margin. Missing or unparsable values count as zero seconds.
// Values too large for a time.Duration saturate at the largest representable delay.
func RetryAfterDelay(value string, margin time.Duration) time.Duration {
	secs, _ := ParseFloatPrefix(value)
	ms := math.Round(math.Abs(secs) * 1000)
	if maxMS := float64((math.MaxInt64 - int64(margin)) / int64(time.Millisecond)); ms >= maxMS {
		return time.Duration(maxMS)*time.Millisecond + margin
	}
	return time.Duration(ms)*time.Millisecond + margin
}
