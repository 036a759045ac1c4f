package rate

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// extractInts returns all integer substrings contained in s. Any non-digit
// characters are treated as separators. Missing or unparsable values result in
// an empty slice.
func extractInts(s string) []int64 {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r < '0' || r > '9'
	})
	nums := make([]int64, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		if n, err := strconv.ParseInt(p, 10, 64); err == nil {
			nums = append(nums, n)
		}
	}
	return nums
}

// floodWaitRe matches the MTProto flood error, which gateways often prefix
// with the HTTP status ("420: FLOOD_WAIT_35").
var floodWaitRe = regexp.MustCompile(`(?i)FLOOD_WAIT_(\d+)`)

// WaitFromMessage pulls the wait out of messages such as "FLOOD_WAIT_35" or
// "A wait of 35 seconds is required". A FLOOD_WAIT token wins; otherwise the
// first integer is taken as seconds.
func WaitFromMessage(msg string) (time.Duration, bool) {
	if m := floodWaitRe.FindStringSubmatch(msg); m != nil {
		if secs, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			return time.Duration(secs) * time.Second, true
		}
	}
	nums := extractInts(msg)
	if len(nums) == 0 {
		return 0, false
	}
	return time.Duration(nums[0]) * time.Second, true
}

// WaitFromHeaders reads the wait requested by an HTTP 429/420 reply. It
// understands Retry-After (seconds or HTTP date) and the epoch based
// x-rate-limit-reset header used by the Twitter API.
func WaitFromHeaders(header http.Header, now time.Time) (time.Duration, bool) {
	if v := strings.TrimSpace(header.Get("Retry-After")); v != "" {
		if secs, err := strconv.ParseInt(v, 10, 64); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second, true
		}
		if at, err := http.ParseTime(v); err == nil {
			return clampPositive(at.Sub(now)), true
		}
	}
	if v := strings.TrimSpace(header.Get("x-rate-limit-reset")); v != "" {
		if epoch, err := strconv.ParseInt(v, 10, 64); err == nil {
			return clampPositive(time.Unix(epoch, 0).Sub(now)), true
		}
	}
	return 0, false
}

func clampPositive(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
