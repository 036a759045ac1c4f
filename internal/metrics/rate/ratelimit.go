package rate

import (
	"strings"
	"time"

	"sentiflow/logger"
)

// ReportRateLimited increments the rate limit counter for the given source and
// origin and emits the metric to CloudWatch. The wait the remote asked for is
// attached to the log entry.
func ReportRateLimited(log *logger.Log, source, origin string, wait time.Duration) {
	component := strings.ToLower(source) + "_reader"
	l := log.WithComponent(component)
	fields := logger.Fields{
		"source": strings.ToLower(source),
		"origin": origin,
	}
	l.LogMetric(component, "rate_limited", int64(1), "counter", fields)
	l.WithFields(fields).WithFields(logger.Fields{"wait_seconds": wait.Seconds()}).Warn("rate limited")
}

// ReportAccessDenied increments the access denied counter for the given source
// and origin. Denials are not retried.
func ReportAccessDenied(log *logger.Log, source, origin string) {
	component := strings.ToLower(source) + "_reader"
	l := log.WithComponent(component)
	fields := logger.Fields{
		"source": strings.ToLower(source),
		"origin": origin,
	}
	l.LogMetric(component, "access_denied", int64(1), "counter", fields)
	l.WithFields(fields).Error("access denied")
}

// detectLimit inspects an error message returned by a remote and determines
// whether it signals a rate limit or a denial. Wording differs per source.
func detectLimit(source, msg string) (rateLimit bool, denied bool) {
	lowerMsg := strings.ToLower(msg)
	switch strings.ToLower(source) {
	case "telegram":
		rateLimit = strings.Contains(lowerMsg, "flood_wait") || strings.Contains(lowerMsg, "flood wait") || strings.Contains(lowerMsg, "too many requests")
		denied = strings.Contains(lowerMsg, "channel_private") || strings.Contains(lowerMsg, "chat_admin_required") || strings.Contains(lowerMsg, "forbidden")
	case "twitter":
		rateLimit = strings.Contains(lowerMsg, "too many requests") || strings.Contains(lowerMsg, "rate limit")
		denied = strings.Contains(lowerMsg, "unauthorized") || strings.Contains(lowerMsg, "forbidden") || strings.Contains(lowerMsg, "usage cap")
	case "binance":
		rateLimit = strings.Contains(lowerMsg, "too many requests") || strings.Contains(lowerMsg, "rate limit")
		denied = strings.Contains(lowerMsg, "ip") && strings.Contains(lowerMsg, "ban")
	default:
		rateLimit = strings.Contains(lowerMsg, "rate limit") || strings.Contains(lowerMsg, "too many requests")
		denied = strings.Contains(lowerMsg, "forbidden")
	}
	return
}

// IsRateLimitMessage reports whether msg reads like a rate limit reply from
// source.
func IsRateLimitMessage(source, msg string) bool {
	rateLimit, _ := detectLimit(source, msg)
	return rateLimit
}

// ReportLimitFromMessage checks the provided message for rate limit or denial
// events and records the matching metric. No action is taken if the message
// does not match any known pattern.
func ReportLimitFromMessage(log *logger.Log, source, origin, msg string) {
	rateLimit, denied := detectLimit(source, msg)
	if rateLimit {
		wait, _ := WaitFromMessage(msg)
		ReportRateLimited(log, source, origin, wait)
	}
	if denied {
		ReportAccessDenied(log, source, origin)
	}
}
