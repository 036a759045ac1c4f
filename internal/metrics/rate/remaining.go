package rate

import (
	"net/http"
	"strconv"
	"strings"

	"sentiflow/logger"
)

// ReportRemaining parses quota headers and emits a `quota_remaining` gauge for
// the given source. Twitter uses x-rate-limit-*, Binance X-MBX-USED-WEIGHT-1m.
// It returns false when no known header is present.
func ReportRemaining(log *logger.Log, source string, header http.Header) bool {
	if log == nil || header == nil {
		return false
	}
	component := strings.ToLower(source) + "_reader"
	l := log.WithComponent(component)

	if v := header.Get("x-rate-limit-remaining"); v != "" {
		remaining, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return false
		}
		fields := logger.Fields{"source": strings.ToLower(source)}
		if limit := header.Get("x-rate-limit-limit"); limit != "" {
			fields["limit"] = limit
		}
		l.LogMetric(component, "quota_remaining", remaining, "gauge", fields)
		return true
	}

	if v := header.Get("X-MBX-USED-WEIGHT-1m"); v != "" {
		used, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return false
		}
		l.LogMetric(component, "used_weight", used, "gauge", logger.Fields{"source": strings.ToLower(source)})
		return true
	}
	return false
}
