package rpcclient

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// parseRetryAfter extracts a duration from a Retry-After response header.
// Supports seconds format ("30") and HTTP-date format. Returns 0 if the
// header is missing, unparseable, or in the past. Bitcoin Core itself never
// sends this header, but a reverse proxy fronting it under load might.
func parseRetryAfter(header http.Header) time.Duration {
	val := header.Get("Retry-After")
	if val == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(val); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}

	if t, err := http.ParseTime(val); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}

	slog.Debug("unparseable Retry-After header", "value", val)
	return 0
}
