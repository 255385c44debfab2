package helper

import (
	"fmt"
	"time"
)

// GetTimestamp returns the current Unix timestamp in seconds.
func GetTimestamp() int64 {
	return time.Now().Unix()
}

func GetTimeString() string {
	now := time.Now()
	return fmt.Sprintf("%s%d", now.Format("20060102150405"), now.UnixNano()%1e9)
}

// ElapsedMs converts a duration to milliseconds, rounding sub-millisecond
// calls up to 1 so dashboards never show a zero latency for real work.
func ElapsedMs(elapsed time.Duration) int64 {
	ms := elapsed.Milliseconds()
	if ms == 0 && elapsed > 0 {
		return 1
	}
	return ms
}
