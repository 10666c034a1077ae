package utils

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// BucketLayout is the text layout of aggregated row boundaries.
const BucketLayout = "2006-01-02 15:04:05"

var recordLayouts = []string{
	BucketLayout,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000000",
	"2006-01-02 15:04:05.000000",
}

// ParseRFC3339 returns a time from the provided string or an error.
func ParseRFC3339(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time: %w", err)
	}
	return t, nil
}

// ParseRecordTime reads a telemetry time value. Numbers and numeric strings are epoch
// seconds; text is tried against the layouts seen in telemetry and aggregated rows.
func ParseRecordTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		return t.UTC(), true
	case float64:
		return epoch(t), true
	case float32:
		return epoch(float64(t)), true
	case int:
		return time.Unix(int64(t), 0).UTC(), true
	case int64:
		return time.Unix(t, 0).UTC(), true
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, false
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return epoch(f), true
		}
		for _, layout := range recordLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

// FormatBucketTime renders t in the aggregated row layout.
func FormatBucketTime(t time.Time) string {
	return t.UTC().Format(BucketLayout)
}

// CurrentMinute returns the number of whole minutes since the Unix epoch.
func CurrentMinute(now time.Time) int64 {
	return now.UTC().Unix() / 60
}

func epoch(seconds float64) time.Time {
	whole, frac := math.Modf(seconds)
	return time.Unix(int64(whole), int64(frac*1e9)).UTC()
}
