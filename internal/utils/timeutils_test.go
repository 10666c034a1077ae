package utils

import (
	"testing"
	"time"
)

func TestParseRecordTimeFormats(t *testing.T) {
	want := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	cases := []any{
		float64(want.Unix()),
		want.Unix(),
		int(want.Unix()),
		"1709296200",
		"2024-03-01 12:30:00",
		"2024-03-01T12:30:00Z",
		"2024-03-01T12:30:00",
	}
	for _, c := range cases {
		got, ok := ParseRecordTime(c)
		if !ok {
			t.Fatalf("expected %v (%T) to parse", c, c)
		}
		if !got.Equal(want) {
			t.Fatalf("parse %v: expected %s, got %s", c, want, got)
		}
	}
}

func TestParseRecordTimeRejectsGarbage(t *testing.T) {
	for _, c := range []any{nil, "", "yesterday", []int{1}} {
		if _, ok := ParseRecordTime(c); ok {
			t.Fatalf("expected %v to be rejected", c)
		}
	}
}

func TestCurrentMinute(t *testing.T) {
	now := time.Unix(1440*60+59, 0)
	if got := CurrentMinute(now); got != 1440 {
		t.Fatalf("expected minute 1440, got %d", got)
	}
}

func TestRecoveredWrapsPanicValue(t *testing.T) {
	if Recovered("train", nil) != nil {
		t.Fatalf("expected nil for nil panic value")
	}
	err := Recovered("train", "boom")
	if err == nil || OpOf(err) != "train" {
		t.Fatalf("unexpected error: %v", err)
	}
}
