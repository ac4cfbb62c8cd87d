package utils

import (
	"testing"
	"time"
)

func TestParseTime(t *testing.T) {
	loc := time.FixedZone("ICT", 7*60*60)
	date := time.Date(2024, 1, 11, 0, 0, 0, 0, loc)

	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{"09:00:00", time.Date(2024, 1, 11, 9, 0, 0, 0, loc), false},
		{"21:30", time.Date(2024, 1, 11, 21, 30, 0, 0, loc), false},
		{"", date, false},
		{"25:00:00", date, true},
		{"nine", date, true},
	}

	for _, tt := range tests {
		got, err := ParseTime(tt.in, date)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseTime(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil || !got.Equal(tt.want) {
			t.Errorf("ParseTime(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
}

func TestStartOfDayAndDateIn(t *testing.T) {
	loc := time.FixedZone("ICT", 7*60*60)

	// 2024-01-10 20:00 UTC 在 UTC+7 已经是 1 月 11 日
	now := time.Date(2024, 1, 10, 20, 0, 0, 0, time.UTC)
	if got := StartOfDay(now, loc); !got.Equal(time.Date(2024, 1, 11, 0, 0, 0, 0, loc)) {
		t.Fatalf("StartOfDay = %v", got)
	}

	// date 列按年月日解释，不做时区换算
	stored := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	if got := DateIn(stored, loc); !got.Equal(time.Date(2024, 1, 10, 0, 0, 0, 0, loc)) {
		t.Fatalf("DateIn = %v", got)
	}
}

func TestLoadLocationFallback(t *testing.T) {
	loc := LoadLocation("Not/AZone")
	_, offset := time.Date(2024, 1, 1, 0, 0, 0, 0, loc).Zone()
	if offset != fallbackOffset {
		t.Fatalf("fallback offset = %d", offset)
	}
}
