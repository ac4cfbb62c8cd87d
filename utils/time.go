package utils

import (
	"fmt"
	"time"
)

// fallbackOffset 默认时区（UTC+7）在 tzdata 缺失时的固定偏移
const fallbackOffset = 7 * 60 * 60

// LoadLocation 加载业务时区，容器内缺少 tzdata 时退化为固定偏移
func LoadLocation(name string) *time.Location {
	if name == "" {
		name = "Asia/Ho_Chi_Minh"
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone(name, fallbackOffset)
	}
	return loc
}

// ParseClock 解析 HH:MM:SS 或 HH:MM 格式的时间
func ParseClock(timeStr string) (hour, minute, second int, err error) {
	for _, layout := range []string{"15:04:05", "15:04"} {
		parsed, perr := time.Parse(layout, timeStr)
		if perr == nil {
			return parsed.Hour(), parsed.Minute(), parsed.Second(), nil
		}
	}
	return 0, 0, 0, fmt.Errorf("invalid time of day %q", timeStr)
}

// ParseTime 解析时间字符串（格式：HH:MM:SS）并应用到指定日期
func ParseTime(timeStr string, date time.Time) (time.Time, error) {
	if timeStr == "" {
		return date, nil
	}

	hour, minute, second, err := ParseClock(timeStr)
	if err != nil {
		return date, err
	}

	return time.Date(date.Year(), date.Month(), date.Day(), hour, minute, second, 0, date.Location()), nil
}

// StartOfDay 返回 t 在 loc 时区下当天的零点
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// DateIn 把 date 列（只关心年月日）解释为 loc 时区的零点
func DateIn(date time.Time, loc *time.Location) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// AddDays 按日历天数偏移，跨夏令时也保持零点
func AddDays(date time.Time, days int) time.Time {
	return date.AddDate(0, 0, days)
}
