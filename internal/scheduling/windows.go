package scheduling

import (
	"fmt"
	"time"
)

// ParseHHMM разбирает время вида "09:00" в часы и минуты.
func ParseHHMM(s string) (int, int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, 0, fmt.Errorf("bad time of day %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("time of day %q out of range", s)
	}
	return h, m, nil
}

// WorkingWindows разворачивает недельное рабочее окно (startH:startM..endH:endM
// по дням weekdays в таймзоне tz) в конкретные интервалы внутри window.
// Окно с endH:endM <= startH:startM даёт пустой результат.
func WorkingWindows(window Interval, startH, startM, endH, endM int, tz *time.Location, weekdays map[time.Weekday]bool) []Interval {
	if window.Empty() {
		return nil
	}

	out := make([]Interval, 0, 8)
	day := window.Start.In(tz)
	day = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, tz)

	for day.Before(window.End) {
		if weekdays[day.Weekday()] {
			iv := Interval{
				Start: time.Date(day.Year(), day.Month(), day.Day(), startH, startM, 0, 0, tz),
				End:   time.Date(day.Year(), day.Month(), day.Day(), endH, endM, 0, 0, tz),
			}
			if iv = iv.Clip(window); !iv.Empty() {
				out = append(out, iv)
			}
		}
		day = day.AddDate(0, 0, 1)
	}
	return out
}
