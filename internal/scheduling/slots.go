package scheduling

import "time"

// MemberCalendar — входные данные одной стороны для расчёта взаимной доступности.
type MemberCalendar struct {
	Busy        []Interval
	NoticeFloor time.Time // Раньше этого момента слоты не предлагаются (now + min notice)

	WorkStartH, WorkStartM int
	WorkEndH, WorkEndM     int
	Tz                     *time.Location
	Weekdays               map[time.Weekday]bool
}

// FreeSet возвращает свободные интервалы стороны внутри window:
// рабочие окна минус её busy-интервалы, обрезанные по notice-floor.
func FreeSet(window Interval, m MemberCalendar) []Interval {
	free := Subtract(WorkingWindows(window, m.WorkStartH, m.WorkStartM, m.WorkEndH, m.WorkEndM, m.Tz, m.Weekdays), m.Busy)

	if m.NoticeFloor.IsZero() {
		return free
	}
	clipped := free[:0]
	for _, iv := range free {
		if iv.Start.Before(m.NoticeFloor) {
			iv.Start = m.NoticeFloor
		}
		if !iv.Empty() {
			clipped = append(clipped, iv)
		}
	}
	return clipped
}

// SliceSlots нарезает интервалы на непрерывные слоты длиной dur, выровненные
// по началу каждого интервала (back-to-back, без перекрытий). Вход
// нормализуется, поэтому результат отсортирован earliest-first.
func SliceSlots(ivs []Interval, dur time.Duration) []Interval {
	if dur <= 0 {
		return nil
	}
	out := make([]Interval, 0)
	for _, iv := range Normalize(ivs) {
		for s := iv.Start; !s.Add(dur).After(iv.End); s = s.Add(dur) {
			out = append(out, Interval{Start: s, End: s.Add(dur)})
		}
	}
	return out
}

// MutualSlots считает взаимно свободные слоты двух сторон внутри window:
// пересечение их свободных наборов, нарезанное на слоты длиной dur.
func MutualSlots(window Interval, dur time.Duration, a, b MemberCalendar) []Interval {
	return SliceSlots(Intersect(FreeSet(window, a), FreeSet(window, b)), dur)
}
