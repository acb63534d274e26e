package scheduling

import (
	"sort"
	"time"
)

// Interval — полуоткрытый промежуток [Start, End). Пустой, если End <= Start.
type Interval struct {
	Start time.Time
	End   time.Time
}

func (iv Interval) Empty() bool {
	return !iv.Start.Before(iv.End)
}

// Overlaps проверяет пересечение с другим интервалом (границы не считаются).
func (iv Interval) Overlaps(o Interval) bool {
	return iv.Start.Before(o.End) && o.Start.Before(iv.End)
}

// Clip обрезает интервал по границам bound.
func (iv Interval) Clip(bound Interval) Interval {
	if iv.Start.Before(bound.Start) {
		iv.Start = bound.Start
	}
	if iv.End.After(bound.End) {
		iv.End = bound.End
	}
	return iv
}

// Normalize отбрасывает пустые интервалы, сортирует по началу и склеивает
// пересекающиеся или смежные. Вход не модифицируется.
func Normalize(ivs []Interval) []Interval {
	clean := make([]Interval, 0, len(ivs))
	for _, iv := range ivs {
		if !iv.Empty() {
			clean = append(clean, iv)
		}
	}
	sort.Slice(clean, func(i, j int) bool { return clean[i].Start.Before(clean[j].Start) })

	merged := make([]Interval, 0, len(clean))
	for _, iv := range clean {
		if n := len(merged); n > 0 && !iv.Start.After(merged[n-1].End) {
			if iv.End.After(merged[n-1].End) {
				merged[n-1].End = iv.End
			}
			continue
		}
		merged = append(merged, iv)
	}
	return merged
}

// Subtract вычитает набор busy из набора free. Оба набора предварительно
// нормализуются; результат отсортирован и не содержит пересечений.
func Subtract(free, busy []Interval) []Interval {
	free = Normalize(free)
	busy = Normalize(busy)

	out := make([]Interval, 0, len(free))
	for _, f := range free {
		cur := f
		for _, b := range busy {
			if !b.End.After(cur.Start) {
				continue // busy целиком слева
			}
			if !b.Start.Before(cur.End) {
				break // busy целиком справа, дальше только правее
			}
			if b.Start.After(cur.Start) {
				out = append(out, Interval{Start: cur.Start, End: b.Start})
			}
			if b.End.Before(cur.End) {
				cur.Start = b.End // остался хвост справа
			} else {
				cur = Interval{} // съедено целиком
				break
			}
		}
		if !cur.Empty() {
			out = append(out, cur)
		}
	}
	return out
}

// Intersect возвращает пересечение двух наборов интервалов (sweep по двум
// отсортированным спискам).
func Intersect(a, b []Interval) []Interval {
	a = Normalize(a)
	b = Normalize(b)

	out := make([]Interval, 0)
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		s := a[i].Start
		if b[j].Start.After(s) {
			s = b[j].Start
		}
		e := a[i].End
		if b[j].End.Before(e) {
			e = b[j].End
		}
		if s.Before(e) {
			out = append(out, Interval{Start: s, End: e})
		}
		if a[i].End.Before(b[j].End) {
			i++
		} else {
			j++
		}
	}
	return out
}
