package recurrence

import (
	"fmt"
	"time"
)

// Occurrence 一次待物化的具体时间窗（已折算为 UTC）。
type Occurrence struct {
	StartAt time.Time
	EndAt   time.Time
}

// Occurrences 纯函数：枚举规则在 [windowStart, windowEnd) 内的全部 occurrence。
// 逐天在规则时区里走日历，命中模式的日期套上每日起止时刻再折算 UTC；
// 以 occurrence 的 StartAt 落在窗口内为准。无副作用，可重复调用。
func Occurrences(rule *RecurrenceRule, windowStart, windowEnd time.Time) ([]Occurrence, error) {
	if rule == nil {
		return nil, fmt.Errorf("rule is nil")
	}
	if !windowEnd.After(windowStart) {
		return nil, nil
	}
	if rule.DayEndMinutes <= rule.DayStartMinutes {
		return nil, fmt.Errorf("rule %s: day_end must be after day_start", rule.ID)
	}
	interval := rule.IntervalN
	if interval < 1 {
		interval = 1
	}

	loc := rule.Location()
	anchor := civilDate(rule.WindowStart.In(loc))

	weekdaySet := map[time.Weekday]bool{}
	if rule.Pattern == PatternWeekly {
		days := rule.WeekdaysSlice()
		if len(days) == 0 {
			return nil, fmt.Errorf("rule %s: weekly pattern requires weekdays", rule.ID)
		}
		for _, d := range days {
			weekdaySet[d] = true
		}
	}

	// 从窗口下界前一天起步，避免时区折算导致的边界漏判
	day := civilDate(windowStart.In(loc)).AddDate(0, 0, -1)
	lastDay := civilDate(windowEnd.In(loc)).AddDate(0, 0, 1)

	var out []Occurrence
	for !day.After(lastDay) {
		if matchesPattern(rule.Pattern, interval, anchor, day, weekdaySet) && !day.Before(anchor) {
			// 起止按墙钟时分构造，夏令时切换日的本地时刻不漂移
			start := time.Date(day.Year(), day.Month(), day.Day(), 0, rule.DayStartMinutes, 0, 0, loc).UTC()
			end := time.Date(day.Year(), day.Month(), day.Day(), 0, rule.DayEndMinutes, 0, 0, loc).UTC()
			if !start.Before(windowStart) && start.Before(windowEnd) {
				out = append(out, Occurrence{StartAt: start, EndAt: end})
			}
		}
		day = day.AddDate(0, 0, 1)
	}
	return out, nil
}

// matchesPattern 判断 day（规则时区的零点时刻）是否命中模式。
func matchesPattern(p Pattern, interval int, anchor, day time.Time, weekdays map[time.Weekday]bool) bool {
	switch p {
	case PatternDaily:
		return daysBetween(anchor, day)%interval == 0
	case PatternWeekly:
		if !weekdays[day.Weekday()] {
			return false
		}
		// 以 anchor 所在周的周一为零点按周计数，interval=2 即隔周生效
		return weeksBetween(weekStart(anchor), weekStart(day))%interval == 0
	case PatternMonthly:
		// 锚点日在短月不存在时该月跳过（如 31 号）
		if day.Day() != anchor.Day() {
			return false
		}
		months := (day.Year()-anchor.Year())*12 + int(day.Month()) - int(anchor.Month())
		return months >= 0 && months%interval == 0
	default:
		return false
	}
}

// civilDate 保留年月日、归零时分秒（保持原时区）。
func civilDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// weekStart 所在周的周一零点。
func weekStart(day time.Time) time.Time {
	wd := int(day.Weekday())
	// time.Sunday == 0，折算成周一起始
	offset := (wd + 6) % 7
	return day.AddDate(0, 0, -offset)
}

func daysBetween(a, b time.Time) int {
	if b.Before(a) {
		return -daysBetween(b, a)
	}
	// 按日历日数数，绕开夏令时导致的非 24h 天
	n := 0
	for cur := a; cur.Before(b); cur = cur.AddDate(0, 0, 1) {
		n++
	}
	return n
}

func weeksBetween(a, b time.Time) int {
	return daysBetween(a, b) / 7
}
